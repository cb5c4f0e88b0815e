// Package group implements the consumer-group engine: membership,
// deterministic partition assignment, and rebalance triggers (spec §4.4).
package group

import (
	"fmt"
	"sort"
	"sync"

	"github.com/adred-codev/streambroker/internal/ierror"
)

// Group tracks one consumer group's membership and partition assignment
// for a single topic.
type Group struct {
	ID             int
	Name           string
	partitionCount int

	mu          sync.Mutex
	members     map[int]struct{} // client ids
	assignment  map[int]int      // partition id -> client id
	rebalancing bool
}

// New constructs an empty group over a topic with partitionCount partitions.
func New(id int, name string, partitionCount int) *Group {
	return &Group{
		ID:             id,
		Name:           name,
		partitionCount: partitionCount,
		members:        make(map[int]struct{}),
		assignment:     make(map[int]int),
	}
}

// Join adds clientID to the group and triggers reassignment (spec §4.4
// "Assignment algorithm"). Joining an empty group resumes from whatever
// offsets were already stored on the partitions (spec §4.4 "Leave
// semantics") — offsets live on the partition, not the group, so nothing
// to restore here.
func (g *Group) Join(clientID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.members[clientID] = struct{}{}
	g.reassignLocked()
}

// Leave removes clientID from the group (explicit leave or disconnect) and
// triggers reassignment. Removing the last member preserves the group
// (and its stored partition offsets) rather than deleting it.
func (g *Group) Leave(clientID int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.members, clientID)
	g.reassignLocked()
}

// SetPartitionCount updates the topic's partition count (e.g. after
// AddPartitions/DeletePartitions) and triggers reassignment.
func (g *Group) SetPartitionCount(n int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.partitionCount = n
	g.reassignLocked()
}

// reassignLocked implements the deterministic round-robin assignment: sort
// members ascending by client id, sort partitions ascending by id, deal
// partitions round-robin. The rebalancing flag is set and cleared while
// g.mu is held, so CheckAssignment, which takes the same lock, reports
// GroupRebalancing through an assignment mismatch rather than the flag.
func (g *Group) reassignLocked() {
	g.rebalancing = true
	defer func() { g.rebalancing = false }()

	newAssignment := make(map[int]int, g.partitionCount)
	if len(g.members) == 0 {
		g.assignment = newAssignment
		return
	}

	members := make([]int, 0, len(g.members))
	for id := range g.members {
		members = append(members, id)
	}
	sort.Ints(members)

	for partitionID := 1; partitionID <= g.partitionCount; partitionID++ {
		member := members[(partitionID-1)%len(members)]
		newAssignment[partitionID] = member
	}
	g.assignment = newAssignment
}

// Assignment returns a snapshot of the current partition->client map.
func (g *Group) Assignment() map[int]int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make(map[int]int, len(g.assignment))
	for k, v := range g.assignment {
		out[k] = v
	}
	return out
}

// Members returns a snapshot of the current member set.
func (g *Group) Members() []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]int, 0, len(g.members))
	for id := range g.members {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// AssignedPartitions returns the partitions currently assigned to clientID.
func (g *Group) AssignedPartitions(clientID int) []int {
	g.mu.Lock()
	defer g.mu.Unlock()
	var out []int
	for partitionID, member := range g.assignment {
		if member == clientID {
			out = append(out, partitionID)
		}
	}
	sort.Ints(out)
	return out
}

// CheckAssignment verifies clientID is still assigned partitionID, the
// check every poll-via-group must pass before proceeding (spec §4.4
// "during rebalance ... in-flight polls see GroupRebalancing").
func (g *Group) CheckAssignment(clientID, partitionID int) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.rebalancing {
		return ierror.New(ierror.GroupRebalancing, "group is reassigning partitions, retry")
	}
	if g.assignment[partitionID] != clientID {
		return ierror.New(ierror.GroupRebalancing, fmt.Sprintf("client %d is no longer assigned partition %d", clientID, partitionID))
	}
	return nil
}

// Directory owns every consumer group defined on a topic, keyed by id and
// name.
type Directory struct {
	mu     sync.RWMutex
	groups map[int]*Group
	byName map[string]int
	nextID int
}

// NewDirectory constructs an empty group directory.
func NewDirectory() *Directory {
	return &Directory{
		groups: make(map[int]*Group),
		byName: make(map[string]int),
		nextID: 1,
	}
}

// Create registers a new group over a topic with partitionCount
// partitions. Per spec §9 "Open question", group id is optional on
// create; callers pass 0 to auto-assign the next id.
func (d *Directory) Create(id int, name string, partitionCount int) (*Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.byName[name]; exists {
		return nil, ierror.New(ierror.ResourceAlreadyExists, fmt.Sprintf("consumer group %q already exists", name))
	}
	if id == 0 {
		id = d.nextID
	}
	if id >= d.nextID {
		d.nextID = id + 1
	}
	g := New(id, name, partitionCount)
	d.groups[id] = g
	d.byName[name] = id
	return g, nil
}

// Get returns the group with the given id.
func (d *Directory) Get(id int) (*Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	g, ok := d.groups[id]
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("consumer group %d not found", id))
	}
	return g, nil
}

// GetByName resolves a group by its unique-within-topic name.
func (d *Directory) GetByName(name string) (*Group, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.byName[name]
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("consumer group %q not found", name))
	}
	return d.groups[id], nil
}

// Delete removes the group's membership and assignment record. Offsets
// stored under the group's key on the topic's partitions are not removed.
func (d *Directory) Delete(id int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	g, ok := d.groups[id]
	if !ok {
		return ierror.New(ierror.ResourceNotFound, fmt.Sprintf("consumer group %d not found", id))
	}
	delete(d.groups, id)
	delete(d.byName, g.Name)
	return nil
}

// All returns every group in the directory.
func (d *Directory) All() []*Group {
	d.mu.RLock()
	defer d.mu.RUnlock()
	out := make([]*Group, 0, len(d.groups))
	for _, g := range d.groups {
		out = append(out, g)
	}
	return out
}

// LeaveAll removes clientID from every group in the directory, used when a
// client disconnects (spec §5 "Cancellation": "detaching a client removes
// it from every group it joined").
func (d *Directory) LeaveAll(clientID int) {
	d.mu.RLock()
	groups := make([]*Group, 0, len(d.groups))
	for _, g := range d.groups {
		groups = append(groups, g)
	}
	d.mu.RUnlock()
	for _, g := range groups {
		g.Leave(clientID)
	}
}

// SetPartitionCountAll propagates a topic partition-count change to every
// group defined on it.
func (d *Directory) SetPartitionCountAll(n int) {
	d.mu.RLock()
	groups := make([]*Group, 0, len(d.groups))
	for _, g := range d.groups {
		groups = append(groups, g)
	}
	d.mu.RUnlock()
	for _, g := range groups {
		g.SetPartitionCount(n)
	}
}
