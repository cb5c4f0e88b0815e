// Package session implements the client-session registry: connected
// clients, their authentication state, joined consumer groups, and
// heartbeat-based staleness detection (spec §3 "Session", §5
// "Heartbeats").
//
// Grounded on original_source's systems/clients.rs (add/delete/get client,
// cascading consumer-group leave on disconnect) and client_manager.rs's
// Client record shape.
package session

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/streambroker/internal/ierror"
)

// AuthState tracks a session's authentication lifecycle.
type AuthState int

const (
	Anonymous AuthState = iota
	Authenticated
)

// GroupMembership records one consumer group a client has joined, so
// disconnect can drive LeaveAll across every topic's group directory.
type GroupMembership struct {
	StreamID int
	TopicID  int
	GroupID  int
}

// Client is one connected session (spec §3 "Session").
type Client struct {
	ID              int
	Address         string
	Transport       string
	AuthState       AuthState
	UserID          int
	AuthenticatedAt time.Time
	LastSeen        atomic.Int64 // unix nanos

	mu     sync.Mutex
	groups []GroupMembership
}

// Touch updates the client's last-seen time, called on every received
// frame and on explicit Heartbeat frames (spec §5 "Heartbeats").
func (c *Client) Touch() {
	c.LastSeen.Store(time.Now().UnixNano())
}

// JoinGroup records that the client has joined a consumer group.
func (c *Client) JoinGroup(m GroupMembership) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.groups = append(c.groups, m)
}

// LeaveGroup removes one recorded membership.
func (c *Client) LeaveGroup(m GroupMembership) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i, g := range c.groups {
		if g == m {
			c.groups = append(c.groups[:i], c.groups[i+1:]...)
			return
		}
	}
}

// Groups returns a snapshot of every group this client has joined.
func (c *Client) Groups() []GroupMembership {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]GroupMembership, len(c.groups))
	copy(out, c.groups)
	return out
}

// Manager is the global client table (spec §5 "Client manager: a guard
// protects the global client table").
type Manager struct {
	mu      sync.RWMutex
	clients map[int]*Client
	byAddr  map[string]int
	nextID  atomic.Int64
}

// NewManager returns an empty client manager.
func NewManager() *Manager {
	m := &Manager{clients: make(map[int]*Client), byAddr: make(map[string]int)}
	return m
}

// AddClient registers a newly accepted connection and returns its id.
func (m *Manager) AddClient(address, transport string) *Client {
	id := int(m.nextID.Add(1))
	c := &Client{ID: id, Address: address, Transport: transport}
	c.Touch()

	m.mu.Lock()
	m.clients[id] = c
	m.byAddr[address] = id
	m.mu.Unlock()
	return c
}

// DeleteClient removes a client by address, returning it so the caller can
// drive its consumer-group leave cascade (spec §5 "detaching a client
// removes it from every group it joined").
func (m *Manager) DeleteClient(address string) (*Client, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.byAddr[address]
	if !ok {
		return nil, false
	}
	c := m.clients[id]
	delete(m.clients, id)
	delete(m.byAddr, address)
	return c, true
}

// GetClient returns the client with the given id.
func (m *Manager) GetClient(id int) (*Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.clients[id]
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, fmt.Sprintf("client %d not found", id))
	}
	return c, nil
}

// Clients returns every currently connected client.
func (m *Manager) Clients() []*Client {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Client, 0, len(m.clients))
	for _, c := range m.clients {
		out = append(out, c)
	}
	return out
}

// Count returns the number of currently connected clients.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.clients)
}

// SweepStale returns every client whose last-seen time exceeds timeout, for
// the periodic heartbeat sweep to disconnect (spec §5 "Heartbeats").
func (m *Manager) SweepStale(timeout time.Duration) []*Client {
	cutoff := time.Now().Add(-timeout).UnixNano()
	m.mu.RLock()
	defer m.mu.RUnlock()
	var stale []*Client
	for _, c := range m.clients {
		if c.LastSeen.Load() < cutoff {
			stale = append(stale, c)
		}
	}
	return stale
}
