package dispatch

import (
	"github.com/adred-codev/streambroker/internal/group"
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/users"
)

func encodeGroup(g *group.Group) []byte {
	w := &writer{}
	w.u32(uint32(g.ID))
	w.stringU8(g.Name)
	members := g.Members()
	w.u32(uint32(len(members)))
	for _, m := range members {
		w.u32(uint32(m))
	}
	assignment := g.Assignment()
	w.u32(uint32(len(assignment)))
	for partitionID, clientID := range assignment {
		w.u32(uint32(partitionID))
		w.u32(uint32(clientID))
	}
	return w.bytes()
}

// createConsumerGroup registers a new group over topic, with an optional
// caller-chosen id (spec §9 "group id optional on create").
func (d *Dispatcher) createConsumerGroup(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	t, topicID, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageTopics, st.ID(), topicID); err != nil {
		return nil, err
	}
	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	name, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	dir := d.sys.GroupDirectory(st.ID(), topicID)
	g, err := dir.Create(int(id), name, t.PartitionCount())
	if err != nil {
		return nil, err
	}
	return encodeGroup(g), nil
}

func (d *Dispatcher) resolveGroup(client *session.Client, r *reader) (streamID, topicID int, g *group.Group, err error) {
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return 0, 0, nil, err
	}
	_, topicID, err = resolveTopic(st, r)
	if err != nil {
		return 0, 0, nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionReadTopics, st.ID(), topicID); err != nil {
		return 0, 0, nil, err
	}
	id, err := r.u32()
	if err != nil {
		return 0, 0, nil, err
	}
	dir := d.sys.GroupDirectory(st.ID(), topicID)
	g, err = dir.Get(int(id))
	if err != nil {
		return 0, 0, nil, err
	}
	return st.ID(), topicID, g, nil
}

func (d *Dispatcher) getConsumerGroup(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	_, _, g, err := d.resolveGroup(client, r)
	if err != nil {
		return nil, err
	}
	return encodeGroup(g), nil
}

func (d *Dispatcher) getConsumerGroups(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	_, topicID, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionReadTopics, st.ID(), topicID); err != nil {
		return nil, err
	}
	groups := d.sys.GroupDirectory(st.ID(), topicID).All()
	w := &writer{}
	w.u32(uint32(len(groups)))
	for _, g := range groups {
		w.buf = append(w.buf, encodeGroup(g)...)
	}
	return w.bytes(), nil
}

func (d *Dispatcher) deleteConsumerGroup(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	_, topicID, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageTopics, st.ID(), topicID); err != nil {
		return nil, err
	}
	id, err := r.u32()
	if err != nil {
		return nil, err
	}
	return nil, d.sys.GroupDirectory(st.ID(), topicID).Delete(int(id))
}

// joinConsumerGroup adds the calling client to the group and triggers
// reassignment (spec §4.4). The client's own membership is recorded so a
// later disconnect can drive LeaveAll.
func (d *Dispatcher) joinConsumerGroup(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	streamID, topicID, g, err := d.resolveGroup(client, r)
	if err != nil {
		return nil, err
	}
	g.Join(client.ID)
	client.JoinGroup(session.GroupMembership{StreamID: streamID, TopicID: topicID, GroupID: g.ID})
	return nil, nil
}

func (d *Dispatcher) leaveConsumerGroup(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	streamID, topicID, g, err := d.resolveGroup(client, r)
	if err != nil {
		return nil, err
	}
	g.Leave(client.ID)
	client.LeaveGroup(session.GroupMembership{StreamID: streamID, TopicID: topicID, GroupID: g.ID})
	return nil, nil
}
