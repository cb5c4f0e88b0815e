package dispatch

import (
	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/users"
)

// decodeCursorTarget reads the (is_group, id, partition_id) triple shared
// by StoreConsumerOffset/GetConsumerOffset, distinguishing a standalone
// consumer's cursor from a group's shared one (spec §3 "Partition").
func decodeCursorTarget(r *reader) (key string, partitionID int, err error) {
	kindTag, err := r.u8()
	if err != nil {
		return "", 0, err
	}
	id, err := r.u32()
	if err != nil {
		return "", 0, err
	}
	pid, err := r.u32()
	if err != nil {
		return "", 0, err
	}
	if kindTag == 1 {
		return groupKey(int(id)), int(pid), nil
	}
	return consumerKey(int(id)), int(pid), nil
}

func (d *Dispatcher) storeConsumerOffset(client *session.Client, payload []byte) ([]byte, error) {
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
	if err := requirePermission(d.sys, client, users.ActionPollMessages, st.ID(), topicID); err != nil {
		return nil, err
	}
	key, partitionID, err := decodeCursorTarget(r)
	if err != nil {
		return nil, err
	}
	offset, err := r.u64()
	if err != nil {
		return nil, err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return nil, err
	}
	p.StoreConsumerOffset(key, offset)
	return nil, nil
}

func (d *Dispatcher) getConsumerOffset(client *session.Client, payload []byte) ([]byte, error) {
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
	if err := requirePermission(d.sys, client, users.ActionPollMessages, st.ID(), topicID); err != nil {
		return nil, err
	}
	key, partitionID, err := decodeCursorTarget(r)
	if err != nil {
		return nil, err
	}
	p, err := t.Partition(partitionID)
	if err != nil {
		return nil, err
	}
	offset, ok := p.GetConsumerOffset(key)
	if !ok {
		return nil, ierror.New(ierror.ResourceNotFound, "no offset stored for this consumer/partition")
	}
	w := &writer{}
	w.u32(uint32(partitionID))
	w.u64(offset)
	return w.bytes(), nil
}
