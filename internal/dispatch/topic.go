package dispatch

import (
	"fmt"
	"time"

	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/session"
	"github.com/adred-codev/streambroker/internal/storage/compression"
	"github.com/adred-codev/streambroker/internal/storage/topic"
	"github.com/adred-codev/streambroker/internal/users"
)

func encodeTopic(id int, t *topic.Topic) []byte {
	w := &writer{}
	w.u32(uint32(id))
	w.u32(uint32(t.PartitionCount()))
	return w.bytes()
}

// decodeTopicConfig reads the fields a CreateTopic/UpdateTopic payload
// carries after the name: partition count, message expiry seconds (0 = no
// expiry), max size in bytes (0 = unbounded), compression code, and dedup
// knobs (spec §3 "Topic").
func decodeTopicConfig(r *reader) (topic.Config, error) {
	partitionCount, err := r.u32()
	if err != nil {
		return topic.Config{}, err
	}
	expirySeconds, err := r.u64()
	if err != nil {
		return topic.Config{}, err
	}
	maxSize, err := r.u64()
	if err != nil {
		return topic.Config{}, err
	}
	compressionCode, err := r.u8()
	if err != nil {
		return topic.Config{}, err
	}
	dedupEnabled, err := r.u8()
	if err != nil {
		return topic.Config{}, err
	}
	dedupMaxEntries, err := r.u32()
	if err != nil {
		return topic.Config{}, err
	}
	dedupTTLSeconds, err := r.u64()
	if err != nil {
		return topic.Config{}, err
	}

	cfg := topic.Config{
		PartitionCount:    int(partitionCount),
		MessageExpiry:     time.Duration(expirySeconds) * time.Second,
		MaxTopicSizeBytes: int64(maxSize),
		CompressionCode:   compressionCode,
		DedupEnabled:      dedupEnabled != 0,
		DedupMaxEntries:   int(dedupMaxEntries),
		DedupTTL:          time.Duration(dedupTTLSeconds) * time.Second,
	}
	if cfg.PartitionCount == 0 {
		cfg.PartitionCount = 1
	}
	if compression.Algorithm(cfg.CompressionCode).String() == "unknown" {
		return topic.Config{}, ierror.New(ierror.InvalidCommand, "unknown compression code")
	}
	return cfg, nil
}

func (d *Dispatcher) createTopic(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageTopics, st.ID(), 0); err != nil {
		return nil, err
	}
	name, err := r.stringU8()
	if err != nil {
		return nil, err
	}
	cfg, err := decodeTopicConfig(r)
	if err != nil {
		return nil, err
	}
	t, id, err := d.sys.CreateTopic(st.ID(), name, cfg)
	if err != nil {
		return nil, err
	}
	return encodeTopic(id, t), nil
}

func (d *Dispatcher) getTopic(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	t, id, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionReadTopics, st.ID(), id); err != nil {
		return nil, err
	}
	return encodeTopic(id, t), nil
}

func (d *Dispatcher) getTopics(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionReadTopics, st.ID(), 0); err != nil {
		return nil, err
	}
	topics := st.Topics()
	w := &writer{}
	w.u32(uint32(len(topics)))
	for id, t := range topics {
		w.buf = append(w.buf, encodeTopic(id, t)...)
	}
	return w.bytes(), nil
}

func (d *Dispatcher) deleteTopic(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	_, id, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageTopics, st.ID(), id); err != nil {
		return nil, err
	}
	return nil, st.DeleteTopic(id)
}

func (d *Dispatcher) purgeTopic(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	t, id, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageTopics, st.ID(), id); err != nil {
		return nil, err
	}
	n := t.PartitionCount()
	if err := t.DeletePartitions(n); err != nil {
		return nil, err
	}
	return nil, t.AddPartitions(n)
}

func (d *Dispatcher) createPartitions(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	t, id, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageTopics, st.ID(), id); err != nil {
		return nil, err
	}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	if err := t.AddPartitions(int(count)); err != nil {
		return nil, err
	}
	d.sys.GroupDirectory(st.ID(), id).SetPartitionCountAll(t.PartitionCount())
	return nil, nil
}

func (d *Dispatcher) deletePartitions(client *session.Client, payload []byte) ([]byte, error) {
	if err := requireAuth(client); err != nil {
		return nil, err
	}
	r := newReader(payload)
	st, err := resolveStream(d.sys, r)
	if err != nil {
		return nil, err
	}
	t, id, err := resolveTopic(st, r)
	if err != nil {
		return nil, err
	}
	if err := requirePermission(d.sys, client, users.ActionManageTopics, st.ID(), id); err != nil {
		return nil, err
	}
	count, err := r.u32()
	if err != nil {
		return nil, err
	}
	remaining := t.PartitionCount() - int(count)
	dir := d.sys.GroupDirectory(st.ID(), id)
	for _, g := range dir.All() {
		if members := g.Members(); len(members) > remaining {
			return nil, ierror.New(ierror.InvalidPartitioning, fmt.Sprintf("deleting %d partitions would leave consumer group %q (%d members) with an unassigned member", count, g.Name, len(members)))
		}
	}
	if err := t.DeletePartitions(int(count)); err != nil {
		return nil, err
	}
	dir.SetPartitionCountAll(t.PartitionCount())
	return nil, nil
}
