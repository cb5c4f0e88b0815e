// Package topic owns a topic's partition directory, its partitioner, and
// its compression/dedup/retention configuration (spec §4.3).
package topic

import (
	"fmt"
	"hash/fnv"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adred-codev/streambroker/internal/dedup"
	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/storage/compression"
	"github.com/adred-codev/streambroker/internal/storage/partition"
	"github.com/adred-codev/streambroker/internal/storage/segment"
)

// MaxPartitions is the hard cap on partitions per topic (spec §4.3
// "Add-partitions").
const MaxPartitions = 100_000

// PartitioningKind selects how SendMessages routes to a partition.
type PartitioningKind int

const (
	Balanced PartitioningKind = iota
	PartitionID
	MessagesKey
)

// Partitioning is a tagged union describing one send's routing rule.
type Partitioning struct {
	Kind PartitioningKind
	ID   int    // PartitionID
	Key  []byte // MessagesKey
}

// Config is the per-topic configuration (spec §3 "Topic").
type Config struct {
	PartitionCount    int
	MessageExpiry     time.Duration
	MaxTopicSizeBytes int64
	CompressionCode   byte
	DedupEnabled      bool
	DedupMaxEntries   int
	DedupTTL          time.Duration
}

// Topic owns a dense, contiguous set of partitions and routes sends across
// them.
type Topic struct {
	dir string
	id  int
	cfg Config

	segCfg segment.Config

	mu         sync.RWMutex
	partitions []*partition.Partition // index i holds partition id i+1
	roundRobin atomic.Uint64

	dedup *dedup.Deduplicator
}

// Open recovers (or creates) a topic's partitions, per spec §4.7: iterate
// partition directories, opening each in turn.
func Open(dir string, id int, cfg Config, segCfg segment.Config) (*Topic, error) {
	t := &Topic{dir: dir, id: id, cfg: cfg, segCfg: segCfg}

	if cfg.DedupEnabled {
		t.dedup = dedup.New(cfg.DedupMaxEntries, cfg.DedupTTL)
	}

	for i := 1; i <= cfg.PartitionCount; i++ {
		p, err := t.openPartition(i)
		if err != nil {
			return nil, err
		}
		t.partitions = append(t.partitions, p)
	}
	return t, nil
}

func (t *Topic) openPartition(id int) (*partition.Partition, error) {
	pdir := filepath.Join(t.dir, "partitions", fmt.Sprint(id))
	return partition.Open(pdir, id, partition.Config{
		SegmentConfig: t.segCfg,
		Dedup:         t.dedup,
		Compression:   compression.Algorithm(t.cfg.CompressionCode) & compression.Mask,
	})
}

// PartitionCount returns the current number of partitions.
func (t *Topic) PartitionCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.partitions)
}

// Partition returns the partition with the given 1-based id.
func (t *Topic) Partition(id int) (*partition.Partition, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if id < 1 || id > len(t.partitions) {
		return nil, ierror.New(ierror.InvalidPartitioning, fmt.Sprintf("partition %d out of range [1,%d]", id, len(t.partitions)))
	}
	return t.partitions[id-1], nil
}

// Partitions returns every partition, ordered by id.
func (t *Topic) Partitions() []*partition.Partition {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*partition.Partition, len(t.partitions))
	copy(out, t.partitions)
	return out
}

// Route resolves a Partitioning rule to a concrete partition id (spec §4.3).
func (t *Topic) Route(p Partitioning) (int, error) {
	t.mu.RLock()
	n := len(t.partitions)
	t.mu.RUnlock()
	if n == 0 {
		return 0, ierror.New(ierror.InvalidPartitioning, "topic has no partitions")
	}

	switch p.Kind {
	case Balanced:
		next := t.roundRobin.Add(1) - 1
		return int(next%uint64(n)) + 1, nil
	case PartitionID:
		if p.ID < 1 || p.ID > n {
			return 0, ierror.New(ierror.InvalidPartitioning, fmt.Sprintf("partition id %d out of range [1,%d]", p.ID, n))
		}
		return p.ID, nil
	case MessagesKey:
		if len(p.Key) == 0 {
			return 0, ierror.New(ierror.InvalidPartitioning, "partitioning key must not be empty")
		}
		h := fnv.New32a()
		h.Write(p.Key)
		return int(h.Sum32()%uint32(n)) + 1, nil
	default:
		return 0, ierror.New(ierror.InvalidCommand, "unknown partitioning kind")
	}
}

// AddPartitions appends count new partitions with ids N+1..N+count, up to
// MaxPartitions.
func (t *Topic) AddPartitions(count int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.partitions)+count > MaxPartitions {
		return ierror.New(ierror.TooManyPartitions, fmt.Sprintf("adding %d partitions would exceed the %d cap", count, MaxPartitions))
	}
	for i := 0; i < count; i++ {
		id := len(t.partitions) + 1
		p, err := t.openPartition(id)
		if err != nil {
			return err
		}
		t.partitions = append(t.partitions, p)
	}
	return nil
}

// DeletePartitions removes the count highest-id partitions. The caller
// (dispatch layer, which owns consumer-group state) checks that no joined
// group would be left with an unassigned member before calling this, per
// spec §4.3.
func (t *Topic) DeletePartitions(count int) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if count > len(t.partitions) {
		return ierror.New(ierror.InvalidPartitioning, "cannot delete more partitions than exist")
	}
	keep := len(t.partitions) - count
	for _, p := range t.partitions[keep:] {
		if err := p.Delete(); err != nil {
			return err
		}
	}
	t.partitions = t.partitions[:keep]
	return nil
}

// ApplyRetention runs retention on every partition (spec §4.2 "Retention").
func (t *Topic) ApplyRetention(now time.Time) error {
	var cutoff time.Time
	if t.cfg.MessageExpiry > 0 {
		cutoff = now.Add(-t.cfg.MessageExpiry)
	}
	for _, p := range t.Partitions() {
		if _, err := p.ApplyRetention(cutoff, t.cfg.MaxTopicSizeBytes); err != nil {
			return err
		}
	}
	return nil
}
