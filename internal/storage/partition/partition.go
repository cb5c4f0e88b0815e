// Package partition implements a topic partition: an ordered sequence of
// segments, offset assignment, consumer/group offset tracking, and
// retention, per spec §4.2.
//
// Grounded on the lightkafka reference partition.go (other_examples) for
// the segment-roll/recovery shape, adapted to the batch/index formats
// implemented by internal/storage/segment and internal/storage/codec.
package partition

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/adred-codev/streambroker/internal/dedup"
	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/storage/codec"
	"github.com/adred-codev/streambroker/internal/storage/compression"
	"github.com/adred-codev/streambroker/internal/storage/segment"
)

// Strategy is a PollingStrategy tagged union (spec §4.2).
type Strategy struct {
	Kind StrategyKind
	// Offset is used by Offset; Timestamp by Timestamp; Count bounds the
	// number of messages for every kind.
	Offset    uint64
	Timestamp uint64
	Count     uint32
	// ConsumerOrGroup identifies the cursor to resolve/advance for Next.
	ConsumerOrGroup string
}

type StrategyKind int

const (
	StrategyOffset StrategyKind = iota
	StrategyTimestamp
	StrategyFirst
	StrategyLast
	StrategyNext
)

// PendingMessage is an application message not yet assigned an offset.
type PendingMessage = codec.PendingMessage

// Batch is a polled result: one batch's header plus its decoded messages.
type Batch struct {
	BaseOffset uint64
	Messages   []codec.Message
}

// Config bundles the knobs a partition needs from the broker configuration.
type Config struct {
	SegmentConfig segment.Config
	Dedup         *dedup.Deduplicator      // nil disables deduplication for this topic
	Compression   compression.Algorithm    // batch body compression, spec §3 attributes bits 0-1
}

// Subscriber receives each batch appended to the partition, letting
// consumer-group cursors advance without polling (spec §4.2 step 7).
type Subscriber func(baseOffset uint64, lastOffsetDelta uint32)

// Partition owns an ordered sequence of segments and the offset/consumer
// bookkeeping layered on top of them.
type Partition struct {
	dir string
	id  int
	cfg Config

	mu             sync.RWMutex
	segments       []*segment.Segment // ascending by base offset; last is open
	currentOffset  uint64
	consumerOffset map[string]uint64
	groupOffset    map[string]uint64
	unsaved        int

	subMu       sync.Mutex
	subscribers []Subscriber

	// indexCache bounds how many closed segments' indexes stay resident in
	// memory at once (spec §9 "Cache/eviction"); nil when IndexCacheEntries
	// is 0, meaning every segment's index stays loaded for its lifetime.
	indexCache *lru.Cache[uint64, *segment.Segment]
}

// Open recovers (or creates) the partition rooted at dir, per spec §4.7
// recovery ordering: iterate segments by base-offset ascending, open only
// the last one writable.
func Open(dir string, id int, cfg Config) (*Partition, error) {
	p := &Partition{
		dir:            dir,
		id:             id,
		cfg:            cfg,
		consumerOffset: make(map[string]uint64),
		groupOffset:    make(map[string]uint64),
	}

	if n := cfg.SegmentConfig.IndexCacheEntries; n > 0 {
		cache, err := lru.NewWithEvict[uint64, *segment.Segment](n, func(_ uint64, seg *segment.Segment) {
			seg.ReleaseIndex()
		})
		if err != nil {
			return nil, ierror.Wrap(ierror.IoError, "build segment index cache", err)
		}
		p.indexCache = cache
	}

	bases, err := segment.ListSegmentBaseOffsets(dir)
	if err != nil {
		return nil, err
	}
	if len(bases) == 0 {
		bases = []uint64{0}
	}

	for i, base := range bases {
		seg, err := segment.Open(dir, base, cfg.SegmentConfig)
		if err != nil {
			return nil, err
		}
		if i < len(bases)-1 {
			if err := seg.Close(); err != nil {
				return nil, err
			}
		}
		p.segments = append(p.segments, seg)
	}

	last := p.segments[len(p.segments)-1]
	p.currentOffset = last.NextOffset()
	return p, nil
}

// ID returns the partition's id within its topic.
func (p *Partition) ID() int { return p.id }

// CurrentOffset returns the offset the next appended message would receive.
func (p *Partition) CurrentOffset() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.currentOffset
}

// Subscribe registers a callback invoked after every successful append.
func (p *Partition) Subscribe(s Subscriber) {
	p.subMu.Lock()
	defer p.subMu.Unlock()
	p.subscribers = append(p.subscribers, s)
}

// Append assigns offsets to messages, deduplicates, persists the batch, and
// rolls segments as needed (spec §4.2 "Append algorithm"). now is the
// fallback timestamp for messages that don't carry their own.
func (p *Partition) Append(messages []PendingMessage, now uint64) (baseOffset uint64, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.cfg.Dedup != nil {
		filtered := messages[:0:0]
		for _, m := range messages {
			if m.ID.IsZero() {
				filtered = append(filtered, m)
				continue
			}
			if p.cfg.Dedup.TryInsert(m.ID) {
				filtered = append(filtered, m)
			}
		}
		messages = filtered
	}
	if len(messages) == 0 {
		return p.currentOffset, nil
	}

	baseOffset = p.currentOffset
	lastOffsetDelta := uint32(len(messages) - 1)
	body, maxTimestamp := codec.EncodeBody(now, messages)

	body, err = compression.Compress(p.cfg.Compression, body)
	if err != nil {
		return 0, ierror.Wrap(ierror.IoError, "compress batch body", err)
	}
	attributes := uint16(p.cfg.Compression) & compression.Mask

	active := p.segments[len(p.segments)-1]
	if active.WouldExceed(int64(codec.HeaderSize + len(body))) {
		if err := active.Close(); err != nil {
			return 0, err
		}
		next, err := segment.Open(p.dir, active.NextOffset(), p.cfg.SegmentConfig)
		if err != nil {
			return 0, err
		}
		p.segments = append(p.segments, next)
		active = next
	}

	if _, err := active.AppendBatch(baseOffset, lastOffsetDelta, maxTimestamp, attributes, body); err != nil {
		return 0, err
	}

	p.currentOffset += uint64(len(messages))
	p.unsaved++

	p.notify(baseOffset, lastOffsetDelta)
	return baseOffset, nil
}

func (p *Partition) notify(baseOffset uint64, lastOffsetDelta uint32) {
	p.subMu.Lock()
	subs := append([]Subscriber{}, p.subscribers...)
	p.subMu.Unlock()
	for _, s := range subs {
		s(baseOffset, lastOffsetDelta)
	}
}

// Poll resolves strategy against a consistent (current_offset, segments)
// snapshot and returns the covered batches, decoded into messages.
func (p *Partition) Poll(strategy Strategy, autoCommit bool) ([]Batch, error) {
	p.mu.RLock()
	current := p.currentOffset
	segs := append([]*segment.Segment{}, p.segments...)
	var firstAvailable uint64
	if len(segs) > 0 {
		firstAvailable = segs[0].BaseOffset()
	}
	p.mu.RUnlock()

	start, err := p.resolveStart(strategy, segs, current, firstAvailable)
	if err != nil {
		return nil, err
	}

	var end uint64
	switch strategy.Kind {
	case StrategyLast:
		end = current
	default:
		count := strategy.Count
		if count == 0 {
			count = 1
		}
		end = start + uint64(count)
		if end > current {
			end = current
		}
	}
	if start > end {
		start = end
	}

	batches, err := p.readRange(segs, start, end)
	if err != nil {
		return nil, err
	}

	if autoCommit && strategy.ConsumerOrGroup != "" {
		p.mu.Lock()
		p.storeOffsetLocked(strategy.ConsumerOrGroup, end)
		p.mu.Unlock()
	}
	return batches, nil
}

func (p *Partition) resolveStart(strategy Strategy, segs []*segment.Segment, current, firstAvailable uint64) (uint64, error) {
	switch strategy.Kind {
	case StrategyOffset:
		return strategy.Offset, nil
	case StrategyFirst:
		return firstAvailable, nil
	case StrategyLast:
		if strategy.Count == 0 {
			return current, nil
		}
		if uint64(strategy.Count) > current {
			return firstAvailable, nil
		}
		return current - uint64(strategy.Count), nil
	case StrategyNext:
		p.mu.RLock()
		off := p.resolveOffsetLocked(strategy.ConsumerOrGroup)
		p.mu.RUnlock()
		return off, nil
	case StrategyTimestamp:
		for _, seg := range segs {
			p.touchIndexCache(seg)
			if off, ok := seg.FirstOffsetForTimestamp(strategy.Timestamp); ok {
				return off, nil
			}
		}
		return current, nil
	default:
		return 0, ierror.New(ierror.InvalidCommand, "unknown polling strategy")
	}
}

// touchIndexCache marks seg as recently used, loading space for its index
// and evicting (via Segment.ReleaseIndex) whichever closed segment's index
// has gone longest unused once the cache exceeds IndexCacheEntries. The
// open tail segment is never offered here, since its index is never
// released (see Segment.ReleaseIndex).
func (p *Partition) touchIndexCache(seg *segment.Segment) {
	if p.indexCache == nil || !seg.IsClosed() {
		return
	}
	p.indexCache.Add(seg.BaseOffset(), seg)
}

func (p *Partition) readRange(segs []*segment.Segment, start, end uint64) ([]Batch, error) {
	var out []Batch
	for _, seg := range segs {
		segLast := seg.NextOffset() // one past this segment's last offset at the time it was snapshotted
		if segLast <= start {
			continue
		}
		if seg.BaseOffset() >= end {
			break
		}
		p.touchIndexCache(seg)
		rangeStart := start
		if rangeStart < seg.BaseOffset() {
			rangeStart = seg.BaseOffset()
		}
		rangeEnd := end
		if rangeEnd > segLast {
			rangeEnd = segLast
		}
		if rangeStart >= rangeEnd {
			continue
		}
		ranges, err := seg.ReadRange(rangeStart, rangeEnd)
		if err != nil {
			return nil, err
		}
		for _, r := range ranges {
			alg := compression.Algorithm(r.Header.Attributes & compression.Mask)
			rawBody, err := compression.Decompress(alg, r.Body)
			if err != nil {
				return nil, ierror.Wrap(ierror.CannotDeserializeResource, "decompress batch body", err)
			}
			msgs, err := codec.DecodeBody(r.Header, rawBody)
			if err != nil {
				return nil, ierror.Wrap(ierror.CannotDeserializeResource, "decode batch body", err)
			}
			out = append(out, Batch{BaseOffset: r.Header.BaseOffset, Messages: msgs})
		}
	}
	return out, nil
}

// StoreConsumerOffset records the committed offset for a standalone
// consumer or a consumer group (distinguished by caller-chosen key prefix).
func (p *Partition) StoreConsumerOffset(key string, offset uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.storeOffsetLocked(key, offset)
}

func (p *Partition) storeOffsetLocked(key string, offset uint64) {
	p.consumerOffset[key] = offset
}

// GetConsumerOffset returns the stored offset for key, or false if none is
// recorded yet.
func (p *Partition) GetConsumerOffset(key string) (uint64, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	off, ok := p.consumerOffset[key]
	return off, ok
}

func (p *Partition) resolveOffsetLocked(key string) uint64 {
	if off, ok := p.consumerOffset[key]; ok {
		return off
	}
	return 0
}

// Flush is a no-op placeholder hook for PersistenceMode periodic fsync;
// per-append fsync already happens inside segment.AppendBatch according to
// the configured policy.
func (p *Partition) Flush() error {
	return nil
}

// Delete removes every segment file backing the partition.
func (p *Partition) Delete() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, seg := range p.segments {
		if err := seg.Delete(); err != nil {
			return err
		}
	}
	return nil
}

// ApplyRetention drops closed segments whose max_timestamp is older than
// cutoff, or whose contribution keeps the partition over maxSizeBytes,
// per spec §4.2 "Retention": delete oldest closed segments until BOTH
// constraints hold. The newest segment is never deleted, so the partition
// always keeps at least one segment and its current_offset.
func (p *Partition) ApplyRetention(cutoff time.Time, maxSizeBytes int64) (deleted int, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.segments) > 1 {
		oldest := p.segments[0]
		if !oldest.IsClosed() {
			break
		}

		expiredByAge := false
		if !cutoff.IsZero() {
			if ts, ok := oldest.MaxTimestamp(); ok && ts < uint64(cutoff.UnixMilli()) {
				expiredByAge = true
			}
		}

		overSize := false
		if maxSizeBytes > 0 {
			var total int64
			for _, seg := range p.segments {
				total += seg.Size()
			}
			if total > maxSizeBytes {
				overSize = true
			}
		}

		if !expiredByAge && !overSize {
			break
		}

		if err := oldest.Delete(); err != nil {
			return deleted, err
		}
		p.segments = p.segments[1:]
		deleted++
	}
	return deleted, nil
}

// Path returns the partition's on-disk directory, used when constructing
// segment/index paths from a stream/topic hierarchy.
func Path(streamDir, topicDir string, partitionID int) string {
	return filepath.Join(streamDir, "topics", topicDir, "partitions", fmt.Sprint(partitionID))
}
