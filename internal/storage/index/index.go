// Package index implements a segment's in-memory offset index: fixed
// 16-byte records (relative_offset u32, byte_position u32, timestamp u64)
// per spec §3 "Index record", loaded lazily at segment open and binary
// searched on read.
package index

import (
	"encoding/binary"
	"fmt"
	"sort"
)

// RecordSize is the fixed on-disk width of one index record.
const RecordSize = 4 + 4 + 8

// Record is one decoded index entry, relative to its segment's base offset.
type Record struct {
	RelativeOffset uint32
	BytePosition   uint32
	Timestamp      uint64
}

// Encode writes r as RecordSize bytes.
func Encode(r Record) []byte {
	buf := make([]byte, RecordSize)
	binary.LittleEndian.PutUint32(buf[0:4], r.RelativeOffset)
	binary.LittleEndian.PutUint32(buf[4:8], r.BytePosition)
	binary.LittleEndian.PutUint64(buf[8:16], r.Timestamp)
	return buf
}

// Decode reads one Record from exactly RecordSize bytes.
func Decode(buf []byte) (Record, error) {
	if len(buf) != RecordSize {
		return Record{}, fmt.Errorf("index: record must be %d bytes, got %d", RecordSize, len(buf))
	}
	return Record{
		RelativeOffset: binary.LittleEndian.Uint32(buf[0:4]),
		BytePosition:   binary.LittleEndian.Uint32(buf[4:8]),
		Timestamp:      binary.LittleEndian.Uint64(buf[8:16]),
	}, nil
}

// Index is an ordered, append-only sequence of Records kept entirely in
// memory and mirrored to the segment's .index file. Entries are strictly
// increasing in both RelativeOffset and BytePosition (spec §3 invariant),
// so lookups use a binary predecessor/successor search over the backing
// slice rather than a tree structure.
type Index struct {
	records []Record
}

// New returns an empty Index.
func New() *Index {
	return &Index{}
}

// Load rebuilds an Index from a fully-read .index file's bytes.
func Load(data []byte) (*Index, error) {
	if len(data)%RecordSize != 0 {
		return nil, fmt.Errorf("index: file size %d not a multiple of %d", len(data), RecordSize)
	}
	n := len(data) / RecordSize
	idx := &Index{records: make([]Record, 0, n)}
	var lastOffset int64 = -1
	var lastPos int64 = -1
	for i := 0; i < n; i++ {
		rec, err := Decode(data[i*RecordSize : (i+1)*RecordSize])
		if err != nil {
			return nil, err
		}
		if int64(rec.RelativeOffset) <= lastOffset {
			return nil, fmt.Errorf("index: relative_offset not strictly increasing at record %d", i)
		}
		if int64(rec.BytePosition) < lastPos {
			return nil, fmt.Errorf("index: byte_position not monotonic at record %d", i)
		}
		lastOffset = int64(rec.RelativeOffset)
		lastPos = int64(rec.BytePosition)
		idx.records = append(idx.records, rec)
	}
	return idx, nil
}

// Append records a new entry. Callers must ensure monotonicity; Append
// itself does not re-validate it on the hot path.
func (idx *Index) Append(rec Record) {
	idx.records = append(idx.records, rec)
}

// Len returns the number of records.
func (idx *Index) Len() int { return len(idx.records) }

// Last returns the most recently appended record, if any.
func (idx *Index) Last() (Record, bool) {
	if len(idx.records) == 0 {
		return Record{}, false
	}
	return idx.records[len(idx.records)-1], true
}

// FloorByOffset returns the record with the greatest RelativeOffset <= target,
// or false if target precedes every record.
func (idx *Index) FloorByOffset(target uint32) (Record, bool) {
	i := sort.Search(len(idx.records), func(i int) bool {
		return idx.records[i].RelativeOffset > target
	})
	if i == 0 {
		return Record{}, false
	}
	return idx.records[i-1], true
}

// CeilByOffset returns the record with the smallest RelativeOffset >= target,
// or false if target exceeds every record.
func (idx *Index) CeilByOffset(target uint32) (Record, bool) {
	i := sort.Search(len(idx.records), func(i int) bool {
		return idx.records[i].RelativeOffset >= target
	})
	if i == len(idx.records) {
		return Record{}, false
	}
	return idx.records[i], true
}

// CeilByTimestamp returns the first record, in offset order, whose
// timestamp is >= target, used to resolve PollingStrategy Timestamp lookups (spec §4.2). Timestamps
// in the index are not required to be monotonic (a batch's max_timestamp
// need not increase monotonically if clients supply their own timestamps),
// so this performs a linear scan; segments are bounded by
// segment_size_threshold so this stays cheap in practice.
func (idx *Index) CeilByTimestamp(target uint64) (Record, bool) {
	for _, rec := range idx.records {
		if rec.Timestamp >= target {
			return rec, true
		}
	}
	return Record{}, false
}

// Truncate drops every record with RelativeOffset > lastValidOffset,
// used during crash recovery when the index runs ahead of a truncated log
// (spec §7.1 recovery).
func (idx *Index) Truncate(lastValidOffset uint32) {
	i := sort.Search(len(idx.records), func(i int) bool {
		return idx.records[i].RelativeOffset > lastValidOffset
	})
	idx.records = idx.records[:i]
}

// Bytes serializes the full index back to its on-disk form.
func (idx *Index) Bytes() []byte {
	buf := make([]byte, 0, len(idx.records)*RecordSize)
	for _, r := range idx.records {
		buf = append(buf, Encode(r)...)
	}
	return buf
}
