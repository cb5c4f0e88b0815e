// Package segment implements one partition segment: an append-only log file
// plus a parallel fixed-width index file, per spec §4.1.
//
// Grounded on the lightkafka partition/segment reference (other_examples)
// for the directory layout and roll contract, adapted to the spec's exact
// batch/index wire formats and fsync policy.
package segment

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/adred-codev/streambroker/internal/config"
	"github.com/adred-codev/streambroker/internal/ierror"
	"github.com/adred-codev/streambroker/internal/persistence"
	"github.com/adred-codev/streambroker/internal/storage/codec"
	"github.com/adred-codev/streambroker/internal/storage/index"
)

// Name formats the canonical 20-digit zero-padded segment base filename
// (without extension), per spec §6 "On-disk layout".
func Name(baseOffset uint64) string {
	return fmt.Sprintf("%020d", baseOffset)
}

// LogPath and IndexPath return the two file paths for a segment rooted at dir.
func LogPath(dir string, baseOffset uint64) string   { return filepath.Join(dir, Name(baseOffset)+".log") }
func IndexPath(dir string, baseOffset uint64) string { return filepath.Join(dir, Name(baseOffset)+".index") }

// Config bundles the segment-level policy knobs sourced from the broker config.
type Config struct {
	ThresholdBytes int64
	Fsync          config.FsyncPolicy
	Persister      persistence.Persister

	// IndexCacheEntries bounds how many closed segments' indexes the owning
	// partition keeps resident at once (spec §9 "Cache/eviction"). Zero
	// disables eviction: every segment's index stays loaded for its whole
	// lifetime, matching the previous always-resident behavior.
	IndexCacheEntries int
}

// BatchRange is one decoded-header, raw-bytes batch returned by ReadRange.
// The body is not decompressed or decoded into messages here; the owning
// partition does that.
type BatchRange struct {
	Header      codec.BatchHeader
	HeaderBytes []byte
	Body        []byte
}

// Segment owns one (log_file, index_file) pair within a partition.
type Segment struct {
	dir        string
	baseOffset uint64
	cfg        Config

	mu          sync.RWMutex
	idx         *index.Index
	currentSize int64
	lastOffset  uint64
	hasMessages bool
	closed      bool
	logFile     *os.File
}

// Open creates a brand-new empty segment at baseOffset, or recovers an
// existing one found on disk (spec §4.1 "Recovery").
func Open(dir string, baseOffset uint64, cfg Config) (*Segment, error) {
	logPath := LogPath(dir, baseOffset)
	indexPath := IndexPath(dir, baseOffset)

	s := &Segment{dir: dir, baseOffset: baseOffset, cfg: cfg}

	logStat, logErr := os.Stat(logPath)
	if logErr != nil && !os.IsNotExist(logErr) {
		return nil, ierror.Wrap(ierror.IoError, "stat segment log", logErr)
	}

	if logErr == nil {
		if err := s.recover(logPath, indexPath, logStat.Size()); err != nil {
			return nil, err
		}
	} else {
		s.idx = index.New()
	}

	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, ierror.Wrap(ierror.IoError, "open segment log for append", err)
	}
	s.logFile = f

	return s, nil
}

// recover reloads the index (rebuilding any tail the log outran, or
// truncating any tail the index outran) per spec §4.1 "Recovery".
func (s *Segment) recover(logPath, indexPath string, logSize int64) error {
	indexData, err := os.ReadFile(indexPath)
	if err != nil && !os.IsNotExist(err) {
		return ierror.Wrap(ierror.IoError, "read segment index", err)
	}

	idx, err := index.Load(indexData)
	if err != nil {
		return ierror.Wrap(ierror.CannotDeserializeResource, "corrupt segment index", err)
	}
	s.idx = idx

	logFile, err := os.Open(logPath)
	if err != nil {
		return ierror.Wrap(ierror.IoError, "open segment log for recovery scan", err)
	}
	defer logFile.Close()

	// Rescan the log from the start of the last indexed batch, rebuilding
	// index entries for any batches after it and truncating a partial
	// trailing batch (crash mid-write).
	var consistentPos int64
	var nextRelOffset uint32
	if last, ok := idx.Last(); ok {
		consistentPos = int64(last.BytePosition)
		nextRelOffset = last.RelativeOffset + 1
	}

	if _, err := logFile.Seek(consistentPos, io.SeekStart); err != nil {
		return ierror.Wrap(ierror.IoError, "seek segment log", err)
	}

	pos := consistentPos
	for pos < logSize {
		headerBuf := make([]byte, codec.HeaderSize)
		n, err := io.ReadFull(logFile, headerBuf)
		if err != nil || n < codec.HeaderSize {
			// Partial header: truncate the log at the last consistent boundary.
			break
		}
		header, err := codec.DecodeHeader(headerBuf)
		if err != nil {
			break
		}
		bodyEnd := pos + int64(codec.HeaderSize) + int64(header.Length)
		if bodyEnd > logSize {
			// Partial body: truncate.
			break
		}
		if _, err := logFile.Seek(int64(header.Length), io.SeekCurrent); err != nil {
			return ierror.Wrap(ierror.IoError, "seek past batch body", err)
		}

		relOffset := uint32(header.BaseOffset-s.baseOffset) + header.LastOffsetDelta
		if last, ok := idx.Last(); !ok || relOffset > last.RelativeOffset {
			idx.Append(index.Record{
				RelativeOffset: relOffset,
				BytePosition:   uint32(pos),
				Timestamp:      header.MaxTimestamp,
			})
		}
		s.lastOffset = header.BaseOffset + uint64(header.LastOffsetDelta)
		s.hasMessages = true
		nextRelOffset = relOffset + 1
		pos = bodyEnd
	}
	_ = nextRelOffset

	s.currentSize = pos
	if pos != logSize {
		if err := os.Truncate(logPath, pos); err != nil {
			return ierror.Wrap(ierror.IoError, "truncate segment log to last consistent batch", err)
		}
	}
	return nil
}

// BaseOffset returns the segment's base offset.
func (s *Segment) BaseOffset() uint64 { return s.baseOffset }

// NextOffset returns the offset the next appended batch must start at.
func (s *Segment) NextOffset() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextOffsetLocked()
}

func (s *Segment) nextOffsetLocked() uint64 {
	if !s.hasMessages {
		return s.baseOffset
	}
	return s.lastOffset + 1
}

// Size returns the current log size in bytes.
func (s *Segment) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize
}

// IsClosed reports whether the segment is sealed (read-only).
func (s *Segment) IsClosed() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.closed
}

// WouldExceed reports whether appending nextBatchSize bytes would cross the
// configured segment_size_threshold.
func (s *Segment) WouldExceed(nextBatchSize int64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.currentSize+nextBatchSize > s.cfg.ThresholdBytes
}

// AppendBatch persists one encoded batch. baseOffset must equal the
// segment's NextOffset (spec §4.1 append contract).
func (s *Segment) AppendBatch(baseOffset uint64, lastOffsetDelta uint32, maxTimestamp uint64, attributes uint16, body []byte) (bytePosition int64, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ierror.New(ierror.StorageFull, "segment is closed")
	}
	if baseOffset != s.nextOffsetLocked() {
		return 0, ierror.New(ierror.IoError, fmt.Sprintf("append base_offset %d does not match expected %d", baseOffset, s.nextOffsetLocked()))
	}

	header := codec.BatchHeader{
		BaseOffset:      baseOffset,
		Length:          uint32(len(body)),
		LastOffsetDelta: lastOffsetDelta,
		MaxTimestamp:    maxTimestamp,
		Attributes:      attributes,
	}
	headerBytes := codec.EncodeHeader(header)
	record := append(append([]byte{}, headerBytes...), body...)

	pos := s.currentSize
	fsync := s.cfg.Fsync == config.FsyncPerBatch
	if err := s.cfg.Persister.Append(LogPath(s.dir, s.baseOffset), record, fsync); err != nil {
		return 0, err
	}

	relOffset := uint32(baseOffset-s.baseOffset) + lastOffsetDelta
	s.idx.Append(index.Record{
		RelativeOffset: relOffset,
		BytePosition:   uint32(pos),
		Timestamp:      maxTimestamp,
	})
	if err := s.flushIndexLocked(); err != nil {
		return 0, err
	}

	s.currentSize += int64(len(record))
	s.lastOffset = baseOffset + uint64(lastOffsetDelta)
	s.hasMessages = true

	return pos, nil
}

func (s *Segment) flushIndexLocked() error {
	return s.cfg.Persister.Overwrite(IndexPath(s.dir, s.baseOffset), s.idx.Bytes())
}

// ensureIndexLoadedLocked reloads the index from disk if a prior
// ReleaseIndex evicted it from memory. Caller must hold s.mu.
func (s *Segment) ensureIndexLoadedLocked() error {
	if s.idx != nil {
		return nil
	}
	data, err := os.ReadFile(IndexPath(s.dir, s.baseOffset))
	if err != nil {
		if os.IsNotExist(err) {
			s.idx = index.New()
			return nil
		}
		return ierror.Wrap(ierror.IoError, "reload evicted segment index", err)
	}
	idx, err := index.Load(data)
	if err != nil {
		return ierror.Wrap(ierror.CannotDeserializeResource, "corrupt segment index on reload", err)
	}
	s.idx = idx
	return nil
}

// ReleaseIndex drops the in-memory index, to be reloaded lazily on next
// access. Only a closed segment's index is ever released; the open
// (currently-written) segment must keep its index resident since ongoing
// appends depend on it. Used as the eviction callback for a partition's
// bounded index cache (spec §9 "Cache/eviction").
func (s *Segment) ReleaseIndex() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		return
	}
	s.idx = nil
}

// ReadRange returns the batches covering [startOffset, endOffset), per
// spec §4.1 "Read contract".
func (s *Segment) ReadRange(startOffset, endOffset uint64) ([]BatchRange, error) {
	s.mu.Lock()
	if err := s.ensureIndexLoadedLocked(); err != nil {
		s.mu.Unlock()
		return nil, err
	}
	baseOffset := s.baseOffset
	last := s.lastOffset
	has := s.hasMessages
	idxSnapshot := s.idx
	s.mu.Unlock()

	if !has {
		return nil, nil
	}
	if startOffset < baseOffset || endOffset > last+1 {
		return nil, ierror.New(ierror.InvalidOffset, fmt.Sprintf("range [%d,%d) outside segment [%d,%d]", startOffset, endOffset, baseOffset, last))
	}
	if startOffset >= endOffset {
		return nil, nil
	}

	startRec, ok := idxSnapshot.FloorByOffset(uint32(startOffset - baseOffset))
	if !ok {
		startRec, _ = idxSnapshot.CeilByOffset(0)
	}
	startPos := int64(startRec.BytePosition)

	var endPos int64 = -1
	if endRec, ok := idxSnapshot.CeilByOffset(uint32(endOffset - baseOffset)); ok {
		endPos = int64(endRec.BytePosition)
	}

	f, err := os.Open(LogPath(s.dir, baseOffset))
	if err != nil {
		return nil, ierror.Wrap(ierror.IoError, "open segment log for read", err)
	}
	defer f.Close()

	if _, err := f.Seek(startPos, io.SeekStart); err != nil {
		return nil, ierror.Wrap(ierror.IoError, "seek segment log", err)
	}

	var out []BatchRange
	pos := startPos
	for endPos < 0 || pos < endPos {
		headerBuf := make([]byte, codec.HeaderSize)
		if _, err := io.ReadFull(f, headerBuf); err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				break
			}
			return nil, ierror.Wrap(ierror.IoError, "read batch header", err)
		}
		header, err := codec.DecodeHeader(headerBuf)
		if err != nil {
			return nil, ierror.Wrap(ierror.IoError, "decode batch header", err)
		}
		body := make([]byte, header.Length)
		if _, err := io.ReadFull(f, body); err != nil {
			return nil, ierror.Wrap(ierror.IoError, "read batch body", err)
		}
		batchLastOffset := header.BaseOffset + uint64(header.LastOffsetDelta)

		out = append(out, BatchRange{Header: header, HeaderBytes: headerBuf, Body: body})
		pos += int64(codec.HeaderSize) + int64(header.Length)

		if batchLastOffset+1 >= endOffset {
			break
		}
	}
	return out, nil
}

// Close seals the segment against further appends. Sealed segments are
// read-only for the remainder of their lifetime (spec §3 "Segment").
func (s *Segment) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if s.logFile != nil {
		if err := s.logFile.Sync(); err != nil {
			return ierror.Wrap(ierror.IoError, "fsync segment log on close", err)
		}
		if err := s.logFile.Close(); err != nil {
			return ierror.Wrap(ierror.IoError, "close segment log", err)
		}
		s.logFile = nil
	}
	return nil
}

// Delete removes both files backing the segment. Callers must ensure the
// segment is closed and not the partition's sole/open segment (spec §4.2
// "Retention").
func (s *Segment) Delete() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.cfg.Persister.Delete(LogPath(s.dir, s.baseOffset)); err != nil {
		return err
	}
	return s.cfg.Persister.Delete(IndexPath(s.dir, s.baseOffset))
}

// MaxTimestamp returns the max_timestamp of the most recently appended
// batch, or false if the segment has no messages, used by the retention
// task to evaluate message_expiry (spec §4.2 "Retention").
func (s *Segment) MaxTimestamp() (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureIndexLoadedLocked(); err != nil {
		return 0, false
	}
	last, ok := s.idx.Last()
	if !ok {
		return 0, false
	}
	return last.Timestamp, true
}

// FirstOffsetForTimestamp resolves PollingStrategy Timestamp: the smallest
// offset within this segment whose batch max_timestamp >= target.
func (s *Segment) FirstOffsetForTimestamp(target uint64) (uint64, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.ensureIndexLoadedLocked(); err != nil {
		return 0, false
	}
	rec, ok := s.idx.CeilByTimestamp(target)
	if !ok {
		return 0, false
	}
	// Index records carry each batch's last offset; the batch starts one
	// past the previous record's.
	var first uint64
	if rec.RelativeOffset > 0 {
		if prev, ok := s.idx.FloorByOffset(rec.RelativeOffset - 1); ok {
			first = uint64(prev.RelativeOffset) + 1
		}
	}
	return s.baseOffset + first, true
}

// ListSegmentBaseOffsets scans dir for *.log files and returns their base
// offsets, ascending, per spec §4.7 recovery ordering.
func ListSegmentBaseOffsets(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, ierror.Wrap(ierror.IoError, "list segment directory", err)
	}
	var offsets []uint64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if filepath.Ext(name) != ".log" {
			continue
		}
		var base uint64
		if _, err := fmt.Sscanf(name, "%020d.log", &base); err != nil {
			continue
		}
		offsets = append(offsets, base)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })
	return offsets, nil
}
