package segment

import (
	"testing"

	"github.com/adred-codev/streambroker/internal/config"
	"github.com/adred-codev/streambroker/internal/persistence"
)

func testConfig(threshold int64) Config {
	return Config{
		ThresholdBytes: threshold,
		Fsync:          config.FsyncNone,
		Persister:      persistence.NewFilePersister(),
	}
}

func TestAppendBatchRejectsWrongBaseOffset(t *testing.T) {
	dir := t.TempDir()
	seg, err := Open(dir, 0, testConfig(1<<20))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := seg.AppendBatch(5, 0, 1000, 0, []byte("x")); err == nil {
		t.Fatal("expected error appending at wrong base offset")
	}
}

func TestAppendBatchAdvancesNextOffset(t *testing.T) {
	dir := t.TempDir()
	seg, err := Open(dir, 0, testConfig(1<<20))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := seg.AppendBatch(0, 2, 1000, 0, []byte("abc")); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if seg.NextOffset() != 3 {
		t.Fatalf("expected next offset 3, got %d", seg.NextOffset())
	}
}

func TestRecoveryReopensExistingSegment(t *testing.T) {
	dir := t.TempDir()
	seg, err := Open(dir, 0, testConfig(1<<20))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := seg.AppendBatch(0, 0, 1000, 0, []byte("first")); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if _, err := seg.AppendBatch(1, 1, 2000, 0, []byte("second-batch")); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if err := seg.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(dir, 0, testConfig(1<<20))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.NextOffset() != 3 {
		t.Fatalf("expected recovered next offset 3, got %d", reopened.NextOffset())
	}

	ranges, err := reopened.ReadRange(0, 3)
	if err != nil {
		t.Fatalf("ReadRange: %v", err)
	}
	if len(ranges) != 2 {
		t.Fatalf("expected 2 batches recovered, got %d", len(ranges))
	}
}

func TestReadRangeRejectsOutOfBoundsOffsets(t *testing.T) {
	dir := t.TempDir()
	seg, err := Open(dir, 0, testConfig(1<<20))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if _, err := seg.AppendBatch(0, 0, 1000, 0, []byte("x")); err != nil {
		t.Fatalf("AppendBatch: %v", err)
	}
	if _, err := seg.ReadRange(5, 10); err == nil {
		t.Fatal("expected InvalidOffset error reading outside segment bounds")
	}
}
