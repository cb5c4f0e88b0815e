package dedup

import (
	"testing"
	"time"

	"github.com/adred-codev/streambroker/internal/storage/codec"
)

func id(b byte) codec.MessageID {
	var m codec.MessageID
	m[0] = b
	return m
}

func TestTryInsertRejectsDuplicateWithinTTL(t *testing.T) {
	d := New(10, time.Minute)

	if !d.TryInsert(id(1)) {
		t.Fatal("first insert of a fresh id should succeed")
	}
	if d.TryInsert(id(1)) {
		t.Fatal("second insert of the same id should be rejected as a duplicate")
	}
	if !d.Exists(id(1)) {
		t.Fatal("Exists should report true for an id already inserted")
	}
	if d.Exists(id(2)) {
		t.Fatal("Exists should report false for an id never inserted")
	}
}

func TestTryInsertAllowsDuplicateAfterTTL(t *testing.T) {
	d := New(10, 10*time.Millisecond)

	if !d.TryInsert(id(1)) {
		t.Fatal("first insert should succeed")
	}
	time.Sleep(50 * time.Millisecond)
	if !d.TryInsert(id(1)) {
		t.Fatal("insert after TTL expiry should succeed again")
	}
}

func TestCacheEvictsLeastRecentlyUsedBeyondCapacity(t *testing.T) {
	d := New(2, time.Minute)

	d.TryInsert(id(1))
	d.TryInsert(id(2))
	d.TryInsert(id(3))

	if d.Len() > 2 {
		t.Fatalf("cache should never hold more than max_entries, got %d", d.Len())
	}
	if d.Exists(id(1)) {
		t.Fatal("oldest id should have been evicted once capacity was exceeded")
	}
	if !d.Exists(id(3)) {
		t.Fatal("most recently inserted id should still be present")
	}
}
