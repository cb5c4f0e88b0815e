package session

import (
	"testing"
	"time"
)

func TestAddGetDeleteClient(t *testing.T) {
	m := NewManager()
	c := m.AddClient("127.0.0.1:9000", "tcp")
	if c.ID == 0 {
		t.Fatal("expected a non-zero client id")
	}

	got, err := m.GetClient(c.ID)
	if err != nil {
		t.Fatalf("GetClient: %v", err)
	}
	if got != c {
		t.Fatal("GetClient should return the same client instance")
	}

	deleted, ok := m.DeleteClient("127.0.0.1:9000")
	if !ok || deleted.ID != c.ID {
		t.Fatalf("DeleteClient: got (%v, %v)", deleted, ok)
	}
	if _, err := m.GetClient(c.ID); err == nil {
		t.Fatal("expected GetClient to fail after deletion")
	}
}

func TestSweepStaleClients(t *testing.T) {
	m := NewManager()
	fresh := m.AddClient("127.0.0.1:1", "tcp")
	stale := m.AddClient("127.0.0.1:2", "tcp")
	stale.LastSeen.Store(time.Now().Add(-time.Hour).UnixNano())

	staleClients := m.SweepStale(time.Minute)
	if len(staleClients) != 1 || staleClients[0].ID != stale.ID {
		t.Fatalf("expected only the stale client, got %v", staleClients)
	}
	_ = fresh
}

func TestGroupMembershipJoinLeave(t *testing.T) {
	m := NewManager()
	c := m.AddClient("127.0.0.1:1", "tcp")
	membership := GroupMembership{StreamID: 1, TopicID: 1, GroupID: 1}

	c.JoinGroup(membership)
	if len(c.Groups()) != 1 {
		t.Fatalf("expected 1 group membership, got %d", len(c.Groups()))
	}

	c.LeaveGroup(membership)
	if len(c.Groups()) != 0 {
		t.Fatalf("expected 0 group memberships after leave, got %d", len(c.Groups()))
	}
}
