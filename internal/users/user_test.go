package users

import (
	"testing"
	"time"
)

func TestPasswordHashAndVerify(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("HashPassword: %v", err)
	}
	if hash == "s3cret" {
		t.Fatal("hash must not equal the plaintext password")
	}
	if !VerifyPassword("s3cret", hash) {
		t.Fatal("VerifyPassword should accept the correct password")
	}
	if VerifyPassword("wrong", hash) {
		t.Fatal("VerifyPassword should reject an incorrect password")
	}
}

func TestRootUserBypassesAllPermissionChecks(t *testing.T) {
	dir := NewDirectory()
	root, err := NewRoot("iggy", "iggy")
	if err != nil {
		t.Fatalf("NewRoot: %v", err)
	}
	if err := dir.Register(root); err != nil {
		t.Fatalf("Register: %v", err)
	}

	p := NewPermissioner(dir)
	if !p.Can(RootUserID, ActionManageServers, 0, 0) {
		t.Fatal("root should bypass permission checks")
	}
}

func TestPermissionLayeringShortcut(t *testing.T) {
	dir := NewDirectory()
	u, err := dir.Create("alice", "pw", Active, Permissions{
		Streams: map[int]StreamPermissions{
			1: {
				PollMessages: true,
				Topics: map[int]TopicPermissions{
					2: {SendMessages: true},
				},
			},
		},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	p := NewPermissioner(dir)
	if !p.Can(u.ID, ActionPollMessages, 1, 0) {
		t.Fatal("stream-level poll_messages grant should be honored")
	}
	if p.Can(u.ID, ActionPollMessages, 2, 0) {
		t.Fatal("permission on stream 1 should not leak to stream 2")
	}
	if !p.Can(u.ID, ActionSendMessages, 1, 2) {
		t.Fatal("topic-level override should grant send_messages on topic 2")
	}
	if p.Can(u.ID, ActionSendMessages, 1, 3) {
		t.Fatal("topic-level override on topic 2 should not apply to topic 3")
	}
}

func TestPersonalAccessTokenLifecycle(t *testing.T) {
	store := NewPATStore()
	pat, plaintext, err := store.Create(5, "ci", time.Hour)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if pat.TokenHash == plaintext {
		t.Fatal("stored hash must not equal the plaintext token")
	}

	userID, err := store.Lookup(plaintext)
	if err != nil {
		t.Fatalf("Lookup: %v", err)
	}
	if userID != 5 {
		t.Fatalf("got user %d, want 5", userID)
	}

	if err := store.Delete(5, "ci"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Lookup(plaintext); err == nil {
		t.Fatal("expected lookup to fail after deletion")
	}
}

func TestPersonalAccessTokenExpiry(t *testing.T) {
	store := NewPATStore()
	_, plaintext, err := store.Create(5, "short-lived", time.Nanosecond)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	time.Sleep(time.Millisecond)
	if _, err := store.Lookup(plaintext); err == nil {
		t.Fatal("expected lookup to fail once the token has expired")
	}
}
