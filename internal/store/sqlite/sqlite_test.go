package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/haven-im/haven-server/internal/store"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()

	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestChannelMembershipGate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice", "Alice", "hash")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := s.CreateUser(ctx, "bob", "Bob", "hash")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}

	if _, err := s.CreateChannel(ctx, "general", "General", alice.ID); err != nil {
		t.Fatalf("create channel: %v", err)
	}

	// Owner became a member on creation.
	ok, err := s.IsMember(ctx, alice.ID, "general")
	if err != nil || !ok {
		t.Fatalf("expected alice to be a member, ok=%v err=%v", ok, err)
	}

	// Bob is not a member yet.
	ok, err = s.IsMember(ctx, bob.ID, "general")
	if err != nil || ok {
		t.Fatalf("expected bob not to be a member, ok=%v err=%v", ok, err)
	}

	// Unknown channel is not a membership, not an error.
	ok, err = s.IsMember(ctx, bob.ID, "ghost")
	if err != nil || ok {
		t.Fatalf("expected no membership of unknown channel, ok=%v err=%v", ok, err)
	}

	if err := s.AddMember(ctx, bob.ID, "general"); err != nil {
		t.Fatalf("add bob: %v", err)
	}
	// Adding twice is idempotent.
	if err := s.AddMember(ctx, bob.ID, "general"); err != nil {
		t.Fatalf("re-add bob: %v", err)
	}

	ids, err := s.ListMemberIDs(ctx, "general")
	if err != nil {
		t.Fatalf("list members: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 members, got %v", ids)
	}

	if err := s.RemoveMember(ctx, bob.ID, "general"); err != nil {
		t.Fatalf("remove bob: %v", err)
	}
	ok, err = s.IsMember(ctx, bob.ID, "general")
	if err != nil || ok {
		t.Fatalf("expected bob removed, ok=%v err=%v", ok, err)
	}
}

func TestCallHistoryLifecycle(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice, err := s.CreateUser(ctx, "alice", "Alice", "hash")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := s.CreateUser(ctx, "bob", "Bob", "hash")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}

	now := time.Now().UTC()
	call := &store.Call{
		Code:      "c-1234",
		CallerID:  alice.ID,
		CalleeID:  bob.ID,
		Status:    store.CallStatusRinging,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.CreateCall(ctx, call); err != nil {
		t.Fatalf("create call: %v", err)
	}

	if err := s.UpdateCallStatus(ctx, "c-1234", store.CallStatusActive); err != nil {
		t.Fatalf("update to active: %v", err)
	}
	if err := s.UpdateCallStatus(ctx, "c-1234", store.CallStatusEnded); err != nil {
		t.Fatalf("update to ended: %v", err)
	}

	calls, err := s.ListRecentCalls(ctx, bob.ID, 10)
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if len(calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(calls))
	}
	if calls[0].Status != store.CallStatusEnded {
		t.Fatalf("expected ended, got %s", calls[0].Status)
	}
	if calls[0].EndedAt == nil {
		t.Fatalf("expected ended_at to be stamped")
	}

	if err := s.UpdateCallStatus(ctx, "missing", store.CallStatusEnded); err == nil {
		t.Fatalf("expected error for unknown call")
	}
}
