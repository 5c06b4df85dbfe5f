package session

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestNewSession(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	s := New(now)
	if !ValidID(s.ID) {
		t.Fatalf("expected uuid id, got %q", s.ID)
	}
	if s.ReportText != "" || len(s.Messages) != 0 {
		t.Fatalf("expected empty session, got %+v", s)
	}
	if !s.CreatedAt.Equal(now) || !s.UpdatedAt.Equal(now) {
		t.Fatalf("unexpected timestamps %+v", s)
	}
}

func TestValidID(t *testing.T) {
	if ValidID("") || ValidID("session_123") {
		t.Fatalf("expected invalid ids to be rejected")
	}
}

func TestResetClearsHistory(t *testing.T) {
	now := time.Now()
	s := New(now)
	s.Reset("first report", now)
	s.Append(Message{Role: RoleUser, Content: "q", Timestamp: now}, Message{Role: RoleAssistant, Content: "a", Timestamp: now})

	later := now.Add(time.Minute)
	s.Reset("second report", later)
	if s.ReportText != "second report" {
		t.Fatalf("unexpected report text %q", s.ReportText)
	}
	if len(s.Messages) != 0 {
		t.Fatalf("expected history cleared, got %d messages", len(s.Messages))
	}
	if !s.UpdatedAt.Equal(later) {
		t.Fatalf("expected UpdatedAt to move forward")
	}
}

func TestCloneIsDeep(t *testing.T) {
	s := New(time.Now())
	s.Append(Message{Role: RoleUser, Content: "hello"})
	c := s.Clone()
	c.Messages[0].Content = "changed"
	c.Append(Message{Role: RoleAssistant, Content: "x"})
	if s.Messages[0].Content != "hello" || len(s.Messages) != 1 {
		t.Fatalf("clone shares state with original: %+v", s.Messages)
	}
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(0)

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	s := New(time.Now())
	s.Reset("report", time.Now())
	if err := store.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}

	// mutating the caller's copy must not leak into the store
	s.ReportText = "mutated"

	got, err := store.Get(ctx, s.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ReportText != "report" {
		t.Fatalf("store returned shared state: %q", got.ReportText)
	}

	if err := store.Delete(ctx, s.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get(ctx, s.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestMemoryStoreExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(time.Hour)
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return clock }

	fresh := New(clock)
	stale := New(clock.Add(-2 * time.Hour))
	_ = store.Save(ctx, fresh)
	_ = store.Save(ctx, stale)

	if _, err := store.Get(ctx, stale.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected stale session to expire, got %v", err)
	}
	if _, err := store.Get(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh session should be readable: %v", err)
	}

	clock = clock.Add(2 * time.Hour)
	if n := store.Sweep(); n != 1 {
		t.Fatalf("expected 1 swept session, got %d", n)
	}
	if store.Len() != 0 {
		t.Fatalf("expected empty store, got %d", store.Len())
	}
}
