package cache

import (
	"testing"
	"time"
)

func TestGenerateCacheKey(t *testing.T) {
	a := GenerateCacheKey("summarize this")
	b := GenerateCacheKey("summarize this")
	c := GenerateCacheKey("summarize that")
	if a != b {
		t.Fatalf("same prompt produced different keys")
	}
	if a == c {
		t.Fatalf("different prompts produced the same key")
	}
	if len(a) != 64 {
		t.Fatalf("expected hex sha256, got %d chars", len(a))
	}
}

func TestCacheExpiry(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(time.Minute)
	c.now = func() time.Time { return clock }

	c.Store("k", "v")
	if got, ok := c.Load("k"); !ok || got != "v" {
		t.Fatalf("expected hit, got %q %v", got, ok)
	}

	clock = clock.Add(2 * time.Minute)
	if _, ok := c.Load("k"); ok {
		t.Fatalf("expected expired entry to miss")
	}
	if _, ok := c.Load("missing"); ok {
		t.Fatalf("expected miss for unknown key")
	}
}

func TestCacheSweep(t *testing.T) {
	clock := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := New(time.Minute)
	c.now = func() time.Time { return clock }

	c.Store("old-1", "a")
	c.Store("old-2", "b")
	clock = clock.Add(50 * time.Second)
	c.Store("fresh", "c")
	clock = clock.Add(20 * time.Second)

	if n := c.Sweep(); n != 2 {
		t.Fatalf("expected 2 expired entries removed, got %d", n)
	}
	if c.Len() != 1 {
		t.Fatalf("expected 1 entry left, got %d", c.Len())
	}
	if got, ok := c.Load("fresh"); !ok || got != "c" {
		t.Fatalf("fresh entry lost: %q %v", got, ok)
	}
}

func TestCacheSweepWithoutTTL(t *testing.T) {
	c := New(0)
	c.Store("k", "v")
	if n := c.Sweep(); n != 0 || c.Len() != 1 {
		t.Fatalf("entries without ttl must never expire, removed %d", n)
	}
}
