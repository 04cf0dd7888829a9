package cache

import (
	"testing"
	"time"
)

func TestSetAndGet(t *testing.T) {
	c := NewWithConfig(10, time.Minute, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	v, ok := c.Get("a")
	if !ok || v.(int) != 1 {
		t.Fatalf("expected (1, true), got (%v, %v)", v, ok)
	}
}

func TestGetMissing(t *testing.T) {
	c := NewWithConfig(10, time.Minute, time.Hour)
	defer c.Close()

	if _, ok := c.Get("missing"); ok {
		t.Error("expected missing key to report false")
	}
}

func TestExpiryEvictsOnGet(t *testing.T) {
	c := NewWithConfig(10, time.Millisecond, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	time.Sleep(5 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("expected expired entry to be evicted on read")
	}
	if c.Size() != 0 {
		t.Errorf("expected size 0 after expired read, got %d", c.Size())
	}
}

func TestSweepRemovesExpiredEntries(t *testing.T) {
	c := NewWithConfig(10, time.Millisecond, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	c.SetWithExpiry("b", 2, time.Hour)
	time.Sleep(5 * time.Millisecond)

	removed := c.Sweep()
	if removed != 1 {
		t.Errorf("expected 1 entry swept, got %d", removed)
	}
	if c.Size() != 1 {
		t.Errorf("expected 1 surviving entry, got %d", c.Size())
	}
}

func TestEvictsOldestWhenFull(t *testing.T) {
	c := NewWithConfig(2, time.Hour, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	time.Sleep(time.Millisecond)
	c.Set("b", 2)
	time.Sleep(time.Millisecond)
	c.Set("c", 3)

	if _, ok := c.Get("a"); ok {
		t.Error("expected oldest entry 'a' to be evicted once over max size")
	}
	if c.Size() != 2 {
		t.Errorf("expected size capped at 2, got %d", c.Size())
	}
}

func TestDelete(t *testing.T) {
	c := NewWithConfig(10, time.Minute, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	c.Delete("a")
	if _, ok := c.Get("a"); ok {
		t.Error("expected deleted key to be gone")
	}
}

func TestKeysExcludesExpired(t *testing.T) {
	c := NewWithConfig(10, time.Hour, time.Hour)
	defer c.Close()

	c.Set("a", 1)
	c.SetWithExpiry("b", 2, time.Millisecond)
	time.Sleep(5 * time.Millisecond)

	keys := c.Keys()
	if len(keys) != 1 || keys[0] != "a" {
		t.Errorf("expected only unexpired key 'a', got %v", keys)
	}
}

func TestCloseStopsCleanupAndIsIdempotent(t *testing.T) {
	c := NewWithConfig(10, time.Minute, time.Millisecond)
	c.Close()
	c.Close()
}
