package memorycache

import (
	"context"
	"testing"
	"time"
)

func TestCache_GetSet(t *testing.T) {
	c := New(16)
	ctx := context.Background()

	if _, ok := c.Get(ctx, "missing"); ok {
		t.Error("Get() reported a hit for a missing key")
	}

	if err := c.Set(ctx, "k", "v", time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	got, ok := c.Get(ctx, "k")
	if !ok || got != "v" {
		t.Errorf("Get() = (%v, %v), want (v, true)", got, ok)
	}

	if err := c.Set(ctx, "k", "v2", time.Minute); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}
	got, _ = c.Get(ctx, "k")
	if got != "v2" {
		t.Errorf("Get() after overwrite = %v, want v2", got)
	}
}

func TestCache_TTL(t *testing.T) {
	c := New(16)
	ctx := context.Background()

	if err := c.Set(ctx, "short", "v", 10*time.Millisecond); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Set(ctx, "forever", "v", 0); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get(ctx, "short"); ok {
		t.Error("Get() returned an expired entry")
	}
	if _, ok := c.Get(ctx, "forever"); !ok {
		t.Error("Get() expired an entry with no TTL")
	}
}

func TestCache_Eviction(t *testing.T) {
	c := New(2)
	ctx := context.Background()

	c.Set(ctx, "a", 1, time.Minute)
	c.Set(ctx, "b", 2, time.Minute)

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Fatal("Get(a) missed")
	}
	c.Set(ctx, "c", 3, time.Minute)

	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("least recently used entry survived eviction")
	}
	if _, ok := c.Get(ctx, "a"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get(ctx, "c"); !ok {
		t.Error("newly inserted entry missing")
	}
}

func TestCache_DeleteAndClear(t *testing.T) {
	c := New(16)
	ctx := context.Background()

	c.Set(ctx, "a", 1, time.Minute)
	c.Set(ctx, "b", 2, time.Minute)

	if err := c.Delete(ctx, "a"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, ok := c.Get(ctx, "a"); ok {
		t.Error("Get() found a deleted key")
	}
	if err := c.Delete(ctx, "missing"); err != nil {
		t.Errorf("Delete() of a missing key error = %v", err)
	}

	if err := c.Clear(ctx); err != nil {
		t.Fatalf("Clear() error = %v", err)
	}
	if _, ok := c.Get(ctx, "b"); ok {
		t.Error("Get() found a key after Clear()")
	}
}
