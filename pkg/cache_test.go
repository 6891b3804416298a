package cache

import (
	"bytes"
	"context"
	"testing"
	"time"
)

func newTestCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	base := append([]Option{WithCleanupInterval(0)}, opts...)
	c, err := New(t.TempDir(), base...)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestCache_PutGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "alpha", []byte("hello"), TTL(time.Hour)); err != nil {
		t.Fatal(err)
	}
	got, ok, err := c.Get(ctx, "alpha")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("got %q want %q", got, "hello")
	}
}

func TestCache_GetMiss(t *testing.T) {
	c := newTestCache(t)
	_, ok, err := c.Get(context.Background(), "missing")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss")
	}
}

func TestCache_InvalidKeyRejected(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "", []byte("v"), TTL(time.Hour)); !IsKind(err, KindInvalidKey) {
		t.Fatalf("expected KindInvalidKey, got %v", err)
	}
	if _, _, err := c.Get(ctx, ""); !IsKind(err, KindInvalidKey) {
		t.Fatalf("expected KindInvalidKey, got %v", err)
	}
}

func TestCache_RemoveIsIdempotent(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "k", []byte("v"), TTL(time.Hour)); err != nil {
		t.Fatal(err)
	}
	existed, err := c.Remove(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if !existed {
		t.Fatal("expected existed=true on first removal")
	}
	existed, err = c.Remove(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if existed {
		t.Fatal("expected existed=false on second removal")
	}
}

func TestCache_ExpiredEntryIsAMiss(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "k", []byte("v"), TTL(0)); err != nil {
		t.Fatal(err)
	}
	time.Sleep(time.Millisecond)
	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected expired entry to be a miss")
	}
}

func TestCache_ModeOffNeverReadsOrWrites(t *testing.T) {
	c := newTestCache(t, WithMode(ModeOff))
	ctx := context.Background()
	if err := c.Put(ctx, "k", []byte("v"), TTL(time.Hour)); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("ModeOff must never report a hit")
	}
}

func TestCache_ModeWriteNeverReads(t *testing.T) {
	c := newTestCache(t, WithMode(ModeWrite))
	ctx := context.Background()
	if err := c.Put(ctx, "k", []byte("v"), TTL(time.Hour)); err != nil {
		t.Fatal(err)
	}
	_, ok, err := c.Get(ctx, "k")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("ModeWrite must never report a hit")
	}
}

func TestCache_ClearRemovesEverything(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	for _, k := range []string{"a", "b", "c"} {
		if err := c.Put(ctx, k, []byte(k), TTL(time.Hour)); err != nil {
			t.Fatal(err)
		}
	}
	if err := c.Clear(ctx); err != nil {
		t.Fatal(err)
	}
	for _, k := range []string{"a", "b", "c"} {
		if _, ok, _ := c.Get(ctx, k); ok {
			t.Fatalf("key %q survived Clear", k)
		}
	}
}

func TestCache_StatisticsTrackHitsAndMisses(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "k", []byte("v"), TTL(time.Hour)); err != nil {
		t.Fatal(err)
	}
	c.Get(ctx, "k")
	c.Get(ctx, "missing")

	stats := c.Statistics()
	if stats.Hits == 0 {
		t.Fatal("expected at least one hit")
	}
	if stats.Misses == 0 {
		t.Fatal("expected at least one miss")
	}
}

func TestCache_ReadAfterRestartSurvivesProcessBoundary(t *testing.T) {
	dir := t.TempDir()
	c1, err := New(dir, WithCleanupInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	if err := c1.Put(context.Background(), "durable", []byte("value"), TTL(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := c1.Close(); err != nil {
		t.Fatal(err)
	}

	c2, err := New(dir, WithCleanupInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	defer c2.Close()

	got, ok, err := c2.Get(context.Background(), "durable")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected entry to survive a reopen")
	}
	if !bytes.Equal(got, []byte("value")) {
		t.Fatalf("got %q want %q", got, "value")
	}
}
