package cache

import (
	"context"
	"io"
	"testing"
	"time"
)

func TestStream_WriterThenReaderRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	w := c.GetWriter(ctx, "streamed", TTL(time.Hour))
	if _, err := w.Write([]byte("hello ")); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("world")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	r, ok, err := c.GetReader(ctx, "streamed")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	defer r.Close()

	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "hello world" {
		t.Fatalf("got %q want %q", got, "hello world")
	}
}

func TestStream_WriteAfterCloseFails(t *testing.T) {
	c := newTestCache(t)
	w := c.GetWriter(context.Background(), "k", TTL(time.Hour))
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write([]byte("x")); err != io.ErrClosedPipe {
		t.Fatalf("expected ErrClosedPipe, got %v", err)
	}
}
