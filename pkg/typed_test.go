package cache

import (
	"context"
	"testing"
	"time"
)

type typedPayload struct {
	Name  string
	Count int
}

func TestTypedGetPut_RoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	want := typedPayload{Name: "widget", Count: 7}
	if err := Put(ctx, c, "widget", want, TTL(time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, ok, err := Get[typedPayload](ctx, c, "widget")
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected hit")
	}
	if got != want {
		t.Fatalf("got %+v want %+v", got, want)
	}
}

func TestTypedGet_MissReturnsZeroValue(t *testing.T) {
	c := newTestCache(t)
	got, ok, err := Get[typedPayload](context.Background(), c, "absent")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected miss")
	}
	if got != (typedPayload{}) {
		t.Fatalf("expected zero value on miss, got %+v", got)
	}
}

func TestTypedGet_WrongTypeIsCorruption(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()
	if err := c.Put(ctx, "raw", []byte("not a gob stream"), TTL(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, _, err := Get[typedPayload](ctx, c, "raw"); !IsKind(err, KindCorruption) {
		t.Fatalf("expected KindCorruption, got %v", err)
	}
}
