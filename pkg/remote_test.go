package cache

import (
	"bytes"
	"context"
	"testing"
)

func newTestRemote(t *testing.T) RemoteCacheOps {
	t.Helper()
	ac := newTestActionCache(t)
	return NewLocalRemoteCache(ac, ac.cas)
}

func TestLocalRemoteCache_BatchUpdateThenRead(t *testing.T) {
	r := newTestRemote(t)
	ctx := context.Background()

	ids, err := r.BatchUpdateBlobs(ctx, [][]byte{[]byte("one"), []byte("two")})
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 ids, got %d", len(ids))
	}

	blobs, err := r.BatchReadBlobs(ctx, ids)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(blobs[ids[0]], []byte("one")) {
		t.Fatalf("blob mismatch for id %v", ids[0])
	}
}

func TestLocalRemoteCache_FindMissingBlobs(t *testing.T) {
	r := newTestRemote(t)
	ctx := context.Background()

	ids, err := r.BatchUpdateBlobs(ctx, [][]byte{[]byte("present")})
	if err != nil {
		t.Fatal(err)
	}

	missing, err := r.FindMissingBlobs(ctx, append(ids, ObjectID("nonexistent")))
	if err != nil {
		t.Fatal(err)
	}
	if len(missing) != 1 || missing[0] != ObjectID("nonexistent") {
		t.Fatalf("expected exactly the nonexistent id to be missing, got %v", missing)
	}
}

func TestLocalRemoteCache_ActionResultRoundTrip(t *testing.T) {
	r := newTestRemote(t)
	ctx := context.Background()
	digest := Digest("remote-digest")

	_, ok, err := r.GetActionResult(ctx, digest)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected no cached result yet")
	}

	want := ActionResult{ExitCode: 0, OutputFiles: map[string]ObjectID{}}
	if err := r.UpdateActionResult(ctx, digest, want); err != nil {
		t.Fatal(err)
	}

	got, ok, err := r.GetActionResult(ctx, digest)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("expected a cached result after UpdateActionResult")
	}
	if got.ExitCode != want.ExitCode {
		t.Fatalf("got %+v want %+v", got, want)
	}
}
