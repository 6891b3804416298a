package objectstore

import (
	"bytes"
	"context"
	"io"
	"testing"
)

func newTestStore(t *testing.T, inlineThreshold int64) *Store {
	t.Helper()
	s, err := New(Config{Dir: t.TempDir(), InlineThreshold: inlineThreshold})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func TestStore_InlineSmallBlob(t *testing.T) {
	s := newTestStore(t, 16)
	ref, err := s.Store(context.Background(), []byte("hello"))
	if err != nil {
		t.Fatal(err)
	}
	if ref.Inline == nil {
		t.Fatal("expected inline ref for small blob")
	}
	if ref.Path != "" {
		t.Fatal("inline blob should not have a disk path")
	}
	if !s.Contains(ref.ID) {
		t.Fatal("Contains should report true for an inline blob")
	}

	rc, err := s.Retrieve(ref.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, []byte("hello")) {
		t.Fatalf("retrieved content mismatch: got %q", got)
	}
}

func TestStore_LargeBlobWrittenToDisk(t *testing.T) {
	s := newTestStore(t, 4)
	data := bytes.Repeat([]byte("x"), 1024)
	ref, err := s.Store(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if ref.Path == "" {
		t.Fatal("expected disk-backed ref for large blob")
	}
	if !s.Contains(ref.ID) {
		t.Fatal("Contains should report true after Store")
	}

	rc, err := s.Retrieve(ref.ID)
	if err != nil {
		t.Fatal(err)
	}
	defer rc.Close()
	got, err := io.ReadAll(rc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, data) {
		t.Fatal("retrieved content mismatch")
	}
}

func TestStore_ContentAddressedDedup(t *testing.T) {
	s := newTestStore(t, 0)
	data := bytes.Repeat([]byte("y"), 512)

	ref1, err := s.Store(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	ref2, err := s.Store(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if ref1.ID != ref2.ID {
		t.Fatal("identical content must produce identical IDs")
	}
	if ref1.Path != ref2.Path {
		t.Fatal("identical content must map to the same path")
	}
}

func TestStore_RetrieveMissing(t *testing.T) {
	s := newTestStore(t, 0)
	_, err := s.Retrieve(ID("0000000000000000000000000000000000000000000000000000000000000000"))
	if err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestStoreReader_MatchesStore(t *testing.T) {
	s := newTestStore(t, 0)
	data := bytes.Repeat([]byte("z"), 2048)

	viaBytes, err := s.Store(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	viaReader, err := s.StoreReader(context.Background(), bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if viaBytes.ID != viaReader.ID {
		t.Fatal("Store and StoreReader must agree on content ID")
	}
}

func TestStore_Remove(t *testing.T) {
	s := newTestStore(t, 0)
	data := bytes.Repeat([]byte("w"), 128)
	ref, err := s.Store(context.Background(), data)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.Remove(ref.ID); err != nil {
		t.Fatal(err)
	}
	if s.Contains(ref.ID) {
		t.Fatal("object should be gone after Remove")
	}
	if err := s.Remove(ref.ID); err != nil {
		t.Fatal("removing an absent object should not error")
	}
}
