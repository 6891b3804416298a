package cache

// objectstore.go re-exports internal/objectstore's content-addressed blob
// store so ActionCache output files (and callers building a remote-cache
// bridge) can reach it without an internal import.
//
// © 2025 taskcache authors. MIT License.

import (
	"context"
	"io"

	"github.com/kestrelbuild/taskcache/internal/objectstore"
)

type (
	// ObjectID is the content address of a stored blob.
	ObjectID = objectstore.ID
	// ObjectRef describes a stored blob's address, size, and storage
	// location (inline or on-disk).
	ObjectRef = objectstore.Ref
	// ObjectStore is a content-addressed blob store, the CAS tier backing
	// ActionCache output files.
	ObjectStore = objectstore.Store
	// ObjectStoreConfig configures an ObjectStore.
	ObjectStoreConfig = objectstore.Config
)

// ErrObjectNotFound is returned when an ObjectID has no corresponding blob.
var ErrObjectNotFound = objectstore.ErrNotFound

// NewObjectStore opens a content-addressed blob store rooted at cfg.Dir.
func NewObjectStore(cfg ObjectStoreConfig) (*ObjectStore, error) {
	return objectstore.New(cfg)
}

// storeBytes stores an in-memory blob via Store; storeReader streams one in
// via StoreReader.
func storeBytes(ctx context.Context, s *ObjectStore, data []byte) (ObjectRef, error) {
	return s.Store(ctx, data)
}

func storeReader(ctx context.Context, s *ObjectStore, r io.Reader) (ObjectRef, error) {
	return s.StoreReader(ctx, r)
}
