package cache

// remote.go defines the boundary a remote-cache bridge would implement: a
// small interface over blob presence/transfer and action-result lookup,
// independent of any particular wire protocol. localRemoteCache satisfies it
// purely in terms of the types already in this package, so the interface can
// be exercised and tested without a network stack; a gRPC- or HTTP-backed
// implementation is a separate concern this interface exists to decouple
// from.
//
// © 2025 taskcache authors. MIT License.

import (
	"context"
	"io"
)

func readAllAndClose(rc io.ReadCloser) ([]byte, error) {
	defer rc.Close()
	return io.ReadAll(rc)
}

// RemoteCacheOps is the boundary a distributed build-cache peer (or a local
// stand-in) implements: blob existence checks, bulk blob transfer, and
// action-result lookup/update keyed by digest.
type RemoteCacheOps interface {
	// FindMissingBlobs reports which of the given object IDs are absent.
	FindMissingBlobs(ctx context.Context, ids []ObjectID) ([]ObjectID, error)
	// BatchReadBlobs returns the content of each requested object ID that
	// exists; missing IDs are simply omitted from the result.
	BatchReadBlobs(ctx context.Context, ids []ObjectID) (map[ObjectID][]byte, error)
	// BatchUpdateBlobs stores the given blobs, returning their resulting
	// object IDs in the same order as the input.
	BatchUpdateBlobs(ctx context.Context, blobs [][]byte) ([]ObjectID, error)
	// GetActionResult returns the cached result for digest, if any.
	GetActionResult(ctx context.Context, digest Digest) (ActionResult, bool, error)
	// UpdateActionResult stores result under digest, overwriting any
	// existing entry.
	UpdateActionResult(ctx context.Context, digest Digest, result ActionResult) error
}

// localRemoteCache implements RemoteCacheOps entirely against a local
// ActionCache and ObjectStore, letting a single process play both "local"
// and "remote" cache roles — useful for tests and for a build invoked
// without network access falling back to itself.
type localRemoteCache struct {
	actions *ActionCache
	cas     *ObjectStore
}

// NewLocalRemoteCache adapts an ActionCache and ObjectStore to the
// RemoteCacheOps boundary.
func NewLocalRemoteCache(actions *ActionCache, cas *ObjectStore) RemoteCacheOps {
	return &localRemoteCache{actions: actions, cas: cas}
}

func (r *localRemoteCache) FindMissingBlobs(ctx context.Context, ids []ObjectID) ([]ObjectID, error) {
	var missing []ObjectID
	for _, id := range ids {
		if !r.cas.Contains(id) {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

func (r *localRemoteCache) BatchReadBlobs(ctx context.Context, ids []ObjectID) (map[ObjectID][]byte, error) {
	out := make(map[ObjectID][]byte, len(ids))
	for _, id := range ids {
		rc, err := r.cas.Retrieve(id)
		if err != nil {
			if err == ErrObjectNotFound {
				continue
			}
			return nil, newErr(KindIoFailure, "BatchReadBlobs", string(id), "", err)
		}
		data, err := readAllAndClose(rc)
		if err != nil {
			return nil, newErr(KindIoFailure, "BatchReadBlobs", string(id), "", err)
		}
		out[id] = data
	}
	return out, nil
}

func (r *localRemoteCache) BatchUpdateBlobs(ctx context.Context, blobs [][]byte) ([]ObjectID, error) {
	ids := make([]ObjectID, len(blobs))
	for i, b := range blobs {
		ref, err := storeBytes(ctx, r.cas, b)
		if err != nil {
			return nil, newErr(KindIoFailure, "BatchUpdateBlobs", "", "", err)
		}
		ids[i] = ref.ID
	}
	return ids, nil
}

func (r *localRemoteCache) GetActionResult(ctx context.Context, digest Digest) (ActionResult, bool, error) {
	return Get[ActionResult](ctx, r.actions.results, string(digest))
}

func (r *localRemoteCache) UpdateActionResult(ctx context.Context, digest Digest, result ActionResult) error {
	return Put(ctx, r.actions.results, string(digest), result, nil)
}
