package cache

// actioncache.go memoizes deterministic task executions keyed by a
// TaskDescriptor's Digest, storing stdout/stderr/output files content-
// addressed in an ObjectStore and the result envelope in the byte-oriented
// Cache. Concurrent callers computing the same digest share one execution
// via singleflight rather than racing duplicate work, fixing the dangling
// in-flight bookkeeping pattern this module is grounded on (a DashMap of
// Notify handles whose waiters re-check the result cache by hand): a single
// golang.org/x/sync/singleflight.Group gives the same de-duplication with no
// hand-rolled wakeup path to get wrong.
//
// © 2025 taskcache authors. MIT License.

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/singleflight"
)

// ActionResult is the cached outcome of one action execution. Stdout,
// Stderr, and OutputFiles reference blobs in the ObjectStore by content
// hash, never raw bytes, so a result envelope stays small regardless of how
// much output the action produced.
type ActionResult struct {
	ExitCode    int
	Stdout      ObjectID
	Stderr      ObjectID
	OutputFiles map[string]ObjectID // relative path -> content hash
	ExecutedAt  time.Time
	Duration    time.Duration
}

// ActionExecution is what an execute function returns: the raw outcome of
// running the action, before its outputs are committed to the ObjectStore.
type ActionExecution struct {
	ExitCode        int
	Stdout          []byte
	Stderr          []byte
	OutputFilePaths []string // paths (relative to the task's working dir) to capture
	WorkingDir      string
}

// ExecuteFunc runs the action identified by a Digest and reports its raw
// outcome. It must not consult or populate the ActionCache itself.
type ExecuteFunc func(ctx context.Context) (ActionExecution, error)

// ActionCache memoizes ExecuteFunc results by task digest.
type ActionCache struct {
	results *Cache
	cas     *ObjectStore
	group   singleflight.Group
}

// NewActionCache builds an ActionCache storing result envelopes in results
// and output blobs content-addressed in cas.
func NewActionCache(results *Cache, cas *ObjectStore) *ActionCache {
	return &ActionCache{results: results, cas: cas}
}

// ExecuteAction returns the cached ActionResult for digest if one exists;
// otherwise it runs fn, captures its outputs into the ObjectStore, caches
// the result, and returns it. Concurrent calls for the same digest share a
// single fn invocation.
func (a *ActionCache) ExecuteAction(ctx context.Context, digest Digest, fn ExecuteFunc) (ActionResult, error) {
	if cached, ok, err := Get[ActionResult](ctx, a.results, string(digest)); err != nil {
		return ActionResult{}, err
	} else if ok {
		return cached, nil
	}

	v, err, _ := a.group.Do(string(digest), func() (any, error) {
		// Re-check: another goroutine may have populated the cache while we
		// were waiting to enter Do.
		if cached, ok, err := Get[ActionResult](ctx, a.results, string(digest)); err == nil && ok {
			return cached, nil
		}

		exec, err := fn(ctx)
		if err != nil {
			return ActionResult{}, err
		}

		result, err := a.commitOutputs(ctx, exec)
		if err != nil {
			return ActionResult{}, err
		}

		if err := Put(ctx, a.results, string(digest), result, nil); err != nil {
			return ActionResult{}, err
		}
		return result, nil
	})
	if err != nil {
		return ActionResult{}, err
	}
	return v.(ActionResult), nil
}

// commitOutputs stores stdout, stderr, and every output file into the
// ObjectStore, computing each content hash itself rather than trusting one
// the execute function might supply: a hash an action claims for its own
// output is exactly the thing caching is supposed to verify, not assume.
func (a *ActionCache) commitOutputs(ctx context.Context, exec ActionExecution) (ActionResult, error) {
	started := time.Now()
	result := ActionResult{
		ExitCode:    exec.ExitCode,
		OutputFiles: make(map[string]ObjectID, len(exec.OutputFilePaths)),
		ExecutedAt:  started,
	}

	if len(exec.Stdout) > 0 {
		ref, err := storeBytes(ctx, a.cas, exec.Stdout)
		if err != nil {
			return ActionResult{}, newErr(KindIoFailure, "ExecuteAction", "", "failed to store stdout", err)
		}
		result.Stdout = ref.ID
	}
	if len(exec.Stderr) > 0 {
		ref, err := storeBytes(ctx, a.cas, exec.Stderr)
		if err != nil {
			return ActionResult{}, newErr(KindIoFailure, "ExecuteAction", "", "failed to store stderr", err)
		}
		result.Stderr = ref.ID
	}

	for _, relPath := range exec.OutputFilePaths {
		path := relPath
		if exec.WorkingDir != "" {
			path = filepath.Join(exec.WorkingDir, relPath)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return ActionResult{}, newErr(KindIoFailure, "ExecuteAction", relPath, "failed to read declared output file", err)
		}
		ref, err := storeBytes(ctx, a.cas, data)
		if err != nil {
			return ActionResult{}, newErr(KindIoFailure, "ExecuteAction", relPath, "failed to store output file", err)
		}
		result.OutputFiles[relPath] = ref.ID
	}

	result.Duration = time.Since(started)
	return result, nil
}

// Clear drops every memoized result. Output blobs already written to the
// ObjectStore are left in place; they are content-addressed and may still
// be referenced by other digests.
func (a *ActionCache) Clear(ctx context.Context) error {
	return a.results.Clear(ctx)
}
