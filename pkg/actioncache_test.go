package cache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
)

func newTestActionCache(t *testing.T) *ActionCache {
	t.Helper()
	dir := t.TempDir()
	results, err := New(filepath.Join(dir, "results"), WithCleanupInterval(0))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { results.Close() })
	cas, err := NewObjectStore(ObjectStoreConfig{Dir: filepath.Join(dir, "cas")})
	if err != nil {
		t.Fatal(err)
	}
	return NewActionCache(results, cas)
}

func TestActionCache_ExecutesOnceThenMemoizes(t *testing.T) {
	ac := newTestActionCache(t)
	ctx := context.Background()
	var calls atomic.Int32

	exec := func(ctx context.Context) (ActionExecution, error) {
		calls.Add(1)
		return ActionExecution{ExitCode: 0, Stdout: []byte("ok")}, nil
	}

	r1, err := ac.ExecuteAction(ctx, Digest("digest-1"), exec)
	if err != nil {
		t.Fatal(err)
	}
	r2, err := ac.ExecuteAction(ctx, Digest("digest-1"), exec)
	if err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 1 {
		t.Fatalf("expected exec to run exactly once, ran %d times", calls.Load())
	}
	if r1.Stdout != r2.Stdout {
		t.Fatalf("expected memoized result to match: %v vs %v", r1, r2)
	}
}

func TestActionCache_ConcurrentCallsShareOneExecution(t *testing.T) {
	ac := newTestActionCache(t)
	ctx := context.Background()
	var calls atomic.Int32

	exec := func(ctx context.Context) (ActionExecution, error) {
		calls.Add(1)
		return ActionExecution{ExitCode: 0}, nil
	}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := ac.ExecuteAction(ctx, Digest("shared-digest"), exec); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if calls.Load() != 1 {
		t.Fatalf("expected exactly one execution across concurrent callers, got %d", calls.Load())
	}
}

func TestActionCache_OutputFilesAreReReadAndReHashed(t *testing.T) {
	ac := newTestActionCache(t)
	ctx := context.Background()
	workDir := t.TempDir()

	path := filepath.Join(workDir, "out.txt")
	if err := os.WriteFile(path, []byte("original"), 0o644); err != nil {
		t.Fatal(err)
	}

	exec := func(ctx context.Context) (ActionExecution, error) {
		return ActionExecution{
			ExitCode:        0,
			OutputFilePaths: []string{"out.txt"},
			WorkingDir:      workDir,
		}, nil
	}

	result, err := ac.ExecuteAction(ctx, Digest("with-outputs"), exec)
	if err != nil {
		t.Fatal(err)
	}
	id, ok := result.OutputFiles["out.txt"]
	if !ok {
		t.Fatal("expected out.txt in OutputFiles")
	}
	if !ac.cas.Contains(id) {
		t.Fatal("expected output file content to be stored in the object store")
	}
}

func TestActionCache_ExecutionErrorIsNotCached(t *testing.T) {
	ac := newTestActionCache(t)
	ctx := context.Background()
	var calls atomic.Int32

	exec := func(ctx context.Context) (ActionExecution, error) {
		calls.Add(1)
		return ActionExecution{}, context.DeadlineExceeded
	}

	if _, err := ac.ExecuteAction(ctx, Digest("failing"), exec); err == nil {
		t.Fatal("expected an error")
	}
	if _, err := ac.ExecuteAction(ctx, Digest("failing"), exec); err == nil {
		t.Fatal("expected an error on retry too")
	}
	if calls.Load() != 2 {
		t.Fatalf("expected the failed execution to re-run on retry, ran %d times", calls.Load())
	}
}
