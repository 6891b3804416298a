// Package bench provides reproducible micro-benchmarks for taskcache.
// Run via: go test ./bench -bench=. -benchmem -cpu 1,4,16
//
// Benchmarks use a single value shape so results stay comparable across
// versions: a 64-byte payload, large enough to matter, small enough that
// compression overhead doesn't dominate.
//
// © 2025 taskcache authors. MIT License.
package bench

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"testing"
	"time"

	taskcache "github.com/kestrelbuild/taskcache/pkg"
)

const (
	maxMemory = 64 << 20
	ttl       = time.Minute
	numKeys   = 1 << 14
)

var dataset = func() []string {
	rnd := rand.New(rand.NewSource(42))
	keys := make([]string, numKeys)
	for i := range keys {
		keys[i] = fmt.Sprintf("bench-key-%d-%d", i, rnd.Uint64())
	}
	return keys
}()

var value64 = make([]byte, 64)

func newBenchCache(b *testing.B) *taskcache.Cache {
	dir := b.TempDir()
	c, err := taskcache.New(dir,
		taskcache.WithMaxMemorySize(maxMemory),
		taskcache.WithDefaultTTL(ttl),
		taskcache.WithCleanupInterval(0),
		taskcache.WithCompression(false, 0),
	)
	if err != nil {
		b.Fatalf("cache init: %v", err)
	}
	return c
}

func BenchmarkPut(b *testing.B) {
	c := newBenchCache(b)
	defer c.Close()
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := dataset[i&(numKeys-1)]
		if err := c.Put(ctx, key, value64, taskcache.TTL(ttl)); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGet(b *testing.B) {
	c := newBenchCache(b)
	defer c.Close()
	ctx := context.Background()
	for _, k := range dataset {
		if err := c.Put(ctx, k, value64, taskcache.TTL(ttl)); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		key := dataset[i&(numKeys-1)]
		if _, _, err := c.Get(ctx, key); err != nil {
			b.Fatal(err)
		}
	}
}

func BenchmarkGetParallel(b *testing.B) {
	c := newBenchCache(b)
	defer c.Close()
	ctx := context.Background()
	for _, k := range dataset {
		if err := c.Put(ctx, k, value64, taskcache.TTL(ttl)); err != nil {
			b.Fatal(err)
		}
	}

	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		idx := rand.Intn(numKeys)
		for pb.Next() {
			idx = (idx + 1) & (numKeys - 1)
			c.Get(ctx, dataset[idx])
		}
	})
}

func BenchmarkExecuteActionCacheHit(b *testing.B) {
	dir := b.TempDir()
	results, err := taskcache.New(dir,
		taskcache.WithMaxMemorySize(maxMemory),
		taskcache.WithCleanupInterval(0),
	)
	if err != nil {
		b.Fatalf("cache init: %v", err)
	}
	defer results.Close()

	casDir := dir + "/cas"
	if err := os.MkdirAll(casDir, 0o755); err != nil {
		b.Fatal(err)
	}
	cas, err := taskcache.NewObjectStore(taskcache.ObjectStoreConfig{Dir: casDir})
	if err != nil {
		b.Fatalf("objectstore init: %v", err)
	}
	actions := taskcache.NewActionCache(results, cas)
	ctx := context.Background()

	digest := taskcache.Digest("bench-digest")
	exec := func(ctx context.Context) (taskcache.ActionExecution, error) {
		b.Fatal("execute function should not run after the first call")
		return taskcache.ActionExecution{}, nil
	}
	if _, err := actions.ExecuteAction(ctx, digest, func(ctx context.Context) (taskcache.ActionExecution, error) {
		return taskcache.ActionExecution{ExitCode: 0}, nil
	}); err != nil {
		b.Fatal(err)
	}

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := actions.ExecuteAction(ctx, digest, exec); err != nil {
			b.Fatal(err)
		}
	}
}
