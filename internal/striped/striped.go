// Package striped provides a key-striped concurrent map: N independently
// locked shards, each a plain Go map, selected by a hash of the key. This is
// the Go-idiomatic replacement for the teacher's per-shard index, used here
// by the Unified KV Cache's hot tier.
//
// © 2025 taskcache authors. MIT License.
package striped

import (
	"sync"

	"github.com/cespare/xxhash/v2"

	"github.com/kestrelbuild/taskcache/internal/unsafehelpers"
)

// Map is a concurrent string-keyed map sharded across a fixed number of
// independently locked buckets.
type Map[V any] struct {
	shards []shard[V]
	mask   uint64
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// New constructs a Map with shardCount buckets, rounded up to the next power
// of two so key→shard selection can use a bitmask instead of a modulo.
func New[V any](shardCount int) *Map[V] {
	n := nextPowerOfTwo(shardCount)
	shards := make([]shard[V], n)
	for i := range shards {
		shards[i].m = make(map[string]V)
	}
	return &Map[V]{shards: shards, mask: uint64(n - 1)}
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	if unsafehelpers.IsPowerOfTwo(uintptr(n)) {
		return n
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := xxhash.Sum64String(key)
	return &m.shards[h&m.mask]
}

// Get returns the value for key and whether it was present.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores value under key.
func (m *Map[V]) Set(key string, value V) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[key] = value
}

// Delete removes key, if present.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.m, key)
}

// GetOrSet returns the existing value for key if present; otherwise it
// stores and returns value, reporting loaded=false.
func (m *Map[V]) GetOrSet(key string, value V) (actual V, loaded bool) {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return v, true
	}
	s.m[key] = value
	return value, false
}

// Len returns the total number of entries across all shards. It is an
// approximation under concurrent mutation.
func (m *Map[V]) Len() int {
	total := 0
	for i := range m.shards {
		m.shards[i].mu.RLock()
		total += len(m.shards[i].m)
		m.shards[i].mu.RUnlock()
	}
	return total
}

// Range calls fn for every entry. fn must not call back into the Map.
// Iteration order is unspecified and not a consistent snapshot across
// shards.
func (m *Map[V]) Range(fn func(key string, value V) bool) {
	for i := range m.shards {
		m.shards[i].mu.RLock()
		for k, v := range m.shards[i].m {
			if !fn(k, v) {
				m.shards[i].mu.RUnlock()
				return
			}
		}
		m.shards[i].mu.RUnlock()
	}
}

// Clear empties every shard.
func (m *Map[V]) Clear() {
	for i := range m.shards {
		m.shards[i].mu.Lock()
		m.shards[i].m = make(map[string]V)
		m.shards[i].mu.Unlock()
	}
}
