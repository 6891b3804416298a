// Package eviction implements the pluggable eviction policies — LRU, LFU,
// and ARC — that the Unified KV Cache consults when a write would exceed its
// configured capacity.
//
// © 2025 taskcache authors. MIT License.
package eviction

// Policy is the common contract every eviction algorithm implements. All
// methods must be safe for concurrent use; next_eviction may be called with
// loose consistency — a caller that acts on a stale nomination and finds the
// key already gone simply ignores it.
type Policy interface {
	OnAccess(key string, size int64)
	OnInsert(key string, size int64)
	OnRemove(key string, size int64)
	NextEviction() (key string, ok bool)
	MemoryUsage() int64
	Clear()
}

// Kind names a selectable eviction algorithm.
type Kind string

const (
	KindLRU Kind = "lru"
	KindLFU Kind = "lfu"
	KindARC Kind = "arc"
)

// New constructs a Policy of the given kind with the given capacity in
// bytes. Unknown kinds default to LRU, matching the default in spec
// configuration.
func New(kind Kind, capacityBytes int64) Policy {
	switch kind {
	case KindLFU:
		return newLFU(capacityBytes)
	case KindARC:
		return newARC(capacityBytes)
	default:
		return newLRU(capacityBytes)
	}
}
