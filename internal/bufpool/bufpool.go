// Package bufpool hides reusable scratch-buffer pooling behind a tiny,
// stable surface: Get() an arena, allocate bytes from it, Free() releases it
// back to the pool in one call. It provides the same bulk-acquire/release
// shape as an arena allocator, but on top of sync.Pool rather than Go's
// goexperiment.arenas build, since a production cache library cannot require
// callers to opt into an experimental GOEXPERIMENT to build it.
//
// © 2025 taskcache authors. MIT License.
package bufpool

import (
	"sync"

	"github.com/kestrelbuild/taskcache/internal/unsafehelpers"
)

// Arena is a scratch buffer handed out by a Pool. It is not safe for
// concurrent use — callers that already serialize access per shard or per
// key get that for free; nothing here adds extra locking.
type Arena struct {
	buf []byte
}

// AllocBytes copies buf into the arena's backing storage and returns the
// arena-owned copy. The returned slice is valid until Free.
func (a *Arena) AllocBytes(buf []byte) []byte {
	start := len(a.buf)
	a.buf = append(a.buf, buf...)
	return a.buf[start:len(a.buf):len(a.buf)]
}

// MakeSlice allocates n zeroed bytes from the arena.
func (a *Arena) MakeSlice(n int) []byte {
	start := len(a.buf)
	a.buf = append(a.buf, make([]byte, n)...)
	return a.buf[start : start+n]
}

func (a *Arena) reset() {
	a.buf = a.buf[:0]
}

// Pool hands out reset Arenas and reclaims them on Free, amortizing
// allocation across Get/Free cycles on the hot compression/decompression
// path.
type Pool struct {
	sync.Pool
}

// New constructs a Pool whose arenas start with the given initial capacity,
// rounded up to the nearest 64 bytes so repeated Get/Free cycles settle on a
// cache-line-friendly backing size instead of whatever odd value a caller
// happened to request.
func New(initialCap int) *Pool {
	cap := int(unsafehelpers.AlignUp(uintptr(initialCap), 64))
	p := &Pool{}
	p.Pool.New = func() any {
		return &Arena{buf: make([]byte, 0, cap)}
	}
	return p
}

// Get returns a reset Arena ready for use.
func (p *Pool) Get() *Arena {
	a := p.Pool.Get().(*Arena)
	a.reset()
	return a
}

// Free returns the arena to the pool. After Free, any slice previously
// returned by AllocBytes/MakeSlice on this arena must not be used again.
func (p *Pool) Free(a *Arena) {
	p.Pool.Put(a)
}
