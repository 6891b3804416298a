package eviction

import "sync"

// arc implements Adaptive Replacement Cache eviction: four ordered lists T1
// (recent), T2 (frequent), B1/B2 (ghost lists of evicted keys) plus an
// adaptive target size p for T1.
//
// ARC's target size c is classically expressed in entry count, but this
// policy is configured with a byte capacity like LRU/LFU. c is approximated
// dynamically from capacityBytes divided by the current average entry size,
// recomputed on every insert — an approximation, not the classic fixed-c
// ARC, documented as an open design choice.
type arc struct {
	mu sync.Mutex

	capacityBytes int64
	usedBytes     int64
	p             float64 // adaptive target length of T1, in [0, c]

	t1, t2, b1, b2 *ring
	real           map[string]*node // keys currently in T1 or T2 (have a size)
	ghost          map[string]*node // keys currently in B1 or B2 (size always 0)
	loc            map[string]listID
}

type listID uint8

const (
	locNone listID = iota
	locT1
	locT2
	locB1
	locB2
)

func newARC(capacityBytes int64) *arc {
	return &arc{
		capacityBytes: capacityBytes,
		t1:            newRing(),
		t2:            newRing(),
		b1:            newRing(),
		b2:            newRing(),
		real:          make(map[string]*node),
		ghost:         make(map[string]*node),
		loc:           make(map[string]listID),
	}
}

func (a *arc) c() float64 {
	n := float64(len(a.real))
	if n == 0 {
		return 1
	}
	avg := float64(a.usedBytes) / n
	if avg < 1 {
		avg = 1
	}
	c := float64(a.capacityBytes) / avg
	if c < 1 {
		c = 1
	}
	return c
}

func maxF(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func minF(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}

// OnAccess handles a hit in T1 or T2: ARC case I, rotate into the MRU end of
// T2 regardless of which list it came from.
func (a *arc) OnAccess(key string, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.real[key]
	if !ok {
		return
	}
	switch a.loc[key] {
	case locT1:
		a.t1.remove(n)
	case locT2:
		a.t2.remove(n)
	default:
		return
	}
	a.t2.pushFront(n)
	a.loc[key] = locT2
}

// OnInsert handles a write for key: a replace of a live entry behaves like a
// hit; a key found in a ghost list adapts p and admits into T2; a brand-new
// key admits into T1.
func (a *arc) OnInsert(key string, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if n, ok := a.real[key]; ok {
		a.usedBytes += size - n.size
		n.size = size
		switch a.loc[key] {
		case locT1:
			a.t1.remove(n)
		case locT2:
			a.t2.remove(n)
		}
		a.t2.pushFront(n)
		a.loc[key] = locT2
		return
	}

	c := a.c()
	if gn, ok := a.ghost[key]; ok {
		switch a.loc[key] {
		case locB1:
			b1n, b2n := float64(a.b1.len()), float64(a.b2.len())
			ratio := 1.0
			if b1n > 0 {
				ratio = maxF(1, b2n/b1n)
			}
			a.p = minF(c, a.p+ratio)
			a.b1.remove(gn)
		case locB2:
			b1n, b2n := float64(a.b1.len()), float64(a.b2.len())
			ratio := 1.0
			if b2n > 0 {
				ratio = maxF(1, b1n/b2n)
			}
			a.p = maxF(0, a.p-ratio)
			a.b2.remove(gn)
		}
		delete(a.ghost, key)

		n := &node{key: key, size: size}
		a.real[key] = n
		a.t2.pushFront(n)
		a.loc[key] = locT2
		a.usedBytes += size
		return
	}

	// Brand new key: admit to T1.
	n := &node{key: key, size: size}
	a.real[key] = n
	a.t1.pushFront(n)
	a.loc[key] = locT1
	a.usedBytes += size
}

func (a *arc) OnRemove(key string, size int64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	n, ok := a.real[key]
	if !ok {
		return
	}
	switch a.loc[key] {
	case locT1:
		a.t1.remove(n)
	case locT2:
		a.t2.remove(n)
	}
	delete(a.real, key)
	delete(a.loc, key)
	a.usedBytes -= n.size
}

// NextEviction applies ARC's victim-selection rule: if |T1| > p, evict from
// the tail of T1 into B1; otherwise evict from the tail of T2 into B2. The
// victim moves into its ghost list immediately so that p-adaptation sees
// consistent state even before the caller confirms removal via OnRemove.
func (a *arc) NextEviction() (string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.usedBytes <= a.capacityBytes || len(a.real) == 0 {
		return "", false
	}

	var victim *node
	var fromT1 bool
	if float64(a.t1.len()) > a.p && !a.t1.empty() {
		victim = a.t1.back()
		fromT1 = true
	} else if !a.t2.empty() {
		victim = a.t2.back()
	} else if !a.t1.empty() {
		victim = a.t1.back()
		fromT1 = true
	}
	if victim == nil {
		return "", false
	}

	key := victim.key
	if fromT1 {
		a.t1.remove(victim)
	} else {
		a.t2.remove(victim)
	}
	delete(a.real, key)
	a.usedBytes -= victim.size

	ghostNode := &node{key: key}
	a.ghost[key] = ghostNode
	if fromT1 {
		a.b1.pushFront(ghostNode)
		a.loc[key] = locB1
	} else {
		a.b2.pushFront(ghostNode)
		a.loc[key] = locB2
	}
	a.trimGhosts()

	return key, true
}

// trimGhosts bounds |B1|+|B2| to 2c so ghost bookkeeping does not grow
// unboundedly for a long-running cache.
func (a *arc) trimGhosts() {
	c := int(a.c())
	for a.b1.len()+a.b2.len() > c*2 {
		if a.b1.len() > a.b2.len() {
			n := a.b1.back()
			if n == nil {
				break
			}
			a.b1.remove(n)
			delete(a.ghost, n.key)
			delete(a.loc, n.key)
		} else {
			n := a.b2.back()
			if n == nil {
				break
			}
			a.b2.remove(n)
			delete(a.ghost, n.key)
			delete(a.loc, n.key)
		}
	}
}

func (a *arc) MemoryUsage() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.usedBytes
}

func (a *arc) Clear() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.t1, a.t2, a.b1, a.b2 = newRing(), newRing(), newRing(), newRing()
	a.real = make(map[string]*node)
	a.ghost = make(map[string]*node)
	a.loc = make(map[string]listID)
	a.usedBytes = 0
	a.p = 0
}
