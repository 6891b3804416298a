package storage

// segment.go rotates the active WAL segment by size bound and retains a
// bounded ring of recent segments, pruning the ones older than the last
// checkpoint. The rotate-on-threshold / reclaim-the-oldest shape is adapted
// from a generation ring that rotated fixed-size memory arenas; here the
// unit being rotated is a log segment file instead of a memory arena.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// segmentRing manages the active + retained WAL segment files under dir.
type segmentRing struct {
	mu              sync.Mutex
	dir             string
	maxSegmentBytes int64
	active          *WAL
	activeID        uint64
	retained        []uint64 // segment IDs older than active, newest last
}

func segmentPath(dir string, id uint64) string {
	return filepath.Join(dir, fmt.Sprintf("%020d.log", id))
}

// openSegmentRing discovers existing segment files under dir (if any) and
// opens (or creates) the newest one as active.
func openSegmentRing(dir string, maxSegmentBytes int64) (*segmentRing, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("storage: mkdir wal dir: %w", err)
	}
	ids, err := listSegmentIDs(dir)
	if err != nil {
		return nil, err
	}

	r := &segmentRing{dir: dir, maxSegmentBytes: maxSegmentBytes}
	if len(ids) == 0 {
		r.activeID = 1
	} else {
		r.activeID = ids[len(ids)-1]
		r.retained = ids[:len(ids)-1]
	}
	w, err := OpenWAL(segmentPath(dir, r.activeID))
	if err != nil {
		return nil, err
	}
	r.active = w
	return r, nil
}

func listSegmentIDs(dir string) ([]uint64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("storage: read wal dir: %w", err)
	}
	var ids []uint64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasSuffix(name, ".log") {
			continue
		}
		idStr := strings.TrimSuffix(name, ".log")
		id, err := strconv.ParseUint(idStr, 10, 64)
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids, nil
}

// Active returns the current writable WAL segment, rotating first if it has
// grown past maxSegmentBytes.
func (r *segmentRing) Active() (*WAL, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maxSegmentBytes > 0 {
		if fi, err := os.Stat(r.active.Path()); err == nil && fi.Size() >= r.maxSegmentBytes {
			if err := r.rotateLocked(); err != nil {
				return nil, err
			}
		}
	}
	return r.active, nil
}

func (r *segmentRing) rotateLocked() error {
	if err := r.active.Close(); err != nil {
		return fmt.Errorf("storage: close segment for rotation: %w", err)
	}
	r.retained = append(r.retained, r.activeID)
	r.activeID++
	w, err := OpenWAL(segmentPath(r.dir, r.activeID))
	if err != nil {
		return err
	}
	r.active = w
	return nil
}

// Segments returns the IDs of all segments (retained, oldest first, then
// active), for recovery scans.
func (r *segmentRing) Segments() []uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]uint64, 0, len(r.retained)+1)
	out = append(out, r.retained...)
	out = append(out, r.activeID)
	return out
}

func (r *segmentRing) PathFor(id uint64) string {
	return segmentPath(r.dir, id)
}

// CurrentActiveID returns the ID of the segment currently accepting writes.
// Every retained segment predates it, so it is the natural Prune cutoff for
// a checkpoint.
func (r *segmentRing) CurrentActiveID() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeID
}

// Prune removes every retained segment with ID < beforeID, i.e. all segments
// known to be fully reflected in the on-disk data+metadata as of the last
// checkpoint.
func (r *segmentRing) Prune(beforeID uint64) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	kept := r.retained[:0]
	for _, id := range r.retained {
		if id < beforeID {
			if err := os.Remove(segmentPath(r.dir, id)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("storage: prune segment %d: %w", id, err)
			}
			continue
		}
		kept = append(kept, id)
	}
	r.retained = kept
	return nil
}

// Close closes the active segment file.
func (r *segmentRing) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active.Close()
}
