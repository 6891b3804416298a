// Package objectstore implements the content-addressed object store: every
// blob is named by the SHA-256 digest of its own content, stored under a
// 256-way sharded directory layout (first two hex characters of the digest
// select the shard), and written atomically via temp-file-plus-rename so a
// reader never observes a partially written object.
//
// Blobs at or below InlineThreshold are returned as in-memory refs instead of
// being written to disk — the object store is still the sole namer of
// content, it just defers the file write for small values.
//
// © 2025 taskcache authors. MIT License.
package objectstore

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/semaphore"
)

// ErrNotFound is returned by Retrieve when no object with the given ID exists.
var ErrNotFound = errors.New("objectstore: object not found")

// ID is the hex-encoded SHA-256 digest naming an object.
type ID string

// Ref describes a stored object: either inline bytes (small objects) or a
// path on disk (large objects). Exactly one of Inline / Path is populated.
type Ref struct {
	ID     ID
	Size   int64
	Inline []byte
	Path   string
}

// Store is a content-addressed blob store rooted at Dir.
type Store struct {
	dir             string
	inlineThreshold int64
	writeSem        *semaphore.Weighted

	inlineMu sync.RWMutex
	inline   map[ID][]byte
}

// Config configures a Store.
type Config struct {
	Dir             string
	InlineThreshold int64 // blobs <= this size are returned inline, not written to disk
	MaxConcurrentWrites int64
}

// New opens (and creates, if absent) a content-addressed store rooted at
// cfg.Dir.
func New(cfg Config) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("objectstore: Dir is required")
	}
	if cfg.MaxConcurrentWrites <= 0 {
		cfg.MaxConcurrentWrites = 64
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("objectstore: mkdir root: %w", err)
	}
	for i := 0; i < 256; i++ {
		shard := filepath.Join(cfg.Dir, fmt.Sprintf("%02x", i))
		if err := os.MkdirAll(shard, 0o755); err != nil {
			return nil, fmt.Errorf("objectstore: mkdir shard %s: %w", shard, err)
		}
	}
	return &Store{
		dir:             cfg.Dir,
		inlineThreshold: cfg.InlineThreshold,
		writeSem:        semaphore.NewWeighted(cfg.MaxConcurrentWrites),
		inline:          make(map[ID][]byte),
	}, nil
}

// putInline records data under id so later lookups by ID alone (Retrieve,
// Contains) can find a blob that was never written to disk.
func (s *Store) putInline(id ID, data []byte) {
	s.inlineMu.Lock()
	s.inline[id] = data
	s.inlineMu.Unlock()
}

func (s *Store) getInline(id ID) ([]byte, bool) {
	s.inlineMu.RLock()
	data, ok := s.inline[id]
	s.inlineMu.RUnlock()
	return data, ok
}

func (s *Store) pathFor(id ID) string {
	str := string(id)
	if len(str) < 2 {
		return filepath.Join(s.dir, "00", str)
	}
	return filepath.Join(s.dir, str[:2], str)
}

// Store writes data into the object store, content-addressed by its own
// digest, and returns a Ref. If len(data) <= InlineThreshold, the blob is not
// written to disk at all and Ref.Inline carries the bytes.
func (s *Store) Store(ctx context.Context, data []byte) (Ref, error) {
	sum := sha256.Sum256(data)
	id := ID(hex.EncodeToString(sum[:]))

	if int64(len(data)) <= s.inlineThreshold {
		s.putInline(id, data)
		return Ref{ID: id, Size: int64(len(data)), Inline: data}, nil
	}

	path := s.pathFor(id)
	if _, err := os.Stat(path); err == nil {
		return Ref{ID: id, Size: int64(len(data)), Path: path}, nil // already present, content-addressed dedup
	}

	if err := s.writeSem.Acquire(ctx, 1); err != nil {
		return Ref{}, fmt.Errorf("objectstore: acquire write permit: %w", err)
	}
	defer s.writeSem.Release(1)

	if err := writeAtomic(path, data); err != nil {
		return Ref{}, fmt.Errorf("objectstore: write %s: %w", id, err)
	}
	return Ref{ID: id, Size: int64(len(data)), Path: path}, nil
}

// StoreReader streams src into the store, computing its digest as it
// streams. The content length is whatever src yields, and the inline
// decision is made on that streamed length once src is exhausted.
func (s *Store) StoreReader(ctx context.Context, src io.Reader) (Ref, error) {
	tmp, err := os.CreateTemp(s.dir, "stage-*")
	if err != nil {
		return Ref{}, fmt.Errorf("objectstore: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		if removeTmp {
			os.Remove(tmpPath)
		}
	}()

	h := sha256.New()
	size, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		tmp.Close()
		return Ref{}, fmt.Errorf("objectstore: copy: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return Ref{}, fmt.Errorf("objectstore: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return Ref{}, fmt.Errorf("objectstore: close temp: %w", err)
	}

	id := ID(hex.EncodeToString(h.Sum(nil)))

	if size <= s.inlineThreshold {
		data, err := os.ReadFile(tmpPath)
		if err != nil {
			return Ref{}, fmt.Errorf("objectstore: read staged inline blob: %w", err)
		}
		s.putInline(id, data)
		return Ref{ID: id, Size: size, Inline: data}, nil
	}

	if err := s.writeSem.Acquire(ctx, 1); err != nil {
		return Ref{}, fmt.Errorf("objectstore: acquire write permit: %w", err)
	}
	defer s.writeSem.Release(1)

	path := s.pathFor(id)
	if _, err := os.Stat(path); err == nil {
		return Ref{ID: id, Size: size, Path: path}, nil
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return Ref{}, fmt.Errorf("objectstore: rename into place: %w", err)
	}
	removeTmp = false
	return Ref{ID: id, Size: size, Path: path}, nil
}

// Retrieve opens the object named by id. Callers must Close the returned
// ReadCloser. Blobs at or below InlineThreshold were never written to disk;
// Retrieve serves those from the in-memory inline table instead.
func (s *Store) Retrieve(id ID) (io.ReadCloser, error) {
	if data, ok := s.getInline(id); ok {
		return io.NopCloser(bytes.NewReader(data)), nil
	}
	f, err := os.Open(s.pathFor(id))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("objectstore: open %s: %w", id, err)
	}
	return f, nil
}

// Contains reports whether an object named by id exists, inline or on disk.
func (s *Store) Contains(id ID) bool {
	if _, ok := s.getInline(id); ok {
		return true
	}
	_, err := os.Stat(s.pathFor(id))
	return err == nil
}

// Remove deletes the object named by id, if present, from whichever of the
// inline table or disk holds it. It is not an error to remove a
// non-existent object.
func (s *Store) Remove(id ID) error {
	s.inlineMu.Lock()
	_, wasInline := s.inline[id]
	delete(s.inline, id)
	s.inlineMu.Unlock()
	if wasInline {
		return nil
	}
	err := os.Remove(s.pathFor(id))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("objectstore: remove %s: %w", id, err)
	}
	return nil
}

func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "stage-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	success := false
	defer func() {
		if !success {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return err
	}
	success = true
	return nil
}
