package cache

// stream.go exposes a streaming read/write surface over the byte-oriented
// Get/Put, for values large enough that buffering them whole would be
// wasteful. Writes stream straight to a staged temp file while hashing, then
// rename into place — the same technique internal/objectstore/objectstore.go
// uses for StoreReader — instead of accumulating the value in a bytes.Buffer
// first. Reads already resident in a faster tier are served from there;
// anything else streams directly off the Storage Backend's data file rather
// than materializing the whole value via Get first.
//
// Streamed writes cannot know the total size in advance, so they skip the
// Quota Manager's proactive admission check and the hot-tier/fast-path
// mirror population Put performs; a MaxEntrySize violation is caught after
// the fact (the write is committed, then removed) rather than rejected
// up front, and the next Get simply reads the value through from the
// Storage Backend like any other cold entry.
//
// © 2025 taskcache authors. MIT License.

import (
	"bytes"
	"context"
	"io"
	"time"

	"go.uber.org/zap"

	"github.com/kestrelbuild/taskcache/internal/storage"
)

// GetReader returns a reader over the value stored under key, if present.
func (c *Cache) GetReader(ctx context.Context, key string) (io.ReadCloser, bool, error) {
	if !c.mode.allowsRead() {
		return nil, false, nil
	}
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	if v, ok := c.fast.Get(key); ok {
		return io.NopCloser(bytes.NewReader(v)), true, nil
	}

	now := time.Now()
	if e, ok := c.hot.Get(key); ok {
		e.mu.Lock()
		if e.expired(now) {
			e.mu.Unlock()
			c.removeInternal(key)
			return nil, false, nil
		}
		value := append([]byte(nil), e.value...)
		e.mu.Unlock()
		return io.NopCloser(bytes.NewReader(value)), true, nil
	}

	if err := c.readSem.Acquire(ctx, 1); err != nil {
		return nil, false, newErr(KindTimeout, "GetReader", key, "", err)
	}
	defer c.readSem.Release(1)

	rc, _, err := c.backend.GetReader(key)
	switch {
	case err == storage.ErrNotFound:
		return nil, false, nil
	case err == storage.ErrCorrupted:
		c.logger.Warn("corrupted entry self-healed", zap.String("key", key))
		return nil, false, nil
	case err != nil:
		return nil, false, newErr(KindIoFailure, "GetReader", key, "", err)
	}
	return rc, true, nil
}

// cacheWriter pipes everything written to it straight into a Backend.PutReader
// call running on its own goroutine, so the value is staged to disk as it is
// written rather than accumulated in memory first.
type cacheWriter struct {
	pw     *io.PipeWriter
	done   <-chan error
	closed bool
}

func (w *cacheWriter) Write(p []byte) (int, error) {
	if w.closed {
		return 0, io.ErrClosedPipe
	}
	return w.pw.Write(p)
}

func (w *cacheWriter) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	w.pw.Close()
	return <-w.done
}

// GetWriter returns a writer that streams everything written to it straight
// to the Storage Backend and commits it under key on Close. ttl follows
// Put's convention: nil uses the configured DefaultTTL, a non-nil ttl
// (including one pointing at zero) is used exactly as given.
func (c *Cache) GetWriter(ctx context.Context, key string, ttl *time.Duration) io.WriteCloser {
	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := c.putStream(ctx, key, pr, ttl)
		if err != nil {
			pr.CloseWithError(err)
		} else {
			pr.Close()
		}
		done <- err
	}()
	return &cacheWriter{pw: pw, done: done}
}

// putStream commits src under key via the Storage Backend's streaming write
// path. It mirrors Put's bookkeeping except for the admission check (the
// final size is unknown until src is fully consumed) and hot-tier/fast-path
// population (nothing here holds the value in memory to mirror).
func (c *Cache) putStream(ctx context.Context, key string, src io.Reader, ttl *time.Duration) error {
	start := time.Now()
	defer func() { c.metrics.observeLatency("put", time.Since(start)) }()

	if !c.mode.allowsWrite() {
		_, _ = io.Copy(io.Discard, src)
		return nil
	}
	if err := validateKey(key); err != nil {
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return err
	}
	effectiveTTL := c.cfg.DefaultTTL
	if ttl != nil {
		effectiveTTL = *ttl
	}

	if err := c.writeSem.Acquire(ctx, 1); err != nil {
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return newErr(KindTimeout, "Put", key, "", err)
	}
	defer c.writeSem.Release(1)

	meta, err := c.backend.PutReader(key, src, effectiveTTL)
	if err != nil {
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return newErr(KindIoFailure, "Put", key, "check permissions and disk space", err)
	}
	if meta.SizeBytes > c.cfg.MaxEntrySize {
		c.backend.Remove(key)
		c.metrics.incError("put")
		c.stats.errors.Add(1)
		return newErr(KindCapacityExceeded, "Put", key, "streamed value exceeded MaxEntrySize", nil)
	}
	c.quotaMgr.RecordDiskUsage(c.cfg.Dir, meta.SizeBytes)

	old, existed := c.hot.Get(key)
	if !existed {
		c.stats.entryCount.Add(1)
	} else {
		// Drop the superseded hot-tier copy so the next Get reads through.
		old.close()
		c.hot.Delete(key)
	}
	c.fast.Remove(key)
	c.stats.totalBytes.Add(meta.SizeBytes)
	c.policy.OnInsert(key, meta.SizeBytes)

	c.metrics.incWrite()
	c.stats.writes.Add(1)
	c.metrics.setEntryCount(c.stats.entryCount.Load())
	c.metrics.setTotalBytes(c.stats.totalBytes.Load())
	return nil
}
