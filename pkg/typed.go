package cache

// typed.go adds generic, type-safe accessors over the byte-oriented Cache.
// encoding/gob is the one sanctioned standard-library exception in this
// module (see DESIGN.md): there is no ecosystem serialization library common
// to the retrieval pack, gob is already in every Go toolchain, and values
// round-tripped through it never cross a process boundary where a stable
// wire format would matter.
//
// © 2025 taskcache authors. MIT License.

import (
	"bytes"
	"context"
	"encoding/gob"
	"time"
)

// Get decodes the value stored under key into a T, if present.
func Get[T any](ctx context.Context, c *Cache, key string) (T, bool, error) {
	var zero T
	raw, ok, err := c.Get(ctx, key)
	if err != nil || !ok {
		return zero, ok, err
	}
	var v T
	if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&v); err != nil {
		return zero, false, newErr(KindCorruption, "Get", key, "stored value is not a valid gob encoding of the requested type", err)
	}
	return v, true, nil
}

// Put gob-encodes v and stores it under key with the given ttl (nil means
// "use the configured default TTL"; see Cache.Put).
func Put[T any](ctx context.Context, c *Cache, key string, v T, ttl *time.Duration) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return newErr(KindInvalidKey, "Put", key, "value is not gob-encodable", err)
	}
	return c.Put(ctx, key, buf.Bytes(), ttl)
}
