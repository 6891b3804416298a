package cache

// fingerprint.go re-exports internal/fingerprint's task-identity types so
// callers can build an ActionCache key without importing an internal
// package.
//
// © 2025 taskcache authors. MIT License.

import "github.com/kestrelbuild/taskcache/internal/fingerprint"

type (
	// Algorithm selects the digest function used to fingerprint a task.
	Algorithm = fingerprint.Algorithm
	// TaskDescriptor captures everything that determines whether two task
	// invocations are cache-equivalent.
	TaskDescriptor = fingerprint.TaskDescriptor
	// Digest is a computed task fingerprint, used as an ActionCache key.
	Digest = fingerprint.Digest
	// Manifest records which input files contributed to a Digest and their
	// individual content hashes.
	Manifest = fingerprint.Manifest
	// FileEntry is one file's contribution to a Manifest.
	FileEntry = fingerprint.FileEntry
)

const (
	// AlgorithmSHA256 selects SHA-256, the default.
	AlgorithmSHA256 = fingerprint.SHA256
	// AlgorithmXXHash selects xxhash/v2 for faster, non-cryptographic
	// fingerprinting.
	AlgorithmXXHash = fingerprint.XXHash
)

// ComputeFingerprint fingerprints a task descriptor, returning its digest
// and the manifest of input files that contributed to it.
func ComputeFingerprint(td TaskDescriptor) (Digest, Manifest, error) {
	return fingerprint.Compute(td)
}

var (
	// ErrCacheKeyTooLong is returned when TaskDescriptor.CacheKey exceeds
	// fingerprint.MaxCacheKeyBytes.
	ErrCacheKeyTooLong = fingerprint.ErrCacheKeyTooLong
	// ErrCacheKeyHasNUL is returned when TaskDescriptor.CacheKey contains a
	// NUL byte.
	ErrCacheKeyHasNUL = fingerprint.ErrCacheKeyHasNUL
)
