// Package fingerprint computes the deterministic digest that identifies a
// cacheable task: its name, command, working directory, a declared subset of
// the environment, the content of its input files, and the schema version of
// the on-disk format.
//
// Canonical serialization keeps field order fixed (name, command, working
// directory, sorted env pairs, sorted input hashes, config, version) so that
// the same logical task always hashes to the same digest regardless of map
// iteration order or caller-supplied slice order.
//
// © 2025 taskcache authors. MIT License.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/cespare/xxhash/v2"

	"github.com/kestrelbuild/taskcache/internal/unsafehelpers"
)

// MaxCacheKeyBytes bounds an explicit TaskDescriptor.CacheKey override: keys
// are stored as shard-path components and WAL record fields, so an
// unbounded key could blow either out.
const MaxCacheKeyBytes = 1024

// ErrCacheKeyTooLong is returned by Compute when CacheKey exceeds
// MaxCacheKeyBytes.
var ErrCacheKeyTooLong = errors.New("fingerprint: cache key exceeds maximum length")

// ErrCacheKeyHasNUL is returned by Compute when CacheKey contains a NUL
// byte, which would corrupt the canonical field serialization.
var ErrCacheKeyHasNUL = errors.New("fingerprint: cache key contains a NUL byte")

// Algorithm selects the digest function used for both file hashes and the
// final fingerprint.
type Algorithm int

const (
	// SHA256 is the default, collision-resistant digest.
	SHA256 Algorithm = iota
	// XXHash is a fast, non-cryptographic digest intended for local dev
	// loops where collision resistance is not a security requirement.
	XXHash
)

func newHasher(alg Algorithm) hash.Hash {
	if alg == XXHash {
		return xxhash.New()
	}
	return sha256.New()
}

// TaskDescriptor is the caller-supplied description of a cacheable unit of
// work. Only EnvAllowlist entries are hashed — the full environment is never
// read into the fingerprint, so unrelated environment churn never causes a
// spurious cache miss.
type TaskDescriptor struct {
	Name         string
	Command      []string
	WorkingDir   string
	Env          map[string]string
	EnvAllowlist []string
	InputGlobs   []string
	BaseDir      string
	ConfigHash   string
	SchemaVersion uint32
	Algorithm    Algorithm

	// CacheKey, if set, is used verbatim as the digest input (together with
	// SchemaVersion) instead of computing one from Command/Env/InputGlobs. Callers that already know
	// their own stable identity (a build system with its own content
	// addressing, for instance) use this to skip glob expansion and file
	// hashing entirely.
	CacheKey string
}

// Digest is the hex-encoded fingerprint of a TaskDescriptor.
type Digest string

// String implements fmt.Stringer.
func (d Digest) String() string { return string(d) }

// Manifest records exactly which inputs contributed to a Digest, mirroring
// the manifest concept used to resolve why two fingerprints differ.
type Manifest struct {
	Digest     Digest
	Name       string
	InputFiles []FileEntry
	EnvKeys    []string
}

// FileEntry is one input file's path (relative to BaseDir) and content hash.
type FileEntry struct {
	Path string
	Hash string
}

// Compute expands TaskDescriptor.InputGlobs under BaseDir, hashes each
// matched file's content, and folds everything into a single digest. If
// td.CacheKey is set, it is validated and hashed directly, with
// td.SchemaVersion, instead.
func Compute(td TaskDescriptor) (Digest, Manifest, error) {
	if td.CacheKey != "" {
		if err := validateCacheKey(td.CacheKey); err != nil {
			return "", Manifest{}, err
		}
		h := newHasher(td.Algorithm)
		writeField(h, "cache_key", td.CacheKey)
		fmt.Fprintf(h, "version=%d\x00", td.SchemaVersion)
		return Digest(hex.EncodeToString(h.Sum(nil))), Manifest{Name: td.Name}, nil
	}

	files, err := expandGlobs(td.BaseDir, td.InputGlobs)
	if err != nil {
		return "", Manifest{}, fmt.Errorf("fingerprint: expand globs: %w", err)
	}
	sort.Strings(files)

	entries := make([]FileEntry, 0, len(files))
	for _, rel := range files {
		h, err := hashFile(td.Algorithm, td.BaseDir, rel)
		if err != nil {
			return "", Manifest{}, fmt.Errorf("fingerprint: hash %q: %w", rel, err)
		}
		entries = append(entries, FileEntry{Path: rel, Hash: h})
	}

	envKeys := make([]string, 0, len(td.EnvAllowlist))
	envKeys = append(envKeys, td.EnvAllowlist...)
	sort.Strings(envKeys)

	h := newHasher(td.Algorithm)
	writeField(h, "name", td.Name)
	writeField(h, "cmd", strings.Join(td.Command, "\x1f"))
	writeField(h, "cwd", td.WorkingDir)
	for _, k := range envKeys {
		writeField(h, "env:"+k, td.Env[k])
	}
	for _, e := range entries {
		writeField(h, "input:"+e.Path, e.Hash)
	}
	writeField(h, "config", td.ConfigHash)
	fmt.Fprintf(h, "version=%d\x00", td.SchemaVersion)

	return Digest(hex.EncodeToString(h.Sum(nil))), Manifest{
		Name:       td.Name,
		InputFiles: entries,
		EnvKeys:    envKeys,
	}, nil
}

func writeField(h hash.Hash, name, value string) {
	h.Write(unsafehelpers.StringToBytes(name))
	h.Write([]byte{'='})
	h.Write(unsafehelpers.StringToBytes(value))
	h.Write([]byte{0})
}

func validateCacheKey(key string) error {
	if len(key) > MaxCacheKeyBytes {
		return fmt.Errorf("%w: %d bytes", ErrCacheKeyTooLong, len(key))
	}
	if strings.IndexByte(key, 0) >= 0 {
		return ErrCacheKeyHasNUL
	}
	return nil
}

func expandGlobs(baseDir string, globs []string) ([]string, error) {
	seen := make(map[string]struct{})
	var out []string
	for _, g := range globs {
		matches, err := doublestar.Glob(os.DirFS(baseDir), g)
		if err != nil {
			return nil, fmt.Errorf("glob %q: %w", g, err)
		}
		for _, m := range matches {
			if strings.Contains(m, "..") {
				return nil, fmt.Errorf("glob %q matched path escaping base dir: %q", g, m)
			}
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
		}
	}
	return out, nil
}

func hashFile(alg Algorithm, baseDir, rel string) (string, error) {
	f, err := os.Open(joinPath(baseDir, rel))
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := newHasher(alg)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func joinPath(baseDir, rel string) string {
	if baseDir == "" {
		return rel
	}
	return baseDir + string(os.PathSeparator) + rel
}
