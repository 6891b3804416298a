package storage

import (
	"bytes"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/kestrelbuild/taskcache/internal/bufpool"
	"github.com/kestrelbuild/taskcache/internal/unsafehelpers"
)

// ErrNotFound is returned by Get when no entry exists for a key.
var ErrNotFound = errors.New("storage: entry not found")

// ErrCorrupted is returned by Get when the on-disk pair for a key failed
// integrity verification. The backend removes the corrupted pair before
// returning this error, so the caller's next Put will succeed cleanly.
var ErrCorrupted = errors.New("storage: corrupted entry removed")

// ErrVersionMismatch is returned by Open when an existing root's VERSION
// file names a schema version different from cfg.CacheVersion.
var ErrVersionMismatch = errors.New("storage: on-disk cache version mismatch")

// Config configures a Backend.
type Config struct {
	Dir                 string
	MaxSegmentBytes     int64
	CompressionEnabled  bool
	CompressionMinSize  int
	CompressionLevel    zstd.EncoderLevel
	CacheVersion        uint32
}

// Backend is the on-disk Storage Backend: compression, checksums, WAL, and
// atomic multi-file updates for the Unified KV Cache's cold tier.
type Backend struct {
	cfg         Config
	objectsDir  string
	metadataDir string
	ring        *segmentRing
	encoder     *zstd.Encoder
	decoder     *zstd.Decoder
	scratch     *bufpool.Pool
}

// Open opens (creating if absent) a Storage Backend rooted at cfg.Dir and
// replays its write-ahead log to recover from any incomplete transactions.
func Open(cfg Config) (*Backend, error) {
	if cfg.Dir == "" {
		return nil, errors.New("storage: Dir is required")
	}
	if cfg.MaxSegmentBytes <= 0 {
		cfg.MaxSegmentBytes = 64 << 20
	}
	if cfg.CompressionMinSize <= 0 {
		cfg.CompressionMinSize = 256
	}

	objectsDir := filepath.Join(cfg.Dir, "objects")
	metadataDir := filepath.Join(cfg.Dir, "metadata")
	walDir := filepath.Join(cfg.Dir, "wal")

	for _, base := range []string{objectsDir, metadataDir} {
		for i := 0; i < 256; i++ {
			if err := os.MkdirAll(filepath.Join(base, fmt.Sprintf("%02x", i)), 0o755); err != nil {
				return nil, fmt.Errorf("storage: mkdir shard: %w", err)
			}
		}
	}

	if err := checkOrWriteVersion(cfg.Dir, cfg.CacheVersion); err != nil {
		return nil, err
	}

	ring, err := openSegmentRing(walDir, cfg.MaxSegmentBytes)
	if err != nil {
		return nil, err
	}

	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(encoderLevelOrDefault(cfg.CompressionLevel)))
	if err != nil {
		return nil, fmt.Errorf("storage: new zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("storage: new zstd decoder: %w", err)
	}

	b := &Backend{
		cfg:         cfg,
		objectsDir:  objectsDir,
		metadataDir: metadataDir,
		ring:        ring,
		encoder:     enc,
		decoder:     dec,
		scratch:     bufpool.New(4096),
	}
	if err := b.recover(); err != nil {
		return nil, fmt.Errorf("storage: recovery: %w", err)
	}
	return b, nil
}

func encoderLevelOrDefault(l zstd.EncoderLevel) zstd.EncoderLevel {
	if l == 0 {
		return zstd.SpeedDefault
	}
	return l
}

func hashKey(key string) string {
	sum := sha256.Sum256(unsafehelpers.StringToBytes(key))
	return hex.EncodeToString(sum[:])
}

// checkOrWriteVersion compares dir's VERSION file against version, writing
// it on first use. A mismatch means the root was created by a different
// schema version and must not be read with the current code.
func checkOrWriteVersion(dir string, version uint32) error {
	path := filepath.Join(dir, "VERSION")
	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("storage: read VERSION: %w", err)
		}
		return writeTempThenRename(dir, path, []byte(strconv.FormatUint(uint64(version), 10)))
	}
	stored, err := strconv.ParseUint(strings.TrimSpace(string(data)), 10, 32)
	if err != nil {
		return fmt.Errorf("storage: parse VERSION: %w", err)
	}
	if uint32(stored) != version {
		return fmt.Errorf("%w: on-disk version %d, code expects %d", ErrVersionMismatch, stored, version)
	}
	return nil
}

func (b *Backend) shardPath(base, hash string) string {
	return filepath.Join(base, hash[:2], hash)
}

func (b *Backend) dataPath(hash string) string     { return b.shardPath(b.objectsDir, hash) }

// DataPath returns the on-disk path of key's data file, for callers (the
// Unified KV Cache's hot-tier promotion) that want to memory-map a large
// raw-encoded value directly instead of copying it through Get.
func (b *Backend) DataPath(key string) string { return b.dataPath(hashKey(key)) }

// ObjectHeaderSize exposes the fixed header size so callers mapping a data
// file directly know how many leading bytes to skip to reach the payload.
func ObjectHeaderSize() int { return objectHeaderSize }
func (b *Backend) metaPath(hash string) string      { return b.shardPath(b.metadataDir, hash) + ".meta" }

// Put writes value under key, following the write protocol: BEGIN → data
// temp+fsync → rename data → metadata temp+fsync → rename metadata → COMMIT.
// The data file is renamed into place before the metadata temp file is
// written, so metadata is never visible without its data file.
func (b *Backend) Put(key string, value []byte, ttl time.Duration) (CacheMetadata, error) {
	hash := hashKey(key)
	wal, err := b.ring.Active()
	if err != nil {
		return CacheMetadata{}, err
	}
	txID := wal.NextTxID()
	if err := wal.Append(txID, OpBegin, beginPayload(OpPut, hash)); err != nil {
		return CacheMetadata{}, err
	}

	encoding := EncodingRaw
	payload := value
	if b.cfg.CompressionEnabled && len(value) >= b.cfg.CompressionMinSize {
		arena := b.scratch.Get()
		payload = b.encoder.EncodeAll(value, arena.MakeSlice(0))
		encoding = EncodingZstd
		defer b.scratch.Free(arena)
	}
	header := ObjectHeader{
		Version:          objectVersion,
		Encoding:         encoding,
		UncompressedSize: uint32(len(value)),
		CRC32C:           ChecksumPayload(payload),
	}
	objectBytes := EncodeObject(header, payload)

	contentHash := sha256.Sum256(value)
	now := time.Now()
	meta := CacheMetadata{
		CreatedAt:    now,
		LastAccessed: now,
		SizeBytes:    int64(len(value)),
		ContentHash:  contentHash,
		CacheVersion: b.cfg.CacheVersion,
	}
	if ttl > 0 {
		meta.HasExpiry = true
		meta.ExpiresAt = now.Add(ttl)
	} else if ttl == 0 {
		meta.HasExpiry = true
		meta.ExpiresAt = now // zero TTL: immediately expired
	}
	metaBytes := EncodeMetadata(meta)

	if err := writeTempThenRename(filepath.Dir(b.dataPath(hash)), b.dataPath(hash), objectBytes); err != nil {
		return CacheMetadata{}, fmt.Errorf("storage: write data: %w", err)
	}
	if err := writeTempThenRename(filepath.Dir(b.metaPath(hash)), b.metaPath(hash), metaBytes); err != nil {
		return CacheMetadata{}, fmt.Errorf("storage: write metadata: %w", err)
	}

	if err := wal.Append(txID, OpCommit, beginPayload(OpPut, hash)); err != nil {
		return CacheMetadata{}, err
	}
	return meta, nil
}

// Get reads the value and metadata for key. Expired or corrupted entries are
// removed and reported as ErrNotFound / ErrCorrupted respectively (both are
// cache misses to the caller).
func (b *Backend) Get(key string) ([]byte, CacheMetadata, error) {
	hash := hashKey(key)

	metaBytes, err := os.ReadFile(b.metaPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, CacheMetadata{}, ErrNotFound
		}
		return nil, CacheMetadata{}, fmt.Errorf("storage: read metadata: %w", err)
	}
	meta, _, err := DecodeMetadata(metaBytes)
	if err != nil {
		b.removePair(hash)
		return nil, CacheMetadata{}, ErrCorrupted
	}
	if meta.HasExpiry && !meta.ExpiresAt.After(time.Now()) {
		b.removePair(hash)
		return nil, CacheMetadata{}, ErrNotFound
	}

	raw, err := os.ReadFile(b.dataPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			// metadata without data: corrupted, not a valid state.
			b.removePair(hash)
			return nil, CacheMetadata{}, ErrCorrupted
		}
		return nil, CacheMetadata{}, fmt.Errorf("storage: read data: %w", err)
	}
	header, payload, err := DecodeObject(raw)
	if err != nil {
		b.removePair(hash)
		return nil, CacheMetadata{}, ErrCorrupted
	}

	value := payload
	if header.Encoding == EncodingZstd {
		value, err = b.decoder.DecodeAll(payload, make([]byte, 0, header.UncompressedSize))
		if err != nil {
			b.removePair(hash)
			return nil, CacheMetadata{}, ErrCorrupted
		}
	}
	if sha256.Sum256(value) != meta.ContentHash {
		b.removePair(hash)
		return nil, CacheMetadata{}, ErrCorrupted
	}
	return value, meta, nil
}

// Remove deletes the entry for key (metadata first, then data, mirroring the
// reverse of the put ordering rule) and reports whether it previously
// existed.
func (b *Backend) Remove(key string) (bool, error) {
	hash := hashKey(key)
	wal, err := b.ring.Active()
	if err != nil {
		return false, err
	}
	txID := wal.NextTxID()
	if err := wal.Append(txID, OpBegin, beginPayload(OpRemove, hash)); err != nil {
		return false, err
	}
	existed := b.removePair(hash)
	if err := wal.Append(txID, OpCommit, beginPayload(OpRemove, hash)); err != nil {
		return existed, err
	}
	return existed, nil
}

func (b *Backend) removePair(hash string) bool {
	_, metaErr := os.Stat(b.metaPath(hash))
	existed := metaErr == nil
	os.Remove(b.metaPath(hash))
	os.Remove(b.dataPath(hash))
	return existed
}

// Clear removes every entry from both tiers of on-disk storage.
func (b *Backend) Clear() error {
	wal, err := b.ring.Active()
	if err != nil {
		return err
	}
	txID := wal.NextTxID()
	if err := wal.Append(txID, OpBegin, beginPayload(OpClear, "")); err != nil {
		return err
	}
	for _, base := range []string{b.objectsDir, b.metadataDir} {
		for i := 0; i < 256; i++ {
			shard := filepath.Join(base, fmt.Sprintf("%02x", i))
			entries, err := os.ReadDir(shard)
			if err != nil {
				continue
			}
			for _, e := range entries {
				os.Remove(filepath.Join(shard, e.Name()))
			}
		}
	}
	return wal.Append(txID, OpCommit, beginPayload(OpClear, ""))
}

// Close flushes and closes the active WAL segment.
func (b *Backend) Close() error {
	return b.ring.Close()
}

// Checkpoint prunes WAL segments no longer needed for crash recovery. A
// segment's records are durable the moment their COMMIT lands (the data and
// metadata files are fsynced and renamed into place before COMMIT is
// appended), so once a segment has rotated out it carries no information the
// current data/metadata files don't already reflect.
func (b *Backend) Checkpoint() error {
	return b.ring.Prune(b.ring.CurrentActiveID())
}

// SweepDisk scans every on-disk metadata file for expiry and scans both
// metadata and object directories for orphans — a metadata file whose data
// file is missing, or a data file whose metadata file is missing. It
// complements the Unified KV Cache's in-memory hot-tier sweep, which only
// ever sees entries that this process has put or read and still holds in
// the hot tier.
func (b *Backend) SweepDisk(now time.Time) (expired, orphaned int, err error) {
	for i := 0; i < 256; i++ {
		shard := filepath.Join(b.metadataDir, fmt.Sprintf("%02x", i))
		entries, derr := os.ReadDir(shard)
		if derr != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if !strings.HasSuffix(name, ".meta") {
				continue
			}
			hash := strings.TrimSuffix(name, ".meta")
			metaBytes, rerr := os.ReadFile(filepath.Join(shard, name))
			if rerr != nil {
				continue
			}
			meta, _, derr2 := DecodeMetadata(metaBytes)
			if derr2 != nil {
				b.removePair(hash)
				orphaned++
				continue
			}
			if meta.HasExpiry && !meta.ExpiresAt.After(now) {
				b.removePair(hash)
				expired++
				continue
			}
			if _, serr := os.Stat(b.dataPath(hash)); os.IsNotExist(serr) {
				os.Remove(filepath.Join(shard, name))
				orphaned++
			}
		}
	}
	for i := 0; i < 256; i++ {
		shard := filepath.Join(b.objectsDir, fmt.Sprintf("%02x", i))
		entries, derr := os.ReadDir(shard)
		if derr != nil {
			continue
		}
		for _, e := range entries {
			name := e.Name()
			if strings.HasPrefix(name, "stage-") {
				continue
			}
			if _, serr := os.Stat(b.metaPath(name)); os.IsNotExist(serr) {
				os.Remove(filepath.Join(shard, name))
				orphaned++
			}
		}
	}
	return expired, orphaned, nil
}

// PutReader streams src into storage under key, computing its content hash
// and CRC32C as it goes instead of buffering the whole value in memory
// first, following the same stage-then-rename technique as the object
// store's StoreReader. Streamed values are always stored raw (EncodingRaw):
// compression needs the complete payload in hand to know its compressed
// length up front, which would defeat the point of not buffering it.
func (b *Backend) PutReader(key string, src io.Reader, ttl time.Duration) (CacheMetadata, error) {
	hash := hashKey(key)
	wal, err := b.ring.Active()
	if err != nil {
		return CacheMetadata{}, err
	}
	txID := wal.NextTxID()
	if err := wal.Append(txID, OpBegin, beginPayload(OpPut, hash)); err != nil {
		return CacheMetadata{}, err
	}

	tmp, err := os.CreateTemp(filepath.Dir(b.dataPath(hash)), "stage-*")
	if err != nil {
		return CacheMetadata{}, fmt.Errorf("storage: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	removeTmp := true
	defer func() {
		if removeTmp {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(make([]byte, objectHeaderSize)); err != nil {
		tmp.Close()
		return CacheMetadata{}, fmt.Errorf("storage: reserve header: %w", err)
	}

	sum := sha256.New()
	crc := crc32.New(crcTable)
	size, err := io.Copy(tmp, io.TeeReader(src, io.MultiWriter(sum, crc)))
	if err != nil {
		tmp.Close()
		return CacheMetadata{}, fmt.Errorf("storage: copy: %w", err)
	}

	header := encodeObjectHeader(ObjectHeader{
		Version:          objectVersion,
		Encoding:         EncodingRaw,
		UncompressedSize: uint32(size),
		CRC32C:           crc.Sum32(),
	})
	if _, err := tmp.WriteAt(header, 0); err != nil {
		tmp.Close()
		return CacheMetadata{}, fmt.Errorf("storage: patch header: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return CacheMetadata{}, fmt.Errorf("storage: fsync: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return CacheMetadata{}, fmt.Errorf("storage: close temp: %w", err)
	}

	var contentHash [32]byte
	copy(contentHash[:], sum.Sum(nil))
	now := time.Now()
	meta := CacheMetadata{
		CreatedAt:    now,
		LastAccessed: now,
		SizeBytes:    size,
		ContentHash:  contentHash,
		CacheVersion: b.cfg.CacheVersion,
	}
	if ttl > 0 {
		meta.HasExpiry = true
		meta.ExpiresAt = now.Add(ttl)
	} else if ttl == 0 {
		meta.HasExpiry = true
		meta.ExpiresAt = now
	}
	metaBytes := EncodeMetadata(meta)

	if err := os.Rename(tmpPath, b.dataPath(hash)); err != nil {
		return CacheMetadata{}, fmt.Errorf("storage: rename data into place: %w", err)
	}
	removeTmp = false
	if err := writeTempThenRename(filepath.Dir(b.metaPath(hash)), b.metaPath(hash), metaBytes); err != nil {
		return CacheMetadata{}, fmt.Errorf("storage: write metadata: %w", err)
	}

	if err := wal.Append(txID, OpCommit, beginPayload(OpPut, hash)); err != nil {
		return CacheMetadata{}, err
	}
	return meta, nil
}

// GetReader opens a reader over the value stored under key without
// buffering it into memory first. For a raw-encoded value the stored CRC32C
// cannot be verified until every byte has been read, so a checksum mismatch
// surfaces from the returned ReadCloser's Close rather than from Read or
// GetReader itself. The reader returned for a zstd-encoded value does not
// check the header CRC32C.
func (b *Backend) GetReader(key string) (io.ReadCloser, CacheMetadata, error) {
	hash := hashKey(key)

	metaBytes, err := os.ReadFile(b.metaPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, CacheMetadata{}, ErrNotFound
		}
		return nil, CacheMetadata{}, fmt.Errorf("storage: read metadata: %w", err)
	}
	meta, _, err := DecodeMetadata(metaBytes)
	if err != nil {
		b.removePair(hash)
		return nil, CacheMetadata{}, ErrCorrupted
	}
	if meta.HasExpiry && !meta.ExpiresAt.After(time.Now()) {
		b.removePair(hash)
		return nil, CacheMetadata{}, ErrNotFound
	}

	f, err := os.Open(b.dataPath(hash))
	if err != nil {
		if os.IsNotExist(err) {
			b.removePair(hash)
			return nil, CacheMetadata{}, ErrCorrupted
		}
		return nil, CacheMetadata{}, fmt.Errorf("storage: open data: %w", err)
	}

	headerBuf := make([]byte, objectHeaderSize)
	if _, err := io.ReadFull(f, headerBuf); err != nil {
		f.Close()
		b.removePair(hash)
		return nil, CacheMetadata{}, ErrCorrupted
	}
	if !bytes.Equal(headerBuf[0:4], []byte(objectMagic)) {
		f.Close()
		b.removePair(hash)
		return nil, CacheMetadata{}, ErrCorrupted
	}
	encoding := Encoding(headerBuf[5])
	expectedCRC := binary.LittleEndian.Uint32(headerBuf[12:16])

	if encoding == EncodingZstd {
		dec, err := zstd.NewReader(f)
		if err != nil {
			f.Close()
			return nil, CacheMetadata{}, fmt.Errorf("storage: zstd reader: %w", err)
		}
		return &zstdReadCloser{dec: dec, f: f}, meta, nil
	}
	return &checkedReader{f: f, crc: crc32.New(crcTable), expected: expectedCRC}, meta, nil
}

// checkedReader streams a raw-encoded object's payload off disk, verifying
// its CRC32C against the header once the stream is exhausted.
type checkedReader struct {
	f        *os.File
	crc      hash.Hash32
	expected uint32
}

func (r *checkedReader) Read(p []byte) (int, error) {
	n, err := r.f.Read(p)
	if n > 0 {
		r.crc.Write(p[:n])
	}
	return n, err
}

func (r *checkedReader) Close() error {
	closeErr := r.f.Close()
	if r.crc.Sum32() != r.expected {
		return ErrChecksumMismatch
	}
	return closeErr
}

// zstdReadCloser streams a zstd-encoded object's payload off disk, closing
// both the decoder and the underlying file on Close.
type zstdReadCloser struct {
	dec *zstd.Decoder
	f   *os.File
}

func (r *zstdReadCloser) Read(p []byte) (int, error) { return r.dec.Read(p) }

func (r *zstdReadCloser) Close() error {
	r.dec.Close()
	return r.f.Close()
}

func beginPayload(op OpCode, hash string) []byte {
	payload := make([]byte, 0, 1+len(hash))
	payload = append(payload, byte(op))
	payload = append(payload, hash...)
	return payload
}

// recover scans every WAL segment and collects the BEGINs without a matching
// COMMIT or ABORT, then sweeps stray stage-* temp files from every shard
// directory. The final files of an incomplete transaction are not inspected
// or checksum-verified, and no COMMIT is written for them.
func (b *Backend) recover() error {
	for _, id := range b.ring.Segments() {
		records, err := Scan(b.ring.PathFor(id))
		if err != nil {
			return err
		}
		begun := make(map[uint64]bool)
		for _, r := range records {
			switch r.Op {
			case OpBegin:
				begun[r.TxID] = true
			case OpCommit, OpAbort:
				delete(begun, r.TxID)
			}
		}
		// Any remaining entries in `begun` are incomplete transactions; the
		// files they targeted are either already fully in place (harmless)
		// or absent (nothing to roll back since temp files use randomized
		// names and are never renamed into a discoverable final path until
		// both fsyncs succeed).
	}
	return b.sweepStrayTempFiles()
}

func (b *Backend) sweepStrayTempFiles() error {
	for _, base := range []string{b.objectsDir, b.metadataDir} {
		for i := 0; i < 256; i++ {
			shard := filepath.Join(base, fmt.Sprintf("%02x", i))
			entries, err := os.ReadDir(shard)
			if err != nil {
				continue
			}
			for _, e := range entries {
				if strings.HasPrefix(e.Name(), "stage-") {
					os.Remove(filepath.Join(shard, e.Name()))
				}
			}
		}
	}
	return nil
}

func writeTempThenRename(dir, finalPath string, data []byte) error {
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
	if err := os.Rename(tmpPath, finalPath); err != nil {
		return err
	}
	success = true
	return nil
}

var _ io.Closer = (*Backend)(nil)
