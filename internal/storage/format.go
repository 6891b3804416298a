// Package storage implements the Storage Backend: compression, checksums,
// write-ahead logging, and atomic multi-file updates for the Unified KV
// Cache's on-disk tier.
//
// © 2025 taskcache authors. MIT License.
package storage

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"time"
)

var crcTable = crc32.MakeTable(crc32.Castagnoli)

// Encoding identifies how an object file's payload is stored.
type Encoding uint8

const (
	// EncodingRaw stores the payload uncompressed.
	EncodingRaw Encoding = 0
	// EncodingZstd stores the payload zstd-compressed.
	EncodingZstd Encoding = 1
)

const (
	objectMagic      = "TCOB"
	objectHeaderSize = 4 + 1 + 1 + 2 + 4 + 4 // magic, version, encoding, reserved, uncompressed_size, crc32c
	objectVersion    = 1
)

// ObjectHeader precedes every on-disk object payload.
type ObjectHeader struct {
	Version          uint8
	Encoding         Encoding
	UncompressedSize uint32
	CRC32C           uint32
}

// ErrCorruptHeader indicates an object file's header failed to parse or its
// magic did not match.
var ErrCorruptHeader = errors.New("storage: corrupt object header")

// ErrChecksumMismatch indicates a payload's CRC32C did not match its header.
var ErrChecksumMismatch = errors.New("storage: checksum mismatch")

// encodeObjectHeader writes just the fixed-size header, for callers (the
// streaming write path) that patch it into a file after the payload has
// already been written.
func encodeObjectHeader(h ObjectHeader) []byte {
	buf := make([]byte, 0, objectHeaderSize)
	buf = append(buf, objectMagic...)
	buf = append(buf, h.Version, uint8(h.Encoding), 0, 0)
	var sizeBuf, crcBuf [4]byte
	binary.LittleEndian.PutUint32(sizeBuf[:], h.UncompressedSize)
	binary.LittleEndian.PutUint32(crcBuf[:], h.CRC32C)
	buf = append(buf, sizeBuf[:]...)
	buf = append(buf, crcBuf[:]...)
	return buf
}

// EncodeObject writes header + payload for a (possibly compressed) blob.
func EncodeObject(h ObjectHeader, payload []byte) []byte {
	buf := make([]byte, 0, objectHeaderSize+len(payload))
	buf = append(buf, encodeObjectHeader(h)...)
	buf = append(buf, payload...)
	return buf
}

// DecodeObject parses header + payload, verifying the magic and checksum of
// the payload that follows.
func DecodeObject(data []byte) (ObjectHeader, []byte, error) {
	if len(data) < objectHeaderSize {
		return ObjectHeader{}, nil, ErrCorruptHeader
	}
	if !bytes.Equal(data[0:4], []byte(objectMagic)) {
		return ObjectHeader{}, nil, ErrCorruptHeader
	}
	h := ObjectHeader{
		Version:          data[4],
		Encoding:         Encoding(data[5]),
		UncompressedSize: binary.LittleEndian.Uint32(data[8:12]),
		CRC32C:           binary.LittleEndian.Uint32(data[12:16]),
	}
	payload := data[objectHeaderSize:]
	if crc32.Checksum(payload, crcTable) != h.CRC32C {
		return h, payload, ErrChecksumMismatch
	}
	return h, payload, nil
}

// ChecksumPayload computes the CRC32C of a payload.
func ChecksumPayload(payload []byte) uint32 {
	return crc32.Checksum(payload, crcTable)
}

// CacheMetadata is the per-entry metadata persisted alongside each value.
type CacheMetadata struct {
	CreatedAt    time.Time
	LastAccessed time.Time
	HasExpiry    bool
	ExpiresAt    time.Time
	SizeBytes    int64
	AccessCount  uint64
	ContentHash  [32]byte
	CacheVersion uint32
}

const metadataFixedSize = 8 + 8 + 1 + 8 + 8 + 8 + 32 + 4 // timestamps as unix nanos

// EncodeMetadata produces the length-prefixed, fixed-field-order binary
// encoding of a CacheMetadata record.
func EncodeMetadata(m CacheMetadata) []byte {
	payload := make([]byte, 0, metadataFixedSize)
	payload = appendInt64(payload, m.CreatedAt.UnixNano())
	payload = appendInt64(payload, m.LastAccessed.UnixNano())
	if m.HasExpiry {
		payload = append(payload, 1)
	} else {
		payload = append(payload, 0)
	}
	payload = appendInt64(payload, m.ExpiresAt.UnixNano())
	payload = appendInt64(payload, m.SizeBytes)
	payload = appendUint64(payload, m.AccessCount)
	payload = append(payload, m.ContentHash[:]...)
	payload = appendUint32(payload, m.CacheVersion)

	out := make([]byte, 4+len(payload))
	binary.LittleEndian.PutUint32(out[:4], uint32(len(payload)))
	copy(out[4:], payload)
	return out
}

// DecodeMetadata parses a length-prefixed CacheMetadata record, returning the
// number of bytes consumed.
func DecodeMetadata(data []byte) (CacheMetadata, int, error) {
	if len(data) < 4 {
		return CacheMetadata{}, 0, fmt.Errorf("storage: metadata record too short")
	}
	plen := int(binary.LittleEndian.Uint32(data[:4]))
	if len(data) < 4+plen || plen != metadataFixedSize {
		return CacheMetadata{}, 0, fmt.Errorf("storage: metadata record length mismatch (got %d, want %d)", plen, metadataFixedSize)
	}
	p := data[4 : 4+plen]
	var m CacheMetadata
	off := 0
	m.CreatedAt = timeFromUnixNano(readInt64(p, &off))
	m.LastAccessed = timeFromUnixNano(readInt64(p, &off))
	m.HasExpiry = p[off] == 1
	off++
	m.ExpiresAt = timeFromUnixNano(readInt64(p, &off))
	m.SizeBytes = readInt64(p, &off)
	m.AccessCount = readUint64(p, &off)
	copy(m.ContentHash[:], p[off:off+32])
	off += 32
	m.CacheVersion = readUint32(p, &off)
	return m, 4 + plen, nil
}

func timeFromUnixNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func appendInt64(b []byte, v int64) []byte  { return appendUint64(b, uint64(v)) }
func appendUint64(b []byte, v uint64) []byte {
	var tmp [8]byte
	binary.LittleEndian.PutUint64(tmp[:], v)
	return append(b, tmp[:]...)
}
func appendUint32(b []byte, v uint32) []byte {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], v)
	return append(b, tmp[:]...)
}
func readInt64(b []byte, off *int) int64 {
	return int64(readUint64(b, off))
}
func readUint64(b []byte, off *int) uint64 {
	v := binary.LittleEndian.Uint64(b[*off : *off+8])
	*off += 8
	return v
}
func readUint32(b []byte, off *int) uint32 {
	v := binary.LittleEndian.Uint32(b[*off : *off+4])
	*off += 4
	return v
}
