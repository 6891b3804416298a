package storage

import (
	"bytes"
	"testing"
	"time"
)

func TestEncodeDecodeObject_RoundTrip(t *testing.T) {
	payload := []byte("payload bytes")
	h := ObjectHeader{Version: objectVersion, Encoding: EncodingRaw, UncompressedSize: uint32(len(payload)), CRC32C: ChecksumPayload(payload)}
	data := EncodeObject(h, payload)

	gotHeader, gotPayload, err := DecodeObject(data)
	if err != nil {
		t.Fatal(err)
	}
	if gotHeader.Encoding != EncodingRaw || gotHeader.UncompressedSize != uint32(len(payload)) {
		t.Fatalf("header mismatch: %+v", gotHeader)
	}
	if !bytes.Equal(gotPayload, payload) {
		t.Fatal("payload mismatch")
	}
}

func TestDecodeObject_ChecksumMismatch(t *testing.T) {
	payload := []byte("payload bytes")
	h := ObjectHeader{Version: objectVersion, Encoding: EncodingRaw, UncompressedSize: uint32(len(payload)), CRC32C: ChecksumPayload(payload)}
	data := EncodeObject(h, payload)
	data[len(data)-1] ^= 0xFF

	if _, _, err := DecodeObject(data); err != ErrChecksumMismatch {
		t.Fatalf("expected ErrChecksumMismatch, got %v", err)
	}
}

func TestDecodeObject_BadMagic(t *testing.T) {
	if _, _, err := DecodeObject(make([]byte, objectHeaderSize)); err != ErrCorruptHeader {
		t.Fatalf("expected ErrCorruptHeader, got %v", err)
	}
}

func TestEncodeDecodeMetadata_RoundTrip(t *testing.T) {
	now := time.Now().Truncate(time.Nanosecond).UTC()
	m := CacheMetadata{
		CreatedAt:    now,
		LastAccessed: now,
		HasExpiry:    true,
		ExpiresAt:    now.Add(time.Hour),
		SizeBytes:    1234,
		AccessCount:  7,
		CacheVersion: 2,
	}
	copy(m.ContentHash[:], bytes.Repeat([]byte{0xAB}, 32))

	encoded := EncodeMetadata(m)
	got, n, err := DecodeMetadata(encoded)
	if err != nil {
		t.Fatal(err)
	}
	if n != len(encoded) {
		t.Fatalf("expected to consume %d bytes, consumed %d", len(encoded), n)
	}
	if got.SizeBytes != m.SizeBytes || got.AccessCount != m.AccessCount || got.CacheVersion != m.CacheVersion {
		t.Fatalf("metadata mismatch: got %+v want %+v", got, m)
	}
	if !got.CreatedAt.Equal(m.CreatedAt) || !got.ExpiresAt.Equal(m.ExpiresAt) {
		t.Fatalf("timestamp mismatch: got %+v want %+v", got, m)
	}
	if got.ContentHash != m.ContentHash {
		t.Fatal("content hash mismatch")
	}
}
