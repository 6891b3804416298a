package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"sync/atomic"
)

// OpCode identifies the kind of mutation a WAL record describes.
type OpCode uint8

const (
	OpBegin  OpCode = 1
	OpCommit OpCode = 2
	OpAbort  OpCode = 3
	OpPut    OpCode = 4
	OpRemove OpCode = 5
	OpClear  OpCode = 6
)

// Record is one WAL entry: { record_len(u32) tx_id(u64) op_code(u8)
// payload_len(u32) payload(bytes) crc32c(u32) }.
type Record struct {
	TxID    uint64
	Op      OpCode
	Payload []byte
}

// ErrTruncatedRecord names the condition of a WAL file ending mid-record.
// Scan does not return it: a trailing partial record, expected after a
// crash, is simply discarded.
var ErrTruncatedRecord = errors.New("storage: truncated wal record")

// WAL is an append-only, fsync-backed log of mutation intents for a single
// active segment. Callers rotate segments via the segment ring.
type WAL struct {
	mu     sync.Mutex
	f      *os.File
	nextTx atomic.Uint64
}

// OpenWAL opens (creating if absent) the WAL segment file at path for
// appending.
func OpenWAL(path string) (*WAL, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("storage: open wal %s: %w", path, err)
	}
	w := &WAL{f: f}
	return w, nil
}

// NextTxID allocates a new monotonically increasing transaction id.
func (w *WAL) NextTxID() uint64 {
	return w.nextTx.Add(1)
}

// Append writes and fsyncs one record. It is safe for concurrent use; writes
// are serialized (the WAL has a single writer per segment).
func (w *WAL) Append(txID uint64, op OpCode, payload []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	body := make([]byte, 0, 8+1+4+len(payload))
	body = appendUint64(body, txID)
	body = append(body, byte(op))
	body = appendUint32(body, uint32(len(payload)))
	body = append(body, payload...)
	sum := ChecksumPayload(body)

	record := make([]byte, 0, 4+len(body)+4)
	record = appendUint32(record, uint32(len(body)))
	record = append(record, body...)
	record = appendUint32(record, sum)

	if _, err := w.f.Write(record); err != nil {
		return fmt.Errorf("storage: wal append: %w", err)
	}
	if err := w.f.Sync(); err != nil {
		return fmt.Errorf("storage: wal fsync: %w", err)
	}
	return nil
}

// Close closes the underlying file. It does not fsync; every Append has
// already synced its own record.
func (w *WAL) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.f.Close()
}

// Path returns the WAL's backing file name.
func (w *WAL) Path() string {
	return w.f.Name()
}

// Scan reads every well-formed record from path in order. A truncated final
// record (a crash mid-append) is silently ignored rather than surfaced as an
// error — partial writes at the tail are expected and harmless.
func Scan(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("storage: open wal for scan: %w", err)
	}
	defer f.Close()

	var records []Record
	r := bufio.NewReader(f)
	for {
		var lenBuf [4]byte
		if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
			break
		}
		bodyLen := binary.LittleEndian.Uint32(lenBuf[:])
		body := make([]byte, bodyLen)
		if _, err := io.ReadFull(r, body); err != nil {
			break
		}
		var crcBuf [4]byte
		if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
			break
		}
		wantCRC := binary.LittleEndian.Uint32(crcBuf[:])
		if ChecksumPayload(body) != wantCRC {
			break // corrupted tail record, stop scanning
		}
		if len(body) < 13 {
			break
		}
		off := 0
		txID := readUint64(body, &off)
		op := OpCode(body[off])
		off++
		payloadLen := readUint32(body, &off)
		if uint32(len(body)-off) < payloadLen {
			break
		}
		payload := body[off : off+int(payloadLen)]
		records = append(records, Record{TxID: txID, Op: op, Payload: payload})
	}
	return records, nil
}
