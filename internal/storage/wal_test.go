package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWAL_AppendAndScan(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0.log")
	w, err := OpenWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	tx1 := w.NextTxID()
	if err := w.Append(tx1, OpBegin, []byte("p1")); err != nil {
		t.Fatal(err)
	}
	if err := w.Append(tx1, OpCommit, nil); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	records, err := Scan(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(records))
	}
	if records[0].Op != OpBegin || string(records[0].Payload) != "p1" {
		t.Fatalf("unexpected first record: %+v", records[0])
	}
	if records[1].Op != OpCommit {
		t.Fatalf("unexpected second record: %+v", records[1])
	}
}

func TestWAL_ScanIgnoresTruncatedTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "0.log")
	w, err := OpenWAL(path)
	if err != nil {
		t.Fatal(err)
	}
	tx1 := w.NextTxID()
	if err := w.Append(tx1, OpBegin, []byte("payload")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	// Simulate a crash mid-append: truncate the last few bytes off the file.
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data[:len(data)-3], 0o644); err != nil {
		t.Fatal(err)
	}

	records, err := Scan(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 0 {
		t.Fatalf("expected truncated record to be dropped, got %d records", len(records))
	}
}

func TestScan_MissingFile(t *testing.T) {
	records, err := Scan(filepath.Join(t.TempDir(), "absent.log"))
	if err != nil {
		t.Fatal(err)
	}
	if records != nil {
		t.Fatal("expected nil records for missing WAL file")
	}
}
