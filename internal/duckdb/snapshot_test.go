package duckdb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSnapshotTo(t *testing.T) {
	t.Parallel()

	store, err := NewStore(filepath.Join(t.TempDir(), "tsnorm.duckdb"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if err := store.InsertMeasurementBatch(diskRecords()); err != nil {
		t.Fatalf("InsertMeasurementBatch: %v", err)
	}

	dst := filepath.Join(t.TempDir(), "nested", "snap.duckdb")
	size, sum, err := store.SnapshotTo(dst)
	if err != nil {
		t.Fatalf("SnapshotTo: %v", err)
	}

	data, err := os.ReadFile(dst)
	if err != nil {
		t.Fatalf("read snapshot: %v", err)
	}
	if int64(len(data)) != size || size == 0 {
		t.Fatalf("size = %d, file has %d bytes", size, len(data))
	}
	want := sha256.Sum256(data)
	if sum != hex.EncodeToString(want[:]) {
		t.Fatalf("checksum = %s, want %x", sum, want)
	}

	leftovers, _ := filepath.Glob(filepath.Join(filepath.Dir(dst), ".snap.duckdb.*"))
	if len(leftovers) != 0 {
		t.Fatalf("temp files left behind: %v", leftovers)
	}

	snap, err := NewStore(dst)
	if err != nil {
		t.Fatalf("open snapshot: %v", err)
	}
	defer snap.Close()
	count, err := snap.TotalMeasurementCount(QueryOpts{})
	if err != nil {
		t.Fatalf("TotalMeasurementCount: %v", err)
	}
	if count != 3 {
		t.Fatalf("snapshot holds %d measurements, want 3", count)
	}
}

func TestSnapshotTo_InMemory(t *testing.T) {
	t.Parallel()

	store, err := NewStore("")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if store.DBPath() != "" {
		t.Fatalf("DBPath = %q, want empty", store.DBPath())
	}
	if _, _, err := store.SnapshotTo(filepath.Join(t.TempDir(), "x.duckdb")); !errors.Is(err, ErrInMemoryStore) {
		t.Fatalf("err = %v, want ErrInMemoryStore", err)
	}
}
