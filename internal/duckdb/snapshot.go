package duckdb

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// ErrInMemoryStore is returned by SnapshotTo when the store has no file.
var ErrInMemoryStore = errors.New("duckdb: in-memory store cannot be snapshotted")

// DBPath returns the database file path, or "" for an in-memory store.
func (s *Store) DBPath() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dbPath
}

// SnapshotTo checkpoints the WAL into the main file and copies it to dstPath.
// It returns the copied size and its hex SHA-256. Writers are blocked only
// for the CHECKPOINT.
func (s *Store) SnapshotTo(dstPath string) (int64, string, error) {
	s.mu.Lock()
	src := s.dbPath
	if src == "" {
		s.mu.Unlock()
		return 0, "", ErrInMemoryStore
	}
	_, err := s.db.Exec("CHECKPOINT")
	s.mu.Unlock()
	if err != nil {
		return 0, "", fmt.Errorf("checkpoint: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dstPath), 0755); err != nil {
		return 0, "", fmt.Errorf("create snapshot dir: %w", err)
	}
	size, sum, err := copyWithChecksum(src, dstPath)
	if err != nil {
		return 0, "", fmt.Errorf("copy %s: %w", filepath.Base(src), err)
	}
	return size, sum, nil
}

// copyWithChecksum copies into a sibling temp file and renames it over
// dstPath once synced.
func copyWithChecksum(srcPath, dstPath string) (int64, string, error) {
	src, err := os.Open(srcPath)
	if err != nil {
		return 0, "", err
	}
	defer src.Close()

	tmp, err := os.CreateTemp(filepath.Dir(dstPath), "."+filepath.Base(dstPath)+".*")
	if err != nil {
		return 0, "", err
	}
	cleanup := func() {
		tmp.Close()
		_ = os.Remove(tmp.Name())
	}

	h := sha256.New()
	n, err := io.Copy(io.MultiWriter(tmp, h), src)
	if err != nil {
		cleanup()
		return 0, "", err
	}
	if err := tmp.Sync(); err != nil {
		cleanup()
		return 0, "", err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, "", err
	}
	if err := os.Rename(tmp.Name(), dstPath); err != nil {
		_ = os.Remove(tmp.Name())
		return 0, "", err
	}
	return n, hex.EncodeToString(h.Sum(nil)), nil
}
