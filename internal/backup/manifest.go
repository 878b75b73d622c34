package backup

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/tinytelemetry/tsnorm/internal/jsonx"
)

const (
	snapshotPrefix = "tsnorm-"
	snapshotSuffix = ".duckdb"
	manifestSuffix = ".json"

	snapshotTimeLayout = "20060102-150405.000000000"
)

// Manifest is written next to every snapshot.
type Manifest struct {
	Snapshot  string           `json:"snapshot"`
	CreatedAt time.Time        `json:"created_at"`
	SizeBytes int64            `json:"size_bytes"`
	SHA256    string           `json:"sha256"`
	RowCounts map[string]int64 `json:"row_counts,omitempty"`
}

func snapshotName(at time.Time) string {
	return snapshotPrefix + at.UTC().Format(snapshotTimeLayout) + snapshotSuffix
}

func manifestPath(snapshotPath string) string {
	return strings.TrimSuffix(snapshotPath, snapshotSuffix) + manifestSuffix
}

// sameRows reports whether two row count sets describe the same store
// contents. A nil side never matches.
func (m *Manifest) sameRows(counts map[string]int64) bool {
	if m == nil || m.RowCounts == nil || counts == nil {
		return false
	}
	return maps.Equal(m.RowCounts, counts)
}

func writeManifest(path string, m Manifest) error {
	data, err := jsonx.Marshal(m)
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readManifest(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var m Manifest
	if err := jsonx.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode %s: %w", filepath.Base(path), err)
	}
	return &m, nil
}

// listSnapshots returns snapshot paths in dir, newest first. The timestamp in
// the file name sorts lexically.
func listSnapshots(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, snapshotPrefix+"*"+snapshotSuffix))
	if err != nil {
		return nil, err
	}
	sort.Sort(sort.Reverse(sort.StringSlice(matches)))
	return matches, nil
}

// latestManifest loads the manifest of the newest snapshot that still has
// both files on disk.
func latestManifest(dir string) (*Manifest, error) {
	snaps, err := listSnapshots(dir)
	if err != nil {
		return nil, err
	}
	for _, snap := range snaps {
		m, err := readManifest(manifestPath(snap))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	return nil, nil
}

// prune keeps the newest keep snapshots and removes older snapshot and
// manifest pairs.
func prune(dir string, keep int) (int, error) {
	if keep <= 0 {
		return 0, nil
	}
	snaps, err := listSnapshots(dir)
	if err != nil || len(snaps) <= keep {
		return 0, err
	}
	removed := 0
	for _, old := range snaps[keep:] {
		for _, p := range []string{old, manifestPath(old)} {
			if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
				return removed, err
			}
		}
		removed++
	}
	return removed, nil
}
