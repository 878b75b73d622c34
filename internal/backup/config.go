package backup

import (
	"context"
	"time"
)

// Config controls periodic store snapshots.
type Config struct {
	Enabled  bool
	Interval time.Duration
	Dir      string
	KeepLast int

	// S3 is optional. Snapshots stay local when S3.BucketURL is empty.
	S3 S3Config
}

// Snapshotter is the part of the measurement store the manager needs.
type Snapshotter interface {
	DBPath() string
	TableRowCounts() (map[string]int64, error)
	SnapshotTo(dstPath string) (size int64, sha256 string, err error)
}

// Uploader ships one local file somewhere durable.
type Uploader interface {
	UploadFile(ctx context.Context, localPath string) error
}
