// Package duckdb stores normalized measurements and rejected documents in an
// embedded DuckDB database.
package duckdb

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/tinytelemetry/tsnorm/internal/duckdb/migrate"
	"github.com/tinytelemetry/tsnorm/internal/logging"
)

// DefaultQueryTimeout bounds each read and write unless overridden.
const DefaultQueryTimeout = 30 * time.Second

// Store is safe for concurrent use. Writes and CHECKPOINT take mu
// exclusively, reads share it.
type Store struct {
	db           *sql.DB
	mu           sync.RWMutex
	dbPath       string
	queryTimeout time.Duration
}

// NewStore opens dbPath, creating parent directories, and migrates the schema.
// An empty dbPath gives an in-memory database.
func NewStore(dbPath string, queryTimeout ...time.Duration) (*Store, error) {
	if dbPath != "" {
		if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
			return nil, fmt.Errorf("duckdb: %w", err)
		}
	}
	db, err := sql.Open("duckdb", dbPath)
	if err != nil {
		return nil, fmt.Errorf("duckdb: open %q: %w", dbPath, err)
	}

	runner := migrate.NewRunner(db)
	if err := runner.Run(); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db, dbPath: dbPath, queryTimeout: DefaultQueryTimeout}
	if len(queryTimeout) > 0 && queryTimeout[0] > 0 {
		s.queryTimeout = queryTimeout[0]
	}
	if v, _, err := runner.Status(); err == nil {
		where := dbPath
		if where == "" {
			where = ":memory:"
		}
		logging.Debugf("duckdb: %s at schema version %d", where, v)
	}
	return s, nil
}

func (s *Store) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.queryTimeout)
}

// Ping checks the connection is usable.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion is the highest applied migration.
func (s *Store) SchemaVersion() (int, error) {
	v, _, err := migrate.NewRunner(s.db).Status()
	return v, err
}

func (s *Store) Close() error {
	return s.db.Close()
}
