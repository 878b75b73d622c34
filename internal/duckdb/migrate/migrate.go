// Package migrate applies the embedded, numbered SQL files (NNN_name.sql)
// that define the measurement store schema.
package migrate

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
)

//go:embed migrations/*.sql
var embedded embed.FS

// ErrChecksum means an applied migration file was edited after it ran.
var ErrChecksum = errors.New("migrate: applied migration changed")

// Runner tracks applied versions and checksums in schema_migrations.
type Runner struct {
	db  *sql.DB
	src fs.FS
}

// NewRunner returns a runner over the embedded migrations.
func NewRunner(db *sql.DB) *Runner {
	sub, _ := fs.Sub(embedded, "migrations")
	return &Runner{db: db, src: sub}
}

// WithSource returns a copy reading *.sql from src instead.
func (r *Runner) WithSource(src fs.FS) *Runner {
	return &Runner{db: r.db, src: src}
}

type migration struct {
	version  int
	name     string
	sql      string
	checksum string
}

// Applied is one row of schema_migrations.
type Applied struct {
	Version   int
	Name      string
	Checksum  string
	AppliedAt time.Time
}

func (r *Runner) load() ([]migration, error) {
	names, err := fs.Glob(r.src, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("migrate: list: %w", err)
	}
	out := make([]migration, 0, len(names))
	for _, name := range names {
		num, _, ok := strings.Cut(path.Base(name), "_")
		if !ok {
			return nil, fmt.Errorf("migrate: %s: want NNN_name.sql", name)
		}
		version, err := strconv.Atoi(num)
		if err != nil || version <= 0 {
			return nil, fmt.Errorf("migrate: %s: bad version %q", name, num)
		}
		body, err := fs.ReadFile(r.src, name)
		if err != nil {
			return nil, fmt.Errorf("migrate: read %s: %w", name, err)
		}
		sum := sha256.Sum256(body)
		out = append(out, migration{
			version:  version,
			name:     path.Base(name),
			sql:      string(body),
			checksum: hex.EncodeToString(sum[:]),
		})
	}
	slices.SortFunc(out, func(a, b migration) int { return a.version - b.version })
	for i := 1; i < len(out); i++ {
		if out[i].version == out[i-1].version {
			return nil, fmt.Errorf("migrate: %s and %s share version %d", out[i-1].name, out[i].name, out[i].version)
		}
	}
	return out, nil
}

func (r *Runner) ensureTable() error {
	_, err := r.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		name       VARCHAR NOT NULL,
		checksum   VARCHAR NOT NULL,
		applied_at TIMESTAMP DEFAULT current_timestamp
	)`)
	if err != nil {
		return fmt.Errorf("migrate: create schema_migrations: %w", err)
	}
	return nil
}

// History lists applied migrations in version order.
func (r *Runner) History() ([]Applied, error) {
	if err := r.ensureTable(); err != nil {
		return nil, err
	}
	rows, err := r.db.Query("SELECT version, name, checksum, applied_at FROM schema_migrations ORDER BY version")
	if err != nil {
		return nil, fmt.Errorf("migrate: history: %w", err)
	}
	defer rows.Close()

	var out []Applied
	for rows.Next() {
		var a Applied
		if err := rows.Scan(&a.Version, &a.Name, &a.Checksum, &a.AppliedAt); err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// plan checks applied rows against the files and returns what is left to run.
func (r *Runner) plan() (current int, pending []migration, err error) {
	migs, err := r.load()
	if err != nil {
		return 0, nil, err
	}
	applied, err := r.History()
	if err != nil {
		return 0, nil, err
	}

	done := make(map[int]Applied, len(applied))
	for _, a := range applied {
		done[a.Version] = a
		current = max(current, a.Version)
	}
	for _, m := range migs {
		a, ok := done[m.version]
		if !ok {
			if m.version > current {
				pending = append(pending, m)
			}
			continue
		}
		if a.Checksum != m.checksum {
			return 0, nil, fmt.Errorf("%w: %s", ErrChecksum, m.name)
		}
	}
	return current, pending, nil
}

// Run applies every pending migration in its own transaction.
func (r *Runner) Run() error {
	_, pending, err := r.plan()
	if err != nil {
		return err
	}
	for _, m := range pending {
		if err := r.apply(m); err != nil {
			return err
		}
	}
	return nil
}

func (r *Runner) apply(m migration) error {
	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("migrate: %s: %w", m.name, err)
	}
	if _, err := tx.Exec(m.sql); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrate: %s: %w", m.name, err)
	}
	if _, err := tx.Exec("INSERT INTO schema_migrations (version, name, checksum) VALUES (?, ?, ?)",
		m.version, m.name, m.checksum); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("migrate: record %s: %w", m.name, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("migrate: commit %s: %w", m.name, err)
	}
	return nil
}

// Status returns the applied version and how many migrations are pending.
func (r *Runner) Status() (current int, pending int, err error) {
	current, todo, err := r.plan()
	return current, len(todo), err
}
