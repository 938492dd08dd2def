// Package store owns the SQLite database shared by durable components.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

const openTimeout = 5 * time.Second

// pragma is applied after open. modernc.org/sqlite takes pragmas as
// statements, not DSN parameters.
type pragma struct {
	stmt     string
	fileOnly bool
}

var pragmas = []pragma{
	{stmt: "PRAGMA journal_mode=WAL", fileOnly: true},
	{stmt: "PRAGMA synchronous=NORMAL", fileOnly: true},
	{stmt: "PRAGMA busy_timeout=5000"},
	{stmt: "PRAGMA cache_size=-20000"},
}

// Migration is one schema step owned by a component. Versions are unique
// per component; Migrate applies them in ascending order.
type Migration struct {
	Version     int
	Description string
	Up          func(ctx context.Context, tx *sql.Tx) error
}

// SQLiteStore wraps a *sql.DB opened through modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.Mutex // migrations
}

// New opens (or creates) the database at path.
func New(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %q: %w", path, err)
	}
	// A single connection serialises point writes and keeps MemoryPath on
	// one database.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), openTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite %q: %w", path, err)
	}
	for _, p := range pragmas {
		if p.fileOnly && path == MemoryPath {
			continue
		}
		if _, err := db.ExecContext(ctx, p.stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite %q: %s: %w", path, p.stmt, err)
		}
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) DB() *sql.DB { return s.db }

// Tx runs fn in a transaction. A non-nil error from fn rolls back.
func (s *SQLiteStore) Tx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Migrate applies the component's pending migrations. Applied versions are
// recorded in _migrations and skipped on later calls.
func (s *SQLiteStore) Migrate(ctx context.Context, component string, migrations []Migration) error {
	ordered := slices.Clone(migrations)
	slices.SortFunc(ordered, func(a, b Migration) int { return a.Version - b.Version })
	for i := 1; i < len(ordered); i++ {
		if ordered[i].Version == ordered[i-1].Version {
			return fmt.Errorf("migrations for %s: duplicate version %d", component, ordered[i].Version)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS _migrations (
			component     TEXT    NOT NULL,
			version       INTEGER NOT NULL,
			description   TEXT    NOT NULL,
			applied_at_ms INTEGER NOT NULL,
			PRIMARY KEY (component, version)
		)`); err != nil {
		return fmt.Errorf("create _migrations: %w", err)
	}

	applied, err := s.appliedVersions(ctx, component)
	if err != nil {
		return err
	}
	for _, m := range ordered {
		if applied[m.Version] {
			continue
		}
		if err := s.apply(ctx, component, m); err != nil {
			return fmt.Errorf("migration %s/%d (%s): %w", component, m.Version, m.Description, err)
		}
	}
	return nil
}

// SchemaVersion returns the highest applied migration of component, or 0.
func (s *SQLiteStore) SchemaVersion(ctx context.Context, component string) (int, error) {
	var v sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(version) FROM _migrations WHERE component = ?`, component,
	).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("schema version of %s: %w", component, err)
	}
	return int(v.Int64), nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) appliedVersions(ctx context.Context, component string) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT version FROM _migrations WHERE component = ?`, component)
	if err != nil {
		return nil, fmt.Errorf("list migrations of %s: %w", component, err)
	}
	defer rows.Close()

	out := make(map[int]bool)
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out[v] = true
	}
	return out, rows.Err()
}

func (s *SQLiteStore) apply(ctx context.Context, component string, m Migration) error {
	return s.Tx(ctx, func(tx *sql.Tx) error {
		if err := m.Up(ctx, tx); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO _migrations (component, version, description, applied_at_ms) VALUES (?, ?, ?, ?)`,
			component, m.Version, m.Description, time.Now().UnixMilli(),
		)
		return err
	})
}
