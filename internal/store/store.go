package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// pragma is a connection setting applied on open. check is the value
// PRAGMA name reports back once applied; empty skips verification.
type pragma struct {
	name  string
	value string
	check string
}

var pragmas = []pragma{
	{name: "journal_mode", value: "WAL", check: "wal"},
	{name: "synchronous", value: "NORMAL", check: "1"},
	{name: "busy_timeout", value: "5000", check: "5000"},
	{name: "foreign_keys", value: "ON", check: "1"},
}

// migration upgrades a database created by an older schema.sql. New
// databases already match the latest version after schema.sql runs, so every
// statement must be idempotent.
type migration struct {
	version int
	stmt    string
}

var migrations = []migration{
	// alias listing scans stable_ids by canonical_id
	{version: 1, stmt: `CREATE INDEX IF NOT EXISTS idx_stable_ids_canonical ON stable_ids(canonical_id)`},
}

// Store persists snapshots, stable identities and the change log in SQLite.
// It implements classifier.SnapshotStore, stableid.Store and engine.ChangeLog.
type Store struct {
	db *sql.DB
}

// Open creates or opens a SQLite database at path and brings its schema up
// to date. ":memory:" opens a private in-memory database; the pool is limited
// to a single connection so every call sees the same one.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite supports one writer at a time
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to database %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(fmt.Sprintf("PRAGMA %s = %s", p.name, p.value)); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %s: %w", p.name, err)
		}
	}
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks the database is reachable. Used by the health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// SchemaVersion returns the version recorded in user_version.
func (s *Store) SchemaVersion(ctx context.Context) (int, error) {
	var version int
	if err := s.db.QueryRowContext(ctx, "PRAGMA user_version").Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	return version, nil
}

func migrate(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}

	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("read schema version: %w", err)
	}
	for _, m := range migrations {
		if m.version <= version {
			continue
		}
		if _, err := db.Exec(m.stmt); err != nil {
			return fmt.Errorf("migrate to v%d: %w", m.version, err)
		}
		if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", m.version)); err != nil {
			return fmt.Errorf("record schema version %d: %w", m.version, err)
		}
		version = m.version
	}
	return nil
}

// checkPragmas reports the first pragma whose live value differs from the
// one applied on open.
func (s *Store) checkPragmas() error {
	for _, p := range pragmas {
		if p.check == "" {
			continue
		}
		var value string
		if err := s.db.QueryRow(fmt.Sprintf("PRAGMA %s", p.name)).Scan(&value); err != nil {
			return fmt.Errorf("query %s: %w", p.name, err)
		}
		if value != p.check {
			return fmt.Errorf("%s = %q, expected %q", p.name, value, p.check)
		}
	}
	return nil
}
