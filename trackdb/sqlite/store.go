// Package sqlite is the persistence gateway for track files and their
// simplified points.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	moderncsqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// DBorTx lets query helpers run on the database or inside a transaction.
type DBorTx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Store holds the track database. Writes are serialized through Write;
// reads go straight to the pool.
type Store struct {
	path    string
	db      *sql.DB
	writeMu sync.Mutex
	logger  *slog.Logger
}

// Open opens (creating if needed) the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0770); err != nil {
		return nil, err
	}
	dsn := path + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("could not open %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("could not connect to %s: %w", path, err)
	}
	s := &Store{
		path:   path,
		db:     db,
		logger: slog.With("db", filepath.Base(path)),
	}
	if err := s.init(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Path() string {
	return s.path
}

// DB returns the read pool.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Write runs fn in a transaction, committing if fn returns nil and rolling
// back otherwise. Only one write transaction runs at a time.
func (s *Store) Write(ctx context.Context, fn func(tx *sql.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("transaction error: %w, rollback error: %v", err, rbErr)
		}
		return err
	}
	return tx.Commit()
}

func (s *Store) init(ctx context.Context) error {
	return s.Write(ctx, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("init schema: %w", err)
			}
		}
		return nil
	})
}

var schema = []string{`
	CREATE TABLE IF NOT EXISTS track_files (
		id                INTEGER PRIMARY KEY AUTOINCREMENT,
		trip_id           TEXT NOT NULL UNIQUE,
		filename          TEXT NOT NULL DEFAULT '',
		processing_status TEXT NOT NULL DEFAULT 'pending'
			CHECK (processing_status IN ('pending', 'processing', 'completed', 'error')),
		error_message     TEXT,
		job_id            TEXT,
		processing_path   TEXT NOT NULL DEFAULT 'sync',
		size_bytes        INTEGER NOT NULL DEFAULT 0,
		storage_key       TEXT NOT NULL DEFAULT '',
		distance_km       REAL,
		ascent_m          REAL,
		descent_m         REAL,
		max_elevation_m   REAL,
		min_elevation_m   REAL,
		has_elevation     INTEGER NOT NULL DEFAULT 0,
		has_timestamps    INTEGER NOT NULL DEFAULT 0,
		trackpoint_count  INTEGER NOT NULL DEFAULT 0,
		simplified_count  INTEGER NOT NULL DEFAULT 0,
		start_time        TEXT,
		end_time          TEXT,
		difficulty        TEXT,
		min_lat           REAL,
		min_lon           REAL,
		max_lat           REAL,
		max_lon           REAL,
		start_cell        TEXT,
		created_at        TEXT NOT NULL,
		updated_at        TEXT NOT NULL
	);`, `
	CREATE INDEX IF NOT EXISTS idx_track_files_status ON track_files (processing_status);`, `
	CREATE TABLE IF NOT EXISTS track_points (
		track_file_id INTEGER NOT NULL,
		sequence      INTEGER NOT NULL,
		latitude      REAL NOT NULL,
		longitude     REAL NOT NULL,
		elevation     REAL,
		timestamp     TEXT,
		distance_km   REAL NOT NULL,
		gradient      REAL NOT NULL,
		PRIMARY KEY (track_file_id, sequence),
		FOREIGN KEY (track_file_id) REFERENCES track_files (id) ON DELETE CASCADE
	);`,
}

func isUniqueViolation(err error) bool {
	var se *moderncsqlite.Error
	return errors.As(err, &se) && se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
}
