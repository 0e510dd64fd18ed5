// Package store implements the broker's single-writer relational
// persistence layer over modernc.org/sqlite (pure Go, no cgo), grounded on
// the teacher's synchronous-commit discipline: any state transition
// observable by a client commits to persistence before the in-memory
// update is applied.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store owns a single-writer connection and a small read-only pool, per the
// spec's "single DB writer acceptable, pool size >= 2 readers" guidance.
type Store struct {
	writer *sql.DB
	reader *sql.DB
}

// Open creates (or attaches to) the sqlite database under dataDir, runs the
// schema migration, and refuses to start if the on-disk schema is newer
// than this binary understands.
func Open(dataDir string) (*Store, error) {
	dbPath := filepath.Join(dataDir, "agentbus.db")

	writer, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("store: open writer: %w", err)
	}
	writer.SetMaxOpenConns(1)

	reader, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&mode=ro")
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("store: open reader: %w", err)
	}
	reader.SetMaxOpenConns(2)

	s := &Store{writer: writer, reader: reader}
	if err := s.migrate(context.Background()); err != nil {
		writer.Close()
		reader.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	for _, stmt := range ddl {
		if _, err := s.writer.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w (%s)", err, stmt)
		}
	}

	var count int
	if err := s.writer.QueryRowContext(ctx, `SELECT COUNT(*) FROM schema_meta`).Scan(&count); err != nil {
		return fmt.Errorf("store: read schema_meta: %w", err)
	}
	if count == 0 {
		if _, err := s.writer.ExecContext(ctx, `INSERT INTO schema_meta (version) VALUES (?)`, schemaVersion); err != nil {
			return fmt.Errorf("store: seed schema_meta: %w", err)
		}
		return nil
	}

	var onDisk int
	if err := s.writer.QueryRowContext(ctx, `SELECT version FROM schema_meta LIMIT 1`).Scan(&onDisk); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}
	if onDisk > schemaVersion {
		return fmt.Errorf("store: on-disk schema version %d is newer than this binary's %d", onDisk, schemaVersion)
	}
	return nil
}

// Ping verifies the writer connection is reachable, for readiness checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.writer.PingContext(ctx)
}

// Close releases both connection pools.
func (s *Store) Close() error {
	err1 := s.writer.Close()
	err2 := s.reader.Close()
	if err1 != nil {
		return err1
	}
	return err2
}
