// Package store provides storage backends for TripPipe.
//
// This file implements an SQLite-backed audit log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	_ "embed"

	"github.com/BTreeMap/TripPipe/internal/models"
	_ "github.com/mattn/go-sqlite3"
)

// Constants for SQLite store configuration
const (
	// DefaultDirPermissions defines the default permissions for database directories
	DefaultDirPermissions = 0755
)

//go:embed migrations_sqlite.sql
var sqliteMigrations string

type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store with the given DSN.
// The DSN should be a file path to the SQLite database file.
// If the directory doesn't exist, it will be created.
func NewSQLiteStore(opts ...Option) (*SQLiteStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("SQLiteStore.New: creating SQLite store", "DSN_set", cfg.DSN != "")

	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("SQLiteStore.New: DSN not set")
		return nil, ErrDSNNotSet
	}

	dir := filepath.Dir(dsn)
	if err := os.MkdirAll(dir, DefaultDirPermissions); err != nil {
		slog.Error("SQLiteStore.New: failed to create database directory", "error", err, "dir", dir)
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		slog.Error("SQLiteStore.New: failed to open connection", "error", err)
		return nil, err
	}
	// A single connection serializes writers and avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		slog.Error("SQLiteStore.New: ping failed", "error", err)
		db.Close()
		return nil, err
	}

	if _, err := db.Exec(sqliteMigrations); err != nil {
		slog.Error("SQLiteStore.New: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("SQLiteStore.New: migrations applied", "dsn", dsn)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) RecordEvent(ctx context.Context, e models.ConversationEvent) error {
	e = prepareEvent(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_events (`+eventColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.SessionID, string(e.Kind), nilIfEmpty(e.Stage), nilIfEmpty(e.Input), nilIfEmpty(e.Output),
		nilIfEmpty(e.Source), nilIfEmpty(e.Detail), e.CreatedAt,
	)
	if err != nil {
		slog.Error("SQLiteStore.RecordEvent: insert failed", "error", err, "session", e.SessionID, "kind", e.Kind)
		return fmt.Errorf("failed to insert event for %s: %w", e.SessionID, err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]models.ConversationEvent, error) {
	query := `SELECT ` + eventColumns + ` FROM conversation_events`
	args := []interface{}{}
	if sessionID != "" {
		query += ` WHERE session_id = ?`
		args = append(args, sessionID)
	}
	query += ` ORDER BY created_at DESC, rowid DESC LIMIT ?`
	args = append(args, listLimit(limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		slog.Error("SQLiteStore.ListEvents: query failed", "error", err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	events, err := scanEvents(rows)
	if err != nil {
		return nil, err
	}
	slog.Debug("SQLiteStore.ListEvents: succeeded", "session", sessionID, "count", len(events))
	return events, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		slog.Debug("SQLiteStore.Close: closing database connection")
		return s.db.Close()
	}
	return nil
}
