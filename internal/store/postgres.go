// Package store provides storage backends for TripPipe.
//
// This file implements a PostgreSQL-backed audit log.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "embed"

	"github.com/BTreeMap/TripPipe/internal/models"
	_ "github.com/lib/pq"
)

// Database connection pool configuration constants
const (
	// DefaultMaxOpenConns is the default maximum number of open connections to the database
	DefaultMaxOpenConns = 25
	// DefaultMaxIdleConns is the default maximum number of idle connections in the pool
	DefaultMaxIdleConns = 25
	// DefaultConnMaxLifetime is the default maximum amount of time a connection may be reused
	DefaultConnMaxLifetime = 5 * time.Minute
)

//go:embed migrations_postgres.sql
var postgresMigrations string

type PostgresStore struct {
	db *sql.DB
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new Postgres store based on provided options.
func NewPostgresStore(opts ...Option) (*PostgresStore, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	slog.Debug("PostgresStore.New: creating Postgres store", "DSN_set", cfg.DSN != "")
	dsn := cfg.DSN
	if dsn == "" {
		slog.Error("PostgresStore.New: DSN not set")
		return nil, ErrDSNNotSet
	}

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		slog.Error("PostgresStore.New: failed to open connection", "error", err)
		return nil, err
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)

	if err := db.Ping(); err != nil {
		slog.Error("PostgresStore.New: ping failed", "error", err)
		db.Close()
		return nil, err
	}
	if _, err := db.Exec(postgresMigrations); err != nil {
		slog.Error("PostgresStore.New: failed to run migrations", "error", err)
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Debug("PostgresStore.New: migrations applied")
	return &PostgresStore{db: db}, nil
}

func (s *PostgresStore) RecordEvent(ctx context.Context, e models.ConversationEvent) error {
	e = prepareEvent(e)
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO conversation_events (`+eventColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		e.ID, e.SessionID, string(e.Kind), nilIfEmpty(e.Stage), nilIfEmpty(e.Input), nilIfEmpty(e.Output),
		nilIfEmpty(e.Source), nilIfEmpty(e.Detail), e.CreatedAt,
	)
	if err != nil {
		slog.Error("PostgresStore.RecordEvent: insert failed", "error", err, "session", e.SessionID, "kind", e.Kind)
		return fmt.Errorf("failed to insert event for %s: %w", e.SessionID, err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]models.ConversationEvent, error) {
	var (
		rows *sql.Rows
		err  error
	)
	if sessionID == "" {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM conversation_events ORDER BY created_at DESC, seq DESC LIMIT $1`,
			listLimit(limit))
	} else {
		rows, err = s.db.QueryContext(ctx,
			`SELECT `+eventColumns+` FROM conversation_events WHERE session_id = $1 ORDER BY created_at DESC, seq DESC LIMIT $2`,
			sessionID, listLimit(limit))
	}
	if err != nil {
		slog.Error("PostgresStore.ListEvents: query failed", "error", err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	return scanEvents(rows)
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	if s.db != nil {
		slog.Debug("PostgresStore.Close: closing database connection")
		return s.db.Close()
	}
	return nil
}
