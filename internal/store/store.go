// Package store provides storage backends for TripPipe.
//
// Sessions themselves live in memory (see internal/session). This package
// keeps what outlives a session: the conversation audit log and the inbound
// deduplication records used to drop transport redeliveries.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/util"
)

// DefaultListLimit caps ListEvents when the caller passes no limit.
const DefaultListLimit = 100

// ErrDSNNotSet is returned when a SQL backend is created without a DSN.
var ErrDSNNotSet = errors.New("database DSN not set")

// Store is the conversation audit log.
type Store interface {
	// RecordEvent appends an audit record. An empty ID is assigned.
	RecordEvent(ctx context.Context, e models.ConversationEvent) error
	// ListEvents returns the newest records first. An empty sessionID lists all sessions.
	ListEvents(ctx context.Context, sessionID string, limit int) ([]models.ConversationEvent, error)
	Close() error
}

// Opts holds configuration options for SQL backends.
type Opts struct {
	DSN string
}

// Option defines a configuration option for a store.
type Option func(*Opts)

// WithSQLiteDSN sets the SQLite database file path.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// WithPostgresDSN sets the Postgres connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
	}
}

// DetectDSNType returns "postgres" for Postgres URLs or key/value strings and
// "sqlite3" for everything else (file paths).
func DetectDSNType(dsn string) string {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return "postgres"
	}
	if strings.Contains(lower, "host=") || strings.Contains(lower, "dbname=") || strings.Contains(lower, "user=") {
		return "postgres"
	}
	return "sqlite3"
}

// Backend is a store that also deduplicates inbound events.
type Backend interface {
	Store
	DedupRepo
}

// Open picks the SQL backend matching the DSN.
func Open(dsn string) (Backend, error) {
	if DetectDSNType(dsn) == "postgres" {
		return NewPostgresStore(WithPostgresDSN(dsn))
	}
	return NewSQLiteStore(WithSQLiteDSN(dsn))
}

// prepareEvent fills the ID and timestamp of a record about to be written.
func prepareEvent(e models.ConversationEvent) models.ConversationEvent {
	if e.ID == "" {
		e.ID = util.NewEventID()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	return e
}

func listLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	return limit
}

// InMemoryStore keeps audit records and dedup entries in process memory.
type InMemoryStore struct {
	mu     sync.RWMutex
	events []models.ConversationEvent
	seen   map[string]*DedupRecord
}

var (
	_ Store     = (*InMemoryStore)(nil)
	_ DedupRepo = (*InMemoryStore)(nil)
)

// NewInMemoryStore creates an empty InMemoryStore.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{seen: make(map[string]*DedupRecord)}
}

func (s *InMemoryStore) RecordEvent(ctx context.Context, e models.ConversationEvent) error {
	e = prepareEvent(e)
	s.mu.Lock()
	s.events = append(s.events, e)
	s.mu.Unlock()
	return nil
}

func (s *InMemoryStore) ListEvents(ctx context.Context, sessionID string, limit int) ([]models.ConversationEvent, error) {
	limit = listLimit(limit)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.ConversationEvent
	for i := len(s.events) - 1; i >= 0 && len(out) < limit; i-- {
		if sessionID == "" || s.events[i].SessionID == sessionID {
			out = append(out, s.events[i])
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *InMemoryStore) RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.seen[messageID]; ok {
		return false, nil
	}
	s.seen[messageID] = &DedupRecord{MessageID: messageID, SessionID: sessionID, ReceivedAt: time.Now()}
	return true, nil
}

func (s *InMemoryStore) MarkProcessed(ctx context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if r, ok := s.seen[messageID]; ok {
		now := time.Now()
		r.ProcessedAt = &now
	}
	return nil
}

func (s *InMemoryStore) Close() error {
	return nil
}
