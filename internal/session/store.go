package session

import (
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Store is an in-memory session registry with per-session key locks.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session

	lmu   sync.Mutex
	locks map[string]*keyLock

	now func() time.Time
}

type keyLock struct {
	mu   sync.Mutex
	refs int
}

// Opts holds configuration options for the Store.
type Opts struct {
	Clock func() time.Time
}

// Option defines a configuration option for the Store.
type Option func(*Opts)

// WithClock overrides the time source (used by tests).
func WithClock(clock func() time.Time) Option {
	return func(o *Opts) {
		o.Clock = clock
	}
}

// NewStore creates an empty Store.
func NewStore(opts ...Option) *Store {
	cfg := Opts{Clock: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Store{
		sessions: make(map[string]*Session),
		locks:    make(map[string]*keyLock),
		now:      cfg.Clock,
	}
}

// Now returns the store's current time.
func (s *Store) Now() time.Time {
	return s.now()
}

// Lock acquires the key lock for a session id and returns its release func.
// Events for one session are serialized through this lock; the lock outlives
// session deletion so a cancel and a following /start cannot interleave.
func (s *Store) Lock(id string) (unlock func()) {
	s.lmu.Lock()
	kl, ok := s.locks[id]
	if !ok {
		kl = &keyLock{}
		s.locks[id] = kl
	}
	kl.refs++
	s.lmu.Unlock()

	kl.mu.Lock()
	return func() {
		kl.mu.Unlock()
		s.lmu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.locks, id)
		}
		s.lmu.Unlock()
	}
}

// tryLock acquires the key lock only if it is free.
func (s *Store) tryLock(id string) (unlock func(), ok bool) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if kl, busy := s.locks[id]; busy && kl.refs > 0 {
		return nil, false
	}
	kl := &keyLock{refs: 1}
	kl.mu.Lock()
	s.locks[id] = kl
	return func() {
		kl.mu.Unlock()
		s.lmu.Lock()
		kl.refs--
		if kl.refs == 0 {
			delete(s.locks, id)
		}
		s.lmu.Unlock()
	}, true
}

// Get returns the live session. Callers must hold the key lock to mutate it.
func (s *Store) Get(id string) (*Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	return sess, ok
}

// Start creates a fresh session, replacing any existing one for the id.
func (s *Store) Start(id, displayName string) *Session {
	sess := New(id, displayName, s.now())
	s.mu.Lock()
	_, replaced := s.sessions[id]
	s.sessions[id] = sess
	s.mu.Unlock()
	slog.Debug("Store.Start: session created", "session", id, "replaced", replaced)
	return sess
}

// Delete destroys a session. It reports whether one existed.
func (s *Store) Delete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.sessions[id]
	delete(s.sessions, id)
	return ok
}

// Snapshot returns a copy of the session, waiting for any in-flight event.
func (s *Store) Snapshot(id string) (Session, bool) {
	unlock := s.Lock(id)
	defer unlock()
	sess, ok := s.Get(id)
	if !ok {
		return Session{}, false
	}
	return sess.Clone(), true
}

// TrySnapshot is Snapshot without waiting: busy is set when an event for
// the session is being handled.
func (s *Store) TrySnapshot(id string) (snap Session, ok, busy bool) {
	unlock, locked := s.tryLock(id)
	if !locked {
		return Session{}, false, true
	}
	defer unlock()
	sess, exists := s.Get(id)
	if !exists {
		return Session{}, false, false
	}
	return sess.Clone(), true, false
}

// Len returns the number of active sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// IDs returns the active session ids in sorted order.
func (s *Store) IDs() []string {
	s.mu.RLock()
	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// EvictIdle removes sessions untouched for longer than ttl. Sessions with an
// event in flight are skipped. It returns the evicted ids.
func (s *Store) EvictIdle(ttl time.Duration) []string {
	cutoff := s.now().Add(-ttl)
	var evicted []string
	for _, id := range s.IDs() {
		unlock, ok := s.tryLock(id)
		if !ok {
			continue
		}
		if sess, exists := s.Get(id); exists && sess.UpdatedAt.Before(cutoff) {
			s.Delete(id)
			evicted = append(evicted, id)
		}
		unlock()
	}
	if len(evicted) > 0 {
		slog.Info("Store.EvictIdle: evicted idle sessions", "count", len(evicted), "ttl", ttl)
	}
	return evicted
}
