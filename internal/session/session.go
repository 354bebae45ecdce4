// Package session keeps the per-conversation state of active chats in memory.
//
// A Session is mutated only by the holder of its key lock (see Store.Lock);
// sessions do not survive a restart.
package session

import (
	"time"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/menu"
	"github.com/BTreeMap/TripPipe/internal/models"
)

// MaxTopicHints bounds the retained intent restatements.
const MaxTopicHints = 2

// Session is the typed state of one conversation.
type Session struct {
	ID    string
	Stage models.Stage
	// Transcript is append-only for the lifetime of the session.
	Transcript []models.Message
	// Destination is DestinationNone until the user picks an area.
	Destination models.Destination
	// Resort is only meaningful once Destination is set.
	Resort string
	// LastRendered is the most recent sanitized reply, kept for degraded delivery.
	LastRendered    string
	HasLastRendered bool
	TopicHints      []string
	// Menu is the variant chosen by the last transition.
	Menu        menu.Kind
	DisplayName string
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// New returns a session at the initial stage.
func New(id, displayName string, now time.Time) *Session {
	return &Session{
		ID:          id,
		Stage:       models.StageInitial,
		DisplayName: displayName,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// AppendTurn records a user turn and the assistant's reply.
func (s *Session) AppendTurn(user, assistant string, now time.Time) {
	s.Transcript = append(s.Transcript,
		models.Message{Role: models.RoleUser, Content: user, Time: now},
		models.Message{Role: models.RoleAssistant, Content: assistant, Time: now},
	)
	s.UpdatedAt = now
}

// PushHint remembers a restatement of the user's intent, keeping the last MaxTopicHints.
func (s *Session) PushHint(hint string) {
	if hint == "" {
		return
	}
	s.TopicHints = append(s.TopicHints, hint)
	if n := len(s.TopicHints); n > MaxTopicHints {
		s.TopicHints = append([]string(nil), s.TopicHints[n-MaxTopicHints:]...)
	}
}

// SelectDestination sets the destination. A change of destination drops the
// resort chosen for the previous one.
func (s *Session) SelectDestination(d models.Destination) {
	if d == models.DestinationNone {
		return
	}
	if s.Destination != d {
		s.Resort = ""
	}
	s.Destination = d
}

// SelectResort sets the resort and the destination it belongs to.
func (s *Session) SelectResort(id string, d models.Destination) {
	if id == "" || d == models.DestinationNone {
		return
	}
	s.Destination = d
	s.Resort = id
}

// ClearSelection forgets destination and resort.
func (s *Session) ClearSelection() {
	s.Destination = models.DestinationNone
	s.Resort = ""
}

// Render stores the last sanitized reply.
func (s *Session) Render(text string) {
	s.LastRendered = text
	s.HasLastRendered = true
}

// CatalogState is the view of the session the response predicates read.
func (s *Session) CatalogState() catalog.State {
	return catalog.State{Destination: s.Destination, Resort: s.Resort, TopicHints: s.TopicHints}
}

// Clone returns a deep copy safe to read without the key lock.
func (s *Session) Clone() Session {
	c := *s
	c.Transcript = append([]models.Message(nil), s.Transcript...)
	c.TopicHints = append([]string(nil), s.TopicHints...)
	return c
}
