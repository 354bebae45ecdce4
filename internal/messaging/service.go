// Package messaging connects chat transports to the dialogue engine.
//
// Each transport implements Service: it turns platform updates into
// models.InboundEvent values and delivers models.OutboundMessage values back.
// The Dispatcher routes events to the engine one session at a time.
package messaging

import (
	"context"
	"errors"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// Constants for transport event streams
const (
	// DefaultChannelBufferSize defines the default buffer size for the inbound event channel
	DefaultChannelBufferSize = 100
	// DefaultChannelTimeout defines the default timeout for non-blocking channel operations
	DefaultChannelTimeout = 1 * time.Second
)

var (
	// ErrServiceStopped is returned when sending through a stopped service.
	ErrServiceStopped = errors.New("messaging service stopped")
	// ErrMalformedMarkup is returned when the platform rejected a message's formatting.
	ErrMalformedMarkup = errors.New("malformed markup rejected by transport")
	// ErrEmptyRecipient is returned for a blank recipient.
	ErrEmptyRecipient = errors.New("recipient cannot be empty")
)

// phoneNumberRegex matches everything that is not a digit.
var phoneNumberRegex = regexp.MustCompile(`\D`)

// Service defines a pluggable chat transport.
type Service interface {
	// ValidateAndCanonicalizeRecipient validates and canonicalizes a recipient identifier.
	// Each transport applies its own rules (chat ids, phone numbers).
	ValidateAndCanonicalizeRecipient(recipient string) (string, error)

	// Send delivers one outbound message. Formatting rejections wrap ErrMalformedMarkup.
	Send(ctx context.Context, to string, msg models.OutboundMessage) error

	// Acknowledge tells the platform a button press was received.
	// Transports without button callbacks treat it as a no-op.
	Acknowledge(ctx context.Context, evt models.InboundEvent) error

	// Start begins background processing (polling, event handlers).
	Start(ctx context.Context) error

	// Stop stops background processing and closes the event channel.
	Stop() error

	// Events returns the channel of inbound user actions.
	Events() <-chan models.InboundEvent
}

// eventStream is the inbound side shared by every transport.
type eventStream struct {
	name    string
	events  chan models.InboundEvent
	done    chan struct{}
	mu      sync.RWMutex
	stopped bool
}

func newEventStream(name string) *eventStream {
	return &eventStream{
		name:   name,
		events: make(chan models.InboundEvent, DefaultChannelBufferSize),
		done:   make(chan struct{}),
	}
}

// emit forwards an event without blocking longer than DefaultChannelTimeout.
// The read lock is held while sending so close cannot race with a send.
func (s *eventStream) emit(evt models.InboundEvent) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.stopped {
		return false
	}
	select {
	case s.events <- evt:
		slog.Debug(s.name+".emit: event forwarded", "session", evt.SessionID, "kind", evt.Kind)
		return true
	case <-time.After(DefaultChannelTimeout):
		slog.Warn(s.name+".emit: events channel blocked, dropping event", "session", evt.SessionID, "timeout", DefaultChannelTimeout)
		return false
	}
}

func (s *eventStream) isStopped() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.stopped
}

// close marks the stream stopped and closes its channels once.
func (s *eventStream) close() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	close(s.done)
	close(s.events)
	return true
}

// Events returns the channel of inbound user actions.
func (s *eventStream) Events() <-chan models.InboundEvent {
	return s.events
}
