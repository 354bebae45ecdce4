// Package api exposes TripPipe's operational HTTP surface.
//
// It serves a health check, session statistics, the conversation audit log
// and, when the Twilio transport is active, the inbound webhook.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/session"
)

// Constants for API server configuration
const (
	// DefaultAddr is the listen address when none is configured.
	DefaultAddr = ":8080"
	// DefaultShutdownTimeout bounds graceful shutdown.
	DefaultShutdownTimeout = 10 * time.Second
	// DefaultEventLimit caps /events when no limit is given.
	DefaultEventLimit = 50
	// MaxEventLimit is the largest accepted /events limit.
	MaxEventLimit = 500
	// TwilioWebhookPath receives inbound Twilio messages.
	TwilioWebhookPath = "/twilio/webhook"
)

// EventLister reads the conversation audit log.
type EventLister interface {
	ListEvents(ctx context.Context, sessionID string, limit int) ([]models.ConversationEvent, error)
}

// Opts holds configuration options for the Server.
type Opts struct {
	Addr      string
	Transport string
	Events    EventLister
	Webhook   http.Handler
	Mailboxes func() int
}

// Option defines a configuration option for the Server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithTransport names the active chat transport for /stats.
func WithTransport(name string) Option {
	return func(o *Opts) { o.Transport = name }
}

// WithEvents enables GET /events.
func WithEvents(l EventLister) Option {
	return func(o *Opts) { o.Events = l }
}

// WithTwilioWebhook mounts h at TwilioWebhookPath.
func WithTwilioWebhook(h http.Handler) Option {
	return func(o *Opts) { o.Webhook = h }
}

// WithMailboxCount reports live dispatcher mailboxes in /stats.
func WithMailboxCount(f func() int) Option {
	return func(o *Opts) { o.Mailboxes = f }
}

// Server serves the operational endpoints.
type Server struct {
	sessions *session.Store
	opts     Opts
	started  time.Time
	mux      *http.ServeMux
}

// NewServer builds a Server over the live session store.
func NewServer(sessions *session.Store, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Server{sessions: sessions, opts: cfg, started: time.Now(), mux: http.NewServeMux()}
	s.mux.HandleFunc("/health", s.healthHandler)
	s.mux.HandleFunc("/stats", s.statsHandler)
	if cfg.Events != nil {
		s.mux.HandleFunc("/events", s.eventsHandler)
	}
	if cfg.Webhook != nil {
		s.mux.Handle(TwilioWebhookPath, cfg.Webhook)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.opts.Addr,
		Handler:           s.mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.opts.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), DefaultShutdownTimeout)
		defer cancel()
		slog.Info("Server.Run: shutting down")
		return srv.Shutdown(shutdownCtx)
	}
}
