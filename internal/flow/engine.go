// Package flow implements the travel-planning dialogue engine: the five-stage
// state machine, the choice between scripted and generated replies, and the
// recovery paths for model outages and unknown buttons.
package flow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/genai"
	"github.com/BTreeMap/TripPipe/internal/markup"
	"github.com/BTreeMap/TripPipe/internal/menu"
	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/session"
)

// Source tells how a turn's reply was produced.
type Source string

const (
	SourceCanned    Source = "canned"
	SourceGenerated Source = "generated"
	SourceCommand   Source = "command"
	SourceApology   Source = "apology"
)

// Turn is the engine's answer to one inbound event.
type Turn struct {
	SessionID string
	Message   models.OutboundMessage
	// Stage is the session stage after the turn.
	Stage  models.Stage
	Source Source
	// Unroutable is set when the callback id was unknown and the fallback ran.
	Unroutable bool
	// Ended is set when the session was destroyed by /cancel.
	Ended bool
	// Aborted is set when a /cancel interrupted generation; nothing is sent.
	Aborted bool
}

// EventRecorder receives conversation audit records.
type EventRecorder interface {
	RecordEvent(ctx context.Context, e models.ConversationEvent) error
}

// ErrTurnAborted is returned for a turn whose generation was cancelled by /cancel.
var ErrTurnAborted = errors.New("turn aborted by cancel")

// Engine drives conversations. It is safe for concurrent use; events of one
// session are serialized on the session's key lock.
type Engine struct {
	sessions *session.Store
	model    genai.Client
	recorder EventRecorder

	mu       sync.Mutex
	inflight map[string]context.CancelFunc
}

// Opts holds configuration options for the Engine.
type Opts struct {
	Recorder EventRecorder
}

// Option defines a configuration option for the Engine.
type Option func(*Opts)

// WithRecorder sets the audit log the engine writes to.
func WithRecorder(r EventRecorder) Option {
	return func(o *Opts) {
		o.Recorder = r
	}
}

// NewEngine creates an Engine over a session store and a model backend.
func NewEngine(sessions *session.Store, model genai.Client, opts ...Option) *Engine {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Engine{
		sessions: sessions,
		model:    model,
		recorder: cfg.Recorder,
		inflight: make(map[string]context.CancelFunc),
	}
}

// Sessions returns the engine's session store.
func (e *Engine) Sessions() *session.Store {
	return e.sessions
}

// Handle processes one inbound event and returns the reply to send.
//
// A model failure leaves the session untouched; the returned turn carries an
// apology and the error wraps models.ErrGenerationUnavailable.
func (e *Engine) Handle(ctx context.Context, evt models.InboundEvent) (Turn, error) {
	if err := evt.Validate(); err != nil {
		return Turn{}, fmt.Errorf("invalid event: %w", err)
	}
	unlock := e.sessions.Lock(evt.SessionID)
	defer unlock()

	if evt.Kind == models.EventCommand {
		return e.handleCommand(ctx, evt)
	}

	sess, ok := e.sessions.Get(evt.SessionID)
	if !ok {
		slog.Debug("Engine.Handle: no session, starting implicitly", "session", evt.SessionID)
		sess = e.sessions.Start(evt.SessionID, evt.DisplayName)
	}

	switch evt.Kind {
	case models.EventText:
		tr, _ := textTransition(sess.Stage)
		resp := catalog.Match(sess.Stage, sess.CatalogState(), evt.Text)
		return e.respond(ctx, sess, evt, resp, tr, nil, "")
	default:
		return e.handleCallback(ctx, sess, evt)
	}
}

func (e *Engine) handleCommand(ctx context.Context, evt models.InboundEvent) (Turn, error) {
	switch evt.Command {
	case models.CommandStart:
		sess := e.sessions.Start(evt.SessionID, evt.DisplayName)
		text := catalog.Greeting(evt.DisplayName)
		sess.Menu = menu.KindStart
		sess.Render(text)
		e.record(ctx, models.ConversationEvent{SessionID: sess.ID, Kind: models.AuditStart, Stage: sess.Stage.String(), Input: "/start", Output: text, Source: string(SourceCommand)})
		return Turn{
			SessionID: sess.ID,
			Message:   models.OutboundMessage{Text: text, Menu: menu.For(sess.Stage, menu.Input{Kind: sess.Menu})},
			Stage:     sess.Stage,
			Source:    SourceCommand,
		}, nil

	case models.CommandHelp:
		stage := models.StageInitial
		if sess, ok := e.sessions.Get(evt.SessionID); ok {
			stage = sess.Stage
		}
		return Turn{
			SessionID: evt.SessionID,
			Message:   models.OutboundMessage{Text: catalog.HelpText},
			Stage:     stage,
			Source:    SourceCommand,
		}, nil

	case models.CommandCancel:
		existed := e.sessions.Delete(evt.SessionID)
		slog.Info("Engine.Handle: session cancelled", "session", evt.SessionID, "existed", existed)
		e.record(ctx, models.ConversationEvent{SessionID: evt.SessionID, Kind: models.AuditCancel, Input: "/cancel", Output: catalog.FarewellText, Source: string(SourceCommand)})
		return Turn{
			SessionID: evt.SessionID,
			Message:   models.OutboundMessage{Text: catalog.FarewellText},
			Source:    SourceCommand,
			Ended:     true,
		}, nil
	}
	return Turn{}, fmt.Errorf("unknown command %q", evt.Command)
}

func (e *Engine) handleCallback(ctx context.Context, sess *session.Session, evt models.InboundEvent) (Turn, error) {
	cb, ok := catalog.MatchCallback(evt.ActionID, sess.CatalogState())
	if ok {
		if tr, found := callbackTransition(cb.Category); found {
			apply := func(s *session.Session) {
				if cb.ClearSelection {
					s.ClearSelection()
				}
				if r, found := catalog.ResortFor(cb.Resort); found {
					s.SelectResort(r.ID, r.Destination)
				} else {
					s.SelectDestination(cb.Destination)
				}
			}
			return e.respond(ctx, sess, evt, cb.Response, tr, apply, cb.Echo)
		}
		slog.Error("Engine.handleCallback: category has no transition", "session", sess.ID, "action", evt.ActionID, "category", cb.Category)
	}

	stage := ResembleStage(evt.ActionID)
	slog.Warn("Engine.handleCallback: unroutable callback", "session", sess.ID, "action", evt.ActionID, "stage", sess.Stage, "resembles", stage)
	e.record(ctx, models.ConversationEvent{SessionID: sess.ID, Kind: models.AuditUnroutableCallback, Stage: sess.Stage.String(), Input: evt.ActionID, Detail: "resembles " + stage.String()})

	resp := catalog.Response{Prompt: catalog.CatchAllPrompt}
	turn, err := e.respond(ctx, sess, evt, resp, transition{Next: stage}, nil, catalog.TitleCase(evt.ActionID))
	turn.Unroutable = true
	return turn, err
}

// respond produces the reply for a resolved event and commits the transition.
func (e *Engine) respond(ctx context.Context, sess *session.Session, evt models.InboundEvent, resp catalog.Response, tr transition, apply func(*session.Session), echo string) (Turn, error) {
	reply, source := resp.Canned, SourceCanned
	if !resp.IsCanned() {
		text, err := e.generate(ctx, sess, resp.Prompt)
		if err != nil {
			return e.apologize(ctx, sess, evt, err)
		}
		reply, source = text, SourceGenerated
	}

	rendered := markup.Sanitize(reply)
	sess.AppendTurn(resp.Prompt, rendered, e.sessions.Now())
	sess.PushHint(resp.Hint)
	if apply != nil {
		apply(sess)
	}
	from := sess.Stage
	sess.Stage = tr.Next
	sess.Menu = tr.Menu
	sess.Render(rendered)

	msg := models.OutboundMessage{
		Text: rendered,
		Menu: menu.For(sess.Stage, menu.Input{Kind: sess.Menu, Destination: sess.Destination}),
	}
	if echo != "" {
		msg.Echo = catalog.SelectionEcho(echo)
		msg.EchoRef = evt.MessageRef
	}

	slog.Debug("Engine.respond: transition", "session", sess.ID, "from", from, "to", sess.Stage, "menu", sess.Menu, "source", source)
	e.record(ctx, models.ConversationEvent{SessionID: sess.ID, Kind: models.AuditTurn, Stage: sess.Stage.String(), Input: inputOf(evt), Output: rendered, Source: string(source)})
	return Turn{SessionID: sess.ID, Message: msg, Stage: sess.Stage, Source: source}, nil
}

// generate calls the model with an abortable context registered for /cancel.
func (e *Engine) generate(ctx context.Context, sess *session.Session, prompt string) (string, error) {
	genCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	e.inflight[sess.ID] = cancel
	e.mu.Unlock()
	defer func() {
		e.mu.Lock()
		delete(e.inflight, sess.ID)
		e.mu.Unlock()
		cancel()
	}()

	text, err := e.model.Generate(genCtx, sess.ID, sess.Transcript, prompt)
	if err != nil && ctx.Err() == nil && errors.Is(genCtx.Err(), context.Canceled) {
		return "", fmt.Errorf("%w: %w", ErrTurnAborted, err)
	}
	return text, err
}

// Abort cancels the session's in-flight generation, if any.
func (e *Engine) Abort(sessionID string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	cancel, ok := e.inflight[sessionID]
	if ok {
		cancel()
		slog.Debug("Engine.Abort: generation cancelled", "session", sessionID)
	}
	return ok
}

// apologize builds the degraded reply for a failed generation. The session
// is not modified.
func (e *Engine) apologize(ctx context.Context, sess *session.Session, evt models.InboundEvent, cause error) (Turn, error) {
	if errors.Is(cause, ErrTurnAborted) {
		slog.Info("Engine.apologize: generation aborted", "session", sess.ID)
		return Turn{SessionID: sess.ID, Stage: sess.Stage, Aborted: true}, cause
	}
	slog.Error("Engine.respond: generation failed", "session", sess.ID, "stage", sess.Stage, "error", cause)
	e.record(ctx, models.ConversationEvent{SessionID: sess.ID, Kind: models.AuditGenerationFailure, Stage: sess.Stage.String(), Input: inputOf(evt), Source: string(SourceApology), Detail: cause.Error()})

	text := catalog.GenerationRetry
	if sess.HasLastRendered {
		text = catalog.GenerationApology + "\n\n" + sess.LastRendered
	}
	msg := models.OutboundMessage{
		Text: text,
		Menu: menu.For(sess.Stage, menu.Input{Kind: sess.Menu, Destination: sess.Destination}),
	}
	err := cause
	if !errors.Is(err, models.ErrGenerationUnavailable) {
		err = fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, cause)
	}
	return Turn{SessionID: sess.ID, Message: msg, Stage: sess.Stage, Source: SourceApology}, err
}

// LastRendered returns the most recent reply shown in a session.
func (e *Engine) LastRendered(sessionID string) (string, bool) {
	unlock := e.sessions.Lock(sessionID)
	defer unlock()
	sess, ok := e.sessions.Get(sessionID)
	if !ok || !sess.HasLastRendered {
		return "", false
	}
	return sess.LastRendered, true
}

func (e *Engine) record(ctx context.Context, ev models.ConversationEvent) {
	if e.recorder == nil {
		return
	}
	ev.CreatedAt = e.sessions.Now()
	if err := e.recorder.RecordEvent(ctx, ev); err != nil {
		slog.Warn("Engine.record: failed to write audit event", "session", ev.SessionID, "kind", ev.Kind, "error", err)
	}
}

func inputOf(evt models.InboundEvent) string {
	switch evt.Kind {
	case models.EventText:
		return evt.Text
	case models.EventCallback:
		return evt.ActionID
	}
	return "/" + string(evt.Command)
}
