package messaging

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/flow"
	"github.com/BTreeMap/TripPipe/internal/markup"
	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/store"
)

// DefaultMailboxIdle is how long a session mailbox waits for work before its goroutine exits.
const DefaultMailboxIdle = time.Minute

// TurnHandler is the part of the dialogue engine the Dispatcher drives.
type TurnHandler interface {
	Handle(ctx context.Context, evt models.InboundEvent) (flow.Turn, error)
	Abort(sessionID string) bool
	LastRendered(sessionID string) (string, bool)
}

var _ TurnHandler = (*flow.Engine)(nil)

// DispatcherOpts holds optional Dispatcher dependencies.
type DispatcherOpts struct {
	Dedup       store.DedupRepo
	Recorder    flow.EventRecorder
	MailboxIdle time.Duration
}

// DispatcherOption defines a configuration option for the Dispatcher.
type DispatcherOption func(*DispatcherOpts)

// WithDedup drops events whose ID was already recorded.
func WithDedup(d store.DedupRepo) DispatcherOption {
	return func(o *DispatcherOpts) { o.Dedup = d }
}

// WithAuditRecorder records delivery failures.
func WithAuditRecorder(r flow.EventRecorder) DispatcherOption {
	return func(o *DispatcherOpts) { o.Recorder = r }
}

// WithMailboxIdle sets how long an idle mailbox goroutine lives.
func WithMailboxIdle(d time.Duration) DispatcherOption {
	return func(o *DispatcherOpts) { o.MailboxIdle = d }
}

// mailbox is one session's FIFO queue.
type mailbox struct {
	queue  []models.InboundEvent
	notify chan struct{}
}

// Dispatcher routes inbound events to the engine and delivers the replies.
// Events for one session are handled strictly in arrival order by that
// session's mailbox goroutine; different sessions run concurrently.
type Dispatcher struct {
	svc    Service
	engine TurnHandler
	opts   DispatcherOpts

	mu        sync.Mutex
	mailboxes map[string]*mailbox
	wg        sync.WaitGroup
}

// NewDispatcher creates a Dispatcher for one transport.
func NewDispatcher(svc Service, engine TurnHandler, opts ...DispatcherOption) *Dispatcher {
	cfg := DispatcherOpts{MailboxIdle: DefaultMailboxIdle}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{
		svc:       svc,
		engine:    engine,
		opts:      cfg,
		mailboxes: make(map[string]*mailbox),
	}
}

// Start consumes the transport's event channel until it closes or ctx ends.
func (d *Dispatcher) Start(ctx context.Context) {
	slog.Info("Dispatcher.Start: processing inbound events")
	go func() {
		defer slog.Info("Dispatcher.Start: stopped processing inbound events")
		for {
			select {
			case evt, ok := <-d.svc.Events():
				if !ok {
					slog.Debug("Dispatcher.Start: events channel closed")
					return
				}
				d.Dispatch(ctx, evt)
			case <-ctx.Done():
				return
			}
		}
	}()
}

// Dispatch queues an event on its session's mailbox. It returns false for
// duplicates. A /cancel also aborts any generation in flight for the session
// and drops the session's queued messages and button presses so it does not
// wait behind them. Queued commands are kept.
func (d *Dispatcher) Dispatch(ctx context.Context, evt models.InboundEvent) bool {
	if d.opts.Dedup != nil && evt.ID != "" {
		inserted, err := d.opts.Dedup.RecordInbound(ctx, evt.ID, evt.SessionID)
		if err != nil {
			slog.Warn("Dispatcher.Dispatch: dedup check failed, processing anyway", "id", evt.ID, "error", err)
		} else if !inserted {
			slog.Info("Dispatcher.Dispatch: duplicate event dropped", "id", evt.ID, "session", evt.SessionID)
			return false
		}
	}
	cancel := evt.Kind == models.EventCommand && evt.Command == models.CommandCancel
	if cancel && d.engine.Abort(evt.SessionID) {
		slog.Info("Dispatcher.Dispatch: cancel interrupted generation", "session", evt.SessionID)
	}

	var dropped []models.InboundEvent
	d.mu.Lock()
	mb, ok := d.mailboxes[evt.SessionID]
	if !ok {
		mb = &mailbox{notify: make(chan struct{}, 1)}
		d.mailboxes[evt.SessionID] = mb
		d.wg.Add(1)
		go d.run(ctx, evt.SessionID, mb)
	}
	if cancel {
		mb.queue, dropped = splitCommands(mb.queue)
	}
	mb.queue = append(mb.queue, evt)
	d.mu.Unlock()

	if len(dropped) > 0 {
		slog.Info("Dispatcher.Dispatch: cancel dropped queued events", "session", evt.SessionID, "dropped", len(dropped))
		d.markProcessed(ctx, dropped...)
	}

	select {
	case mb.notify <- struct{}{}:
	default:
	}
	return true
}

// splitCommands separates queued commands from everything else, keeping order.
func splitCommands(queue []models.InboundEvent) (commands, rest []models.InboundEvent) {
	commands = queue[:0]
	for _, e := range queue {
		if e.Kind == models.EventCommand {
			commands = append(commands, e)
		} else {
			rest = append(rest, e)
		}
	}
	return commands, rest
}

// run drains a session mailbox and exits after MailboxIdle without work.
func (d *Dispatcher) run(ctx context.Context, sessionID string, mb *mailbox) {
	defer d.wg.Done()
	idle := time.NewTimer(d.opts.MailboxIdle)
	defer idle.Stop()
	for {
		d.mu.Lock()
		if len(mb.queue) > 0 {
			evt := mb.queue[0]
			mb.queue = mb.queue[1:]
			d.mu.Unlock()
			d.process(ctx, evt)
			continue
		}
		d.mu.Unlock()

		if !idle.Stop() {
			select {
			case <-idle.C:
			default:
			}
		}
		idle.Reset(d.opts.MailboxIdle)

		select {
		case <-mb.notify:
		case <-idle.C:
			d.mu.Lock()
			if len(mb.queue) == 0 {
				delete(d.mailboxes, sessionID)
				d.mu.Unlock()
				return
			}
			d.mu.Unlock()
		case <-ctx.Done():
			d.mu.Lock()
			delete(d.mailboxes, sessionID)
			d.mu.Unlock()
			return
		}
	}
}

// Wait blocks until every mailbox goroutine has exited.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Active returns the number of live session mailboxes.
func (d *Dispatcher) Active() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.mailboxes)
}

func (d *Dispatcher) process(ctx context.Context, evt models.InboundEvent) {
	if evt.Kind == models.EventCallback {
		if err := d.svc.Acknowledge(ctx, evt); err != nil {
			slog.Warn("Dispatcher.process: acknowledge failed", "session", evt.SessionID, "error", err)
		}
	}

	turn, err := d.engine.Handle(ctx, evt)
	switch {
	case turn.Aborted:
		slog.Info("Dispatcher.process: turn aborted, nothing sent", "session", evt.SessionID)
	case err != nil && turn.Message.Text == "":
		slog.Error("Dispatcher.process: event not handled", "session", evt.SessionID, "kind", evt.Kind, "error", err)
	default:
		if err != nil {
			slog.Warn("Dispatcher.process: sending degraded reply", "session", evt.SessionID, "error", err)
		}
		d.deliver(ctx, evt.SessionID, turn.Message)
	}

	d.markProcessed(ctx, evt)
}

func (d *Dispatcher) markProcessed(ctx context.Context, events ...models.InboundEvent) {
	if d.opts.Dedup == nil {
		return
	}
	for _, evt := range events {
		if evt.ID == "" {
			continue
		}
		if err := d.opts.Dedup.MarkProcessed(ctx, evt.ID); err != nil {
			slog.Warn("Dispatcher.markProcessed: mark processed failed", "id", evt.ID, "error", err)
		}
	}
}

// deliver sends a reply. When the transport rejects the markup, the last
// rendered reply is resent as plain text behind an apology. Any other failure
// is followed by a short plain notice so the user is not left waiting.
func (d *Dispatcher) deliver(ctx context.Context, sessionID string, msg models.OutboundMessage) {
	err := d.svc.Send(ctx, sessionID, msg)
	if err == nil {
		return
	}
	if !errors.Is(err, ErrMalformedMarkup) {
		slog.Error("Dispatcher.deliver: send failed", "session", sessionID, "error", err)
		d.record(ctx, models.ConversationEvent{SessionID: sessionID, Kind: models.AuditDeliveryFailure, Output: msg.Text, Detail: err.Error()})
		notice := models.OutboundMessage{Text: catalog.FormattingFallback, Menu: msg.Menu, Plain: true}
		if err := d.svc.Send(ctx, sessionID, notice); err != nil {
			slog.Error("Dispatcher.deliver: failure notice not sent", "session", sessionID, "error", err)
		}
		return
	}

	slog.Warn("Dispatcher.deliver: markup rejected, resending plain text", "session", sessionID, "error", err)
	d.record(ctx, models.ConversationEvent{SessionID: sessionID, Kind: models.AuditFormattingFailure, Output: msg.Text, Detail: err.Error()})

	text := catalog.FormattingFallback
	if last, ok := d.engine.LastRendered(sessionID); ok {
		text = catalog.FormattingApology + "\n\n" + markup.StripTags(last)
	}
	plain := models.OutboundMessage{Text: text, Menu: msg.Menu, Plain: true}
	if err := d.svc.Send(ctx, sessionID, plain); err != nil {
		slog.Error("Dispatcher.deliver: plain resend failed", "session", sessionID, "error", err)
		d.record(ctx, models.ConversationEvent{SessionID: sessionID, Kind: models.AuditDeliveryFailure, Output: text, Detail: err.Error()})
	}
}

func (d *Dispatcher) record(ctx context.Context, ev models.ConversationEvent) {
	if d.opts.Recorder == nil {
		return
	}
	ev.CreatedAt = time.Now()
	if err := d.opts.Recorder.RecordEvent(ctx, ev); err != nil {
		slog.Warn("Dispatcher.record: failed to write audit event", "session", ev.SessionID, "kind", ev.Kind, "error", err)
	}
}
