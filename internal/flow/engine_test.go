package flow

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TripPipe/internal/catalog"
	"github.com/BTreeMap/TripPipe/internal/genai"
	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/session"
)

type memRecorder struct {
	mu     sync.Mutex
	events []models.ConversationEvent
}

func (r *memRecorder) RecordEvent(ctx context.Context, e models.ConversationEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *memRecorder) kinds() []models.AuditKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditKind
	for _, e := range r.events {
		out = append(out, e.Kind)
	}
	return out
}

func newTestEngine(model genai.Client) (*Engine, *memRecorder) {
	rec := &memRecorder{}
	return NewEngine(session.NewStore(), model, WithRecorder(rec)), rec
}

func text(id, s string) models.InboundEvent {
	return models.InboundEvent{ID: "t-" + s, SessionID: id, Kind: models.EventText, Text: s}
}

func press(id, action string) models.InboundEvent {
	return models.InboundEvent{ID: "c-" + action, SessionID: id, Kind: models.EventCallback, ActionID: action, CallbackRef: "cb", MessageRef: "m1"}
}

func command(id string, c models.Command) models.InboundEvent {
	return models.InboundEvent{SessionID: id, Kind: models.EventCommand, Command: c, DisplayName: "Ana"}
}

func mustHandle(t *testing.T, e *Engine, evt models.InboundEvent) Turn {
	t.Helper()
	turn, err := e.Handle(context.Background(), evt)
	if err != nil {
		t.Fatalf("Handle(%+v) failed: %v", evt, err)
	}
	return turn
}

func TestEngine_Start(t *testing.T) {
	e, rec := newTestEngine(&genai.MockClient{})
	turn := mustHandle(t, e, command("42", models.CommandStart))

	if !strings.Contains(turn.Message.Text, "<b>Ana</b>") {
		t.Errorf("greeting should name the user: %q", turn.Message.Text)
	}
	if turn.Stage != models.StageInitial {
		t.Errorf("stage = %v, want initial", turn.Stage)
	}
	if got := turn.Message.Menu.ActionIDs(); !reflect.DeepEqual(got, []string{"destinations", "questions"}) {
		t.Errorf("start menu = %v", got)
	}
	if !reflect.DeepEqual(rec.kinds(), []models.AuditKind{models.AuditStart}) {
		t.Errorf("audit = %v", rec.kinds())
	}
}

func TestEngine_HappyPath(t *testing.T) {
	model := &genai.MockClient{Reply: "generated"}
	e, _ := newTestEngine(model)
	mustHandle(t, e, command("42", models.CommandStart))

	steps := []struct {
		evt    models.InboundEvent
		stage  models.Stage
		source Source
		menu   []string
		want   string
	}{
		{text("42", "I'm planning a family vacation"), models.StageDestinationDetails, SourceCanned,
			[]string{"destinations", "budget", "questions"}, "When exactly are you planning to travel?"},
		{text("42", "June 15-22, 2 adults and 1 child, budget $3000"), models.StageResortSelection, SourceCanned,
			[]string{"ubud", "seminyak", "uluwatu", "other_destinations"}, "<b>1. Ubud</b>"},
		{press("42", "ubud"), models.StageResortSelection, SourceCanned,
			[]string{"suggest_ubud_resorts", "ubud_activities", "other_destinations"}, "<b>Ubud, Bali</b>"},
		{press("42", "suggest_ubud_resorts"), models.StageResortSelection, SourceCanned,
			[]string{"details_1_ubud", "details_2_ubud", "details_3_ubud", "other_destinations"}, "Maya Ubud Resort & Spa"},
		{press("42", "details_1_ubud"), models.StageFlightOptions, SourceCanned,
			[]string{"view_flights", "activities"}, "Maya Ubud"},
		{press("42", "view_flights"), models.StageItinerary, SourceCanned,
			[]string{"family_activities", "dining", "transportation", "book"}, "$5,050"},
		{press("42", "dining"), models.StageItinerary, SourceGenerated,
			[]string{"family_activities", "dining", "transportation", "book"}, "generated"},
	}
	for i, s := range steps {
		turn := mustHandle(t, e, s.evt)
		if turn.Stage != s.stage || turn.Source != s.source {
			t.Fatalf("step %d: stage=%v source=%s, want %v %s", i, turn.Stage, turn.Source, s.stage, s.source)
		}
		if got := turn.Message.Menu.ActionIDs(); !reflect.DeepEqual(got, s.menu) {
			t.Errorf("step %d: menu = %v, want %v", i, got, s.menu)
		}
		if !strings.Contains(turn.Message.Text, s.want) {
			t.Errorf("step %d: reply missing %q", i, s.want)
		}
	}

	if model.CallCount() != 1 {
		t.Errorf("only the dining question should reach the model, got %d calls", model.CallCount())
	}
	call, _ := model.LastCall()
	if len(call.Transcript) != 12 {
		t.Errorf("model should see the six canned turns, got %d messages", len(call.Transcript))
	}
	snap, _ := e.Sessions().Snapshot("42")
	if snap.Destination != models.DestinationUbud || snap.Resort != "maya_ubud" {
		t.Errorf("selections = %q/%q", snap.Destination, snap.Resort)
	}
	if len(snap.Transcript) != 14 {
		t.Errorf("transcript length = %d, want 14", len(snap.Transcript))
	}
	if len(snap.TopicHints) != session.MaxTopicHints {
		t.Errorf("hints = %v", snap.TopicHints)
	}
}

func TestEngine_TextWithoutSessionStartsOne(t *testing.T) {
	model := &genai.MockClient{Reply: "What's on your mind?"}
	e, _ := newTestEngine(model)
	turn := mustHandle(t, e, text("7", "hello there"))
	if turn.Stage != models.StageDestinationDetails || turn.Source != SourceGenerated {
		t.Errorf("unexpected turn: %+v", turn)
	}
	call, _ := model.LastCall()
	if call.UserText != "hello there" || len(call.Transcript) != 0 {
		t.Errorf("model should get the raw text with an empty transcript: %+v", call)
	}
}

func TestEngine_SelectionEcho(t *testing.T) {
	e, _ := newTestEngine(&genai.MockClient{Reply: "ok"})
	turn := mustHandle(t, e, press("42", "seminyak"))
	if turn.Message.Echo != "You selected: Seminyak" || turn.Message.EchoRef != "m1" {
		t.Errorf("echo = %q ref=%q", turn.Message.Echo, turn.Message.EchoRef)
	}
	turn = mustHandle(t, e, press("42", "seminyak_activities"))
	if turn.Message.Echo != "" {
		t.Errorf("activity buttons carry no echo, got %q", turn.Message.Echo)
	}
}

func TestEngine_SanitizesModelOutput(t *testing.T) {
	e, _ := newTestEngine(&genai.MockClient{Reply: "<h2>Dining</h2>\n- **Locavore** in <span>Ubud</span>\n<ul><li>x</li></ul>"})
	turn := mustHandle(t, e, press("42", "dining"))
	want := "<b>Dining</b>\n• <b>Locavore</b> in <b>Ubud</b>\nx"
	if turn.Message.Text != want {
		t.Errorf("got %q, want %q", turn.Message.Text, want)
	}
	last, ok := e.LastRendered("42")
	if !ok || last != want {
		t.Errorf("LastRendered = %q, %v", last, ok)
	}
}

func TestEngine_GenerationFailureLeavesStateUntouched(t *testing.T) {
	model := &genai.MockClient{}
	e, rec := newTestEngine(model)
	mustHandle(t, e, text("42", "planning a trip"))
	before, _ := e.Sessions().Snapshot("42")

	model.Err = errors.New("rate limited")
	turn, err := e.Handle(context.Background(), text("42", "somewhere quiet please"))
	if !errors.Is(err, models.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	if turn.Source != SourceApology {
		t.Errorf("source = %s", turn.Source)
	}
	if !strings.HasPrefix(turn.Message.Text, catalog.GenerationApology) || !strings.Contains(turn.Message.Text, before.LastRendered) {
		t.Errorf("apology should repeat the last reply: %q", turn.Message.Text)
	}
	if got := turn.Message.Menu.ActionIDs(); !reflect.DeepEqual(got, []string{"destinations", "budget", "questions"}) {
		t.Errorf("apology should carry the current menu, got %v", got)
	}

	after, _ := e.Sessions().Snapshot("42")
	if after.Stage != before.Stage || len(after.Transcript) != len(before.Transcript) ||
		!reflect.DeepEqual(after.TopicHints, before.TopicHints) || after.LastRendered != before.LastRendered {
		t.Errorf("session changed on failure:\nbefore %+v\nafter  %+v", before, after)
	}
	kinds := rec.kinds()
	if kinds[len(kinds)-1] != models.AuditGenerationFailure {
		t.Errorf("audit = %v", kinds)
	}
}

func TestEngine_GenerationFailureWithoutHistory(t *testing.T) {
	e, _ := newTestEngine(&genai.MockClient{Err: errors.New("down")})
	turn, err := e.Handle(context.Background(), press("9", "budget"))
	if !errors.Is(err, models.ErrGenerationUnavailable) {
		t.Fatalf("expected ErrGenerationUnavailable, got %v", err)
	}
	if turn.Message.Text != catalog.GenerationRetry {
		t.Errorf("got %q", turn.Message.Text)
	}
	if turn.Stage != models.StageInitial {
		t.Errorf("stage should stay initial, got %v", turn.Stage)
	}
}

func TestEngine_UnroutableCallback(t *testing.T) {
	tests := []struct {
		action string
		stage  models.Stage
		echo   string
	}{
		{"spa_packages", models.StageItinerary, "You selected: Spa Packages"},
		{"luxury_villa", models.StageResortSelection, "You selected: Luxury Villa"},
		{"night_flight", models.StageFlightOptions, "You selected: Night Flight"},
		{"budget_tips", models.StageDestinationDetails, "You selected: Budget Tips"},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			model := &genai.MockClient{Reply: "Here is more."}
			e, rec := newTestEngine(model)
			turn := mustHandle(t, e, press("42", tt.action))
			if !turn.Unroutable {
				t.Error("turn should be flagged unroutable")
			}
			if turn.Stage != tt.stage {
				t.Errorf("stage = %v, want %v", turn.Stage, tt.stage)
			}
			if turn.Message.Echo != tt.echo {
				t.Errorf("echo = %q", turn.Message.Echo)
			}
			call, _ := model.LastCall()
			if call.UserText != catalog.CatchAllPrompt {
				t.Errorf("model prompt = %q", call.UserText)
			}
			if len(turn.Message.Menu) == 0 {
				t.Error("fallback should still offer a menu")
			}
			if kinds := rec.kinds(); kinds[0] != models.AuditUnroutableCallback {
				t.Errorf("audit = %v", kinds)
			}
		})
	}
}

func TestEngine_OtherDestinationsClearsSelection(t *testing.T) {
	e, _ := newTestEngine(&genai.MockClient{Reply: "Consider Sanur."})
	mustHandle(t, e, press("42", "w_bali"))
	turn := mustHandle(t, e, press("42", "other_destinations"))
	snap, _ := e.Sessions().Snapshot("42")
	if snap.Destination != models.DestinationNone || snap.Resort != "" {
		t.Errorf("selection should be cleared: %q/%q", snap.Destination, snap.Resort)
	}
	if turn.Stage != models.StageResortSelection {
		t.Errorf("stage = %v", turn.Stage)
	}
}

func TestEngine_HelpAndCancel(t *testing.T) {
	e, rec := newTestEngine(&genai.MockClient{Reply: "ok"})
	mustHandle(t, e, text("42", "planning a trip"))
	before, _ := e.Sessions().Snapshot("42")

	turn := mustHandle(t, e, command("42", models.CommandHelp))
	if turn.Message.Text != catalog.HelpText || turn.Stage != before.Stage {
		t.Errorf("help turn = %+v", turn)
	}
	after, _ := e.Sessions().Snapshot("42")
	if len(after.Transcript) != len(before.Transcript) {
		t.Error("help must not touch the transcript")
	}

	turn = mustHandle(t, e, command("42", models.CommandCancel))
	if !turn.Ended || turn.Message.Text != catalog.FarewellText || len(turn.Message.Menu) != 0 {
		t.Errorf("cancel turn = %+v", turn)
	}
	if _, ok := e.Sessions().Get("42"); ok {
		t.Error("session should be destroyed")
	}
	if _, ok := e.LastRendered("42"); ok {
		t.Error("LastRendered should be gone with the session")
	}

	turn = mustHandle(t, e, text("42", "planning a trip"))
	if turn.Stage != models.StageDestinationDetails {
		t.Errorf("new session should start over, got %v", turn.Stage)
	}
	if kinds := rec.kinds(); kinds[len(kinds)-2] != models.AuditCancel {
		t.Errorf("audit = %v", kinds)
	}
}

// stageSetups reach every stage once by free text and once by buttons. None
// of them leaves a safety inquiry in the topic hints.
var stageSetups = []struct {
	name   string
	events []models.InboundEvent
	stage  models.Stage
}{
	{"initial", nil, models.StageInitial},
	{"destination details by text", []models.InboundEvent{
		text("7", "planning a trip"),
	}, models.StageDestinationDetails},
	{"destination details by button", []models.InboundEvent{
		press("7", "budget"),
	}, models.StageDestinationDetails},
	{"resort selection by text", []models.InboundEvent{
		text("7", "planning a trip"),
		text("7", "June 15-22, 2 adults, budget $3000"),
	}, models.StageResortSelection},
	{"resort selection by button", []models.InboundEvent{
		press("7", "all_resorts"),
	}, models.StageResortSelection},
	{"flight options by text", []models.InboundEvent{
		text("7", "planning a trip"),
		text("7", "June 15-22, 2 adults, budget $3000"),
		text("7", "the Maya one looks good"),
	}, models.StageFlightOptions},
	{"flight options by button", []models.InboundEvent{
		press("7", "details_1_ubud"),
	}, models.StageFlightOptions},
	{"itinerary by text", []models.InboundEvent{
		text("7", "planning a trip"),
		text("7", "June 15-22, 2 adults, budget $3000"),
		text("7", "the Maya one looks good"),
		text("7", "what about flights"),
	}, models.StageItinerary},
	{"itinerary by button", []models.InboundEvent{
		press("7", "details_1_ubud"),
		press("7", "view_flights"),
	}, models.StageItinerary},
}

// reachStage starts session 7 and replays the setup events.
func reachStage(t *testing.T, e *Engine, events []models.InboundEvent, want models.Stage) {
	t.Helper()
	mustHandle(t, e, command("7", models.CommandStart))
	for _, evt := range events {
		mustHandle(t, e, evt)
	}
	snap, ok := e.Sessions().Snapshot("7")
	if !ok || snap.Stage != want {
		t.Fatalf("setup reached %v (session present: %v), want %v", snap.Stage, ok, want)
	}
}

func TestEngine_CancelFromEveryStage(t *testing.T) {
	for _, tt := range stageSetups {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newTestEngine(&genai.MockClient{Reply: "ok"})
			reachStage(t, e, tt.events, tt.stage)

			turn := mustHandle(t, e, command("7", models.CommandCancel))
			if !turn.Ended {
				t.Error("cancel should end the conversation")
			}
			if turn.Message.Text != catalog.FarewellText {
				t.Errorf("reply = %q, want the farewell", turn.Message.Text)
			}
			if len(turn.Message.Menu) != 0 {
				t.Errorf("farewell should carry no menu, got %v", turn.Message.Menu.ActionIDs())
			}
			if _, ok := e.Sessions().Get("7"); ok {
				t.Error("session should be destroyed")
			}
			if kinds := rec.kinds(); kinds[len(kinds)-1] != models.AuditCancel {
				t.Errorf("last audit = %v, want cancel", kinds)
			}
		})
	}
}

func TestEngine_SuggestResortsWithoutSafetyHintIsGenerated(t *testing.T) {
	for _, tt := range stageSetups {
		t.Run(tt.name, func(t *testing.T) {
			model := &genai.MockClient{Reply: "here are some resorts"}
			e, _ := newTestEngine(model)
			reachStage(t, e, tt.events, tt.stage)
			calls := model.CallCount()

			turn := mustHandle(t, e, press("7", "suggest_ubud_resorts"))
			if turn.Source != SourceGenerated {
				t.Errorf("source = %s, want generated", turn.Source)
			}
			if turn.Stage != models.StageResortSelection {
				t.Errorf("stage = %v, want resort selection", turn.Stage)
			}
			if model.CallCount() != calls+1 {
				t.Errorf("model calls = %d, want %d", model.CallCount(), calls+1)
			}
			if strings.Contains(turn.Message.Text, "Maya Ubud Resort & Spa") {
				t.Error("scripted shortlist sent without a safety inquiry")
			}
		})
	}
}

func TestEngine_SuggestResortsAfterSafetyInquiryIsCanned(t *testing.T) {
	model := &genai.MockClient{Reply: "unused"}
	e, _ := newTestEngine(model)
	reachStage(t, e, []models.InboundEvent{press("7", "ubud")}, models.StageResortSelection)

	turn := mustHandle(t, e, press("7", "suggest_ubud_resorts"))
	if turn.Source != SourceCanned || !strings.Contains(turn.Message.Text, "Maya Ubud Resort & Spa") {
		t.Errorf("expected the scripted shortlist, got %s %q", turn.Source, turn.Message.Text)
	}
	if model.CallCount() != 0 {
		t.Errorf("canned turns must not reach the model, got %d calls", model.CallCount())
	}
}

type blockingClient struct {
	started chan struct{}
}

func (b *blockingClient) Generate(ctx context.Context, sessionID string, transcript []models.Message, userText string) (string, error) {
	close(b.started)
	<-ctx.Done()
	return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, ctx.Err())
}

func TestEngine_AbortInterruptsGeneration(t *testing.T) {
	model := &blockingClient{started: make(chan struct{})}
	e, _ := newTestEngine(model)

	done := make(chan struct{})
	var (
		turn Turn
		err  error
	)
	go func() {
		defer close(done)
		turn, err = e.Handle(context.Background(), text("42", "tell me something"))
	}()

	select {
	case <-model.started:
	case <-time.After(time.Second):
		t.Fatal("generation did not start")
	}
	if !e.Abort("42") {
		t.Fatal("Abort should find the in-flight generation")
	}
	<-done

	if !errors.Is(err, ErrTurnAborted) || !turn.Aborted {
		t.Fatalf("expected aborted turn, got %+v, %v", turn, err)
	}
	if turn.Message.Text != "" {
		t.Error("aborted turns send nothing")
	}
	if e.Abort("42") {
		t.Error("nothing should be in flight after the turn")
	}
	cancelTurn := mustHandle(t, e, command("42", models.CommandCancel))
	if !cancelTurn.Ended {
		t.Error("cancel should end the session")
	}
}

func TestEngine_InvalidEvent(t *testing.T) {
	e, _ := newTestEngine(&genai.MockClient{})
	if _, err := e.Handle(context.Background(), models.InboundEvent{Kind: models.EventText, Text: "hi"}); !errors.Is(err, models.ErrEmptySession) {
		t.Errorf("expected ErrEmptySession, got %v", err)
	}
	if _, err := e.Handle(context.Background(), models.InboundEvent{SessionID: "1", Kind: models.EventCallback}); !errors.Is(err, models.ErrEmptyAction) {
		t.Errorf("expected ErrEmptyAction, got %v", err)
	}
}

func TestEngine_ConcurrentSessions(t *testing.T) {
	e, _ := newTestEngine(&genai.MockClient{Reply: "ok"})
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for _, evt := range []models.InboundEvent{text(id, "planning a trip"), press(id, "ubud"), press(id, "maya_ubud")} {
				if _, err := e.Handle(context.Background(), evt); err != nil {
					t.Errorf("session %s: %v", id, err)
				}
			}
		}(fmt.Sprintf("s%d", i))
	}
	wg.Wait()
	if e.Sessions().Len() != 10 {
		t.Fatalf("expected 10 sessions, got %d", e.Sessions().Len())
	}
	for _, id := range e.Sessions().IDs() {
		snap, _ := e.Sessions().Snapshot(id)
		if snap.Stage != models.StageFlightOptions || len(snap.Transcript) != 6 {
			t.Errorf("session %s ended in %v with %d messages", id, snap.Stage, len(snap.Transcript))
		}
	}
}
