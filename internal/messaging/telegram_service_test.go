package messaging

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// fakeBot records every Chattable sent through it.
type fakeBot struct {
	mu       sync.Mutex
	sent     []tgbotapi.Chattable
	requests []tgbotapi.Chattable
	sendErr  error
	updates  chan tgbotapi.Update
	stopped  bool
}

var _ telegramAPI = (*fakeBot)(nil)

func newFakeBot() *fakeBot {
	return &fakeBot{updates: make(chan tgbotapi.Update, 10)}
}

func (f *fakeBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, isMsg := c.(tgbotapi.MessageConfig); isMsg && f.sendErr != nil {
		return tgbotapi.Message{}, f.sendErr
	}
	f.sent = append(f.sent, c)
	return tgbotapi.Message{MessageID: len(f.sent)}, nil
}

func (f *fakeBot) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, c)
	return &tgbotapi.APIResponse{Ok: true}, nil
}

func (f *fakeBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return f.updates
}

func (f *fakeBot) StopReceivingUpdates() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped = true
}

func newTestTelegram(bot *fakeBot) *TelegramService {
	return NewTelegramService(bot, WithSendRate(rate.Inf, 1))
}

func TestTelegramService_SendWithKeyboard(t *testing.T) {
	bot := newFakeBot()
	svc := newTestTelegram(bot)
	msg := models.OutboundMessage{
		Text: "<b>1. Ubud</b>",
		Menu: models.OptionMenu{{Label: "Ubud", ActionID: "ubud"}, {Label: "Seminyak", ActionID: "seminyak"}},
	}
	if err := svc.Send(context.Background(), "42", msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(bot.sent) != 1 {
		t.Fatalf("expected 1 call, got %d", len(bot.sent))
	}
	out, ok := bot.sent[0].(tgbotapi.MessageConfig)
	if !ok {
		t.Fatalf("expected MessageConfig, got %T", bot.sent[0])
	}
	if out.ChatID != 42 || out.Text != msg.Text || out.ParseMode != tgbotapi.ModeHTML {
		t.Errorf("unexpected message config: chat=%d parse=%q", out.ChatID, out.ParseMode)
	}
	kb, ok := out.ReplyMarkup.(tgbotapi.InlineKeyboardMarkup)
	if !ok {
		t.Fatalf("expected inline keyboard, got %T", out.ReplyMarkup)
	}
	if len(kb.InlineKeyboard) != 2 {
		t.Fatalf("expected one row per option, got %d rows", len(kb.InlineKeyboard))
	}
	for i, row := range kb.InlineKeyboard {
		if len(row) != 1 || row[0].CallbackData == nil || *row[0].CallbackData != msg.Menu[i].ActionID {
			t.Errorf("row %d = %+v", i, row)
		}
	}
}

func TestTelegramService_SendEchoAndPlain(t *testing.T) {
	bot := newFakeBot()
	svc := newTestTelegram(bot)
	msg := models.OutboundMessage{Text: "plain <text>", Echo: "You selected: Ubud", EchoRef: "17", Plain: true}
	if err := svc.Send(context.Background(), "42", msg); err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if len(bot.sent) != 2 {
		t.Fatalf("expected edit + message, got %d calls", len(bot.sent))
	}
	edit, ok := bot.sent[0].(tgbotapi.EditMessageTextConfig)
	if !ok || edit.MessageID != 17 || edit.Text != "You selected: Ubud" {
		t.Errorf("unexpected echo edit: %+v", bot.sent[0])
	}
	out := bot.sent[1].(tgbotapi.MessageConfig)
	if out.ParseMode != "" {
		t.Errorf("plain message should not set parse mode, got %q", out.ParseMode)
	}
	if out.ReplyMarkup != nil {
		t.Errorf("no menu means no keyboard, got %T", out.ReplyMarkup)
	}
}

func TestTelegramService_MalformedMarkup(t *testing.T) {
	bot := newFakeBot()
	bot.sendErr = errors.New("Bad Request: can't parse entities: unsupported start tag \"span\"")
	svc := newTestTelegram(bot)
	err := svc.Send(context.Background(), "42", models.OutboundMessage{Text: "<span>x</span>"})
	if !errors.Is(err, ErrMalformedMarkup) {
		t.Errorf("expected ErrMalformedMarkup, got %v", err)
	}

	bot.sendErr = errors.New("Forbidden: bot was blocked by the user")
	err = svc.Send(context.Background(), "42", models.OutboundMessage{Text: "hi"})
	if err == nil || errors.Is(err, ErrMalformedMarkup) {
		t.Errorf("other errors must not be treated as formatting failures: %v", err)
	}
}

func TestTelegramService_ValidateRecipient(t *testing.T) {
	svc := newTestTelegram(newFakeBot())
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"42", "42", false},
		{" -100123 ", "-100123", false},
		{"", "", true},
		{"@trip", "", true},
	}
	for _, tt := range tests {
		got, err := svc.ValidateAndCanonicalizeRecipient(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("Validate(%q) = %q, %v", tt.in, got, err)
		}
	}
}

func TestTelegramService_Acknowledge(t *testing.T) {
	bot := newFakeBot()
	svc := newTestTelegram(bot)
	if err := svc.Acknowledge(context.Background(), models.InboundEvent{CallbackRef: "cbq-1"}); err != nil {
		t.Fatalf("Acknowledge failed: %v", err)
	}
	if err := svc.Acknowledge(context.Background(), models.InboundEvent{}); err != nil {
		t.Fatalf("Acknowledge without ref failed: %v", err)
	}
	if len(bot.requests) != 1 {
		t.Fatalf("expected one callback answer, got %d", len(bot.requests))
	}
	if cb, ok := bot.requests[0].(tgbotapi.CallbackConfig); !ok || cb.CallbackQueryID != "cbq-1" {
		t.Errorf("unexpected request %+v", bot.requests[0])
	}
}

func TestEventFromUpdate(t *testing.T) {
	chat := &tgbotapi.Chat{ID: 42}
	from := &tgbotapi.User{FirstName: "Wayan"}
	tests := []struct {
		name   string
		update tgbotapi.Update
		ok     bool
		want   models.InboundEvent
	}{
		{
			name:   "command",
			update: tgbotapi.Update{UpdateID: 1, Message: &tgbotapi.Message{Chat: chat, From: from, Text: "/start"}},
			ok:     true,
			want:   models.InboundEvent{ID: "tg:1", SessionID: "42", Kind: models.EventCommand, Command: models.CommandStart, DisplayName: "Wayan"},
		},
		{
			name:   "text",
			update: tgbotapi.Update{UpdateID: 2, Message: &tgbotapi.Message{Chat: chat, Text: "planning a trip"}},
			ok:     true,
			want:   models.InboundEvent{ID: "tg:2", SessionID: "42", Kind: models.EventText, Text: "planning a trip"},
		},
		{
			name: "callback",
			update: tgbotapi.Update{UpdateID: 3, CallbackQuery: &tgbotapi.CallbackQuery{
				ID: "cbq", From: from, Data: "ubud", Message: &tgbotapi.Message{MessageID: 9, Chat: chat},
			}},
			ok:   true,
			want: models.InboundEvent{ID: "tg:3", SessionID: "42", Kind: models.EventCallback, ActionID: "ubud", CallbackRef: "cbq", MessageRef: "9", DisplayName: "Wayan"},
		},
		{
			name:   "photo without text",
			update: tgbotapi.Update{UpdateID: 4, Message: &tgbotapi.Message{Chat: chat}},
		},
		{
			name:   "callback without message",
			update: tgbotapi.Update{UpdateID: 5, CallbackQuery: &tgbotapi.CallbackQuery{ID: "x", Data: "ubud"}},
		},
		{
			name:   "edited message",
			update: tgbotapi.Update{UpdateID: 6, EditedMessage: &tgbotapi.Message{Chat: chat, Text: "hi"}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := eventFromUpdate(tt.update)
			if ok != tt.ok {
				t.Fatalf("ok = %v, want %v", ok, tt.ok)
			}
			if !ok {
				return
			}
			got.Time = time.Time{}
			if got != tt.want {
				t.Errorf("event = %+v\nwant    %+v", got, tt.want)
			}
		})
	}
}

func TestTelegramService_StartStop(t *testing.T) {
	bot := newFakeBot()
	svc := newTestTelegram(bot)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	bot.updates <- tgbotapi.Update{UpdateID: 10, Message: &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 5}, Text: "hello"}}

	select {
	case evt := <-svc.Events():
		if evt.SessionID != "5" || evt.Text != "hello" {
			t.Errorf("unexpected event %+v", evt)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no event received")
	}

	if err := svc.Stop(); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}
	if !bot.stopped {
		t.Error("polling was not stopped")
	}
	if _, ok := <-svc.Events(); ok {
		t.Error("events channel should be closed")
	}
	if err := svc.Send(context.Background(), "5", models.OutboundMessage{Text: "x"}); !errors.Is(err, ErrServiceStopped) {
		t.Errorf("expected ErrServiceStopped, got %v", err)
	}
	if err := svc.Stop(); err != nil {
		t.Errorf("second Stop should be a no-op: %v", err)
	}
}
