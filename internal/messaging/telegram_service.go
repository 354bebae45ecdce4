package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"golang.org/x/time/rate"
)

// Constants for TelegramService configuration
const (
	// DefaultPollTimeout is the long polling timeout in seconds.
	DefaultPollTimeout = 60
	// DefaultSendRate is the per-chat outbound message rate.
	DefaultSendRate = rate.Limit(1)
	// DefaultSendBurst is the per-chat outbound burst size.
	DefaultSendBurst = 3
)

// telegramAPI is the subset of *tgbotapi.BotAPI the service uses.
type telegramAPI interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

var _ telegramAPI = (*tgbotapi.BotAPI)(nil)

// TelegramOpts holds configuration for TelegramService.
type TelegramOpts struct {
	SendRate    rate.Limit
	SendBurst   int
	PollTimeout int
}

// TelegramOption defines a configuration option for TelegramService.
type TelegramOption func(*TelegramOpts)

// WithSendRate sets the per-chat outbound rate and burst.
func WithSendRate(r rate.Limit, burst int) TelegramOption {
	return func(o *TelegramOpts) {
		o.SendRate = r
		o.SendBurst = burst
	}
}

// WithPollTimeout sets the long polling timeout in seconds.
func WithPollTimeout(seconds int) TelegramOption {
	return func(o *TelegramOpts) {
		o.PollTimeout = seconds
	}
}

// TelegramService implements Service on the Telegram Bot API using long polling.
type TelegramService struct {
	*eventStream
	api  telegramAPI
	opts TelegramOpts

	lmu      sync.Mutex
	limiters map[int64]*rate.Limiter

	wg sync.WaitGroup
}

var _ Service = (*TelegramService)(nil)

// NewTelegramBot connects to the Bot API with the given token.
func NewTelegramBot(token string) (*tgbotapi.BotAPI, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token must be provided")
	}
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to telegram: %w", err)
	}
	slog.Info("NewTelegramBot: authorized", "username", bot.Self.UserName)
	return bot, nil
}

// NewTelegramService wraps a Bot API client.
func NewTelegramService(api telegramAPI, opts ...TelegramOption) *TelegramService {
	cfg := TelegramOpts{SendRate: DefaultSendRate, SendBurst: DefaultSendBurst, PollTimeout: DefaultPollTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &TelegramService{
		eventStream: newEventStream("TelegramService"),
		api:         api,
		opts:        cfg,
		limiters:    make(map[int64]*rate.Limiter),
	}
}

// ValidateAndCanonicalizeRecipient accepts numeric chat ids.
func (s *TelegramService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	recipient = strings.TrimSpace(recipient)
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	id, err := strconv.ParseInt(recipient, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid telegram chat id %q: %w", recipient, err)
	}
	return strconv.FormatInt(id, 10), nil
}

func (s *TelegramService) limiter(chatID int64) *rate.Limiter {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	l, ok := s.limiters[chatID]
	if !ok {
		l = rate.NewLimiter(s.opts.SendRate, s.opts.SendBurst)
		s.limiters[chatID] = l
	}
	return l
}

// Send edits the pressed button's message into the selection echo, then
// sends the reply with an inline keyboard.
func (s *TelegramService) Send(ctx context.Context, to string, msg models.OutboundMessage) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		return err
	}
	chatID, _ := strconv.ParseInt(canonical, 10, 64)
	if err := s.limiter(chatID).Wait(ctx); err != nil {
		return fmt.Errorf("send to %s cancelled: %w", canonical, err)
	}

	if msg.Echo != "" && msg.EchoRef != "" {
		if messageID, err := strconv.Atoi(msg.EchoRef); err == nil {
			edit := tgbotapi.NewEditMessageText(chatID, messageID, msg.Echo)
			if _, err := s.api.Send(edit); err != nil {
				slog.Warn("TelegramService.Send: selection echo failed", "chat", chatID, "error", err)
			}
		}
	}

	out := tgbotapi.NewMessage(chatID, msg.Text)
	if !msg.Plain {
		out.ParseMode = tgbotapi.ModeHTML
	}
	if len(msg.Menu) > 0 {
		out.ReplyMarkup = inlineKeyboard(msg.Menu)
	}
	if _, err := s.api.Send(out); err != nil {
		slog.Error("TelegramService.Send: send failed", "chat", chatID, "error", err)
		return classifyTelegramError(err)
	}
	slog.Debug("TelegramService.Send: message sent", "chat", chatID, "length", len(msg.Text), "options", len(msg.Menu))
	return nil
}

// inlineKeyboard places one button per row.
func inlineKeyboard(menu models.OptionMenu) tgbotapi.InlineKeyboardMarkup {
	rows := make([][]tgbotapi.InlineKeyboardButton, 0, len(menu))
	for _, opt := range menu {
		rows = append(rows, tgbotapi.NewInlineKeyboardRow(tgbotapi.NewInlineKeyboardButtonData(opt.Label, opt.ActionID)))
	}
	return tgbotapi.NewInlineKeyboardMarkup(rows...)
}

func classifyTelegramError(err error) error {
	if strings.Contains(strings.ToLower(err.Error()), "can't parse entities") {
		return fmt.Errorf("%w: %v", ErrMalformedMarkup, err)
	}
	return fmt.Errorf("telegram send failed: %w", err)
}

// Acknowledge answers the callback query so the client stops its spinner.
func (s *TelegramService) Acknowledge(ctx context.Context, evt models.InboundEvent) error {
	if evt.CallbackRef == "" {
		return nil
	}
	if _, err := s.api.Request(tgbotapi.NewCallback(evt.CallbackRef, "")); err != nil {
		return fmt.Errorf("failed to answer callback %s: %w", evt.CallbackRef, err)
	}
	return nil
}

// Start begins long polling.
func (s *TelegramService) Start(ctx context.Context) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	u := tgbotapi.NewUpdate(0)
	u.Timeout = s.opts.PollTimeout
	updates := s.api.GetUpdatesChan(u)
	slog.Info("TelegramService.Start: polling for updates", "timeout", u.Timeout)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		for {
			select {
			case <-ctx.Done():
				slog.Debug("TelegramService.Start: stopping due to context cancellation")
				return
			case <-s.done:
				return
			case update, ok := <-updates:
				if !ok {
					slog.Debug("TelegramService.Start: updates channel closed")
					return
				}
				if evt, ok := eventFromUpdate(update); ok {
					s.emit(evt)
				}
			}
		}
	}()
	return nil
}

// Stop stops polling and closes the event channel.
func (s *TelegramService) Stop() error {
	if s.isStopped() {
		return nil
	}
	slog.Info("TelegramService.Stop: stopping")
	s.api.StopReceivingUpdates()
	s.mu.Lock()
	if !s.stopped {
		s.stopped = true
		close(s.done)
	}
	s.mu.Unlock()
	s.wg.Wait()
	close(s.events)
	return nil
}

// eventFromUpdate converts a Telegram update into an inbound event.
// Updates without text or callback data are ignored.
func eventFromUpdate(update tgbotapi.Update) (models.InboundEvent, bool) {
	id := "tg:" + strconv.Itoa(update.UpdateID)
	switch {
	case update.CallbackQuery != nil:
		cq := update.CallbackQuery
		if cq.Message == nil || cq.Message.Chat == nil || cq.Data == "" {
			return models.InboundEvent{}, false
		}
		evt := models.InboundEvent{
			ID:          id,
			SessionID:   strconv.FormatInt(cq.Message.Chat.ID, 10),
			Kind:        models.EventCallback,
			ActionID:    cq.Data,
			CallbackRef: cq.ID,
			MessageRef:  strconv.Itoa(cq.Message.MessageID),
			Time:        time.Now(),
		}
		if cq.From != nil {
			evt.DisplayName = cq.From.FirstName
		}
		return evt, true
	case update.Message != nil:
		m := update.Message
		if m.Chat == nil || strings.TrimSpace(m.Text) == "" {
			return models.InboundEvent{}, false
		}
		evt := models.InboundEvent{
			ID:        id,
			SessionID: strconv.FormatInt(m.Chat.ID, 10),
			Time:      m.Time(),
		}
		if m.From != nil {
			evt.DisplayName = m.From.FirstName
		}
		if cmd, ok := models.ParseCommand(m.Text); ok {
			evt.Kind = models.EventCommand
			evt.Command = cmd
			return evt, true
		}
		evt.Kind = models.EventText
		evt.Text = m.Text
		return evt, true
	}
	return models.InboundEvent{}, false
}
