package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/twiliowhatsapp"
	twilioclient "github.com/twilio/twilio-go/client"
)

// TwilioSignatureHeader carries the request signature on Twilio webhooks.
const TwilioSignatureHeader = "X-Twilio-Signature"

// TwilioService implements Service using the Twilio API. Inbound messages
// arrive through WebhookHandler.
type TwilioService struct {
	*eventStream
	client    twiliowhatsapp.Sender // real Twilio client or MockClient
	menus     *menuMemory
	validator *twilioclient.RequestValidator
	publicURL string
}

var _ Service = (*TwilioService)(nil)

// TwilioOption configures a TwilioService.
type TwilioOption func(*TwilioService)

// WithWebhookValidation rejects webhook requests whose signature does not
// match authToken. publicURL is the webhook URL as configured in Twilio.
func WithWebhookValidation(authToken, publicURL string) TwilioOption {
	return func(s *TwilioService) {
		v := twilioclient.NewRequestValidator(authToken)
		s.validator = &v
		s.publicURL = publicURL
	}
}

// NewTwilioService creates a new TwilioService.
func NewTwilioService(client twiliowhatsapp.Sender, opts ...TwilioOption) *TwilioService {
	s := &TwilioService{
		eventStream: newEventStream("TwilioService"),
		client:      client,
		menus:       newMenuMemory(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ValidateAndCanonicalizeRecipient accepts "whatsapp:+62..." or bare numbers.
func (s *TwilioService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(strings.TrimPrefix(recipient, "whatsapp:"))
}

// Start is a no-op; inbound traffic arrives through the webhook.
func (s *TwilioService) Start(ctx context.Context) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	return nil
}

// Stop closes the event channel.
func (s *TwilioService) Stop() error {
	s.close()
	return nil
}

// Send delivers the selection echo, if any, then the reply with its numbered menu.
func (s *TwilioService) Send(ctx context.Context, to string, msg models.OutboundMessage) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("TwilioService.Send: validation error", "error", err, "to", to)
		return err
	}
	number := "+" + canonical
	if msg.Echo != "" {
		if err := s.client.SendMessage(ctx, number, msg.Echo); err != nil {
			slog.Warn("TwilioService.Send: selection echo failed", "to", number, "error", err)
		}
	}
	if err := s.client.SendMessage(ctx, number, formatText(msg)); err != nil {
		return err
	}
	s.menus.remember(canonical, msg.Menu)
	return nil
}

// Acknowledge is a no-op for Twilio.
func (s *TwilioService) Acknowledge(ctx context.Context, evt models.InboundEvent) error {
	return nil
}

// WebhookHandler handles inbound Twilio webhook requests and emits them on Events().
func (s *TwilioService) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if err := r.ParseForm(); err != nil {
		slog.Error("TwilioService.WebhookHandler: failed to parse form", "error", err)
		http.Error(w, "Bad request", http.StatusBadRequest)
		return
	}
	if s.validator != nil {
		params := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			params[k] = r.PostForm.Get(k)
		}
		if !s.validator.Validate(s.publicURL, params, r.Header.Get(TwilioSignatureHeader)) {
			slog.Warn("TwilioService.WebhookHandler: signature mismatch")
			http.Error(w, "invalid signature", http.StatusForbidden)
			return
		}
	}

	from := r.FormValue("From")
	body := r.FormValue("Body")
	if from == "" || body == "" {
		slog.Warn("TwilioService.WebhookHandler: missing fields", "from", from, "body_length", len(body))
		http.Error(w, "Missing required fields", http.StatusBadRequest)
		return
	}
	chat, err := s.ValidateAndCanonicalizeRecipient(from)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid sender: %v", err), http.StatusBadRequest)
		return
	}

	id := r.FormValue("MessageSid")
	if id != "" {
		id = "twilio:" + id
	}
	evt := textEvent(id, chat, r.FormValue("ProfileName"), body, s.menus, time.Now())
	if !s.emit(evt) {
		http.Error(w, "service unavailable", http.StatusServiceUnavailable)
		return
	}
	slog.Info("TwilioService.WebhookHandler: inbound message accepted", "from", chat, "kind", evt.Kind)
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}
