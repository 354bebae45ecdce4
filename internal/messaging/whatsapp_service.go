package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/TripPipe/internal/models"
	"github.com/BTreeMap/TripPipe/internal/whatsapp"
	"go.mau.fi/whatsmeow/types/events"
)

// minPhoneDigits is the shortest phone number accepted as a recipient.
const minPhoneDigits = 6

// WhatsAppService implements Service using the whatsmeow-based whatsapp client.
// WhatsApp has no inline buttons here, so menus are sent as numbered lists and
// a numeric reply is turned back into a callback event.
type WhatsAppService struct {
	*eventStream
	client    whatsapp.WhatsAppSender
	waClient  *whatsapp.Client // access to the underlying client for event handling
	menus     *menuMemory
	handlerID uint32
}

var _ Service = (*WhatsAppService)(nil)

// NewWhatsAppService creates a new WhatsAppService wrapping the given WhatsAppSender.
func NewWhatsAppService(client whatsapp.WhatsAppSender) *WhatsAppService {
	service := &WhatsAppService{
		eventStream: newEventStream("WhatsAppService"),
		client:      client,
		menus:       newMenuMemory(),
	}
	if waClient, ok := client.(*whatsapp.Client); ok {
		service.waClient = waClient
		slog.Debug("WhatsAppService.New: created with full client for event handling")
	} else {
		slog.Debug("WhatsAppService.New: created with interface client (likely mock)")
	}
	return service
}

// ValidateAndCanonicalizeRecipient strips everything but digits and requires
// at least six of them.
func (s *WhatsAppService) ValidateAndCanonicalizeRecipient(recipient string) (string, error) {
	return canonicalPhone(recipient)
}

func canonicalPhone(recipient string) (string, error) {
	if recipient == "" {
		return "", ErrEmptyRecipient
	}
	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if len(canonical) < minPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, minPhoneDigits)
	}
	return canonical, nil
}

// Start registers the inbound message handler.
func (s *WhatsAppService) Start(ctx context.Context) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	if s.waClient == nil || s.waClient.GetClient() == nil {
		slog.Debug("WhatsAppService.Start: no full client available, skipping event handling")
		return nil
	}
	s.handlerID = s.waClient.GetClient().AddEventHandler(func(evt interface{}) {
		if m, ok := evt.(*events.Message); ok {
			s.handleIncomingMessage(m)
		}
	})
	slog.Info("WhatsAppService.Start: event handler registered")
	return nil
}

// Stop removes the event handler and closes the event channel.
func (s *WhatsAppService) Stop() error {
	if s.waClient != nil && s.waClient.GetClient() != nil {
		s.waClient.GetClient().RemoveEventHandler(s.handlerID)
	}
	if s.close() {
		slog.Info("WhatsAppService.Stop: stopped and channels closed")
	}
	return nil
}

// Send delivers the selection echo, if any, then the reply with its numbered menu.
func (s *WhatsAppService) Send(ctx context.Context, to string, msg models.OutboundMessage) error {
	if s.isStopped() {
		return ErrServiceStopped
	}
	canonical, err := s.ValidateAndCanonicalizeRecipient(to)
	if err != nil {
		slog.Error("WhatsAppService.Send: validation error", "error", err, "to", to)
		return err
	}
	if msg.Echo != "" {
		if err := s.client.SendMessage(ctx, canonical, msg.Echo); err != nil {
			slog.Warn("WhatsAppService.Send: selection echo failed", "to", canonical, "error", err)
		}
	}
	if err := s.client.SendMessage(ctx, canonical, formatText(msg)); err != nil {
		slog.Error("WhatsAppService.Send: send failed", "error", err, "to", canonical)
		return err
	}
	s.menus.remember(canonical, msg.Menu)
	slog.Debug("WhatsAppService.Send: message sent", "to", canonical, "options", len(msg.Menu))
	return nil
}

// Acknowledge is a no-op; numbered replies need no acknowledgement.
func (s *WhatsAppService) Acknowledge(ctx context.Context, evt models.InboundEvent) error {
	return nil
}

// handleIncomingMessage converts direct text messages into inbound events.
func (s *WhatsAppService) handleIncomingMessage(evt *events.Message) {
	if evt.Message == nil || evt.Info.IsFromMe || evt.Info.IsGroup {
		return
	}

	var messageText string
	if evt.Message.Conversation != nil {
		messageText = *evt.Message.Conversation
	} else if evt.Message.ExtendedTextMessage != nil && evt.Message.ExtendedTextMessage.Text != nil {
		messageText = *evt.Message.ExtendedTextMessage.Text
	} else {
		slog.Debug("WhatsAppService.handleIncomingMessage: ignoring non-text message", "from", evt.Info.Sender.String())
		return
	}

	from, err := canonicalPhone(evt.Info.Sender.User)
	if err != nil {
		slog.Warn("WhatsAppService.handleIncomingMessage: invalid sender", "error", err)
		return
	}
	s.emit(textEvent("wa:"+evt.Info.ID, from, evt.Info.PushName, messageText, s.menus, evt.Info.Timestamp))
}
