package messaging

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/TripPipe/internal/markup"
	"github.com/BTreeMap/TripPipe/internal/models"
)

// menuFooter follows a numbered menu on text-only transports.
const menuFooter = "Reply with a number to choose."

// formatText renders an outbound message for WhatsApp-style transports,
// which have no inline buttons: menus become a numbered list.
func formatText(msg models.OutboundMessage) string {
	text := msg.Text
	if msg.Plain {
		text = markup.StripTags(text)
	} else {
		text = markup.ToWhatsApp(text)
	}
	if len(msg.Menu) == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(text)
	b.WriteString("\n\n")
	for i, opt := range msg.Menu {
		fmt.Fprintf(&b, "%d. %s\n", i+1, opt.Label)
	}
	b.WriteString("\n")
	b.WriteString(menuFooter)
	return b.String()
}

// menuMemory remembers the last menu shown in each chat so a numeric reply
// can be mapped back to an action id.
type menuMemory struct {
	mu   sync.Mutex
	last map[string]models.OptionMenu
}

func newMenuMemory() *menuMemory {
	return &menuMemory{last: make(map[string]models.OptionMenu)}
}

func (m *menuMemory) remember(chat string, menu models.OptionMenu) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(menu) == 0 {
		delete(m.last, chat)
		return
	}
	m.last[chat] = menu
}

// resolve maps "2" to the second option of the chat's last menu.
func (m *menuMemory) resolve(chat, text string) (models.Option, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), ".")))
	if err != nil {
		return models.Option{}, false
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	menu := m.last[chat]
	if n < 1 || n > len(menu) {
		return models.Option{}, false
	}
	return menu[n-1], true
}

// textEvent classifies a plain text message: commands, numbered menu picks,
// then free text.
func textEvent(id, chat, name, text string, mem *menuMemory, at time.Time) models.InboundEvent {
	evt := models.InboundEvent{ID: id, SessionID: chat, DisplayName: name, Time: at}
	if cmd, ok := models.ParseCommand(text); ok {
		evt.Kind = models.EventCommand
		evt.Command = cmd
		return evt
	}
	if opt, ok := mem.resolve(chat, text); ok {
		evt.Kind = models.EventCallback
		evt.ActionID = opt.ActionID
		return evt
	}
	evt.Kind = models.EventText
	evt.Text = text
	return evt
}
