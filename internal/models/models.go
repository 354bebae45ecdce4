// Package models defines the core data structures for TripPipe.
//
// It includes the conversation stage and destination enums, inbound events,
// outbound messages with option menus, and the API response envelope shared
// across modules.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Stage is a fixed point in the five-step planning flow.
type Stage int

const (
	// StageInitial is the stage after /start, before any intake details.
	StageInitial Stage = iota
	// StageDestinationDetails collects dates, party size and budget.
	StageDestinationDetails
	// StageResortSelection covers area choice and the resort shortlist.
	StageResortSelection
	// StageFlightOptions follows a resort pick.
	StageFlightOptions
	// StageItinerary is the open-ended activities and booking stage.
	StageItinerary
)

var stageNames = [...]string{
	StageInitial:            "initial",
	StageDestinationDetails: "destination_details",
	StageResortSelection:    "resort_selection",
	StageFlightOptions:      "flight_options",
	StageItinerary:          "itinerary",
}

// Stages lists every stage in flow order.
var Stages = []Stage{StageInitial, StageDestinationDetails, StageResortSelection, StageFlightOptions, StageItinerary}

// String returns the stage identifier used in logs and the audit log.
func (s Stage) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stage(%d)", int(s))
	}
	return stageNames[s]
}

// Valid reports whether s is one of the five stages.
func (s Stage) Valid() bool {
	return s >= StageInitial && s <= StageItinerary
}

// Next returns the following stage, saturating at StageItinerary.
func (s Stage) Next() Stage {
	if s >= StageItinerary {
		return StageItinerary
	}
	return s + 1
}

// ParseStage converts a stage identifier back into a Stage.
func ParseStage(v string) (Stage, error) {
	for i, name := range stageNames {
		if name == v {
			return Stage(i), nil
		}
	}
	return StageInitial, fmt.Errorf("%w: %q", ErrInvalidStage, v)
}

// Destination is one of the three Bali areas the bot knows about.
// The zero value means no destination has been chosen.
type Destination string

const (
	DestinationNone     Destination = ""
	DestinationUbud     Destination = "ubud"
	DestinationSeminyak Destination = "seminyak"
	DestinationUluwatu  Destination = "uluwatu"
)

// Destinations lists the known destinations in recommendation order.
var Destinations = []Destination{DestinationUbud, DestinationSeminyak, DestinationUluwatu}

// ParseDestination accepts the lower-case destination identifiers.
func ParseDestination(v string) (Destination, bool) {
	switch d := Destination(strings.ToLower(strings.TrimSpace(v))); d {
	case DestinationUbud, DestinationSeminyak, DestinationUluwatu:
		return d, true
	}
	return DestinationNone, false
}

// Role identifies the author of a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry fed to the model.
type Message struct {
	Role    Role      `json:"role"`
	Content string    `json:"content"`
	Time    time.Time `json:"time"`
}

// Option is a single selectable follow-up action.
type Option struct {
	Label    string `json:"label"`
	ActionID string `json:"action_id"`
}

// OptionMenu is the ordered set of options attached to an outbound message.
type OptionMenu []Option

// ActionIDs returns the action identifiers in menu order.
func (m OptionMenu) ActionIDs() []string {
	ids := make([]string, len(m))
	for i, o := range m {
		ids[i] = o.ActionID
	}
	return ids
}

// OutboundMessage is the unit handed to a messaging service for delivery.
type OutboundMessage struct {
	// Text is sanitized markup unless Plain is set.
	Text string `json:"text"`
	Menu OptionMenu `json:"menu,omitempty"`
	// Echo replaces the pressed button's message with a selection confirmation.
	Echo string `json:"echo,omitempty"`
	// EchoRef identifies the message carrying the pressed button.
	EchoRef string `json:"echo_ref,omitempty"`
	// Plain disables markup parsing on delivery.
	Plain bool `json:"plain,omitempty"`
}

// EventKind classifies inbound events.
type EventKind string

const (
	EventCommand  EventKind = "command"
	EventText     EventKind = "text"
	EventCallback EventKind = "callback"
)

// Command is one of the process entry points.
type Command string

const (
	CommandStart  Command = "start"
	CommandHelp   Command = "help"
	CommandCancel Command = "cancel"
)

// ParseCommand recognises "/start", "/help" and "/cancel", with or without a
// bot mention suffix ("/start@TripBot").
func ParseCommand(text string) (Command, bool) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", false
	}
	name := strings.ToLower(strings.TrimPrefix(strings.Fields(text)[0], "/"))
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	switch c := Command(name); c {
	case CommandStart, CommandHelp, CommandCancel:
		return c, true
	}
	return "", false
}

// InboundEvent is a transport-neutral user action.
type InboundEvent struct {
	// ID is unique per transport delivery and used for deduplication.
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      EventKind `json:"kind"`
	Command   Command   `json:"command,omitempty"`
	Text      string    `json:"text,omitempty"`
	ActionID  string    `json:"action_id,omitempty"`
	// CallbackRef is the transport handle used to acknowledge a button press.
	CallbackRef string `json:"callback_ref,omitempty"`
	// MessageRef identifies the message the event refers to (the pressed button's message).
	MessageRef  string    `json:"message_ref,omitempty"`
	DisplayName string    `json:"display_name,omitempty"`
	Time        time.Time `json:"time"`
}

// Validate checks that the event carries what its kind requires.
func (e InboundEvent) Validate() error {
	if e.SessionID == "" {
		return ErrEmptySession
	}
	switch e.Kind {
	case EventCommand:
		if e.Command == "" {
			return ErrEmptyCommand
		}
	case EventText:
		if strings.TrimSpace(e.Text) == "" {
			return ErrEmptyText
		}
	case EventCallback:
		if e.ActionID == "" {
			return ErrEmptyAction
		}
	default:
		return fmt.Errorf("%w: %q", ErrInvalidEventKind, e.Kind)
	}
	return nil
}

// Error variables for better error handling and testability
var (
	ErrInvalidStage     = errors.New("invalid stage")
	ErrInvalidEventKind = errors.New("invalid event kind")
	ErrEmptySession     = errors.New("session id cannot be empty")
	ErrEmptyCommand     = errors.New("command cannot be empty")
	ErrEmptyText        = errors.New("message text cannot be empty")
	ErrEmptyAction      = errors.New("callback action id cannot be empty")
	// ErrGenerationUnavailable is returned when the model did not produce text.
	ErrGenerationUnavailable = errors.New("generation unavailable")
)
