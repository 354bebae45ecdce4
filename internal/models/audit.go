package models

import "time"

// AuditKind classifies conversation audit records.
type AuditKind string

const (
	AuditStart              AuditKind = "start"
	AuditCancel             AuditKind = "cancel"
	AuditTurn               AuditKind = "turn"
	AuditGenerationFailure  AuditKind = "generation_failure"
	AuditUnroutableCallback AuditKind = "unroutable_callback"
	AuditFormattingFailure  AuditKind = "formatting_failure"
	AuditDeliveryFailure    AuditKind = "delivery_failure"
)

// ConversationEvent is one row of the conversation audit log.
type ConversationEvent struct {
	ID        string    `json:"id"`
	SessionID string    `json:"session_id"`
	Kind      AuditKind `json:"kind"`
	Stage     string    `json:"stage,omitempty"`
	// Input is the user turn (text, command or action id).
	Input string `json:"input,omitempty"`
	// Output is the rendered reply, if any.
	Output string `json:"output,omitempty"`
	// Source tells how the reply was produced (canned, generated, command, apology).
	Source    string    `json:"source,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
