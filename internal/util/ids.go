package util

import "github.com/google/uuid"

// NewEventID returns a random identifier for audit records and synthetic events.
func NewEventID() string {
	return uuid.NewString()
}
