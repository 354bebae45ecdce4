// Package store provides the DedupRepo interface for inbound message deduplication.
package store

import (
	"context"
	"time"
)

// DedupRecord represents an inbound event deduplication record.
type DedupRecord struct {
	MessageID   string     `json:"message_id"`
	SessionID   string     `json:"session_id"`
	ReceivedAt  time.Time  `json:"received_at"`
	ProcessedAt *time.Time `json:"processed_at"`
}

// DedupRepo defines the interface for inbound event deduplication.
type DedupRepo interface {
	// RecordInbound inserts a new inbound record. Returns false if the
	// event was already recorded (duplicate).
	RecordInbound(ctx context.Context, messageID, sessionID string) (bool, error)

	// MarkProcessed sets the processed_at timestamp for an event.
	MarkProcessed(ctx context.Context, messageID string) error
}
