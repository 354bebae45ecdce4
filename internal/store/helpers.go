package store

import (
	"database/sql"
	"fmt"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// nilIfEmpty returns nil if s is empty, otherwise returns s.
// Used for nullable database columns.
func nilIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

const eventColumns = `id, session_id, kind, stage, input, output, source, detail, created_at`

// scanEvents reads ConversationEvent rows selected with eventColumns.
func scanEvents(rows *sql.Rows) ([]models.ConversationEvent, error) {
	defer rows.Close()
	var events []models.ConversationEvent
	for rows.Next() {
		var e models.ConversationEvent
		var kind string
		var stage, input, output, source, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.SessionID, &kind, &stage, &input, &output, &source, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan event failed: %w", err)
		}
		e.Kind = models.AuditKind(kind)
		e.Stage = stage.String
		e.Input = input.String
		e.Output = output.String
		e.Source = source.String
		e.Detail = detail.String
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate event rows: %w", err)
	}
	return events, nil
}
