// Package testutil provides shared helpers for TripPipe's HTTP and audit tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"time"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// TB is the subset of testing.TB the helpers need, so they can be tested with a fake.
type TB interface {
	Helper()
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Recorder accepts audit records.
type Recorder interface {
	RecordEvent(ctx context.Context, e models.ConversationEvent) error
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes an APIResponse envelope and checks its status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
		return nil
	}
	status, ok := response["status"].(string)
	if !ok {
		t.Errorf("response missing or invalid 'status' field")
		return response
	}
	if status != expectedStatus {
		t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
	}
	return response
}

// MustUnmarshalJSON unmarshals JSON data into target and fails test on error.
func MustUnmarshalJSON(t TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON: %v", err)
	}
}

// SeedConversation records a short planning conversation for sessionID,
// one second apart starting at base, and returns what it wrote.
func SeedConversation(t TB, r Recorder, sessionID string, base time.Time) []models.ConversationEvent {
	t.Helper()
	events := []models.ConversationEvent{
		{SessionID: sessionID, Kind: models.AuditStart, Input: "/start"},
		{SessionID: sessionID, Kind: models.AuditTurn, Stage: "destination_details", Input: "I'm planning a family vacation", Source: "canned"},
		{SessionID: sessionID, Kind: models.AuditTurn, Stage: "resort_selection", Input: "June 15-22, 2 adults, budget $3000", Source: "canned"},
		{SessionID: sessionID, Kind: models.AuditUnroutableCallback, Stage: "itinerary", Input: "spa_day"},
	}
	for i := range events {
		events[i].CreatedAt = base.Add(time.Duration(i) * time.Second)
		if err := r.RecordEvent(context.Background(), events[i]); err != nil {
			t.Fatalf("failed to seed event %d: %v", i, err)
		}
	}
	return events
}
