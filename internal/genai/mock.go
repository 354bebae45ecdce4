package genai

import (
	"context"
	"fmt"
	"sync"

	"github.com/BTreeMap/TripPipe/internal/models"
)

// MockCall records one Generate invocation.
type MockCall struct {
	SessionID  string
	Transcript []models.Message
	UserText   string
}

// MockClient is an in-memory Client for tests. It returns Reply (or the
// next entry of Replies) unless Err is set.
type MockClient struct {
	mu      sync.Mutex
	Reply   string
	Replies []string
	Err     error
	Calls   []MockCall
}

var _ Client = (*MockClient)(nil)

// Generate implements Client.
func (m *MockClient) Generate(ctx context.Context, sessionID string, transcript []models.Message, userText string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, MockCall{
		SessionID:  sessionID,
		Transcript: append([]models.Message(nil), transcript...),
		UserText:   userText,
	})
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, err)
	}
	if m.Err != nil {
		return "", fmt.Errorf("%w: %w", models.ErrGenerationUnavailable, m.Err)
	}
	if len(m.Replies) > 0 {
		reply := m.Replies[0]
		m.Replies = m.Replies[1:]
		return reply, nil
	}
	return m.Reply, nil
}

// CallCount returns the number of Generate calls so far.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the most recent call.
func (m *MockClient) LastCall() (MockCall, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return MockCall{}, false
	}
	return m.Calls[len(m.Calls)-1], true
}
