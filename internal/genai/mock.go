package genai

import (
	"context"
	"sync"

	"github.com/BTreeMap/DialPipe/internal/models"
)

// MockClient is a scripted ClientInterface for tests. Responses are returned in order; once they run out
// the last one repeats. Err, when set, is returned instead of any response.
type MockClient struct {
	mu        sync.Mutex
	Responses []string
	Err       error
	Calls     [][]models.Message
}

// Compile-time check that MockClient implements ClientInterface.
var _ ClientInterface = (*MockClient)(nil)

// NewMockClient creates a MockClient that answers with the given responses.
func NewMockClient(responses ...string) *MockClient {
	return &MockClient{Responses: responses}
}

// GenerateWithMessages records the request and returns the next scripted response.
func (m *MockClient) GenerateWithMessages(ctx context.Context, messages []models.Message) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = append(m.Calls, models.CloneMessages(messages))
	if m.Err != nil {
		return "", m.Err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(m.Responses) == 0 {
		return "", ErrEmptyResponse
	}
	idx := len(m.Calls) - 1
	if idx >= len(m.Responses) {
		idx = len(m.Responses) - 1
	}
	return m.Responses[idx], nil
}

// CallCount returns how many requests were made.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// LastCall returns the messages of the most recent request, or nil.
func (m *MockClient) LastCall() []models.Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Calls) == 0 {
		return nil
	}
	return m.Calls[len(m.Calls)-1]
}
