package telephony

import (
	"context"
	"fmt"
	"sync"
)

// PlacedCall records one MockClient.PlaceCall invocation.
type PlacedCall struct {
	To      string
	BaseURL string
	SID     string
}

// MockClient is an in-memory Caller for tests.
type MockClient struct {
	mu          sync.Mutex
	PlacedCalls []PlacedCall
	WebhookURLs []string
	// FailNumbers makes PlaceCall fail for these destinations.
	FailNumbers map[string]error
	// UpdateErr is returned by UpdateNumberWebhooks when set.
	UpdateErr error
}

// Compile-time check that MockClient implements Caller.
var _ Caller = (*MockClient)(nil)

func NewMockClient() *MockClient {
	return &MockClient{FailNumbers: map[string]error{}}
}

func (m *MockClient) PlaceCall(ctx context.Context, to, baseURL string) (string, error) {
	if _, _, err := WebhookURLs(baseURL); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err, ok := m.FailNumbers[to]; ok {
		return "", err
	}
	sid := fmt.Sprintf("CA%032d", len(m.PlacedCalls)+1)
	m.PlacedCalls = append(m.PlacedCalls, PlacedCall{To: to, BaseURL: baseURL, SID: sid})
	return sid, nil
}

func (m *MockClient) UpdateNumberWebhooks(ctx context.Context, baseURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.UpdateErr != nil {
		return m.UpdateErr
	}
	m.WebhookURLs = append(m.WebhookURLs, baseURL)
	return nil
}

// Calls returns a copy of the placed calls.
func (m *MockClient) Calls() []PlacedCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]PlacedCall(nil), m.PlacedCalls...)
}
