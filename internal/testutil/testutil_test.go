package testutil

import (
	"context"
	"fmt"
	"net/http/httptest"
	"testing"
)

// mockTestingT records failures instead of stopping the test.
type mockTestingT struct {
	failed   bool
	errorMsg string
}

func (m *mockTestingT) Helper() {}

func (m *mockTestingT) Error(args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprint(args...)
}

func (m *mockTestingT) Errorf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func (m *mockTestingT) Fatalf(format string, args ...interface{}) {
	m.failed = true
	m.errorMsg = fmt.Sprintf(format, args...)
}

func TestNewHarness(t *testing.T) {
	h := NewHarness("Hello there")
	if h.Engine == nil || h.Conversations == nil || h.Completer == nil {
		t.Fatal("harness is missing components")
	}
	reply := h.Engine.GenerateIntroduction(context.Background(), "CA1", nil)
	if reply.Fallback || reply.Text != "Hello there" {
		t.Errorf("unexpected reply: %+v", reply)
	}
	if !h.Conversations.Exists(context.Background(), "CA1") {
		t.Error("expected the introduction to be persisted")
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	tests := []struct {
		name       string
		expected   int
		actual     int
		shouldFail bool
	}{
		{name: "matching status codes", expected: 200, actual: 200, shouldFail: false},
		{name: "different status codes", expected: 200, actual: 404, shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			AssertHTTPStatus(mockT, tt.expected, tt.actual, "test context")
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
		})
	}
}

func TestAssertJSONResponse(t *testing.T) {
	tests := []struct {
		name           string
		jsonBody       string
		expectedStatus string
		shouldFail     bool
	}{
		{name: "valid JSON with matching status", jsonBody: `{"status":"ok","result":"test"}`, expectedStatus: "ok"},
		{name: "valid JSON with different status", jsonBody: `{"status":"error"}`, expectedStatus: "ok", shouldFail: true},
		{name: "invalid JSON", jsonBody: `{"status":}`, expectedStatus: "ok", shouldFail: true},
		{name: "missing status field", jsonBody: `{"result":"test"}`, expectedStatus: "ok", shouldFail: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockT := &mockTestingT{}
			rr := httptest.NewRecorder()
			rr.Body.WriteString(tt.jsonBody)

			response := AssertJSONResponse(mockT, rr, tt.expectedStatus)
			if tt.shouldFail != mockT.failed {
				t.Errorf("expected failed=%v, got %v (%s)", tt.shouldFail, mockT.failed, mockT.errorMsg)
			}
			if !tt.shouldFail && response == nil {
				t.Error("Expected response map to be returned")
			}
		})
	}
}

func TestFormRequest(t *testing.T) {
	req := FormRequest(t, "/voice", map[string]string{"CallSid": "CA1", "From": "+15551234567"})
	if req.Method != "POST" || req.URL.Path != "/voice" {
		t.Fatalf("unexpected request %s %s", req.Method, req.URL.Path)
	}
	if err := req.ParseForm(); err != nil {
		t.Fatalf("ParseForm: %v", err)
	}
	if got := req.PostFormValue("From"); got != "+15551234567" {
		t.Errorf("expected From to round-trip, got %q", got)
	}
}

func TestTwiMLVerbs(t *testing.T) {
	doc := `<?xml version="1.0" encoding="UTF-8"?><Response><Say>Hi</Say><Gather><Say>x</Say></Gather><Redirect>/voice</Redirect></Response>`
	AssertTwiMLVerbs(t, doc, "Say", "Gather", "Redirect")

	mockT := &mockTestingT{}
	AssertTwiMLVerbs(mockT, doc, "Say", "Hangup")
	if !mockT.failed {
		t.Error("expected mismatch to fail")
	}

	mockT = &mockTestingT{}
	TwiMLVerbs(mockT, "<Response><Say>")
	if !mockT.failed {
		t.Error("expected malformed document to fail")
	}
}
