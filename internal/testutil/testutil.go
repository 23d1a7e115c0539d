// Package testutil provides common test utilities and helpers for DialPipe tests.
package testutil

import (
	"encoding/json"
	"encoding/xml"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/BTreeMap/DialPipe/internal/conversation"
	"github.com/BTreeMap/DialPipe/internal/dialogue"
	"github.com/BTreeMap/DialPipe/internal/genai"
	"github.com/BTreeMap/DialPipe/internal/prompt"
	"github.com/BTreeMap/DialPipe/internal/store"
)

// TB is the subset of testing.TB the assertion helpers use.
type TB interface {
	Helper()
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatalf(format string, args ...interface{})
}

// Harness bundles a dialogue engine with in-memory storage and a scripted completion client.
type Harness struct {
	Engine        *dialogue.Engine
	Conversations *conversation.Store
	Completer     *genai.MockClient
	Assembler     *prompt.Assembler
}

// NewHarness creates an engine over an in-memory store whose completion client returns responses in order.
// This centralizes the engine wiring used across multiple test files.
func NewHarness(responses ...string) *Harness {
	return NewHarnessWithClient(genai.NewMockClient(responses...))
}

// NewHarnessWithClient is NewHarness with a preconfigured mock, for example one that fails.
func NewHarnessWithClient(mock *genai.MockClient) *Harness {
	assembler := prompt.NewAssembler(prompt.Persona{})
	convs := conversation.NewStore(store.NewInMemoryStore(), assembler,
		conversation.WithSanitizer(prompt.StripHesitationGuidance))
	return &Harness{
		Engine:        dialogue.NewEngine(convs, assembler, mock),
		Conversations: convs,
		Completer:     mock,
		Assembler:     assembler,
	}
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// AssertJSONResponse decodes JSON response and validates the status field.
func AssertJSONResponse(t TB, rr *httptest.ResponseRecorder, expectedStatus string) map[string]interface{} {
	t.Helper()
	var response map[string]interface{}
	if err := json.NewDecoder(rr.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode JSON response: %v", err)
	}

	if status, ok := response["status"].(string); ok {
		if status != expectedStatus {
			t.Errorf("expected status '%s', got '%s'", expectedStatus, status)
		}
	} else {
		t.Error("response missing or invalid 'status' field")
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

// FormRequest creates a POST request with a urlencoded body, the way Twilio delivers webhooks.
func FormRequest(t *testing.T, path string, fields map[string]string) *http.Request {
	t.Helper()
	form := url.Values{}
	for k, v := range fields {
		form.Set(k, v)
	}
	req, err := http.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	if err != nil {
		t.Fatalf("failed to create HTTP request: %v", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req
}

// TwiMLVerbs returns the top-level verb names of a TwiML document in order, and fails the test when the
// document is not well-formed.
func TwiMLVerbs(t TB, doc string) []string {
	t.Helper()
	var parsed struct {
		XMLName xml.Name
		Verbs   []struct {
			XMLName xml.Name
		} `xml:",any"`
	}
	if err := xml.Unmarshal([]byte(doc), &parsed); err != nil {
		t.Fatalf("invalid TwiML %q: %v", doc, err)
	}
	if parsed.XMLName.Local != "Response" {
		t.Fatalf("expected <Response> root, got <%s>", parsed.XMLName.Local)
	}
	verbs := make([]string, 0, len(parsed.Verbs))
	for _, v := range parsed.Verbs {
		verbs = append(verbs, v.XMLName.Local)
	}
	return verbs
}

// AssertTwiMLVerbs fails the test unless the document's top-level verbs are exactly want.
func AssertTwiMLVerbs(t TB, doc string, want ...string) {
	t.Helper()
	got := TwiMLVerbs(t, doc)
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("expected verbs %v, got %v in %s", want, got, doc)
	}
}
