package api

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"sort"
	"testing"

	"github.com/BTreeMap/DialPipe/internal/testutil"
)

// sign computes X-Twilio-Signature for a form POST to url.
func sign(token, url string, fields map[string]string) string {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	payload := url
	for _, k := range keys {
		payload += k + fields[k]
	}
	mac := hmac.New(sha1.New, []byte(token))
	mac.Write([]byte(payload))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func TestTwilioSignature(t *testing.T) {
	const token = "test-auth-token"
	fields := map[string]string{"CallSid": "CA1", "CallStatus": "ringing"}

	tests := []struct {
		name      string
		signature string
		status    int
	}{
		{name: "valid signature", signature: sign(token, "https://example.ngrok.app/call-status", fields), status: http.StatusOK},
		{name: "missing signature", signature: "", status: http.StatusForbidden},
		{name: "wrong token", signature: sign("other", "https://example.ngrok.app/call-status", fields), status: http.StatusForbidden},
		{name: "wrong url", signature: sign(token, "https://evil.example.com/call-status", fields), status: http.StatusForbidden},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, nil, WithSignatureValidation(token))
			req := testutil.FormRequest(t, "/call-status", fields)
			if tt.signature != "" {
				req.Header.Set(SignatureHeader, tt.signature)
			}
			rr := env.do(t, req)
			testutil.AssertHTTPStatus(t, tt.status, rr.Code, tt.name)
		})
	}
}

func TestTwilioSignatureDisabledWithoutToken(t *testing.T) {
	env := newTestEnv(t, nil, WithSignatureValidation(""))
	rr := env.post(t, "/call-status", map[string]string{"CallSid": "CA1", "CallStatus": "ringing"})
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "unsigned request")
}

func TestSignatureNotRequiredForTrigger(t *testing.T) {
	env := newTestEnv(t, nil, WithSignatureValidation("test-auth-token"))
	rr := env.do(t, httptest.NewRequest(http.MethodGet, "/health", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "health")
}

func TestTwimlRecoverer(t *testing.T) {
	h := twimlRecoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/voice", nil))
	testutil.AssertHTTPStatus(t, http.StatusOK, rr.Code, "recovered")
	testutil.AssertTwiMLVerbs(t, rr.Body.String(), "Say", "Hangup")
}

func TestWriteJSONResponse_Fallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeJSONResponse(rr, http.StatusOK, map[string]interface{}{"bad": make(chan int)})
	testutil.AssertHTTPStatus(t, http.StatusInternalServerError, rr.Code, "unmarshalable")
	if rr.Body.String() != string(fallbackErrorResponse) {
		t.Errorf("expected fallback body, got %s", rr.Body.String())
	}
}

func TestWriteTwiML_EmptyUsesFallback(t *testing.T) {
	rr := httptest.NewRecorder()
	writeTwiML(rr, "")
	testutil.AssertTwiMLVerbs(t, rr.Body.String(), "Say", "Hangup")
}
