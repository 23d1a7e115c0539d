package upload

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/DialPipe/internal/models"
)

func TestUpload(t *testing.T) {
	var got map[string]json.RawMessage
	var gotPath, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Errorf("invalid body: %v", err)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"saved":true}`))
	}))
	defer srv.Close()

	u := NewUploader(WithBackendURL(srv.URL + "/"))
	conv := []models.Message{models.SystemMessage("persona"), models.AssistantMessage("Hi!")}
	res, err := u.Upload(context.Background(), "CA1", &models.CallerProfile{Name: "Michael"}, conv)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != http.StatusCreated || res.Body != `{"saved":true}` {
		t.Errorf("unexpected result: %+v", res)
	}
	if gotPath != "/api/save-conversation" || gotType != "application/json" {
		t.Errorf("unexpected request: path=%s type=%s", gotPath, gotType)
	}
	for _, field := range []string{"call_sid", "user_info", "conversation"} {
		if _, ok := got[field]; !ok {
			t.Errorf("payload missing %s", field)
		}
	}
	var messages []models.Message
	json.Unmarshal(got["conversation"], &messages)
	if len(messages) != 2 || messages[1].Content != "Hi!" {
		t.Errorf("unexpected conversation payload: %+v", messages)
	}
}

func TestUploadNilProfileIsNull(t *testing.T) {
	var got map[string]json.RawMessage
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
	}))
	defer srv.Close()

	if _, err := NewUploader(WithBackendURL(srv.URL)).Upload(context.Background(), "CA1", nil, nil); err != nil {
		t.Fatal(err)
	}
	if string(got["user_info"]) != "null" {
		t.Errorf("expected null user_info, got %s", got["user_info"])
	}
}

func TestUploadErrorStatusIsNotAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "db down", http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := NewUploader(WithBackendURL(srv.URL)).Upload(context.Background(), "CA1", nil, nil)
	if err != nil {
		t.Fatalf("non-2xx should be reported, not failed: %v", err)
	}
	if res.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", res.StatusCode)
	}
}

func TestUploadTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	if _, err := NewUploader(WithBackendURL(url)).Upload(context.Background(), "CA1", nil, nil); err == nil {
		t.Error("expected transport error")
	}
}

func TestDefaultEndpoint(t *testing.T) {
	if got := NewUploader().Endpoint(); got != "http://localhost:8000/api/save-conversation" {
		t.Errorf("unexpected endpoint %s", got)
	}
	if got := NewUploader(WithBackendURL("")).Endpoint(); got != "http://localhost:8000/api/save-conversation" {
		t.Errorf("blank URL should use default, got %s", got)
	}
}
