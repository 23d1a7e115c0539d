package tunnel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BTreeMap/DialPipe/internal/telephony"
)

func agentServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func fakeLauncher(starts, stops *int32) launcher {
	return func(port int) (func() error, error) {
		atomic.AddInt32(starts, 1)
		return func() error {
			atomic.AddInt32(stops, 1)
			return nil
		}, nil
	}
}

func TestNgrokPublicURL(t *testing.T) {
	srv := agentServer(t, `{"tunnels":[
		{"proto":"http","public_url":"http://abc.ngrok.io"},
		{"proto":"https","public_url":"https://abc.ngrok.io/"}]}`)
	var starts, stops int32
	mock := telephony.NewMockClient()
	n := NewNgrok(5000, WithAgentAPI(srv.URL), WithWebhooks(mock), withLauncher(fakeLauncher(&starts, &stops)))

	url, err := n.PublicURL(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if url != "https://abc.ngrok.io" {
		t.Errorf("unexpected URL %q", url)
	}
	if len(mock.WebhookURLs) != 1 || mock.WebhookURLs[0] != url {
		t.Errorf("webhooks not updated: %+v", mock.WebhookURLs)
	}

	again, err := n.PublicURL(context.Background())
	if err != nil || again != url {
		t.Errorf("second call returned %q, %v", again, err)
	}
	if starts != 1 {
		t.Errorf("expected agent started once, got %d", starts)
	}
	if len(mock.WebhookURLs) != 1 {
		t.Error("webhooks updated more than once")
	}

	if err := n.Close(); err != nil {
		t.Fatal(err)
	}
	if stops != 1 {
		t.Errorf("expected agent stopped once, got %d", stops)
	}
}

func TestNgrokNoHTTPSTunnel(t *testing.T) {
	srv := agentServer(t, `{"tunnels":[{"proto":"http","public_url":"http://abc.ngrok.io"}]}`)
	var starts, stops int32
	n := NewNgrok(5000, WithAgentAPI(srv.URL), WithStartTimeout(50*time.Millisecond),
		WithPollInterval(10*time.Millisecond), withLauncher(fakeLauncher(&starts, &stops)))

	if _, err := n.PublicURL(context.Background()); !errors.Is(err, ErrNoHTTPSTunnel) {
		t.Errorf("expected ErrNoHTTPSTunnel, got %v", err)
	}
	if stops != 1 {
		t.Errorf("agent should be stopped after failure, got %d stops", stops)
	}
}

func TestNgrokLaunchFailure(t *testing.T) {
	n := NewNgrok(5000, withLauncher(func(int) (func() error, error) {
		return nil, errors.New("ngrok: not found")
	}))
	if _, err := n.PublicURL(context.Background()); err == nil {
		t.Error("expected launch error")
	}
}

func TestNgrokMissingBinary(t *testing.T) {
	n := NewNgrok(5000, WithBinary("/nonexistent/ngrok-binary"))
	if _, err := n.PublicURL(context.Background()); err == nil {
		t.Error("expected error for missing binary")
	}
}

func TestNgrokWebhookFailureIsNotFatal(t *testing.T) {
	srv := agentServer(t, `{"tunnels":[{"proto":"https","public_url":"https://abc.ngrok.io"}]}`)
	var starts, stops int32
	mock := telephony.NewMockClient()
	mock.UpdateErr = errors.New("forbidden")
	n := NewNgrok(5000, WithAgentAPI(srv.URL), WithWebhooks(mock), withLauncher(fakeLauncher(&starts, &stops)))
	if _, err := n.PublicURL(context.Background()); err != nil {
		t.Errorf("webhook failure should not fail provisioning: %v", err)
	}
}

func TestStatic(t *testing.T) {
	mock := telephony.NewMockClient()
	s := NewStatic("https://calls.example.com/", mock)
	for i := 0; i < 2; i++ {
		url, err := s.PublicURL(context.Background())
		if err != nil || url != "https://calls.example.com" {
			t.Errorf("got %q, %v", url, err)
		}
	}
	if len(mock.WebhookURLs) != 1 {
		t.Errorf("expected one webhook update, got %d", len(mock.WebhookURLs))
	}
	if _, err := NewStatic("", nil).PublicURL(context.Background()); !errors.Is(err, ErrNoPublicURL) {
		t.Errorf("expected ErrNoPublicURL, got %v", err)
	}
}
