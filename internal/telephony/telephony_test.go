package telephony

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestWebhookURLs(t *testing.T) {
	voice, status, err := WebhookURLs("https://abc.ngrok.io/")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if voice != "https://abc.ngrok.io/voice" || status != "https://abc.ngrok.io/call-status" {
		t.Errorf("unexpected URLs: %s %s", voice, status)
	}
	if _, _, err := WebhookURLs("  "); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("expected ErrNoBaseURL, got %v", err)
	}
}

func TestNewClient_RequiresCredentials(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "")
	t.Setenv("TWILIO_AUTH_TOKEN", "")
	t.Setenv("TWILIO_PHONE_NUMBER", "")

	if _, err := NewClient(); err == nil {
		t.Error("expected error without credentials")
	}
	if _, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token")); err == nil || !strings.Contains(err.Error(), "from number") {
		t.Errorf("expected from number error, got %v", err)
	}
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromNumber("+15550001111"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FromNumber() != "+15550001111" {
		t.Errorf("unexpected from number %s", c.FromNumber())
	}
}

func TestNewClient_EnvFallback(t *testing.T) {
	t.Setenv("TWILIO_ACCOUNT_SID", "ACenv")
	t.Setenv("TWILIO_AUTH_TOKEN", "tok")
	t.Setenv("TWILIO_PHONE_NUMBER", "+15559998888")
	c, err := NewClient()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.FromNumber() != "+15559998888" {
		t.Errorf("expected env number, got %s", c.FromNumber())
	}
}

func TestPlaceCall_RequiresBaseURL(t *testing.T) {
	c, err := NewClient(WithAccountSID("AC123"), WithAuthToken("token"), WithFromNumber("+15550001111"))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.PlaceCall(context.Background(), "+15550002222", ""); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("expected ErrNoBaseURL, got %v", err)
	}
	if err := c.UpdateNumberWebhooks(context.Background(), ""); !errors.Is(err, ErrNoBaseURL) {
		t.Errorf("expected ErrNoBaseURL, got %v", err)
	}
}

func TestMockClient_PlaceCall(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	sid, err := mock.PlaceCall(ctx, "+15550002222", "https://example.com")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.HasPrefix(sid, "CA") || len(sid) != 34 {
		t.Errorf("unexpected SID %q", sid)
	}
	calls := mock.Calls()
	if len(calls) != 1 || calls[0].To != "+15550002222" || calls[0].SID != sid {
		t.Errorf("call not recorded: %+v", calls)
	}

	mock.FailNumbers["+15550003333"] = errors.New("invalid number")
	if _, err := mock.PlaceCall(ctx, "+15550003333", "https://example.com"); err == nil {
		t.Error("expected scripted failure")
	}
}

func TestMockClient_UpdateNumberWebhooks(t *testing.T) {
	mock := NewMockClient()
	if err := mock.UpdateNumberWebhooks(context.Background(), "https://example.com"); err != nil {
		t.Fatal(err)
	}
	if len(mock.WebhookURLs) != 1 {
		t.Errorf("expected webhook update recorded")
	}
	mock.UpdateErr = errors.New("denied")
	if err := mock.UpdateNumberWebhooks(context.Background(), "https://example.com"); err == nil {
		t.Error("expected scripted error")
	}
}
