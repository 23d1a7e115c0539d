// Package telephony wraps the Twilio Voice REST API used by DialPipe.
package telephony

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Webhook paths served by the api package, relative to the public base URL.
const (
	VoicePath      = "/voice"
	CallStatusPath = "/call-status"
)

var (
	// ErrNumberNotFound is returned when the configured number is not on the account.
	ErrNumberNotFound = errors.New("phone number not found on account")
	// ErrNoBaseURL is returned when no public base URL is available for webhooks.
	ErrNoBaseURL = errors.New("public base URL not set")
)

// Caller places calls and points the account's number at DialPipe's webhooks.
type Caller interface {
	PlaceCall(ctx context.Context, to, baseURL string) (callSID string, err error)
	UpdateNumberWebhooks(ctx context.Context, baseURL string) error
}

// Opts holds configuration options for the Twilio voice client.
type Opts struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// Option defines a configuration option for the Twilio voice client.
type Option func(*Opts)

// WithAccountSID sets the account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithFromNumber sets the account number calls are placed from, in E.164.
func WithFromNumber(from string) Option {
	return func(o *Opts) { o.FromNumber = from }
}

// Compile-time check that Client implements Caller.
var _ Caller = (*Client)(nil)

// Client wraps the Twilio REST API for voice calls.
type Client struct {
	client     *twilio.RestClient
	fromNumber string
}

// NewClient creates a voice client. Unset options fall back to TWILIO_ACCOUNT_SID, TWILIO_AUTH_TOKEN and
// TWILIO_PHONE_NUMBER.
func NewClient(opts ...Option) (*Client, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.FromNumber == "" {
		cfg.FromNumber = os.Getenv("TWILIO_PHONE_NUMBER")
	}
	slog.Debug("Twilio voice client config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"FromNumber_set", cfg.FromNumber != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.FromNumber == "" {
		return nil, fmt.Errorf("from number must be provided")
	}

	client := twilio.NewRestClientWithParams(
		twilio.ClientParams{
			Username: cfg.AccountSID,
			Password: cfg.AuthToken,
		},
	)
	return &Client{client: client, fromNumber: cfg.FromNumber}, nil
}

// FromNumber returns the number calls are placed from.
func (c *Client) FromNumber() string {
	return c.fromNumber
}

// WebhookURLs returns the voice and status callback URLs for a public base URL.
func WebhookURLs(baseURL string) (voiceURL, statusURL string, err error) {
	base := strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if base == "" {
		return "", "", ErrNoBaseURL
	}
	return base + VoicePath, base + CallStatusPath, nil
}

// PlaceCall dials to and returns the provider-assigned call SID.
func (c *Client) PlaceCall(ctx context.Context, to, baseURL string) (string, error) {
	voiceURL, statusURL, err := WebhookURLs(baseURL)
	if err != nil {
		return "", err
	}
	params := &twilioApi.CreateCallParams{}
	params.SetTo(to)
	params.SetFrom(c.fromNumber)
	params.SetUrl(voiceURL)
	params.SetMethod("POST")
	params.SetStatusCallback(statusURL)
	params.SetStatusCallbackMethod("POST")
	params.SetStatusCallbackEvent([]string{"completed"})

	resp, err := c.client.Api.CreateCall(params)
	if err != nil {
		slog.Error("Twilio PlaceCall failed", "to", to, "error", err)
		return "", fmt.Errorf("failed to place call to %s: %w", to, err)
	}
	if resp == nil || resp.Sid == nil {
		return "", fmt.Errorf("failed to place call to %s: no call SID returned", to)
	}
	slog.Info("Twilio call placed", "to", to, "call_sid", *resp.Sid)
	return *resp.Sid, nil
}

// UpdateNumberWebhooks points the account number's voice and status webhooks at baseURL.
func (c *Client) UpdateNumberWebhooks(ctx context.Context, baseURL string) error {
	voiceURL, statusURL, err := WebhookURLs(baseURL)
	if err != nil {
		return err
	}

	list := &twilioApi.ListIncomingPhoneNumberParams{}
	list.SetPhoneNumber(c.fromNumber)
	list.SetLimit(1)
	numbers, err := c.client.Api.ListIncomingPhoneNumber(list)
	if err != nil {
		slog.Error("Twilio ListIncomingPhoneNumber failed", "number", c.fromNumber, "error", err)
		return fmt.Errorf("failed to look up %s: %w", c.fromNumber, err)
	}
	if len(numbers) == 0 || numbers[0].Sid == nil {
		slog.Error("Twilio number not found", "number", c.fromNumber)
		return fmt.Errorf("%w: %s", ErrNumberNotFound, c.fromNumber)
	}

	update := &twilioApi.UpdateIncomingPhoneNumberParams{}
	update.SetVoiceUrl(voiceURL)
	update.SetVoiceMethod("POST")
	update.SetStatusCallback(statusURL)
	update.SetStatusCallbackMethod("POST")
	if _, err := c.client.Api.UpdateIncomingPhoneNumber(*numbers[0].Sid, update); err != nil {
		slog.Error("Twilio UpdateIncomingPhoneNumber failed", "number", c.fromNumber, "error", err)
		return fmt.Errorf("failed to update webhooks for %s: %w", c.fromNumber, err)
	}
	slog.Info("Twilio number webhooks updated", "number", c.fromNumber, "voice_url", voiceURL, "status_url", statusURL)
	return nil
}
