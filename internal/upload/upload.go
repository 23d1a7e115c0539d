// Package upload sends finished conversations to the reporting backend.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/BTreeMap/DialPipe/internal/models"
)

// Defaults for the backend connection.
const (
	DefaultBackendURL = "http://localhost:8000"
	SavePath          = "/api/save-conversation"
	DefaultTimeout    = 15 * time.Second

	// maxLoggedBody bounds how much of the backend's reply is logged.
	maxLoggedBody = 2048
)

// Uploader posts conversations to {backend}/api/save-conversation.
type Uploader struct {
	backendURL string
	httpClient *http.Client
}

// Opts holds configuration options for the Uploader.
type Opts struct {
	BackendURL string
	HTTPClient *http.Client
	Timeout    time.Duration
}

// Option defines a configuration option for the Uploader.
type Option func(*Opts)

// WithBackendURL sets the backend base URL.
func WithBackendURL(url string) Option {
	return func(o *Opts) { o.BackendURL = url }
}

// WithHTTPClient sets the HTTP client used for uploads.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Opts) { o.HTTPClient = c }
}

// WithTimeout sets the request timeout of the default HTTP client.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// NewUploader creates an Uploader.
func NewUploader(opts ...Option) *Uploader {
	cfg := Opts{BackendURL: DefaultBackendURL, Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	if strings.TrimSpace(cfg.BackendURL) == "" {
		cfg.BackendURL = DefaultBackendURL
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &Uploader{backendURL: strings.TrimRight(cfg.BackendURL, "/"), httpClient: client}
}

// Endpoint returns the URL conversations are posted to.
func (u *Uploader) Endpoint() string {
	return u.backendURL + SavePath
}

// Result is the backend's reply to an upload.
type Result struct {
	StatusCode int
	Body       string
}

// Upload posts one conversation. Any HTTP status counts as delivered; the status and body are logged
// and returned for the caller to inspect.
func (u *Uploader) Upload(ctx context.Context, callSID string, profile *models.CallerProfile, conversation []models.Message) (Result, error) {
	payload := models.ConversationUpload{
		CallSID:      callSID,
		UserInfo:     profile,
		Conversation: conversation,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode conversation: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.Endpoint(), bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	slog.Info("Uploader.Upload: uploading conversation", "call_sid", callSID, "messages", len(conversation), "endpoint", u.Endpoint())
	resp, err := u.httpClient.Do(req)
	if err != nil {
		slog.Error("Uploader.Upload: request failed", "call_sid", callSID, "error", err)
		return Result{}, fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxLoggedBody))
	if err != nil {
		slog.Warn("Uploader.Upload: failed to read response body", "call_sid", callSID, "error", err)
	}
	res := Result{StatusCode: resp.StatusCode, Body: string(respBody)}
	slog.Info("Uploader.Upload: backend responded", "call_sid", callSID, "status", res.StatusCode, "body", res.Body)
	return res, nil
}
