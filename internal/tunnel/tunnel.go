// Package tunnel provides the public URL that Twilio uses to reach DialPipe's webhooks.
package tunnel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/BTreeMap/DialPipe/internal/telephony"
)

// Defaults for the ngrok agent.
const (
	DefaultBinary       = "ngrok"
	DefaultAgentAPI     = "http://localhost:4040/api/tunnels"
	DefaultStartTimeout = 15 * time.Second
	DefaultPollInterval = 500 * time.Millisecond
)

var (
	// ErrNoHTTPSTunnel is returned when the agent never reports an https tunnel.
	ErrNoHTTPSTunnel = errors.New("no https tunnel found")
	// ErrNoPublicURL is returned by a Static provisioner without a URL.
	ErrNoPublicURL = errors.New("public URL not configured")
)

// Provisioner yields the public base URL for webhooks.
type Provisioner interface {
	// PublicURL returns the base URL, provisioning it on first use.
	PublicURL(ctx context.Context) (string, error)
	// Close releases whatever PublicURL started.
	Close() error
}

// Static is a Provisioner for an already reachable URL, such as a reverse proxy.
type Static struct {
	URL      string
	Webhooks telephony.Caller

	once sync.Once
}

// NewStatic creates a Static provisioner. When webhooks is non-nil the number's webhooks are pointed
// at url the first time it is requested.
func NewStatic(url string, webhooks telephony.Caller) *Static {
	return &Static{URL: strings.TrimRight(strings.TrimSpace(url), "/"), Webhooks: webhooks}
}

func (s *Static) PublicURL(ctx context.Context) (string, error) {
	if s.URL == "" {
		return "", ErrNoPublicURL
	}
	s.once.Do(func() { updateWebhooks(ctx, s.Webhooks, s.URL) })
	return s.URL, nil
}

func (s *Static) Close() error { return nil }

// launcher starts the agent process and returns the function that stops it.
type launcher func(port int) (stop func() error, err error)

// Ngrok runs `ngrok http <port>` and reads the https tunnel from the agent's local API.
type Ngrok struct {
	port         int
	binary       string
	agentAPI     string
	startTimeout time.Duration
	pollInterval time.Duration
	webhooks     telephony.Caller
	httpClient   *http.Client
	launch       launcher

	mu   sync.Mutex
	url  string
	stop func() error
}

// Option configures an Ngrok provisioner.
type Option func(*Ngrok)

// WithBinary sets the ngrok executable.
func WithBinary(path string) Option {
	return func(n *Ngrok) { n.binary = path }
}

// WithAgentAPI sets the agent's tunnel listing endpoint.
func WithAgentAPI(url string) Option {
	return func(n *Ngrok) { n.agentAPI = url }
}

// WithStartTimeout bounds how long to wait for the tunnel to appear.
func WithStartTimeout(d time.Duration) Option {
	return func(n *Ngrok) { n.startTimeout = d }
}

// WithPollInterval sets how often the agent API is polled.
func WithPollInterval(d time.Duration) Option {
	return func(n *Ngrok) { n.pollInterval = d }
}

// WithWebhooks updates the Twilio number's webhooks once the tunnel is up.
func WithWebhooks(c telephony.Caller) Option {
	return func(n *Ngrok) { n.webhooks = c }
}

// WithHTTPClient sets the client used to query the agent API.
func WithHTTPClient(c *http.Client) Option {
	return func(n *Ngrok) { n.httpClient = c }
}

// withLauncher replaces process startup; used by tests.
func withLauncher(l launcher) Option {
	return func(n *Ngrok) { n.launch = l }
}

// NewNgrok creates an Ngrok provisioner for a local port.
func NewNgrok(port int, opts ...Option) *Ngrok {
	n := &Ngrok{
		port:         port,
		binary:       DefaultBinary,
		agentAPI:     DefaultAgentAPI,
		startTimeout: DefaultStartTimeout,
		pollInterval: DefaultPollInterval,
		httpClient:   &http.Client{Timeout: 5 * time.Second},
	}
	for _, opt := range opts {
		opt(n)
	}
	if n.launch == nil {
		n.launch = n.execLauncher
	}
	return n
}

func (n *Ngrok) execLauncher(port int) (func() error, error) {
	cmd := exec.Command(n.binary, "http", strconv.Itoa(port))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", n.binary, err)
	}
	slog.Info("Ngrok.start: agent started", "pid", cmd.Process.Pid, "port", port)
	go func() {
		if err := cmd.Wait(); err != nil {
			slog.Debug("Ngrok.start: agent exited", "error", err)
		}
	}()
	return func() error { return cmd.Process.Kill() }, nil
}

// PublicURL starts the agent on first use and returns the https tunnel URL. Later calls return the same URL.
func (n *Ngrok) PublicURL(ctx context.Context) (string, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.url != "" {
		return n.url, nil
	}

	slog.Info("Ngrok.PublicURL: starting tunnel", "port", n.port)
	stop, err := n.launch(n.port)
	if err != nil {
		slog.Error("Ngrok.PublicURL: failed to start agent", "error", err)
		return "", err
	}

	url, err := n.waitForTunnel(ctx)
	if err != nil {
		slog.Error("Ngrok.PublicURL: tunnel not available", "error", err)
		if stop != nil {
			stop()
		}
		return "", err
	}
	n.url = url
	n.stop = stop
	slog.Info("Ngrok.PublicURL: tunnel established", "url", url)

	updateWebhooks(ctx, n.webhooks, url)
	return url, nil
}

func (n *Ngrok) waitForTunnel(ctx context.Context) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, n.startTimeout)
	defer cancel()

	ticker := time.NewTicker(n.pollInterval)
	defer ticker.Stop()
	lastErr := ErrNoHTTPSTunnel
	for {
		url, err := n.httpsTunnel(ctx)
		if err == nil {
			return url, nil
		}
		if ctx.Err() == nil {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			return "", fmt.Errorf("waiting for ngrok tunnel: %w", lastErr)
		case <-ticker.C:
		}
	}
}

// agentTunnels is the part of the agent API response DialPipe reads.
type agentTunnels struct {
	Tunnels []struct {
		Proto     string `json:"proto"`
		PublicURL string `json:"public_url"`
	} `json:"tunnels"`
}

func (n *Ngrok) httpsTunnel(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.agentAPI, nil)
	if err != nil {
		return "", err
	}
	resp, err := n.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("agent API returned %d", resp.StatusCode)
	}
	var body agentTunnels
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return "", fmt.Errorf("invalid agent API response: %w", err)
	}
	for _, t := range body.Tunnels {
		if t.Proto == "https" && t.PublicURL != "" {
			return strings.TrimRight(t.PublicURL, "/"), nil
		}
	}
	return "", ErrNoHTTPSTunnel
}

// Close stops the agent if this provisioner started it.
func (n *Ngrok) Close() error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.stop == nil {
		return nil
	}
	err := n.stop()
	n.stop = nil
	n.url = ""
	return err
}

// updateWebhooks points the number at url. Failures are logged; the tunnel stays usable for outbound calls.
func updateWebhooks(ctx context.Context, c telephony.Caller, url string) {
	if c == nil {
		return
	}
	if err := c.UpdateNumberWebhooks(ctx, url); err != nil {
		slog.Error("tunnel.updateWebhooks: failed to update number webhooks", "error", err, "url", url)
	}
}
