// Package api provides the HTTP server that answers Twilio's voice webhooks.
//
// It exposes /voice, /transcribe and /call-status for Twilio, /trigger-call for starting an outbound call
// from a browser, and /health. Handlers are thin: they read the form, consult the call state tracker,
// call the dialogue engine and render TwiML.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/BTreeMap/DialPipe/internal/callstate"
	"github.com/BTreeMap/DialPipe/internal/dialogue"
	"github.com/BTreeMap/DialPipe/internal/models"
	"github.com/BTreeMap/DialPipe/internal/tunnel"
	"github.com/BTreeMap/DialPipe/internal/upload"
	"github.com/BTreeMap/DialPipe/internal/voice"
)

// Server timeouts.
const (
	DefaultAddr         = ":5000"
	DefaultReadTimeout  = 15 * time.Second
	DefaultWriteTimeout = 60 * time.Second // completion calls happen inside the request
	DefaultIdleTimeout  = 120 * time.Second
	ShutdownTimeout     = 10 * time.Second
)

// Dialogue generates the agent's utterances.
type Dialogue interface {
	GenerateIntroduction(ctx context.Context, sessionID string, profile *models.CallerProfile) dialogue.Reply
	GenerateResponse(ctx context.Context, input, sessionID string, profile *models.CallerProfile) dialogue.Reply
	GenerateClosing(ctx context.Context, sessionID string, profile *models.CallerProfile) dialogue.Reply
	History(ctx context.Context, sessionID string, profile *models.CallerProfile) []models.Message
}

// ProfileLookup resolves the caller profile for a call.
type ProfileLookup interface {
	Lookup(callSID string, phones ...string) *models.CallerProfile
	// Forget drops what was registered for a finished call.
	Forget(callSID string, phones ...string)
}

// Initiator places outbound calls.
type Initiator interface {
	ValidatePhone(number string) error
	PlaceCall(ctx context.Context, number, baseURL string, profile *models.CallerProfile) (string, error)
}

// Uploader receives finished conversations.
type Uploader interface {
	Upload(ctx context.Context, callSID string, profile *models.CallerProfile, conversation []models.Message) (upload.Result, error)
}

// HealthChecker reports whether the conversation store is reachable.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// Server holds the webhook dependencies.
type Server struct {
	dialogue  Dialogue
	profiles  ProfileLookup
	calls     *callstate.Tracker
	voice     *voice.Builder
	initiator Initiator
	tunnel    tunnel.Provisioner
	uploader  Uploader
	health    HealthChecker

	addr           string
	authToken      string
	validateSig    bool
	allowedOrigins []string

	router     chi.Router
	httpServer *http.Server
}

// Opts holds configuration options for the API server.
type Opts struct {
	Addr           string
	Profiles       ProfileLookup
	Calls          *callstate.Tracker
	Voice          *voice.Builder
	Initiator      Initiator
	Tunnel         tunnel.Provisioner
	Uploader       Uploader
	Health         HealthChecker
	AuthToken      string
	ValidateSig    bool
	AllowedOrigins []string
}

// Option defines a configuration option for the API server.
type Option func(*Opts)

// WithAddr sets the listen address.
func WithAddr(addr string) Option {
	return func(o *Opts) { o.Addr = addr }
}

// WithProfiles sets the caller profile lookup.
func WithProfiles(p ProfileLookup) Option {
	return func(o *Opts) { o.Profiles = p }
}

// WithCallTracker sets the call state tracker.
func WithCallTracker(t *callstate.Tracker) Option {
	return func(o *Opts) { o.Calls = t }
}

// WithVoiceBuilder sets the TwiML builder.
func WithVoiceBuilder(b *voice.Builder) Option {
	return func(o *Opts) { o.Voice = b }
}

// WithInitiator enables /trigger-call.
func WithInitiator(i Initiator) Option {
	return func(o *Opts) { o.Initiator = i }
}

// WithTunnel sets the public URL provisioner used by /trigger-call and signature validation.
func WithTunnel(t tunnel.Provisioner) Option {
	return func(o *Opts) { o.Tunnel = t }
}

// WithUploader enables history upload on terminal call statuses.
func WithUploader(u Uploader) Option {
	return func(o *Opts) { o.Uploader = u }
}

// WithHealthCheck sets the store probe reported by /health.
func WithHealthCheck(h HealthChecker) Option {
	return func(o *Opts) { o.Health = h }
}

// WithSignatureValidation rejects webhook requests whose X-Twilio-Signature does not match authToken.
func WithSignatureValidation(authToken string) Option {
	return func(o *Opts) {
		o.AuthToken = authToken
		o.ValidateSig = authToken != ""
	}
}

// WithAllowedOrigins sets the CORS origins allowed to call /trigger-call.
func WithAllowedOrigins(origins ...string) Option {
	return func(o *Opts) { o.AllowedOrigins = origins }
}

// NewServer creates a Server around a dialogue engine.
func NewServer(d Dialogue, opts ...Option) *Server {
	cfg := Opts{Addr: DefaultAddr}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Calls == nil {
		cfg.Calls = callstate.NewTracker(callstate.DefaultTTL)
	}
	if cfg.Voice == nil {
		cfg.Voice = voice.NewBuilder(voice.DefaultConfig())
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}
	s := &Server{
		dialogue:       d,
		profiles:       cfg.Profiles,
		calls:          cfg.Calls,
		voice:          cfg.Voice,
		initiator:      cfg.Initiator,
		tunnel:         cfg.Tunnel,
		uploader:       cfg.Uploader,
		health:         cfg.Health,
		addr:           cfg.Addr,
		authToken:      cfg.AuthToken,
		validateSig:    cfg.ValidateSig,
		allowedOrigins: cfg.AllowedOrigins,
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	// Preflights have no matching route, so CORS must run before routing.
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.allowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	// Twilio webhooks always get TwiML back, even when a handler panics.
	r.Group(func(r chi.Router) {
		r.Use(twimlRecoverer)
		if s.validateSig {
			r.Use(s.twilioSignature)
		}
		r.Post("/voice", s.voiceHandler)
		r.Post("/transcribe", s.transcribeHandler)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		if s.validateSig {
			r.Use(s.twilioSignature)
		}
		r.Post("/call-status", s.callStatusHandler)
	})
	r.Group(func(r chi.Router) {
		r.Use(middleware.Recoverer)
		r.Get("/trigger-call", s.triggerCallHandler)
		r.Get("/health", s.healthHandler)
	})
	return r
}

// Handler returns the HTTP handler serving all routes.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  DefaultReadTimeout,
		WriteTimeout: DefaultWriteTimeout,
		IdleTimeout:  DefaultIdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Server.Run: listening", "addr", s.addr)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok && err != nil {
			slog.Error("Server.Run: server failed", "error", err)
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("Server.Run: shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), ShutdownTimeout)
	defer cancel()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server.Run: shutdown failed", "error", err)
		return err
	}
	slog.Info("Server.Run: server stopped")
	return nil
}

// requestLogger logs one line per request.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		slog.Debug("Server: request handled",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"elapsed", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
