// Package conversation keeps the per-call message history on top of a durable store.
//
// Each call identifier owns one role-tagged message sequence. Loading never fails: a missing, unreadable
// or corrupt record yields a freshly initialized sequence so the call can continue.
package conversation

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/BTreeMap/DialPipe/internal/models"
	"github.com/BTreeMap/DialPipe/internal/store"
)

// DefaultSessionID is used when no call identifier is available. It is a single shared conversation
// and is only meant for the local chat mode and for --reset.
const DefaultSessionID = "conversation"

// keySuffix mirrors the <sid>_conversation naming of persisted records.
const keySuffix = "_conversation"

// Initializer builds the starting sequence for a new conversation.
type Initializer interface {
	Initialize(profile *models.CallerProfile) []models.Message
}

// Sanitizer is applied to every sequence read back from persistence.
type Sanitizer func([]models.Message) []models.Message

// Store loads and saves conversations keyed by call identifier.
type Store struct {
	backend  store.Store
	init     Initializer
	sanitize Sanitizer
	locks    *Locker
}

// Option configures a Store.
type Option func(*Store)

// WithSanitizer sets the function applied to loaded sequences.
func WithSanitizer(fn Sanitizer) Option {
	return func(s *Store) { s.sanitize = fn }
}

// WithLocker shares a Locker between stores.
func WithLocker(l *Locker) Option {
	return func(s *Store) { s.locks = l }
}

// NewStore wraps backend. init builds sequences for calls without history.
func NewStore(backend store.Store, init Initializer, opts ...Option) *Store {
	s := &Store{backend: backend, init: init, locks: NewLocker()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SessionID normalizes a call identifier, substituting DefaultSessionID for blank input.
func SessionID(id string) string {
	id = strings.TrimSpace(id)
	if id == "" {
		return DefaultSessionID
	}
	return id
}

// Key returns the backend key for a call identifier.
func Key(sessionID string) string {
	sid := SessionID(sessionID)
	if sid == DefaultSessionID {
		return DefaultSessionID
	}
	return sid + keySuffix
}

// Load returns the persisted sequence for sessionID, or a new sequence built from profile.
func (s *Store) Load(ctx context.Context, sessionID string, profile *models.CallerProfile) []models.Message {
	key := Key(sessionID)
	data, found, err := s.backend.Load(ctx, key)
	if err != nil {
		slog.Error("Conversation.Load: backend failed, starting fresh", "error", err, "key", key)
		return s.init.Initialize(profile)
	}
	if !found {
		slog.Debug("Conversation.Load: no history, initializing", "key", key)
		return s.init.Initialize(profile)
	}

	var seq []models.Message
	if err := json.Unmarshal(data, &seq); err != nil {
		slog.Error("Conversation.Load: corrupt record, starting fresh", "error", err, "key", key)
		return s.init.Initialize(profile)
	}
	if len(seq) == 0 || seq[0].Role != models.RoleSystem {
		slog.Warn("Conversation.Load: record does not start with a system message, starting fresh", "key", key, "length", len(seq))
		return s.init.Initialize(profile)
	}
	for i, m := range seq {
		if err := m.Validate(); err != nil {
			slog.Warn("Conversation.Load: record holds an invalid message, starting fresh", "key", key, "index", i, "error", err)
			return s.init.Initialize(profile)
		}
	}
	if s.sanitize != nil {
		seq = s.sanitize(seq)
	}
	slog.Debug("Conversation.Load: loaded history", "key", key, "messages", len(seq))
	return seq
}

// Save overwrites the persisted sequence for sessionID. Failures are logged and the in-memory
// result stays authoritative for the current turn.
func (s *Store) Save(ctx context.Context, sessionID string, seq []models.Message) {
	key := Key(sessionID)
	data, err := json.MarshalIndent(seq, "", "  ")
	if err != nil {
		slog.Error("Conversation.Save: marshal failed", "error", err, "key", key)
		return
	}
	if err := s.backend.Save(ctx, key, data); err != nil {
		slog.Error("Conversation.Save: backend failed", "error", err, "key", key)
		return
	}
	slog.Debug("Conversation.Save: saved", "key", key, "messages", len(seq))
}

// Reset deletes the persisted sequence for sessionID. Resetting a missing conversation is a no-op.
func (s *Store) Reset(ctx context.Context, sessionID string) error {
	key := Key(sessionID)
	if err := s.backend.Delete(ctx, key); err != nil {
		slog.Error("Conversation.Reset: delete failed", "error", err, "key", key)
		return err
	}
	slog.Info("Conversation.Reset: conversation reset", "key", key)
	return nil
}

// Exists reports whether a persisted sequence exists for sessionID.
func (s *Store) Exists(ctx context.Context, sessionID string) bool {
	ok, err := s.backend.Exists(ctx, Key(sessionID))
	if err != nil {
		slog.Error("Conversation.Exists: backend failed", "error", err, "session_id", sessionID)
		return false
	}
	return ok
}

// Lock serializes load-mutate-save cycles for one call identifier.
func (s *Store) Lock(sessionID string) (unlock func()) {
	return s.locks.Lock(SessionID(sessionID))
}

// Ping checks that the backend answers.
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.backend.Exists(ctx, DefaultSessionID)
	return err
}
