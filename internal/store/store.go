// Package store provides storage backends for DialPipe.
//
// Every backend is a durable key-value store holding one opaque record per key. The conversation
// layer stores one JSON-encoded message sequence per call identifier; the store itself knows nothing
// about the record format. Backends: in-memory, JSON files in a directory, SQLite, PostgreSQL and Redis.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// DSN types recognized by DetectDSNType.
const (
	DSNTypeMemory   = "memory"
	DSNTypeFile     = "file"
	DSNTypeSQLite   = "sqlite"
	DSNTypePostgres = "postgres"
	DSNTypeRedis    = "redis"
)

// FileDSNPrefix selects the JSON file backend, e.g. "json:///var/lib/dialpipe/conversations".
const FileDSNPrefix = "json://"

// ErrEmptyKey is returned when an operation is attempted with a blank key.
var ErrEmptyKey = errors.New("store key cannot be empty")

// Store is a durable key-value abstraction.
type Store interface {
	// Exists reports whether a record is stored under key.
	Exists(ctx context.Context, key string) (bool, error)
	// Load returns the record stored under key. found is false when no record exists.
	Load(ctx context.Context, key string) (value []byte, found bool, err error)
	// Save stores value under key, replacing any previous record.
	Save(ctx context.Context, key string, value []byte) error
	// Delete removes the record stored under key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
	// Close releases any resources held by the store.
	Close() error
}

// Opts holds configuration options for store backends.
type Opts struct {
	DSN       string        // connection string, file path or directory
	Type      string        // one of the DSNType constants; detected from DSN when empty
	TTL       time.Duration // record expiry for backends that support it (Redis); 0 keeps records forever
	KeyPrefix string        // namespace prepended to keys by shared backends (Redis)
}

// Option defines a configuration option for store backends.
type Option func(*Opts)

// WithPostgresDSN configures a PostgreSQL connection string.
func WithPostgresDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = DSNTypePostgres
	}
}

// WithSQLiteDSN configures the path of the SQLite database file.
func WithSQLiteDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = DSNTypeSQLite
	}
}

// WithRedisURL configures a redis:// or rediss:// connection URL.
func WithRedisURL(url string) Option {
	return func(o *Opts) {
		o.DSN = url
		o.Type = DSNTypeRedis
	}
}

// WithFileDir configures the directory used by the JSON file backend.
func WithFileDir(dir string) Option {
	return func(o *Opts) {
		o.DSN = dir
		o.Type = DSNTypeFile
	}
}

// WithDSN configures a DSN whose backend is detected by DetectDSNType.
func WithDSN(dsn string) Option {
	return func(o *Opts) {
		o.DSN = dsn
		o.Type = ""
	}
}

// WithTTL sets the record expiry for backends that support it.
func WithTTL(ttl time.Duration) Option {
	return func(o *Opts) { o.TTL = ttl }
}

// WithKeyPrefix sets the key namespace for shared backends.
func WithKeyPrefix(prefix string) Option {
	return func(o *Opts) { o.KeyPrefix = prefix }
}

// DetectDSNType classifies a DSN into one of the DSNType constants.
func DetectDSNType(dsn string) string {
	d := strings.TrimSpace(dsn)
	lower := strings.ToLower(d)
	switch {
	case d == "" || lower == DSNTypeMemory:
		return DSNTypeMemory
	case strings.HasPrefix(lower, "postgres://"), strings.HasPrefix(lower, "postgresql://"), strings.Contains(lower, "host="):
		return DSNTypePostgres
	case strings.HasPrefix(lower, "redis://"), strings.HasPrefix(lower, "rediss://"):
		return DSNTypeRedis
	case strings.HasPrefix(lower, FileDSNPrefix):
		return DSNTypeFile
	default:
		return DSNTypeSQLite
	}
}

// New builds the backend selected by the options.
func New(opts ...Option) (Store, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	kind := cfg.Type
	if kind == "" {
		kind = DetectDSNType(cfg.DSN)
	}
	slog.Debug("store.New: selecting backend", "type", kind, "dsn_set", cfg.DSN != "")

	var (
		st  Store
		err error
	)
	switch kind {
	case DSNTypeMemory:
		return NewInMemoryStore(), nil
	case DSNTypeFile:
		var fs *FileStore
		fs, err = NewFileStore(strings.TrimPrefix(cfg.DSN, FileDSNPrefix))
		st = fs
	case DSNTypeSQLite:
		var ss *SQLiteStore
		ss, err = NewSQLiteStore(WithSQLiteDSN(cfg.DSN))
		st = ss
	case DSNTypePostgres:
		var ps *PostgresStore
		ps, err = NewPostgresStore(WithPostgresDSN(cfg.DSN))
		st = ps
	case DSNTypeRedis:
		var rs *RedisStore
		rs, err = NewRedisStore(WithRedisURL(cfg.DSN), WithTTL(cfg.TTL), WithKeyPrefix(cfg.KeyPrefix))
		st = rs
	default:
		return nil, fmt.Errorf("unsupported store type %q", kind)
	}
	if err != nil {
		return nil, err
	}
	return st, nil
}

// InMemoryStore keeps records in process memory. It is used for tests and as the
// fallback when no DSN is configured.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string][]byte
}

// NewInMemoryStore creates an empty in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string][]byte)}
}

func (s *InMemoryStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.records[key]
	return ok, nil
}

func (s *InMemoryStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	if key == "" {
		return nil, false, ErrEmptyKey
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.records[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (s *InMemoryStore) Save(ctx context.Context, key string, value []byte) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = append([]byte(nil), value...)
	return nil
}

func (s *InMemoryStore) Delete(ctx context.Context, key string) error {
	if key == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, key)
	return nil
}

// Close is a no-op for the in-memory store.
func (s *InMemoryStore) Close() error {
	return nil
}
