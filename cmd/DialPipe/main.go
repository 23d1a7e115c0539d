package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/BTreeMap/DialPipe/internal/api"
	"github.com/BTreeMap/DialPipe/internal/dialer"
	"github.com/BTreeMap/DialPipe/internal/genai"
	"github.com/BTreeMap/DialPipe/internal/store"
	"github.com/BTreeMap/DialPipe/internal/telephony"
	"github.com/BTreeMap/DialPipe/internal/upload"
	"github.com/BTreeMap/DialPipe/internal/util"
	"github.com/BTreeMap/DialPipe/internal/voice"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for DialPipe state data
	DefaultStateDir = "/var/lib/dialpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "dialpipe.db"
	// DefaultPort is the webhook server port
	DefaultPort = 5000
)

// Run modes.
const (
	ModeServer   = "server"
	ModeOutbound = "outbound"
	ModeChat     = "chat"
)

func main() {
	// Initialize structured logger
	initializeLogger(os.Stdout, "")

	// Load environment configuration
	config := loadEnvironmentConfig()

	// Parse command line flags
	flags, err := parseCommandLineFlags(config, os.Args[1:])
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		slog.Error("Invalid command line", "error", err)
		os.Exit(2)
	}

	if flags.logFile != "" {
		closer := initializeLogger(os.Stdout, flags.logFile)
		defer closer.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("Bootstrapping DialPipe", "mode", flags.mode, "port", flags.port, "state_dir", flags.stateDir)
	if err := run(ctx, config, flags, os.Stdin, os.Stdout); err != nil {
		slog.Error("DialPipe failed to run", "error", err)
		stop()
		os.Exit(1)
	}
	slog.Info("DialPipe exited successfully")
}

// Config holds environment configuration
type Config struct {
	StateDir          string
	DatabaseURL       string
	Port              int
	PublicURL         string
	LogFile           string
	APIKey            string
	APIBaseURL        string
	Model             string
	GenAITimeout      time.Duration
	DebugMode         bool
	AccountSID        string
	AuthToken         string
	FromNumber        string
	ValidateSignature bool
	BackendURL        string
	AgentName         string
	CompanyName       string
	CallDelay         time.Duration
	AllowedOrigins    string
	Voice             string
	VoiceLanguage     string
}

// Flags holds command line flag values
type Flags struct {
	reset         bool
	mode          string
	port          int
	call          string
	prospectsFile string
	stateDir      string
	dbDSN         string
	publicURL     string
	logFile       string
	printQR       bool
}

// initializeLogger sets up structured logging with debug level. With a log file the output is also
// written to a rotated file; the returned closer flushes it.
func initializeLogger(stdout io.Writer, logFile string) io.Closer {
	var w io.Writer = stdout
	var closer io.Closer = nopCloser{}
	if logFile != "" {
		rotator := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    10, // Megabytes
			MaxBackups: 5,
			MaxAge:     30, // Days
			Compress:   true,
		}
		w = io.MultiWriter(stdout, rotator)
		closer = rotator
	}
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(logger)
	return closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		StateDir:          util.EnvOr(DefaultStateDir, "DIALPIPE_STATE_DIR"),
		DatabaseURL:       os.Getenv("DATABASE_URL"),
		Port:              DefaultPort,
		PublicURL:         os.Getenv("PUBLIC_URL"),
		LogFile:           os.Getenv("DIALPIPE_LOG_FILE"),
		APIKey:            util.EnvOr("", "API_KEY", "OPENAI_API_KEY"),
		APIBaseURL:        os.Getenv("API_BASE_URL"),
		Model:             util.EnvOr(genai.DefaultModel, "MODEL_NAME"),
		GenAITimeout:      util.ParseDurationEnv("GENAI_TIMEOUT", 0),
		DebugMode:         util.ParseBoolEnv("DIALPIPE_DEBUG", false),
		AccountSID:        os.Getenv("TWILIO_ACCOUNT_SID"),
		AuthToken:         os.Getenv("TWILIO_AUTH_TOKEN"),
		FromNumber:        os.Getenv("TWILIO_PHONE_NUMBER"),
		ValidateSignature: util.ParseBoolEnv("TWILIO_VALIDATE_SIGNATURE", false),
		BackendURL:        util.EnvOr(upload.DefaultBackendURL, "NODE_BACKEND_URL"),
		AgentName:         os.Getenv("BOT_NAME"),
		CompanyName:       os.Getenv("COMPANY_NAME"),
		CallDelay:         util.ParseDurationEnv("DIALPIPE_CALL_DELAY", dialer.DefaultCallDelay),
		AllowedOrigins:    os.Getenv("DIALPIPE_ALLOWED_ORIGINS"),
		Voice:             util.EnvOr(voice.DefaultVoice, "DIALPIPE_VOICE"),
		VoiceLanguage:     util.EnvOr(voice.DefaultLanguage, "DIALPIPE_VOICE_LANGUAGE"),
	}
	config.Port = util.ParseIntEnv("FLASK_PORT", config.Port)
	config.Port = util.ParseIntEnv("DIALPIPE_PORT", config.Port)

	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
		slog.Debug("No database DSN provided, defaulting to SQLite", "sqlite_path", config.DatabaseURL)
	}

	slog.Debug("environment variables loaded",
		"DIALPIPE_STATE_DIR", config.StateDir,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"PORT", config.Port,
		"PUBLIC_URL", config.PublicURL,
		"API_KEY_SET", config.APIKey != "",
		"API_BASE_URL", config.APIBaseURL,
		"MODEL_NAME", config.Model,
		"TWILIO_ACCOUNT_SID_SET", config.AccountSID != "",
		"TWILIO_AUTH_TOKEN_SET", config.AuthToken != "",
		"TWILIO_PHONE_NUMBER", config.FromNumber,
		"NODE_BACKEND_URL", config.BackendURL)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config, args []string) (Flags, error) {
	var flags Flags
	fs := flag.NewFlagSet("DialPipe", flag.ContinueOnError)
	fs.BoolVar(&flags.reset, "reset", false, "delete the default conversation before starting")
	fs.StringVar(&flags.mode, "mode", ModeServer, "run mode: server, outbound or chat")
	fs.IntVar(&flags.port, "port", config.Port, "webhook server port (overrides $FLASK_PORT / $DIALPIPE_PORT)")
	fs.StringVar(&flags.call, "call", "", "phone number to call in outbound mode (E.164)")
	fs.StringVar(&flags.prospectsFile, "prospects-file", "", "JSON file of prospects to call in outbound mode")
	fs.StringVar(&flags.stateDir, "state-dir", config.StateDir, "state directory for DialPipe data (overrides $DIALPIPE_STATE_DIR)")
	fs.StringVar(&flags.dbDSN, "db-dsn", config.DatabaseURL, "conversation store DSN: postgres://, redis://, json://<dir>, memory or a SQLite path (overrides $DATABASE_URL)")
	fs.StringVar(&flags.publicURL, "public-url", config.PublicURL, "public base URL for webhooks; skips ngrok (overrides $PUBLIC_URL)")
	fs.StringVar(&flags.logFile, "log-file", config.LogFile, "also write logs to this rotated file (overrides $DIALPIPE_LOG_FILE)")
	fs.BoolVar(&flags.printQR, "print-qr", false, "print a QR code of the public trigger URL")

	if err := fs.Parse(args); err != nil {
		return flags, err
	}

	// Update database DSN if not explicitly set but state directory is provided
	defaultDSN := filepath.Join(config.StateDir, DefaultDBFileName)
	if flags.dbDSN == defaultDSN && flags.stateDir != config.StateDir {
		flags.dbDSN = filepath.Join(flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", flags.stateDir)
	}

	switch flags.mode {
	case ModeServer, ModeChat:
	case ModeOutbound:
		if flags.call == "" && flags.prospectsFile == "" {
			return flags, fmt.Errorf("outbound mode needs --call or --prospects-file")
		}
	default:
		return flags, fmt.Errorf("unknown mode %q", flags.mode)
	}
	if flags.port <= 0 || flags.port > 65535 {
		return flags, fmt.Errorf("invalid port %d", flags.port)
	}

	slog.Debug("flags parsed",
		"reset", flags.reset,
		"mode", flags.mode,
		"port", flags.port,
		"call", flags.call,
		"prospects_file", flags.prospectsFile,
		"state_dir", flags.stateDir,
		"db_dsn_type", store.DetectDSNType(flags.dbDSN),
		"public_url", flags.publicURL,
		"log_file", flags.logFile,
		"print_qr", flags.printQR)
	return flags, nil
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	if flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return []store.Option{store.WithDSN(store.DSNTypeMemory)}
	}
	slog.Debug("Configuring conversation store", "dsn_type", store.DetectDSNType(flags.dbDSN))
	return []store.Option{store.WithDSN(flags.dbDSN)}
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(config Config, flags Flags) []genai.Option {
	opts := []genai.Option{
		genai.WithAPIKey(config.APIKey),
		genai.WithModel(config.Model),
		genai.WithStateDir(flags.stateDir),
		genai.WithDebugMode(config.DebugMode),
	}
	if config.APIBaseURL != "" {
		opts = append(opts, genai.WithBaseURL(config.APIBaseURL))
	}
	if config.GenAITimeout > 0 {
		opts = append(opts, genai.WithTimeout(config.GenAITimeout))
	}
	return opts
}

// buildTelephonyOptions constructs Twilio configuration options
func buildTelephonyOptions(config Config) []telephony.Option {
	return []telephony.Option{
		telephony.WithAccountSID(config.AccountSID),
		telephony.WithAuthToken(config.AuthToken),
		telephony.WithFromNumber(config.FromNumber),
	}
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(config Config, flags Flags) []api.Option {
	opts := []api.Option{
		api.WithAddr(":" + strconv.Itoa(flags.port)),
		api.WithVoiceBuilder(voice.NewBuilder(voice.Config{Voice: config.Voice, Language: config.VoiceLanguage})),
	}
	if config.ValidateSignature {
		opts = append(opts, api.WithSignatureValidation(config.AuthToken))
	}
	if origins := splitList(config.AllowedOrigins); len(origins) > 0 {
		opts = append(opts, api.WithAllowedOrigins(origins...))
	}
	return opts
}

// splitList splits a comma separated value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
