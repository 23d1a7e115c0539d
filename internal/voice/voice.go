// Package voice renders the TwiML documents returned to Twilio's voice webhooks.
package voice

import (
	"fmt"
	"log/slog"

	"github.com/twilio/twilio-go/twiml"

	"github.com/BTreeMap/DialPipe/internal/signals"
)

// Defaults for speech playback and recognition.
const (
	DefaultVoice         = "Polly.Joanna-Neural"
	DefaultLanguage      = "en-US"
	DefaultSpeechModel   = "experimental_conversations"
	DefaultSpeechTimeout = "auto"
	DefaultPrompt        = "Please speak after the tone."
	DefaultGatherAction  = "/transcribe"
	DefaultRedirectURL   = "/voice"

	// FallbackMessage is spoken when a webhook cannot produce anything better.
	FallbackMessage = "I'm sorry, we're experiencing technical difficulties. Please try again later. Goodbye."
)

// Pre-rendered documents that must be available without any runtime rendering.
var (
	fallbackDocument string
	bareHangup       string
)

// init renders the static documents once so that error paths never depend on the renderer.
func init() {
	var err error
	fallbackDocument, err = twiml.Voice([]twiml.Element{
		&twiml.VoiceSay{Message: FallbackMessage, Voice: DefaultVoice},
		&twiml.VoiceHangup{},
	})
	if err != nil {
		panic(fmt.Sprintf("Failed to render fallback TwiML at startup: %v", err))
	}
	bareHangup, err = twiml.Voice([]twiml.Element{&twiml.VoiceHangup{}})
	if err != nil {
		panic(fmt.Sprintf("Failed to render hangup TwiML at startup: %v", err))
	}
}

// Fallback returns the apology-and-hangup document used on internal failures.
func Fallback() string {
	return fallbackDocument
}

// Hangup returns a document that only ends the call.
func Hangup() string {
	return bareHangup
}

// Config controls how speech is played and gathered.
type Config struct {
	Voice         string
	Language      string
	SpeechModel   string
	SpeechTimeout string
	Prompt        string // spoken inside the gather
	Hints         string // comma separated phrases
	GatherAction  string // where Twilio posts the transcript
	RedirectURL   string // where Twilio goes when nothing was said
}

// DefaultConfig returns the configuration used for sales calls.
func DefaultConfig() Config {
	return Config{
		Voice:         DefaultVoice,
		Language:      DefaultLanguage,
		SpeechModel:   DefaultSpeechModel,
		SpeechTimeout: DefaultSpeechTimeout,
		Prompt:        DefaultPrompt,
		Hints:         signals.Hints(),
		GatherAction:  DefaultGatherAction,
		RedirectURL:   DefaultRedirectURL,
	}
}

// Builder renders documents for one Config.
type Builder struct {
	cfg Config
}

// NewBuilder creates a Builder. Blank fields take their defaults.
func NewBuilder(cfg Config) *Builder {
	def := DefaultConfig()
	if cfg.Voice == "" {
		cfg.Voice = def.Voice
	}
	if cfg.Language == "" {
		cfg.Language = def.Language
	}
	if cfg.SpeechModel == "" {
		cfg.SpeechModel = def.SpeechModel
	}
	if cfg.SpeechTimeout == "" {
		cfg.SpeechTimeout = def.SpeechTimeout
	}
	if cfg.Prompt == "" {
		cfg.Prompt = def.Prompt
	}
	if cfg.Hints == "" {
		cfg.Hints = def.Hints
	}
	if cfg.GatherAction == "" {
		cfg.GatherAction = def.GatherAction
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = def.RedirectURL
	}
	return &Builder{cfg: cfg}
}

// Config returns the effective configuration.
func (b *Builder) Config() Config {
	return b.cfg
}

func (b *Builder) say(text string) *twiml.VoiceSay {
	return &twiml.VoiceSay{Message: text, Voice: b.cfg.Voice}
}

func (b *Builder) gather() *twiml.VoiceGather {
	return &twiml.VoiceGather{
		Input:         "speech",
		Action:        b.cfg.GatherAction,
		SpeechTimeout: b.cfg.SpeechTimeout,
		SpeechModel:   b.cfg.SpeechModel,
		Language:      b.cfg.Language,
		Hints:         b.cfg.Hints,
		InnerElements: []twiml.Element{b.say(b.cfg.Prompt)},
	}
}

func (b *Builder) render(method string, elements []twiml.Element) string {
	doc, err := twiml.Voice(elements)
	if err != nil {
		slog.Error("Builder."+method+": failed to render TwiML, using fallback", "error", err)
		return fallbackDocument
	}
	return doc
}

// Listen speaks text, then gathers speech. If nothing is gathered Twilio follows the redirect.
func (b *Builder) Listen(text string) string {
	return b.render("Listen", []twiml.Element{
		b.say(text),
		b.gather(),
		&twiml.VoiceRedirect{Url: b.cfg.RedirectURL},
	})
}

// Reprompt gathers speech again without saying anything first.
func (b *Builder) Reprompt() string {
	return b.render("Reprompt", []twiml.Element{
		b.gather(),
		&twiml.VoiceRedirect{Url: b.cfg.RedirectURL},
	})
}

// Close speaks text and hangs up.
func (b *Builder) Close(text string) string {
	return b.render("Close", []twiml.Element{
		b.say(text),
		&twiml.VoiceHangup{},
	})
}
