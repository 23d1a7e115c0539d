// Package dialogue turns call events into agent utterances.
//
// Each generate call loads the conversation for a call identifier, adds the instructions the turn needs,
// asks the completion engine for text and persists the result. Engine failures never surface as errors to
// the caller of a webhook: they yield a fixed fallback line and leave the persisted history untouched.
package dialogue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/BTreeMap/DialPipe/internal/conversation"
	"github.com/BTreeMap/DialPipe/internal/genai"
	"github.com/BTreeMap/DialPipe/internal/models"
	"github.com/BTreeMap/DialPipe/internal/prompt"
	"github.com/BTreeMap/DialPipe/internal/signals"
)

// Fallback lines used when the completion engine fails.
const (
	FallbackResponse = "I'm sorry, I couldn't generate a response at this time. Please try again."
	FallbackClosing  = "Thank you for your time today. If you'd like to try our products, we're offering a special 15% discount for new customers. Just visit our website or call us back when you're ready. Have a wonderful day!"
)

// Reply is the outcome of one generate call. Text is always speakable. Fallback is true when Text is a
// fixed line because the engine failed, in which case Err holds the cause.
type Reply struct {
	Text     string
	Fallback bool
	Err      error
}

// Conversations is the history storage the engine needs.
type Conversations interface {
	Load(ctx context.Context, sessionID string, profile *models.CallerProfile) []models.Message
	Save(ctx context.Context, sessionID string, seq []models.Message)
	Lock(sessionID string) (unlock func())
}

var _ Conversations = (*conversation.Store)(nil)

// Engine generates introductions, responses and closings.
type Engine struct {
	conversations Conversations
	assembler     *prompt.Assembler
	completer     genai.ClientInterface
}

// NewEngine creates an Engine.
func NewEngine(conversations Conversations, assembler *prompt.Assembler, completer genai.ClientInterface) *Engine {
	return &Engine{conversations: conversations, assembler: assembler, completer: completer}
}

// FallbackIntroduction returns the fixed greeting for the engine's persona.
func (e *Engine) FallbackIntroduction() string {
	p := e.assembler.Persona()
	return fmt.Sprintf("Hello, this is %s from %s. How can I help you today?", p.AgentName, p.CompanyName)
}

// GenerateIntroduction produces the opening line of a call. On success the history gains exactly one
// assistant message; the instruction that produced it is not kept.
func (e *Engine) GenerateIntroduction(ctx context.Context, sessionID string, profile *models.CallerProfile) Reply {
	unlock := e.conversations.Lock(sessionID)
	defer unlock()

	seq := e.conversations.Load(ctx, sessionID, profile)
	request := append(models.CloneMessages(seq), e.assembler.IntroductionInstruction(profile))

	text, err := e.completer.GenerateWithMessages(ctx, request)
	if err != nil {
		slog.Error("Dialogue.GenerateIntroduction: completion failed, using fallback", "error", err, "session_id", sessionID)
		return Reply{Text: e.FallbackIntroduction(), Fallback: true, Err: err}
	}

	seq = append(seq, models.AssistantMessage(text))
	e.conversations.Save(ctx, sessionID, seq)
	slog.Info("Dialogue.GenerateIntroduction: introduction generated", "session_id", sessionID, "history", len(seq))
	return Reply{Text: text}
}

// GenerateResponse answers one caller utterance. On success the history gains the user message and the
// assistant reply. Hesitation guidance is sent with the request but never persisted.
func (e *Engine) GenerateResponse(ctx context.Context, input, sessionID string, profile *models.CallerProfile) Reply {
	unlock := e.conversations.Lock(sessionID)
	defer unlock()

	seq := e.conversations.Load(ctx, sessionID, profile)
	request := models.CloneMessages(seq)
	hesitant := signals.DetectsHesitation(input)
	if hesitant {
		request = append(request, e.assembler.HesitationGuidance(profile))
	}
	request = append(request, models.UserMessage(input))

	text, err := e.completer.GenerateWithMessages(ctx, request)
	if err != nil {
		slog.Error("Dialogue.GenerateResponse: completion failed, using fallback", "error", err, "session_id", sessionID)
		return Reply{Text: FallbackResponse, Fallback: true, Err: err}
	}

	seq = append(seq, models.UserMessage(input), models.AssistantMessage(text))
	seq = prompt.StripHesitationGuidance(seq)
	e.conversations.Save(ctx, sessionID, seq)
	slog.Info("Dialogue.GenerateResponse: response generated", "session_id", sessionID, "hesitation", hesitant, "history", len(seq))
	return Reply{Text: text}
}

// GenerateClosing produces the final line of a call. Nothing is persisted.
func (e *Engine) GenerateClosing(ctx context.Context, sessionID string, profile *models.CallerProfile) Reply {
	unlock := e.conversations.Lock(sessionID)
	defer unlock()

	seq := e.conversations.Load(ctx, sessionID, profile)
	request := append(models.CloneMessages(seq), e.assembler.ClosingInstruction())

	text, err := e.completer.GenerateWithMessages(ctx, request)
	if err != nil {
		slog.Error("Dialogue.GenerateClosing: completion failed, using fallback", "error", err, "session_id", sessionID)
		return Reply{Text: FallbackClosing, Fallback: true, Err: err}
	}
	slog.Info("Dialogue.GenerateClosing: closing generated", "session_id", sessionID)
	return Reply{Text: text}
}

// History returns the conversation as currently persisted, for uploads and inspection.
func (e *Engine) History(ctx context.Context, sessionID string, profile *models.CallerProfile) []models.Message {
	unlock := e.conversations.Lock(sessionID)
	defer unlock()
	return e.conversations.Load(ctx, sessionID, profile)
}
