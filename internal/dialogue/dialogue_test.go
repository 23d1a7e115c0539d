package dialogue

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/BTreeMap/DialPipe/internal/conversation"
	"github.com/BTreeMap/DialPipe/internal/genai"
	"github.com/BTreeMap/DialPipe/internal/models"
	"github.com/BTreeMap/DialPipe/internal/prompt"
	"github.com/BTreeMap/DialPipe/internal/store"
)

func newTestEngine(t *testing.T, completer genai.ClientInterface) (*Engine, *conversation.Store) {
	t.Helper()
	assembler := prompt.NewAssembler(prompt.Persona{})
	convs := conversation.NewStore(store.NewInMemoryStore(), assembler,
		conversation.WithSanitizer(prompt.StripHesitationGuidance))
	return NewEngine(convs, assembler, completer), convs
}

func profile() *models.CallerProfile {
	return &models.CallerProfile{Name: "Michael", Interests: "Home automation"}
}

func countGuidance(seq []models.Message) int {
	n := 0
	for _, m := range seq {
		if prompt.IsHesitationGuidance(m) {
			n++
		}
	}
	return n
}

func TestEndToEndConversation(t *testing.T) {
	ctx := context.Background()
	mock := genai.NewMockClient("Hi Michael, this is Alex!", "Great, here is more.", "I hear you, but consider this.")
	engine, convs := newTestEngine(t, mock)
	sid := "CA100"

	intro := engine.GenerateIntroduction(ctx, sid, nil)
	if intro.Fallback || intro.Text != "Hi Michael, this is Alex!" {
		t.Fatalf("unexpected introduction: %+v", intro)
	}
	seq := convs.Load(ctx, sid, nil)
	if len(seq) != 2 {
		t.Fatalf("expected system + assistant after introduction, got %d: %+v", len(seq), seq)
	}
	if seq[1].Role != models.RoleAssistant {
		t.Errorf("expected assistant turn, got %s", seq[1].Role)
	}
	if models.CountByRole(seq, models.RoleUser) != 0 {
		t.Error("introduction instruction leaked into history")
	}
	// The instruction was sent to the engine as the last message.
	if last := mock.LastCall(); last[len(last)-1].Role != models.RoleUser {
		t.Errorf("expected user-role instruction in request, got %+v", last[len(last)-1])
	}

	resp := engine.GenerateResponse(ctx, "I'm interested, tell me more", sid, nil)
	if resp.Fallback {
		t.Fatalf("unexpected fallback: %+v", resp)
	}
	seq = convs.Load(ctx, sid, nil)
	if len(seq) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(seq))
	}
	if seq[2] != models.UserMessage("I'm interested, tell me more") || seq[3] != models.AssistantMessage("Great, here is more.") {
		t.Errorf("unexpected turns: %+v", seq[2:])
	}
	if countGuidance(mock.LastCall()) != 0 {
		t.Error("guidance sent for a non-hesitant utterance")
	}

	engine.GenerateResponse(ctx, "that's too expensive", sid, nil)
	if countGuidance(mock.LastCall()) != 1 {
		t.Error("expected hesitation guidance in request")
	}
	seq = convs.Load(ctx, sid, nil)
	if len(seq) != 6 {
		t.Fatalf("expected 6 messages, got %d", len(seq))
	}
	if countGuidance(seq) != 0 {
		t.Error("hesitation guidance persisted")
	}
}

func TestIntroductionWithProfileKeepsTwoSystemMessages(t *testing.T) {
	ctx := context.Background()
	engine, convs := newTestEngine(t, genai.NewMockClient("Hello!"))
	engine.GenerateIntroduction(ctx, "CA1", profile())
	seq := convs.Load(ctx, "CA1", nil)
	if len(seq) != 3 || models.CountByRole(seq, models.RoleSystem) != 2 {
		t.Errorf("expected persona + profile + assistant, got %+v", seq)
	}
}

func TestHesitationGuidanceNeverAccumulates(t *testing.T) {
	ctx := context.Background()
	mock := genai.NewMockClient("Fair point.")
	engine, convs := newTestEngine(t, mock)
	sid := "CA200"
	for i := 0; i < 5; i++ {
		engine.GenerateResponse(ctx, "I'm not sure, maybe later", sid, profile())
		if n := countGuidance(convs.Load(ctx, sid, profile())); n > 0 {
			t.Fatalf("turn %d: %d guidance messages persisted", i, n)
		}
		if n := countGuidance(mock.LastCall()); n != 1 {
			t.Fatalf("turn %d: expected exactly one guidance in request, got %d", i, n)
		}
	}
	if got := len(convs.Load(ctx, sid, profile())); got != 2+5*2 {
		t.Errorf("expected %d messages, got %d", 2+5*2, got)
	}
}

func TestGuidanceUsesProfileInterests(t *testing.T) {
	mock := genai.NewMockClient("ok")
	engine, _ := newTestEngine(t, mock)
	engine.GenerateResponse(context.Background(), "too expensive", "CA1", profile())
	found := false
	for _, m := range mock.LastCall() {
		if prompt.IsHesitationGuidance(m) && strings.Contains(m.Content, "Home automation") {
			found = true
		}
	}
	if !found {
		t.Error("guidance should reference the caller's interests")
	}
}

func TestClosingPersistsNothing(t *testing.T) {
	ctx := context.Background()
	mock := genai.NewMockClient("Hi!", "Thanks for your time, goodbye!")
	engine, convs := newTestEngine(t, mock)
	engine.GenerateIntroduction(ctx, "CA1", nil)
	before := convs.Load(ctx, "CA1", nil)

	closing := engine.GenerateClosing(ctx, "CA1", nil)
	if closing.Fallback || closing.Text != "Thanks for your time, goodbye!" {
		t.Fatalf("unexpected closing: %+v", closing)
	}
	last := mock.LastCall()
	if last[len(last)-1].Role != models.RoleSystem || !strings.Contains(last[len(last)-1].Content, "The conversation is ending") {
		t.Errorf("closing instruction not sent: %+v", last[len(last)-1])
	}
	after := convs.Load(ctx, "CA1", nil)
	if len(after) != len(before) {
		t.Errorf("closing mutated history: %d -> %d", len(before), len(after))
	}
}

func TestFailuresReturnFallbacksWithoutPersisting(t *testing.T) {
	ctx := context.Background()
	mock := genai.NewMockClient("Hi!")
	engine, convs := newTestEngine(t, mock)
	engine.GenerateIntroduction(ctx, "CA1", nil)
	before := convs.Load(ctx, "CA1", nil)

	boom := errors.New("engine down")
	mock.Err = boom

	intro := engine.GenerateIntroduction(ctx, "CA1", nil)
	if !intro.Fallback || intro.Text != "Hello, this is Alex from TechInnovate Solutions. How can I help you today?" || !errors.Is(intro.Err, boom) {
		t.Errorf("unexpected introduction fallback: %+v", intro)
	}
	resp := engine.GenerateResponse(ctx, "tell me more", "CA1", nil)
	if !resp.Fallback || resp.Text != FallbackResponse {
		t.Errorf("unexpected response fallback: %+v", resp)
	}
	closing := engine.GenerateClosing(ctx, "CA1", nil)
	if !closing.Fallback || closing.Text != FallbackClosing || !strings.Contains(closing.Text, "15% discount") {
		t.Errorf("unexpected closing fallback: %+v", closing)
	}

	after := convs.Load(ctx, "CA1", nil)
	if len(after) != len(before) {
		t.Fatalf("failed turns mutated history: %d -> %d", len(before), len(after))
	}
	for i := range before {
		if after[i] != before[i] {
			t.Errorf("message %d changed: %+v -> %+v", i, before[i], after[i])
		}
	}
	if convs.Exists(ctx, "CA2") {
		t.Error("unexpected record")
	}
	engine.GenerateIntroduction(ctx, "CA2", nil)
	if convs.Exists(ctx, "CA2") {
		t.Error("failed introduction must not create a record")
	}
}

func TestFallbackIntroductionUsesPersona(t *testing.T) {
	assembler := prompt.NewAssembler(prompt.Persona{AgentName: "Sam", CompanyName: "Acme"})
	engine := NewEngine(nil, assembler, nil)
	if got := engine.FallbackIntroduction(); got != "Hello, this is Sam from Acme. How can I help you today?" {
		t.Errorf("unexpected fallback: %q", got)
	}
}

func TestConcurrentResponsesOnSameCall(t *testing.T) {
	ctx := context.Background()
	engine, convs := newTestEngine(t, genai.NewMockClient("sure"))
	engine.GenerateIntroduction(ctx, "CA1", nil)

	const turns = 10
	var wg sync.WaitGroup
	for i := 0; i < turns; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			engine.GenerateResponse(ctx, "tell me more", "CA1", nil)
		}()
	}
	wg.Wait()
	if got := len(convs.Load(ctx, "CA1", nil)); got != 2+turns*2 {
		t.Errorf("expected %d messages, got %d (lost updates)", 2+turns*2, got)
	}
}

func TestHistory(t *testing.T) {
	ctx := context.Background()
	engine, _ := newTestEngine(t, genai.NewMockClient("Hi!"))
	engine.GenerateIntroduction(ctx, "CA1", nil)
	if got := engine.History(ctx, "CA1", nil); len(got) != 2 {
		t.Errorf("expected 2 messages, got %d", len(got))
	}
}
