package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/fatih/color"
	"github.com/google/uuid"

	"github.com/BTreeMap/DialPipe/internal/dialogue"
	"github.com/BTreeMap/DialPipe/internal/models"
	"github.com/BTreeMap/DialPipe/internal/signals"
)

// chatEngine is the part of the dialogue engine the REPL drives.
type chatEngine interface {
	GenerateIntroduction(ctx context.Context, sessionID string, profile *models.CallerProfile) dialogue.Reply
	GenerateResponse(ctx context.Context, input, sessionID string, profile *models.CallerProfile) dialogue.Reply
	GenerateClosing(ctx context.Context, sessionID string, profile *models.CallerProfile) dialogue.Reply
}

var (
	agentColor  = color.New(color.FgCyan, color.Bold)
	promptColor = color.New(color.FgGreen)
	noticeColor = color.New(color.FgYellow)
)

// newChatSessionID returns a synthetic call identifier that cannot collide with Twilio's CA... SIDs.
func newChatSessionID() string {
	return "TEST_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}

// runChat holds a text conversation with the engine on in/out, the same way a call would go, until the
// user says goodbye, input ends or ctx is cancelled.
func runChat(ctx context.Context, engine chatEngine, profile *models.CallerProfile, in io.Reader, out io.Writer) error {
	sid := newChatSessionID()
	slog.Info("runChat: starting local conversation", "session_id", sid)
	noticeColor.Fprintf(out, "Local chat session %s. Say goodbye to end.\n\n", sid)

	intro := engine.GenerateIntroduction(ctx, sid, profile)
	agentColor.Fprintf(out, "Agent: ")
	fmt.Fprintln(out, intro.Text)

	scanner := bufio.NewScanner(in)
	for {
		if ctx.Err() != nil {
			return nil
		}
		promptColor.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return fmt.Errorf("reading input: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		}
		input := strings.TrimSpace(scanner.Text())
		if input == "" {
			continue
		}

		if signals.DetectsEnd(input) {
			closing := engine.GenerateClosing(ctx, sid, profile)
			agentColor.Fprintf(out, "Agent: ")
			fmt.Fprintln(out, closing.Text)
			noticeColor.Fprintln(out, "\nConversation ended.")
			return nil
		}

		reply := engine.GenerateResponse(ctx, input, sid, profile)
		agentColor.Fprintf(out, "Agent: ")
		fmt.Fprintln(out, reply.Text)
	}
}
