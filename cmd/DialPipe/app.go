package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/mdp/qrterminal/v3"

	"github.com/BTreeMap/DialPipe/internal/api"
	"github.com/BTreeMap/DialPipe/internal/callstate"
	"github.com/BTreeMap/DialPipe/internal/conversation"
	"github.com/BTreeMap/DialPipe/internal/dialer"
	"github.com/BTreeMap/DialPipe/internal/dialogue"
	"github.com/BTreeMap/DialPipe/internal/genai"
	"github.com/BTreeMap/DialPipe/internal/lockfile"
	"github.com/BTreeMap/DialPipe/internal/models"
	"github.com/BTreeMap/DialPipe/internal/profile"
	"github.com/BTreeMap/DialPipe/internal/prompt"
	"github.com/BTreeMap/DialPipe/internal/store"
	"github.com/BTreeMap/DialPipe/internal/telephony"
	"github.com/BTreeMap/DialPipe/internal/tunnel"
	"github.com/BTreeMap/DialPipe/internal/upload"
)

// run wires the components for the selected mode and blocks until the mode finishes or ctx is cancelled.
func run(ctx context.Context, config Config, flags Flags, in io.Reader, out io.Writer) error {
	lock, err := lockfile.Acquire(flags.stateDir, lockfile.Owner{Mode: flags.mode, Addr: ":" + strconv.Itoa(flags.port)})
	if err != nil {
		return err
	}
	defer lock.Release()

	backend, err := store.New(buildStoreOptions(flags)...)
	if err != nil {
		return fmt.Errorf("failed to open conversation store: %w", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			slog.Warn("run: failed to close store", "error", err)
		}
	}()

	completer, err := genai.NewClient(buildGenAIOptions(config, flags)...)
	if err != nil {
		return fmt.Errorf("failed to create completion client: %w", err)
	}

	engine, convs := newEngine(backend, completer, config)
	if flags.reset {
		if err := convs.Reset(ctx, conversation.DefaultSessionID); err != nil {
			slog.Warn("run: failed to reset conversation", "error", err)
		} else {
			slog.Info("run: default conversation reset")
		}
	}

	if flags.mode == ModeChat {
		return runChat(ctx, engine, profile.Demo(), in, out)
	}
	return serve(ctx, config, flags, engine, convs, out)
}

// newEngine assembles the dialogue engine over a store backend.
func newEngine(backend store.Store, completer genai.ClientInterface, config Config) (*dialogue.Engine, *conversation.Store) {
	assembler := prompt.NewAssembler(prompt.Persona{AgentName: config.AgentName, CompanyName: config.CompanyName})
	convs := conversation.NewStore(backend, assembler, conversation.WithSanitizer(prompt.StripHesitationGuidance))
	return dialogue.NewEngine(convs, assembler, completer), convs
}

// buildProvisioner returns a static provisioner when a public URL is configured, else an ngrok tunnel.
// caller may be nil, in which case number webhooks are left alone.
func buildProvisioner(publicURL string, port int, caller telephony.Caller) tunnel.Provisioner {
	if strings.TrimSpace(publicURL) != "" {
		slog.Debug("buildProvisioner: using static public URL", "url", publicURL)
		return tunnel.NewStatic(publicURL, caller)
	}
	var opts []tunnel.Option
	if caller != nil {
		opts = append(opts, tunnel.WithWebhooks(caller))
	}
	slog.Debug("buildProvisioner: using ngrok", "port", port)
	return tunnel.NewNgrok(port, opts...)
}

// serve runs the webhook server, provisions the public URL and, in outbound mode, dials the prospects.
func serve(ctx context.Context, config Config, flags Flags, engine *dialogue.Engine, convs *conversation.Store, out io.Writer) error {
	var caller telephony.Caller
	client, err := telephony.NewClient(buildTelephonyOptions(config)...)
	switch {
	case err == nil:
		caller = client
	case flags.mode == ModeOutbound:
		return fmt.Errorf("outbound mode needs Twilio credentials: %w", err)
	default:
		slog.Warn("serve: Twilio client unavailable, outbound calls and webhook updates disabled", "error", err)
	}

	directory := profile.NewDirectory(profile.DefaultTTL, profile.WithFallback(profile.Demo()))
	provisioner := buildProvisioner(flags.publicURL, flags.port, caller)
	defer provisioner.Close()

	opts := append(buildAPIOptions(config, flags),
		api.WithProfiles(directory),
		api.WithCallTracker(callstate.NewTracker(callstate.DefaultTTL)),
		api.WithTunnel(provisioner),
		api.WithUploader(upload.NewUploader(upload.WithBackendURL(config.BackendURL))),
		api.WithHealthCheck(convs),
	)
	var initiator *dialer.Initiator
	if caller != nil {
		initiator = dialer.NewInitiator(caller, dialer.WithDelay(config.CallDelay), dialer.WithRegistry(directory))
		opts = append(opts, api.WithInitiator(initiator))
	}
	server := api.NewServer(engine, opts...)
	slog.Info("serve: starting webhook server", "addr", server.Addr(), "mode", flags.mode)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	serverErr := make(chan error, 1)
	go func() { serverErr <- server.Run(ctx) }()

	baseURL, err := provisioner.PublicURL(ctx)
	if err != nil {
		cancel()
		<-serverErr
		return fmt.Errorf("tunnel provisioning failed: %w", err)
	}
	slog.Info("serve: webhooks reachable", "public_url", baseURL,
		"voice", baseURL+telephony.VoicePath, "status", baseURL+telephony.CallStatusPath)
	if flags.printQR {
		printTriggerQR(out, baseURL)
	}

	if flags.mode == ModeOutbound {
		prospects, err := outboundProspects(flags)
		if err != nil {
			cancel()
			<-serverErr
			return err
		}
		res := initiator.DialBatch(ctx, prospects, baseURL)
		slog.Info("serve: outbound batch done, serving webhooks until interrupted",
			"placed", len(res.Placed), "skipped", res.Skipped, "failed", res.Failed)
	}

	err = <-serverErr
	if err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// outboundProspects returns the prospects named by --call and --prospects-file. A --call number gets the
// demo profile.
func outboundProspects(flags Flags) ([]models.Prospect, error) {
	var prospects []models.Prospect
	if flags.call != "" {
		prospects = append(prospects, models.Prospect{Phone: flags.call, UserInfo: profile.Demo()})
	}
	if flags.prospectsFile != "" {
		loaded, err := dialer.LoadProspects(flags.prospectsFile)
		if err != nil {
			return nil, err
		}
		prospects = append(prospects, loaded...)
	}
	return prospects, nil
}

// printTriggerQR renders the public trigger URL so it can be opened from a phone.
func printTriggerQR(out io.Writer, baseURL string) {
	triggerURL := baseURL + "/trigger-call"
	fmt.Fprintf(out, "Trigger URL: %s?phone=<E.164 number>\n", triggerURL)
	qrterminal.GenerateHalfBlock(triggerURL, qrterminal.L, out)
}
