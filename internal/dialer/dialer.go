// Package dialer places outbound sales calls, one at a time or from a prospect list.
package dialer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/BTreeMap/DialPipe/internal/models"
	"github.com/BTreeMap/DialPipe/internal/telephony"
)

// DefaultCallDelay is the pause between consecutive calls of a batch.
const DefaultCallDelay = 3 * time.Second

// ErrInvalidPhone is returned for numbers that are not E.164.
var ErrInvalidPhone = errors.New("phone number must be in E.164 format")

// Registry receives the profile of each outbound call so the voice webhook can personalize it.
type Registry interface {
	RegisterPhone(phone string, p *models.CallerProfile)
	RegisterCall(callSID string, p *models.CallerProfile)
}

// Opts holds configuration options for the Initiator.
type Opts struct {
	Delay    time.Duration
	Registry Registry
}

// Option defines a configuration option for the Initiator.
type Option func(*Opts)

// WithDelay sets the pause between batch calls.
func WithDelay(d time.Duration) Option {
	return func(o *Opts) { o.Delay = d }
}

// WithRegistry sets where outbound profiles are registered.
func WithRegistry(r Registry) Option {
	return func(o *Opts) { o.Registry = r }
}

// Initiator places outbound calls.
type Initiator struct {
	caller   telephony.Caller
	delay    time.Duration
	registry Registry
	validate *validator.Validate
}

// NewInitiator creates an Initiator that dials through caller.
func NewInitiator(caller telephony.Caller, opts ...Option) *Initiator {
	cfg := Opts{Delay: DefaultCallDelay}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Initiator{
		caller:   caller,
		delay:    cfg.Delay,
		registry: cfg.Registry,
		validate: validator.New(),
	}
}

// ValidatePhone checks that number is E.164. PlaceCall does not require it; the provider has the final say.
func (i *Initiator) ValidatePhone(number string) error {
	if err := i.validate.Var(number, "required,e164"); err != nil {
		return fmt.Errorf("%w: %q", ErrInvalidPhone, number)
	}
	return nil
}

// PlaceCall dials number with the webhooks under baseURL and returns the call SID. Failures are logged
// and returned; the empty SID accompanies every error.
func (i *Initiator) PlaceCall(ctx context.Context, number, baseURL string, profile *models.CallerProfile) (string, error) {
	number = strings.TrimSpace(number)
	if number == "" {
		slog.Warn("Initiator.PlaceCall: no phone number")
		return "", models.ErrEmptyPhone
	}
	if i.registry != nil && profile != nil {
		i.registry.RegisterPhone(number, profile)
	}
	sid, err := i.caller.PlaceCall(ctx, number, baseURL)
	if err != nil {
		slog.Error("Initiator.PlaceCall: call failed", "number", number, "error", err)
		return "", err
	}
	if i.registry != nil && profile != nil {
		i.registry.RegisterCall(sid, profile)
	}
	slog.Info("Initiator.PlaceCall: call initiated", "number", number, "call_sid", sid)
	return sid, nil
}

// BatchResult summarizes a DialBatch run.
type BatchResult struct {
	Placed  []string // call SIDs in dialing order
	Skipped int      // prospects without a phone number
	Failed  int      // placements rejected by the provider
}

// DialBatch dials prospects sequentially with the configured delay between calls. Prospects without a
// number are skipped and failures, including numbers the provider rejects, do not stop the batch.
// Cancelling ctx stops before the next call.
func (i *Initiator) DialBatch(ctx context.Context, prospects []models.Prospect, baseURL string) BatchResult {
	var res BatchResult
	dialed := 0
	for idx, p := range prospects {
		phone := strings.TrimSpace(p.Phone)
		if phone == "" {
			slog.Warn("Initiator.DialBatch: skipping prospect without phone number", "index", idx)
			res.Skipped++
			continue
		}

		if dialed > 0 && i.delay > 0 {
			timer := time.NewTimer(i.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				slog.Info("Initiator.DialBatch: cancelled", "placed", len(res.Placed), "remaining", len(prospects)-idx)
				return res
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return res
		}
		dialed++

		slog.Info("Initiator.DialBatch: calling prospect", "index", idx, "phone", phone)
		sid, err := i.PlaceCall(ctx, phone, baseURL, p.UserInfo)
		if err != nil {
			res.Failed++
			continue
		}
		res.Placed = append(res.Placed, sid)
	}
	slog.Info("Initiator.DialBatch: batch finished", "placed", len(res.Placed), "skipped", res.Skipped, "failed", res.Failed)
	return res
}

// LoadProspects reads a JSON array of {"phone", "user_info"} objects.
func LoadProspects(path string) ([]models.Prospect, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prospects file: %w", err)
	}
	var prospects []models.Prospect
	if err := json.Unmarshal(data, &prospects); err != nil {
		return nil, fmt.Errorf("failed to parse prospects file %s: %w", path, err)
	}
	slog.Debug("LoadProspects: prospects loaded", "path", path, "count", len(prospects))
	return prospects, nil
}
