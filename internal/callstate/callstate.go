// Package callstate tracks where each live call is in the webhook state machine.
package callstate

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/patrickmn/go-cache"
)

// State is a call's position in the webhook flow.
type State string

const (
	StateUnknown    State = ""
	StateRinging    State = "RINGING"
	StateGreeting   State = "GREETING"
	StateGathering  State = "GATHERING"
	StateProcessing State = "PROCESSING"
	StateEnded      State = "ENDED"
)

// Defaults for how long call states are remembered.
const (
	DefaultTTL             = 6 * time.Hour
	DefaultCleanupInterval = 15 * time.Minute
)

// Tracker remembers call states for a while after the last event. ENDED is sticky: once a call has
// ended, no transition leaves that state.
type Tracker struct {
	mu     sync.Mutex
	states *cache.Cache
	claims *cache.Cache
}

// NewTracker creates a Tracker whose entries expire ttl after their last update.
func NewTracker(ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{
		states: cache.New(ttl, DefaultCleanupInterval),
		claims: cache.New(ttl, DefaultCleanupInterval),
	}
}

// Get returns the current state of a call.
func (t *Tracker) Get(callSID string) State {
	v, ok := t.states.Get(key(callSID))
	if !ok {
		return StateUnknown
	}
	return v.(State)
}

// Transition moves a call to next. It returns false, leaving the state unchanged, when the call has
// already ended.
func (t *Tracker) Transition(callSID string, next State) bool {
	k := key(callSID)
	t.mu.Lock()
	defer t.mu.Unlock()

	prev := StateUnknown
	if v, ok := t.states.Get(k); ok {
		prev = v.(State)
	}
	if prev == StateEnded {
		slog.Debug("Tracker.Transition: call already ended", "call_sid", callSID, "requested", next)
		return false
	}
	t.states.SetDefault(k, next)
	slog.Debug("Tracker.Transition", "call_sid", callSID, "from", prev, "to", next)
	return true
}

// End marks a call ENDED. It returns true only for the first call to End.
func (t *Tracker) End(callSID string) bool {
	return t.Transition(callSID, StateEnded)
}

// IsEnded reports whether a call has ended.
func (t *Tracker) IsEnded(callSID string) bool {
	return t.Get(callSID) == StateEnded
}

// Active returns the number of tracked calls that have not ended.
func (t *Tracker) Active() int {
	n := 0
	for _, item := range t.states.Items() {
		if s, ok := item.Object.(State); ok && s != StateEnded {
			n++
		}
	}
	return n
}

// Claim reports whether this is the first claim of action for a call. It lets handlers run one-off
// side effects, such as the history upload, exactly once per call.
func (t *Tracker) Claim(callSID, action string) bool {
	err := t.claims.Add(key(callSID)+"|"+action, struct{}{}, cache.DefaultExpiration)
	return err == nil
}

func key(callSID string) string {
	return strings.TrimSpace(callSID)
}
