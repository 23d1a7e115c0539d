// Package profile resolves the caller profile used to personalize a call.
//
// There is no CRM behind it. Profiles registered for an outbound call (by call identifier or by phone
// number) are returned first; everything else receives the built-in demo profile.
package profile

import (
	"log/slog"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/BTreeMap/DialPipe/internal/models"
)

// Registration lifetimes.
const (
	DefaultTTL             = 2 * time.Hour
	DefaultCleanupInterval = 10 * time.Minute
)

// Demo returns the built-in stub profile.
func Demo() *models.CallerProfile {
	return &models.CallerProfile{
		Name:              "Michael",
		LastVisitDate:     "April 10, 2025",
		ProductsViewed:    "Smart Home Hub, Voice Assistant Speaker",
		PreviousPurchases: "Annual Premium Subscription (expired last month)",
		Interests:         "Home automation, Music streaming, Productivity apps",
		AgeGroup:          "30-45",
		DeviceUsage:       "Smartphone, Laptop, Smart TV",
	}
}

// Directory holds short-lived profile registrations.
type Directory struct {
	entries  *cache.Cache
	fallback *models.CallerProfile
}

// Option configures a Directory.
type Option func(*Directory)

// WithFallback sets the profile returned when nothing is registered. nil means "no profile".
func WithFallback(p *models.CallerProfile) Option {
	return func(d *Directory) { d.fallback = p }
}

// NewDirectory creates a Directory whose registrations expire after ttl.
func NewDirectory(ttl time.Duration, opts ...Option) *Directory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	d := &Directory{
		entries:  cache.New(ttl, DefaultCleanupInterval),
		fallback: Demo(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func sidKey(callSID string) string { return "sid:" + strings.TrimSpace(callSID) }

func phoneKey(phone string) string { return "phone:" + normalizePhone(phone) }

// normalizePhone keeps a leading plus and the digits.
func normalizePhone(phone string) string {
	var b strings.Builder
	for i, r := range strings.TrimSpace(phone) {
		if (r >= '0' && r <= '9') || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// RegisterPhone associates a profile with a phone number. Profiles with no known field are ignored.
func (d *Directory) RegisterPhone(phone string, p *models.CallerProfile) {
	if p.IsEmpty() || normalizePhone(phone) == "" {
		return
	}
	d.entries.SetDefault(phoneKey(phone), p.Clone())
	slog.Debug("Directory.RegisterPhone: profile registered", "phone", phone)
}

// RegisterCall associates a profile with a call identifier.
func (d *Directory) RegisterCall(callSID string, p *models.CallerProfile) {
	if p.IsEmpty() || strings.TrimSpace(callSID) == "" {
		return
	}
	d.entries.SetDefault(sidKey(callSID), p.Clone())
	slog.Debug("Directory.RegisterCall: profile registered", "call_sid", callSID)
}

// Lookup returns the profile for a call. The call identifier wins over the phone numbers, which are
// tried in order. Returns a copy of the fallback when nothing matches.
func (d *Directory) Lookup(callSID string, phones ...string) *models.CallerProfile {
	if strings.TrimSpace(callSID) != "" {
		if v, ok := d.entries.Get(sidKey(callSID)); ok {
			return v.(*models.CallerProfile).Clone()
		}
	}
	for _, phone := range phones {
		if normalizePhone(phone) == "" {
			continue
		}
		if v, ok := d.entries.Get(phoneKey(phone)); ok {
			p := v.(*models.CallerProfile)
			// pin the profile to the call so later turns see the same caller
			d.RegisterCall(callSID, p)
			return p.Clone()
		}
	}
	return d.fallback.Clone()
}

// Forget drops the registrations for a call.
func (d *Directory) Forget(callSID string, phones ...string) {
	d.entries.Delete(sidKey(callSID))
	for _, phone := range phones {
		d.entries.Delete(phoneKey(phone))
	}
}
