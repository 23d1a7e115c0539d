package profile

import (
	"testing"
	"time"

	"github.com/BTreeMap/DialPipe/internal/models"
)

func TestLookupFallsBackToDemo(t *testing.T) {
	d := NewDirectory(time.Minute)
	p := d.Lookup("CA1", "+15551234567")
	if p == nil || p.Name != "Michael" || p.AgeGroup != "30-45" {
		t.Fatalf("expected demo profile, got %+v", p)
	}
	p.Name = "changed"
	if d.Lookup("CA1").Name != "Michael" {
		t.Error("fallback was mutated through a returned copy")
	}
}

func TestLookupWithNilFallback(t *testing.T) {
	d := NewDirectory(time.Minute, WithFallback(nil))
	if p := d.Lookup("CA1"); p != nil {
		t.Errorf("expected nil profile, got %+v", p)
	}
}

func TestRegisterPhoneThenLookupPinsCall(t *testing.T) {
	d := NewDirectory(time.Minute)
	dana := &models.CallerProfile{Name: "Dana", Interests: "Gaming"}
	d.RegisterPhone("+1 (555) 000-1111", dana)

	got := d.Lookup("CA9", "+15550001111")
	if got.Name != "Dana" {
		t.Fatalf("expected Dana via phone, got %+v", got)
	}
	// Later turns carry only the call SID.
	if again := d.Lookup("CA9"); again.Name != "Dana" {
		t.Errorf("expected call to be pinned to Dana, got %+v", again)
	}
}

func TestCallSIDWinsOverPhone(t *testing.T) {
	d := NewDirectory(time.Minute)
	d.RegisterPhone("+15550001111", &models.CallerProfile{Name: "ByPhone"})
	d.RegisterCall("CA1", &models.CallerProfile{Name: "BySID"})
	if got := d.Lookup("CA1", "+15550001111"); got.Name != "BySID" {
		t.Errorf("expected SID registration to win, got %s", got.Name)
	}
}

func TestRegisterIgnoresBlankInput(t *testing.T) {
	d := NewDirectory(time.Minute)
	d.RegisterPhone("", &models.CallerProfile{Name: "x"})
	d.RegisterPhone("+1555", nil)
	d.RegisterCall("  ", &models.CallerProfile{Name: "x"})
	d.RegisterCall("CA1", &models.CallerProfile{Name: "  "})
	d.RegisterPhone("+15550001111", &models.CallerProfile{})
	if d.entries.ItemCount() != 0 {
		t.Errorf("expected no registrations, got %d", d.entries.ItemCount())
	}
}

func TestEmptyProfileDoesNotShadowFallback(t *testing.T) {
	d := NewDirectory(time.Minute)
	d.RegisterPhone("+15550001111", &models.CallerProfile{})
	if got := d.Lookup("CA1", "+15550001111"); got == nil || got.Name != "Michael" {
		t.Errorf("expected fallback profile, got %+v", got)
	}
}

func TestRegistrationsExpire(t *testing.T) {
	d := NewDirectory(20 * time.Millisecond)
	d.RegisterCall("CA1", &models.CallerProfile{Name: "Dana"})
	time.Sleep(50 * time.Millisecond)
	if got := d.Lookup("CA1"); got.Name != "Michael" {
		t.Errorf("expected expired registration, got %s", got.Name)
	}
}

func TestForget(t *testing.T) {
	d := NewDirectory(time.Minute)
	d.RegisterPhone("+15550001111", &models.CallerProfile{Name: "Dana"})
	d.RegisterCall("CA1", &models.CallerProfile{Name: "Dana"})
	d.Forget("CA1", "+15550001111")
	if d.entries.ItemCount() != 0 {
		t.Errorf("expected registrations removed, got %d", d.entries.ItemCount())
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := map[string]string{
		"+1 (555) 000-1111": "+15550001111",
		" 5550001111 ":      "5550001111",
		"1+2":               "12",
		"":                  "",
	}
	for in, want := range tests {
		if got := normalizePhone(in); got != want {
			t.Errorf("normalizePhone(%q) = %q, want %q", in, got, want)
		}
	}
}
