package util

import (
	"testing"
	"time"
)

func TestEnvOr(t *testing.T) {
	t.Setenv("DIALPIPE_TEST_A", "")
	t.Setenv("DIALPIPE_TEST_B", "  second ")
	if got := EnvOr("def", "DIALPIPE_TEST_A", "DIALPIPE_TEST_B"); got != "second" {
		t.Errorf("expected second, got %q", got)
	}
	if got := EnvOr("def", "DIALPIPE_TEST_A"); got != "def" {
		t.Errorf("expected default, got %q", got)
	}
}

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("DIALPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("DIALPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	tests := []struct {
		value string
		want  int
	}{
		{"", 5000},
		{"8080", 8080},
		{" 42 ", 42},
		{"eighty", 5000},
	}
	for _, tt := range tests {
		t.Setenv("DIALPIPE_TEST_INT", tt.value)
		if got := ParseIntEnv("DIALPIPE_TEST_INT", 5000); got != tt.want {
			t.Errorf("ParseIntEnv(%q) = %d, want %d", tt.value, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 3 * time.Second},
		{"10", 10 * time.Second},
		{"1m30s", 90 * time.Second},
		{"-5s", 3 * time.Second},
		{"soon", 3 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("DIALPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("DIALPIPE_TEST_DURATION", 3*time.Second); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}
