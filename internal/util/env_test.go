package util

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

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
		t.Setenv("TRIPPIPE_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("TRIPPIPE_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", time.Minute},
		{"45s", 45 * time.Second},
		{"24h", 24 * time.Hour},
		{"-5s", time.Minute},
		{"soon", time.Minute},
	}
	for _, tt := range tests {
		t.Setenv("TRIPPIPE_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("TRIPPIPE_TEST_DURATION", time.Minute); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestParseFloatEnv(t *testing.T) {
	t.Setenv("TRIPPIPE_TEST_FLOAT", "0.5")
	if got := ParseFloatEnv("TRIPPIPE_TEST_FLOAT", 1); got != 0.5 {
		t.Errorf("got %v", got)
	}
	t.Setenv("TRIPPIPE_TEST_FLOAT", "abc")
	if got := ParseFloatEnv("TRIPPIPE_TEST_FLOAT", 1); got != 1 {
		t.Errorf("invalid value should use default, got %v", got)
	}
}

func TestGetEnv(t *testing.T) {
	t.Setenv("TRIPPIPE_TEST_STRING", "  ")
	if got := GetEnv("TRIPPIPE_TEST_STRING", "fallback"); got != "fallback" {
		t.Errorf("blank value should use default, got %q", got)
	}
	t.Setenv("TRIPPIPE_TEST_STRING", "telegram")
	if got := GetEnv("TRIPPIPE_TEST_STRING", "fallback"); got != "telegram" {
		t.Errorf("got %q", got)
	}
}

func TestNewEventID(t *testing.T) {
	a, b := NewEventID(), NewEventID()
	if a == b {
		t.Error("event IDs should be unique")
	}
	if _, err := uuid.Parse(a); err != nil {
		t.Errorf("event ID should be a UUID: %v", err)
	}
}
