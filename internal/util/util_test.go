package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	cases := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"", false, false},
		{"true", false, true},
		{"1", false, true},
		{"YES", false, true},
		{"on", false, true},
		{"false", true, false},
		{"0", true, false},
		{"no", true, false},
		{"OFF", true, false},
		{"banana", true, true},
		{"banana", false, false},
	}
	for _, tc := range cases {
		t.Setenv("TEST_BOOL_ENV", tc.value)
		if got := ParseBoolEnv("TEST_BOOL_ENV", tc.def); got != tc.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tc.value, tc.def, got, tc.want)
		}
	}
}

func TestParseIntEnv(t *testing.T) {
	t.Setenv("TEST_INT_ENV", "42")
	if got := ParseIntEnv("TEST_INT_ENV", 7); got != 42 {
		t.Errorf("expected 42, got %d", got)
	}
	t.Setenv("TEST_INT_ENV", "not a number")
	if got := ParseIntEnv("TEST_INT_ENV", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
	t.Setenv("TEST_INT_ENV", "")
	if got := ParseIntEnv("TEST_INT_ENV", 7); got != 7 {
		t.Errorf("expected default 7, got %d", got)
	}
}

func TestParseDurationEnv(t *testing.T) {
	t.Setenv("TEST_DUR_ENV", "45m")
	if got := ParseDurationEnv("TEST_DUR_ENV", time.Minute); got != 45*time.Minute {
		t.Errorf("expected 45m, got %v", got)
	}
	t.Setenv("TEST_DUR_ENV", "soon")
	if got := ParseDurationEnv("TEST_DUR_ENV", time.Minute); got != time.Minute {
		t.Errorf("expected default 1m, got %v", got)
	}
}

func TestGenerateRandomID(t *testing.T) {
	id := GenerateRandomID("x_", 16)
	if len(id) != 18 {
		t.Errorf("expected length 18, got %d (%q)", len(id), id)
	}
	if id[:2] != "x_" {
		t.Errorf("expected x_ prefix, got %q", id)
	}
}

func TestGenerateRandomHexUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		hex := GenerateRandomHex(32)
		if seen[hex] {
			t.Fatalf("duplicate hex generated: %s", hex)
		}
		seen[hex] = true
		for _, c := range hex {
			if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f')) {
				t.Fatalf("invalid hex character %q in %s", c, hex)
			}
		}
	}
}

func TestDomainIDPrefixes(t *testing.T) {
	if id := GenerateHomeworkID(); len(id) != 35 || id[:3] != "hw_" {
		t.Errorf("unexpected homework ID %q", id)
	}
	if id := GeneratePaymentID(); len(id) != 36 || id[:4] != "pay_" {
		t.Errorf("unexpected payment ID %q", id)
	}
}
