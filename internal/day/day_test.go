package day

import (
	"testing"
	"time"
)

func TestKey(t *testing.T) {
	ts := time.Date(2025, time.March, 7, 23, 59, 0, 0, time.UTC)
	if got := Key(ts); got != "2025-03-07" {
		t.Fatalf("Key() = %q, want 2025-03-07", got)
	}
}

func TestValid(t *testing.T) {
	cases := []struct {
		in string
		ok bool
	}{
		{"2025-03-07", true},
		{"2025-3-7", false},
		{"07-03-2025", false},
		{"", false},
		{"not-a-date", false},
	}
	for _, tt := range cases {
		if got := Valid(tt.in); got != tt.ok {
			t.Fatalf("Valid(%q) = %v, want %v", tt.in, got, tt.ok)
		}
	}
}
