package domain

import (
	"testing"
	"time"
)

func TestDaysUntil(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name string
		t    time.Time
		want int
	}{
		{"same instant", now, 0},
		{"one hour ahead rounds up", now.Add(time.Hour), 1},
		{"exactly ten days", now.Add(10 * 24 * time.Hour), 10},
		{"ten days and a minute", now.Add(10*24*time.Hour + time.Minute), 11},
		{"one day behind", now.Add(-24 * time.Hour), -1},
		{"half a day behind", now.Add(-12 * time.Hour), 0},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := DaysUntil(now, tc.t); got != tc.want {
				t.Errorf("DaysUntil() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestDisplayName(t *testing.T) {
	p := &UserProfile{FullName: "Saif Alotaibi"}
	if got := p.DisplayName(); got != "Saif" {
		t.Errorf("DisplayName() = %q, want %q", got, "Saif")
	}
	var nilProfile *UserProfile
	if got := nilProfile.DisplayName(); got != "" {
		t.Errorf("nil DisplayName() = %q, want empty", got)
	}
}
