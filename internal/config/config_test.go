package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("AUTH_ALLOW_USER_HEADER", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.MaxSteps != 5 {
		t.Errorf("MaxSteps = %d, want 5", cfg.LLM.MaxSteps)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("Temperature = %v, want 0.2", cfg.LLM.Temperature)
	}
	if cfg.Proactive.CacheTTL != 15*time.Minute {
		t.Errorf("CacheTTL = %v, want 15m", cfg.Proactive.CacheTTL)
	}
	if cfg.Proactive.SweepInterval != 10*time.Minute {
		t.Errorf("SweepInterval = %v, want 10m", cfg.Proactive.SweepInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("AUTH_ALLOW_USER_HEADER", "yes")
	t.Setenv("AGENT_MAX_STEPS", "8")
	t.Setenv("PROACTIVE_CACHE_TTL", "5m")
	t.Setenv("LLM_TEMPERATURE", "not-a-number")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.MaxSteps != 8 {
		t.Errorf("MaxSteps = %d, want 8", cfg.LLM.MaxSteps)
	}
	if cfg.Proactive.CacheTTL != 5*time.Minute {
		t.Errorf("CacheTTL = %v, want 5m", cfg.Proactive.CacheTTL)
	}
	if cfg.LLM.Temperature != 0.2 {
		t.Errorf("invalid temperature should fall back to default, got %v", cfg.LLM.Temperature)
	}
}

func TestValidateRejectsSingleStep(t *testing.T) {
	for _, steps := range []string{"0", "1"} {
		t.Run("steps="+steps, func(t *testing.T) {
			t.Setenv("AUTH_ALLOW_USER_HEADER", "true")
			t.Setenv("AGENT_MAX_STEPS", steps)

			_, err := Load()
			if err == nil || !strings.Contains(err.Error(), "AGENT_MAX_STEPS") {
				t.Errorf("expected AGENT_MAX_STEPS error, got %v", err)
			}
		})
	}
}

func TestValidateRequiresAuth(t *testing.T) {
	t.Setenv("AUTH_ALLOW_USER_HEADER", "false")
	t.Setenv("JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when neither JWT_SECRET nor header auth is configured")
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"", true},
		{"http://localhost:5173", true},
		{"https://portal.example.gov", false},
	}
	for _, tt := range tests {
		c := &Config{FrontendURL: tt.url}
		if got := c.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}
