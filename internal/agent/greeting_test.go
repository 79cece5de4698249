package agent

import (
	"context"
	"testing"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/proactive"
	"github.com/ashureev/portal-agent/internal/store"
)

func TestGreetingSuggestionsFollowPreferredLanguage(t *testing.T) {
	tests := []struct {
		language string
		want     string
	}{
		{"ar", "جدد عقد العمل"},
		{"en", "Renew your employment contract"},
		{"", "Renew your employment contract"},
	}
	for _, tt := range tests {
		t.Run("lang="+tt.language, func(t *testing.T) {
			f := newFixture(t)
			f.insert(t, store.UserProfiles, &domain.UserProfile{UserID: "u1", FullName: "Sara Al-Harbi", PreferredLanguage: tt.language})
			f.deps.Proactive = staticContext{entry: proactive.Entry{Events: []domain.ProactiveEvent{
				{EventType: domain.EventContractExpiringSoon, SuggestedAction: "Contract with Acme ends in 10 days."},
			}}}

			g, err := NewGreeter(f.deps, Config{}).Greet(context.Background(), "u1")
			if err != nil {
				t.Fatalf("Greet() error = %v", err)
			}
			if len(g.Suggestions) == 0 || g.Suggestions[0] != tt.want {
				t.Errorf("suggestions = %v, want first %q", g.Suggestions, tt.want)
			}
		})
	}
}

func TestGreetRequiresUser(t *testing.T) {
	f := newFixture(t)
	if _, err := NewGreeter(f.deps, Config{}).Greet(context.Background(), ""); err == nil {
		t.Error("expected an error for an empty user id")
	}
}
