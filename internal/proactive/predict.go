package proactive

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/store"
	"gopkg.in/yaml.v3"
)

//go:embed topics.yaml
var topicsYAML []byte

// Topic maps keywords to an interest area.
type Topic struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

// LoadTopics parses a keyword table.
func LoadTopics(data []byte) ([]Topic, error) {
	var doc struct {
		Topics []Topic `yaml:"topics"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse topics: %w", err)
	}
	return doc.Topics, nil
}

// LoadTopicsFile reads a keyword table that replaces the embedded one.
func LoadTopicsFile(path string) ([]Topic, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read topics file: %w", err)
	}
	topics, err := LoadTopics(data)
	if err != nil {
		return nil, err
	}
	if len(topics) == 0 {
		return nil, fmt.Errorf("topics file %s defines no topics", path)
	}
	return topics, nil
}

// features is what the rules look at.
type features struct {
	complaints   int
	expiring     *domain.EmploymentContract
	expiringDays int
	active       *domain.EmploymentContract
	certificates int
	appointment  *domain.LaborAppointment
	openTicket   *domain.Ticket
	lastService  string
	topics       []string
}

type outcome struct {
	need       string
	confidence float64
	reasoning  []string
	services   []string
}

// rule is one step of the prediction cascade.
type rule struct {
	name  string
	match func(f *features) bool
	build func(f *features) outcome
}

// rules is evaluated in order; the first match wins.
var rules = []rule{
	{
		name:  "urgent_support",
		match: func(f *features) bool { return f.complaints >= 3 },
		build: func(f *features) outcome {
			return outcome{"urgent_support_needed", 0.95,
				[]string{fmt.Sprintf("User has %d consecutive complaints", f.complaints)},
				[]string{"support_escalation", "complaint_ticket"}}
		},
	},
	{
		name:  "contract_renewal",
		match: func(f *features) bool { return f.expiring != nil },
		build: func(f *features) outcome {
			return outcome{"contract_renewal", 0.85,
				[]string{fmt.Sprintf("Contract with %s expires in %d days", f.expiring.EmployerName, f.expiringDays)},
				[]string{"contract_renewal", "salary_certificate"}}
		},
	},
	{
		name:  "certificate_request",
		match: func(f *features) bool { return f.active != nil },
		build: func(f *features) outcome {
			return outcome{"certificate_request", 0.65,
				[]string{
					fmt.Sprintf("Active contract with %s", f.active.EmployerName),
					fmt.Sprintf("%d certificate(s) issued so far", f.certificates),
				},
				[]string{"salary_certificate", "employment_certificate"}}
		},
	},
	{
		name:  "appointment_preparation",
		match: func(f *features) bool { return f.appointment != nil },
		build: func(f *features) outcome {
			a := f.appointment
			return outcome{"appointment_preparation", 0.80,
				[]string{fmt.Sprintf("Scheduled %s appointment at %s on %s", a.ServiceType, a.Office, a.AppointmentDate.Format("2006-01-02"))},
				[]string{"appointment_details", "appointment_reschedule"}}
		},
	},
	{
		name:  "ticket_follow_up",
		match: func(f *features) bool { return f.openTicket != nil },
		build: func(f *features) outcome {
			return outcome{"ticket_follow_up", 0.75,
				[]string{fmt.Sprintf("Open ticket %s: %s", f.openTicket.TicketNumber, f.openTicket.Title)},
				[]string{"ticket_status"}}
		},
	},
	{
		name:  "frequent_service",
		match: func(f *features) bool { return f.lastService != "" },
		build: func(f *features) outcome {
			return outcome{"frequent_" + f.lastService + "_user", 0.70,
				[]string{"Most recently used service: " + f.lastService},
				serviceSuggestions(f.lastService)}
		},
	},
	{
		name:  "topic_interest",
		match: func(f *features) bool { return len(f.topics) > 0 },
		build: func(f *features) outcome {
			return outcome{"interested_in_" + f.topics[0], 0.60,
				[]string{"Recent messages mention " + strings.Join(f.topics, ", ")},
				append([]string(nil), f.topics...)}
		},
	},
	{
		name:  "general",
		match: func(*features) bool { return true },
		build: func(*features) outcome {
			return outcome{"general_inquiry", 0.5,
				[]string{"No strong signal in recent activity"},
				[]string{"resume_builder", "contract_services", "appointments"}}
		},
	},
}

func serviceSuggestions(service string) []string {
	switch service {
	case "resume":
		return []string{"resume_update", "training_courses"}
	case "contracts":
		return []string{"contract_renewal", "salary_certificate"}
	case "certificates":
		return []string{"salary_certificate", "experience_certificate"}
	case "appointments":
		return []string{"appointment_booking", "appointment_details"}
	case "domestic_labor":
		return []string{"domestic_labor_request", "request_status"}
	case "tickets":
		return []string{"ticket_status", "new_ticket"}
	}
	return []string{service}
}

// Predictor estimates a user's next need from stored records.
type Predictor struct {
	store   store.Store
	actions *actionlog.Logger
	topics  []Topic
	now     func() time.Time
	logger  *slog.Logger
}

// PredictorOption configures a Predictor.
type PredictorOption func(*Predictor)

// WithPredictorClock overrides the clock.
func WithPredictorClock(now func() time.Time) PredictorOption {
	return func(p *Predictor) { p.now = now }
}

// WithTopics replaces the embedded topic table.
func WithTopics(t []Topic) PredictorOption {
	return func(p *Predictor) { p.topics = t }
}

// NewPredictor creates a predictor using the embedded topic table.
func NewPredictor(s store.Store, actions *actionlog.Logger, logger *slog.Logger, opts ...PredictorOption) (*Predictor, error) {
	if logger == nil {
		logger = slog.Default()
	}
	topics, err := LoadTopics(topicsYAML)
	if err != nil {
		return nil, err
	}
	p := &Predictor{store: s, actions: actions, topics: topics, now: time.Now, logger: logger}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// PredictUserNeeds evaluates the rule cascade and saves the result into the
// user's behavior profile before returning it.
func (p *Predictor) PredictUserNeeds(ctx context.Context, userID string) (*domain.Prediction, error) {
	f, err := p.features(ctx, userID)
	if err != nil {
		return nil, err
	}

	var out outcome
	for _, r := range rules {
		if r.match(f) {
			out = r.build(f)
			break
		}
	}

	pred := &domain.Prediction{
		UserID:            userID,
		PredictedNeed:     out.need,
		Confidence:        out.confidence,
		Reasoning:         out.reasoning,
		SuggestedServices: out.services,
	}
	if err := p.actions.SavePrediction(ctx, pred); err != nil {
		return nil, err
	}
	return pred, nil
}

func (p *Predictor) features(ctx context.Context, userID string) (*features, error) {
	now := p.now()
	f := &features{}

	var b domain.UserBehaviorProfile
	switch err := p.store.FindByID(ctx, store.UserBehavior, userID, &b); {
	case err == nil:
		f.complaints = b.ConsecutiveComplaintsCount
		f.lastService = b.LastSeenService
	case errors.Is(err, store.ErrNotFound):
	default:
		return nil, fmt.Errorf("load behavior: %w", err)
	}

	var contracts []domain.EmploymentContract
	if err := p.store.FindByUser(ctx, store.EmploymentContracts, userID, store.Query{OrderBy: "end_date", Asc: true}, &contracts); err != nil {
		return nil, fmt.Errorf("load contracts: %w", err)
	}
	for i := range contracts {
		c := &contracts[i]
		if c.Status != domain.ContractActive {
			continue
		}
		if f.active == nil {
			f.active = c
		}
		days := domain.DaysUntil(now, c.EndDate)
		if f.expiring == nil && days > 0 && days <= ContractExpiryWindowDays {
			f.expiring = c
			f.expiringDays = days
		}
	}

	var certs []domain.Certificate
	if err := p.store.FindByUser(ctx, store.Certificates, userID, store.Query{}, &certs); err != nil {
		return nil, fmt.Errorf("load certificates: %w", err)
	}
	f.certificates = len(certs)

	var appts []domain.LaborAppointment
	if err := p.store.FindByUser(ctx, store.LaborAppointments, userID, store.Query{
		Where:   map[string]any{"status": domain.AppointmentScheduled},
		OrderBy: "appointment_date",
		Asc:     true,
	}, &appts); err != nil {
		return nil, fmt.Errorf("load appointments: %w", err)
	}
	if len(appts) > 0 {
		f.appointment = &appts[0]
	}

	var tickets []domain.Ticket
	if err := p.store.FindByUser(ctx, store.Tickets, userID, store.Query{Limit: 10}, &tickets); err != nil {
		return nil, fmt.Errorf("load tickets: %w", err)
	}
	for i := range tickets {
		if tickets[i].Status == domain.TicketOpen {
			f.openTicket = &tickets[i]
			break
		}
	}

	var convs []domain.Conversation
	if err := p.store.FindByUser(ctx, store.Conversations, userID, store.Query{Limit: 20}, &convs); err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}
	f.topics = p.topTopics(convs, 3)

	return f, nil
}

// topTopics ranks topics by keyword hits in the user's messages. Ties keep
// table order.
func (p *Predictor) topTopics(convs []domain.Conversation, n int) []string {
	var sb strings.Builder
	for _, c := range convs {
		if c.Role != domain.RoleUser {
			continue
		}
		sb.WriteString(strings.ToLower(c.Content))
		sb.WriteByte('\n')
	}
	text := sb.String()
	if text == "" {
		return nil
	}

	type scored struct {
		name  string
		hits  int
		order int
	}
	var ranked []scored
	for i, t := range p.topics {
		hits := 0
		for _, kw := range t.Keywords {
			hits += strings.Count(text, strings.ToLower(kw))
		}
		if hits > 0 {
			ranked = append(ranked, scored{t.Name, hits, i})
		}
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].hits != ranked[j].hits {
			return ranked[i].hits > ranked[j].hits
		}
		return ranked[i].order < ranked[j].order
	})

	var out []string
	for i := 0; i < len(ranked) && i < n; i++ {
		out = append(out, ranked[i].name)
	}
	return out
}
