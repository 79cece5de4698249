package tools

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/notify"
	"github.com/ashureev/portal-agent/internal/store"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeNotifier struct {
	mu  sync.Mutex
	got []notify.Notification
}

func (f *fakeNotifier) Dispatch(_ context.Context, n notify.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.got = append(f.got, n)
	return nil
}

type fakeMarker struct {
	calls []string
}

func (f *fakeMarker) MarkActedByTool(_ context.Context, userID, toolName string) error {
	f.calls = append(f.calls, userID+":"+toolName)
	return nil
}

type fixture struct {
	reg      *Registry
	store    store.Store
	notifier *fakeNotifier
	marker   *fakeMarker
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	s, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("NewSQLite() error = %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	f := &fixture{store: s, notifier: &fakeNotifier{}, marker: &fakeMarker{}}
	f.reg = New(Deps{
		Store:    s,
		Notifier: f.notifier,
		Events:   f.marker,
		Now:      func() time.Time { return testNow },
	})
	return f
}

func (f *fixture) insert(t *testing.T, collection string, doc any) {
	t.Helper()
	if err := f.store.Insert(context.Background(), collection, doc); err != nil {
		t.Fatalf("Insert(%s) error = %v", collection, err)
	}
}

func (f *fixture) agentTickets(t *testing.T, userID string) []domain.Ticket {
	t.Helper()
	var tickets []domain.Ticket
	if err := f.store.FindByUser(context.Background(), store.Tickets, userID, store.Query{
		Where: map[string]any{"category": domain.CategoryAgentAction, "status": domain.TicketOpen},
	}, &tickets); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	return tickets
}

func TestInjectIdentity(t *testing.T) {
	var seen any
	reg := NewRegistry(nil, &Tool{
		Name: "echoUser",
		Parameters: Schema{
			Properties: map[string]Property{"user_id": {Type: TypeString}},
			Required:   []string{"user_id"},
		},
		Execute: func(_ context.Context, params map[string]any) Result {
			seen = params["user_id"]
			return OK(nil, "")
		},
	})
	wrapped := WithIdentity(reg, "auth-user")

	tests := []struct {
		name   string
		params map[string]any
		want   string
	}{
		{"absent", map[string]any{}, "auth-user"},
		{"nil params", nil, "auth-user"},
		{"empty", map[string]any{"user_id": ""}, "auth-user"},
		{"undefined", map[string]any{"user_id": "undefined"}, "auth-user"},
		{"placeholder", map[string]any{"user_id": PlaceholderUserID}, "auth-user"},
		{"other value passes", map[string]any{"user_id": "someone-else"}, "someone-else"},
		{"same value passes", map[string]any{"user_id": "auth-user"}, "auth-user"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			seen = nil
			res := wrapped.Execute(context.Background(), "echoUser", tt.params)
			if !res.Success {
				t.Fatalf("Execute() = %+v", res)
			}
			if seen != tt.want {
				t.Errorf("user_id = %v, want %q", seen, tt.want)
			}
		})
	}

	// The source registry is untouched.
	res := reg.Execute(context.Background(), "echoUser", map[string]any{})
	if res.Success || res.Error != ErrCodeValidation {
		t.Errorf("unwrapped registry should reject missing user_id, got %+v", res)
	}
}

func TestInjectIdentityDoesNotMutateCallerParams(t *testing.T) {
	reg := NewRegistry(nil, &Tool{
		Name:    "echoUser",
		Execute: func(context.Context, map[string]any) Result { return OK(nil, "") },
	})
	params := map[string]any{"user_id": "undefined"}
	WithIdentity(reg, "auth-user").Execute(context.Background(), "echoUser", params)
	if params["user_id"] != "undefined" {
		t.Errorf("caller params mutated: %v", params)
	}
}

func TestRegistryUnknownAndPanic(t *testing.T) {
	reg := NewRegistry(nil, &Tool{
		Name:    "boom",
		Execute: func(context.Context, map[string]any) Result { panic("kaboom") },
	})

	res := reg.Execute(context.Background(), "missing", nil)
	if res.Success || res.Error != ErrCodeUnavailable {
		t.Errorf("unknown tool result = %+v", res)
	}

	res = reg.Execute(context.Background(), "boom", nil)
	if res.Success || res.Error != ErrCodeUpstream {
		t.Errorf("panic result = %+v", res)
	}
}

func TestSchemaValidate(t *testing.T) {
	s := Schema{
		Properties: map[string]Property{
			"title":  {Type: TypeString},
			"months": {Type: TypeInteger},
			"tags":   {Type: TypeArray},
			"level":  {Type: TypeString, Enum: []string{"low", "high"}},
		},
		Required: []string{"title"},
	}
	tests := []struct {
		name    string
		params  map[string]any
		wantErr bool
	}{
		{"ok", map[string]any{"title": "x", "months": float64(12), "tags": []any{"a"}}, false},
		{"missing", map[string]any{}, true},
		{"blank", map[string]any{"title": "  "}, true},
		{"fractional integer", map[string]any{"title": "x", "months": 1.5}, true},
		{"wrong type", map[string]any{"title": 3.0}, true},
		{"enum", map[string]any{"title": "x", "level": "medium"}, true},
		{"unknown ignored", map[string]any{"title": "x", "extra": true}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Validate(tt.params); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestTicketedToolsOpenExactlyOneTicket(t *testing.T) {
	tests := []struct {
		tool string
		seed func(t *testing.T, f *fixture) map[string]any
	}{
		{"scheduleAppointment", func(*testing.T, *fixture) map[string]any {
			return map[string]any{"office": "Riyadh", "service_type": "complaint", "date": "2026-03-10"}
		}},
		{"renewContract", func(t *testing.T, f *fixture) map[string]any {
			c := &domain.EmploymentContract{UserID: "u1", EmployerName: "Acme", Status: domain.ContractActive, EndDate: testNow.AddDate(0, 0, 10)}
			f.insert(t, store.EmploymentContracts, c)
			return map[string]any{"contract_id": c.ID}
		}},
		{"createCertificate", func(*testing.T, *fixture) map[string]any {
			return map[string]any{"certificate_type": "salary"}
		}},
		{"updateResume", func(t *testing.T, f *fixture) map[string]any {
			f.insert(t, store.Resumes, &domain.Resume{UserID: "u1", JobTitle: "Analyst"})
			return map[string]any{"job_title": "Engineer"}
		}},
		{"createResume", func(*testing.T, *fixture) map[string]any {
			return map[string]any{"job_title": "Engineer"}
		}},
		{"addResumeCourse", func(t *testing.T, f *fixture) map[string]any {
			f.insert(t, store.Resumes, &domain.Resume{UserID: "u1"})
			return map[string]any{"title": "Go fundamentals"}
		}},
		{"cancelAppointment", func(t *testing.T, f *fixture) map[string]any {
			a := &domain.LaborAppointment{UserID: "u1", Office: "Jeddah", Status: domain.AppointmentScheduled, AppointmentDate: testNow.AddDate(0, 0, 2)}
			f.insert(t, store.LaborAppointments, a)
			return map[string]any{"appointment_id": a.ID}
		}},
		{"createDomesticLaborRequest", func(*testing.T, *fixture) map[string]any {
			return map[string]any{"worker_profession": "driver"}
		}},
		{"cancelDomesticLaborRequest", func(t *testing.T, f *fixture) map[string]any {
			r := &domain.DomesticLaborRequest{UserID: "u1", RequestNumber: "DLR-1", Status: domain.RequestPending}
			f.insert(t, store.DomesticLaborRequests, r)
			return map[string]any{"request_id": r.ID}
		}},
	}
	for _, tt := range tests {
		t.Run(tt.tool, func(t *testing.T) {
			f := newFixture(t)
			params := tt.seed(t, f)

			res := WithIdentity(f.reg, "u1").Execute(context.Background(), tt.tool, params)
			if !res.Success {
				t.Fatalf("%s failed: %+v", tt.tool, res)
			}
			tickets := f.agentTickets(t, "u1")
			if len(tickets) != 1 {
				t.Fatalf("expected exactly 1 agent_action ticket, got %d", len(tickets))
			}
			if res.TicketNumber != tickets[0].TicketNumber {
				t.Errorf("result ticket %q, stored %q", res.TicketNumber, tickets[0].TicketNumber)
			}
			if !strings.HasPrefix(tickets[0].TicketNumber, "TKT-20260301-") {
				t.Errorf("unexpected ticket number %q", tickets[0].TicketNumber)
			}
		})
	}
}

func TestReadToolsDoNotOpenTickets(t *testing.T) {
	f := newFixture(t)
	reg := WithIdentity(f.reg, "u1")
	for _, name := range []string{"getTickets", "getContracts", "getCertificates", "getAppointments", "getDomesticLaborRequests"} {
		if res := reg.Execute(context.Background(), name, nil); !res.Success {
			t.Fatalf("%s failed: %+v", name, res)
		}
	}

	var tickets []domain.Ticket
	if err := f.store.FindByUser(context.Background(), store.Tickets, "u1", store.Query{}, &tickets); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if len(tickets) != 0 {
		t.Errorf("read tools opened %d tickets", len(tickets))
	}

	var b domain.UserBehaviorProfile
	if err := f.store.FindByID(context.Background(), store.UserBehavior, "u1", &b); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if b.LastSeenService != serviceDomesticLabor {
		t.Errorf("last_seen_service = %q", b.LastSeenService)
	}
}

func TestMutationWritesActionLog(t *testing.T) {
	f := newFixture(t)
	res := WithIdentity(f.reg, "u1").Execute(context.Background(), "createDomesticLaborRequest", map[string]any{"worker_profession": "cook"})
	if !res.Success {
		t.Fatalf("Execute() = %+v", res)
	}

	var entries []domain.ActionLogEntry
	if err := f.store.FindByUser(context.Background(), store.AgentActionsLog, "u1", store.Query{Asc: true}, &entries); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	// The request itself plus the follow-up createTicket.
	if len(entries) != 2 || entries[0].ActionType != "createDomesticLaborRequest" || entries[1].ActionType != "createTicket" {
		t.Errorf("unexpected action log: %+v", entries)
	}
	if len(f.marker.calls) != 1 || f.marker.calls[0] != "u1:createDomesticLaborRequest" {
		t.Errorf("event marker calls = %v", f.marker.calls)
	}
}

func TestFollowUpTicketKeepsServiceAndEvents(t *testing.T) {
	f := newFixture(t)
	c := &domain.EmploymentContract{UserID: "u1", EmployerName: "Acme", Status: domain.ContractActive, EndDate: testNow.AddDate(0, 0, 10)}
	f.insert(t, store.EmploymentContracts, c)

	res := WithIdentity(f.reg, "u1").Execute(context.Background(), "renewContract", map[string]any{"contract_id": c.ID})
	if !res.Success || res.TicketNumber == "" {
		t.Fatalf("renewContract = %+v", res)
	}

	var b domain.UserBehaviorProfile
	if err := f.store.FindByID(context.Background(), store.UserBehavior, "u1", &b); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if b.LastSeenService != serviceContracts {
		t.Errorf("last_seen_service = %q, want %q", b.LastSeenService, serviceContracts)
	}
	for _, call := range f.marker.calls {
		if call == "u1:createTicket" {
			t.Errorf("follow-up ticket marked events acted: %v", f.marker.calls)
		}
	}
}

func TestOtherUsersRecordsAreNotFound(t *testing.T) {
	f := newFixture(t)
	c := &domain.EmploymentContract{UserID: "owner", EmployerName: "Acme", Status: domain.ContractActive, EndDate: testNow.AddDate(0, 1, 0)}
	f.insert(t, store.EmploymentContracts, c)

	res := WithIdentity(f.reg, "intruder").Execute(context.Background(), "renewContract", map[string]any{"contract_id": c.ID})
	if res.Success || res.Error != ErrCodeNotFound {
		t.Errorf("expected not_found, got %+v", res)
	}
	if len(f.agentTickets(t, "intruder")) != 0 {
		t.Error("failed call must not open a ticket")
	}
}

func TestCloseTicketTwiceFails(t *testing.T) {
	f := newFixture(t)
	reg := WithIdentity(f.reg, "u1")

	open := reg.Execute(context.Background(), "createTicket", map[string]any{"title": "Salary", "description": "late"})
	if !open.Success {
		t.Fatalf("createTicket = %+v", open)
	}
	number := open.Data.(*domain.Ticket).TicketNumber

	if res := reg.Execute(context.Background(), "closeTicket", map[string]any{"ticket_id": number}); !res.Success {
		t.Fatalf("closeTicket = %+v", res)
	}
	res := reg.Execute(context.Background(), "closeTicket", map[string]any{"ticket_id": number})
	if res.Success || res.Error != ErrCodeValidation {
		t.Errorf("second close = %+v", res)
	}

	kinds := []string{}
	for _, n := range f.notifier.got {
		kinds = append(kinds, n.Kind)
	}
	if strings.Join(kinds, ",") != "ticket_opened,ticket_closed" {
		t.Errorf("notifications = %v", kinds)
	}
}

func TestUpdateResumeCreatesWhenMissing(t *testing.T) {
	f := newFixture(t)
	f.insert(t, store.UserProfiles, &domain.UserProfile{UserID: "u1", FullName: "Sara Ahmed"})

	res := WithIdentity(f.reg, "u1").Execute(context.Background(), "updateResume", map[string]any{
		"job_title": "مهندس برمجيات",
		"skills":    []any{"Go", "SQL"},
	})
	if !res.Success {
		t.Fatalf("updateResume = %+v", res)
	}

	var resumes []domain.Resume
	if err := f.store.FindByUser(context.Background(), store.Resumes, "u1", store.Query{}, &resumes); err != nil {
		t.Fatalf("FindByUser() error = %v", err)
	}
	if len(resumes) != 1 {
		t.Fatalf("expected 1 resume, got %d", len(resumes))
	}
	r := resumes[0]
	if r.JobTitle != "مهندس برمجيات" || r.FullName != "Sara Ahmed" || len(r.Skills) != 2 {
		t.Errorf("unexpected resume: %+v", r)
	}
}

func TestOtherUpdatesFailWhenMissing(t *testing.T) {
	f := newFixture(t)
	reg := WithIdentity(f.reg, "u1")
	for name, params := range map[string]map[string]any{
		"renewContract":              {"contract_id": "nope"},
		"cancelAppointment":          {"appointment_id": "nope"},
		"cancelDomesticLaborRequest": {"request_id": "nope"},
		"closeTicket":                {"ticket_id": "nope"},
		"addResumeCourse":            {"title": "x"},
	} {
		if res := reg.Execute(context.Background(), name, params); res.Error != ErrCodeNotFound {
			t.Errorf("%s: expected not_found, got %+v", name, res)
		}
	}
}

func TestScheduleAppointmentRejectsPastDate(t *testing.T) {
	f := newFixture(t)
	res := WithIdentity(f.reg, "u1").Execute(context.Background(), "scheduleAppointment", map[string]any{
		"office": "Riyadh", "service_type": "complaint", "date": "2026-02-01",
	})
	if res.Success || res.Error != ErrCodeValidation {
		t.Errorf("expected validation error, got %+v", res)
	}
}

func TestRenewContractExtendsEndDate(t *testing.T) {
	f := newFixture(t)
	c := &domain.EmploymentContract{UserID: "u1", EmployerName: "Acme", Status: domain.ContractActive, EndDate: testNow.AddDate(0, 0, 10)}
	f.insert(t, store.EmploymentContracts, c)

	res := WithIdentity(f.reg, "u1").Execute(context.Background(), "renewContract", map[string]any{
		"contract_id": c.ID, "duration_months": float64(6),
	})
	if !res.Success {
		t.Fatalf("renewContract = %+v", res)
	}

	var got domain.EmploymentContract
	if err := f.store.FindByID(context.Background(), store.EmploymentContracts, c.ID, &got); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	want := testNow.AddDate(0, 0, 10).AddDate(0, 6, 0)
	if !got.EndDate.Equal(want) || got.RenewalCount != 1 {
		t.Errorf("end_date = %v renewal_count = %d, want %v / 1", got.EndDate, got.RenewalCount, want)
	}
}

func TestDefinitionsAdvertiseEveryTool(t *testing.T) {
	f := newFixture(t)
	defs := f.reg.Definitions()
	if len(defs) != 19 {
		t.Fatalf("expected 19 tools, got %d", len(defs))
	}
	for _, d := range defs {
		req, _ := d.Parameters["required"].([]string)
		if len(req) == 0 || req[0] != "user_id" {
			t.Errorf("%s: user_id should be required, got %v", d.Name, req)
		}
	}
}
