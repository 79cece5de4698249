package agent

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/proactive"
	"github.com/ashureev/portal-agent/internal/store"
)

func newTestFallback(t *testing.T, f *fixture) *Fallback {
	t.Helper()
	fb, err := NewFallback(f.deps, Config{})
	if err != nil {
		t.Fatalf("NewFallback() error = %v", err)
	}
	return fb
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	fb := newTestFallback(t, f)

	tests := []struct {
		msg  string
		want string
	}{
		{"update my job title to مهندس برمجيات", "resume_update"},
		{"أريد تجديد عقدي", "contract_renewal"},
		{"I need a Salary Certificate for the bank", "certificate_request"},
		{"show my certificates", "certificates"},
		{"when is my appointment?", "appointments"},
		{"this assistant is useless", IntentComplaint},
		{"what is the status of my ticket", "tickets"},
		{"hello there", ""},
	}
	for _, tt := range tests {
		got := ""
		if intent := fb.Classify(tt.msg); intent != nil {
			got = intent.Name
		}
		if got != tt.want {
			t.Errorf("Classify(%q) = %q, want %q", tt.msg, got, tt.want)
		}
	}
}

func TestResumeParams(t *testing.T) {
	tests := []struct {
		msg  string
		want string
	}{
		{"update my job title to مهندس برمجيات", "مهندس برمجيات"},
		{"Change my job title: Senior Nurse.", "Senior Nurse"},
		{"حدث المسمى الوظيفي إلى محاسب", "محاسب"},
	}
	for _, tt := range tests {
		params, ok := resumeParams(tt.msg, nil)
		if !ok || params["job_title"] != tt.want {
			t.Errorf("resumeParams(%q) = %v, %v; want job_title %q", tt.msg, params, ok, tt.want)
		}
	}
	if _, ok := resumeParams("update my resume please", nil); ok {
		t.Error("expected no params without a value")
	}
}

func TestFallbackUpdatesJobTitleWithTemplate(t *testing.T) {
	f := newFixture(t)
	f.insert(t, store.Resumes, &domain.Resume{UserID: "u1", JobTitle: "Accountant"})
	f.llm.chatErr = errors.New("model down")
	fb := newTestFallback(t, f)

	reply := fb.Execute(context.Background(), Request{UserID: "u1", Message: "update my job title to مهندس برمجيات"})
	fb.Wait()

	if reply.Tier != TierTemplate || reply.Intent != "resume_update" {
		t.Errorf("reply = %+v", reply)
	}
	if len(reply.ToolsUsed) != 1 || reply.ToolsUsed[0] != "updateResume" {
		t.Errorf("tools used = %v", reply.ToolsUsed)
	}
	if strings.Contains(reply.Text, "updateResume") || reply.Text == "" {
		t.Errorf("reply text = %q", reply.Text)
	}

	var resumes []domain.Resume
	f.find(t, store.Resumes, "u1", nil, &resumes)
	if len(resumes) != 1 || resumes[0].JobTitle != "مهندس برمجيات" {
		t.Errorf("resumes = %+v", resumes)
	}
	var tickets []domain.Ticket
	f.find(t, store.Tickets, "u1", map[string]any{"category": domain.CategoryAgentAction}, &tickets)
	if len(tickets) != 1 {
		t.Errorf("expected 1 follow-up ticket, got %d", len(tickets))
	}
	if len(tickets) == 1 && !strings.Contains(reply.Text, tickets[0].TicketNumber) {
		t.Errorf("template reply should include the ticket number: %q", reply.Text)
	}
}

func TestFallbackModelTier(t *testing.T) {
	f := newFixture(t)
	f.llm.chat = "Here are your contracts."
	fb := newTestFallback(t, f)

	reply := fb.Execute(context.Background(), Request{UserID: "u1", Message: "show my contract"})
	fb.Wait()

	if reply.Tier != TierModel || reply.Text != "Here are your contracts." {
		t.Errorf("reply = %+v", reply)
	}
	req := f.llm.request(0)
	if len(req.Tools) != 0 {
		t.Errorf("fallback must not offer tools, got %d", len(req.Tools))
	}
	if !strings.Contains(req.Messages[0].Content, "Do not mention functions") {
		t.Error("system message should forbid tool names")
	}
}

func TestFallbackRejectsLeakedToolName(t *testing.T) {
	f := newFixture(t)
	f.llm.chat = "I called getContracts for you."
	fb := newTestFallback(t, f)

	reply := fb.Execute(context.Background(), Request{UserID: "u1", Message: "show my contract"})
	fb.Wait()

	if reply.Tier != TierTemplate {
		t.Errorf("tier = %q, want %q", reply.Tier, TierTemplate)
	}
	if strings.Contains(reply.Text, "getContracts") {
		t.Errorf("reply leaks tool name: %q", reply.Text)
	}
}

func TestFallbackServiceMenu(t *testing.T) {
	f := newFixture(t)
	f.llm.chatErr = errors.New("model down")
	fb := newTestFallback(t, f)

	reply := fb.Execute(context.Background(), Request{UserID: "u1", Message: "hello"})
	if reply.Tier != TierMenu || reply.Text != menuEnglish {
		t.Errorf("reply = %+v", reply)
	}
	reply = fb.Execute(context.Background(), Request{UserID: "u1", Message: "مرحبا"})
	fb.Wait()
	if reply.Tier != TierMenu || reply.Text != menuArabic {
		t.Errorf("arabic reply = %+v", reply)
	}
}

func TestFallbackComplaint(t *testing.T) {
	f := newFixture(t)
	f.llm.chatErr = errors.New("model down")
	fb := newTestFallback(t, f)

	fb.Execute(context.Background(), Request{UserID: "u1", Message: "this service is terrible"})
	fb.Wait()

	b, err := f.actions.Behavior(context.Background(), "u1")
	if err != nil || b == nil {
		t.Fatalf("Behavior() = %v, %v", b, err)
	}
	if b.ConsecutiveComplaintsCount != 1 || b.Intent != IntentComplaint {
		t.Errorf("behavior = %+v", b)
	}
	var tickets []domain.Ticket
	f.find(t, store.Tickets, "u1", map[string]any{"category": "complaint"}, &tickets)
	if len(tickets) != 1 {
		t.Errorf("expected 1 complaint ticket, got %d", len(tickets))
	}
}

func TestFallbackRenewsNearestContract(t *testing.T) {
	f := newFixture(t)
	f.llm.chatErr = errors.New("model down")
	soon := &domain.EmploymentContract{UserID: "u1", EmployerName: "Acme", Status: domain.ContractActive, EndDate: testNow.AddDate(0, 0, 10)}
	later := &domain.EmploymentContract{UserID: "u1", EmployerName: "Beta", Status: domain.ContractActive, EndDate: testNow.AddDate(1, 0, 0)}
	f.insert(t, store.EmploymentContracts, soon)
	f.insert(t, store.EmploymentContracts, later)
	fb := newTestFallback(t, f)

	reply := fb.Execute(context.Background(), Request{UserID: "u1", Message: "please renew my contract for 2 years"})
	fb.Wait()

	if len(reply.ToolsUsed) != 2 || reply.ToolsUsed[1] != "renewContract" {
		t.Fatalf("tools used = %v", reply.ToolsUsed)
	}
	var c domain.EmploymentContract
	if err := f.store.FindByID(context.Background(), store.EmploymentContracts, soon.ID, &c); err != nil {
		t.Fatalf("FindByID() error = %v", err)
	}
	if c.RenewalCount != 1 || !c.EndDate.Equal(soon.EndDate.AddDate(0, 24, 0)) {
		t.Errorf("renewed contract = %+v", c)
	}
}

func TestFallbackSuggestions(t *testing.T) {
	f := newFixture(t)
	f.llm.chat = "ok"
	f.deps.Proactive = staticContext{entry: proactive.Entry{
		Events: []domain.ProactiveEvent{
			{EventType: domain.EventContractExpiringSoon},
			{EventType: domain.EventContractExpiringSoon},
			{EventType: domain.EventIncompleteResume},
		},
		Predictions: []domain.Prediction{{PredictedNeed: "contract_renewal", Confidence: 0.85, SuggestedServices: []string{"contract_renewal"}}},
	}}
	fb := newTestFallback(t, f)

	reply := fb.Execute(context.Background(), Request{UserID: "u1", Message: "hello"})
	fb.Wait()

	want := []string{"Renew your employment contract", "Complete your resume", "contract renewal"}
	if strings.Join(reply.Suggestions, "|") != strings.Join(want, "|") {
		t.Errorf("suggestions = %v, want %v", reply.Suggestions, want)
	}
}
