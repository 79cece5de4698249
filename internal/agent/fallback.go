package agent

import (
	"context"
	_ "embed"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/ashureev/portal-agent/internal/actionlog"
	"github.com/ashureev/portal-agent/internal/domain"
	"github.com/ashureev/portal-agent/internal/llm"
	"github.com/ashureev/portal-agent/internal/proactive"
	"github.com/ashureev/portal-agent/internal/tools"
	"gopkg.in/yaml.v3"
)

//go:embed intents.yaml
var intentsYAML []byte

// Reply tiers, best first.
const (
	TierModel    = "model"
	TierTemplate = "template"
	TierMenu     = "menu"
)

// IntentComplaint is the intent that extends the complaint streak.
const IntentComplaint = "complaint"

// Intent maps keywords to the tools run for them.
type Intent struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
	Tools    []string `yaml:"tools"`
}

// LoadIntents parses an intent table.
func LoadIntents(data []byte) ([]Intent, error) {
	var doc struct {
		Intents []Intent `yaml:"intents"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse intents: %w", err)
	}
	return doc.Intents, nil
}

// Fallback answers without letting the model choose tools: keywords pick
// the intent, regexes fill the parameters, and the model only phrases the
// reply. A reply is always produced.
type Fallback struct {
	deps    Deps
	cfg     Config
	intents []Intent
	tasks   *detached
}

// NewFallback creates a Fallback using the embedded intent table.
func NewFallback(d Deps, cfg Config) (*Fallback, error) {
	intents, err := LoadIntents(intentsYAML)
	if err != nil {
		return nil, err
	}
	d = d.withDefaults()
	cfg = cfg.withDefaults()
	return &Fallback{
		deps:    d,
		cfg:     cfg,
		intents: intents,
		tasks:   newDetached(cfg.BookkeepTimeout, d.Logger),
	}, nil
}

// Classify returns the first intent with a keyword in msg, or nil.
func (f *Fallback) Classify(msg string) *Intent {
	text := strings.ToLower(msg)
	for i := range f.intents {
		for _, kw := range f.intents[i].Keywords {
			if strings.Contains(text, strings.ToLower(kw)) {
				return &f.intents[i]
			}
		}
	}
	return nil
}

type toolRun struct {
	name   string
	result tools.Result
}

// Execute runs one turn on the fallback path.
func (f *Fallback) Execute(ctx context.Context, req Request) *Reply {
	ctx = context.WithoutCancel(ctx)
	logger := f.deps.Logger.With("user_id", req.UserID)
	tc := assemble(ctx, f.deps, req)
	arabic := isArabic(req.Message)

	intentName := IntentGeneral
	var runs []toolRun
	if intent := f.Classify(req.Message); intent != nil {
		intentName = intent.Name
		runs = f.runTools(ctx, req, intent)
		if intent.Name == IntentComplaint {
			f.tasks.Go(ctx, "record complaint", func(ctx context.Context) error {
				return f.deps.Actions.RecordComplaint(ctx, req.UserID)
			})
		}
	}

	reply := &Reply{Intent: intentName, ToolsUsed: []string{}, Suggestions: suggestions(tc.entry, arabic)}
	for _, r := range runs {
		reply.ToolsUsed = appendUnique(reply.ToolsUsed, r.name)
	}

	if text, err := f.phrase(ctx, tc, runs); err == nil {
		reply.Text, reply.Tier = text, TierModel
	} else {
		logger.Warn("Fallback model reply unavailable", "intent", intentName, "error", err)
		if len(runs) > 0 {
			reply.Text, reply.Tier = templated(runs, arabic), TierTemplate
		} else {
			reply.Text, reply.Tier = serviceMenu(arabic), TierMenu
		}
	}

	logger.Info("Fallback turn", "intent", intentName, "tools", reply.ToolsUsed, "tier", reply.Tier)
	recordTurn(ctx, f.tasks, f.deps, req, reply.Text, reply.ToolsUsed, intentName, tc.entry, actionlog.ActionFallbackTurn)
	return reply
}

// Wait blocks until background writes of finished turns are done.
func (f *Fallback) Wait() {
	f.tasks.Wait()
}

func (f *Fallback) runTools(ctx context.Context, req Request, intent *Intent) []toolRun {
	reg := tools.WithIdentity(f.deps.Registry, req.UserID)
	prior := make(map[string]tools.Result)
	var runs []toolRun
	for _, name := range intent.Tools {
		params := map[string]any{}
		if extract, ok := paramExtractors[name]; ok {
			p, ok := extract(req.Message, prior)
			if !ok {
				continue
			}
			params = p
		}
		res := reg.Execute(ctx, name, params)
		prior[name] = res
		runs = append(runs, toolRun{name: name, result: res})
	}
	return runs
}

const fallbackInstructions = `The actions below were already carried out for this message. Write the reply
from their results. Do not mention functions, tools or internal names; describe what was done
in plain words. If an action failed, explain the message it returned.`

const noActionInstructions = `No actions can be performed for this message. Answer from the context above and
point the user to the portal services that fit. Do not mention functions, tools or internal names.`

// phrase asks the model to word the reply from the tool results, with no
// tools offered. Replies that leak a tool name are rejected.
func (f *Fallback) phrase(ctx context.Context, tc turnContext, runs []toolRun) (string, error) {
	if f.deps.LLM == nil {
		return "", fmt.Errorf("no model configured")
	}
	msgs := append([]llm.Message(nil), tc.messages...)
	var sb strings.Builder
	if len(runs) > 0 {
		sb.WriteString(fallbackInstructions)
		sb.WriteString("\n")
		for _, r := range runs {
			fmt.Fprintf(&sb, "\n%s: %s", actionLabel(r.name), r.result.JSON())
		}
	} else {
		sb.WriteString(noActionInstructions)
	}
	msgs[0].Content += "\n\n" + sb.String()

	resp, err := f.deps.LLM.Chat(ctx, llm.Request{Messages: msgs, Temperature: f.cfg.Temperature})
	if err != nil {
		return "", fmt.Errorf("model request: %w", err)
	}
	text := strings.TrimSpace(resp.Content)
	if text == "" {
		return "", fmt.Errorf("empty model reply")
	}
	if f.deps.Registry != nil {
		for _, name := range f.deps.Registry.Names() {
			if strings.Contains(text, name) {
				return "", fmt.Errorf("model reply mentions %q", name)
			}
		}
	}
	return text, nil
}

// paramFunc extracts tool parameters from the message and earlier results.
// ok is false when the tool should be skipped.
type paramFunc func(msg string, prior map[string]tools.Result) (params map[string]any, ok bool)

var paramExtractors = map[string]paramFunc{
	"updateResume":      resumeParams,
	"renewContract":     renewalParams,
	"createCertificate": certificateParams,
	"createTicket":      complaintParams,
}

var (
	jobTitleRe   = regexp.MustCompile(`(?i)job\s*title\s*(?:(?:to|is|as)\s+|[:=]\s*)?(.+)$`)
	jobTitleArRe = regexp.MustCompile(`المسمى\s*الوظيفي\s*(?:(?:إلى|الى)\s+|:\s*)?(.+)$`)
	headlineRe   = regexp.MustCompile(`(?i)headline\s*(?:(?:to|is|as)\s+|[:=]\s*)(.+)$`)
	skillsRe     = regexp.MustCompile(`(?i)(?:skills|مهاراتي)\s*(?:(?:to|are|هي)\s+|[:=]\s*)(.+)$`)
	monthsRe     = regexp.MustCompile(`(\d+)\s*(?:months?|أشهر|شهور|شهر)`)
	yearsRe      = regexp.MustCompile(`(\d+)\s*(?:years?|سنوات|سنة)`)
)

func resumeParams(msg string, _ map[string]tools.Result) (map[string]any, bool) {
	params := map[string]any{}
	if m := firstMatch(msg, jobTitleRe, jobTitleArRe); m != "" {
		params["job_title"] = m
	}
	if m := firstMatch(msg, headlineRe); m != "" {
		params["headline"] = m
	}
	if m := firstMatch(msg, skillsRe); m != "" {
		params["skills"] = m
	}
	return params, len(params) > 0
}

func renewalParams(msg string, prior map[string]tools.Result) (map[string]any, bool) {
	res, ok := prior["getContracts"]
	if !ok || !res.Success {
		return nil, false
	}
	contracts, _ := res.Data.([]domain.EmploymentContract)
	var target *domain.EmploymentContract
	for i := range contracts {
		c := &contracts[i]
		if c.Status != domain.ContractActive {
			continue
		}
		if target == nil || c.EndDate.Before(target.EndDate) {
			target = c
		}
	}
	if target == nil {
		return nil, false
	}

	params := map[string]any{"contract_id": target.ID}
	text := normalizeDigits(msg)
	if m := monthsRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			params["duration_months"] = n
		}
	} else if m := yearsRe.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil {
			params["duration_months"] = n * 12
		}
	}
	return params, true
}

var certificateKeywords = []struct {
	certType string
	keywords []string
}{
	{"no_objection", []string{"no objection", "عدم ممانعة"}},
	{"experience", []string{"experience", "خبرة"}},
	{"salary", []string{"salary", "راتب", "بالراتب"}},
	{"employment", []string{"employment", "عمل"}},
}

func certificateParams(msg string, _ map[string]tools.Result) (map[string]any, bool) {
	text := strings.ToLower(msg)
	for _, ck := range certificateKeywords {
		for _, kw := range ck.keywords {
			if strings.Contains(text, kw) {
				return map[string]any{"certificate_type": ck.certType}, true
			}
		}
	}
	return map[string]any{"certificate_type": "employment"}, true
}

func complaintParams(msg string, _ map[string]tools.Result) (map[string]any, bool) {
	title := strings.TrimSpace(msg)
	if r := []rune(title); len(r) > 60 {
		title = string(r[:60])
	}
	return map[string]any{
		"title":       title,
		"description": msg,
		"category":    "complaint",
		"priority":    "high",
	}, true
}

func firstMatch(msg string, res ...*regexp.Regexp) string {
	for _, re := range res {
		if m := re.FindStringSubmatch(msg); m != nil {
			if v := strings.TrimRight(strings.TrimSpace(m[1]), ".!?؟،,"); v != "" {
				return v
			}
		}
	}
	return ""
}

// normalizeDigits maps Arabic-Indic digits to ASCII.
func normalizeDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '٠' && r <= '٩' {
			return '0' + (r - '٠')
		}
		return r
	}, s)
}

func isArabic(s string) bool {
	for _, r := range s {
		if unicode.Is(unicode.Arabic, r) && unicode.IsLetter(r) {
			return true
		}
	}
	return false
}

var actionLabels = map[string][2]string{
	"createTicket":               {"Support ticket opened", "تم فتح تذكرة دعم"},
	"getTickets":                 {"Your tickets", "تذاكرك"},
	"closeTicket":                {"Ticket closed", "تم إغلاق التذكرة"},
	"getContracts":               {"Your contracts", "عقودك"},
	"renewContract":              {"Contract renewed", "تم تجديد العقد"},
	"getResume":                  {"Your resume", "سيرتك الذاتية"},
	"createResume":               {"Resume created", "تم إنشاء السيرة الذاتية"},
	"updateResume":               {"Resume updated", "تم تحديث السيرة الذاتية"},
	"addResumeCourse":            {"Course added to your resume", "تمت إضافة الدورة إلى سيرتك"},
	"extractResumeFields":        {"Resume details extracted", "تم استخراج بيانات السيرة"},
	"getCertificates":            {"Your certificates", "شهاداتك"},
	"createCertificate":          {"Certificate issued", "تم إصدار الشهادة"},
	"getAppointments":            {"Your appointments", "مواعيدك"},
	"scheduleAppointment":        {"Appointment booked", "تم حجز الموعد"},
	"cancelAppointment":          {"Appointment cancelled", "تم إلغاء الموعد"},
	"getDomesticLaborRequests":   {"Your domestic labor requests", "طلبات العمالة المنزلية"},
	"createDomesticLaborRequest": {"Domestic labor request submitted", "تم تقديم طلب العمالة المنزلية"},
	"cancelDomesticLaborRequest": {"Domestic labor request cancelled", "تم إلغاء طلب العمالة المنزلية"},
	"getUserProfile":             {"Your profile", "ملفك الشخصي"},
}

func actionLabel(tool string) string {
	if l, ok := actionLabels[tool]; ok {
		return l[0]
	}
	return "Action"
}

// templated renders a reply from the results alone.
func templated(runs []toolRun, arabic bool) string {
	lang := 0
	if arabic {
		lang = 1
	}
	var lines []string
	for _, r := range runs {
		label := "Action"
		if l, ok := actionLabels[r.name]; ok {
			label = l[lang]
		}
		line := label
		if !r.result.Success {
			line = r.result.Message
		} else if r.result.Message != "" {
			line += ": " + r.result.Message
		}
		if r.result.TicketNumber != "" {
			if arabic {
				line += " (رقم التذكرة " + r.result.TicketNumber + ")"
			} else {
				line += " (ticket " + r.result.TicketNumber + ")"
			}
		}
		lines = append(lines, "- "+line)
	}
	return strings.Join(lines, "\n")
}

const (
	menuEnglish = `I can help you with:
- Employment contracts: view and renew
- Resume: create, update and add courses
- Certificates: salary, employment, experience and no objection
- Labor office appointments: book, view and cancel
- Domestic labor requests
- Support tickets`
	menuArabic = `يمكنني مساعدتك في:
- عقود العمل: الاستعلام والتجديد
- السيرة الذاتية: الإنشاء والتحديث وإضافة الدورات
- الشهادات: الراتب والعمل والخبرة وعدم الممانعة
- مواعيد مكتب العمل: الحجز والاستعلام والإلغاء
- طلبات العمالة المنزلية
- تذاكر الدعم`
)

func serviceMenu(arabic bool) string {
	if arabic {
		return menuArabic
	}
	return menuEnglish
}

var eventSuggestions = map[string][2]string{
	domain.EventContractExpiringSoon: {"Renew your employment contract", "جدد عقد العمل"},
	domain.EventUpcomingAppointment:  {"Review your upcoming appointment", "راجع موعدك القادم"},
	domain.EventTicketFollowUp:       {"Check on your open ticket", "تابع تذكرتك المفتوحة"},
	domain.EventUserDissatisfaction:  {"Talk to a support agent", "تحدث مع موظف الدعم"},
	domain.EventIncompleteResume:     {"Complete your resume", "أكمل سيرتك الذاتية"},
}

// suggestions lists follow-ups from pending events, then from a confident
// prediction.
func suggestions(entry proactive.Entry, arabic bool) []string {
	lang := 0
	if arabic {
		lang = 1
	}
	out := []string{}
	for _, ev := range dedupeEvents(entry.Events) {
		if s, ok := eventSuggestions[ev.EventType]; ok {
			out = appendUnique(out, s[lang])
		}
	}
	if p := entry.TopPrediction(); p != nil && p.Confidence > predictionThreshold {
		for _, svc := range p.SuggestedServices {
			out = appendUnique(out, strings.ReplaceAll(svc, "_", " "))
		}
	}
	return out
}
