package agent

// IntentGeneral is recorded when a turn used no tools.
const IntentGeneral = "general_conversation"

// toolIntents maps tools to the intent recorded in the behavior profile.
// Mutations come before reads; the first tool of the turn found in this
// list decides the intent.
var toolIntents = []struct {
	tool   string
	intent string
}{
	{"renewContract", "contract_renewal"},
	{"createCertificate", "certificate_request"},
	{"scheduleAppointment", "appointment_booking"},
	{"cancelAppointment", "appointment_cancellation"},
	{"createDomesticLaborRequest", "domestic_labor_request"},
	{"cancelDomesticLaborRequest", "domestic_labor_cancellation"},
	{"createResume", "resume_creation"},
	{"updateResume", "resume_update"},
	{"addResumeCourse", "resume_update"},
	{"extractResumeFields", "resume_update"},
	{"closeTicket", "ticket_closure"},
	{"createTicket", "support_request"},
	{"getContracts", "contract_inquiry"},
	{"getCertificates", "certificate_inquiry"},
	{"getAppointments", "appointment_inquiry"},
	{"getDomesticLaborRequests", "domestic_labor_inquiry"},
	{"getResume", "resume_inquiry"},
	{"getTickets", "ticket_inquiry"},
	{"getUserProfile", "profile_inquiry"},
}

// IntentForTools derives the turn intent from the tools it used.
func IntentForTools(used []string) string {
	if len(used) == 0 {
		return IntentGeneral
	}
	set := make(map[string]bool, len(used))
	for _, name := range used {
		set[name] = true
	}
	for _, ti := range toolIntents {
		if set[ti.tool] {
			return ti.intent
		}
	}
	return IntentGeneral
}
