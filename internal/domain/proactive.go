package domain

import (
	"time"
)

// Proactive event types emitted by the trigger engine.
const (
	EventContractExpiringSoon = "contract_expiring_soon"
	EventUpcomingAppointment  = "upcoming_appointment"
	EventTicketFollowUp       = "ticket_follow_up_needed"
	EventUserDissatisfaction  = "user_dissatisfaction_detected"
	EventIncompleteResume     = "incomplete_resume_detected"
)

// ProactiveEvent is a situation detected without the user asking. Once
// created it only changes by being marked acted.
type ProactiveEvent struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	EventType       string         `json:"event_type"`
	Metadata        map[string]any `json:"metadata,omitempty"`
	SuggestedAction string         `json:"suggested_action"`
	SuggestedTool   string         `json:"suggested_tool,omitempty"`
	DetectedAt      time.Time      `json:"detected_at"`
	Acted           bool           `json:"acted"`
	ActionTaken     string         `json:"action_taken,omitempty"`
	ActionAt        *time.Time     `json:"action_at,omitempty"`
	CreatedAt       time.Time      `json:"created_at"`
	UpdatedAt       time.Time      `json:"updated_at"`
}

// Prediction is a heuristic best guess of the user's next need.
type Prediction struct {
	UserID            string   `json:"user_id"`
	PredictedNeed     string   `json:"predicted_need"`
	Confidence        float64  `json:"confidence"`
	Reasoning         []string `json:"reasoning"`
	SuggestedServices []string `json:"suggested_services"`
}
