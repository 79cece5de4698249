// Package domain contains core domain types for the citizen-services portal agent.
package domain

import (
	"time"
)

// UserProfile is the portal account record the agent reads display data from.
type UserProfile struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	FullName          string    `json:"full_name"`
	PreferredLanguage string    `json:"preferred_language,omitempty"`
	Email             string    `json:"email,omitempty"`
	Phone             string    `json:"phone,omitempty"`
	City              string    `json:"city,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DisplayName returns the first name used when addressing the user.
func (p *UserProfile) DisplayName() string {
	if p == nil {
		return ""
	}
	for i, r := range p.FullName {
		if r == ' ' {
			return p.FullName[:i]
		}
	}
	return p.FullName
}

// UserBehaviorProfile is the per-user personalization summary. It is keyed
// by user ID and upserted after every turn.
type UserBehaviorProfile struct {
	ID                         string      `json:"id"`
	UserID                     string      `json:"user_id"`
	LastMessage                string      `json:"last_message,omitempty"`
	Intent                     string      `json:"intent,omitempty"`
	PredictedNeed              string      `json:"predicted_need,omitempty"`
	LastSeenService            string      `json:"last_seen_service,omitempty"`
	NeedsPrediction            *Prediction `json:"needs_prediction,omitempty"`
	InteractionCount           int         `json:"interaction_count"`
	ConsecutiveComplaintsCount int         `json:"consecutive_complaints_count"`
	CreatedAt                  time.Time   `json:"created_at"`
	UpdatedAt                  time.Time   `json:"updated_at"`
}

// AgentFeedback is a user's rating of an agent reply.
type AgentFeedback struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Helpful   bool      `json:"helpful"`
	Rating    int       `json:"rating,omitempty"`
	Comment   string    `json:"comment,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
