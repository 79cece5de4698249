// Package store provides the record store the agent reads and mutates.
//
// Records are JSON documents grouped into named collections. Every record
// carries id, user_id, created_at and updated_at; the store owns the two
// timestamps.
package store

import (
	"context"
	"errors"
)

// Collection names.
const (
	Tickets               = "tickets"
	EmploymentContracts   = "employment_contracts"
	Resumes               = "resumes"
	ResumeCourses         = "resume_courses"
	Certificates          = "certificates"
	LaborAppointments     = "labor_appointments"
	DomesticLaborRequests = "domestic_labor_requests"
	Conversations         = "conversations"
	UserBehavior          = "user_behavior"
	ProactiveEvents       = "proactive_events"
	AgentActionsLog       = "agent_actions_log"
	AgentFeedback         = "agent_feedback"
	UserProfiles          = "user_profile"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("record not found")

// Query narrows a find. Where matches top-level document fields by
// equality. Results are newest first unless Asc is set.
type Query struct {
	Where   map[string]any
	OrderBy string
	Asc     bool
	Limit   int
}

// Store defines the record store used by tools, triggers and the executor.
type Store interface {
	// FindByID decodes the record into out, or returns ErrNotFound.
	FindByID(ctx context.Context, collection, id string, out any) error

	// FindByUser decodes the user's matching records into out, which must
	// point to a slice.
	FindByUser(ctx context.Context, collection, userID string, q Query, out any) error

	// FindAll is FindByUser without the user scope. Used by background scans.
	FindAll(ctx context.Context, collection string, q Query, out any) error

	// Insert stores doc (a pointer to a record struct), assigning id when
	// empty and both timestamps, and writes them back into doc.
	Insert(ctx context.Context, collection string, doc any) error

	// Update merges patch into an existing record and bumps updated_at.
	Update(ctx context.Context, collection, id string, patch map[string]any) error

	// Upsert merges patch into the record with the given id, creating it
	// for userID when missing.
	Upsert(ctx context.Context, collection, id, userID string, patch map[string]any) error

	// Ping verifies database connectivity.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
