package domain

import (
	"time"
)

// Ticket statuses and categories.
const (
	TicketOpen   = "open"
	TicketClosed = "closed"

	CategoryAgentAction = "agent_action"
)

// Record statuses shared by the service collections.
const (
	ContractActive     = "active"
	ContractExpired    = "expired"
	ContractTerminated = "terminated"

	AppointmentScheduled = "scheduled"
	AppointmentCancelled = "cancelled"
	AppointmentCompleted = "completed"

	CertificateIssued = "issued"

	RequestPending   = "pending"
	RequestCancelled = "cancelled"
)

// Ticket is a support ticket. Status moves from open to closed only.
type Ticket struct {
	ID           string     `json:"id"`
	TicketNumber string     `json:"ticket_number"`
	UserID       string     `json:"user_id"`
	Title        string     `json:"title"`
	Category     string     `json:"category"`
	Description  string     `json:"description"`
	Priority     string     `json:"priority,omitempty"`
	Status       string     `json:"status"`
	Resolution   string     `json:"resolution,omitempty"`
	ClosedAt     *time.Time `json:"closed_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// EmploymentContract is a labor contract between the user and an employer.
type EmploymentContract struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	EmployerName string    `json:"employer_name"`
	JobTitle     string    `json:"job_title,omitempty"`
	Salary       float64   `json:"salary,omitempty"`
	Status       string    `json:"status"`
	StartDate    time.Time `json:"start_date"`
	EndDate      time.Time `json:"end_date"`
	RenewalCount int       `json:"renewal_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// Resume is the user's job-seeker resume.
type Resume struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	FullName        string    `json:"full_name,omitempty"`
	Headline        string    `json:"headline,omitempty"`
	Summary         string    `json:"summary,omitempty"`
	JobTitle        string    `json:"job_title,omitempty"`
	Skills          []string  `json:"skills,omitempty"`
	ExperienceYears *int      `json:"experience_years,omitempty"`
	Education       string    `json:"education,omitempty"`
	City            string    `json:"city,omitempty"`
	Phone           string    `json:"phone,omitempty"`
	Email           string    `json:"email,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// ResumeCourse is a training course attached to a resume.
type ResumeCourse struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	ResumeID    string    `json:"resume_id"`
	Title       string    `json:"title"`
	Provider    string    `json:"provider,omitempty"`
	CompletedOn string    `json:"completed_on,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Certificate is an issued service certificate (salary, employment, ...).
type Certificate struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	CertificateType   string    `json:"certificate_type"`
	CertificateNumber string    `json:"certificate_number"`
	Purpose           string    `json:"purpose,omitempty"`
	ContractID        string    `json:"contract_id,omitempty"`
	Status            string    `json:"status"`
	IssuedAt          time.Time `json:"issued_at"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// LaborAppointment is a booked visit to a labor office.
type LaborAppointment struct {
	ID              string    `json:"id"`
	UserID          string    `json:"user_id"`
	Office          string    `json:"office"`
	ServiceType     string    `json:"service_type"`
	AppointmentDate time.Time `json:"appointment_date"`
	Status          string    `json:"status"`
	Notes           string    `json:"notes,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// DomesticLaborRequest is a request to recruit a domestic worker.
type DomesticLaborRequest struct {
	ID                string    `json:"id"`
	UserID            string    `json:"user_id"`
	RequestNumber     string    `json:"request_number"`
	WorkerProfession  string    `json:"worker_profession"`
	WorkerNationality string    `json:"worker_nationality,omitempty"`
	Notes             string    `json:"notes,omitempty"`
	Status            string    `json:"status"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// DaysUntil returns the whole days from now until t, rounded up.
func DaysUntil(now, t time.Time) int {
	d := t.Sub(now)
	days := int(d / (24 * time.Hour))
	if d%(24*time.Hour) > 0 {
		days++
	}
	return days
}
