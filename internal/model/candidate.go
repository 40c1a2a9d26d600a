package model

import "time"

// Candidate is the recruitment platform's view of a person in a hiring
// pipeline. Only the columns the engagement subsystem reads or mutates are
// mapped.
type Candidate struct {
	ID                 string    `db:"id" json:"id"`
	TenantID           string    `db:"tenant_id" json:"tenantId"`
	Name               string    `db:"name" json:"name"`
	Phone              string    `db:"phone" json:"phone"`
	JobID              *string   `db:"job_id" json:"jobId,omitempty"`
	StageOrdinal       int       `db:"stage_ordinal" json:"stageOrdinal"`
	NeedsHuman         bool      `db:"needs_human" json:"needsHuman"`
	DocumentsRequested bool      `db:"documents_requested" json:"documentsRequested"`
	UpdatedAt          time.Time `db:"updated_at" json:"updatedAt"`
}

func (c *Candidate) FirstName() string {
	for i, r := range c.Name {
		if r == ' ' {
			return c.Name[:i]
		}
	}
	return c.Name
}

type InterviewStatus string

const (
	InterviewScheduled           InterviewStatus = "scheduled"
	InterviewConfirmed           InterviewStatus = "confirmed"
	InterviewRescheduleRequested InterviewStatus = "reschedule_requested"
)

type Interview struct {
	ID          string          `db:"id" json:"id"`
	CandidateID string          `db:"candidate_id" json:"candidateId"`
	ScheduledAt time.Time       `db:"scheduled_at" json:"scheduledAt"`
	Location    *string         `db:"location" json:"location,omitempty"`
	Status      InterviewStatus `db:"status" json:"status"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updatedAt"`
}

type Job struct {
	ID    string `db:"id" json:"id"`
	Title string `db:"title" json:"title"`
	URL   string `db:"url" json:"url"`
}
