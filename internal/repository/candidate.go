package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/recrutai/engage-server-go/internal/model"
)

// CandidateRepository is the narrow window onto the recruitment platform's
// candidate, interview and job records.
type CandidateRepository interface {
	FindByID(ctx context.Context, id string) (*model.Candidate, error)
	FindByPhone(ctx context.Context, phone string) (*model.Candidate, error)
	NextInterview(ctx context.Context, candidateID string, after time.Time) (*model.Interview, error)
	SetInterviewStatus(ctx context.Context, interviewID string, status model.InterviewStatus) error
	FlagForHuman(ctx context.Context, candidateID string) error
	MarkDocumentsRequested(ctx context.Context, candidateID string) error
	// AdvanceStage bumps the pipeline ordinal by one and returns the new value.
	AdvanceStage(ctx context.Context, candidateID string) (int, error)
	FindJob(ctx context.Context, jobID string) (*model.Job, error)
}

type candidateRepo struct {
	db *sqlx.DB
}

func NewCandidateRepository(db *sqlx.DB) CandidateRepository {
	return &candidateRepo{db: db}
}

func (r *candidateRepo) FindByID(ctx context.Context, id string) (*model.Candidate, error) {
	var c model.Candidate
	err := r.db.GetContext(ctx, &c, `SELECT * FROM candidates WHERE id = $1`, id)
	return HandleNotFound(&c, err)
}

// FindByPhone matches a normalized address against the stored phone with
// formatting and trunk zeros stripped. A stored national number (10 or 11
// digits) matches the tail of the address.
func (r *candidateRepo) FindByPhone(ctx context.Context, phone string) (*model.Candidate, error) {
	var c model.Candidate
	err := r.db.GetContext(ctx, &c, `
		SELECT c.* FROM candidates c,
			LATERAL (SELECT ltrim(regexp_replace(c.phone, '\D', '', 'g'), '0') AS digits) p
		WHERE p.digits = $1
			OR (length(p.digits) BETWEEN 10 AND 11 AND right($1, length(p.digits)) = p.digits)
		ORDER BY c.updated_at DESC
		LIMIT 1
	`, phone)
	return HandleNotFound(&c, err)
}

func (r *candidateRepo) NextInterview(ctx context.Context, candidateID string, after time.Time) (*model.Interview, error) {
	var i model.Interview
	err := r.db.GetContext(ctx, &i, `
		SELECT * FROM interviews
		WHERE candidate_id = $1 AND scheduled_at >= $2
		ORDER BY scheduled_at ASC
		LIMIT 1
	`, candidateID, after)
	return HandleNotFound(&i, err)
}

func (r *candidateRepo) SetInterviewStatus(ctx context.Context, interviewID string, status model.InterviewStatus) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE interviews SET
			status = $2,
			updated_at = $3
		WHERE id = $1
	`, interviewID, status, time.Now())
	return err
}

func (r *candidateRepo) FlagForHuman(ctx context.Context, candidateID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE candidates SET
			needs_human = TRUE,
			updated_at = $2
		WHERE id = $1
	`, candidateID, time.Now())
	return err
}

func (r *candidateRepo) MarkDocumentsRequested(ctx context.Context, candidateID string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE candidates SET
			documents_requested = TRUE,
			updated_at = $2
		WHERE id = $1
	`, candidateID, time.Now())
	return err
}

func (r *candidateRepo) AdvanceStage(ctx context.Context, candidateID string) (int, error) {
	var ordinal int
	err := r.db.GetContext(ctx, &ordinal, `
		UPDATE candidates SET
			stage_ordinal = stage_ordinal + 1,
			updated_at = $2
		WHERE id = $1
		RETURNING stage_ordinal
	`, candidateID, time.Now())
	return ordinal, err
}

func (r *candidateRepo) FindJob(ctx context.Context, jobID string) (*model.Job, error) {
	var j model.Job
	err := r.db.GetContext(ctx, &j, `SELECT * FROM jobs WHERE id = $1`, jobID)
	return HandleNotFound(&j, err)
}
