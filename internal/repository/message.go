package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/recrutai/engage-server-go/internal/model"
)

type InboundMessageRepository interface {
	Create(ctx context.Context, params model.CreateInboundMessageParams) (*model.InboundMessage, error)
	FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.InboundMessage, error)
	FindByRecipientRef(ctx context.Context, recipientRef string, limit int) ([]model.InboundMessage, error)
}

type inboundMessageRepo struct {
	db *sqlx.DB
}

func NewInboundMessageRepository(db *sqlx.DB) InboundMessageRepository {
	return &inboundMessageRepo{db: db}
}

func (r *inboundMessageRepo) Create(ctx context.Context, params model.CreateInboundMessageParams) (*model.InboundMessage, error) {
	var msg model.InboundMessage
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO inbound_messages
			(session_id, sender_address, text, attachment, resolved_recipient_ref, received_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *
	`, params.SessionID, params.SenderAddress, params.Text, params.Attachment,
		params.ResolvedRecipientRef, params.ReceivedAt)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *inboundMessageRepo) FindBySessionID(ctx context.Context, sessionID string, limit, offset int) ([]model.InboundMessage, error) {
	var msgs []model.InboundMessage
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM inbound_messages
		WHERE session_id = $1
		ORDER BY received_at DESC
		LIMIT $2 OFFSET $3
	`, sessionID, limit, offset)
	return msgs, err
}

func (r *inboundMessageRepo) FindByRecipientRef(ctx context.Context, recipientRef string, limit int) ([]model.InboundMessage, error) {
	var msgs []model.InboundMessage
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM inbound_messages
		WHERE resolved_recipient_ref = $1
		ORDER BY received_at DESC
		LIMIT $2
	`, recipientRef, limit)
	return msgs, err
}

// Outbound Message Repository

type OutboundMessageRepository interface {
	FindByID(ctx context.Context, id string) (*model.OutboundMessage, error)
	Create(ctx context.Context, params model.CreateOutboundMessageParams) (*model.OutboundMessage, error)
	FindDue(ctx context.Context, now time.Time, limit int) ([]model.OutboundMessage, error)
	// Claim moves a pending message to processing. It reports false when
	// another worker already claimed it.
	Claim(ctx context.Context, id string) (bool, error)
	MarkSent(ctx context.Context, id string) error
	// RecordFailure increments attempt_count, stores lastError and moves the
	// message back to pending or to failed once attempts are exhausted. The
	// resulting status is returned.
	RecordFailure(ctx context.Context, id string, lastError string) (model.OutboundMessageStatus, error)
	ReclaimStale(ctx context.Context, before time.Time) (int64, error)
	ResetFailed(ctx context.Context) (int64, error)
	DeleteSentBefore(ctx context.Context, before time.Time) (int64, error)
	Stats(ctx context.Context) (*model.OutboundStats, error)
	// LatestSentEventTag returns the event tag of the most recent sent
	// message to address, or "" when nothing was sent.
	LatestSentEventTag(ctx context.Context, address string) (string, error)
}

type outboundMessageRepo struct {
	db *sqlx.DB
}

func NewOutboundMessageRepository(db *sqlx.DB) OutboundMessageRepository {
	return &outboundMessageRepo{db: db}
}

func (r *outboundMessageRepo) FindByID(ctx context.Context, id string) (*model.OutboundMessage, error) {
	var msg model.OutboundMessage
	err := r.db.GetContext(ctx, &msg, `SELECT * FROM outbound_messages WHERE id = $1`, id)
	return HandleNotFound(&msg, err)
}

func (r *outboundMessageRepo) Create(ctx context.Context, params model.CreateOutboundMessageParams) (*model.OutboundMessage, error) {
	var msg model.OutboundMessage
	err := r.db.GetContext(ctx, &msg, `
		INSERT INTO outbound_messages
			(id, session_id, recipient_ref, recipient_address, event_tag,
			 rendered_body, scheduled_at, max_attempts)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *
	`, params.ID, params.SessionID, params.RecipientRef, params.RecipientAddress,
		params.EventTag, params.RenderedBody, params.ScheduledAt, params.MaxAttempts)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func (r *outboundMessageRepo) FindDue(ctx context.Context, now time.Time, limit int) ([]model.OutboundMessage, error) {
	var msgs []model.OutboundMessage
	err := r.db.SelectContext(ctx, &msgs, `
		SELECT * FROM outbound_messages
		WHERE status = 'pending' AND scheduled_at <= $1
		ORDER BY scheduled_at ASC, created_at ASC
		LIMIT $2
	`, now, limit)
	return msgs, err
}

func (r *outboundMessageRepo) Claim(ctx context.Context, id string) (bool, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbound_messages SET
			status = 'processing',
			updated_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, time.Now())
	if err != nil {
		return false, err
	}
	n, err := result.RowsAffected()
	return n == 1, err
}

func (r *outboundMessageRepo) MarkSent(ctx context.Context, id string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE outbound_messages SET
			status = 'sent',
			sent_at = $2,
			last_error = NULL,
			updated_at = $2
		WHERE id = $1 AND status = 'processing'
	`, id, now)
	return err
}

func (r *outboundMessageRepo) RecordFailure(ctx context.Context, id string, lastError string) (model.OutboundMessageStatus, error) {
	var status model.OutboundMessageStatus
	err := r.db.GetContext(ctx, &status, `
		UPDATE outbound_messages SET
			attempt_count = attempt_count + 1,
			last_error = $2,
			status = CASE WHEN attempt_count + 1 >= max_attempts THEN 'failed' ELSE 'pending' END,
			updated_at = $3
		WHERE id = $1 AND status = 'processing'
		RETURNING status
	`, id, lastError, time.Now())
	return status, err
}

func (r *outboundMessageRepo) ReclaimStale(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbound_messages SET
			status = 'pending',
			updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *outboundMessageRepo) ResetFailed(ctx context.Context) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE outbound_messages SET
			status = 'pending',
			attempt_count = 0,
			last_error = NULL,
			updated_at = NOW()
		WHERE status = 'failed'
	`)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *outboundMessageRepo) DeleteSentBefore(ctx context.Context, before time.Time) (int64, error) {
	result, err := r.db.ExecContext(ctx, `
		DELETE FROM outbound_messages
		WHERE status = 'sent' AND created_at < $1
	`, before)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (r *outboundMessageRepo) Stats(ctx context.Context) (*model.OutboundStats, error) {
	var stats model.OutboundStats
	err := r.db.GetContext(ctx, &stats, `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'sent') AS sent,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed,
			COUNT(*) AS total
		FROM outbound_messages
	`)
	if err != nil {
		return nil, err
	}
	return &stats, nil
}

func (r *outboundMessageRepo) LatestSentEventTag(ctx context.Context, address string) (string, error) {
	var tag string
	err := r.db.GetContext(ctx, &tag, `
		SELECT event_tag FROM outbound_messages
		WHERE recipient_address = $1 AND status = 'sent'
		ORDER BY sent_at DESC
		LIMIT 1
	`, address)
	found, err := HandleNotFound(&tag, err)
	if err != nil || found == nil {
		return "", err
	}
	return *found, nil
}
