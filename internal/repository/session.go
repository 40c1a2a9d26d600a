package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/recrutai/engage-server-go/internal/model"
)

type SessionRepository interface {
	FindByID(ctx context.Context, id string) (*model.Session, error)
	FindByState(ctx context.Context, state model.SessionState) ([]model.Session, error)
	FindByTenantID(ctx context.Context, tenantID string) ([]model.Session, error)
	Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error)
	UpdateState(ctx context.Context, id string, state model.SessionState) error
	MarkConnected(ctx context.Context, id string, address *string) error
	SaveCredentials(ctx context.Context, id string, sealed string) error
	// MarkLoggedOut erases stored credentials and sets state logged_out.
	MarkLoggedOut(ctx context.Context, id string) error
}

// sessionDB is an interface satisfied by both *sqlx.DB and *sqlx.Tx
type sessionDB interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
}

type sessionRepo struct {
	db sessionDB
}

func NewSessionRepository(db *sqlx.DB) SessionRepository {
	return &sessionRepo{db: db}
}

func (r *sessionRepo) FindByID(ctx context.Context, id string) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		SELECT * FROM sessions WHERE id = $1
	`, id)
	return HandleNotFound(&session, err)
}

func (r *sessionRepo) FindByState(ctx context.Context, state model.SessionState) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE state = $1
		ORDER BY last_connected_at DESC NULLS LAST, created_at ASC
	`, state)
	return sessions, err
}

func (r *sessionRepo) FindByTenantID(ctx context.Context, tenantID string) ([]model.Session, error) {
	var sessions []model.Session
	err := r.db.SelectContext(ctx, &sessions, `
		SELECT * FROM sessions
		WHERE tenant_id = $1
		ORDER BY created_at ASC
	`, tenantID)
	return sessions, err
}

func (r *sessionRepo) Create(ctx context.Context, params model.CreateSessionParams) (*model.Session, error) {
	var session model.Session
	err := r.db.GetContext(ctx, &session, `
		INSERT INTO sessions (tenant_id, display_name)
		VALUES ($1, $2)
		RETURNING *
	`, params.TenantID, params.DisplayName)
	if err != nil {
		return nil, err
	}
	return &session, nil
}

func (r *sessionRepo) UpdateState(ctx context.Context, id string, state model.SessionState) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = $2,
			updated_at = $3
		WHERE id = $1
	`, id, state, time.Now())
	return err
}

func (r *sessionRepo) MarkConnected(ctx context.Context, id string, address *string) error {
	now := time.Now()
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = 'connected',
			address = COALESCE($2, address),
			last_connected_at = $3,
			updated_at = $3
		WHERE id = $1
	`, id, address, now)
	return err
}

func (r *sessionRepo) SaveCredentials(ctx context.Context, id string, sealed string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			credentials = $2,
			updated_at = $3
		WHERE id = $1
	`, id, sealed, time.Now())
	return err
}

func (r *sessionRepo) MarkLoggedOut(ctx context.Context, id string) error {
	_, err := r.db.ExecContext(ctx, `
		UPDATE sessions SET
			state = 'logged_out',
			credentials = NULL,
			updated_at = $2
		WHERE id = $1
	`, id, time.Now())
	return err
}
