package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/recrutai/engage-server-go/internal/model"
)

// TemplateRepository reads the per-event messaging configuration: body
// templates, delivery windows and quick reply options.
type TemplateRepository interface {
	FindActive(ctx context.Context, eventTag string) (*model.Template, error)
	FindActiveWindow(ctx context.Context, eventTag string) (*model.TimeWindowPolicy, error)
	FindQuickReply(ctx context.Context, eventTag, optionCode string) (*model.QuickReplyMapping, error)
	Upsert(ctx context.Context, tpl model.Template) (*model.Template, error)
}

type templateRepo struct {
	db *sqlx.DB
}

func NewTemplateRepository(db *sqlx.DB) TemplateRepository {
	return &templateRepo{db: db}
}

func (r *templateRepo) FindActive(ctx context.Context, eventTag string) (*model.Template, error) {
	var tpl model.Template
	err := r.db.GetContext(ctx, &tpl, `
		SELECT * FROM templates WHERE event_tag = $1 AND active
	`, eventTag)
	return HandleNotFound(&tpl, err)
}

func (r *templateRepo) FindActiveWindow(ctx context.Context, eventTag string) (*model.TimeWindowPolicy, error) {
	var policy model.TimeWindowPolicy
	err := r.db.GetContext(ctx, &policy, `
		SELECT * FROM time_window_policies WHERE event_tag = $1 AND active
	`, eventTag)
	return HandleNotFound(&policy, err)
}

func (r *templateRepo) FindQuickReply(ctx context.Context, eventTag, optionCode string) (*model.QuickReplyMapping, error) {
	var mapping model.QuickReplyMapping
	err := r.db.GetContext(ctx, &mapping, `
		SELECT * FROM quick_reply_mappings WHERE event_tag = $1 AND option_code = $2
	`, eventTag, optionCode)
	return HandleNotFound(&mapping, err)
}

func (r *templateRepo) Upsert(ctx context.Context, tpl model.Template) (*model.Template, error) {
	var saved model.Template
	err := r.db.GetContext(ctx, &saved, `
		INSERT INTO templates (event_tag, body_template, active)
		VALUES ($1, $2, $3)
		ON CONFLICT (event_tag) DO UPDATE SET
			body_template = EXCLUDED.body_template,
			active = EXCLUDED.active,
			updated_at = NOW()
		RETURNING *
	`, tpl.EventTag, tpl.BodyTemplate, tpl.Active)
	if err != nil {
		return nil, err
	}
	return &saved, nil
}
