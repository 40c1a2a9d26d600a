package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/recrutai/engage-server-go/internal/model"
)

type ClassificationRepository interface {
	Create(ctx context.Context, params model.CreateClassificationParams) (*model.IntentClassification, error)
	CountSince(ctx context.Context, since time.Time) (total int, matched int, err error)
	CountByTierSince(ctx context.Context, since time.Time) ([]model.TierCount, error)
	TopIntentsSince(ctx context.Context, since time.Time, limit int) ([]model.IntentCount, error)
}

type classificationRepo struct {
	db *sqlx.DB
}

func NewClassificationRepository(db *sqlx.DB) ClassificationRepository {
	return &classificationRepo{db: db}
}

func (r *classificationRepo) Create(ctx context.Context, params model.CreateClassificationParams) (*model.IntentClassification, error) {
	var c model.IntentClassification
	err := r.db.GetContext(ctx, &c, `
		INSERT INTO intent_classifications (source_text, label, confidence, tier)
		VALUES ($1, $2, $3, $4)
		RETURNING *
	`, params.SourceText, params.Label, params.Confidence, params.Tier)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *classificationRepo) CountSince(ctx context.Context, since time.Time) (int, int, error) {
	var row struct {
		Total   int `db:"total"`
		Matched int `db:"matched"`
	}
	err := r.db.GetContext(ctx, &row, `
		SELECT
			COUNT(*) AS total,
			COUNT(*) FILTER (WHERE label <> 'other') AS matched
		FROM intent_classifications
		WHERE created_at >= $1
	`, since)
	return row.Total, row.Matched, err
}

func (r *classificationRepo) CountByTierSince(ctx context.Context, since time.Time) ([]model.TierCount, error) {
	var counts []model.TierCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT tier, COUNT(*) AS count
		FROM intent_classifications
		WHERE created_at >= $1
		GROUP BY tier
		ORDER BY count DESC
	`, since)
	return counts, err
}

func (r *classificationRepo) TopIntentsSince(ctx context.Context, since time.Time, limit int) ([]model.IntentCount, error) {
	var counts []model.IntentCount
	err := r.db.SelectContext(ctx, &counts, `
		SELECT label, COUNT(*) AS count
		FROM intent_classifications
		WHERE created_at >= $1
		GROUP BY label
		ORDER BY count DESC, label ASC
		LIMIT $2
	`, since, limit)
	return counts, err
}
