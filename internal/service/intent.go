package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/classifier"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/observability"
	"github.com/recrutai/engage-server-go/internal/repository"
)

const (
	noMatchConfidence = 0.3
	topIntentsLimit   = 5
)

// Classification is the tagged outcome of the intent router.
type Classification struct {
	Label      model.Intent             `json:"label"`
	Confidence float64                  `json:"confidence"`
	Tier       model.ClassificationTier `json:"tier"`
}

// IntentRouter labels inbound replies. The external classifier is tried
// first; when it is missing or fails the local keyword table is used.
type IntentRouter struct {
	external classifier.Classifier
	repo     repository.ClassificationRepository
}

// NewIntentRouter accepts a nil external classifier.
func NewIntentRouter(external classifier.Classifier, repo repository.ClassificationRepository) *IntentRouter {
	return &IntentRouter{external: external, repo: repo}
}

// Classify never fails. Every call is recorded.
func (r *IntentRouter) Classify(ctx context.Context, text string) Classification {
	result := r.classify(ctx, text)

	observability.Classifications.WithLabelValues(string(result.Tier), string(result.Label)).Inc()

	if _, err := r.repo.Create(ctx, model.CreateClassificationParams{
		SourceText: text,
		Label:      result.Label,
		Confidence: result.Confidence,
		Tier:       result.Tier,
	}); err != nil {
		log.Warn().Err(err).Msg("failed to record classification")
	}

	log.Debug().
		Str("label", string(result.Label)).
		Float64("confidence", result.Confidence).
		Str("tier", string(result.Tier)).
		Msg("message classified")
	return result
}

func (r *IntentRouter) classify(ctx context.Context, text string) Classification {
	if strings.TrimSpace(text) == "" {
		return Classification{Label: model.IntentOther, Confidence: noMatchConfidence, Tier: model.TierNone}
	}

	if r.external != nil {
		res, err := r.external.Classify(ctx, text)
		if err == nil {
			return Classification{Label: res.Intent, Confidence: res.Confidence, Tier: model.TierExternal}
		}
		log.Warn().
			Err(apperrors.Classification(err)).
			Str("provider", r.external.Name()).
			Msg("external classifier failed, using keyword table")
	}

	if label, confidence, ok := matchKeywords(text); ok {
		return Classification{Label: label, Confidence: confidence, Tier: model.TierLocal}
	}
	return Classification{Label: model.IntentOther, Confidence: noMatchConfidence, Tier: model.TierNone}
}

// Stats summarizes classifications recorded since the given time.
func (r *IntentRouter) Stats(ctx context.Context, since time.Time) (*model.ClassificationStats, error) {
	total, matched, err := r.repo.CountSince(ctx, since)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	byTier, err := r.repo.CountByTierSince(ctx, since)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	top, err := r.repo.TopIntentsSince(ctx, since, topIntentsLimit)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	stats := &model.ClassificationStats{
		Total:      total,
		ByTier:     byTier,
		TopIntents: top,
	}
	if total > 0 {
		stats.SuccessRate = float64(matched) / float64(total)
	}
	return stats, nil
}
