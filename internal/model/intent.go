package model

import "time"

type IntentClassification struct {
	ID         string             `db:"id" json:"id"`
	SourceText string             `db:"source_text" json:"sourceText"`
	Label      Intent             `db:"label" json:"label"`
	Confidence float64            `db:"confidence" json:"confidence"`
	Tier       ClassificationTier `db:"tier" json:"tier"`
	CreatedAt  time.Time          `db:"created_at" json:"createdAt"`
}

type CreateClassificationParams struct {
	SourceText string
	Label      Intent
	Confidence float64
	Tier       ClassificationTier
}

type IntentCount struct {
	Label Intent `db:"label" json:"label"`
	Count int    `db:"count" json:"count"`
}

type TierCount struct {
	Tier  ClassificationTier `db:"tier" json:"tier"`
	Count int                `db:"count" json:"count"`
}

type ClassificationStats struct {
	Total       int           `json:"total"`
	SuccessRate float64       `json:"successRate"`
	ByTier      []TierCount   `json:"byTier"`
	TopIntents  []IntentCount `json:"topIntents"`
}
