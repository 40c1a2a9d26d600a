package model

import (
	"time"

	"github.com/lib/pq"
)

type Template struct {
	EventTag     string    `db:"event_tag" json:"eventTag"`
	BodyTemplate string    `db:"body_template" json:"bodyTemplate"`
	Active       bool      `db:"active" json:"active"`
	UpdatedAt    time.Time `db:"updated_at" json:"updatedAt"`
}

// TimeWindowPolicy restricts delivery of an event to certain weekdays
// (0 = Sunday) between StartTime and EndTime, both "HH:MM".
type TimeWindowPolicy struct {
	EventTag        string        `db:"event_tag" json:"eventTag"`
	AllowedWeekdays pq.Int64Array `db:"allowed_weekdays" json:"allowedWeekdays"`
	StartTime       string        `db:"start_time" json:"startTime"`
	EndTime         string        `db:"end_time" json:"endTime"`
	Active          bool          `db:"active" json:"active"`
}

type QuickReplyMapping struct {
	EventTag   string `db:"event_tag" json:"eventTag"`
	OptionCode string `db:"option_code" json:"optionCode"`
	ActionName Action `db:"action_name" json:"actionName"`
}
