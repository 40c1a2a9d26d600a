package model

import (
	"encoding/json"
	"time"
)

type OutboundMessage struct {
	ID               string                `db:"id" json:"id"`
	SessionID        string                `db:"session_id" json:"sessionId"`
	RecipientRef     *string               `db:"recipient_ref" json:"recipientRef,omitempty"`
	RecipientAddress string                `db:"recipient_address" json:"recipientAddress"`
	EventTag         string                `db:"event_tag" json:"eventTag"`
	RenderedBody     string                `db:"rendered_body" json:"renderedBody"`
	ScheduledAt      time.Time             `db:"scheduled_at" json:"scheduledAt"`
	Status           OutboundMessageStatus `db:"status" json:"status"`
	AttemptCount     int                   `db:"attempt_count" json:"attemptCount"`
	MaxAttempts      int                   `db:"max_attempts" json:"maxAttempts"`
	LastError        *string               `db:"last_error" json:"lastError,omitempty"`
	SentAt           *time.Time            `db:"sent_at" json:"sentAt,omitempty"`
	CreatedAt        time.Time             `db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time             `db:"updated_at" json:"updatedAt"`
}

// ToEventData returns JSON data for realtime message events
func (m *OutboundMessage) ToEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"id":           m.ID,
		"direction":    "outbound",
		"sessionId":    m.SessionID,
		"candidatoId":  m.RecipientRef,
		"to":           m.RecipientAddress,
		"eventTag":     m.EventTag,
		"text":         m.RenderedBody,
		"status":       m.Status,
		"attemptCount": m.AttemptCount,
		"sentAt":       m.SentAt,
	})
	return data
}

type CreateOutboundMessageParams struct {
	ID               string
	SessionID        string
	RecipientRef     *string
	RecipientAddress string
	EventTag         string
	RenderedBody     string
	ScheduledAt      time.Time
	MaxAttempts      int
}

// OutboundStats counts outbound messages per status.
type OutboundStats struct {
	Pending    int `db:"pending" json:"pending"`
	Processing int `db:"processing" json:"processing"`
	Sent       int `db:"sent" json:"sent"`
	Failed     int `db:"failed" json:"failed"`
	Total      int `db:"total" json:"total"`
}

type InboundMessage struct {
	ID                   string           `db:"id" json:"id"`
	SessionID            string           `db:"session_id" json:"sessionId"`
	SenderAddress        string           `db:"sender_address" json:"senderAddress"`
	Text                 string           `db:"text" json:"text"`
	Attachment           *json.RawMessage `db:"attachment" json:"attachment,omitempty"`
	ResolvedRecipientRef *string          `db:"resolved_recipient_ref" json:"resolvedRecipientRef,omitempty"`
	ReceivedAt           time.Time        `db:"received_at" json:"receivedAt"`
}

// ToEventData returns JSON data for realtime message events
func (m *InboundMessage) ToEventData() json.RawMessage {
	data, _ := json.Marshal(map[string]any{
		"id":          m.ID,
		"direction":   "inbound",
		"sessionId":   m.SessionID,
		"candidatoId": m.ResolvedRecipientRef,
		"from":        m.SenderAddress,
		"text":        m.Text,
		"attachment":  m.Attachment,
		"receivedAt":  m.ReceivedAt,
	})
	return data
}

type CreateInboundMessageParams struct {
	SessionID            string
	SenderAddress        string
	Text                 string
	Attachment           *json.RawMessage
	ResolvedRecipientRef *string
	ReceivedAt           time.Time
}
