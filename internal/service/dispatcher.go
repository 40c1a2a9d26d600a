package service

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	apperrors "github.com/recrutai/engage-server-go/internal/errors"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/repository"
	"github.com/recrutai/engage-server-go/internal/template"
)

// Dispatch modes.
const (
	DispatchSent     = "sent"
	DispatchEnqueued = "enqueued"
)

// DispatchRequest names a business event for a recipient. When Recipient is
// empty the phone of CandidateID is used.
type DispatchRequest struct {
	SessionID   string        `json:"sessionId"`
	EventTag    string        `json:"eventTag"`
	Recipient   string        `json:"recipient"`
	CandidateID *string       `json:"candidatoId,omitempty"`
	Vars        template.Vars `json:"vars"`
}

type DispatchResult struct {
	Mode        string                      `json:"mode"`
	MessageID   string                      `json:"messageId"`
	Status      model.OutboundMessageStatus `json:"status"`
	ScheduledAt time.Time                   `json:"scheduledAt"`
}

// Dispatcher turns business events into rendered outbound messages.
type Dispatcher struct {
	templates  repository.TemplateRepository
	candidates repository.CandidateRepository
	queue      *Queue
	loc        *time.Location
	now        func() time.Time
}

func NewDispatcher(templates repository.TemplateRepository, candidates repository.CandidateRepository, queue *Queue, loc *time.Location) *Dispatcher {
	if loc == nil {
		loc = time.UTC
	}
	return &Dispatcher{
		templates:  templates,
		candidates: candidates,
		queue:      queue,
		loc:        loc,
		now:        time.Now,
	}
}

// Dispatch renders the active template for req.EventTag. Inside the event's
// time window, or when it has none, the message is delivered right away;
// otherwise it is scheduled for the next window start.
func (d *Dispatcher) Dispatch(ctx context.Context, req DispatchRequest) (*DispatchResult, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	if strings.TrimSpace(req.EventTag) == "" {
		return nil, apperrors.MissingRequired("eventTag")
	}

	tpl, err := d.templates.FindActive(ctx, req.EventTag)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if tpl == nil {
		return nil, apperrors.TemplateMissing(req.EventTag)
	}

	recipient, vars, err := d.resolveRecipient(ctx, req)
	if err != nil {
		return nil, err
	}

	body := template.Render(tpl.BodyTemplate, vars)
	out := OutboundRequest{
		SessionID:    req.SessionID,
		RecipientRef: req.CandidateID,
		Recipient:    recipient,
		EventTag:     req.EventTag,
		Body:         body,
	}

	now := d.now()
	policy, err := d.templates.FindActiveWindow(ctx, req.EventTag)
	if err != nil {
		return nil, apperrors.Database(err)
	}

	if policy != nil {
		window, err := NewWindow(policy, d.loc)
		if err != nil {
			return nil, apperrors.ValidationError("invalid time window for " + req.EventTag + ": " + err.Error())
		}
		if !window.Allows(now) {
			next, err := window.NextStart(now)
			if err != nil {
				return nil, apperrors.Internal(err.Error())
			}
			out.ScheduledAt = next
			msg, err := d.queue.Enqueue(ctx, out)
			if err != nil {
				return nil, err
			}
			log.Info().
				Str("messageId", msg.ID).
				Str("eventTag", req.EventTag).
				Time("scheduledAt", msg.ScheduledAt).
				Msg("event outside time window, scheduled")
			return &DispatchResult{Mode: DispatchEnqueued, MessageID: msg.ID, Status: msg.Status, ScheduledAt: msg.ScheduledAt}, nil
		}
	}

	out.ScheduledAt = now
	msg, err := d.queue.Deliver(ctx, out)
	if err != nil {
		return nil, err
	}

	mode := DispatchSent
	if msg.Status != model.OutboundStatusSent {
		mode = DispatchEnqueued
	}
	log.Info().
		Str("messageId", msg.ID).
		Str("eventTag", req.EventTag).
		Str("mode", mode).
		Msg("event dispatched")
	return &DispatchResult{Mode: mode, MessageID: msg.ID, Status: msg.Status, ScheduledAt: msg.ScheduledAt}, nil
}

// resolveRecipient fills the recipient and the candidate name from the
// candidate record when the request does not carry them.
func (d *Dispatcher) resolveRecipient(ctx context.Context, req DispatchRequest) (string, template.Vars, error) {
	vars := req.Vars
	recipient := strings.TrimSpace(req.Recipient)

	if req.CandidateID == nil {
		if recipient == "" {
			return "", nil, apperrors.MissingRequired("recipient")
		}
		return recipient, vars, nil
	}

	candidate, err := d.candidates.FindByID(ctx, *req.CandidateID)
	if err != nil {
		return "", nil, apperrors.Database(err)
	}
	if candidate == nil {
		return "", nil, apperrors.NotFound("candidate")
	}

	if recipient == "" {
		recipient = candidate.Phone
	}
	if _, ok := vars["nome"]; !ok {
		merged := make(template.Vars, len(vars)+1)
		for k, v := range vars {
			merged[k] = v
		}
		merged["nome"] = template.String(candidate.FirstName())
		vars = merged
	}
	return recipient, vars, nil
}

// SaveTemplate creates or replaces the template for eventTag.
func (d *Dispatcher) SaveTemplate(ctx context.Context, eventTag, body string, active bool) (*model.Template, error) {
	if strings.TrimSpace(eventTag) == "" {
		return nil, apperrors.MissingRequired("eventTag")
	}
	if strings.TrimSpace(body) == "" {
		return nil, apperrors.MissingRequired("bodyTemplate")
	}

	saved, err := d.templates.Upsert(ctx, model.Template{EventTag: eventTag, BodyTemplate: body, Active: active})
	if err != nil {
		return nil, apperrors.Database(err)
	}
	log.Info().
		Str("eventTag", eventTag).
		Strs("placeholders", template.Placeholders(body)).
		Bool("active", active).
		Msg("template saved")
	return saved, nil
}
