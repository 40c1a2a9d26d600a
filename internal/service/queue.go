package service

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/bridge"
	"github.com/recrutai/engage-server-go/internal/config"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/observability"
	redisclient "github.com/recrutai/engage-server-go/internal/redis"
	"github.com/recrutai/engage-server-go/internal/repository"
	"github.com/recrutai/engage-server-go/internal/util"
)

type QueueConfig struct {
	CountryCode string
	BatchSize   int
	StaleAfter  time.Duration
	MaxAttempts int
}

// OutboundRequest describes a message to persist in the send queue.
type OutboundRequest struct {
	SessionID    string
	RecipientRef *string
	// Recipient is normalized to a country-code-prefixed address.
	Recipient   string
	EventTag    string
	Body        string
	ScheduledAt time.Time
	MaxAttempts int
}

type SweepResult struct {
	Reclaimed int64 `json:"reclaimed"`
	Processed int   `json:"processed"`
	Sent      int   `json:"sent"`
	Retried   int   `json:"retried"`
	Failed    int   `json:"failed"`
	Skipped   int   `json:"skipped"`
}

// Queue is the persistent outbound message queue. Delivery is at least
// once: a send that succeeds but whose status update fails will be retried.
type Queue struct {
	cfg      QueueConfig
	repo     repository.OutboundMessageRepository
	sender   Sender
	notifier Notifier

	sweeping atomic.Bool
	now      func() time.Time
}

func NewQueue(cfg QueueConfig, repo repository.OutboundMessageRepository, sender Sender, notifier Notifier) *Queue {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 200
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = config.DefaultMaxAttempts
	}
	return &Queue{
		cfg:      cfg,
		repo:     repo,
		sender:   sender,
		notifier: notifier,
		now:      time.Now,
	}
}

// Enqueue persists req as pending. It is sent by the next sweep at or after
// its scheduled time.
func (q *Queue) Enqueue(ctx context.Context, req OutboundRequest) (*model.OutboundMessage, error) {
	if strings.TrimSpace(req.SessionID) == "" {
		return nil, apperrors.MissingRequired("sessionId")
	}
	address := util.NormalizePhone(req.Recipient, q.cfg.CountryCode)
	if address == "" {
		return nil, apperrors.InvalidInput("recipient", "must contain a phone number")
	}
	if strings.TrimSpace(req.Body) == "" {
		return nil, apperrors.MissingRequired("body")
	}

	scheduledAt := req.ScheduledAt
	if scheduledAt.IsZero() {
		scheduledAt = q.now()
	}
	maxAttempts := req.MaxAttempts
	if maxAttempts <= 0 {
		maxAttempts = q.cfg.MaxAttempts
	}

	msg, err := q.repo.Create(ctx, model.CreateOutboundMessageParams{
		ID:               util.NewMessageID(),
		SessionID:        req.SessionID,
		RecipientRef:     req.RecipientRef,
		RecipientAddress: address,
		EventTag:         req.EventTag,
		RenderedBody:     req.Body,
		ScheduledAt:      scheduledAt,
		MaxAttempts:      maxAttempts,
	})
	if err != nil {
		return nil, apperrors.Database(err)
	}

	log.Debug().
		Str("messageId", msg.ID).
		Str("sessionId", msg.SessionID).
		Str("eventTag", msg.EventTag).
		Time("scheduledAt", msg.ScheduledAt).
		Msg("outbound message enqueued")
	return msg, nil
}

// Deliver enqueues req and makes one immediate delivery attempt. A failed
// attempt leaves the message to the sweep; only persistence errors are
// returned.
func (q *Queue) Deliver(ctx context.Context, req OutboundRequest) (*model.OutboundMessage, error) {
	msg, err := q.Enqueue(ctx, req)
	if err != nil {
		return nil, err
	}

	status, err := q.attempt(ctx, msg)
	if err != nil {
		return nil, err
	}
	if status != "" {
		msg.Status = status
	}
	return msg, nil
}

// Sweep delivers due pending messages. Only one sweep runs at a time; a
// concurrent call fails with SWEEP_IN_PROGRESS.
func (q *Queue) Sweep(ctx context.Context) (*SweepResult, error) {
	if !q.sweeping.CompareAndSwap(false, true) {
		observability.Sweeps.WithLabelValues("skipped").Inc()
		return nil, apperrors.SweepInProgress()
	}
	defer q.sweeping.Store(false)

	start := time.Now()
	now := q.now()
	result := &SweepResult{}

	reclaimed, err := q.repo.ReclaimStale(ctx, now.Add(-q.cfg.StaleAfter))
	if err != nil {
		observability.Sweeps.WithLabelValues("error").Inc()
		return nil, apperrors.Database(err)
	}
	result.Reclaimed = reclaimed
	if reclaimed > 0 {
		log.Warn().Int64("count", reclaimed).Msg("reclaimed stale processing messages")
	}

	due, err := q.repo.FindDue(ctx, now, q.cfg.BatchSize)
	if err != nil {
		observability.Sweeps.WithLabelValues("error").Inc()
		return nil, apperrors.Database(err)
	}

	for i := range due {
		if ctx.Err() != nil {
			break
		}
		status, err := q.attempt(ctx, &due[i])
		if err != nil {
			log.Error().Err(err).Str("messageId", due[i].ID).Msg("sweep attempt failed to persist")
			continue
		}
		result.Processed++
		switch status {
		case model.OutboundStatusSent:
			result.Sent++
		case model.OutboundStatusPending:
			result.Retried++
		case model.OutboundStatusFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	observability.Sweeps.WithLabelValues("ok").Inc()
	observability.SweepMessages.WithLabelValues("sent").Add(float64(result.Sent))
	observability.SweepMessages.WithLabelValues("retried").Add(float64(result.Retried))
	observability.SweepMessages.WithLabelValues("failed").Add(float64(result.Failed))

	log.Info().
		Int("due", len(due)).
		Int("sent", result.Sent).
		Int("retried", result.Retried).
		Int("failed", result.Failed).
		Int("skipped", result.Skipped).
		Dur("took", time.Since(start)).
		Msg("queue sweep finished")
	return result, nil
}

// ReplayFailed returns every failed message to pending with a fresh attempt
// budget.
func (q *Queue) ReplayFailed(ctx context.Context) (int64, error) {
	n, err := q.repo.ResetFailed(ctx)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	log.Info().Int64("count", n).Msg("failed messages replayed")
	return n, nil
}

// PurgeOld deletes sent messages created more than olderThanDays ago.
func (q *Queue) PurgeOld(ctx context.Context, olderThanDays int) (int64, error) {
	if olderThanDays < 1 {
		return 0, apperrors.InvalidInput("olderThanDays", "must be at least 1")
	}
	cutoff := q.now().AddDate(0, 0, -olderThanDays)
	n, err := q.repo.DeleteSentBefore(ctx, cutoff)
	if err != nil {
		return 0, apperrors.Database(err)
	}
	log.Info().Int64("count", n).Int("olderThanDays", olderThanDays).Msg("sent messages purged")
	return n, nil
}

// Get returns one outbound message with its delivery state.
func (q *Queue) Get(ctx context.Context, id string) (*model.OutboundMessage, error) {
	msg, err := q.repo.FindByID(ctx, id)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	if msg == nil {
		return nil, apperrors.NotFound("outbound message")
	}
	return msg, nil
}

func (q *Queue) Stats(ctx context.Context) (*model.OutboundStats, error) {
	stats, err := q.repo.Stats(ctx)
	if err != nil {
		return nil, apperrors.Database(err)
	}
	return stats, nil
}

// attempt claims msg and sends it once. It returns the resulting status, or
// "" when the claim was lost to another worker.
func (q *Queue) attempt(ctx context.Context, msg *model.OutboundMessage) (model.OutboundMessageStatus, error) {
	claimed, err := q.repo.Claim(ctx, msg.ID)
	if err != nil {
		return "", apperrors.Database(err)
	}
	if !claimed {
		return "", nil
	}

	sendErr := q.sender.Send(ctx, msg.SessionID, msg.RecipientAddress, msg.RenderedBody)
	if sendErr == nil {
		if err := q.repo.MarkSent(ctx, msg.ID); err != nil {
			return "", apperrors.Database(fmt.Errorf("mark sent %s: %w", msg.ID, err))
		}
		now := q.now()
		msg.Status = model.OutboundStatusSent
		msg.SentAt = &now
		q.emitSent(msg)
		return model.OutboundStatusSent, nil
	}

	status, err := q.repo.RecordFailure(ctx, msg.ID, sendErr.Error())
	if err != nil {
		return "", apperrors.Database(fmt.Errorf("record failure %s: %w", msg.ID, err))
	}
	msg.Status = status
	msg.AttemptCount++
	errText := sendErr.Error()
	msg.LastError = &errText

	event := log.Warn()
	if status == model.OutboundStatusFailed {
		event = log.Error()
	}
	event.
		Err(sendErr).
		Str("messageId", msg.ID).
		Str("sessionId", msg.SessionID).
		Int("attempt", msg.AttemptCount).
		Int("maxAttempts", msg.MaxAttempts).
		Str("status", string(status)).
		Msg("outbound delivery attempt failed")
	return status, nil
}

func (q *Queue) emitSent(msg *model.OutboundMessage) {
	topics := []string{redisclient.Topic(bridge.TopicSession, msg.SessionID)}
	if msg.RecipientRef != nil {
		topics = append(topics, redisclient.Topic(bridge.TopicCandidate, *msg.RecipientRef))
	}
	q.notifier.Emit(bridge.NewEvent(bridge.EventMessageSent, msg.ToEventData()), topics...)
}
