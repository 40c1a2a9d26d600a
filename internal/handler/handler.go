package handler

import (
	"context"
	"time"

	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/service"
)

// SessionService is the part of the session manager exposed over HTTP and
// the realtime channel.
type SessionService interface {
	Create(ctx context.Context, tenantID, displayName string) (*model.Session, error)
	List(ctx context.Context, tenantID string) ([]model.Session, error)
	Initialize(ctx context.Context, sessionID string) error
	Status(ctx context.Context, sessionID string) (*service.SessionStatus, error)
	PairingImage(sessionID string) (string, error)
	Disconnect(ctx context.Context, sessionID string) error
	Send(ctx context.Context, sessionID, recipient, text string) error
	History(ctx context.Context, sessionID string, limit, offset int) ([]model.InboundMessage, error)
	CandidateHistory(ctx context.Context, candidateID string, limit int) ([]model.InboundMessage, error)
	LiveCount() int
}

type EventDispatcher interface {
	Dispatch(ctx context.Context, req service.DispatchRequest) (*service.DispatchResult, error)
	SaveTemplate(ctx context.Context, eventTag, body string, active bool) (*model.Template, error)
}

type QueueService interface {
	Sweep(ctx context.Context) (*service.SweepResult, error)
	ReplayFailed(ctx context.Context) (int64, error)
	PurgeOld(ctx context.Context, olderThanDays int) (int64, error)
	Stats(ctx context.Context) (*model.OutboundStats, error)
	Get(ctx context.Context, id string) (*model.OutboundMessage, error)
}

type IntentService interface {
	Classify(ctx context.Context, text string) service.Classification
	Stats(ctx context.Context, since time.Time) (*model.ClassificationStats, error)
}

type ActionService interface {
	Execute(ctx context.Context, action model.Action, ac service.ActionContext) (*service.ActionResult, error)
}
