package service

import (
	"context"

	"github.com/recrutai/engage-server-go/internal/bridge"
	"github.com/recrutai/engage-server-go/internal/model"
)

// Sender delivers a text to a recipient through a tenant session.
type Sender interface {
	Send(ctx context.Context, sessionID, recipient, text string) error
}

// Notifier is the realtime fan-out used by the services.
type Notifier interface {
	Emit(event bridge.Event, topics ...string)
	EmitSession(sessionID, tenantID string, event bridge.Event)
}

// Inbound is a recorded inbound message together with its resolved sender.
type Inbound struct {
	SessionID string
	TenantID  string
	Address   string
	Message   *model.InboundMessage
	Candidate *model.Candidate
}

// InboundResponder reacts to inbound messages from known candidates.
type InboundResponder interface {
	Respond(ctx context.Context, in Inbound)
}
