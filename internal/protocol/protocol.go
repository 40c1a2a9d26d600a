// Package protocol talks to the chat protocol gateway. The gateway owns the
// device link and exposes one websocket per session; this package turns that
// socket into lifecycle events and a send primitive.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
)

type EventType string

const (
	EventPairingCode  EventType = "pairing_code"
	EventConnected    EventType = "connected"
	EventDisconnected EventType = "disconnected"
	EventMessage      EventType = "message"
	EventCredentials  EventType = "credentials"
)

// Disconnect reasons reported by the gateway. Anything else is a transient
// loss the gateway recovers from on its own.
const (
	ReasonRestartRequested = "restart_requested"
	ReasonLoggedOut        = "logged_out"
	ReasonConnectionLost   = "connection_lost"
)

// ReasonGatewayLost is raised locally when the gateway socket itself drops.
// The client is unusable afterwards.
const ReasonGatewayLost = "gateway_lost"

// Event is a frame pushed by the gateway.
type Event struct {
	Type        EventType       `json:"type"`
	Code        string          `json:"code,omitempty"`
	Address     string          `json:"address,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	From        string          `json:"from,omitempty"`
	Text        string          `json:"text,omitempty"`
	Attachment  json.RawMessage `json:"attachment,omitempty"`
	Credentials json.RawMessage `json:"credentials,omitempty"`
}

// Handler receives gateway events on the connection's reader goroutine. It
// must not wait on Send of the same client, since acks are read by that
// goroutine.
type Handler func(Event)

var ErrClosed = errors.New("protocol connection closed")

type Client interface {
	Send(ctx context.Context, to, text string) error
	Logout(ctx context.Context) error
	Close() error
}

type Dialer interface {
	// Dial opens a session connection at endpoint. credentials is the
	// previously persisted credential blob, empty for a fresh pairing.
	Dial(ctx context.Context, endpoint, sessionID string, credentials json.RawMessage, handler Handler) (Client, error)
}
