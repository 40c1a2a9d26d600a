package model

import (
	"time"
)

type Session struct {
	ID              string       `db:"id" json:"id"`
	TenantID        string       `db:"tenant_id" json:"tenantId"`
	DisplayName     string       `db:"display_name" json:"displayName"`
	Address         *string      `db:"address" json:"address,omitempty"`
	State           SessionState `db:"state" json:"state"`
	Credentials     *string      `db:"credentials" json:"-"`
	LastConnectedAt *time.Time   `db:"last_connected_at" json:"lastConnectedAt,omitempty"`
	CreatedAt       time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt       time.Time    `db:"updated_at" json:"updatedAt"`
}

type CreateSessionParams struct {
	TenantID    string
	DisplayName string
}

// SessionEvent is an input to the connection lifecycle state machine.
type SessionEvent string

const (
	SessionEventPairingCode         SessionEvent = "pairing_code"
	SessionEventConnected           SessionEvent = "connected"
	SessionEventConnectionLost      SessionEvent = "connection_lost"
	SessionEventRestartRequested    SessionEvent = "restart_requested"
	SessionEventLoggedOut           SessionEvent = "logged_out"
	SessionEventStrategiesExhausted SessionEvent = "strategies_exhausted"
	SessionEventReset               SessionEvent = "reset"
)

var sessionTransitions = map[SessionEvent]map[SessionState]SessionState{
	SessionEventPairingCode: {
		SessionStateUninitialized: SessionStatePairing,
		SessionStatePairing:       SessionStatePairing,
		SessionStateDisconnected:  SessionStatePairing,
		SessionStateError:         SessionStatePairing,
	},
	SessionEventConnected: {
		SessionStateUninitialized: SessionStateConnected,
		SessionStatePairing:       SessionStateConnected,
		SessionStateConnected:     SessionStateConnected,
		SessionStateDisconnected:  SessionStateConnected,
		SessionStateError:         SessionStateConnected,
	},
	SessionEventConnectionLost: {
		SessionStatePairing:      SessionStateDisconnected,
		SessionStateConnected:    SessionStateDisconnected,
		SessionStateDisconnected: SessionStateDisconnected,
	},
	SessionEventRestartRequested: {
		SessionStatePairing:   SessionStatePairing,
		SessionStateConnected: SessionStatePairing,
	},
	SessionEventLoggedOut: {
		SessionStateUninitialized: SessionStateLoggedOut,
		SessionStatePairing:       SessionStateLoggedOut,
		SessionStateConnected:     SessionStateLoggedOut,
		SessionStateDisconnected:  SessionStateLoggedOut,
		SessionStateError:         SessionStateLoggedOut,
		SessionStateLoggedOut:     SessionStateLoggedOut,
	},
	SessionEventStrategiesExhausted: {
		SessionStateUninitialized: SessionStateError,
		SessionStatePairing:       SessionStateError,
		SessionStateDisconnected:  SessionStateError,
		SessionStateError:         SessionStateError,
	},
	SessionEventReset: {
		SessionStateUninitialized: SessionStateUninitialized,
		SessionStateDisconnected:  SessionStateUninitialized,
		SessionStateError:         SessionStateUninitialized,
		SessionStateLoggedOut:     SessionStateUninitialized,
	},
}

// Transition applies event to state. Rejected transitions return the
// unchanged state and false.
func Transition(state SessionState, event SessionEvent) (SessionState, bool) {
	next, ok := sessionTransitions[event][state]
	if !ok {
		return state, false
	}
	return next, true
}
