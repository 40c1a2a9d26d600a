package audit

import (
	"net/http"
	"time"

	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// EventType names an operator action that changes session or queue state.
type EventType string

const (
	EventSessionCreate     EventType = "session_create"
	EventSessionInitialize EventType = "session_initialize"
	EventSessionDisconnect EventType = "session_disconnect"
	EventTemplateSave      EventType = "template_save"
	EventQueueSweep        EventType = "queue_sweep"
	EventQueueReplay       EventType = "queue_replay"
	EventQueuePurge        EventType = "queue_purge"
	EventActionExecute     EventType = "action_execute"
)

type Event struct {
	Type      EventType
	SessionID string
	TenantID  string
	IP        string
	UserAgent string
	RequestID string
	Details   map[string]interface{}
}

func Log(event Event) {
	logger := log.With().
		Str("audit", "operator").
		Str("eventType", string(event.Type)).
		Time("timestamp", time.Now()).
		Logger()

	if event.SessionID != "" {
		logger = logger.With().Str("sessionId", event.SessionID).Logger()
	}
	if event.TenantID != "" {
		logger = logger.With().Str("tenantId", event.TenantID).Logger()
	}
	if event.IP != "" {
		logger = logger.With().Str("ip", event.IP).Logger()
	}
	if event.UserAgent != "" {
		logger = logger.With().Str("userAgent", event.UserAgent).Logger()
	}
	if event.RequestID != "" {
		logger = logger.With().Str("requestId", event.RequestID).Logger()
	}

	logEvent := logger.Info()
	for k, v := range event.Details {
		logEvent = addField(logEvent, k, v)
	}
	logEvent.Msg("operator audit event")
}

func addField(e *zerolog.Event, key string, value interface{}) *zerolog.Event {
	switch v := value.(type) {
	case string:
		return e.Str(key, v)
	case int:
		return e.Int(key, v)
	case int64:
		return e.Int64(key, v)
	case bool:
		return e.Bool(key, v)
	default:
		return e.Interface(key, v)
	}
}

// LogFromRequest fills the caller fields from r. RealIP has already
// rewritten RemoteAddr when the router installs it.
func LogFromRequest(r *http.Request, event Event) {
	event.IP = clientIP(r)
	event.UserAgent = r.UserAgent()
	event.RequestID = chimiddleware.GetReqID(r.Context())
	Log(event)
}

func clientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		return forwarded
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}
	return r.RemoteAddr
}
