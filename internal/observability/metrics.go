package observability

import "github.com/prometheus/client_golang/prometheus"

var (
	APIRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engage_api_requests_total", Help: "API requests"},
		[]string{"route", "status"},
	)
	Sends = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engage_send_total", Help: "Protocol send outcomes"},
		[]string{"result"},
	)
	SendLatency = prometheus.NewHistogram(
		prometheus.HistogramOpts{Name: "engage_send_latency_seconds", Help: "Protocol send latency"},
	)
	Sweeps = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engage_sweep_total", Help: "Queue sweep runs"},
		[]string{"result"},
	)
	SweepMessages = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engage_sweep_messages_total", Help: "Messages processed by sweeps"},
		[]string{"outcome"},
	)
	Classifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engage_classifications_total", Help: "Intent classifications"},
		[]string{"tier", "label"},
	)
	Actions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engage_actions_total", Help: "Executed actions"},
		[]string{"action", "result"},
	)
	SessionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "engage_session_transitions_total", Help: "Session state transitions"},
		[]string{"state"},
	)
	LiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{Name: "engage_live_sessions", Help: "Sessions with a live protocol connection in this process"},
	)
	BridgeDropped = prometheus.NewCounter(
		prometheus.CounterOpts{Name: "engage_bridge_dropped_total", Help: "Realtime events dropped on a full buffer"},
	)
)

func Register(reg prometheus.Registerer) {
	reg.MustRegister(APIRequests, Sends, SendLatency, Sweeps, SweepMessages,
		Classifications, Actions, SessionTransitions, LiveSessions, BridgeDropped)
}
