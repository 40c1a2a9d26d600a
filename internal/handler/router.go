package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/recrutai/engage-server-go/internal/config"
	"github.com/recrutai/engage-server-go/internal/middleware"
)

// Pinger reports whether a backing store is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error { return f(ctx) }

type RouterDeps struct {
	Sessions   SessionService
	Dispatcher EventDispatcher
	Queue      QueueService
	Intents    IntentService
	Actions    ActionService
	Hub        Hub

	// Limiter is optional; without it the API is not rate limited.
	Limiter      middleware.Limiter
	RateLimit    int
	IsProduction bool

	Gatherer prometheus.Gatherer
	Checks   map[string]Pinger
}

func NewRouter(deps RouterDeps) chi.Router {
	sessionHandler := NewSessionHandler(deps.Sessions)
	eventsHandler := NewEventsHandler(deps.Dispatcher)
	queueHandler := NewQueueHandler(deps.Queue)
	intentHandler := NewIntentHandler(deps.Intents)
	actionHandler := NewActionHandler(deps.Actions)
	wsHandler := NewWSHandler(deps.Hub, deps.Sessions)

	bodyLimit := middleware.NewBodyLimitMiddleware(0)
	securityHeaders := middleware.NewSecurityHeadersMiddleware(deps.IsProduction)

	gatherer := deps.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestLogger)
	r.Use(middleware.Metrics)
	r.Use(chimiddleware.Recoverer)

	r.Get("/health", healthHandler(deps.Checks, deps.Sessions))
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	// The realtime channel is long lived and stays outside the request timeout.
	r.Get("/ws", wsHandler.ServeHTTP)

	r.Route("/v1", func(r chi.Router) {
		r.Use(chimiddleware.Timeout(config.ServerRequestTimeout))
		r.Use(bodyLimit.Handler)
		r.Use(securityHeaders.Handler)
		if deps.Limiter != nil {
			r.Use(middleware.NewIPRateLimitMiddleware(deps.Limiter, deps.RateLimit, time.Minute, "api").Handler)
		}

		r.Mount("/sessions", sessionHandler.Routes())
		r.Get("/candidates/{id}/messages", sessionHandler.CandidateHistory)
		r.Post("/events/dispatch", eventsHandler.Dispatch)
		r.Put("/templates/{eventTag}", eventsHandler.SaveTemplate)
		r.Mount("/queue", queueHandler.Routes())
		r.Mount("/intents", intentHandler.Routes())
		r.Post("/actions/{action}", actionHandler.Execute)
	})

	return r
}

func healthHandler(checks map[string]Pinger, sessions SessionService) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), config.DBPingTimeout)
		defer cancel()

		status := http.StatusOK
		results := make(map[string]string, len(checks))
		for name, check := range checks {
			if err := check.Ping(ctx); err != nil {
				results[name] = err.Error()
				status = http.StatusServiceUnavailable
				continue
			}
			results[name] = "ok"
		}

		state := "ok"
		if status != http.StatusOK {
			state = "degraded"
		}
		writeJSON(w, status, map[string]any{
			"status":    state,
			"checks":       results,
			"liveSessions": sessions.LiveCount(),
			"timestamp":    time.Now().UnixMilli(),
		})
	}
}
