package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/recrutai/engage-server-go/internal/bridge"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/service"
)

type routerFixture struct {
	router     http.Handler
	sessions   *mockSessions
	dispatcher *mockDispatcher
	queue      *mockQueue
	intents    *mockIntents
	actions    *mockActions
	bridge     *bridge.Bridge
}

func newRouterFixture(t *testing.T, checks map[string]Pinger) *routerFixture {
	t.Helper()
	f := &routerFixture{
		sessions:   &mockSessions{},
		dispatcher: &mockDispatcher{},
		queue:      &mockQueue{},
		intents:    &mockIntents{},
		actions:    &mockActions{},
		bridge:     bridge.New(newMemTransport()),
	}
	t.Cleanup(f.bridge.Close)

	f.router = NewRouter(RouterDeps{
		Sessions:   f.sessions,
		Dispatcher: f.dispatcher,
		Queue:      f.queue,
		Intents:    f.intents,
		Actions:    f.actions,
		Hub:        f.bridge,
		Gatherer:   prometheus.NewRegistry(),
		Checks:     checks,
	})
	return f
}

func (f *routerFixture) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestSessionRoutes(t *testing.T) {
	t.Run("create returns 201", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("Create", mock.Anything, "tenant-1", "Recrutamento").
			Return(&model.Session{ID: "s1", TenantID: "tenant-1", State: model.SessionStateUninitialized}, nil)

		rec := f.do(http.MethodPost, "/v1/sessions", `{"tenantId":"tenant-1","displayName":"Recrutamento"}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "s1", body["id"])
		assert.Equal(t, "uninitialized", body["state"])
	})

	t.Run("create validation error maps to 400", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("Create", mock.Anything, "", "").Return(nil, apperrors.MissingRequired("tenantId"))

		rec := f.do(http.MethodPost, "/v1/sessions", `{}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "MISSING_REQUIRED", decodeBody(t, rec)["code"])
	})

	t.Run("malformed body is rejected", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		rec := f.do(http.MethodPost, "/v1/sessions", `{"tenantId":`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		f.sessions.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("initialize returns current status", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("Initialize", mock.Anything, "s1").Return(nil)
		f.sessions.On("Status", mock.Anything, "s1").Return(&service.SessionStatus{
			Session: model.Session{ID: "s1", State: model.SessionStatePairing},
			Live:    true,
		}, nil)

		rec := f.do(http.MethodPost, "/v1/sessions/s1/initialize", "")

		assert.Equal(t, http.StatusAccepted, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "pairing", body["state"])
		assert.Equal(t, true, body["live"])
	})

	t.Run("unknown session is 404", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("Status", mock.Anything, "nope").Return(nil, apperrors.NotFound("session"))

		rec := f.do(http.MethodGet, "/v1/sessions/nope/status", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("qr image", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("PairingImage", "s1").Return("data:image/png;base64,AAAA", nil)

		rec := f.do(http.MethodGet, "/v1/sessions/s1/qr", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "data:image/png;base64,AAAA", decodeBody(t, rec)["qrCode"])
	})

	t.Run("disconnect", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("Disconnect", mock.Anything, "s1").Return(nil)

		rec := f.do(http.MethodPost, "/v1/sessions/s1/disconnect", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "logged_out", decodeBody(t, rec)["state"])
	})

	t.Run("send requires recipient and text", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		rec := f.do(http.MethodPost, "/v1/sessions/s1/messages", `{"text":"oi"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)

		rec = f.do(http.MethodPost, "/v1/sessions/s1/messages", `{"to":"11999990000"}`)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		f.sessions.AssertNotCalled(t, "Send", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("send on a disconnected session is 503", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("Send", mock.Anything, "s1", "11999990000", "oi").Return(apperrors.SessionNotConnected("s1"))

		rec := f.do(http.MethodPost, "/v1/sessions/s1/messages", `{"to":"11999990000","text":"oi"}`)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "SESSION_NOT_CONNECTED", decodeBody(t, rec)["code"])
	})

	t.Run("send ok", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("Send", mock.Anything, "s1", "11999990000", "oi").Return(nil)

		rec := f.do(http.MethodPost, "/v1/sessions/s1/messages", `{"to":"11999990000","text":"oi"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["sent"])
	})

	t.Run("inbound history is paginated", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("History", mock.Anything, "s1", DefaultLimit, 0).Return([]model.InboundMessage{}, nil).Once()
		f.sessions.On("History", mock.Anything, "s1", 10, 20).Return([]model.InboundMessage{{ID: "in-1"}}, nil).Once()

		rec := f.do(http.MethodGet, "/v1/sessions/s1/messages?limit=500", "")
		assert.Equal(t, http.StatusOK, rec.Code)

		rec = f.do(http.MethodGet, "/v1/sessions/s1/messages?limit=10&offset=20", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Len(t, body["messages"], 1)
		assert.Equal(t, map[string]any{"limit": float64(10), "offset": float64(20)}, body["pagination"])
		f.sessions.AssertExpectations(t)
	})

	t.Run("candidate history", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("CandidateHistory", mock.Anything, "cand-1", 5).
			Return([]model.InboundMessage{{ID: "in-1"}, {ID: "in-2"}}, nil)

		rec := f.do(http.MethodGet, "/v1/candidates/cand-1/messages?limit=5", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "cand-1", body["candidatoId"])
		assert.Len(t, body["messages"], 2)
	})

	t.Run("list by tenant", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.sessions.On("List", mock.Anything, "tenant-1").Return([]model.Session{{ID: "s1"}, {ID: "s2"}}, nil)

		rec := f.do(http.MethodGet, "/v1/sessions?tenantId=tenant-1", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, decodeBody(t, rec)["sessions"], 2)
	})
}

func TestEventRoutes(t *testing.T) {
	t.Run("sent dispatch is 200", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.dispatcher.On("Dispatch", mock.Anything, mock.MatchedBy(func(req service.DispatchRequest) bool {
			return req.SessionID == "s1" && req.EventTag == "entrevista_agendada" && req.Vars["nome"].String() == "Maria"
		})).Return(&service.DispatchResult{Mode: service.DispatchSent, MessageID: "msg_1", Status: model.OutboundStatusSent}, nil)

		rec := f.do(http.MethodPost, "/v1/events/dispatch",
			`{"sessionId":"s1","eventTag":"entrevista_agendada","recipient":"11999990000","vars":{"nome":"Maria"}}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "sent", decodeBody(t, rec)["mode"])
	})

	t.Run("enqueued dispatch is 202", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).
			Return(&service.DispatchResult{Mode: service.DispatchEnqueued, MessageID: "msg_2", Status: model.OutboundStatusPending}, nil)

		rec := f.do(http.MethodPost, "/v1/events/dispatch", `{"sessionId":"s1","eventTag":"lembrete","recipient":"11999990000"}`)

		assert.Equal(t, http.StatusAccepted, rec.Code)
	})

	t.Run("missing template is 422", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.dispatcher.On("Dispatch", mock.Anything, mock.Anything).Return(nil, apperrors.TemplateMissing("desconhecido"))

		rec := f.do(http.MethodPost, "/v1/events/dispatch", `{"sessionId":"s1","eventTag":"desconhecido","recipient":"1"}`)

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, "TEMPLATE_MISSING", decodeBody(t, rec)["code"])
	})

	t.Run("save template defaults to active", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.dispatcher.On("SaveTemplate", mock.Anything, "entrevista_agendada", "Olá {{nome}}", true).
			Return(&model.Template{EventTag: "entrevista_agendada", BodyTemplate: "Olá {{nome}}", Active: true}, nil)

		rec := f.do(http.MethodPut, "/v1/templates/entrevista_agendada", `{"bodyTemplate":"Olá {{nome}}"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		f.dispatcher.AssertExpectations(t)
	})
}

func TestQueueRoutes(t *testing.T) {
	t.Run("stats", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.queue.On("Stats", mock.Anything).Return(&model.OutboundStats{Pending: 2, Sent: 5, Total: 7}, nil)

		rec := f.do(http.MethodGet, "/v1/queue/stats", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(7), decodeBody(t, rec)["total"])
	})

	t.Run("message lookup", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.queue.On("Get", mock.Anything, "msg-1").
			Return(&model.OutboundMessage{ID: "msg-1", Status: model.OutboundStatusFailed}, nil)
		f.queue.On("Get", mock.Anything, "nope").Return(nil, apperrors.NotFound("outbound message"))

		rec := f.do(http.MethodGet, "/v1/queue/messages/msg-1", "")
		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "failed", decodeBody(t, rec)["status"])

		assert.Equal(t, http.StatusNotFound, f.do(http.MethodGet, "/v1/queue/messages/nope", "").Code)
	})

	t.Run("concurrent sweep is 409", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.queue.On("Sweep", mock.Anything).Return(nil, apperrors.SweepInProgress())

		rec := f.do(http.MethodPost, "/v1/queue/sweep", "")

		assert.Equal(t, http.StatusConflict, rec.Code)
	})

	t.Run("replay", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.queue.On("ReplayFailed", mock.Anything).Return(int64(3), nil)

		rec := f.do(http.MethodPost, "/v1/queue/replay", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(3), decodeBody(t, rec)["replayed"])
	})

	t.Run("purge parameter validation", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/queue/purge", "").Code)
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodPost, "/v1/queue/purge?olderThanDays=abc", "").Code)
		f.queue.AssertNotCalled(t, "PurgeOld", mock.Anything, mock.Anything)
	})

	t.Run("purge", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.queue.On("PurgeOld", mock.Anything, 30).Return(int64(12), nil)

		rec := f.do(http.MethodPost, "/v1/queue/purge?olderThanDays=30", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, float64(12), decodeBody(t, rec)["purged"])
	})
}

func TestIntentRoutes(t *testing.T) {
	t.Run("classify", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.intents.On("Classify", mock.Anything, "quero remarcar").
			Return(service.Classification{Label: model.IntentRescheduleInterview, Confidence: 0.8, Tier: model.TierLocal})

		rec := f.do(http.MethodPost, "/v1/intents/classify", `{"text":"quero remarcar"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, string(model.IntentRescheduleInterview), body["label"])
		assert.Equal(t, string(model.TierLocal), body["tier"])
	})

	t.Run("classify requires text", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		rec := f.do(http.MethodPost, "/v1/intents/classify", `{"text":"  "}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("stats since timestamp", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
		f.intents.On("Stats", mock.Anything, mock.MatchedBy(func(t time.Time) bool { return t.Equal(since) })).
			Return(&model.ClassificationStats{Total: 4, SuccessRate: 0.75}, nil)

		rec := f.do(http.MethodGet, "/v1/intents/stats?since=2026-03-01T00:00:00Z", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		stats := decodeBody(t, rec)["stats"].(map[string]any)
		assert.Equal(t, 0.75, stats["successRate"])
	})

	t.Run("stats rejects bad input", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/intents/stats?since=yesterday", "").Code)
		assert.Equal(t, http.StatusBadRequest, f.do(http.MethodGet, "/v1/intents/stats?days=0", "").Code)
	})
}

func TestIntentHandler_parseSince(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	h := NewIntentHandler(nil)
	h.now = func() time.Time { return now }

	tests := []struct {
		name  string
		query string
		want  time.Time
	}{
		{"default window", "", now.AddDate(0, 0, -defaultStatsDays)},
		{"days", "?days=3", now.AddDate(0, 0, -3)},
		{"since wins over days", "?since=2026-01-01T00:00:00Z&days=3", time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := h.parseSince(httptest.NewRequest(http.MethodGet, "/v1/intents/stats"+tc.query, nil))
			require.NoError(t, err)
			assert.True(t, tc.want.Equal(got), "got %s", got)
		})
	}
}

func TestActionRoutes(t *testing.T) {
	t.Run("executes action", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		ac := service.ActionContext{SessionID: "s1", CandidateID: "cand-1"}
		f.actions.On("Execute", mock.Anything, model.ActionConfirmInterview, ac).
			Return(&service.ActionResult{Action: model.ActionConfirmInterview, Success: true, Reply: "Perfeito"}, nil)

		rec := f.do(http.MethodPost, "/v1/actions/confirmar_entrevista", `{"sessionId":"s1","candidatoId":"cand-1"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, true, decodeBody(t, rec)["success"])
	})

	t.Run("failed action is still a result", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.actions.On("Execute", mock.Anything, model.ActionSendJobLink, mock.Anything).
			Return(&service.ActionResult{Action: model.ActionSendJobLink, Error: "ACTION_FAILED: boom"}, nil)

		rec := f.do(http.MethodPost, "/v1/actions/enviar_link_vaga", `{"sessionId":"s1","candidatoId":"cand-1"}`)

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, false, body["success"])
		assert.Contains(t, body["error"], "ACTION_FAILED")
	})

	t.Run("unknown action is 400", func(t *testing.T) {
		f := newRouterFixture(t, nil)
		f.actions.On("Execute", mock.Anything, model.Action("voar"), mock.Anything).
			Return(nil, apperrors.UnknownAction("voar"))

		rec := f.do(http.MethodPost, "/v1/actions/voar", `{"sessionId":"s1","candidatoId":"cand-1"}`)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "UNKNOWN_ACTION", decodeBody(t, rec)["code"])
	})
}

func TestHealthAndMetrics(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		f := newRouterFixture(t, map[string]Pinger{
			"database": PingFunc(func(context.Context) error { return nil }),
		})
		f.sessions.live = 2

		rec := f.do(http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		body := decodeBody(t, rec)
		assert.Equal(t, "ok", body["status"])
		assert.Equal(t, map[string]any{"database": "ok"}, body["checks"])
		assert.Equal(t, float64(2), body["liveSessions"])
	})

	t.Run("degraded when a dependency is down", func(t *testing.T) {
		f := newRouterFixture(t, map[string]Pinger{
			"database": PingFunc(func(context.Context) error { return nil }),
			"redis":    PingFunc(func(context.Context) error { return errors.New("connection refused") }),
		})

		rec := f.do(http.MethodGet, "/health", "")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, "degraded", decodeBody(t, rec)["status"])
	})

	t.Run("metrics endpoint", func(t *testing.T) {
		f := newRouterFixture(t, nil)

		rec := f.do(http.MethodGet, "/metrics", "")

		assert.Equal(t, http.StatusOK, rec.Code)
	})
}
