package handler

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/recrutai/engage-server-go/internal/audit"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
)

type QueueHandler struct {
	queue QueueService
}

func NewQueueHandler(queue QueueService) *QueueHandler {
	return &QueueHandler{queue: queue}
}

func (h *QueueHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/stats", h.Stats)
	r.Post("/sweep", h.Sweep)
	r.Post("/replay", h.Replay)
	r.Post("/purge", h.Purge)
	r.Get("/messages/{id}", h.GetMessage)

	return r
}

// GET /v1/queue/stats
func (h *QueueHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.queue.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// GET /v1/queue/messages/{id}
func (h *QueueHandler) GetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// POST /v1/queue/sweep
func (h *QueueHandler) Sweep(w http.ResponseWriter, r *http.Request) {
	result, err := h.queue.Sweep(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventQueueSweep,
		Details: map[string]interface{}{"sent": result.Sent, "failed": result.Failed},
	})
	writeJSON(w, http.StatusOK, result)
}

// POST /v1/queue/replay
func (h *QueueHandler) Replay(w http.ResponseWriter, r *http.Request) {
	n, err := h.queue.ReplayFailed(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventQueueReplay,
		Details: map[string]interface{}{"replayed": n},
	})
	writeJSON(w, http.StatusOK, map[string]int64{"replayed": n})
}

// POST /v1/queue/purge?olderThanDays=N
func (h *QueueHandler) Purge(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("olderThanDays")
	if raw == "" {
		writeError(w, r, apperrors.MissingRequired("olderThanDays"))
		return
	}
	days, err := strconv.Atoi(raw)
	if err != nil {
		writeError(w, r, apperrors.InvalidInput("olderThanDays", "must be an integer"))
		return
	}

	n, err := h.queue.PurgeOld(r.Context(), days)
	if err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventQueuePurge,
		Details: map[string]interface{}{"purged": n, "olderThanDays": days},
	})
	writeJSON(w, http.StatusOK, map[string]int64{"purged": n})
}
