package handler

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	apperrors "github.com/recrutai/engage-server-go/internal/errors"
)

const defaultStatsDays = 7

type IntentHandler struct {
	router IntentService
	now    func() time.Time
}

func NewIntentHandler(router IntentService) *IntentHandler {
	return &IntentHandler{router: router, now: time.Now}
}

func (h *IntentHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/classify", h.Classify)
	r.Get("/stats", h.Stats)

	return r
}

type classifyRequest struct {
	Text string `json:"text"`
}

// POST /v1/intents/classify
func (h *IntentHandler) Classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(w, r, apperrors.MissingRequired("text"))
		return
	}

	writeJSON(w, http.StatusOK, h.router.Classify(r.Context(), req.Text))
}

// GET /v1/intents/stats?since=RFC3339 or ?days=N
func (h *IntentHandler) Stats(w http.ResponseWriter, r *http.Request) {
	since, err := h.parseSince(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	stats, err := h.router.Stats(r.Context(), since)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"since": since.Format(time.RFC3339),
		"stats": stats,
	})
}

func (h *IntentHandler) parseSince(r *http.Request) (time.Time, error) {
	q := r.URL.Query()
	if raw := q.Get("since"); raw != "" {
		since, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return time.Time{}, apperrors.InvalidInput("since", "must be an RFC3339 timestamp")
		}
		return since, nil
	}

	days := defaultStatsDays
	if raw := q.Get("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return time.Time{}, apperrors.InvalidInput("days", "must be a positive integer")
		}
		days = n
	}
	return h.now().AddDate(0, 0, -days), nil
}
