package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/recrutai/engage-server-go/internal/audit"
	apperrors "github.com/recrutai/engage-server-go/internal/errors"
)

type SessionHandler struct {
	sessions SessionService
}

func NewSessionHandler(sessions SessionService) *SessionHandler {
	return &SessionHandler{sessions: sessions}
}

func (h *SessionHandler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Post("/", h.CreateSession)
	r.Get("/", h.ListSessions)
	r.Post("/{id}/initialize", h.InitializeSession)
	r.Get("/{id}/status", h.GetSessionStatus)
	r.Get("/{id}/qr", h.GetPairingImage)
	r.Post("/{id}/disconnect", h.DisconnectSession)
	r.Post("/{id}/messages", h.SendMessage)
	r.Get("/{id}/messages", h.ListInbound)

	return r
}

type createSessionRequest struct {
	TenantID    string `json:"tenantId"`
	DisplayName string `json:"displayName"`
}

// POST /v1/sessions
func (h *SessionHandler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	session, err := h.sessions.Create(r.Context(), req.TenantID, req.DisplayName)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventSessionCreate,
		SessionID: session.ID,
		TenantID:  session.TenantID,
	})
	writeJSON(w, http.StatusCreated, session)
}

// GET /v1/sessions?tenantId=
func (h *SessionHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context(), r.URL.Query().Get("tenantId"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// POST /v1/sessions/{id}/initialize
func (h *SessionHandler) InitializeSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Initialize(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionInitialize, SessionID: id})

	status, err := h.sessions.Status(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusAccepted, status)
}

// GET /v1/sessions/{id}/status
func (h *SessionHandler) GetSessionStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.sessions.Status(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, status)
}

// GET /v1/sessions/{id}/qr
func (h *SessionHandler) GetPairingImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	image, err := h.sessions.PairingImage(id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "qrCode": image})
}

// POST /v1/sessions/{id}/disconnect
func (h *SessionHandler) DisconnectSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.sessions.Disconnect(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	audit.LogFromRequest(r, audit.Event{Type: audit.EventSessionDisconnect, SessionID: id})

	writeJSON(w, http.StatusOK, map[string]string{"sessionId": id, "state": "logged_out"})
}

type sendMessageRequest struct {
	To   string `json:"to"`
	Text string `json:"text"`
}

// POST /v1/sessions/{id}/messages
func (h *SessionHandler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req sendMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.To == "" {
		writeError(w, r, apperrors.MissingRequired("to"))
		return
	}
	if req.Text == "" {
		writeError(w, r, apperrors.MissingRequired("text"))
		return
	}

	if err := h.sessions.Send(r.Context(), id, req.To, req.Text); err != nil {
		log.Warn().Err(err).Str("sessionId", id).Msg("direct send failed")
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"sessionId": id, "sent": true})
}

// GET /v1/sessions/{id}/messages
func (h *SessionHandler) ListInbound(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	page := ParsePagination(r)

	messages, err := h.sessions.History(r.Context(), id, page.Limit, page.Offset)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"messages":   messages,
		"pagination": page,
	})
}

// GET /v1/candidates/{id}/messages
func (h *SessionHandler) CandidateHistory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	page := ParsePagination(r)

	messages, err := h.sessions.CandidateHistory(r.Context(), id, page.Limit)
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"candidatoId": id,
		"messages":    messages,
	})
}
