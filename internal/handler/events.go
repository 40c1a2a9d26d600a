package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recrutai/engage-server-go/internal/audit"
	"github.com/recrutai/engage-server-go/internal/service"
)

type EventsHandler struct {
	dispatcher EventDispatcher
}

func NewEventsHandler(dispatcher EventDispatcher) *EventsHandler {
	return &EventsHandler{dispatcher: dispatcher}
}

// POST /v1/events/dispatch
func (h *EventsHandler) Dispatch(w http.ResponseWriter, r *http.Request) {
	var req service.DispatchRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	result, err := h.dispatcher.Dispatch(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}

	status := http.StatusOK
	if result.Mode == service.DispatchEnqueued {
		status = http.StatusAccepted
	}
	writeJSON(w, status, result)
}

type saveTemplateRequest struct {
	BodyTemplate string `json:"bodyTemplate"`
	Active       *bool  `json:"active"`
}

// PUT /v1/templates/{eventTag}
func (h *EventsHandler) SaveTemplate(w http.ResponseWriter, r *http.Request) {
	var req saveTemplateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	active := true
	if req.Active != nil {
		active = *req.Active
	}

	tpl, err := h.dispatcher.SaveTemplate(r.Context(), chi.URLParam(r, "eventTag"), req.BodyTemplate, active)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:    audit.EventTemplateSave,
		Details: map[string]interface{}{"eventTag": tpl.EventTag, "active": tpl.Active},
	})
	writeJSON(w, http.StatusOK, tpl)
}
