package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/recrutai/engage-server-go/internal/audit"
	"github.com/recrutai/engage-server-go/internal/model"
	"github.com/recrutai/engage-server-go/internal/service"
)

type ActionHandler struct {
	actions ActionService
}

func NewActionHandler(actions ActionService) *ActionHandler {
	return &ActionHandler{actions: actions}
}

// POST /v1/actions/{action}
func (h *ActionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var ac service.ActionContext
	if err := decodeJSON(r, &ac); err != nil {
		writeError(w, r, err)
		return
	}

	action := model.Action(chi.URLParam(r, "action"))
	result, err := h.actions.Execute(r.Context(), action, ac)
	if err != nil {
		writeError(w, r, err)
		return
	}

	audit.LogFromRequest(r, audit.Event{
		Type:      audit.EventActionExecute,
		SessionID: ac.SessionID,
		Details: map[string]interface{}{
			"action":      string(action),
			"candidatoId": ac.CandidateID,
			"success":     result.Success,
		},
	})

	// A failed handler is still a result: the candidate got an apology.
	writeJSON(w, http.StatusOK, result)
}
