package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/pipeline"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// ActionHandler exposes action inspection, approval and undo.
type ActionHandler struct {
	actions store.ActionStore
	service *pipeline.Service
}

func NewActionHandler(actions store.ActionStore, service *pipeline.Service) *ActionHandler {
	return &ActionHandler{actions: actions, service: service}
}

// actionView is the external representation of an action. Internal row IDs
// stay internal; the public UUID is the handle.
type actionView struct {
	ID         uuid.UUID  `json:"id"`
	AccountID  string     `json:"account_id"`
	MessageID  string     `json:"message_id"`
	Type       string     `json:"type"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	Reversible bool       `json:"reversible"`
	ExecutedAt *time.Time `json:"executed_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func toActionView(a *models.Action) actionView {
	view := actionView{
		ID:         a.PublicID,
		AccountID:  a.AccountID,
		MessageID:  a.MessageID,
		Type:       a.Type,
		Status:     string(a.Status),
		Error:      a.Error,
		ExecutedAt: a.ExecutedAt,
		CreatedAt:  a.CreatedAt,
	}
	if len(a.UndoHint) > 0 {
		var hint models.UndoHint
		if err := json.Unmarshal(a.UndoHint, &hint); err == nil {
			view.Reversible = hint.Reversible
		}
	}
	return view
}

// HandleGetAction returns one action by public ID.
func (h *ActionHandler) HandleGetAction(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toActionView(a))
}

// HandleApprove resolves a pending approval in favour of execution.
func (h *ActionHandler) HandleApprove(w http.ResponseWriter, r *http.Request) {
	h.resolveApproval(w, r, true)
}

// HandleReject resolves a pending approval by retiring the action.
func (h *ActionHandler) HandleReject(w http.ResponseWriter, r *http.Request) {
	h.resolveApproval(w, r, false)
}

func (h *ActionHandler) resolveApproval(w http.ResponseWriter, r *http.Request, approve bool) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if a.Status != models.ActionApprovalPending {
		writeJSON(w, http.StatusConflict, jsonResponse{Error: "action is not awaiting approval"})
		return
	}

	var body struct {
		DecidedBy string `json:"decided_by"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if _, err := h.service.EnqueueApproval(r.Context(), pipeline.ApprovalJobPayload{
		AccountID: a.AccountID,
		ActionID:  a.ID,
		Approve:   approve,
		DecidedBy: body.DecidedBy,
	}); err != nil {
		slog.Error("failed to enqueue approval", "action_id", a.PublicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusAccepted, jsonResponse{OK: true})
}

// HandleUndo schedules reversal of a completed action.
func (h *ActionHandler) HandleUndo(w http.ResponseWriter, r *http.Request) {
	a, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if a.Status != models.ActionCompleted {
		writeJSON(w, http.StatusConflict, jsonResponse{Error: "only completed actions can be undone"})
		return
	}
	if _, err := h.actions.GetUndoLink(r.Context(), a.ID); err == nil {
		writeJSON(w, http.StatusConflict, jsonResponse{Error: "action already undone"})
		return
	} else if !errors.Is(err, store.ErrNotFound) {
		slog.Error("failed to check undo link", "action_id", a.PublicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	job, err := h.service.EnqueueUndo(r.Context(), a.AccountID, a.ID)
	if err != nil {
		slog.Error("failed to enqueue undo", "action_id", a.PublicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok":     true,
		"job_id": job.PublicID,
	})
}

func (h *ActionHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.Action, bool) {
	publicID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "id must be a valid UUID"})
		return nil, false
	}
	a, err := h.actions.GetActionByPublicID(r.Context(), publicID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "action not found"})
			return nil, false
		}
		slog.Error("failed to load action", "action_id", publicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return nil, false
	}
	return a, true
}
