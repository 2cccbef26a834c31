package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/pipeline"
)

const defaultEventMaxBodyBytes int64 = 256 * 1024

// EventHandler accepts inbound message events and turns them into
// classification jobs.
type EventHandler struct {
	service      *pipeline.Service
	maxBodyBytes int64
}

func NewEventHandler(service *pipeline.Service, maxBodyBytes int64) *EventHandler {
	if maxBodyBytes <= 0 {
		maxBodyBytes = defaultEventMaxBodyBytes
	}
	return &EventHandler{service: service, maxBodyBytes: maxBodyBytes}
}

// HandleMessageEvent enqueues classification for one message. Redelivery of
// the same account/message pair returns the originally enqueued job.
func (h *EventHandler) HandleMessageEvent(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)

	var payload struct {
		AccountID string            `json:"account_id"`
		MessageID string            `json:"message_id"`
		Sender    string            `json:"sender"`
		Subject   string            `json:"subject"`
		Headers   models.HeaderList `json:"headers"`
		Labels    []string          `json:"labels"`
		Unread    bool              `json:"unread"`
		Starred   bool              `json:"starred"`
		InInbox   bool              `json:"in_inbox"`
		InTrash   bool              `json:"in_trash"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeJSON(w, http.StatusRequestEntityTooLarge, jsonResponse{Error: "payload too large"})
			return
		}
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}

	payload.AccountID = strings.TrimSpace(payload.AccountID)
	payload.MessageID = strings.TrimSpace(payload.MessageID)
	if payload.AccountID == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "account_id is required"})
		return
	}
	if payload.MessageID == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "message_id is required"})
		return
	}

	job, err := h.service.EnqueueClassification(r.Context(), models.MessageFacts{
		AccountID: payload.AccountID,
		MessageID: payload.MessageID,
		Sender:    payload.Sender,
		Subject:   payload.Subject,
		Headers:   payload.Headers,
		Labels:    payload.Labels,
		Unread:    payload.Unread,
		Starred:   payload.Starred,
		InInbox:   payload.InInbox,
		InTrash:   payload.InTrash,
	})
	if err != nil {
		slog.Error("failed to enqueue classification",
			"account_id", payload.AccountID, "message_id", payload.MessageID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok":         true,
		"job_id":     job.PublicID,
		"job_status": job.Status,
	})
}
