package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/quartzlabs/mailpilot/internal/action"
	"github.com/quartzlabs/mailpilot/internal/models"
	"github.com/quartzlabs/mailpilot/internal/rules"
	"github.com/quartzlabs/mailpilot/internal/store"
)

// RuleHandler manages the deterministic rule set. Conditions are validated
// structurally at write time so evaluation never meets a malformed tree it
// could have rejected earlier.
type RuleHandler struct {
	rules store.RuleStore
}

func NewRuleHandler(ruleStore store.RuleStore) *RuleHandler {
	return &RuleHandler{rules: ruleStore}
}

type ruleView struct {
	ID             uuid.UUID       `json:"id"`
	Name           string          `json:"name"`
	Scope          string          `json:"scope"`
	ScopeValue     string          `json:"scope_value,omitempty"`
	Priority       int             `json:"priority"`
	Enabled        bool            `json:"enabled"`
	DisabledReason string          `json:"disabled_reason,omitempty"`
	Condition      json.RawMessage `json:"condition"`
	ActionType     string          `json:"action_type"`
	ActionParams   json.RawMessage `json:"action_params,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
}

func toRuleView(rule *models.Rule) ruleView {
	return ruleView{
		ID:             rule.PublicID,
		Name:           rule.Name,
		Scope:          string(rule.Scope),
		ScopeValue:     rule.ScopeValue,
		Priority:       rule.Priority,
		Enabled:        rule.Enabled,
		DisabledReason: rule.DisabledReason,
		Condition:      rule.Condition,
		ActionType:     rule.ActionType,
		ActionParams:   rule.ActionParams,
		CreatedAt:      rule.CreatedAt,
	}
}

// HandleCreateRule validates and persists a new rule.
func (h *RuleHandler) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name         string          `json:"name"`
		Scope        string          `json:"scope"`
		ScopeValue   string          `json:"scope_value"`
		Priority     int             `json:"priority"`
		Condition    json.RawMessage `json:"condition"`
		ActionType   string          `json:"action_type"`
		ActionParams json.RawMessage `json:"action_params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid JSON payload"})
		return
	}

	payload.Name = strings.TrimSpace(payload.Name)
	if payload.Name == "" {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "name is required"})
		return
	}

	scope := models.RuleScope(payload.Scope)
	switch scope {
	case models.ScopeGlobal:
	case models.ScopeAccount, models.ScopeDomain, models.ScopeSender:
		if strings.TrimSpace(payload.ScopeValue) == "" {
			writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "scope_value is required for scope " + payload.Scope})
			return
		}
	default:
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "unknown scope"})
		return
	}

	if _, err := rules.ParseCondition(payload.Condition); err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "invalid condition: " + err.Error()})
		return
	}
	if !action.KnownType(payload.ActionType) {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "unknown action_type"})
		return
	}

	rule, err := h.rules.CreateRule(r.Context(), store.RuleCreateParams{
		Name:         payload.Name,
		Scope:        scope,
		ScopeValue:   strings.TrimSpace(payload.ScopeValue),
		Priority:     payload.Priority,
		Condition:    payload.Condition,
		ActionType:   payload.ActionType,
		ActionParams: payload.ActionParams,
	})
	if err != nil {
		slog.Error("failed to create rule", "name", payload.Name, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusCreated, toRuleView(rule))
}

// HandleListRules returns rules in pages of up to 100.
func (h *RuleHandler) HandleListRules(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 100 {
			limit = n
		}
	}
	offset := 0
	if raw := r.URL.Query().Get("offset"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n >= 0 {
			offset = n
		}
	}

	list, err := h.rules.ListRules(r.Context(), limit, offset)
	if err != nil {
		slog.Error("failed to list rules", "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	views := make([]ruleView, 0, len(list))
	for i := range list {
		views = append(views, toRuleView(&list[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"rules": views})
}

// HandleGetRule returns one rule by public ID.
func (h *RuleHandler) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toRuleView(rule))
}

// HandleDisableRule turns a rule off without deleting its history.
func (h *RuleHandler) HandleDisableRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.lookup(w, r)
	if !ok {
		return
	}

	var body struct {
		Reason string `json:"reason"`
	}
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&body)
	}

	if err := h.rules.DisableRule(r.Context(), rule.ID, strings.TrimSpace(body.Reason)); err != nil {
		slog.Error("failed to disable rule", "rule_id", rule.PublicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

// HandleDeleteRule removes a rule entirely.
func (h *RuleHandler) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	rule, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := h.rules.DeleteRule(r.Context(), rule.ID); err != nil {
		slog.Error("failed to delete rule", "rule_id", rule.PublicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return
	}
	writeJSON(w, http.StatusOK, jsonResponse{OK: true})
}

func (h *RuleHandler) lookup(w http.ResponseWriter, r *http.Request) (*models.Rule, bool) {
	publicID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, jsonResponse{Error: "id must be a valid UUID"})
		return nil, false
	}
	rule, err := h.rules.GetRuleByPublicID(r.Context(), publicID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, jsonResponse{Error: "rule not found"})
			return nil, false
		}
		slog.Error("failed to load rule", "rule_id", publicID, "error", err)
		writeJSON(w, http.StatusInternalServerError, jsonResponse{Error: "internal server error"})
		return nil, false
	}
	return rule, true
}
