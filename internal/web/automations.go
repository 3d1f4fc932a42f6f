// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/models"
	"github.com/autobrr/autorules/internal/services/automations"
)

// Engine is the part of the automation service the HTTP surface reads.
type Engine interface {
	Status() automations.Status
	Rules() []*models.Rule
	Logs(ctx context.Context, id models.RuleID) ([]models.ExecutionLogEntry, error)
	FireRule(ctx context.Context, id models.RuleID) (automations.FiringResult, error)
}

type AutomationHandler struct {
	engine Engine
}

func NewAutomationHandler(engine Engine) *AutomationHandler {
	return &AutomationHandler{engine: engine}
}

func (h *AutomationHandler) Routes(r chi.Router) {
	r.Route("/api/automation", func(r chi.Router) {
		r.Get("/status", h.Status)
		r.Get("/rules", h.ListRules)
		r.Route("/rules/{ruleID}", func(r chi.Router) {
			r.Get("/logs", h.Logs)
			r.Post("/run", h.Run)
		})
	})
}

func (h *AutomationHandler) Status(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, h.engine.Status())
}

func (h *AutomationHandler) ListRules(w http.ResponseWriter, _ *http.Request) {
	rules := h.engine.Rules()
	if rules == nil {
		rules = []*models.Rule{}
	}
	RespondJSON(w, http.StatusOK, rules)
}

func (h *AutomationHandler) Logs(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseStringParam(w, r, "ruleID", "rule ID")
	if !ok {
		return
	}

	logs, err := h.engine.Logs(r.Context(), models.RuleID(id))
	if err != nil {
		h.respondEngineError(w, err, id, "failed to load execution logs")
		return
	}
	RespondJSON(w, http.StatusOK, logs)
}

func (h *AutomationHandler) Run(w http.ResponseWriter, r *http.Request) {
	id, ok := ParseStringParam(w, r, "ruleID", "rule ID")
	if !ok {
		return
	}

	result, err := h.engine.FireRule(r.Context(), models.RuleID(id))
	if err != nil {
		h.respondEngineError(w, err, id, "failed to run rule")
		return
	}
	RespondJSON(w, http.StatusOK, result)
}

func (h *AutomationHandler) respondEngineError(w http.ResponseWriter, err error, id, message string) {
	switch {
	case errors.Is(err, models.ErrRuleNotFound):
		RespondError(w, http.StatusNotFound, "Rule not found")
	case errors.Is(err, automations.ErrNotStarted):
		RespondError(w, http.StatusServiceUnavailable, "Automation engine is not running")
	default:
		log.Error().Err(err).Str("ruleID", id).Msg("web: " + message)
		RespondError(w, http.StatusInternalServerError, message)
	}
}
