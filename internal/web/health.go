// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package web

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

type HealthHandler struct {
	engine Engine
}

func NewHealthHandler(engine Engine) *HealthHandler {
	return &HealthHandler{engine: engine}
}

func (h *HealthHandler) Routes(r chi.Router) {
	r.Get("/health", h.HandleHealth)
	r.Get("/readiness", h.HandleReady)
}

func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// HandleReady reports ready once the engine is running.
func (h *HealthHandler) HandleReady(w http.ResponseWriter, _ *http.Request) {
	if h.engine == nil || !h.engine.Status().Running {
		RespondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	RespondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}
