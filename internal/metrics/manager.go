// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/metrics/collector"
)

type Manager struct {
	registry   *prometheus.Registry
	automation *collector.AutomationCollector
	engine     *EngineCollector
}

// NewManager builds the registry and the automation counters. The engine
// collector is registered later with AttachEngine, once the engine exists.
func NewManager() *Manager {
	registry := prometheus.NewRegistry()

	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	automation := collector.NewAutomationCollector(registry)

	log.Info().Msg("metrics: manager initialized with automation collector")

	return &Manager{
		registry:   registry,
		automation: automation,
	}
}

// AttachEngine registers the engine state collector. Calling it twice panics.
func (m *Manager) AttachEngine(engine StatusSource, db WriteCounter) {
	m.engine = NewEngineCollector(engine, db)
	m.registry.MustRegister(m.engine)
}

func (m *Manager) GetRegistry() *prometheus.Registry {
	return m.registry
}

func (m *Manager) Automation() *collector.AutomationCollector {
	return m.automation
}
