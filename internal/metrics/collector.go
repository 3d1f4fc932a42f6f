// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/services/automations"
)

// StatusSource reports the engine's current state.
type StatusSource interface {
	Status() automations.Status
}

// WriteCounter reports how many writes the database has committed.
type WriteCounter interface {
	Writes() uint64
}

// EngineCollector exposes engine state as gauges computed at scrape time.
type EngineCollector struct {
	engine StatusSource
	db     WriteCounter

	runningDesc        *prometheus.Desc
	rulesDesc          *prometheus.Desc
	armedTimersDesc    *prometheus.Desc
	eventRulesDesc     *prometheus.Desc
	snapshotItemsDesc  *prometheus.Desc
	snapshotAgeDesc    *prometheus.Desc
	firingsDesc        *prometheus.Desc
	nextFireDesc       *prometheus.Desc
	databaseWritesDesc *prometheus.Desc
}

func NewEngineCollector(engine StatusSource, db WriteCounter) *EngineCollector {
	return &EngineCollector{
		engine: engine,
		db:     db,

		runningDesc: prometheus.NewDesc(
			"autorules_engine_running",
			"Whether the automation engine is running (1=running, 0=stopped)",
			nil,
			nil,
		),
		rulesDesc: prometheus.NewDesc(
			"autorules_engine_rules",
			"Number of stored rules by enabled state",
			[]string{"enabled"},
			nil,
		),
		armedTimersDesc: prometheus.NewDesc(
			"autorules_engine_armed_timers",
			"Number of interval rules with an armed timer",
			nil,
			nil,
		),
		eventRulesDesc: prometheus.NewDesc(
			"autorules_engine_event_rules",
			"Number of enabled download_added rules",
			nil,
			nil,
		),
		snapshotItemsDesc: prometheus.NewDesc(
			"autorules_engine_snapshot_items",
			"Number of items in the latest snapshot",
			nil,
			nil,
		),
		snapshotAgeDesc: prometheus.NewDesc(
			"autorules_engine_snapshot_timestamp_seconds",
			"Unix time of the latest item snapshot",
			nil,
			nil,
		),
		firingsDesc: prometheus.NewDesc(
			"autorules_engine_firings",
			"Rule firings dispatched since start",
			nil,
			nil,
		),
		nextFireDesc: prometheus.NewDesc(
			"autorules_engine_next_fire_timestamp_seconds",
			"Unix time of the next scheduled firing by rule",
			[]string{"rule_id", "period_seconds"},
			nil,
		),
		databaseWritesDesc: prometheus.NewDesc(
			"autorules_database_writes",
			"Writes committed by the database writer",
			nil,
			nil,
		),
	}
}

func (c *EngineCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.runningDesc
	ch <- c.rulesDesc
	ch <- c.armedTimersDesc
	ch <- c.eventRulesDesc
	ch <- c.snapshotItemsDesc
	ch <- c.snapshotAgeDesc
	ch <- c.firingsDesc
	ch <- c.nextFireDesc
	ch <- c.databaseWritesDesc
}

func (c *EngineCollector) Collect(ch chan<- prometheus.Metric) {
	if c.db != nil {
		ch <- prometheus.MustNewConstMetric(c.databaseWritesDesc, prometheus.CounterValue, float64(c.db.Writes()))
	}

	if c.engine == nil {
		log.Debug().Msg("metrics: engine is nil, skipping engine metrics")
		return
	}

	status := c.engine.Status()

	running := 0.0
	if status.Running {
		running = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.runningDesc, prometheus.GaugeValue, running)
	ch <- prometheus.MustNewConstMetric(c.rulesDesc, prometheus.GaugeValue, float64(status.EnabledRules), "true")
	ch <- prometheus.MustNewConstMetric(c.rulesDesc, prometheus.GaugeValue, float64(status.Rules-status.EnabledRules), "false")
	ch <- prometheus.MustNewConstMetric(c.armedTimersDesc, prometheus.GaugeValue, float64(len(status.IntervalRules)))
	ch <- prometheus.MustNewConstMetric(c.eventRulesDesc, prometheus.GaugeValue, float64(len(status.EventRules)))
	ch <- prometheus.MustNewConstMetric(c.snapshotItemsDesc, prometheus.GaugeValue, float64(status.SnapshotItems))
	ch <- prometheus.MustNewConstMetric(c.firingsDesc, prometheus.CounterValue, float64(status.Firings))

	if status.LastSnapshotAt != nil {
		ch <- prometheus.MustNewConstMetric(c.snapshotAgeDesc, prometheus.GaugeValue, float64(status.LastSnapshotAt.Unix()))
	}

	for _, timer := range status.IntervalRules {
		ch <- prometheus.MustNewConstMetric(
			c.nextFireDesc,
			prometheus.GaugeValue,
			float64(timer.NextFireAt.Unix()),
			string(timer.RuleID),
			strconv.FormatInt(int64(timer.Period.Seconds()), 10),
		)
	}
}
