// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/autorules/internal/models"
	"github.com/autobrr/autorules/internal/services/automations"
)

type fakeEngine struct {
	status automations.Status
}

func (f *fakeEngine) Status() automations.Status {
	return f.status
}

type fakeDB struct {
	writes uint64
}

func (f *fakeDB) Writes() uint64 {
	return f.writes
}

func TestManager_GetRegistry(t *testing.T) {
	manager := NewManager()

	registry := manager.GetRegistry()
	require.NotNil(t, registry)
	assert.IsType(t, &prometheus.Registry{}, registry)
	assert.NotNil(t, manager.Automation())

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)

	foundGoMetrics := false
	foundProcessMetrics := false
	for _, mf := range metricFamilies {
		name := mf.GetName()
		if strings.HasPrefix(name, "go_") {
			foundGoMetrics = true
		}
		if strings.HasPrefix(name, "process_") {
			foundProcessMetrics = true
		}
	}

	assert.True(t, foundGoMetrics, "Go runtime metrics should be registered (go_* metrics)")
	if runtime.GOOS == "darwin" {
		assert.False(t, foundProcessMetrics, "Process metrics should NOT be available on macOS")
	} else {
		assert.True(t, foundProcessMetrics, "Process metrics should be registered on Linux/Windows")
	}
}

func TestManager_RegistryIsolation(t *testing.T) {
	manager1 := NewManager()
	manager2 := NewManager()

	assert.NotSame(t, manager1.registry, manager2.registry, "Each manager should have its own registry")
	assert.NotSame(t, manager1.automation, manager2.automation, "Each manager should have its own collector")
}

func TestManager_AutomationCountersAreExported(t *testing.T) {
	manager := NewManager()
	manager.Automation().GetRuleFiringTotal("r1", "Cleanup", "interval").Inc()

	count, err := testutil.GatherAndCount(manager.GetRegistry(), "autorules_automation_rule_firing_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestManager_AttachEngineTwicePanics(t *testing.T) {
	manager := NewManager()
	manager.AttachEngine(&fakeEngine{}, nil)

	assert.Panics(t, func() {
		manager.AttachEngine(&fakeEngine{}, nil)
	})
}

func TestEngineCollector(t *testing.T) {
	snapshotAt := time.Unix(1700000000, 0)
	engine := &fakeEngine{status: automations.Status{
		Running:      true,
		Rules:        3,
		EnabledRules: 2,
		IntervalRules: []automations.ArmedTimer{
			{RuleID: "r1", Period: time.Hour, NextFireAt: time.Unix(1700003600, 0)},
		},
		EventRules:     []models.RuleID{"r2"},
		LastSnapshotAt: &snapshotAt,
		SnapshotItems:  7,
		Firings:        5,
	}}
	c := NewEngineCollector(engine, &fakeDB{writes: 12})

	expected := `
# HELP autorules_engine_rules Number of stored rules by enabled state
# TYPE autorules_engine_rules gauge
autorules_engine_rules{enabled="false"} 1
autorules_engine_rules{enabled="true"} 2
# HELP autorules_engine_next_fire_timestamp_seconds Unix time of the next scheduled firing by rule
# TYPE autorules_engine_next_fire_timestamp_seconds gauge
autorules_engine_next_fire_timestamp_seconds{period_seconds="3600",rule_id="r1"} 1.7000036e+09
`
	require.NoError(t, testutil.CollectAndCompare(c, strings.NewReader(expected),
		"autorules_engine_rules", "autorules_engine_next_fire_timestamp_seconds"))

	// running, rules x2, armed, event, items, snapshot time, firings, next fire, writes
	assert.Equal(t, 10, testutil.CollectAndCount(c))
}

func TestEngineCollectorWithoutEngine(t *testing.T) {
	c := NewEngineCollector(nil, &fakeDB{writes: 3})

	assert.Equal(t, 1, testutil.CollectAndCount(c))
}
