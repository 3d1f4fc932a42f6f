// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"encoding/json"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRules_StoredFormat(t *testing.T) {
	data := []byte(`[
		{
			"id": 1712345,
			"name": "Stop old seeds",
			"enabled": true,
			"trigger": {"type": "interval", "value": 30},
			"conditions": [{"type": "seeding_time", "operator": "gt", "value": 48}],
			"logicOperator": "and",
			"action": {"type": "stop_seeding"},
			"metadata": {"executionCount": 3, "lastExecutedAt": 100, "triggeredCount": 2, "lastTriggeredAt": 90, "lastEnabledAt": 10, "createdAt": 5, "updatedAt": 10}
		},
		{
			"id": "abc",
			"name": "New downloads",
			"enabled": false,
			"trigger": {"type": "download_added"},
			"conditions": [{"type": "tracker", "operator": "eq", "value": "example.org"}],
			"action": {"type": "force_start"}
		}
	]`)

	rules, err := ParseRules(data)
	require.NoError(t, err)
	require.Len(t, rules, 2)

	first := rules[0]
	assert.Equal(t, RuleID("1712345"), first.ID)
	assert.True(t, first.Trigger.IsInterval())
	assert.Equal(t, 30*time.Minute, first.Trigger.Period())
	assert.Equal(t, ConditionSeedingTime, first.Conditions[0].Type)
	assert.Equal(t, 48.0, first.Conditions[0].Value.Float())
	require.NotNil(t, first.Metadata)
	assert.Equal(t, 3, first.Metadata.ExecutionCount)
	assert.Equal(t, int64(90), *first.Metadata.SchedulingReference())

	second := rules[1]
	assert.True(t, second.Trigger.IsDownloadAdded())
	assert.Equal(t, "example.org", second.Conditions[0].Value.Text())
	assert.True(t, math.IsNaN(second.Conditions[0].Value.Float()))
	assert.Equal(t, LogicAnd, second.Logic())
	assert.Nil(t, second.Metadata)
}

func TestParseRules_LegacySingleCondition(t *testing.T) {
	data := []byte(`[{"id":"r1","enabled":true,"trigger":{"type":"interval","value":5},
		"condition":{"type":"seeds","operator":"lt","value":"2"},"action":{"type":"delete"}}]`)

	rules, err := ParseRules(data)
	require.NoError(t, err)
	require.Len(t, rules, 1)
	require.Len(t, rules[0].Conditions, 1)
	assert.Equal(t, ConditionSeeds, rules[0].Conditions[0].Type)
	assert.Equal(t, 2.0, rules[0].Conditions[0].Value.Float())
	require.NoError(t, rules[0].Validate())
}

func TestParseRules_Malformed(t *testing.T) {
	_, err := ParseRules([]byte(`{"not":"a list"}`))
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMalformedRules))

	rules, err := ParseRules(nil)
	require.NoError(t, err)
	assert.Empty(t, rules)
}

func TestTriggerRoundTrip(t *testing.T) {
	data, err := json.Marshal(IntervalTrigger(15))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"interval","value":15}`, string(data))

	data, err = json.Marshal(DownloadAddedTrigger())
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"download_added"}`, string(data))

	var tr Trigger
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"interval","periodMinutes":"2.5"}`), &tr))
	assert.Equal(t, 150*time.Second, tr.Period())

	require.NoError(t, json.Unmarshal([]byte(`{"kind":"event","event":"download_added"}`), &tr))
	assert.True(t, tr.IsDownloadAdded())
	assert.Zero(t, tr.Period())
}

func TestConditionOperatorCompare(t *testing.T) {
	nan := math.NaN()
	tests := []struct {
		op          ConditionOperator
		left, right float64
		want        bool
	}{
		{OperatorGreaterThan, 2, 1, true},
		{OperatorGreaterThan, 1, 1, false},
		{OperatorLessThan, 1, 2, true},
		{OperatorGreaterThanOrEqual, 1, 1, true},
		{OperatorLessThanOrEqual, 2, 1, false},
		{OperatorEqual, 3, 3, true},
		{OperatorEqual, nan, nan, false},
		{OperatorGreaterThan, nan, 0, false},
		{OperatorLessThan, nan, 0, false},
		{ConditionOperator("between"), 1, 1, false},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.op.Compare(tt.left, tt.right), "%v %s %v", tt.left, tt.op, tt.right)
	}
}

func TestLogicOperatorCombine(t *testing.T) {
	assert.True(t, LogicAnd.Combine([]bool{true, true}))
	assert.False(t, LogicAnd.Combine([]bool{true, false}))
	assert.True(t, LogicOr.Combine([]bool{false, true}))
	assert.False(t, LogicOr.Combine([]bool{false, false}))
	assert.False(t, LogicOperator("xor").Combine([]bool{true, false}), "unknown logic behaves as and")
}

func TestActionLabel(t *testing.T) {
	assert.Equal(t, "stop seeding", ActionStopSeeding.Label())
	assert.Equal(t, "force start", ActionForceStart.Label())
	assert.Equal(t, "archive", ActionArchive.Label())
	assert.False(t, ActionType("pause").Valid())
}

func TestRuleValidate(t *testing.T) {
	valid := &Rule{
		ID:         "r1",
		Trigger:    IntervalTrigger(10),
		Conditions: []Condition{{Type: ConditionSeeds, Operator: OperatorLessThan, Value: NumberValue(1)}},
		Action:     Action{Type: ActionDelete},
	}
	require.NoError(t, valid.Validate())

	tests := map[string]func(r *Rule){
		"missing id":      func(r *Rule) { r.ID = "" },
		"no conditions":   func(r *Rule) { r.Conditions = nil },
		"unknown action":  func(r *Rule) { r.Action.Type = "pause" },
		"zero interval":   func(r *Rule) { r.Trigger = IntervalTrigger(0) },
		"nan interval":    func(r *Rule) { r.Trigger = IntervalTrigger(math.NaN()) },
		"unknown trigger": func(r *Rule) { r.Trigger = Trigger{Kind: "cron"} },
	}

	for name, mutate := range tests {
		t.Run(name, func(t *testing.T) {
			r := valid.Clone()
			mutate(r)
			err := r.Validate()
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidRule)
		})
	}
}

func TestRuleMetadataDefaultsAndClone(t *testing.T) {
	now := time.UnixMilli(1_700_000_000_000)
	r := &Rule{ID: "r1"}

	md := r.MetadataOrDefault(now)
	assert.Zero(t, md.ExecutionCount)
	assert.Nil(t, md.LastTriggeredAt)
	require.NotNil(t, md.LastEnabledAt)
	assert.Equal(t, now.UnixMilli(), *md.LastEnabledAt)
	assert.Equal(t, now.UnixMilli(), *md.SchedulingReference())

	r.Metadata = &md
	cp := r.Clone()
	*cp.Metadata.LastEnabledAt = 1
	cp.Metadata.ExecutionCount = 9
	assert.Equal(t, now.UnixMilli(), *r.Metadata.LastEnabledAt)
	assert.Zero(t, r.Metadata.ExecutionCount)
}

func TestRuleMarshalKeepsStoredShape(t *testing.T) {
	r := &Rule{
		ID:         "r1",
		Name:       "n",
		Enabled:    true,
		Trigger:    IntervalTrigger(1),
		Conditions: []Condition{{Type: ConditionTracker, Operator: OperatorEqual, Value: TextValue("x")}},
		Action:     Action{Type: ActionArchive},
	}

	data, err := json.Marshal([]*Rule{r})
	require.NoError(t, err)

	back, err := ParseRules(data)
	require.NoError(t, err)
	require.Len(t, back, 1)
	assert.Equal(t, r.ID, back[0].ID)
	assert.Equal(t, r.Trigger, back[0].Trigger)
	assert.Equal(t, "x", back[0].Conditions[0].Value.Text())
	assert.NotContains(t, string(data), `"condition"`)
}

func TestItemHelpers(t *testing.T) {
	item := Item{}
	assert.False(t, item.Automatable())
	assert.False(t, item.IsActive())
	assert.Equal(t, "Unknown item", item.DisplayName())

	item.Active = BoolPtr(false)
	item.Name = "ubuntu.iso"
	assert.True(t, item.Automatable())
	assert.False(t, item.IsActive())
	assert.Equal(t, "ubuntu.iso", item.DisplayName())
}
