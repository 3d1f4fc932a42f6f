// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/autorules/internal/models"
)

func TestInitialDelay(t *testing.T) {
	T := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	hour := time.Hour

	tests := []struct {
		name string
		md   models.Metadata
		now  time.Time
		want time.Duration
	}{
		{"rearm before due", models.Metadata{LastTriggeredAt: models.Int64Ptr(T.UnixMilli())}, T.Add(50 * time.Minute), 10 * time.Minute},
		{"rearm after due fires now", models.Metadata{LastTriggeredAt: models.Int64Ptr(T.UnixMilli())}, T.Add(70 * time.Minute), 0},
		{"falls back to lastEnabledAt", models.Metadata{LastEnabledAt: models.Int64Ptr(T.UnixMilli())}, T.Add(15 * time.Minute), 45 * time.Minute},
		{
			"lastTriggeredAt wins over lastEnabledAt",
			models.Metadata{LastTriggeredAt: models.Int64Ptr(T.UnixMilli()), LastEnabledAt: models.Int64Ptr(T.Add(-5 * hour).UnixMilli())},
			T.Add(30 * time.Minute),
			30 * time.Minute,
		},
		{"no reference waits a full period", models.Metadata{}, T, hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, InitialDelay(tt.md, hour, tt.now))
		})
	}
}

type firedRecorder struct {
	mu     sync.Mutex
	fired  []models.RuleID
	events atomic.Int32
}

func (r *firedRecorder) onInterval(id models.RuleID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fired = append(r.fired, id)
}

func (r *firedRecorder) onItemsAdded() {
	r.events.Add(1)
}

func (r *firedRecorder) count(id models.RuleID) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, f := range r.fired {
		if f == id {
			n++
		}
	}
	return n
}

func newTestScheduler(t *testing.T, coalesce time.Duration) (*TriggerScheduler, *firedRecorder) {
	t.Helper()
	rec := &firedRecorder{}
	s := NewTriggerScheduler(coalesce, rec.onInterval, rec.onItemsAdded)
	t.Cleanup(s.Stop)
	return s, rec
}

// dueRule is an interval rule whose first firing is due immediately.
func dueRule(id string, period time.Duration) *models.Rule {
	r := intervalRule(id, period.Minutes(), models.ActionDelete, cond(models.ConditionSeeds, models.OperatorEqual, 0))
	r.Metadata = &models.Metadata{LastTriggeredAt: models.Int64Ptr(time.Now().Add(-time.Hour).UnixMilli())}
	return r
}

func TestScheduler_ArmedRuleFiresAndRepeats(t *testing.T) {
	s, rec := newTestScheduler(t, 0)

	s.Arm(dueRule("r1", 50*time.Millisecond))
	require.True(t, s.IsArmed("r1"))

	require.Eventually(t, func() bool { return rec.count("r1") >= 3 }, 2*time.Second, 10*time.Millisecond)
}

func TestScheduler_DisarmIsIdempotent(t *testing.T) {
	s, rec := newTestScheduler(t, 0)

	r := intervalRule("r1", 60, models.ActionDelete, cond(models.ConditionSeeds, models.OperatorEqual, 0))
	s.Arm(r)
	require.True(t, s.IsArmed("r1"))

	s.Disarm("r1")
	s.Disarm("r1")
	s.Disarm("never-armed")
	assert.False(t, s.IsArmed("r1"))
	assert.Zero(t, rec.count("r1"))
}

func TestScheduler_DisarmStopsFiring(t *testing.T) {
	s, rec := newTestScheduler(t, 0)

	s.Arm(dueRule("r1", 40*time.Millisecond))
	require.Eventually(t, func() bool { return rec.count("r1") >= 1 }, 2*time.Second, 5*time.Millisecond)

	s.Disarm("r1")
	time.Sleep(20 * time.Millisecond)
	after := rec.count("r1")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, after, rec.count("r1"))
}

func TestScheduler_EventAndDisabledRulesOwnNoTimer(t *testing.T) {
	s, _ := newTestScheduler(t, 0)

	ev := eventRule("ev", models.ActionForceStart, cond(models.ConditionSeeds, models.OperatorEqual, 0))
	off := intervalRule("off", 1, models.ActionDelete, cond(models.ConditionSeeds, models.OperatorEqual, 0))
	off.Enabled = false
	invalid := intervalRule("invalid", 0, models.ActionDelete, cond(models.ConditionSeeds, models.OperatorEqual, 0))

	s.Reconcile([]*models.Rule{ev, off, invalid})
	assert.Empty(t, s.Armed())
}

func TestScheduler_ReconcileDisarmsRemovedAndDisabled(t *testing.T) {
	s, _ := newTestScheduler(t, 0)

	a := intervalRule("a", 60, models.ActionDelete, cond(models.ConditionSeeds, models.OperatorEqual, 0))
	b := intervalRule("b", 60, models.ActionDelete, cond(models.ConditionSeeds, models.OperatorEqual, 0))
	c := intervalRule("c", 30, models.ActionDelete, cond(models.ConditionSeeds, models.OperatorEqual, 0))
	s.Reconcile([]*models.Rule{a, b, c})

	armed := s.Armed()
	require.Len(t, armed, 3)
	assert.Equal(t, models.RuleID("a"), armed[0].RuleID)
	assert.Equal(t, time.Hour, armed[0].Period)

	bOff := b.Clone()
	bOff.Enabled = false
	cEvent := c.Clone()
	cEvent.Trigger = models.DownloadAddedTrigger()
	s.Reconcile([]*models.Rule{bOff, cEvent})

	assert.Empty(t, s.Armed())
	assert.False(t, s.IsArmed("a"))
}

func TestScheduler_ReconcileRecomputesDelayFromEnable(t *testing.T) {
	s, _ := newTestScheduler(t, 0)

	enabledAt := time.Now()
	r := intervalRule("r1", 60, models.ActionDelete, cond(models.ConditionSeeds, models.OperatorEqual, 0))
	r.Metadata = &models.Metadata{LastEnabledAt: models.Int64Ptr(enabledAt.UnixMilli())}
	s.Reconcile([]*models.Rule{r})

	armed := s.Armed()
	require.Len(t, armed, 1)
	assert.WithinDuration(t, enabledAt.Add(time.Hour), armed[0].NextFireAt, time.Second)
}

func TestScheduler_FirstSnapshotIsBaseline(t *testing.T) {
	s, rec := newTestScheduler(t, 20*time.Millisecond)

	assert.False(t, s.ObserveSnapshot([]models.Item{active("a", "a", time.Now())}))
	time.Sleep(60 * time.Millisecond)
	assert.Zero(t, rec.events.Load())
}

func TestScheduler_BurstOfNewItemsCoalesces(t *testing.T) {
	s, rec := newTestScheduler(t, 100*time.Millisecond)
	now := time.Now()

	s.ObserveSnapshot(nil)
	assert.True(t, s.ObserveSnapshot([]models.Item{active("a", "a", now)}))
	time.Sleep(50 * time.Millisecond)
	assert.True(t, s.ObserveSnapshot([]models.Item{active("a", "a", now), active("b", "b", now)}))

	require.Eventually(t, func() bool { return rec.events.Load() == 1 }, time.Second, 5*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(1), rec.events.Load(), "one coalesced firing")
}

func TestScheduler_OnlyNewlyActiveItemsCount(t *testing.T) {
	s, rec := newTestScheduler(t, 20*time.Millisecond)
	now := time.Now()

	paused := models.Item{ID: "p", Active: models.BoolPtr(false)}
	s.ObserveSnapshot([]models.Item{active("a", "a", now), paused})

	assert.False(t, s.ObserveSnapshot([]models.Item{active("a", "a", now), paused}), "same active set")
	assert.False(t, s.ObserveSnapshot([]models.Item{paused}), "removal is not an addition")
	assert.True(t, s.ObserveSnapshot([]models.Item{active("a", "a", now)}), "reappearing item is newly active")

	require.Eventually(t, func() bool { return rec.events.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestScheduler_BindAfterStopRestoresEvents(t *testing.T) {
	s, rec := newTestScheduler(t, 20*time.Millisecond)
	now := time.Now()

	s.ObserveSnapshot(nil)
	s.Stop()
	assert.False(t, s.ObserveSnapshot([]models.Item{active("a", "a", now)}), "stopped scheduler ignores snapshots")

	s.Bind(context.Background())
	assert.False(t, s.ObserveSnapshot([]models.Item{active("a", "a", now)}), "baseline is re-established")
	assert.True(t, s.ObserveSnapshot([]models.Item{active("a", "a", now), active("b", "b", now)}))

	require.Eventually(t, func() bool { return rec.events.Load() == 1 }, time.Second, 5*time.Millisecond)
}
