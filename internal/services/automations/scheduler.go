// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/models"
	"github.com/autobrr/autorules/pkg/debounce"
)

// DefaultEventCoalesce is the window that absorbs bursts of newly active items.
const DefaultEventCoalesce = 100 * time.Millisecond

// InitialDelay is the wait before the first firing of an interval rule that
// is armed at now. The schedule counts from the last trigger, or from when
// the rule was enabled, so restarts do not push a due rule back a full period.
func InitialDelay(md models.Metadata, period time.Duration, now time.Time) time.Duration {
	ref := md.SchedulingReference()
	if ref == nil {
		return period
	}
	elapsed := now.Sub(time.UnixMilli(*ref))
	return max(0, period-elapsed)
}

// ArmedTimer describes an armed interval rule.
type ArmedTimer struct {
	RuleID     models.RuleID `json:"ruleId"`
	Period     time.Duration `json:"period"`
	NextFireAt time.Time     `json:"nextFireAt"`
}

type armedTimer struct {
	cancel     context.CancelFunc
	period     time.Duration
	nextFireAt time.Time
}

// TriggerScheduler owns one timer per armed interval rule and the
// newly-active detector shared by event rules. It only decides when to fire;
// the callbacks do the work and are invoked on their own goroutines.
type TriggerScheduler struct {
	onInterval   func(id models.RuleID)
	onItemsAdded func()
	now          func() time.Time
	coalesce     time.Duration

	mu         sync.Mutex
	ctx        context.Context
	timers     map[models.RuleID]*armedTimer
	prevActive map[string]struct{}
	seeded     bool
	events     *debounce.Debouncer
	wg         sync.WaitGroup
}

func NewTriggerScheduler(coalesce time.Duration, onInterval func(models.RuleID), onItemsAdded func()) *TriggerScheduler {
	if coalesce <= 0 {
		coalesce = DefaultEventCoalesce
	}
	return &TriggerScheduler{
		onInterval:   onInterval,
		onItemsAdded: onItemsAdded,
		now:          time.Now,
		coalesce:     coalesce,
		ctx:          context.Background(),
		timers:       make(map[models.RuleID]*armedTimer),
		events:       debounce.New(coalesce),
	}
}

// Bind sets the context timers run under. Cancelling it disarms everything.
// After Stop it also restarts event coalescing and the snapshot baseline.
func (s *TriggerScheduler) Bind(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctx = ctx
	if s.events == nil {
		s.events = debounce.New(s.coalesce)
		s.prevActive = nil
		s.seeded = false
	}
}

// Arm (re)starts the timer of an enabled interval rule. Other rules are
// disarmed, so event rules never own a timer.
func (s *TriggerScheduler) Arm(rule *models.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.armLocked(rule, s.now())
}

func (s *TriggerScheduler) armLocked(rule *models.Rule, now time.Time) {
	s.disarmLocked(rule.ID)

	if !rule.Enabled || !rule.Trigger.IsInterval() {
		return
	}
	if err := rule.Validate(); err != nil {
		log.Warn().Err(err).Str("ruleID", string(rule.ID)).Msg("automations: not arming invalid rule")
		return
	}

	period := rule.Trigger.Period()
	delay := InitialDelay(rule.MetadataOrDefault(now), period, now)

	ctx, cancel := context.WithCancel(s.ctx)
	t := &armedTimer{cancel: cancel, period: period, nextFireAt: now.Add(delay)}
	s.timers[rule.ID] = t

	s.wg.Add(1)
	go s.run(ctx, rule.ID, t, delay)

	log.Debug().Str("ruleID", string(rule.ID)).Dur("initialDelay", delay).Dur("period", period).Msg("automations: armed interval rule")
}

func (s *TriggerScheduler) run(ctx context.Context, id models.RuleID, t *armedTimer, delay time.Duration) {
	defer s.wg.Done()

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	s.dispatch(ctx, id, t)

	ticker := time.NewTicker(t.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.dispatch(ctx, id, t)
		}
	}
}

func (s *TriggerScheduler) dispatch(ctx context.Context, id models.RuleID, t *armedTimer) {
	s.mu.Lock()
	if ctx.Err() != nil {
		s.mu.Unlock()
		return
	}
	t.nextFireAt = s.now().Add(t.period)
	s.mu.Unlock()

	go s.onInterval(id)
}

// Disarm cancels the rule's timer. It is a no-op for unarmed rules.
func (s *TriggerScheduler) Disarm(id models.RuleID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.disarmLocked(id)
}

func (s *TriggerScheduler) disarmLocked(id models.RuleID) {
	if t, ok := s.timers[id]; ok {
		t.cancel()
		delete(s.timers, id)
	}
}

// Reconcile disarms rules that were removed or disabled and re-arms every
// enabled interval rule from its current metadata.
func (s *TriggerScheduler) Reconcile(rules []*models.Rule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	present := make(map[models.RuleID]*models.Rule, len(rules))
	for _, r := range rules {
		present[r.ID] = r
	}

	for id := range s.timers {
		if r, ok := present[id]; !ok || !r.Enabled {
			s.disarmLocked(id)
		}
	}

	for _, r := range rules {
		s.armLocked(r, now)
	}
}

// ObserveSnapshot diffs the active items against the previous snapshot and
// opens a coalescing window when new ones appear. The first snapshot only
// establishes the baseline.
func (s *TriggerScheduler) ObserveSnapshot(items []models.Item) bool {
	current := make(map[string]struct{}, len(items))
	for i := range items {
		if items[i].IsActive() {
			current[items[i].ID] = struct{}{}
		}
	}

	s.mu.Lock()
	prev, seeded := s.prevActive, s.seeded
	s.prevActive = current
	s.seeded = true
	events := s.events
	s.mu.Unlock()

	if !seeded || events == nil {
		return false
	}

	added := false
	for id := range current {
		if _, ok := prev[id]; !ok {
			added = true
			break
		}
	}
	if !added {
		return false
	}

	events.Do(func() {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.onItemsAdded()
		}()
	})
	return true
}

// Armed lists the armed interval rules ordered by id.
func (s *TriggerScheduler) Armed() []ArmedTimer {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]ArmedTimer, 0, len(s.timers))
	for id, t := range s.timers {
		out = append(out, ArmedTimer{RuleID: id, Period: t.period, NextFireAt: t.nextFireAt})
	}
	slices.SortFunc(out, func(a, b ArmedTimer) int {
		switch {
		case a.RuleID < b.RuleID:
			return -1
		case a.RuleID > b.RuleID:
			return 1
		default:
			return 0
		}
	})
	return out
}

// IsArmed reports whether the rule currently owns a timer.
func (s *TriggerScheduler) IsArmed(id models.RuleID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.timers[id]
	return ok
}

// Stop disarms all timers, drops a pending event window and waits for timer
// goroutines to exit. Bind makes the scheduler usable again.
func (s *TriggerScheduler) Stop() {
	s.mu.Lock()
	for id := range s.timers {
		s.disarmLocked(id)
	}
	events := s.events
	s.events = nil
	s.mu.Unlock()

	if events != nil {
		events.Stop()
	}
	s.wg.Wait()
}
