// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package automations runs declarative rules against download snapshots:
// interval and download-added triggers, condition matching and actions with
// per-rule bookkeeping.
package automations

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/autobrr/autorules/internal/metrics/collector"
	"github.com/autobrr/autorules/internal/models"
)

var ErrNotStarted = errors.New("automations: engine not started")

// Config controls snapshot cadence, event coalescing and log retention.
type Config struct {
	PollInterval  time.Duration // item snapshot cadence for newly-active detection
	EventCoalesce time.Duration
	LogRetention  int
	ActionTimeout time.Duration // per item action
}

func DefaultConfig() Config {
	return Config{
		PollInterval:  10 * time.Second,
		EventCoalesce: DefaultEventCoalesce,
		LogRetention:  DefaultLogRetention,
		ActionTimeout: 30 * time.Second,
	}
}

// Status is a point-in-time view of the engine.
type Status struct {
	Running        bool            `json:"running"`
	Rules          int             `json:"rules"`
	EnabledRules   int             `json:"enabledRules"`
	IntervalRules  []ArmedTimer    `json:"intervalRules"`
	EventRules     []models.RuleID `json:"eventRules"`
	LastSnapshotAt *time.Time      `json:"lastSnapshotAt,omitempty"`
	SnapshotItems  int             `json:"snapshotItems"`
	Firings        uint64          `json:"firings"`
}

// Service is the engine controller. It owns the authoritative rule list,
// keeps timers in line with the stored rules and dispatches firings.
type Service struct {
	cfg       Config
	store     RuleStore
	items     ItemSource
	metadata  *MetadataStore
	logs      *ExecutionLogger
	executor  *RuleExecutor
	scheduler *TriggerScheduler
	snapshots singleflight.Group
	now       func() time.Time

	firings atomic.Uint64

	mu             sync.RWMutex
	loaded         bool
	running        bool
	ctx            context.Context
	cancel         context.CancelFunc
	latest         []models.Item
	lastSnapshotAt time.Time
	inflight       sync.WaitGroup
	loops          sync.WaitGroup
}

func NewService(cfg Config, store RuleStore, items ItemSource, actions ActionExecutor, metrics *collector.AutomationCollector) *Service {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	if cfg.EventCoalesce <= 0 {
		cfg.EventCoalesce = DefaultConfig().EventCoalesce
	}
	if cfg.LogRetention <= 0 {
		cfg.LogRetention = DefaultConfig().LogRetention
	}
	if cfg.ActionTimeout <= 0 {
		cfg.ActionTimeout = DefaultConfig().ActionTimeout
	}

	metadata := NewMetadataStore(store)
	logs := NewExecutionLogger(store, cfg.LogRetention)

	s := &Service{
		cfg:      cfg,
		store:    store,
		items:    items,
		metadata: metadata,
		logs:     logs,
		executor: NewRuleExecutor(actions, metadata, logs, metrics, cfg.ActionTimeout),
		now:      time.Now,
	}
	s.scheduler = NewTriggerScheduler(cfg.EventCoalesce, s.fireInterval, s.fireItemsAdded)
	return s
}

// Load reads the stored rules into the engine without arming anything. A
// malformed stored list is treated as empty.
func (s *Service) Load(ctx context.Context) ([]*models.Rule, error) {
	rules, err := s.loadRules(ctx)
	if err != nil {
		return nil, err
	}
	s.metadata.Replace(rules)

	s.mu.Lock()
	s.loaded = true
	s.mu.Unlock()

	return s.metadata.Rules(), nil
}

func (s *Service) loadRules(ctx context.Context) ([]*models.Rule, error) {
	rules, err := s.store.LoadRules(ctx)
	if err != nil {
		if errors.Is(err, models.ErrMalformedRules) {
			log.Warn().Err(err).Msg("automations: stored rules are malformed, treating as empty")
			return []*models.Rule{}, nil
		}
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return rules, nil
}

// Start loads the rules, arms their timers and begins watching the store and
// the item source. It returns once the engine is running.
func (s *Service) Start(ctx context.Context) error {
	if s == nil {
		return nil
	}

	rules, err := s.Load(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.ctx = runCtx
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	s.scheduler.Bind(runCtx)
	s.scheduler.Reconcile(rules)

	if notifier, ok := s.store.(ChangeNotifier); ok {
		changes := notifier.Subscribe(runCtx)
		s.loops.Add(1)
		go s.watch(runCtx, changes)
	}

	s.loops.Add(1)
	go s.loop(runCtx)

	log.Info().Int("rules", len(rules)).Int("armed", len(s.scheduler.Armed())).Msg("automations: engine started")
	return nil
}

func (s *Service) loop(ctx context.Context) {
	defer s.loops.Done()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	if err := s.ObserveSnapshot(ctx); err != nil && ctx.Err() == nil {
		log.Warn().Err(err).Msg("automations: failed to fetch item snapshot")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.ObserveSnapshot(ctx); err != nil && ctx.Err() == nil {
				log.Warn().Err(err).Msg("automations: failed to fetch item snapshot")
			}
		}
	}
}

func (s *Service) watch(ctx context.Context, changes <-chan struct{}) {
	defer s.loops.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case _, ok := <-changes:
			if !ok {
				return
			}
			if err := s.handleStoreChange(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Msg("automations: failed to reconcile after rule change")
			}
		}
	}
}

// handleStoreChange reconciles unless the stored list is the one the engine
// itself last wrote.
func (s *Service) handleStoreChange(ctx context.Context) error {
	changed, err := s.metadata.Sync(ctx, false, s.reconcileWith)
	if err != nil {
		return err
	}
	if !changed {
		log.Trace().Msg("automations: ignoring own rule write")
	}
	return nil
}

// Reconcile re-reads the authoritative rule list and brings timers in line
// with it.
func (s *Service) Reconcile(ctx context.Context) error {
	_, err := s.metadata.Sync(ctx, true, s.reconcileWith)
	return err
}

func (s *Service) reconcileWith(previous, current []*models.Rule) {
	present := make(map[models.RuleID]struct{}, len(current))
	for _, r := range current {
		present[r.ID] = struct{}{}
	}
	for _, r := range previous {
		if _, ok := present[r.ID]; !ok {
			s.logs.Forget(r.ID)
		}
	}

	s.scheduler.Reconcile(current)
	log.Info().Int("rules", len(current)).Int("armed", len(s.scheduler.Armed())).Msg("automations: reconciled rules")
}

// snapshot fetches the current items. Concurrent callers share one request.
func (s *Service) snapshot(ctx context.Context) ([]models.Item, error) {
	v, err, _ := s.snapshots.Do("items", func() (any, error) {
		return s.items.ListItems(ctx)
	})
	if err != nil {
		return nil, err
	}
	items, _ := v.([]models.Item)

	s.mu.Lock()
	s.latest = items
	s.lastSnapshotAt = s.now()
	s.mu.Unlock()

	return items, nil
}

// ObserveSnapshot fetches a snapshot and feeds it to newly-active detection.
func (s *Service) ObserveSnapshot(ctx context.Context) error {
	items, err := s.snapshot(ctx)
	if err != nil {
		return err
	}
	if s.scheduler.ObserveSnapshot(items) {
		log.Debug().Msg("automations: newly active items detected")
	}
	return nil
}

// begin registers an in-flight firing. Firings outlive cancellation of the
// run context so their bookkeeping is persisted.
func (s *Service) begin() (context.Context, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return nil, false
	}
	s.inflight.Add(1)
	return context.WithoutCancel(s.ctx), true
}

func (s *Service) fireInterval(id models.RuleID) {
	ctx, ok := s.begin()
	if !ok {
		return
	}
	defer s.inflight.Done()

	rule, found := s.metadata.Rule(id)
	if !found {
		return
	}

	items, err := s.snapshot(ctx)
	if err != nil {
		log.Warn().Err(err).Str("ruleID", string(id)).Msg("automations: failed to fetch items for interval firing")
		return
	}

	s.fire(ctx, rule, items, ReasonInterval)
}

func (s *Service) fireItemsAdded() {
	ctx, ok := s.begin()
	if !ok {
		return
	}
	defer s.inflight.Done()

	s.mu.RLock()
	items := s.latest
	s.mu.RUnlock()

	var wg sync.WaitGroup
	for _, rule := range s.metadata.Rules() {
		if !rule.Enabled || !rule.Trigger.IsDownloadAdded() {
			continue
		}
		wg.Add(1)
		go func(rule *models.Rule) {
			defer wg.Done()
			s.fire(ctx, rule, items, ReasonDownloadAdded)
		}(rule)
	}
	wg.Wait()
}

func (s *Service) fire(ctx context.Context, rule *models.Rule, items []models.Item, reason FireReason) FiringResult {
	result, err := s.executor.Fire(ctx, rule, items, s.now(), reason)
	if err != nil {
		log.Error().Err(err).Str("ruleID", string(rule.ID)).Msg("automations: failed to record firing")
	}
	if result.Triggered() {
		s.firings.Add(1)
	}
	return result
}

// FireRule runs one rule now against a fresh snapshot.
func (s *Service) FireRule(ctx context.Context, id models.RuleID) (FiringResult, error) {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if !loaded {
		return FiringResult{}, ErrNotStarted
	}

	rule, found := s.metadata.Rule(id)
	if !found {
		return FiringResult{}, fmt.Errorf("fire %s: %w", id, models.ErrRuleNotFound)
	}

	items, err := s.snapshot(ctx)
	if err != nil {
		return FiringResult{}, fmt.Errorf("fetch items: %w", err)
	}

	result, err := s.executor.Fire(ctx, rule, items, s.now(), ReasonManual)
	if result.Triggered() {
		s.firings.Add(1)
	}
	return result, err
}

// Rules returns a copy of the authoritative rule list.
func (s *Service) Rules() []*models.Rule {
	return s.metadata.Rules()
}

// Logs returns a rule's execution log, newest first.
func (s *Service) Logs(ctx context.Context, id models.RuleID) ([]models.ExecutionLogEntry, error) {
	if _, found := s.metadata.Rule(id); !found {
		return nil, fmt.Errorf("logs %s: %w", id, models.ErrRuleNotFound)
	}
	return s.logs.Logs(ctx, id)
}

func (s *Service) Status() Status {
	rules := s.metadata.Rules()

	st := Status{
		IntervalRules: s.scheduler.Armed(),
		EventRules:    []models.RuleID{},
		Rules:         len(rules),
		Firings:       s.firings.Load(),
	}
	for _, r := range rules {
		if !r.Enabled {
			continue
		}
		st.EnabledRules++
		if r.Trigger.IsDownloadAdded() {
			st.EventRules = append(st.EventRules, r.ID)
		}
	}

	s.mu.RLock()
	st.Running = s.running
	st.SnapshotItems = len(s.latest)
	if !s.lastSnapshotAt.IsZero() {
		at := s.lastSnapshotAt
		st.LastSnapshotAt = &at
	}
	s.mu.RUnlock()

	return st
}

// Stop disarms all timers and waits for in-flight firings to finish.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.scheduler.Stop()
	s.loops.Wait()
	s.inflight.Wait()

	log.Info().Msg("automations: engine stopped")
}
