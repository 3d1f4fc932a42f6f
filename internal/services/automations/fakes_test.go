// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/autobrr/autorules/internal/models"
)

// memStore is an in-memory RuleStore that keeps the encoded rule document
// like the real stores do.
type memStore struct {
	mu        sync.Mutex
	rulesDoc  []byte
	logs      map[models.RuleID][]models.ExecutionLogEntry
	saves     int
	loadErr   error
	saveErr   error
	listeners []chan struct{}
}

func newMemStore(rules ...*models.Rule) *memStore {
	s := &memStore{logs: make(map[models.RuleID][]models.ExecutionLogEntry)}
	if len(rules) > 0 {
		s.rulesDoc, _ = json.Marshal(rules)
	}
	return s
}

func (s *memStore) LoadRules(_ context.Context) ([]*models.Rule, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loadErr != nil {
		return nil, s.loadErr
	}
	return models.ParseRules(s.rulesDoc)
}

func (s *memStore) SaveRules(_ context.Context, rules []*models.Rule) error {
	data, err := json.Marshal(rules)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.rulesDoc = data
	s.saves++
	s.notifyLocked()
	return nil
}

func (s *memStore) LoadLogs(_ context.Context, id models.RuleID) ([]models.ExecutionLogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ExecutionLogEntry(nil), s.logs[id]...), nil
}

func (s *memStore) SaveLogs(_ context.Context, id models.RuleID, logs []models.ExecutionLogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[id] = append([]models.ExecutionLogEntry(nil), logs...)
	return nil
}

func (s *memStore) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)
	s.mu.Lock()
	s.listeners = append(s.listeners, ch)
	s.mu.Unlock()
	return ch
}

func (s *memStore) notifyLocked() {
	for _, ch := range s.listeners {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

// writeExternal replaces the stored document as another process would.
func (s *memStore) writeExternal(doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesDoc = doc
	s.notifyLocked()
}

// writeUnannounced replaces the stored document without notifying listeners,
// as if the change notification were still in flight.
func (s *memStore) writeUnannounced(doc []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rulesDoc = doc
}

func (s *memStore) storedRule(id models.RuleID) *models.Rule {
	s.mu.Lock()
	defer s.mu.Unlock()
	rules, err := models.ParseRules(s.rulesDoc)
	if err != nil {
		return nil
	}
	for _, r := range rules {
		if r.ID == id {
			return r
		}
	}
	return nil
}

func (s *memStore) saveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

func (s *memStore) logsFor(id models.RuleID) []models.ExecutionLogEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.ExecutionLogEntry(nil), s.logs[id]...)
}

type fakeItems struct {
	mu    sync.Mutex
	items []models.Item
	err   error
	calls int
}

func (f *fakeItems) ListItems(_ context.Context) ([]models.Item, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return append([]models.Item(nil), f.items...), nil
}

func (f *fakeItems) set(items ...models.Item) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.items = items
}

type actionCall struct {
	Action models.ActionType
	ID     string
}

// fakeActions records calls. Items listed in fail report failure, items in
// broken return an error, items in panics panic.
type fakeActions struct {
	mu     sync.Mutex
	calls  []actionCall
	fail   map[string]bool
	broken map[string]bool
	panics map[string]bool
}

func newFakeActions() *fakeActions {
	return &fakeActions{fail: map[string]bool{}, broken: map[string]bool{}, panics: map[string]bool{}}
}

func (f *fakeActions) do(action models.ActionType, id string) (ActionResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, actionCall{Action: action, ID: id})
	fail, broken, panics := f.fail[id], f.broken[id], f.panics[id]
	f.mu.Unlock()

	switch {
	case panics:
		panic("executor exploded")
	case broken:
		return ActionResult{}, errors.New("connection refused")
	case fail:
		return ActionResult{Success: false, Message: "rejected"}, nil
	default:
		return ActionResult{Success: true}, nil
	}
}

func (f *fakeActions) StopSeeding(_ context.Context, id string) (ActionResult, error) {
	return f.do(models.ActionStopSeeding, id)
}

func (f *fakeActions) Delete(_ context.Context, id string) (ActionResult, error) {
	return f.do(models.ActionDelete, id)
}

func (f *fakeActions) ArchiveThenDelete(_ context.Context, item models.Item) (ActionResult, error) {
	return f.do(models.ActionArchive, item.ID)
}

func (f *fakeActions) ForceStart(_ context.Context, id string) (ActionResult, error) {
	return f.do(models.ActionForceStart, id)
}

func (f *fakeActions) recorded() []actionCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]actionCall(nil), f.calls...)
}

func active(id, name string, created time.Time) models.Item {
	return models.Item{ID: id, Name: name, Active: models.BoolPtr(true), CreatedAt: created}
}

func intervalRule(id string, minutes float64, action models.ActionType, conds ...models.Condition) *models.Rule {
	return &models.Rule{
		ID:         models.RuleID(id),
		Name:       "rule " + id,
		Enabled:    true,
		Trigger:    models.IntervalTrigger(minutes),
		Conditions: conds,
		Action:     models.Action{Type: action},
	}
}

func eventRule(id string, action models.ActionType, conds ...models.Condition) *models.Rule {
	r := intervalRule(id, 0, action, conds...)
	r.Trigger = models.DownloadAddedTrigger()
	return r
}

func cond(t models.ConditionType, op models.ConditionOperator, v float64) models.Condition {
	return models.Condition{Type: t, Operator: op, Value: models.NumberValue(v)}
}
