// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/models"
)

// MetadataDelta is the bookkeeping produced by one step of a firing.
type MetadataDelta struct {
	Triggered bool // triggeredCount+1, lastTriggeredAt=At
	Executed  bool // executionCount+1, lastExecutedAt=At
	At        time.Time
}

// MetadataStore owns the authoritative rule list. Every metadata update is a
// read-modify-write under one lock: the stored list is re-read, and if it no
// longer matches the last known state it becomes the new base before the
// delta is applied and the whole list is persisted.
type MetadataStore struct {
	store RuleStore

	mu    sync.Mutex
	rules []*models.Rule
	known uint64 // fingerprint of the stored list as last read or written
	// an external edit was adopted by Record and has not been reconciled
	unreconciled bool
}

// ReconcileFunc brings dependent state in line with a newly installed list.
type ReconcileFunc func(previous, current []*models.Rule)

func NewMetadataStore(store RuleStore) *MetadataStore {
	return &MetadataStore{store: store}
}

// Fingerprint hashes the canonical encoding of rules.
func Fingerprint(rules []*models.Rule) (uint64, error) {
	if rules == nil {
		rules = []*models.Rule{}
	}
	data, err := json.Marshal(rules)
	if err != nil {
		return 0, err
	}
	return xxhash.Sum64(data), nil
}

// Replace installs rules as the authoritative list.
func (m *MetadataStore) Replace(rules []*models.Rule) {
	fp, err := Fingerprint(rules)
	if err != nil {
		log.Warn().Err(err).Msg("automations: failed to fingerprint rules")
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.rules = cloneRules(rules)
	m.known = fp
	m.unreconciled = false
}

// Sync re-reads the stored list and, when it is not the list last
// reconciled, installs it and runs reconcile before releasing the lock, so no
// metadata write can interleave. Lists written by Record count as reconciled
// unless they carried an adopted external edit. force installs regardless. A
// malformed stored list reads as empty. Sync reports whether it installed.
func (m *MetadataStore) Sync(ctx context.Context, force bool, reconcile ReconcileFunc) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored, err := m.store.LoadRules(ctx)
	if err != nil {
		if !errors.Is(err, models.ErrMalformedRules) {
			return false, fmt.Errorf("reload rules: %w", err)
		}
		log.Warn().Err(err).Msg("automations: stored rules are malformed, treating as empty")
		stored = []*models.Rule{}
	}

	fp, err := Fingerprint(stored)
	if err != nil {
		return false, err
	}
	if !force && fp == m.known && !m.unreconciled {
		return false, nil
	}

	previous := m.rules
	m.rules = stored
	m.known = fp
	m.unreconciled = false

	if reconcile != nil {
		reconcile(cloneRules(previous), cloneRules(stored))
	}
	return true, nil
}

// Rules returns a copy of the authoritative list.
func (m *MetadataStore) Rules() []*models.Rule {
	m.mu.Lock()
	defer m.mu.Unlock()
	return cloneRules(m.rules)
}

// Rule returns a copy of one rule.
func (m *MetadataStore) Rule(id models.RuleID) (*models.Rule, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx := indexOfRule(m.rules, id); idx >= 0 {
		return m.rules[idx].Clone(), true
	}
	return nil, false
}

// Record applies delta to the rule's metadata and persists the list. It
// returns models.ErrRuleNotFound when the rule no longer exists, which callers
// treat as a benign race with a deletion.
func (m *MetadataStore) Record(ctx context.Context, id models.RuleID, delta MetadataDelta) (*models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	base, err := m.refreshLocked(ctx)
	if err != nil {
		return nil, err
	}

	idx := indexOfRule(base, id)
	if idx < 0 {
		return nil, fmt.Errorf("record metadata for %s: %w", id, models.ErrRuleNotFound)
	}

	updated := base[idx].Clone()
	md := updated.MetadataOrDefault(delta.At)
	at := delta.At.UnixMilli()
	if delta.Triggered {
		md.TriggeredCount++
		md.LastTriggeredAt = models.Int64Ptr(at)
	}
	if delta.Executed {
		md.ExecutionCount++
		md.LastExecutedAt = models.Int64Ptr(at)
	}
	updated.Metadata = &md

	next := make([]*models.Rule, len(base))
	copy(next, base)
	next[idx] = updated

	if err := m.store.SaveRules(ctx, next); err != nil {
		return nil, fmt.Errorf("persist metadata for %s: %w", id, err)
	}

	fp, err := Fingerprint(next)
	if err != nil {
		return nil, err
	}
	m.rules = next
	m.known = fp

	return updated.Clone(), nil
}

// refreshLocked re-reads the stored list and adopts it when it changed
// underneath us. A malformed stored list is never overwritten.
func (m *MetadataStore) refreshLocked(ctx context.Context) ([]*models.Rule, error) {
	stored, err := m.store.LoadRules(ctx)
	if err != nil {
		if errors.Is(err, models.ErrMalformedRules) {
			return nil, err
		}
		return nil, fmt.Errorf("reload rules: %w", err)
	}

	fp, err := Fingerprint(stored)
	if err != nil {
		return nil, err
	}
	if fp != m.known {
		log.Debug().Msg("automations: stored rules changed, merging onto fresh list")
		m.rules = stored
		m.known = fp
		m.unreconciled = true
	}
	return m.rules, nil
}

func indexOfRule(rules []*models.Rule, id models.RuleID) int {
	for i, r := range rules {
		if r != nil && r.ID == id {
			return i
		}
	}
	return -1
}

func cloneRules(rules []*models.Rule) []*models.Rule {
	out := make([]*models.Rule, 0, len(rules))
	for _, r := range rules {
		if r != nil {
			out = append(out, r.Clone())
		}
	}
	return out
}
