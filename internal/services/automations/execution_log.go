// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/models"
)

// DefaultLogRetention is the number of entries kept per rule.
const DefaultLogRetention = 100

// ExecutionLogger keeps a bounded newest-first log per rule.
type ExecutionLogger struct {
	store     RuleStore
	retention int

	mu    sync.Mutex
	locks map[models.RuleID]*sync.Mutex
}

func NewExecutionLogger(store RuleStore, retention int) *ExecutionLogger {
	if retention <= 0 {
		retention = DefaultLogRetention
	}
	return &ExecutionLogger{
		store:     store,
		retention: retention,
		locks:     make(map[models.RuleID]*sync.Mutex),
	}
}

func (l *ExecutionLogger) lockFor(id models.RuleID) *sync.Mutex {
	l.mu.Lock()
	defer l.mu.Unlock()
	m, ok := l.locks[id]
	if !ok {
		m = &sync.Mutex{}
		l.locks[id] = m
	}
	return m
}

// Append prepends entry to the rule's log and truncates it to the retention.
// An unreadable stored log is replaced.
func (l *ExecutionLogger) Append(ctx context.Context, id models.RuleID, entry models.ExecutionLogEntry) error {
	lock := l.lockFor(id)
	lock.Lock()
	defer lock.Unlock()

	existing, err := l.store.LoadLogs(ctx, id)
	if err != nil {
		log.Warn().Err(err).Str("ruleID", string(id)).Msg("automations: discarding unreadable execution log")
		existing = nil
	}

	logs := make([]models.ExecutionLogEntry, 0, min(len(existing)+1, l.retention))
	logs = append(logs, entry)
	for _, e := range existing {
		if len(logs) >= l.retention {
			break
		}
		logs = append(logs, e)
	}

	return l.store.SaveLogs(ctx, id, logs)
}

// Logs returns the rule's log, newest first.
func (l *ExecutionLogger) Logs(ctx context.Context, id models.RuleID) ([]models.ExecutionLogEntry, error) {
	logs, err := l.store.LoadLogs(ctx, id)
	if err != nil {
		return nil, err
	}
	if logs == nil {
		logs = []models.ExecutionLogEntry{}
	}
	return logs, nil
}

// Forget drops the per-rule lock of a deleted rule.
func (l *ExecutionLogger) Forget(id models.RuleID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.locks, id)
}
