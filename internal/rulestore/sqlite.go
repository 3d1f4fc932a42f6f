// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package rulestore

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/dbinterface"
	"github.com/autobrr/autorules/internal/models"
)

const defaultWatchInterval = 5 * time.Second

// SQLiteStore keeps rules and logs in the storage table. Changes to the rule
// document are detected by polling its fingerprint.
type SQLiteStore struct {
	storage       *models.StorageStore
	watchInterval time.Duration
}

func NewSQLiteStore(db dbinterface.Querier, watchInterval time.Duration) *SQLiteStore {
	if watchInterval <= 0 {
		watchInterval = defaultWatchInterval
	}
	return &SQLiteStore{
		storage:       models.NewStorageStore(db),
		watchInterval: watchInterval,
	}
}

func (s *SQLiteStore) loadRaw(ctx context.Context, key string) ([]byte, error) {
	entry, err := s.storage.Get(ctx, key)
	if err != nil {
		if errors.Is(err, models.ErrStorageKeyNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return []byte(entry.Value), nil
}

// LoadRules returns the stored rule list. A missing document is an empty list;
// an undecodable one returns models.ErrMalformedRules.
func (s *SQLiteStore) LoadRules(ctx context.Context) ([]*models.Rule, error) {
	data, err := s.loadRaw(ctx, RulesKey)
	if err != nil {
		return nil, err
	}
	return models.ParseRules(data)
}

// SaveRules replaces the rule document. Logs of rules dropped from the list
// are deleted in the same transaction.
func (s *SQLiteStore) SaveRules(ctx context.Context, rules []*models.Rule) error {
	data, err := encodeRules(rules)
	if err != nil {
		return err
	}

	var drop []string
	if previous, err := s.LoadRules(ctx); err == nil {
		for _, id := range removedRuleIDs(previous, rules) {
			drop = append(drop, LogsKey(id))
		}
	}
	return s.storage.SetAndDelete(ctx, RulesKey, string(data), drop)
}

func (s *SQLiteStore) LoadLogs(ctx context.Context, id models.RuleID) ([]models.ExecutionLogEntry, error) {
	data, err := s.loadRaw(ctx, LogsKey(id))
	if err != nil {
		return nil, err
	}
	return models.ParseLogs(data)
}

func (s *SQLiteStore) SaveLogs(ctx context.Context, id models.RuleID, logs []models.ExecutionLogEntry) error {
	data, err := encodeLogs(logs)
	if err != nil {
		return err
	}
	return s.storage.Set(ctx, LogsKey(id), string(data))
}

// Subscribe signals on the returned channel whenever the stored rule document
// changes. The channel is closed when ctx is done.
func (s *SQLiteStore) Subscribe(ctx context.Context) <-chan struct{} {
	ch := make(chan struct{}, 1)

	last, _ := s.currentFingerprint(ctx)

	go func() {
		defer close(ch)

		ticker := time.NewTicker(s.watchInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				current, err := s.currentFingerprint(ctx)
				if err != nil {
					if ctx.Err() == nil {
						log.Warn().Err(err).Msg("rulestore: failed to poll rule document")
					}
					continue
				}
				if current != last {
					last = current
					notify(ch)
				}
			}
		}
	}()

	return ch
}

func (s *SQLiteStore) currentFingerprint(ctx context.Context) (uint64, error) {
	data, err := s.loadRaw(ctx, RulesKey)
	if err != nil {
		return 0, err
	}
	return fingerprint(data), nil
}
