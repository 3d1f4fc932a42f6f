// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package rulestore persists the rule list and per-rule execution logs and
// reports changes made to the rule list, including ones made by other
// processes.
package rulestore

import (
	"encoding/json"

	"github.com/cespare/xxhash/v2"

	"github.com/autobrr/autorules/internal/models"
)

const (
	// RulesKey is the storage key of the rule list document.
	RulesKey = "automationRules"

	logsKeyPrefix = "ruleLogs_"
)

// LogsKey is the storage key of a rule's execution log document.
func LogsKey(id models.RuleID) string {
	return logsKeyPrefix + string(id)
}

func encodeRules(rules []*models.Rule) ([]byte, error) {
	if rules == nil {
		rules = []*models.Rule{}
	}
	return json.Marshal(rules)
}

func encodeLogs(logs []models.ExecutionLogEntry) ([]byte, error) {
	if logs == nil {
		logs = []models.ExecutionLogEntry{}
	}
	return json.Marshal(logs)
}

// removedRuleIDs lists the ids present in previous but not in next.
func removedRuleIDs(previous, next []*models.Rule) []models.RuleID {
	keep := make(map[models.RuleID]struct{}, len(next))
	for _, r := range next {
		if r != nil {
			keep[r.ID] = struct{}{}
		}
	}
	var removed []models.RuleID
	for _, r := range previous {
		if r == nil {
			continue
		}
		if _, ok := keep[r.ID]; !ok {
			removed = append(removed, r.ID)
		}
	}
	return removed
}

func fingerprint(data []byte) uint64 {
	return xxhash.Sum64(data)
}

// notify performs a non-blocking send; a pending signal already covers the change.
func notify(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}
