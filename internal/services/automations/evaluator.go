// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"math"
	"strings"
	"time"

	"github.com/autobrr/autorules/internal/models"
)

const (
	bytesPerKB = 1024
	bytesPerGB = 1024 * 1024 * 1024
)

var stalledStates = map[string]struct{}{
	"stalled":            {},
	"stalledDL":          {},
	"stalled (no seeds)": {},
}

// EvaluateCondition reports whether item satisfies cond at now. Conditions
// that do not apply to the item (an inactive item for seeding_time, say)
// are false. active_download_count is not an item property and is true here;
// the executor evaluates it over the whole snapshot.
func EvaluateCondition(item *models.Item, cond models.Condition, now time.Time) bool {
	if item == nil {
		return false
	}

	switch cond.Type {
	case models.ConditionActiveDownloadCount:
		return true
	case models.ConditionSeedingTime, models.ConditionSeedingRatio:
		if !item.IsActive() {
			return false
		}
	case models.ConditionStalledTime:
		if !item.IsActive() {
			return false
		}
		if _, ok := stalledStates[item.DownloadState]; !ok {
			return false
		}
	case models.ConditionTracker:
		// compared against the match flag, so "eq 1" means "tracker contains value"
		return cond.Operator.Compare(ConditionScalar(item, cond, now), 1)
	}

	return cond.Operator.Compare(ConditionScalar(item, cond, now), cond.Value.Float())
}

// ConditionScalar derives the number a condition compares. Missing timestamps
// yield NaN so every comparison against them fails. Unknown types yield 0.
func ConditionScalar(item *models.Item, cond models.Condition, now time.Time) float64 {
	switch cond.Type {
	case models.ConditionSeedingTime:
		return hoursSince(item.CachedAt, now)
	case models.ConditionStalledTime:
		return hoursSince(item.UpdatedAt, now)
	case models.ConditionSeedingRatio:
		return item.Ratio
	case models.ConditionSeeds:
		return float64(item.Seeds)
	case models.ConditionPeers:
		return float64(item.Peers)
	case models.ConditionDownloadSpeed:
		return float64(item.DownloadSpeed) / bytesPerKB
	case models.ConditionUploadSpeed:
		return float64(item.UploadSpeed) / bytesPerKB
	case models.ConditionFileSize:
		return float64(item.Size) / bytesPerGB
	case models.ConditionAge:
		return hoursSince(item.CreatedAt, now)
	case models.ConditionTracker:
		if strings.Contains(item.Tracker, cond.Value.Text()) {
			return 1
		}
		return 0
	case models.ConditionInactive:
		if item.IsActive() {
			return 0
		}
		return 1
	default:
		return 0
	}
}

// MatchesRule evaluates every condition against item and combines them with
// the rule's logic operator.
func MatchesRule(item *models.Item, rule *models.Rule, now time.Time) bool {
	results := make([]bool, len(rule.Conditions))
	for i, cond := range rule.Conditions {
		results[i] = EvaluateCondition(item, cond, now)
	}
	return rule.Logic().Combine(results)
}

func hoursSince(t time.Time, now time.Time) float64 {
	if t.IsZero() {
		return math.NaN()
	}
	return now.Sub(t).Hours()
}
