// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/metrics/collector"
	"github.com/autobrr/autorules/internal/models"
)

// FireReason labels what caused a firing.
type FireReason string

const (
	ReasonInterval      FireReason = "interval"
	ReasonDownloadAdded FireReason = "download_added"
	ReasonManual        FireReason = "manual"
)

const maxDetailItems = 3

// FiringResult summarises one firing.
type FiringResult struct {
	RuleID    models.RuleID `json:"ruleId"`
	Skipped   bool          `json:"skipped"`
	Global    bool          `json:"global"`
	Matched   int           `json:"matched"`
	Succeeded int           `json:"succeeded"`
	Failed    int           `json:"failed"`
}

// Triggered reports whether the firing counted towards triggeredCount.
func (r FiringResult) Triggered() bool {
	return r.Matched > 0
}

// RuleExecutor runs one firing of one rule against a snapshot.
type RuleExecutor struct {
	actions       ActionExecutor
	metadata      *MetadataStore
	logs          *ExecutionLogger
	metrics       *collector.AutomationCollector
	actionTimeout time.Duration
}

func NewRuleExecutor(actions ActionExecutor, metadata *MetadataStore, logs *ExecutionLogger, metrics *collector.AutomationCollector, actionTimeout time.Duration) *RuleExecutor {
	return &RuleExecutor{
		actions:       actions,
		metadata:      metadata,
		logs:          logs,
		metrics:       metrics,
		actionTimeout: actionTimeout,
	}
}

// Fire evaluates rule against items and applies its action to the matches.
// Action failures are counted, never returned. The returned error covers
// persistence of metadata or the execution log.
func (e *RuleExecutor) Fire(ctx context.Context, rule *models.Rule, items []models.Item, now time.Time, reason FireReason) (FiringResult, error) {
	result := FiringResult{}
	if rule == nil {
		result.Skipped = true
		return result, nil
	}
	result.RuleID = rule.ID

	if !rule.Enabled {
		result.Skipped = true
		log.Trace().Str("ruleID", string(rule.ID)).Msg("automations: skipping disabled rule")
		return result, nil
	}

	if err := rule.Validate(); err != nil {
		result.Skipped = true
		log.Warn().Err(err).Str("ruleID", string(rule.ID)).Msg("automations: skipping invalid rule")
		return result, nil
	}

	if rule.UsesGlobalCondition() {
		result.Global = true
		return e.fireGlobal(ctx, rule, items, now, reason, result)
	}
	return e.firePerItem(ctx, rule, items, now, reason, result)
}

func (e *RuleExecutor) firePerItem(ctx context.Context, rule *models.Rule, items []models.Item, now time.Time, reason FireReason, result FiringResult) (FiringResult, error) {
	var matches []models.Item
	for i := range items {
		item := &items[i]
		if !item.Automatable() {
			continue
		}
		if MatchesRule(item, rule, now) {
			matches = append(matches, *item)
		}
	}

	if len(matches) == 0 {
		log.Debug().Str("ruleID", string(rule.ID)).Str("rule", rule.Name).Msg("automations: no items matched")
		return result, nil
	}
	result.Matched = len(matches)
	e.observeTriggered(rule, reason, len(matches))

	var errs []error
	if _, err := e.metadata.Record(ctx, rule.ID, MetadataDelta{Triggered: true, At: now}); err != nil {
		errs = append(errs, e.metadataError(rule, err))
	}

	names := make([]string, 0, maxDetailItems)
	for _, item := range matches {
		ok := e.apply(ctx, rule, item)
		if !ok {
			result.Failed++
			continue
		}
		result.Succeeded++
		if len(names) < maxDetailItems {
			names = append(names, item.DisplayName())
		}
		if _, err := e.metadata.Record(ctx, rule.ID, MetadataDelta{Executed: true, At: now}); err != nil {
			errs = append(errs, e.metadataError(rule, err))
		}
	}

	entry := models.ExecutionLogEntry{
		Timestamp:     now.UnixMilli(),
		Action:        rule.Action.Type.Label(),
		Success:       result.Succeeded > 0,
		ItemsAffected: result.Succeeded,
	}
	if result.Succeeded > 0 {
		entry.Details = "Items: " + strings.Join(names, ", ")
		if result.Succeeded > maxDetailItems {
			entry.Details += "..."
		}
	}
	if result.Failed > 0 {
		entry.Error = fmt.Sprintf("Failed on %d items", result.Failed)
	}

	if err := e.logs.Append(ctx, rule.ID, entry); err != nil {
		errs = append(errs, fmt.Errorf("append execution log for %s: %w", rule.ID, err))
	}

	e.logOutcome(rule, result)
	return result, errors.Join(errs...)
}

func (e *RuleExecutor) fireGlobal(ctx context.Context, rule *models.Rule, items []models.Item, now time.Time, reason FireReason, result FiringResult) (FiringResult, error) {
	activeCount := 0
	for i := range items {
		if items[i].IsActive() {
			activeCount++
		}
	}

	// only the global condition is evaluated; siblings count as satisfied
	results := make([]bool, len(rule.Conditions))
	for i, cond := range rule.Conditions {
		if cond.Type.IsGlobal() {
			results[i] = cond.Operator.Compare(float64(activeCount), cond.Value.Float())
		} else {
			results[i] = true
		}
	}
	if !rule.Logic().Combine(results) {
		log.Debug().Str("ruleID", string(rule.ID)).Int("active", activeCount).Msg("automations: global condition not met")
		return result, nil
	}

	target, ok := oldestActive(items)
	if !ok {
		return result, nil
	}
	result.Matched = 1
	e.observeTriggered(rule, reason, 1)

	var errs []error
	if _, err := e.metadata.Record(ctx, rule.ID, MetadataDelta{Triggered: true, At: now}); err != nil {
		errs = append(errs, e.metadataError(rule, err))
	}

	entry := models.ExecutionLogEntry{
		Timestamp: now.UnixMilli(),
		Action:    rule.Action.Type.Label(),
	}
	if e.apply(ctx, rule, target) {
		result.Succeeded = 1
		entry.Success = true
		entry.ItemsAffected = 1
		entry.Details = "Item: " + target.DisplayName()
		if _, err := e.metadata.Record(ctx, rule.ID, MetadataDelta{Executed: true, At: now}); err != nil {
			errs = append(errs, e.metadataError(rule, err))
		}
	} else {
		result.Failed = 1
		entry.Error = "Action failed"
	}

	if err := e.logs.Append(ctx, rule.ID, entry); err != nil {
		errs = append(errs, fmt.Errorf("append execution log for %s: %w", rule.ID, err))
	}

	e.logOutcome(rule, result)
	return result, errors.Join(errs...)
}

// oldestActive picks the active item with the earliest creation time. Items
// without a creation time rank after dated ones; ties keep snapshot order.
func oldestActive(items []models.Item) (models.Item, bool) {
	best := -1
	for i := range items {
		if !items[i].IsActive() {
			continue
		}
		if best < 0 || createdBefore(&items[i], &items[best]) {
			best = i
		}
	}
	if best < 0 {
		return models.Item{}, false
	}
	return items[best], true
}

func createdBefore(a, b *models.Item) bool {
	switch {
	case a.CreatedAt.IsZero():
		return false
	case b.CreatedAt.IsZero():
		return true
	default:
		return a.CreatedAt.Before(b.CreatedAt)
	}
}

// apply invokes the rule's action on one item. Errors and panics from the
// executor are contained and reported as failure.
func (e *RuleExecutor) apply(ctx context.Context, rule *models.Rule, item models.Item) (ok bool) {
	if e.actionTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.actionTimeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("ruleID", string(rule.ID)).Str("itemID", item.ID).Msg("automations: action panicked")
			ok = false
		}
		e.observeAction(rule, ok)
	}()

	var (
		res ActionResult
		err error
	)
	switch rule.Action.Type {
	case models.ActionStopSeeding:
		res, err = e.actions.StopSeeding(ctx, item.ID)
	case models.ActionArchive:
		res, err = e.actions.ArchiveThenDelete(ctx, item)
	case models.ActionDelete:
		res, err = e.actions.Delete(ctx, item.ID)
	case models.ActionForceStart:
		res, err = e.actions.ForceStart(ctx, item.ID)
	default:
		err = fmt.Errorf("unknown action %q", rule.Action.Type)
	}

	if err != nil {
		log.Warn().Err(err).Str("ruleID", string(rule.ID)).Str("itemID", item.ID).Str("item", item.DisplayName()).Str("action", string(rule.Action.Type)).Msg("automations: action failed")
		return false
	}
	if !res.Success {
		log.Warn().Str("ruleID", string(rule.ID)).Str("itemID", item.ID).Str("action", string(rule.Action.Type)).Str("message", res.Message).Msg("automations: action reported failure")
		return false
	}
	return true
}

func (e *RuleExecutor) metadataError(rule *models.Rule, err error) error {
	if errors.Is(err, models.ErrRuleNotFound) {
		// rule deleted while firing
		log.Debug().Str("ruleID", string(rule.ID)).Msg("automations: rule vanished before metadata update")
		return nil
	}
	log.Error().Err(err).Str("ruleID", string(rule.ID)).Msg("automations: failed to update rule metadata")
	return err
}

func (e *RuleExecutor) logOutcome(rule *models.Rule, result FiringResult) {
	ev := log.Info()
	if result.Failed > 0 {
		ev = log.Warn()
	}
	ev.Str("ruleID", string(rule.ID)).
		Str("rule", rule.Name).
		Str("action", string(rule.Action.Type)).
		Bool("global", result.Global).
		Int("matched", result.Matched).
		Int("succeeded", result.Succeeded).
		Int("failed", result.Failed).
		Msg("automations: rule applied")
}

func (e *RuleExecutor) observeTriggered(rule *models.Rule, reason FireReason, matched int) {
	if e.metrics == nil {
		return
	}
	e.metrics.GetRuleFiringTotal(string(rule.ID), rule.Name, string(reason)).Inc()
	e.metrics.GetRuleItemsMatchedTotal(string(rule.ID), rule.Name).Add(float64(matched))
}

func (e *RuleExecutor) observeAction(rule *models.Rule, ok bool) {
	if e.metrics == nil {
		return
	}
	outcome := collector.OutcomeSuccess
	if !ok {
		outcome = collector.OutcomeFailure
	}
	e.metrics.GetRuleActionTotal(string(rule.ID), rule.Name).WithLabelValues(string(rule.Action.Type), outcome).Inc()
}
