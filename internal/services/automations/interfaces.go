// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package automations

import (
	"context"

	"github.com/autobrr/autorules/internal/models"
)

// ItemSource supplies the current snapshot of downloads.
type ItemSource interface {
	ListItems(ctx context.Context) ([]models.Item, error)
}

// ActionResult is the outcome reported by an ActionExecutor.
type ActionResult struct {
	Success bool
	Message string
}

// ActionExecutor performs item-level operations. A returned error counts as a
// failed action for that item only.
type ActionExecutor interface {
	StopSeeding(ctx context.Context, id string) (ActionResult, error)
	Delete(ctx context.Context, id string) (ActionResult, error)
	ArchiveThenDelete(ctx context.Context, item models.Item) (ActionResult, error)
	ForceStart(ctx context.Context, id string) (ActionResult, error)
}

// RuleStore persists the rule list and per-rule execution logs. Each call is
// atomic at the document level.
type RuleStore interface {
	LoadRules(ctx context.Context) ([]*models.Rule, error)
	SaveRules(ctx context.Context, rules []*models.Rule) error
	LoadLogs(ctx context.Context, id models.RuleID) ([]models.ExecutionLogEntry, error)
	SaveLogs(ctx context.Context, id models.RuleID, logs []models.ExecutionLogEntry) error
}

// ChangeNotifier is implemented by stores that can report rule list changes.
// The channel is closed when ctx is done.
type ChangeNotifier interface {
	Subscribe(ctx context.Context) <-chan struct{}
}
