// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/autobrr/autorules/internal/dbinterface"
	"github.com/autobrr/autorules/internal/models"
	"github.com/autobrr/autorules/internal/testdb"
)

func TestStorageStore_SetGetDelete(t *testing.T) {
	ctx := context.Background()
	store := models.NewStorageStore(testdb.Open(t))

	_, err := store.Get(ctx, "missing")
	require.ErrorIs(t, err, models.ErrStorageKeyNotFound)

	require.NoError(t, store.Set(ctx, "automationRules", `[]`))
	require.NoError(t, store.Set(ctx, "automationRules", `[{"id":"r1"}]`))

	entry, err := store.Get(ctx, "automationRules")
	require.NoError(t, err)
	assert.Equal(t, `[{"id":"r1"}]`, entry.Value)
	assert.WithinDuration(t, time.Now(), entry.UpdatedAt, time.Minute)

	require.NoError(t, store.Delete(ctx, "automationRules"))
	require.ErrorIs(t, store.Delete(ctx, "automationRules"), models.ErrStorageKeyNotFound)
}

// plainQuerier hides the transaction support of the wrapped database.
type plainQuerier struct {
	dbinterface.Querier
}

func TestStorageStore_SetAndDelete(t *testing.T) {
	tests := []struct {
		name string
		db   func(t *testing.T) dbinterface.Querier
	}{
		{name: "transaction", db: func(t *testing.T) dbinterface.Querier { return testdb.Open(t) }},
		{name: "sequential", db: func(t *testing.T) dbinterface.Querier { return plainQuerier{testdb.Open(t)} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			store := models.NewStorageStore(tt.db(t))

			require.NoError(t, store.Set(ctx, "ruleLogs_a", `[]`))
			require.NoError(t, store.Set(ctx, "ruleLogs_b", `[]`))

			require.NoError(t, store.SetAndDelete(ctx, "automationRules", `[{"id":"a"}]`, []string{"ruleLogs_b", "ruleLogs_missing"}))

			entry, err := store.Get(ctx, "automationRules")
			require.NoError(t, err)
			assert.Equal(t, `[{"id":"a"}]`, entry.Value)

			_, err = store.Get(ctx, "ruleLogs_a")
			require.NoError(t, err)
			_, err = store.Get(ctx, "ruleLogs_b")
			require.ErrorIs(t, err, models.ErrStorageKeyNotFound)
		})
	}
}

func TestStorageStore_SetAndDeleteCancelledWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := models.NewStorageStore(testdb.Open(t))
	require.NoError(t, store.Set(ctx, "automationRules", `[]`))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	require.Error(t, store.SetAndDelete(cancelled, "automationRules", `[{"id":"a"}]`, []string{"ruleLogs_a"}))

	entry, err := store.Get(ctx, "automationRules")
	require.NoError(t, err)
	assert.Equal(t, `[]`, entry.Value)
}

func TestArchiveStore_ArchiveAndList(t *testing.T) {
	ctx := context.Background()
	store := models.NewArchiveStore(testdb.Open(t))

	added := time.UnixMilli(1_700_000_000_000)
	require.NoError(t, store.Archive(ctx, models.Item{ID: "a", Name: "first", Size: 10, CreatedAt: added}))
	require.NoError(t, store.Archive(ctx, models.Item{ID: "b", Name: "second", Tracker: "t.example"}))
	require.NoError(t, store.Archive(ctx, models.Item{ID: "a", Name: "first-renamed", Size: 10, CreatedAt: added}))
	require.Error(t, store.Archive(ctx, models.Item{}))

	items, err := store.List(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)

	byID := map[string]*models.ArchivedItem{}
	for _, item := range items {
		byID[item.ItemID] = item
	}
	require.Contains(t, byID, "a")
	assert.Equal(t, "first-renamed", byID["a"].Name)
	assert.Equal(t, added.UnixMilli(), byID["a"].AddedAt.UnixMilli())
	require.Contains(t, byID, "b")
	assert.True(t, byID["b"].AddedAt.IsZero())
	assert.Equal(t, "t.example", byID["b"].Tracker)
}
