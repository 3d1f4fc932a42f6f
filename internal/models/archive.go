// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"errors"
	"time"

	"github.com/autobrr/autorules/internal/dbinterface"
)

// ArchivedItem is the record kept for a download removed by an archive action.
type ArchivedItem struct {
	ID         int64     `json:"id"`
	ItemID     string    `json:"itemId"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Tracker    string    `json:"tracker,omitempty"`
	AddedAt    time.Time `json:"addedAt"`
	ArchivedAt time.Time `json:"archivedAt"`
}

type ArchiveStore struct {
	db dbinterface.Querier
}

func NewArchiveStore(db dbinterface.Querier) *ArchiveStore {
	return &ArchiveStore{db: db}
}

// Archive records the item. Archiving the same item again refreshes the record.
func (s *ArchiveStore) Archive(ctx context.Context, item Item) error {
	if item.ID == "" {
		return errors.New("archive: item id is required")
	}

	var addedAt int64
	if !item.CreatedAt.IsZero() {
		addedAt = item.CreatedAt.UnixMilli()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO archived_items (item_id, name, size, tracker, added_at, archived_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET
			name = excluded.name,
			size = excluded.size,
			tracker = excluded.tracker,
			added_at = excluded.added_at,
			archived_at = excluded.archived_at
	`, item.ID, item.Name, item.Size, item.Tracker, addedAt, time.Now().UnixMilli())
	return err
}

// List returns archived items, newest first.
func (s *ArchiveStore) List(ctx context.Context, limit int) ([]*ArchivedItem, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, item_id, name, size, tracker, added_at, archived_at
		FROM archived_items
		ORDER BY archived_at DESC, id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*ArchivedItem
	for rows.Next() {
		var item ArchivedItem
		var addedAt, archivedAt int64
		if err := rows.Scan(&item.ID, &item.ItemID, &item.Name, &item.Size, &item.Tracker, &addedAt, &archivedAt); err != nil {
			return nil, err
		}
		if addedAt > 0 {
			item.AddedAt = time.UnixMilli(addedAt)
		}
		item.ArchivedAt = time.UnixMilli(archivedAt)
		items = append(items, &item)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return items, nil
}
