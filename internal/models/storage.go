// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/autobrr/autorules/internal/dbinterface"
)

var ErrStorageKeyNotFound = errors.New("storage key not found")

// StorageEntry is one row of the key-value storage table.
type StorageEntry struct {
	Key       string
	Value     string
	UpdatedAt time.Time
}

// StorageStore persists opaque values by key. Rule lists and per-rule
// execution logs are kept here as JSON documents.
type StorageStore struct {
	db dbinterface.Querier
}

func NewStorageStore(db dbinterface.Querier) *StorageStore {
	return &StorageStore{db: db}
}

func (s *StorageStore) Get(ctx context.Context, key string) (*StorageEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT key, value, updated_at FROM storage WHERE key = ?`, key)

	var entry StorageEntry
	var updatedAt int64
	if err := row.Scan(&entry.Key, &entry.Value, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrStorageKeyNotFound
		}
		return nil, err
	}
	entry.UpdatedAt = time.UnixMilli(updatedAt)
	return &entry, nil
}

const upsertStorageQuery = `
	INSERT INTO storage (key, value, updated_at)
	VALUES (?, ?, ?)
	ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at
`

// Set inserts or replaces the value stored under key.
func (s *StorageStore) Set(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, upsertStorageQuery, key, value, time.Now().UnixMilli())
	return err
}

// SetAndDelete stores value under key and removes the drop keys. When the
// database can open transactions both happen atomically.
func (s *StorageStore) SetAndDelete(ctx context.Context, key, value string, drop []string) error {
	if len(drop) == 0 {
		return s.Set(ctx, key, value)
	}

	beginner, ok := s.db.(dbinterface.TxBeginner)
	if !ok {
		return setAndDelete(ctx, s.db, key, value, drop)
	}

	tx, err := beginner.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin storage transaction: %w", err)
	}
	if err := setAndDelete(ctx, tx, key, value, drop); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

func setAndDelete(ctx context.Context, q dbinterface.Querier, key, value string, drop []string) error {
	if _, err := q.ExecContext(ctx, upsertStorageQuery, key, value, time.Now().UnixMilli()); err != nil {
		return fmt.Errorf("set %s: %w", key, err)
	}
	for _, k := range drop {
		if _, err := q.ExecContext(ctx, `DELETE FROM storage WHERE key = ?`, k); err != nil {
			return fmt.Errorf("delete %s: %w", k, err)
		}
	}
	return nil
}

func (s *StorageStore) Delete(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM storage WHERE key = ?`, key)
	if err != nil {
		return err
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return ErrStorageKeyNotFound
	}
	return nil
}
