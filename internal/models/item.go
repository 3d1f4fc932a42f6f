// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import "time"

// Item is the read-only view of a download supplied by an item source.
// Active is nil for asset types that do not take part in automation.
type Item struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Active        *bool     `json:"active,omitempty"`
	DownloadState string    `json:"download_state"`
	Ratio         float64   `json:"ratio"`
	Seeds         int64     `json:"seeds"`
	Peers         int64     `json:"peers"`
	DownloadSpeed int64     `json:"download_speed"`
	UploadSpeed   int64     `json:"upload_speed"`
	Size          int64     `json:"size"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	CachedAt      time.Time `json:"cached_at"`
	Tracker       string    `json:"tracker"`
}

// Automatable reports whether the item carries the active field.
func (i *Item) Automatable() bool {
	return i.Active != nil
}

// IsActive reports whether the item is currently active.
func (i *Item) IsActive() bool {
	return i.Active != nil && *i.Active
}

// DisplayName is the name used in execution log details.
func (i *Item) DisplayName() string {
	if i.Name == "" {
		return "Unknown item"
	}
	return i.Name
}

func BoolPtr(v bool) *bool {
	return &v
}
