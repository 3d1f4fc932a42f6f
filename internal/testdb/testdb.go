// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package testdb

import (
	"path/filepath"
	"testing"

	"github.com/autobrr/autorules/internal/database"
)

// Open returns a migrated database in the test's temp directory. It is closed
// when the test finishes.
func Open(t *testing.T) *database.DB {
	t.Helper()

	return OpenAt(t, filepath.Join(t.TempDir(), "autorules.db"))
}

// OpenAt opens a migrated database at path, for tests that reopen the same
// file to check persistence.
func OpenAt(t *testing.T, path string) *database.DB {
	t.Helper()

	db, err := database.New(path)
	if err != nil {
		t.Fatalf("open test DB %s: %v", path, err)
	}
	t.Cleanup(func() {
		_ = db.Close()
	})

	return db
}
