// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Port:                7477,
		RuleStore:           RuleStoreSQLite,
		PollInterval:        10,
		RuleWatchInterval:   5,
		EventCoalesceMillis: 100,
		LogRetention:        100,
		ActionTimeout:       30,
	}
}

func TestValidate(t *testing.T) {
	t.Run("accepts defaults", func(t *testing.T) {
		require.NoError(t, validConfig().Validate())
	})

	t.Run("accepts file store in any case", func(t *testing.T) {
		cfg := validConfig()
		cfg.RuleStore = "File"
		require.NoError(t, cfg.Validate())
	})

	t.Run("rejects unknown store", func(t *testing.T) {
		cfg := validConfig()
		cfg.RuleStore = "redis"
		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid ruleStore")
	})

	t.Run("reports every problem", func(t *testing.T) {
		cfg := validConfig()
		cfg.Port = 0
		cfg.PollInterval = 0
		cfg.LogRetention = -1

		err := cfg.Validate()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "invalid port 0")
		assert.Contains(t, err.Error(), "pollInterval must be positive")
		assert.Contains(t, err.Error(), "logRetention must be positive")
	})
}

func TestValidateQBittorrent(t *testing.T) {
	cfg := validConfig()
	require.Error(t, cfg.ValidateQBittorrent())

	cfg.QBittorrent.Host = "http://localhost:8080"
	require.NoError(t, cfg.ValidateQBittorrent())
}

func TestDurations(t *testing.T) {
	cfg := validConfig()

	assert.Equal(t, 10*time.Second, cfg.PollIntervalDuration())
	assert.Equal(t, 5*time.Second, cfg.RuleWatchIntervalDuration())
	assert.Equal(t, 100*time.Millisecond, cfg.EventCoalesceDuration())
	assert.Equal(t, 30*time.Second, cfg.ActionTimeoutDuration())
}

func TestRedacted(t *testing.T) {
	qb := QBittorrentConfig{Host: "http://qb", Username: "admin", Password: "hunter2", BasicPass: "pw"}

	red := qb.Redacted()
	assert.Equal(t, "*******", red.Password)
	assert.Equal(t, "**", red.BasicPass)
	assert.Equal(t, "admin", red.Username)
	assert.Equal(t, "hunter2", qb.Password, "original is untouched")

	assert.Empty(t, RedactString(""))
}
