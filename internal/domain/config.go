// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

const (
	RuleStoreSQLite = "sqlite"
	RuleStoreFile   = "file"
)

// Config represents the application configuration
type Config struct {
	Version       string
	Host          string `toml:"host" mapstructure:"host"`
	Port          int    `toml:"port" mapstructure:"port"`
	LogLevel      string `toml:"logLevel" mapstructure:"logLevel"`
	LogPath       string `toml:"logPath" mapstructure:"logPath"`
	LogMaxSize    int    `toml:"logMaxSize" mapstructure:"logMaxSize"`
	LogMaxBackups int    `toml:"logMaxBackups" mapstructure:"logMaxBackups"`
	DataDir       string `toml:"dataDir" mapstructure:"dataDir"`
	DatabasePath  string `toml:"databasePath" mapstructure:"databasePath"`

	// RuleStore selects where rules and execution logs live: "sqlite" keeps
	// them in the database, "file" in a JSON document at RulesFile that can be
	// edited while the engine runs.
	RuleStore string `toml:"ruleStore" mapstructure:"ruleStore"`
	RulesFile string `toml:"rulesFile" mapstructure:"rulesFile"`

	PollInterval        int `toml:"pollInterval" mapstructure:"pollInterval"`
	RuleWatchInterval   int `toml:"ruleWatchInterval" mapstructure:"ruleWatchInterval"`
	EventCoalesceMillis int `toml:"eventCoalesceMillis" mapstructure:"eventCoalesceMillis"`
	LogRetention        int `toml:"logRetention" mapstructure:"logRetention"`
	ActionTimeout       int `toml:"actionTimeout" mapstructure:"actionTimeout"`

	MetricsEnabled     bool     `toml:"metricsEnabled" mapstructure:"metricsEnabled"`
	CORSAllowedOrigins []string `toml:"corsAllowedOrigins" mapstructure:"corsAllowedOrigins"`

	QBittorrent QBittorrentConfig `toml:"qbittorrent" mapstructure:"qbittorrent"`
}

type QBittorrentConfig struct {
	Host        string `toml:"host" mapstructure:"host"`
	Username    string `toml:"username" mapstructure:"username"`
	Password    string `toml:"password" mapstructure:"password"`
	BasicUser   string `toml:"basicUser" mapstructure:"basicUser"`
	BasicPass   string `toml:"basicPass" mapstructure:"basicPass"`
	DeleteFiles bool   `toml:"deleteFiles" mapstructure:"deleteFiles"`
}

// Redacted returns a copy safe to log.
func (c QBittorrentConfig) Redacted() QBittorrentConfig {
	c.Password = RedactString(c.Password)
	c.BasicPass = RedactString(c.BasicPass)
	return c
}

func (c *Config) PollIntervalDuration() time.Duration {
	return time.Duration(c.PollInterval) * time.Second
}

func (c *Config) RuleWatchIntervalDuration() time.Duration {
	return time.Duration(c.RuleWatchInterval) * time.Second
}

func (c *Config) EventCoalesceDuration() time.Duration {
	return time.Duration(c.EventCoalesceMillis) * time.Millisecond
}

func (c *Config) ActionTimeoutDuration() time.Duration {
	return time.Duration(c.ActionTimeout) * time.Second
}

// Validate checks settings that would otherwise fail late at runtime.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.RuleStore) {
	case RuleStoreSQLite, RuleStoreFile:
	default:
		errs = append(errs, fmt.Errorf("invalid ruleStore %q: must be %q or %q", c.RuleStore, RuleStoreSQLite, RuleStoreFile))
	}

	if c.Port < 1 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("invalid port %d", c.Port))
	}

	for name, v := range map[string]int{
		"pollInterval":        c.PollInterval,
		"ruleWatchInterval":   c.RuleWatchInterval,
		"eventCoalesceMillis": c.EventCoalesceMillis,
		"logRetention":        c.LogRetention,
		"actionTimeout":       c.ActionTimeout,
	} {
		if v <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, v))
		}
	}

	return errors.Join(errs...)
}

// ValidateQBittorrent checks the settings needed to run the engine.
func (c *Config) ValidateQBittorrent() error {
	if strings.TrimSpace(c.QBittorrent.Host) == "" {
		return errors.New("qbittorrent.host is required")
	}
	return nil
}
