// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package config loads config.toml through viper, writing a commented
// default file on first run. Every key can be overridden from the
// environment as AUTORULES__<KEY>, nested keys joined with a double
// underscore (AUTORULES__QBITTORRENT__HOST).
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"

	"github.com/autobrr/autorules/internal/domain"
)

const (
	EnvPrefix             = "AUTORULES__"
	defaultConfigFilename = "config.toml"
	defaultDatabaseName   = "autorules.db"
	defaultRulesFilename  = "rules.json"
)

var defaults = map[string]any{
	"host":                "127.0.0.1",
	"port":                7477,
	"logLevel":            "INFO",
	"logPath":             "",
	"logMaxSize":          50,
	"logMaxBackups":       3,
	"dataDir":             "",
	"databasePath":        "",
	"ruleStore":           domain.RuleStoreSQLite,
	"rulesFile":           "",
	"pollInterval":        10,
	"ruleWatchInterval":   5,
	"eventCoalesceMillis": 100,
	"logRetention":        100,
	"actionTimeout":       30,
	"metricsEnabled":      true,
	"corsAllowedOrigins":  []string{},

	"qbittorrent.host":        "",
	"qbittorrent.username":    "",
	"qbittorrent.password":    "",
	"qbittorrent.basicUser":   "",
	"qbittorrent.basicPass":   "",
	"qbittorrent.deleteFiles": false,
}

type AppConfig struct {
	Config     *domain.Config
	viper      *viper.Viper
	configPath string
}

// New loads configPath, or the default location when it is empty. A missing
// file is created from the default template.
func New(configPath string) (*AppConfig, error) {
	if configPath == "" {
		configPath = filepath.Join(getDefaultConfigDir(), defaultConfigFilename)
	} else if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		configPath = filepath.Join(configPath, defaultConfigFilename)
	}

	absPath, err := filepath.Abs(configPath)
	if err != nil {
		return nil, errors.Wrapf(err, "could not resolve config path %s", configPath)
	}

	if err := writeDefaultConfig(absPath); err != nil {
		return nil, err
	}

	v := viper.New()
	v.SetConfigFile(absPath)
	v.SetConfigType("toml")

	for key, value := range defaults {
		v.SetDefault(key, value)
		if err := v.BindEnv(key, envName(key)); err != nil {
			return nil, errors.Wrapf(err, "could not bind env for %s", key)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "could not read config %s", absPath)
	}

	cfg := &domain.Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "could not decode config")
	}

	if cfg.DataDir == "" {
		cfg.DataDir = filepath.Dir(absPath)
	}
	cfg.RuleStore = strings.ToLower(cfg.RuleStore)

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", absPath)
	}

	return &AppConfig{
		Config:     cfg,
		viper:      v,
		configPath: absPath,
	}, nil
}

func (c *AppConfig) ConfigPath() string {
	return c.configPath
}

// GetDatabasePath returns databasePath, or autorules.db in the data dir.
func (c *AppConfig) GetDatabasePath() string {
	return c.resolve(c.Config.DatabasePath, defaultDatabaseName)
}

// GetRulesFilePath returns rulesFile, or rules.json in the data dir.
func (c *AppConfig) GetRulesFilePath() string {
	return c.resolve(c.Config.RulesFile, defaultRulesFilename)
}

func (c *AppConfig) resolve(path, fallback string) string {
	if path == "" {
		return filepath.Join(c.Config.DataDir, fallback)
	}
	if filepath.IsAbs(path) {
		return path
	}
	return filepath.Join(c.Config.DataDir, path)
}

// getDefaultConfigDir honours XDG_CONFIG_HOME=/config as used by container images.
func getDefaultConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		if xdg == "/config" {
			return xdg
		}
		return filepath.Join(xdg, "autorules")
	}

	dir, err := os.UserConfigDir()
	if err != nil {
		log.Warn().Err(err).Msg("config: could not determine user config dir, using working directory")
		return "."
	}
	return filepath.Join(dir, "autorules")
}

// envName maps a config key to its environment variable:
// qbittorrent.basicUser becomes AUTORULES__QBITTORRENT__BASIC_USER.
func envName(key string) string {
	parts := strings.Split(key, ".")
	for i, part := range parts {
		parts[i] = screamingSnake(part)
	}
	return EnvPrefix + strings.Join(parts, "__")
}

func screamingSnake(s string) string {
	var b strings.Builder
	for i, r := range s {
		if unicode.IsUpper(r) && i > 0 {
			b.WriteByte('_')
		}
		b.WriteRune(unicode.ToUpper(r))
	}
	return b.String()
}

func writeDefaultConfig(path string) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !os.IsNotExist(err) {
		return errors.Wrapf(err, "could not stat config %s", path)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrapf(err, "could not create config dir for %s", path)
	}

	if err := os.WriteFile(path, []byte(fmt.Sprintf(configTemplate, defaults["port"])), 0o600); err != nil {
		return errors.Wrapf(err, "could not write default config %s", path)
	}

	log.Info().Str("path", path).Msg("config: wrote default config")
	return nil
}

const configTemplate = `# config.toml - Auto-generated on first run

# Hostname / IP of the HTTP surface
# Default: "127.0.0.1"
host = "127.0.0.1"

# Port
# Default: %d
port = %[1]d

# Log file path
# If not defined, logs to stdout
# Optional
#logPath = "log/autorules.log"

# Maximum log file size in megabytes before rotation
# Default: 50
#logMaxSize = 50

# Number of rotated log files to retain (0 keeps all)
# Default: 3
#logMaxBackups = 3

# Log level
# Default: "INFO"
# Options: "ERROR", "DEBUG", "INFO", "WARN", "TRACE"
logLevel = "INFO"

# Where rules and execution logs are stored: "sqlite" or "file"
# Default: "sqlite"
#ruleStore = "sqlite"

# Rules document for the file store, relative to the data dir
# Default: "rules.json"
#rulesFile = "rules.json"

# Database path, relative to the data dir
# Default: "autorules.db"
#databasePath = "autorules.db"

# Seconds between item snapshots used to detect new downloads
# Default: 10
#pollInterval = 10

# Seconds between checks for rule changes in the sqlite store
# Default: 5
#ruleWatchInterval = 5

# Milliseconds to gather new downloads before firing download_added rules
# Default: 100
#eventCoalesceMillis = 100

# Execution log entries kept per rule
# Default: 100
#logRetention = 100

# Seconds before a single download action is abandoned
# Default: 30
#actionTimeout = 30

# Serve prometheus metrics on /metrics
# Default: true
#metricsEnabled = true

# Browser origins allowed to call the HTTP API
# Default: []
#corsAllowedOrigins = ["http://localhost:3000"]

[qbittorrent]
host = ""
username = ""
password = ""
#basicUser = ""
#basicPass = ""

# Remove downloaded data when a rule deletes or archives a download
# Default: false
#deleteFiles = false
`
