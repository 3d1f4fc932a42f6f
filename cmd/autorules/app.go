// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"errors"
	"io"

	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/config"
	"github.com/autobrr/autorules/internal/database"
	"github.com/autobrr/autorules/internal/domain"
	"github.com/autobrr/autorules/internal/logger"
	"github.com/autobrr/autorules/internal/metrics/collector"
	"github.com/autobrr/autorules/internal/models"
	"github.com/autobrr/autorules/internal/qbittorrent"
	"github.com/autobrr/autorules/internal/rulestore"
	"github.com/autobrr/autorules/internal/services/automations"
)

// app is what every command needs: config, logging, the database and the
// configured rule store.
type app struct {
	cfg     *config.AppConfig
	db      *database.DB
	store   automations.RuleStore
	logFile io.Closer
}

func openApp(configPath string) (*app, error) {
	cfg, err := config.New(configPath)
	if err != nil {
		return nil, err
	}

	logFile, err := logger.Setup(logger.Config{
		Level:      cfg.Config.LogLevel,
		Path:       cfg.Config.LogPath,
		MaxSize:    cfg.Config.LogMaxSize,
		MaxBackups: cfg.Config.LogMaxBackups,
	})
	if err != nil {
		return nil, err
	}

	db, err := database.New(cfg.GetDatabasePath())
	if err != nil {
		_ = logFile.Close()
		return nil, err
	}

	a := &app{cfg: cfg, db: db, logFile: logFile}

	switch cfg.Config.RuleStore {
	case domain.RuleStoreFile:
		store, err := rulestore.NewFileStore(cfg.GetRulesFilePath())
		if err != nil {
			a.Close()
			return nil, err
		}
		a.store = store
	default:
		a.store = rulestore.NewSQLiteStore(db, cfg.Config.RuleWatchIntervalDuration())
	}

	log.Debug().
		Str("config", cfg.ConfigPath()).
		Str("database", cfg.GetDatabasePath()).
		Str("ruleStore", cfg.Config.RuleStore).
		Msg("autorules: opened")

	return a, nil
}

func (a *app) newClient() *qbittorrent.Client {
	qb := a.cfg.Config.QBittorrent
	log.Debug().Interface("qbittorrent", qb.Redacted()).Msg("autorules: qbittorrent settings")

	return qbittorrent.NewClient(qbittorrent.Config{
		Host:        qb.Host,
		Username:    qb.Username,
		Password:    qb.Password,
		BasicUser:   qb.BasicUser,
		BasicPass:   qb.BasicPass,
		DeleteFiles: qb.DeleteFiles,
		Timeout:     a.cfg.Config.ActionTimeoutDuration(),
	}, models.NewArchiveStore(a.db))
}

func (a *app) newEngine(client *qbittorrent.Client, metrics *collector.AutomationCollector) *automations.Service {
	c := a.cfg.Config
	return automations.NewService(automations.Config{
		PollInterval:  c.PollIntervalDuration(),
		EventCoalesce: c.EventCoalesceDuration(),
		LogRetention:  c.LogRetention,
		ActionTimeout: c.ActionTimeoutDuration(),
	}, a.store, client, client, metrics)
}

func (a *app) Close() {
	var errs []error
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	if a.logFile != nil {
		errs = append(errs, a.logFile.Close())
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("autorules: shutdown")
	}
}
