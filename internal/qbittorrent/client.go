// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbittorrent adapts a qBittorrent Web API instance to the engine's
// item source and action executor.
package qbittorrent

import (
	"context"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/Masterminds/semver/v3"
	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/autobrr/autorules/internal/models"
	"github.com/autobrr/autorules/internal/services/automations"
)

// minWebAPIVersion is the oldest Web API with every call the adapter makes.
var minWebAPIVersion = semver.MustParse("2.2.0")

// torrentAPI is the subset of the go-qbittorrent client used here.
type torrentAPI interface {
	LoginCtx(ctx context.Context) error
	GetWebAPIVersionCtx(ctx context.Context) (string, error)
	GetTorrentsCtx(ctx context.Context, o qbt.TorrentFilterOptions) ([]qbt.Torrent, error)
	DeleteTorrentsCtx(ctx context.Context, hashes []string, deleteFiles bool) error
	PauseCtx(ctx context.Context, hashes []string) error
	SetForceStartCtx(ctx context.Context, hashes []string, value bool) error
}

// Archiver records an item before an archive action deletes it.
type Archiver interface {
	Archive(ctx context.Context, item models.Item) error
}

type Config struct {
	Host        string
	Username    string
	Password    string
	BasicUser   string
	BasicPass   string
	DeleteFiles bool
	Timeout     time.Duration
}

// filteredWriter drops the "Unsolicited response received on idle HTTP
// channel" noise qBittorrent provokes in net/http's standard logger.
type filteredWriter struct {
	writer io.Writer
}

func (fw *filteredWriter) Write(p []byte) (n int, err error) {
	if strings.Contains(string(p), "Unsolicited response received on idle HTTP channel") {
		return len(p), nil
	}
	return fw.writer.Write(p)
}

func init() {
	stdlog.SetOutput(&filteredWriter{writer: os.Stderr})
}

// Client implements automations.ItemSource and automations.ActionExecutor.
type Client struct {
	api         torrentAPI
	archiver    Archiver
	host        string
	deleteFiles bool
	retryDelay  time.Duration

	mu            sync.RWMutex
	connected     bool
	webAPIVersion string
}

var (
	_ automations.ItemSource     = (*Client)(nil)
	_ automations.ActionExecutor = (*Client)(nil)
)

func NewClient(cfg Config, archiver Archiver) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	api := qbt.NewClient(qbt.Config{
		Host:      cfg.Host,
		Username:  cfg.Username,
		Password:  cfg.Password,
		BasicUser: cfg.BasicUser,
		BasicPass: cfg.BasicPass,
		Timeout:   int(timeout.Seconds()),
	})

	return newClient(api, cfg, archiver)
}

func newClient(api torrentAPI, cfg Config, archiver Archiver) *Client {
	return &Client{
		api:         api,
		archiver:    archiver,
		host:        cfg.Host,
		deleteFiles: cfg.DeleteFiles,
		retryDelay:  time.Second,
	}
}

// Connect logs in, retrying transient failures.
func (c *Client) Connect(ctx context.Context) error {
	err := retry.Do(
		func() error {
			return c.api.LoginCtx(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(c.retryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			log.Warn().Err(err).Uint("attempt", n+1).Str("host", c.host).Msg("qbittorrent: login failed, retrying")
		}),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to connect to qBittorrent at %s", c.host)
	}

	version, err := c.api.GetWebAPIVersionCtx(ctx)
	if err != nil {
		log.Debug().Err(err).Msg("qbittorrent: could not read web API version")
	} else if !supportedWebAPI(version) {
		log.Warn().Str("webAPIVersion", version).Str("minimum", minWebAPIVersion.String()).Msg("qbittorrent: web API older than supported")
	}

	c.mu.Lock()
	c.connected = true
	c.webAPIVersion = version
	c.mu.Unlock()

	log.Debug().Str("host", c.host).Str("webAPIVersion", version).Msg("qbittorrent: connected")
	return nil
}

func supportedWebAPI(version string) bool {
	v, err := semver.NewVersion(version)
	if err != nil {
		return false
	}
	return !v.LessThan(minWebAPIVersion)
}

func (c *Client) WebAPIVersion() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.webAPIVersion
}

func (c *Client) ensureConnected(ctx context.Context) error {
	c.mu.RLock()
	connected := c.connected
	c.mu.RUnlock()
	if connected {
		return nil
	}
	return c.Connect(ctx)
}

// ListItems returns every torrent as an automatable item.
func (c *Client) ListItems(ctx context.Context) ([]models.Item, error) {
	if err := c.ensureConnected(ctx); err != nil {
		return nil, err
	}

	torrents, err := c.api.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{})
	if err != nil {
		c.markDisconnected()
		return nil, errors.Wrap(err, "could not list torrents")
	}

	items := make([]models.Item, 0, len(torrents))
	for i := range torrents {
		items = append(items, itemFromTorrent(&torrents[i]))
	}
	return items, nil
}

func (c *Client) markDisconnected() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *Client) StopSeeding(ctx context.Context, id string) (automations.ActionResult, error) {
	if err := c.api.PauseCtx(ctx, []string{id}); err != nil {
		return automations.ActionResult{}, errors.Wrapf(err, "could not stop torrent %s", id)
	}
	return automations.ActionResult{Success: true}, nil
}

func (c *Client) Delete(ctx context.Context, id string) (automations.ActionResult, error) {
	if err := c.api.DeleteTorrentsCtx(ctx, []string{id}, c.deleteFiles); err != nil {
		return automations.ActionResult{}, errors.Wrapf(err, "could not delete torrent %s", id)
	}
	return automations.ActionResult{Success: true}, nil
}

// ArchiveThenDelete records the item and deletes it. The result is the delete's.
func (c *Client) ArchiveThenDelete(ctx context.Context, item models.Item) (automations.ActionResult, error) {
	if c.archiver != nil {
		if err := c.archiver.Archive(ctx, item); err != nil {
			log.Warn().Err(err).Str("hash", item.ID).Msg("qbittorrent: failed to record archived torrent")
		}
	}
	return c.Delete(ctx, item.ID)
}

func (c *Client) ForceStart(ctx context.Context, id string) (automations.ActionResult, error) {
	if err := c.api.SetForceStartCtx(ctx, []string{id}, true); err != nil {
		return automations.ActionResult{}, errors.Wrapf(err, "could not force start torrent %s", id)
	}
	return automations.ActionResult{Success: true}, nil
}
