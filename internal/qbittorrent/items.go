// Copyright (c) 2025-2026, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package qbittorrent

import (
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/autobrr/autorules/internal/models"
)

// inactiveStates are the states where qBittorrent is neither downloading nor
// seeding the torrent.
var inactiveStates = map[qbt.TorrentState]struct{}{
	qbt.TorrentStatePausedUp:     {},
	qbt.TorrentStatePausedDl:     {},
	qbt.TorrentStateStoppedUp:    {},
	qbt.TorrentStateStoppedDl:    {},
	qbt.TorrentStateError:        {},
	qbt.TorrentStateMissingFiles: {},
}

func isActiveState(state qbt.TorrentState) bool {
	_, inactive := inactiveStates[state]
	return !inactive
}

func itemFromTorrent(t *qbt.Torrent) models.Item {
	return models.Item{
		ID:            t.Hash,
		Name:          t.Name,
		Active:        models.BoolPtr(isActiveState(t.State)),
		DownloadState: string(t.State),
		Ratio:         t.Ratio,
		Seeds:         t.NumSeeds,
		Peers:         t.NumLeechs,
		DownloadSpeed: t.DlSpeed,
		UploadSpeed:   t.UpSpeed,
		Size:          t.Size,
		CreatedAt:     unixTime(t.AddedOn),
		UpdatedAt:     unixTime(t.LastActivity),
		CachedAt:      unixTime(t.CompletionOn),
		Tracker:       t.Tracker,
	}
}

// unixTime maps qBittorrent's unset timestamps (0 or -1) to the zero time.
func unixTime(sec int64) time.Time {
	if sec <= 0 {
		return time.Time{}
	}
	return time.Unix(sec, 0)
}
