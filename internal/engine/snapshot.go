// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"strings"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/rs/zerolog/log"

	"github.com/arrbiter/arrbiter/internal/arr"
)

// DownloadClient is the download-client surface the engine consumes.
type DownloadClient interface {
	ListDownloading(ctx context.Context) ([]qbt.Torrent, error)
	GetTransfer(ctx context.Context, hash string) (qbt.Torrent, bool, error)
	RemoveTransfer(ctx context.Context, hash string, deleteFiles bool) error
	AddTag(ctx context.Context, hash string, tag string) error
}

// Manager is the media-manager surface the engine consumes.
type Manager interface {
	Name() string
	ListQueue(ctx context.Context) ([]arr.QueueItem, error)
	RemoveFromQueue(ctx context.Context, id int64, blocklist bool) error
}

// Snapshot converts the raw per-cycle data from the download client and every
// manager queue into the uniform TrackedItem view. A manager that fails to
// answer degrades the snapshot (its items show up ownerless) rather than
// aborting the cycle, but the failure is surfaced in the returned warnings.
func Snapshot(ctx context.Context, client DownloadClient, managers []Manager) ([]TrackedItem, []error, error) {
	torrents, err := client.ListDownloading(ctx)
	if err != nil {
		return nil, nil, &TransientBackendError{Op: "list transfers", Err: err}
	}

	owners := make(map[string]*OwnerRef)
	var warnings []error
	for _, manager := range managers {
		queue, err := manager.ListQueue(ctx)
		if err != nil {
			warnings = append(warnings, &TransientBackendError{Op: "list queue " + manager.Name(), Err: err})
			log.Warn().Err(err).Str("manager", manager.Name()).Msg("Manager queue unavailable, treating its items as unclaimed this cycle")
			continue
		}
		for _, entry := range queue {
			hash := strings.ToLower(entry.DownloadID)
			if hash == "" {
				continue
			}
			// First claim wins; conflicting claims are out of scope.
			if _, claimed := owners[hash]; !claimed {
				owners[hash] = &OwnerRef{
					Manager:    manager.Name(),
					QueueID:    entry.ID,
					Recognized: entry.Recognized(),
				}
			}
		}
	}

	items := make([]TrackedItem, 0, len(torrents))
	for _, torrent := range torrents {
		hash := strings.ToLower(torrent.Hash)
		items = append(items, TrackedItem{
			Hash:       hash,
			Name:       torrent.Name,
			State:      string(torrent.State),
			DlSpeed:    torrent.DlSpeed,
			NumSeeds:   torrent.NumSeeds,
			Progress:   torrent.Progress,
			TimeActive: torrent.TimeActive,
			Category:   torrent.Category,
			Tags:       splitTags(torrent.Tags),
			Owner:      owners[hash],
		})
	}
	return items, warnings, nil
}
