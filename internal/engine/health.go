// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"time"

	qbt "github.com/autobrr/go-qbittorrent"

	"github.com/arrbiter/arrbiter/internal/models"
)

// slowGrace is how long a transfer must have been active before low speed
// counts as an issue. Fresh transfers always start slow.
const slowGrace = 5 * time.Minute

// Thresholds parameterizes health evaluation. The Check* flags switch whole
// issue kinds off; a disabled kind is reported as healthy.
type Thresholds struct {
	MinSpeedKB      int
	MetadataTimeout time.Duration
	StalledTimeout  time.Duration

	CheckFailed   bool
	CheckMetadata bool
	CheckStalled  bool
	CheckSlow     bool
	CheckOrphaned bool
}

// EvaluateHealth classifies one item against the thresholds. It returns at
// most one issue kind, chosen by fixed priority: an unambiguous failure state
// is never reclassified as merely slow. healthy is true when no enabled
// check fires. Pure function, no side effects.
func EvaluateHealth(item TrackedItem, t Thresholds) (kind models.IssueKind, healthy bool) {
	active := time.Duration(item.TimeActive) * time.Second

	switch {
	case t.CheckFailed && isErroredState(item.State):
		return models.IssueFailedOrErrored, false

	case t.CheckMetadata && isMetadataState(item.State) && active > t.MetadataTimeout:
		return models.IssueMetadataStuck, false

	case t.CheckStalled && item.State == string(qbt.TorrentStateStalledDl) && active > t.StalledTimeout:
		return models.IssueStalled, false

	case t.CheckSlow && isDownloadingState(item.State) &&
		item.Progress < 1 && active > slowGrace &&
		item.DlSpeed < int64(t.MinSpeedKB)*1024:
		return models.IssueSlow, false

	case t.CheckOrphaned && item.Owner == nil:
		return models.IssueOrphaned, false
	}

	return "", true
}

func isErroredState(state string) bool {
	return state == string(qbt.TorrentStateError) || state == string(qbt.TorrentStateMissingFiles)
}

func isMetadataState(state string) bool {
	// go-qbittorrent exports no constant for qBittorrent's forcedMetaDL state.
	return state == string(qbt.TorrentStateMetaDl) || state == "forcedMetaDL"
}

func isDownloadingState(state string) bool {
	return state == string(qbt.TorrentStateDownloading) || state == string(qbt.TorrentStateForcedDl)
}
