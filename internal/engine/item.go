// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package engine implements the strike-based download lifecycle: per-cycle
// health classification, durable strike accounting, exemption-aware action
// decisions and their idempotent application.
package engine

import "strings"

// OwnerRef links a tracked download to the manager queue entry that claims
// it. Recognized is false when the manager sees the download but cannot match
// it to content it tracks.
type OwnerRef struct {
	Manager    string
	QueueID    int64
	Recognized bool
}

// TrackedItem is the uniform per-cycle snapshot of one download. Built fresh
// each cycle by the snapshot normalizer and discarded afterwards, never
// persisted.
type TrackedItem struct {
	Hash     string
	Name     string
	State    string
	DlSpeed  int64 // bytes/s
	NumSeeds int64
	Progress float64
	// TimeActive is how long the transfer has been active, in seconds.
	TimeActive int64
	Category   string
	Tags       []string

	Owner *OwnerRef
}

// splitTags turns qBittorrent's comma-separated tag string into a clean slice.
func splitTags(raw string) []string {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if tag := strings.TrimSpace(part); tag != "" {
			tags = append(tags, tag)
		}
	}
	return tags
}
