// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package qbit adapts the qBittorrent Web API to the download-client surface
// the engine consumes.
package qbit

import (
	"context"
	"fmt"
	"strings"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/avast/retry-go"
	"github.com/rs/zerolog/log"

	"github.com/arrbiter/arrbiter/internal/domain"
	"github.com/arrbiter/arrbiter/internal/pacer"
)

// Client wraps the qBittorrent API client with pacing and transient retry.
type Client struct {
	*qbt.Client
	pacer *pacer.Pacer
}

// NewClient connects and authenticates against the configured instance.
func NewClient(ctx context.Context, cfg domain.QbitConfig) (*Client, error) {
	timeout := cfg.TimeoutSecs
	if timeout <= 0 {
		timeout = 60
	}

	qbtClient := qbt.NewClient(qbt.Config{
		Host:          cfg.Host,
		Username:      cfg.Username,
		Password:      cfg.Password,
		Timeout:       timeout,
		TLSSkipVerify: cfg.TLSSkipVerify,
	})

	loginCtx, cancel := context.WithTimeout(ctx, time.Duration(timeout)*time.Second)
	defer cancel()

	if err := qbtClient.LoginCtx(loginCtx); err != nil {
		return nil, fmt.Errorf("failed to connect to qBittorrent instance: %w", err)
	}

	log.Debug().Str("host", cfg.Host).Msg("qBittorrent client connected")

	return &Client{
		Client: qbtClient,
		pacer:  pacer.New(time.Duration(cfg.RequestDelaySecs) * time.Second),
	}, nil
}

// ListDownloading returns all transfers that are currently in a downloading
// state (including stalled, metadata and errored downloads).
func (c *Client) ListDownloading(ctx context.Context) ([]qbt.Torrent, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	var torrents []qbt.Torrent
	err := retry.Do(func() error {
		var err error
		torrents, err = c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
			Filter: qbt.TorrentFilterDownloading,
		})
		return err
	}, retry.Attempts(3), retry.Delay(time.Second), retry.Context(ctx))
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	return torrents, nil
}

// GetTransfer fetches the live view of a single transfer by hash. ok is false
// when the transfer no longer exists.
func (c *Client) GetTransfer(ctx context.Context, hash string) (qbt.Torrent, bool, error) {
	if err := c.pacer.Wait(ctx); err != nil {
		return qbt.Torrent{}, false, err
	}

	torrents, err := c.GetTorrentsCtx(ctx, qbt.TorrentFilterOptions{
		Hashes: []string{hash},
	})
	if err != nil {
		return qbt.Torrent{}, false, fmt.Errorf("fetch transfer %s: %w", hash, err)
	}
	for _, torrent := range torrents {
		if strings.EqualFold(torrent.Hash, hash) {
			return torrent, true, nil
		}
	}
	return qbt.Torrent{}, false, nil
}

// RemoveTransfer deletes the transfer, optionally with its files.
func (c *Client) RemoveTransfer(ctx context.Context, hash string, deleteFiles bool) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := c.DeleteTorrentsCtx(ctx, []string{hash}, deleteFiles); err != nil {
		return fmt.Errorf("remove transfer %s: %w", hash, err)
	}
	return nil
}

// AddTag applies a tag to the transfer. qBittorrent treats re-adding an
// existing tag as a no-op, which keeps TagObsolete idempotent.
func (c *Client) AddTag(ctx context.Context, hash string, tag string) error {
	if err := c.pacer.Wait(ctx); err != nil {
		return err
	}
	if err := c.AddTagsCtx(ctx, []string{hash}, tag); err != nil {
		return fmt.Errorf("tag transfer %s: %w", hash, err)
	}
	return nil
}
