// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package crossroute detaches queue items their manager cannot identify and
// hardlinks the content into the staging area for re-identification.
package crossroute

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arrbiter/arrbiter/internal/arr"
	"github.com/arrbiter/arrbiter/internal/domain"
	"github.com/arrbiter/arrbiter/internal/engine"
	"github.com/arrbiter/arrbiter/internal/models"
)

// unrecognizedMarkers are the status-message fragments that indicate the
// manager failed to classify the content rather than the download failing.
var unrecognizedMarkers = []string{
	"unknown series",
	"unknown movie",
	"unknown episode",
	"unable to parse",
	"unable to determine",
	"manual import required",
	"series title mismatch",
	"movie title mismatch",
}

// Config controls the cross-routing cadence and threshold.
type Config struct {
	Interval   time.Duration
	Threshold  int
	StagingDir string
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Interval:  15 * time.Minute,
		Threshold: 3,
	}
}

// ConfigFromDomain maps the crossroute section of the app config.
func ConfigFromDomain(cfg domain.CrossRouteConfig) Config {
	out := DefaultConfig()
	if cfg.IntervalMins > 0 {
		out.Interval = time.Duration(cfg.IntervalMins) * time.Minute
	}
	if cfg.Threshold > 0 {
		out.Threshold = cfg.Threshold
	}
	out.StagingDir = cfg.StagingDir
	return out
}

// Service is the Cross-Router.
type Service struct {
	cfg      Config
	managers []engine.Manager
	ledger   engine.StrikeLedger
	dryRun   atomic.Bool
	now      func() time.Time
}

func NewService(cfg Config, managers []engine.Manager, ledger engine.StrikeLedger, dryRun bool) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	s := &Service{
		cfg:      cfg,
		managers: managers,
		ledger:   ledger,
		now:      time.Now,
	}
	s.dryRun.Store(dryRun)
	return s
}

// SetDryRun flips simulation mode, safe while the routing loop runs.
func (s *Service) SetDryRun(enabled bool) { s.dryRun.Store(enabled) }

// Start launches the background routing loop.
func (s *Service) Start(ctx context.Context) {
	go func() {
		log.Info().Dur("interval", s.cfg.Interval).Str("staging", s.cfg.StagingDir).
			Msg("Cross-router started")

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.runCycle(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runCycle(ctx)
			}
		}
	}()
}

func (s *Service) runCycle(ctx context.Context) {
	for _, manager := range s.managers {
		queue, err := manager.ListQueue(ctx)
		if err != nil {
			log.Warn().Err(err).Str("manager", manager.Name()).Msg("Cross-router could not read queue")
			continue
		}
		for _, item := range queue {
			if !IsUnrecognized(item) {
				continue
			}
			s.routeItem(ctx, manager, item)
		}
	}
}

// IsUnrecognized reports whether a queue item is finished but stuck because
// the manager cannot match it to tracked content.
func IsUnrecognized(item arr.QueueItem) bool {
	if item.Recognized() {
		return false
	}
	if !strings.EqualFold(item.Status, "completed") {
		return false
	}
	status := strings.ToLower(item.TrackedDownloadStatus)
	if status != "warning" && status != "error" {
		return false
	}
	for _, message := range item.StatusMessages {
		for _, text := range append([]string{message.Title}, message.Messages...) {
			lowered := strings.ToLower(text)
			for _, marker := range unrecognizedMarkers {
				if strings.Contains(lowered, marker) {
					return true
				}
			}
		}
	}
	return false
}

// routeItem strikes the item and, at threshold, links its content into
// staging and then detaches it from the queue (no blocklist, the release
// itself may be fine). The source is never deleted.
func (s *Service) routeItem(ctx context.Context, manager engine.Manager, item arr.QueueItem) {
	identity := strings.ToLower(item.DownloadID)
	if identity == "" {
		return
	}

	count, err := s.ledger.Observe(ctx, identity, models.IssueUnrecognized, s.now())
	if err != nil {
		log.Error().Err(err).Str("hash", identity).Msg("Cross-router strike failed")
		return
	}
	if count < s.cfg.Threshold {
		log.Debug().Str("hash", identity).Str("title", item.Title).
			Int("count", count).Int("threshold", s.cfg.Threshold).
			Msg("Unrecognized item struck")
		return
	}

	if item.OutputPath == "" {
		// Nothing to preserve, so detaching would strand the content with no
		// staged copy. Leave the item queued for an operator to resolve.
		log.Warn().Str("title", item.Title).Msg("Unrecognized item has no output path, leaving it queued")
		return
	}

	if s.dryRun.Load() {
		log.Info().Str("title", item.Title).Str("manager", manager.Name()).
			Msg("Dry run: would reroute unrecognized item to staging")
		return
	}

	// Stage first, detach second. The link is the irreversible prerequisite:
	// once the item leaves the queue the manager forgets the content, so the
	// staged copy must already exist. Linking is a no-op when the destination
	// exists, so a failed detach is retried safely next cycle.
	dst := filepath.Join(s.cfg.StagingDir, filepath.Base(item.OutputPath))
	if err := os.MkdirAll(s.cfg.StagingDir, 0755); err != nil {
		log.Error().Err(err).Str("dir", s.cfg.StagingDir).Msg("Cannot create staging directory")
		return
	}
	if err := HardlinkTree(item.OutputPath, dst); err != nil {
		linkErr := &engine.IrreversibleActionError{Op: "stage content", Path: item.OutputPath, Err: err}
		log.Error().Err(linkErr).Str("title", item.Title).Msg("Cross-router link failed")
		return
	}

	if err := manager.RemoveFromQueue(ctx, item.ID, false); err != nil {
		log.Error().Err(err).Str("title", item.Title).Msg("Cross-router could not detach queue item")
		return
	}
	log.Info().Str("title", item.Title).Str("staged", dst).Str("manager", manager.Name()).
		Msg("Rerouted unrecognized item to staging")

	if err := s.ledger.Clear(ctx, identity); err != nil {
		log.Error().Err(err).Str("hash", identity).Msg("Cross-router could not clear ledger")
	}
}
