// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package hunter periodically walks each manager's wanted list and triggers
// batched searches, remembering what it already searched so repeat cycles
// move forward instead of hammering the same items.
package hunter

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/arrbiter/arrbiter/internal/arr"
	"github.com/arrbiter/arrbiter/internal/domain"
	"github.com/arrbiter/arrbiter/internal/models"
)

const wantedPageSize = 100

// SearchManager is the manager surface the hunter consumes.
type SearchManager interface {
	Name() string
	Wanted(ctx context.Context, page, pageSize int, cutoffUnmet bool) ([]arr.WantedItem, int, error)
	TriggerSearch(ctx context.Context, ids []int64) error
}

// Target couples a manager with its hunting limits.
type Target struct {
	Manager     SearchManager
	SearchLimit int
	CutoffUnmet bool
}

// Config controls the hunting cadence and the history safety net.
type Config struct {
	Interval time.Duration
	// MaxCycleAge bounds how old the search memory may grow before it is
	// wiped wholesale and the hunt starts over.
	MaxCycleAge time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Interval:    60 * time.Minute,
		MaxCycleAge: 14 * 24 * time.Hour,
	}
}

// ConfigFromDomain maps the hunter section of the app config.
func ConfigFromDomain(cfg domain.HunterConfig) Config {
	out := DefaultConfig()
	if cfg.IntervalMins > 0 {
		out.Interval = time.Duration(cfg.IntervalMins) * time.Minute
	}
	if cfg.MaxCycleDays > 0 {
		out.MaxCycleAge = time.Duration(cfg.MaxCycleDays) * 24 * time.Hour
	}
	return out
}

// Service is the missing-content hunter.
type Service struct {
	cfg     Config
	targets []Target
	history *models.SearchHistoryStore
	dryRun  atomic.Bool
	now     func() time.Time
}

func NewService(cfg Config, targets []Target, history *models.SearchHistoryStore, dryRun bool) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxCycleAge <= 0 {
		cfg.MaxCycleAge = def.MaxCycleAge
	}
	s := &Service{
		cfg:     cfg,
		targets: targets,
		history: history,
		now:     time.Now,
	}
	s.dryRun.Store(dryRun)
	return s
}

// SetDryRun flips simulation mode, safe while the hunting loop runs.
func (s *Service) SetDryRun(enabled bool) { s.dryRun.Store(enabled) }

// Start launches the background hunting loop.
func (s *Service) Start(ctx context.Context) {
	go func() {
		log.Info().Dur("interval", s.cfg.Interval).Msg("Hunter started")

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
	for _, target := range s.targets {
		if err := s.hunt(ctx, target); err != nil {
			log.Warn().Err(err).Str("manager", target.Manager.Name()).Msg("Hunt cycle failed")
		}
	}
}

func (s *Service) hunt(ctx context.Context, target Target) error {
	name := target.Manager.Name()

	// Safety net: a memory older than the cycle age means the hunt never
	// finished a full pass, so start over rather than starving the tail.
	if oldest, ok, err := s.history.OldestEntry(ctx, name); err != nil {
		return err
	} else if ok && s.now().Sub(oldest) > s.cfg.MaxCycleAge {
		log.Info().Str("manager", name).Msg("Search memory exceeded max cycle age, wiping")
		if err := s.history.Wipe(ctx, name); err != nil {
			return err
		}
	}

	searched, err := s.history.SearchedIDs(ctx, name)
	if err != nil {
		return err
	}

	limit := target.SearchLimit
	if limit <= 0 {
		limit = 5
	}

	batch, total, err := s.collectBatch(ctx, target, searched, limit)
	if err != nil {
		return err
	}

	if len(batch) == 0 {
		if total > 0 && len(searched) >= total {
			log.Info().Str("manager", name).Int("total", total).
				Msg("Every wanted item searched, wiping memory for the next pass")
			return s.history.Wipe(ctx, name)
		}
		return nil
	}

	ids := make([]int64, 0, len(batch))
	for _, item := range batch {
		ids = append(ids, item.ID)
	}

	if s.dryRun.Load() {
		log.Info().Str("manager", name).Ints64("ids", ids).Msg("Dry run: would trigger search")
		return nil
	}

	if err := target.Manager.TriggerSearch(ctx, ids); err != nil {
		return err
	}
	for _, item := range batch {
		if err := s.history.MarkSearched(ctx, name, item.ID, s.now()); err != nil {
			return err
		}
	}

	log.Info().Str("manager", name).Int("batch", len(ids)).Int("wanted", total).
		Msg("Triggered search for wanted items")
	return nil
}

// collectBatch pages through the wanted list until it has limit unsearched
// items or runs out of records.
func (s *Service) collectBatch(ctx context.Context, target Target, searched map[int64]struct{}, limit int) ([]arr.WantedItem, int, error) {
	var batch []arr.WantedItem
	total := 0
	for page := 1; ; page++ {
		records, totalRecords, err := target.Manager.Wanted(ctx, page, wantedPageSize, target.CutoffUnmet)
		if err != nil {
			return nil, 0, err
		}
		total = totalRecords

		for _, record := range records {
			if _, done := searched[record.ID]; done {
				continue
			}
			batch = append(batch, record)
			if len(batch) >= limit {
				return batch, total, nil
			}
		}

		if len(records) < wantedPageSize || page*wantedPageSize >= totalRecords {
			return batch, total, nil
		}
	}
}
