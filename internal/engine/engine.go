// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/arrbiter/arrbiter/internal/domain"
	"github.com/arrbiter/arrbiter/internal/models"
)

// Config controls the cycle cadence and the lifecycle policy.
type Config struct {
	Interval     time.Duration
	Workers      int
	Threshold    int
	MaxRecordAge time.Duration

	Thresholds Thresholds
	Rules      ExemptionRules

	OrphanRemoval bool
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Interval:     10 * time.Minute,
		Workers:      4,
		Threshold:    3,
		MaxRecordAge: 72 * time.Hour,
	}
}

// ConfigFromDomain maps the cleaner section of the app config.
func ConfigFromDomain(cfg domain.CleanerConfig) Config {
	out := DefaultConfig()
	if cfg.IntervalMins > 0 {
		out.Interval = time.Duration(cfg.IntervalMins) * time.Minute
	}
	if cfg.Workers > 0 {
		out.Workers = cfg.Workers
	}
	if cfg.MaxStrikes > 0 {
		out.Threshold = cfg.MaxStrikes
	}
	if cfg.MaxRecordAgeDays > 0 {
		out.MaxRecordAge = time.Duration(cfg.MaxRecordAgeDays) * 24 * time.Hour
	}
	out.Thresholds = Thresholds{
		MinSpeedKB:      cfg.MinSpeedKB,
		MetadataTimeout: time.Duration(cfg.MetadataTimeout) * time.Minute,
		StalledTimeout:  time.Duration(cfg.StalledTimeout) * time.Minute,
		CheckFailed:     cfg.RemoveFailed,
		CheckMetadata:   cfg.RemoveMetadata,
		CheckStalled:    cfg.RemoveStalled,
		CheckSlow:       cfg.RemoveSlow,
		CheckOrphaned:   cfg.RemoveOrphans,
	}
	out.Rules = NewExemptionRules(cfg.ProtectedTags, cfg.PrivateTags)
	out.OrphanRemoval = cfg.RemoveOrphans
	return out
}

// StrikeLedger is the durable strike-store surface the engine drives.
type StrikeLedger interface {
	Observe(ctx context.Context, identity string, kind models.IssueKind, now time.Time) (int, error)
	Clear(ctx context.Context, identity string) error
	Sweep(ctx context.Context, now time.Time, maxRecordAge time.Duration) (int64, error)
}

// Engine is the cycle driver: snapshot, evaluate, strike, decide, apply.
type Engine struct {
	cfg        Config
	client     DownloadClient
	managers   []Manager
	ledger     StrikeLedger
	applicator *Applicator

	locks identityLocks
	now   func() time.Time

	reportMu   sync.RWMutex
	lastReport *CycleReport

	onReport func(*CycleReport)
}

func New(cfg Config, client DownloadClient, managers []Manager, ledger StrikeLedger, applicator *Applicator) *Engine {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.Workers <= 0 {
		cfg.Workers = def.Workers
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = def.Threshold
	}
	if cfg.MaxRecordAge <= 0 {
		cfg.MaxRecordAge = def.MaxRecordAge
	}
	return &Engine{
		cfg:        cfg,
		client:     client,
		managers:   managers,
		ledger:     ledger,
		applicator: applicator,
		locks:      identityLocks{m: make(map[string]*sync.Mutex)},
		now:        time.Now,
	}
}

// OnReport registers a callback invoked with every completed cycle report.
func (e *Engine) OnReport(fn func(*CycleReport)) { e.onReport = fn }

// LastReport returns the most recent cycle report, or nil before the first
// cycle completes.
func (e *Engine) LastReport() *CycleReport {
	e.reportMu.RLock()
	defer e.reportMu.RUnlock()
	return e.lastReport
}

// Run drives cycles on the configured interval until ctx is cancelled. The
// first cycle runs immediately.
func (e *Engine) Run(ctx context.Context) {
	log.Info().Dur("interval", e.cfg.Interval).Int("workers", e.cfg.Workers).
		Int("threshold", e.cfg.Threshold).Msg("Lifecycle engine started")

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.cycle(ctx)
	for {
		select {
		case <-ctx.Done():
			log.Debug().Msg("Lifecycle engine stopped")
			return
		case <-ticker.C:
			e.cycle(ctx)
		}
	}
}

func (e *Engine) cycle(ctx context.Context) {
	report, err := e.RunCycle(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Lifecycle cycle failed")
		return
	}
	log.Info().
		Int("evaluated", report.Evaluated).
		Int("healthy", report.Healthy).
		Int("strikes", report.StrikesIssued).
		Int("swept", report.SweptRecords).
		Dur("duration", report.Duration).
		Msg("Lifecycle cycle finished")
}

// RunCycle processes one full batch of tracked items. Per-item failures are
// collected in the report and never abort the rest of the batch.
func (e *Engine) RunCycle(ctx context.Context) (*CycleReport, error) {
	start := e.now()
	report := newCycleReport(start)

	items, warnings, err := Snapshot(ctx, e.client, e.managers)
	if err != nil {
		return nil, err
	}
	for _, warning := range warnings {
		report.recordError(warning)
	}

	thresholds := e.cfg.Thresholds
	if len(warnings) > 0 {
		// A blind manager would make every one of its items look orphaned.
		thresholds.CheckOrphaned = false
	}

	sem := semaphore.NewWeighted(int64(e.cfg.Workers))
	var wg sync.WaitGroup
	for _, item := range items {
		if err := sem.Acquire(ctx, 1); err != nil {
			report.recordError(err)
			break
		}
		wg.Add(1)
		go func(item TrackedItem) {
			defer wg.Done()
			defer sem.Release(1)
			e.processItem(ctx, item, thresholds, report)
		}(item)
	}
	wg.Wait()

	if swept, err := e.ledger.Sweep(ctx, e.now(), e.cfg.MaxRecordAge); err != nil {
		report.recordError(err)
	} else {
		report.SweptRecords = int(swept)
	}

	report.Duration = e.now().Sub(start)
	e.reportMu.Lock()
	e.lastReport = report
	e.reportMu.Unlock()
	if e.onReport != nil {
		e.onReport(report)
	}
	return report, nil
}

// processItem runs evaluate, strike, decide, apply for one item while holding
// that identity's lock so a concurrent manual cycle cannot race on the same
// strike count.
func (e *Engine) processItem(ctx context.Context, item TrackedItem, thresholds Thresholds, report *CycleReport) {
	unlock := e.locks.lock(item.Hash)
	defer unlock()

	kind, healthy := EvaluateHealth(item, thresholds)
	if healthy {
		if err := e.ledger.Clear(ctx, item.Hash); err != nil {
			report.recordError(err)
			return
		}
		report.recordHealthy()
		return
	}

	count, err := e.ledger.Observe(ctx, item.Hash, kind, e.now())
	if err != nil {
		report.recordError(err)
		return
	}
	report.recordIssue(kind)

	log.Debug().Str("hash", item.Hash).Str("name", item.Name).
		Str("issue", string(kind)).Int("count", count).Msg("Strike recorded")

	class := e.cfg.Rules.Classify(item.Tags)
	action := Decide(item.Hash, kind, count, class, DeciderRules{
		Threshold:     e.cfg.Threshold,
		OrphanRemoval: e.cfg.OrphanRemoval,
	})
	if action.Kind == ActionNoOp {
		return
	}

	simulated := e.applicator.DryRun()
	if err := e.applicator.Apply(ctx, item, action); err != nil {
		report.recordFailed(action.Kind, err)
		log.Warn().Err(err).Str("hash", item.Hash).Str("action", string(action.Kind)).
			Msg("Action failed, will retry next cycle")
		return
	}
	if simulated {
		report.recordSimulated(action.Kind)
		return
	}
	report.recordApplied(action.Kind)
}

// identityLocks hands out one mutex per identity so ledger mutation and
// action application serialize per item.
type identityLocks struct {
	mu sync.Mutex
	m  map[string]*sync.Mutex
}

func (l *identityLocks) lock(identity string) (unlock func()) {
	l.mu.Lock()
	itemMu, ok := l.m[identity]
	if !ok {
		itemMu = &sync.Mutex{}
		l.m[identity] = itemMu
	}
	l.mu.Unlock()

	itemMu.Lock()
	return itemMu.Unlock
}
