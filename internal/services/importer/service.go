// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package importer is the staging import matcher: it derives clean titles
// from staged names, resolves them against the managers' metadata lookup,
// auto-registers unknown titles and hardlinks the content into the library.
package importer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/lithammer/fuzzysearch/fuzzy"
	"github.com/rs/zerolog/log"

	"github.com/arrbiter/arrbiter/internal/arr"
	"github.com/arrbiter/arrbiter/internal/domain"
	"github.com/arrbiter/arrbiter/internal/engine"
	"github.com/arrbiter/arrbiter/internal/services/crossroute"
)

const (
	resolvedDirName = "resolved"
	failedDirName   = "failed"
)

// MediaManager is the manager surface the importer consumes.
type MediaManager interface {
	Name() string
	Lookup(ctx context.Context, term string) ([]arr.MediaItem, error)
	Library(ctx context.Context) ([]arr.MediaItem, error)
	QualityProfiles(ctx context.Context) ([]arr.QualityProfile, error)
	Add(ctx context.Context, item arr.MediaItem, qualityProfileID int64, rootFolder string) (arr.MediaItem, error)
}

// Target couples a manager with the defaults used when auto-registering a
// title it does not know yet.
type Target struct {
	Manager        MediaManager
	QualityProfile string
	RootFolder     string
}

// Config controls the import cadence and staging layout.
type Config struct {
	Interval        time.Duration
	StagingDir      string
	FailedRetention time.Duration
}

// DefaultConfig returns sane defaults.
func DefaultConfig() Config {
	return Config{
		Interval:        30 * time.Minute,
		FailedRetention: 7 * 24 * time.Hour,
	}
}

// ConfigFromDomain maps the importer section of the app config.
func ConfigFromDomain(cfg domain.ImporterConfig) Config {
	out := DefaultConfig()
	if cfg.IntervalMins > 0 {
		out.Interval = time.Duration(cfg.IntervalMins) * time.Minute
	}
	if cfg.FailedRetention > 0 {
		out.FailedRetention = time.Duration(cfg.FailedRetention) * time.Minute
	}
	out.StagingDir = cfg.StagingDir
	return out
}

// Report is the outcome of one staging scan.
type Report struct {
	Scanned    int `json:"scanned"`
	Resolved   int `json:"resolved"`
	Unresolved int `json:"unresolved"`
	Ambiguous  int `json:"ambiguous"`
	Failed     int `json:"failed"`
}

// Service is the Import Matcher.
type Service struct {
	cfg     Config
	targets []Target
	dryRun  atomic.Bool
	now     func() time.Time
}

func NewService(cfg Config, targets []Target, dryRun bool) *Service {
	def := DefaultConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.FailedRetention <= 0 {
		cfg.FailedRetention = def.FailedRetention
	}
	s := &Service{
		cfg:     cfg,
		targets: targets,
		now:     time.Now,
	}
	s.dryRun.Store(dryRun)
	return s
}

// SetDryRun flips simulation mode, safe while the import loop runs.
func (s *Service) SetDryRun(enabled bool) { s.dryRun.Store(enabled) }

// Start launches the background import loop.
func (s *Service) Start(ctx context.Context) {
	go func() {
		log.Info().Dur("interval", s.cfg.Interval).Str("staging", s.cfg.StagingDir).
			Msg("Import matcher started")

		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()

		s.runOnce(ctx)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.runOnce(ctx)
			}
		}
	}()
}

func (s *Service) runOnce(ctx context.Context) {
	report, err := s.RunCycle(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Import scan failed")
		return
	}
	if report.Scanned > 0 {
		log.Info().
			Int("scanned", report.Scanned).
			Int("resolved", report.Resolved).
			Int("unresolved", report.Unresolved).
			Int("ambiguous", report.Ambiguous).
			Msg("Import scan finished")
	}
}

// RunCycle scans staging once. Entries that cannot be resolved stay where
// they are and are reported, never silently discarded.
func (s *Service) RunCycle(ctx context.Context) (*Report, error) {
	report := &Report{}

	entries, err := os.ReadDir(s.cfg.StagingDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return report, nil
		}
		return nil, fmt.Errorf("read staging dir: %w", err)
	}

	for _, entry := range entries {
		if entry.Name() == resolvedDirName || entry.Name() == failedDirName {
			continue
		}
		if !entry.IsDir() && !IsMediaFile(entry.Name()) {
			continue
		}
		report.Scanned++
		s.processEntry(ctx, entry.Name(), report)
	}

	s.sweepRetention()
	return report, nil
}

func (s *Service) processEntry(ctx context.Context, name string, report *Report) {
	title := CleanTitle(name)
	if title == "" {
		report.Failed++
		s.moveTo(name, failedDirName)
		log.Warn().Str("entry", name).Msg("Staged entry yields no usable title, moved to failed")
		return
	}

	for _, target := range s.targets {
		resolved, err := s.resolveAgainst(ctx, target, name, title)
		if err != nil {
			var ambiguous *engine.AmbiguousMatchError
			if errors.As(err, &ambiguous) {
				report.Ambiguous++
				log.Warn().Str("entry", name).Str("title", title).
					Strs("candidates", ambiguous.Candidates).
					Msg("Refusing to auto-resolve ambiguous match, entry stays in staging")
				return
			}
			log.Error().Err(err).Str("entry", name).Str("manager", target.Manager.Name()).
				Msg("Import resolution failed")
			continue
		}
		if resolved {
			report.Resolved++
			return
		}
	}

	report.Unresolved++
	log.Info().Str("entry", name).Str("title", title).
		Msg("No metadata match, entry stays in staging")
}

// resolveAgainst tries one manager. Returns true when the entry was imported.
func (s *Service) resolveAgainst(ctx context.Context, target Target, name, title string) (bool, error) {
	candidates, err := target.Manager.Lookup(ctx, title)
	if err != nil {
		return false, fmt.Errorf("lookup: %w", err)
	}

	match, err := pickCandidate(title, candidates)
	if err != nil {
		return false, err
	}
	if match == nil {
		return false, nil
	}

	tracked, err := s.findTracked(ctx, target, match.ExternalID())
	if err != nil {
		return false, err
	}

	if s.dryRun.Load() {
		log.Info().Str("entry", name).Str("title", match.Title).
			Bool("wouldRegister", tracked == nil).
			Msg("Dry run: would import staged entry")
		return true, nil
	}

	if tracked == nil {
		registered, err := s.register(ctx, target, *match)
		if err != nil {
			return false, err
		}
		tracked = &registered
	}

	src := filepath.Join(s.cfg.StagingDir, name)
	dst := filepath.Join(s.libraryPath(target, *tracked), name)
	if err := crossroute.HardlinkTree(src, dst); err != nil {
		return false, &engine.IrreversibleActionError{Op: "link into library", Path: src, Err: err}
	}

	// The underlying data stays put via the hardlink; only the staging view
	// entry is retired.
	s.moveTo(name, resolvedDirName)
	log.Info().Str("entry", name).Str("title", tracked.Title).Str("library", dst).
		Msg("Imported staged entry")
	return true, nil
}

// pickCandidate ranks lookup candidates against the cleaned title and
// refuses ties between distinct titles.
func pickCandidate(title string, candidates []arr.MediaItem) (*arr.MediaItem, error) {
	type ranked struct {
		item  arr.MediaItem
		score int
	}

	var matches []ranked
	for _, candidate := range candidates {
		score := fuzzy.RankMatchNormalizedFold(title, candidate.Title)
		if score < 0 {
			continue
		}
		matches = append(matches, ranked{item: candidate, score: score})
	}
	if len(matches) == 0 {
		return nil, nil
	}

	best := matches[0]
	tied := []string{best.item.Title}
	for _, match := range matches[1:] {
		switch {
		case match.score < best.score:
			best = match
			tied = []string{match.item.Title}
		case match.score == best.score && match.item.ExternalID() != best.item.ExternalID():
			tied = append(tied, match.item.Title)
		}
	}
	if len(tied) > 1 {
		return nil, &engine.AmbiguousMatchError{Title: title, Candidates: tied}
	}
	return &best.item, nil
}

func (s *Service) findTracked(ctx context.Context, target Target, externalID int64) (*arr.MediaItem, error) {
	library, err := target.Manager.Library(ctx)
	if err != nil {
		return nil, fmt.Errorf("list library: %w", err)
	}
	for _, item := range library {
		if item.ExternalID() == externalID {
			return &item, nil
		}
	}
	return nil, nil
}

func (s *Service) register(ctx context.Context, target Target, match arr.MediaItem) (arr.MediaItem, error) {
	profiles, err := target.Manager.QualityProfiles(ctx)
	if err != nil {
		return arr.MediaItem{}, fmt.Errorf("list quality profiles: %w", err)
	}
	if len(profiles) == 0 {
		return arr.MediaItem{}, fmt.Errorf("manager %s has no quality profiles", target.Manager.Name())
	}

	profileID := profiles[0].ID
	for _, profile := range profiles {
		if strings.EqualFold(profile.Name, target.QualityProfile) {
			profileID = profile.ID
			break
		}
	}

	return target.Manager.Add(ctx, match, profileID, target.RootFolder)
}

// libraryPath computes the destination directory for an imported title.
func (s *Service) libraryPath(target Target, item arr.MediaItem) string {
	if item.Path != "" {
		return item.Path
	}
	folder := item.Title
	if item.Year > 0 {
		folder = fmt.Sprintf("%s (%d)", item.Title, item.Year)
	}
	return filepath.Join(target.RootFolder, folder)
}

// moveTo renames a staging entry into a subdir of the staging root. Rename
// within one filesystem preserves hardlinks.
func (s *Service) moveTo(name, subdir string) {
	dir := filepath.Join(s.cfg.StagingDir, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("Cannot create staging subdir")
		return
	}
	src := filepath.Join(s.cfg.StagingDir, name)
	if err := os.Rename(src, filepath.Join(dir, name)); err != nil {
		log.Error().Err(err).Str("entry", name).Msg("Cannot retire staging entry")
	}
}

// sweepRetention deletes resolved and failed entries older than the retention
// window.
func (s *Service) sweepRetention() {
	cutoff := s.now().Add(-s.cfg.FailedRetention)
	for _, subdir := range []string{resolvedDirName, failedDirName} {
		dir := filepath.Join(s.cfg.StagingDir, subdir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			info, err := entry.Info()
			if err != nil || info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.RemoveAll(path); err != nil {
				log.Warn().Err(err).Str("path", path).Msg("Retention sweep could not delete entry")
			} else {
				log.Debug().Str("path", path).Msg("Retention sweep deleted entry")
			}
		}
	}
}
