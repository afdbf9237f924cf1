// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog/log"
)

// Ledger is the strike-store surface the applicator needs.
type Ledger interface {
	Clear(ctx context.Context, identity string) error
}

// Applicator executes decided actions against the external clients. Exactly
// one action per identity per cycle; idempotent under at-least-once delivery.
type Applicator struct {
	client      DownloadClient
	managers    map[string]Manager
	ledger      Ledger
	rules       ExemptionRules
	obsoleteTag string
	dryRun      atomic.Bool
}

func NewApplicator(client DownloadClient, managers []Manager, ledger Ledger, rules ExemptionRules, obsoleteTag string, dryRun bool) *Applicator {
	byName := make(map[string]Manager, len(managers))
	for _, manager := range managers {
		byName[manager.Name()] = manager
	}
	a := &Applicator{
		client:      client,
		managers:    byName,
		ledger:      ledger,
		rules:       rules,
		obsoleteTag: obsoleteTag,
	}
	a.dryRun.Store(dryRun)
	return a
}

// SetDryRun flips simulation mode. Safe to call while cycles run; each action
// reads the mode once at its execution point.
func (a *Applicator) SetDryRun(enabled bool) { a.dryRun.Store(enabled) }

// DryRun reports whether actions are currently simulated.
func (a *Applicator) DryRun() bool { return a.dryRun.Load() }

// Apply executes one action. On success of a terminal action the ledger entry
// is cleared; on failure it is left untouched so the same decision retries
// next cycle.
func (a *Applicator) Apply(ctx context.Context, item TrackedItem, action Action) error {
	switch action.Kind {
	case ActionNoOp:
		return nil
	case ActionTagObsolete:
		return a.tagObsolete(ctx, item, action)
	case ActionRemoveAndBlacklist:
		return a.removeAndBlacklist(ctx, item, action)
	default:
		return fmt.Errorf("applicator cannot execute action %q", action.Kind)
	}
}

func (a *Applicator) tagObsolete(ctx context.Context, item TrackedItem, action Action) error {
	live, ok, err := a.client.GetTransfer(ctx, item.Hash)
	if err != nil {
		return &TransientBackendError{Op: "refetch transfer", Err: err}
	}
	if !ok {
		return &ConflictError{Identity: item.Hash, Reason: "transfer vanished before tagging"}
	}
	if a.rules.Classify(splitTags(live.Tags)) == ExemptionProtected {
		return &ConflictError{Identity: item.Hash, Reason: "item became protected before tagging"}
	}

	if a.dryRun.Load() {
		log.Info().Str("hash", item.Hash).Str("name", item.Name).Str("tag", a.obsoleteTag).
			Msg("Dry run: would tag transfer obsolete")
		return nil
	}

	// Re-applying an existing tag is a no-op on the client side.
	if err := a.client.AddTag(ctx, item.Hash, a.obsoleteTag); err != nil {
		return &TransientBackendError{Op: "tag obsolete", Err: err}
	}

	log.Info().Str("hash", item.Hash).Str("name", item.Name).Str("issue", string(action.Issue)).
		Str("tag", a.obsoleteTag).Msg("Tagged transfer obsolete")
	return a.ledger.Clear(ctx, item.Hash)
}

func (a *Applicator) removeAndBlacklist(ctx context.Context, item TrackedItem, action Action) error {
	live, ok, err := a.client.GetTransfer(ctx, item.Hash)
	if err != nil {
		return &TransientBackendError{Op: "refetch transfer", Err: err}
	}
	if !ok {
		// Already gone; treat as applied so the ledger doesn't linger.
		log.Debug().Str("hash", item.Hash).Msg("Transfer already removed")
		return a.ledger.Clear(ctx, item.Hash)
	}

	// Guard against an operator re-classifying the item between decision
	// and execution. A destructive action on anything but a public item
	// is a conflict; on a protected item it would be a decider bug.
	switch class := a.rules.Classify(splitTags(live.Tags)); class {
	case ExemptionProtected:
		if a.rules.Classify(item.Tags) == ExemptionProtected {
			err := &ProtectedViolationError{Identity: item.Hash, Action: action.Kind}
			log.Error().Err(err).Str("name", item.Name).Msg("Destructive action reached applicator for protected item")
			return err
		}
		return &ConflictError{Identity: item.Hash, Reason: "item became protected before removal"}
	case ExemptionPrivate:
		return &ConflictError{Identity: item.Hash, Reason: "item became private before removal"}
	}

	if a.dryRun.Load() {
		log.Info().Str("hash", item.Hash).Str("name", item.Name).Str("issue", string(action.Issue)).
			Msg("Dry run: would remove and blocklist transfer")
		return nil
	}

	// A recognized owner gets the blocklist-and-research signal; a pure
	// orphan is a plain removal.
	if owner := item.Owner; owner != nil && owner.Recognized {
		manager, known := a.managers[owner.Manager]
		if !known {
			return &ConflictError{Identity: item.Hash, Reason: fmt.Sprintf("owning manager %q no longer configured", owner.Manager)}
		}
		if err := manager.RemoveFromQueue(ctx, owner.QueueID, true); err != nil {
			return &TransientBackendError{Op: "blocklist release", Err: err}
		}
	}

	if err := a.client.RemoveTransfer(ctx, item.Hash, true); err != nil {
		return &IrreversibleActionError{Op: "remove transfer", Path: item.Hash, Err: err}
	}

	log.Info().Str("hash", item.Hash).Str("name", item.Name).Str("issue", string(action.Issue)).
		Bool("blocklisted", item.Owner != nil && item.Owner.Recognized).
		Msg("Removed transfer")
	return a.ledger.Clear(ctx, item.Hash)
}
