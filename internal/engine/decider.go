// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "github.com/arrbiter/arrbiter/internal/models"

// ActionKind tags the decision for one item in one cycle.
type ActionKind string

const (
	ActionNoOp               ActionKind = "noop"
	ActionTagObsolete        ActionKind = "tag_obsolete"
	ActionRemoveAndBlacklist ActionKind = "remove_and_blacklist"
	ActionRerouteToStaging   ActionKind = "reroute_to_staging"
)

// Action is one decided action, carrying the identity and the issue that
// triggered it.
type Action struct {
	Kind     ActionKind
	Identity string
	Issue    models.IssueKind
}

// DeciderRules is the configuration slice the decision table needs.
type DeciderRules struct {
	Threshold     int
	OrphanRemoval bool
}

// Decide is the total decision table: exemption class and strike count to one
// action. Protected never yields anything but NoOp, for any count and any
// issue. Orphans are only removed when orphan removal is enabled. Pure
// function.
func Decide(identity string, kind models.IssueKind, count int, class ExemptionClass, rules DeciderRules) Action {
	noop := Action{Kind: ActionNoOp, Identity: identity, Issue: kind}

	if class == ExemptionProtected || count < rules.Threshold {
		return noop
	}

	switch class {
	case ExemptionPrivate:
		return Action{Kind: ActionTagObsolete, Identity: identity, Issue: kind}
	case ExemptionPublic:
		if kind == models.IssueOrphaned && !rules.OrphanRemoval {
			return noop
		}
		return Action{Kind: ActionRemoveAndBlacklist, Identity: identity, Issue: kind}
	default:
		return noop
	}
}
