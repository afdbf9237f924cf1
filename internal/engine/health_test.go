// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/arrbiter/arrbiter/internal/models"
)

func allChecks() Thresholds {
	return Thresholds{
		MinSpeedKB:      100,
		MetadataTimeout: 10 * time.Minute,
		StalledTimeout:  30 * time.Minute,
		CheckFailed:     true,
		CheckMetadata:   true,
		CheckStalled:    true,
		CheckSlow:       true,
		CheckOrphaned:   true,
	}
}

func TestEvaluateHealth(t *testing.T) {
	owner := &OwnerRef{Manager: "sonarr-main", QueueID: 1, Recognized: true}

	tests := []struct {
		name        string
		item        TrackedItem
		thresholds  Thresholds
		wantKind    models.IssueKind
		wantHealthy bool
	}{
		{
			name:        "downloading at speed is healthy",
			item:        TrackedItem{State: "downloading", DlSpeed: 500 * 1024, Progress: 0.4, TimeActive: 3600, Owner: owner},
			thresholds:  allChecks(),
			wantHealthy: true,
		},
		{
			name:       "error state",
			item:       TrackedItem{State: "error", Owner: owner},
			thresholds: allChecks(),
			wantKind:   models.IssueFailedOrErrored,
		},
		{
			name:       "missing files counts as errored",
			item:       TrackedItem{State: "missingFiles", Owner: owner},
			thresholds: allChecks(),
			wantKind:   models.IssueFailedOrErrored,
		},
		{
			name:       "metadata stuck past timeout",
			item:       TrackedItem{State: "metaDL", TimeActive: 900, Owner: owner},
			thresholds: allChecks(),
			wantKind:   models.IssueMetadataStuck,
		},
		{
			name:        "metadata fetch within timeout is healthy",
			item:        TrackedItem{State: "metaDL", TimeActive: 300, Owner: owner},
			thresholds:  allChecks(),
			wantHealthy: true,
		},
		{
			name:       "stalled past timeout",
			item:       TrackedItem{State: "stalledDL", TimeActive: 3600, Owner: owner},
			thresholds: allChecks(),
			wantKind:   models.IssueStalled,
		},
		{
			name:       "slow after grace period",
			item:       TrackedItem{State: "downloading", DlSpeed: 50 * 1024, Progress: 0.4, TimeActive: 3600, Owner: owner},
			thresholds: allChecks(),
			wantKind:   models.IssueSlow,
		},
		{
			name:        "slow within grace period is healthy",
			item:        TrackedItem{State: "downloading", DlSpeed: 50 * 1024, Progress: 0.1, TimeActive: 60, Owner: owner},
			thresholds:  allChecks(),
			wantHealthy: true,
		},
		{
			name:       "no owner is orphaned",
			item:       TrackedItem{State: "stalledDL", TimeActive: 60},
			thresholds: allChecks(),
			wantKind:   models.IssueOrphaned,
		},
		{
			name: "error wins over slow",
			item: TrackedItem{State: "error", DlSpeed: 10, Progress: 0.4, TimeActive: 3600},
			// Also ownerless; the failure state still takes priority over orphaned.
			thresholds: allChecks(),
			wantKind:   models.IssueFailedOrErrored,
		},
		{
			name: "disabled check reports healthy",
			item: TrackedItem{State: "stalledDL", TimeActive: 3600, Owner: owner},
			thresholds: func() Thresholds {
				t := allChecks()
				t.CheckStalled = false
				return t
			}(),
			wantHealthy: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			kind, healthy := EvaluateHealth(tt.item, tt.thresholds)
			assert.Equal(t, tt.wantHealthy, healthy)
			if !tt.wantHealthy {
				assert.Equal(t, tt.wantKind, kind)
			}
		})
	}
}

func TestClassifyExemption(t *testing.T) {
	rules := NewExemptionRules([]string{"keep", "protected"}, []string{"private", "ptp"})

	tests := []struct {
		name string
		tags []string
		want ExemptionClass
	}{
		{name: "no tags", tags: nil, want: ExemptionPublic},
		{name: "unrelated tags", tags: []string{"tv", "auto"}, want: ExemptionPublic},
		{name: "private tag", tags: []string{"tv", "private"}, want: ExemptionPrivate},
		{name: "protected tag", tags: []string{"keep"}, want: ExemptionProtected},
		{name: "protected wins over private", tags: []string{"private", "keep"}, want: ExemptionProtected},
		{name: "case insensitive", tags: []string{"PTP"}, want: ExemptionPrivate},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, rules.Classify(tt.tags))
		})
	}
}

func TestDecide(t *testing.T) {
	rules := DeciderRules{Threshold: 3, OrphanRemoval: false}
	orphanRules := DeciderRules{Threshold: 3, OrphanRemoval: true}

	tests := []struct {
		name  string
		kind  models.IssueKind
		count int
		class ExemptionClass
		rules DeciderRules
		want  ActionKind
	}{
		{name: "below threshold public", kind: models.IssueSlow, count: 2, class: ExemptionPublic, rules: rules, want: ActionNoOp},
		{name: "at threshold public", kind: models.IssueSlow, count: 3, class: ExemptionPublic, rules: rules, want: ActionRemoveAndBlacklist},
		{name: "above threshold public", kind: models.IssueStalled, count: 5, class: ExemptionPublic, rules: rules, want: ActionRemoveAndBlacklist},
		{name: "at threshold private", kind: models.IssueSlow, count: 3, class: ExemptionPrivate, rules: rules, want: ActionTagObsolete},
		{name: "below threshold private", kind: models.IssueSlow, count: 2, class: ExemptionPrivate, rules: rules, want: ActionNoOp},
		{name: "protected at threshold", kind: models.IssueFailedOrErrored, count: 3, class: ExemptionProtected, rules: rules, want: ActionNoOp},
		{name: "protected far above threshold", kind: models.IssueFailedOrErrored, count: 99, class: ExemptionProtected, rules: rules, want: ActionNoOp},
		{name: "orphan without orphan removal", kind: models.IssueOrphaned, count: 3, class: ExemptionPublic, rules: rules, want: ActionNoOp},
		{name: "orphan with orphan removal", kind: models.IssueOrphaned, count: 3, class: ExemptionPublic, rules: orphanRules, want: ActionRemoveAndBlacklist},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			action := Decide("abc123", tt.kind, tt.count, tt.class, tt.rules)
			assert.Equal(t, tt.want, action.Kind)
			assert.Equal(t, "abc123", action.Identity)
			assert.Equal(t, tt.kind, action.Issue)
		})
	}
}
