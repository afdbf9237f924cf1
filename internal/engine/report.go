// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"sync"
	"time"

	"github.com/arrbiter/arrbiter/internal/models"
)

// CycleReport is the structured outcome of one cycle, emitted for logging
// and metrics.
type CycleReport struct {
	StartedAt time.Time     `json:"startedAt"`
	Duration  time.Duration `json:"duration"`

	Evaluated     int `json:"evaluated"`
	Healthy       int `json:"healthy"`
	StrikesIssued int `json:"strikesIssued"`
	SweptRecords  int `json:"sweptRecords"`

	ActionsApplied   map[ActionKind]int       `json:"actionsApplied"`
	ActionsSimulated map[ActionKind]int       `json:"actionsSimulated"`
	ActionsFailed    map[ActionKind]int       `json:"actionsFailed"`
	IssuesObserved   map[models.IssueKind]int `json:"issuesObserved"`

	Errors []string `json:"errors,omitempty"`

	mu sync.Mutex
}

func newCycleReport(startedAt time.Time) *CycleReport {
	return &CycleReport{
		StartedAt:        startedAt,
		ActionsApplied:   make(map[ActionKind]int),
		ActionsSimulated: make(map[ActionKind]int),
		ActionsFailed:    make(map[ActionKind]int),
		IssuesObserved:   make(map[models.IssueKind]int),
	}
}

func (r *CycleReport) recordHealthy() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Evaluated++
	r.Healthy++
}

func (r *CycleReport) recordIssue(kind models.IssueKind) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Evaluated++
	r.StrikesIssued++
	r.IssuesObserved[kind]++
}

func (r *CycleReport) recordApplied(kind ActionKind) {
	if kind == ActionNoOp {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ActionsApplied[kind]++
}

// recordSimulated counts a dry-run decision separately from ActionsApplied,
// which only ever counts actions that actually reached a backend.
func (r *CycleReport) recordSimulated(kind ActionKind) {
	if kind == ActionNoOp {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ActionsSimulated[kind]++
}

func (r *CycleReport) recordFailed(kind ActionKind, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ActionsFailed[kind]++
	r.Errors = append(r.Errors, err.Error())
}

func (r *CycleReport) recordError(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Errors = append(r.Errors, err.Error())
}
