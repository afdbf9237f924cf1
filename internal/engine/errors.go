// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import "fmt"

// TransientBackendError wraps a network or timeout failure talking to the
// download client or a manager. The strike ledger is left untouched and the
// item is retried next cycle.
type TransientBackendError struct {
	Op  string
	Err error
}

func (e *TransientBackendError) Error() string {
	return fmt.Sprintf("transient backend error during %s: %v", e.Op, e.Err)
}

func (e *TransientBackendError) Unwrap() error { return e.Err }

func (e *TransientBackendError) Is(target error) bool {
	_, ok := target.(*TransientBackendError)
	return ok
}

// ConflictError means the target changed between decision and execution, for
// example an operator protected the item mid-cycle. The action is aborted for
// this cycle and the item is re-evaluated fresh next cycle.
type ConflictError struct {
	Identity string
	Reason   string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %s", e.Identity, e.Reason)
}

func (e *ConflictError) Is(target error) bool {
	_, ok := target.(*ConflictError)
	return ok
}

// AmbiguousMatchError means a metadata lookup produced multiple equally
// plausible candidates. Never auto-resolved.
type AmbiguousMatchError struct {
	Title      string
	Candidates []string
}

func (e *AmbiguousMatchError) Error() string {
	return fmt.Sprintf("ambiguous match for %q: %d equally plausible candidates", e.Title, len(e.Candidates))
}

func (e *AmbiguousMatchError) Is(target error) bool {
	_, ok := target.(*AmbiguousMatchError)
	return ok
}

// IrreversibleActionError wraps a failed hardlink or removal call. Reported,
// retried next cycle, never fatal to the batch.
type IrreversibleActionError struct {
	Op   string
	Path string
	Err  error
}

func (e *IrreversibleActionError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IrreversibleActionError) Unwrap() error { return e.Err }

func (e *IrreversibleActionError) Is(target error) bool {
	_, ok := target.(*IrreversibleActionError)
	return ok
}

// ProtectedViolationError is the loud programming-error sentinel for a
// destructive action reaching the applicator with a protected target. The
// action is never executed.
type ProtectedViolationError struct {
	Identity string
	Action   ActionKind
}

func (e *ProtectedViolationError) Error() string {
	return fmt.Sprintf("refusing %s on protected item %s: decider invariant violated", e.Action, e.Identity)
}

func (e *ProtectedViolationError) Is(target error) bool {
	_, ok := target.(*ProtectedViolationError)
	return ok
}
