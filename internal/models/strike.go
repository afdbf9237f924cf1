// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/arrbiter/arrbiter/internal/dbinterface"
)

// IssueKind classifies why a tracked download is unhealthy.
type IssueKind string

const (
	IssueFailedOrErrored IssueKind = "failed_or_errored"
	IssueMetadataStuck   IssueKind = "metadata_stuck"
	IssueStalled         IssueKind = "stalled"
	IssueSlow            IssueKind = "slow"
	IssueOrphaned        IssueKind = "orphaned"
	// IssueUnrecognized is issued by the cross-router for queue items the
	// owning manager cannot classify. Never produced by the health evaluator.
	IssueUnrecognized IssueKind = "unrecognized"
)

// StrikeRecord is one durable per-item failure counter.
//
// Invariant: count >= 1 while the record exists; a record that would reach
// zero is deleted instead.
type StrikeRecord struct {
	Identity        string    `json:"identity"`
	IssueKind       IssueKind `json:"issueKind"`
	Count           int       `json:"count"`
	FirstObservedAt time.Time `json:"firstObservedAt"`
	LastObservedAt  time.Time `json:"lastObservedAt"`
}

// ErrNoStrikeRecord is returned by Get when no record exists for an identity.
var ErrNoStrikeRecord = errors.New("no strike record")

// StrikeStore is the durable strike ledger. Observe and Clear are atomic per
// identity: each runs inside a single transaction, and the database handle
// serializes writers.
type StrikeStore struct {
	db            dbinterface.TxBeginner
	timeoutWindow time.Duration
}

// NewStrikeStore creates a ledger whose strike accumulation window is
// timeoutWindow: a repeat observation of the same issue kind later than the
// window does not carry the old count over.
func NewStrikeStore(db dbinterface.TxBeginner, timeoutWindow time.Duration) *StrikeStore {
	if timeoutWindow <= 0 {
		timeoutWindow = 2 * time.Hour
	}
	return &StrikeStore{db: db, timeoutWindow: timeoutWindow}
}

// Observe records one observation of kind against identity and returns the
// post-update count.
//
// A fresh identity starts at 1. A repeat of the same kind within the timeout
// window increments. A different kind, or a repeat outside the window,
// discards the old record and starts again at 1.
func (s *StrikeStore) Observe(ctx context.Context, identity string, kind IssueKind, now time.Time) (int, error) {
	identity = normalizeIdentity(identity)
	if identity == "" {
		return 0, fmt.Errorf("empty identity")
	}
	now = now.UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin observe tx: %w", err)
	}
	defer tx.Rollback()

	var (
		prevKind sql.NullString
		prevLast sql.NullTime
	)
	err = tx.QueryRowContext(ctx,
		`SELECT issue_kind, last_observed_at FROM strike_records WHERE identity = ?`,
		identity,
	).Scan(&prevKind, &prevLast)

	fresh := errors.Is(err, sql.ErrNoRows)
	if err != nil && !fresh {
		return 0, fmt.Errorf("load strike record: %w", err)
	}

	sameKind := prevKind.Valid && IssueKind(prevKind.String) == kind
	withinWindow := prevLast.Valid && now.Sub(prevLast.Time) <= s.timeoutWindow

	var count int
	if !fresh && sameKind && withinWindow {
		row := tx.QueryRowContext(ctx,
			`UPDATE strike_records SET count = count + 1, last_observed_at = ?
			 WHERE identity = ? RETURNING count`,
			now, identity,
		)
		if err := row.Scan(&count); err != nil {
			return 0, fmt.Errorf("increment strike record: %w", err)
		}
	} else {
		// Stale or unrelated history does not carry credit: overwrite.
		count = 1
		_, err := tx.ExecContext(ctx,
			`INSERT INTO strike_records (identity, issue_kind, count, first_observed_at, last_observed_at)
			 VALUES (?, ?, 1, ?, ?)
			 ON CONFLICT(identity) DO UPDATE SET
				issue_kind = excluded.issue_kind,
				count = 1,
				first_observed_at = excluded.first_observed_at,
				last_observed_at = excluded.last_observed_at`,
			identity, string(kind), now, now,
		)
		if err != nil {
			return 0, fmt.Errorf("reset strike record: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit observe tx: %w", err)
	}
	return count, nil
}

// Get returns the current record for identity, or ErrNoStrikeRecord.
func (s *StrikeStore) Get(ctx context.Context, identity string) (*StrikeRecord, error) {
	identity = normalizeIdentity(identity)

	var record StrikeRecord
	var kind string
	err := s.db.QueryRowContext(ctx,
		`SELECT identity, issue_kind, count, first_observed_at, last_observed_at
		 FROM strike_records WHERE identity = ?`,
		identity,
	).Scan(&record.Identity, &kind, &record.Count, &record.FirstObservedAt, &record.LastObservedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoStrikeRecord
		}
		return nil, err
	}
	record.IssueKind = IssueKind(kind)
	return &record, nil
}

// Clear deletes the record for identity. Clearing an absent identity is a no-op.
func (s *StrikeStore) Clear(ctx context.Context, identity string) error {
	identity = normalizeIdentity(identity)
	_, err := s.db.ExecContext(ctx, `DELETE FROM strike_records WHERE identity = ?`, identity)
	if err != nil {
		return fmt.Errorf("clear strike record: %w", err)
	}
	return nil
}

// Sweep deletes every record whose last observation is older than
// maxRecordAge, bounding ledger growth and how long stale failures can
// influence decisions. Returns the number of records deleted.
func (s *StrikeStore) Sweep(ctx context.Context, now time.Time, maxRecordAge time.Duration) (int64, error) {
	cutoff := now.UTC().Add(-maxRecordAge)
	result, err := s.db.ExecContext(ctx, `DELETE FROM strike_records WHERE last_observed_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("sweep strike records: %w", err)
	}
	return result.RowsAffected()
}

// Count returns the number of live records.
func (s *StrikeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM strike_records`).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func normalizeIdentity(identity string) string {
	return strings.ToLower(strings.TrimSpace(identity))
}
