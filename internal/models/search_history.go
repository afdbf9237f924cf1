// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/arrbiter/arrbiter/internal/dbinterface"
)

// SearchHistoryStore remembers which wanted items the hunter has already
// triggered a search for, so repeat cycles don't hammer the indexers.
type SearchHistoryStore struct {
	db dbinterface.Querier
}

func NewSearchHistoryStore(db dbinterface.Querier) *SearchHistoryStore {
	return &SearchHistoryStore{db: db}
}

// SearchedIDs returns the set of item IDs already searched for a manager.
func (s *SearchHistoryStore) SearchedIDs(ctx context.Context, manager string) (map[int64]struct{}, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT item_id FROM search_history WHERE manager = ?`, manager)
	if err != nil {
		return nil, fmt.Errorf("load search history: %w", err)
	}
	defer rows.Close()

	ids := make(map[int64]struct{})
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids[id] = struct{}{}
	}
	return ids, rows.Err()
}

// MarkSearched records that a search was triggered for an item. Recording the
// same item twice is a no-op.
func (s *SearchHistoryStore) MarkSearched(ctx context.Context, manager string, itemID int64, now time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO search_history (manager, item_id, searched_at) VALUES (?, ?, ?)`,
		manager, itemID, now.UTC())
	if err != nil {
		return fmt.Errorf("mark searched: %w", err)
	}
	return nil
}

// OldestEntry returns the timestamp of the oldest remembered search for a
// manager, or ok=false when the history is empty.
func (s *SearchHistoryStore) OldestEntry(ctx context.Context, manager string) (time.Time, bool, error) {
	var ts time.Time
	err := s.db.QueryRowContext(ctx,
		`SELECT searched_at FROM search_history WHERE manager = ? ORDER BY searched_at ASC LIMIT 1`,
		manager).Scan(&ts)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, err
	}
	return ts, true, nil
}

// Wipe forgets all history for a manager. Called when the memory exceeds the
// configured cycle age or when every candidate has been searched.
func (s *SearchHistoryStore) Wipe(ctx context.Context, manager string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM search_history WHERE manager = ?`, manager)
	if err != nil {
		return fmt.Errorf("wipe search history: %w", err)
	}
	return nil
}
