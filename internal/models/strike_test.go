// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package models_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrbiter/arrbiter/internal/database"
	"github.com/arrbiter/arrbiter/internal/models"
)

func newTestStore(t *testing.T, window time.Duration) *models.StrikeStore {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return models.NewStrikeStore(db, window)
}

func TestStrikeStore_ObserveAccumulatesSameKind(t *testing.T) {
	store := newTestStore(t, 2*time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	count, err := store.Observe(ctx, "abc123", models.IssueSlow, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.Observe(ctx, "abc123", models.IssueSlow, now.Add(10*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	count, err = store.Observe(ctx, "abc123", models.IssueSlow, now.Add(20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	record, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.IssueSlow, record.IssueKind)
	assert.Equal(t, 3, record.Count)
	assert.True(t, record.LastObservedAt.After(record.FirstObservedAt))
}

func TestStrikeStore_KindChangeResetsToOne(t *testing.T) {
	store := newTestStore(t, 2*time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		_, err := store.Observe(ctx, "abc123", models.IssueStalled, now.Add(time.Duration(i)*time.Minute))
		require.NoError(t, err)
	}

	count, err := store.Observe(ctx, "abc123", models.IssueSlow, now.Add(4*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 1, count, "an unrelated issue must not carry over credit")

	record, err := store.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, models.IssueSlow, record.IssueKind)
}

func TestStrikeStore_WindowExpiryResetsToOne(t *testing.T) {
	store := newTestStore(t, time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	count, err := store.Observe(ctx, "abc123", models.IssueSlow, now)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, err = store.Observe(ctx, "abc123", models.IssueSlow, now.Add(30*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	// Outside the window the old record is stale history.
	count, err = store.Observe(ctx, "abc123", models.IssueSlow, now.Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestStrikeStore_ObserveThenClearRoundTrip(t *testing.T) {
	store := newTestStore(t, 2*time.Hour)
	ctx := context.Background()

	_, err := store.Observe(ctx, "abc123", models.IssueMetadataStuck, time.Now())
	require.NoError(t, err)

	require.NoError(t, store.Clear(ctx, "abc123"))

	_, err = store.Get(ctx, "abc123")
	assert.ErrorIs(t, err, models.ErrNoStrikeRecord)

	// Clearing an absent identity stays a no-op.
	require.NoError(t, store.Clear(ctx, "abc123"))
}

func TestStrikeStore_IdentityNormalization(t *testing.T) {
	store := newTestStore(t, 2*time.Hour)
	ctx := context.Background()
	now := time.Now()

	_, err := store.Observe(ctx, "ABC123", models.IssueSlow, now)
	require.NoError(t, err)

	count, err := store.Observe(ctx, "  abc123 ", models.IssueSlow, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = store.Observe(ctx, "   ", models.IssueSlow, now)
	assert.Error(t, err)
}

func TestStrikeStore_SweepDeletesOldRecords(t *testing.T) {
	store := newTestStore(t, 2*time.Hour)
	ctx := context.Background()
	now := time.Date(2026, 8, 10, 0, 0, 0, 0, time.UTC)

	_, err := store.Observe(ctx, "old", models.IssueSlow, now.Add(-5*24*time.Hour))
	require.NoError(t, err)
	_, err = store.Observe(ctx, "fresh", models.IssueSlow, now.Add(-time.Hour))
	require.NoError(t, err)

	deleted, err := store.Sweep(ctx, now, 72*time.Hour)
	require.NoError(t, err)
	assert.EqualValues(t, 1, deleted)

	_, err = store.Get(ctx, "old")
	assert.ErrorIs(t, err, models.ErrNoStrikeRecord)

	remaining, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, remaining)
}

func TestSearchHistoryStore(t *testing.T) {
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := models.NewSearchHistoryStore(db)
	ctx := context.Background()
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)

	_, ok, err := store.OldestEntry(ctx, "sonarr-main")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.MarkSearched(ctx, "sonarr-main", 42, now))
	require.NoError(t, store.MarkSearched(ctx, "sonarr-main", 43, now.Add(time.Minute)))
	// Duplicate mark is a no-op.
	require.NoError(t, store.MarkSearched(ctx, "sonarr-main", 42, now.Add(2*time.Minute)))

	ids, err := store.SearchedIDs(ctx, "sonarr-main")
	require.NoError(t, err)
	assert.Len(t, ids, 2)
	assert.Contains(t, ids, int64(42))

	oldest, ok, err := store.OldestEntry(ctx, "sonarr-main")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, oldest.Equal(now))

	// Histories are per manager.
	other, err := store.SearchedIDs(ctx, "radarr-main")
	require.NoError(t, err)
	assert.Empty(t, other)

	require.NoError(t, store.Wipe(ctx, "sonarr-main"))
	ids, err = store.SearchedIDs(ctx, "sonarr-main")
	require.NoError(t, err)
	assert.Empty(t, ids)
}
