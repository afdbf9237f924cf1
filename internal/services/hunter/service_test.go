// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package hunter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrbiter/arrbiter/internal/arr"
	"github.com/arrbiter/arrbiter/internal/database"
	"github.com/arrbiter/arrbiter/internal/models"
)

type fakeSearchManager struct {
	name     string
	wanted   []arr.WantedItem
	searches [][]int64
}

func (m *fakeSearchManager) Name() string { return m.name }

func (m *fakeSearchManager) Wanted(_ context.Context, page, pageSize int, _ bool) ([]arr.WantedItem, int, error) {
	start := (page - 1) * pageSize
	if start >= len(m.wanted) {
		return nil, len(m.wanted), nil
	}
	end := start + pageSize
	if end > len(m.wanted) {
		end = len(m.wanted)
	}
	return m.wanted[start:end], len(m.wanted), nil
}

func (m *fakeSearchManager) TriggerSearch(_ context.Context, ids []int64) error {
	m.searches = append(m.searches, ids)
	return nil
}

func newHistory(t *testing.T) *models.SearchHistoryStore {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return models.NewSearchHistoryStore(db)
}

func wantedItems(n int) []arr.WantedItem {
	items := make([]arr.WantedItem, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, arr.WantedItem{ID: int64(i)})
	}
	return items
}

func TestHunter_BatchesMoveForwardAcrossCycles(t *testing.T) {
	manager := &fakeSearchManager{name: "sonarr-main", wanted: wantedItems(7)}
	history := newHistory(t)
	svc := NewService(DefaultConfig(), []Target{{Manager: manager, SearchLimit: 3}}, history, false)
	ctx := context.Background()

	require.NoError(t, svc.hunt(ctx, svc.targets[0]))
	require.Len(t, manager.searches, 1)
	assert.Equal(t, []int64{1, 2, 3}, manager.searches[0])

	require.NoError(t, svc.hunt(ctx, svc.targets[0]))
	require.Len(t, manager.searches, 2)
	assert.Equal(t, []int64{4, 5, 6}, manager.searches[1], "second cycle skips already searched items")

	require.NoError(t, svc.hunt(ctx, svc.targets[0]))
	require.Len(t, manager.searches, 3)
	assert.Equal(t, []int64{7}, manager.searches[2])
}

func TestHunter_WipesHistoryWhenAllSearched(t *testing.T) {
	manager := &fakeSearchManager{name: "sonarr-main", wanted: wantedItems(2)}
	history := newHistory(t)
	svc := NewService(DefaultConfig(), []Target{{Manager: manager, SearchLimit: 5}}, history, false)
	ctx := context.Background()

	require.NoError(t, svc.hunt(ctx, svc.targets[0]))
	require.Len(t, manager.searches, 1)

	// Everything searched: the next pass wipes the memory and starts over.
	require.NoError(t, svc.hunt(ctx, svc.targets[0]))
	ids, err := history.SearchedIDs(ctx, "sonarr-main")
	require.NoError(t, err)
	assert.Empty(t, ids)

	require.NoError(t, svc.hunt(ctx, svc.targets[0]))
	require.Len(t, manager.searches, 2)
	assert.Equal(t, []int64{1, 2}, manager.searches[1])
}

func TestHunter_SafetyNetWipesStaleMemory(t *testing.T) {
	manager := &fakeSearchManager{name: "sonarr-main", wanted: wantedItems(2)}
	history := newHistory(t)
	svc := NewService(Config{Interval: time.Hour, MaxCycleAge: 24 * time.Hour},
		[]Target{{Manager: manager, SearchLimit: 5}}, history, false)
	ctx := context.Background()

	// A memory entry far older than the cycle age.
	require.NoError(t, history.MarkSearched(ctx, "sonarr-main", 1, time.Now().Add(-48*time.Hour)))

	require.NoError(t, svc.hunt(ctx, svc.targets[0]))
	require.Len(t, manager.searches, 1)
	assert.Equal(t, []int64{1, 2}, manager.searches[0], "stale memory is wiped so item 1 is searched again")
}

func TestHunter_DryRunTriggersNothing(t *testing.T) {
	manager := &fakeSearchManager{name: "sonarr-main", wanted: wantedItems(3)}
	history := newHistory(t)
	svc := NewService(DefaultConfig(), []Target{{Manager: manager, SearchLimit: 2}}, history, true)
	ctx := context.Background()

	require.NoError(t, svc.hunt(ctx, svc.targets[0]))
	assert.Empty(t, manager.searches)

	ids, err := history.SearchedIDs(ctx, "sonarr-main")
	require.NoError(t, err)
	assert.Empty(t, ids, "dry run must not consume the wanted list")
}