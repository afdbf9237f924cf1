// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	qbt "github.com/autobrr/go-qbittorrent"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/arrbiter/arrbiter/internal/arr"
	"github.com/arrbiter/arrbiter/internal/database"
	"github.com/arrbiter/arrbiter/internal/models"
)

type fakeClient struct {
	mu       sync.Mutex
	torrents map[string]qbt.Torrent
	removed  []string
	tagged   map[string][]string
}

func newFakeClient(torrents ...qbt.Torrent) *fakeClient {
	c := &fakeClient{
		torrents: make(map[string]qbt.Torrent),
		tagged:   make(map[string][]string),
	}
	for _, torrent := range torrents {
		c.torrents[strings.ToLower(torrent.Hash)] = torrent
	}
	return c
}

func (c *fakeClient) ListDownloading(context.Context) ([]qbt.Torrent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]qbt.Torrent, 0, len(c.torrents))
	for _, torrent := range c.torrents {
		out = append(out, torrent)
	}
	return out, nil
}

func (c *fakeClient) GetTransfer(_ context.Context, hash string) (qbt.Torrent, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	torrent, ok := c.torrents[strings.ToLower(hash)]
	return torrent, ok, nil
}

func (c *fakeClient) RemoveTransfer(_ context.Context, hash string, _ bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash = strings.ToLower(hash)
	delete(c.torrents, hash)
	c.removed = append(c.removed, hash)
	return nil
}

func (c *fakeClient) AddTag(_ context.Context, hash string, tag string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	hash = strings.ToLower(hash)
	c.tagged[hash] = append(c.tagged[hash], tag)
	torrent := c.torrents[hash]
	if torrent.Tags == "" {
		torrent.Tags = tag
	} else if !strings.Contains(torrent.Tags, tag) {
		torrent.Tags += ", " + tag
	}
	c.torrents[hash] = torrent
	return nil
}

type fakeManager struct {
	mu          sync.Mutex
	name        string
	queue       []arr.QueueItem
	blocklisted []int64
	removed     []int64
}

func (m *fakeManager) Name() string { return m.name }

func (m *fakeManager) ListQueue(context.Context) ([]arr.QueueItem, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]arr.QueueItem(nil), m.queue...), nil
}

func (m *fakeManager) RemoveFromQueue(_ context.Context, id int64, blocklist bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.removed = append(m.removed, id)
	if blocklist {
		m.blocklisted = append(m.blocklisted, id)
	}
	return nil
}

func newTestEngine(t *testing.T, client *fakeClient, manager *fakeManager, cfg Config) (*Engine, *models.StrikeStore) {
	t.Helper()
	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store := models.NewStrikeStore(db, 2*time.Hour)
	managers := []Manager{manager}
	applicator := NewApplicator(client, managers, store, cfg.Rules, "arrbiter-obsolete", false)
	return New(cfg, client, managers, store, applicator), store
}

func slowCycleConfig(protectedTags, privateTags []string) Config {
	cfg := DefaultConfig()
	cfg.Threshold = 3
	cfg.Thresholds = Thresholds{
		MinSpeedKB: 100,
		CheckSlow:  true,
	}
	cfg.Rules = NewExemptionRules(protectedTags, privateTags)
	return cfg
}

func slowTorrent(hash, tags string) qbt.Torrent {
	return qbt.Torrent{
		Hash:       hash,
		Name:       "Some.Show.S01E01.1080p.WEB-DL-GRP",
		State:      qbt.TorrentStateDownloading,
		DlSpeed:    50 * 1024,
		Progress:   0.4,
		TimeActive: 3600,
		Tags:       tags,
	}
}

func TestEngine_PublicSlowItemRemovedOnThirdCycle(t *testing.T) {
	const hash = "aaaa1111"
	client := newFakeClient(slowTorrent(hash, ""))
	manager := &fakeManager{
		name:  "sonarr-main",
		queue: []arr.QueueItem{{ID: 7, SeriesID: 12, DownloadID: hash, Title: "Some Show"}},
	}
	eng, store := newTestEngine(t, client, manager, slowCycleConfig(nil, nil))
	ctx := context.Background()

	for cycle := 1; cycle <= 2; cycle++ {
		report, err := eng.RunCycle(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, report.StrikesIssued, "cycle %d", cycle)
		assert.Empty(t, client.removed, "cycle %d", cycle)
	}

	report, err := eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ActionsApplied[ActionRemoveAndBlacklist])
	assert.Equal(t, []string{hash}, client.removed)
	assert.Equal(t, []int64{7}, manager.blocklisted)

	_, err = store.Get(ctx, hash)
	assert.ErrorIs(t, err, models.ErrNoStrikeRecord, "ledger cleared after terminal action")
}

func TestEngine_PrivateSlowItemTaggedNeverRemoved(t *testing.T) {
	const hash = "bbbb2222"
	client := newFakeClient(slowTorrent(hash, "private"))
	manager := &fakeManager{
		name:  "sonarr-main",
		queue: []arr.QueueItem{{ID: 7, SeriesID: 12, DownloadID: hash}},
	}
	eng, _ := newTestEngine(t, client, manager, slowCycleConfig(nil, []string{"private"}))
	ctx := context.Background()

	for cycle := 1; cycle <= 3; cycle++ {
		_, err := eng.RunCycle(ctx)
		require.NoError(t, err)
	}

	assert.Empty(t, client.removed, "private items are never removed")
	assert.Empty(t, manager.blocklisted)
	assert.Equal(t, []string{"arrbiter-obsolete"}, client.tagged[hash])
}

func TestEngine_ProtectedAndPrivateItemAlwaysNoOp(t *testing.T) {
	const hash = "cccc3333"
	torrent := slowTorrent(hash, "keep, private")
	torrent.State = qbt.TorrentStateError
	client := newFakeClient(torrent)
	manager := &fakeManager{name: "sonarr-main"}

	cfg := slowCycleConfig([]string{"keep"}, []string{"private"})
	cfg.Thresholds.CheckFailed = true
	cfg.Thresholds.CheckOrphaned = true
	eng, _ := newTestEngine(t, client, manager, cfg)
	ctx := context.Background()

	for cycle := 1; cycle <= 6; cycle++ {
		report, err := eng.RunCycle(ctx)
		require.NoError(t, err)
		assert.Empty(t, report.ActionsApplied)
	}

	assert.Empty(t, client.removed)
	assert.Empty(t, client.tagged)
}

func TestEngine_HealthyItemClearsLedger(t *testing.T) {
	const hash = "dddd4444"
	client := newFakeClient(slowTorrent(hash, ""))
	manager := &fakeManager{
		name:  "sonarr-main",
		queue: []arr.QueueItem{{ID: 7, SeriesID: 12, DownloadID: hash}},
	}
	eng, store := newTestEngine(t, client, manager, slowCycleConfig(nil, nil))
	ctx := context.Background()

	_, err := eng.RunCycle(ctx)
	require.NoError(t, err)
	record, err := store.Get(ctx, hash)
	require.NoError(t, err)
	assert.Equal(t, 1, record.Count)

	// The transfer picks up speed.
	client.mu.Lock()
	torrent := client.torrents[hash]
	torrent.DlSpeed = 500 * 1024
	client.torrents[hash] = torrent
	client.mu.Unlock()

	report, err := eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Healthy)

	_, err = store.Get(ctx, hash)
	assert.ErrorIs(t, err, models.ErrNoStrikeRecord)
}

func TestEngine_DryRunSimulatesWithoutExecuting(t *testing.T) {
	const hash = "abab7777"
	client := newFakeClient(slowTorrent(hash, ""))
	manager := &fakeManager{
		name:  "sonarr-main",
		queue: []arr.QueueItem{{ID: 7, SeriesID: 12, DownloadID: hash, Title: "Some Show"}},
	}

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := models.NewStrikeStore(db, 2*time.Hour)

	cfg := slowCycleConfig(nil, nil)
	applicator := NewApplicator(client, []Manager{manager}, store, cfg.Rules, "arrbiter-obsolete", true)
	eng := New(cfg, client, []Manager{manager}, store, applicator)
	ctx := context.Background()

	var report *CycleReport
	for cycle := 1; cycle <= 3; cycle++ {
		report, err = eng.RunCycle(ctx)
		require.NoError(t, err)
	}

	assert.Empty(t, report.ActionsApplied, "a simulated decision never counts as applied")
	assert.Equal(t, 1, report.ActionsSimulated[ActionRemoveAndBlacklist])
	assert.Empty(t, client.removed)
	assert.Empty(t, manager.blocklisted)
	_, err = store.Get(ctx, hash)
	assert.NoError(t, err, "ledger entry survives a simulated action")

	// Switching dry run off executes the pending decision on the next cycle.
	applicator.SetDryRun(false)
	report, err = eng.RunCycle(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.ActionsApplied[ActionRemoveAndBlacklist])
	assert.Empty(t, report.ActionsSimulated)
	assert.Equal(t, []string{hash}, client.removed)
	assert.Equal(t, []int64{7}, manager.blocklisted)
}

func TestApplicator_ConflictWhenItemBecomesProtected(t *testing.T) {
	const hash = "eeee5555"
	// The snapshot saw a public item, but by execution time an operator
	// tagged it protected.
	client := newFakeClient(slowTorrent(hash, "keep"))
	manager := &fakeManager{name: "sonarr-main"}
	rules := NewExemptionRules([]string{"keep"}, nil)

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := models.NewStrikeStore(db, 2*time.Hour)

	ctx := context.Background()
	_, err = store.Observe(ctx, hash, models.IssueSlow, time.Now())
	require.NoError(t, err)

	applicator := NewApplicator(client, []Manager{manager}, store, rules, "arrbiter-obsolete", false)
	item := TrackedItem{Hash: hash, Name: "test", Tags: nil} // snapshot predates the tag
	action := Action{Kind: ActionRemoveAndBlacklist, Identity: hash, Issue: models.IssueSlow}

	err = applicator.Apply(ctx, item, action)
	assert.ErrorIs(t, err, &ConflictError{})
	assert.Empty(t, client.removed, "conflicted action must not execute")

	_, err = store.Get(ctx, hash)
	assert.NoError(t, err, "ledger entry survives a conflicted action")
}

func TestApplicator_RefusesDestructiveActionOnProtectedItem(t *testing.T) {
	const hash = "ffff6666"
	client := newFakeClient(slowTorrent(hash, "keep"))
	rules := NewExemptionRules([]string{"keep"}, nil)

	db, err := database.NewInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	store := models.NewStrikeStore(db, 2*time.Hour)

	applicator := NewApplicator(client, nil, store, rules, "arrbiter-obsolete", false)
	item := TrackedItem{Hash: hash, Tags: []string{"keep"}}
	action := Action{Kind: ActionRemoveAndBlacklist, Identity: hash, Issue: models.IssueSlow}

	err = applicator.Apply(context.Background(), item, action)
	assert.ErrorIs(t, err, &ProtectedViolationError{})
	assert.Empty(t, client.removed)
}
