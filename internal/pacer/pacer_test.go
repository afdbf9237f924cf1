// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package pacer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPacerSpacesCalls(t *testing.T) {
	now := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	var slept []time.Duration

	p := New(2 * time.Second)
	p.now = func() time.Time { return now }
	p.sleep = func(_ context.Context, d time.Duration) error {
		slept = append(slept, d)
		return nil
	}

	ctx := context.Background()

	// First call goes straight through.
	require.NoError(t, p.Wait(ctx))
	assert.Empty(t, slept)

	// Second call immediately after must wait the full interval.
	require.NoError(t, p.Wait(ctx))
	require.Len(t, slept, 1)
	assert.Equal(t, 2*time.Second, slept[0])

	// Queued third call waits behind the second's reserved slot.
	require.NoError(t, p.Wait(ctx))
	require.Len(t, slept, 2)
	assert.Equal(t, 4*time.Second, slept[1])

	// After enough wall time has passed there is no wait.
	now = now.Add(time.Minute)
	require.NoError(t, p.Wait(ctx))
	assert.Len(t, slept, 2)
}

func TestPacerZeroIntervalNeverBlocks(t *testing.T) {
	p := New(0)
	p.sleep = func(context.Context, time.Duration) error {
		t.Fatal("zero-interval pacer must not sleep")
		return nil
	}
	for i := 0; i < 5; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
}

func TestPacerHonorsContextCancellation(t *testing.T) {
	p := New(time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, p.Wait(ctx), "first call reserves without sleeping")
	assert.ErrorIs(t, p.Wait(ctx), context.Canceled)
}
