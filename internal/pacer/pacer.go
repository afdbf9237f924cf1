// Copyright (c) 2026, the arrbiter contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package pacer enforces a minimum interval between successive requests to
// one backend. Trackers and arr instances ban clients that hammer them; every
// outbound adapter shares one pacer per backend.
package pacer

import (
	"context"
	"sync"
	"time"
)

// Pacer blocks callers so that consecutive Wait returns are at least
// minInterval apart. The wait blocks only the calling goroutine.
type Pacer struct {
	mu          sync.Mutex
	minInterval time.Duration
	next        time.Time
	now         func() time.Time
	sleep       func(context.Context, time.Duration) error
}

func New(minInterval time.Duration) *Pacer {
	return &Pacer{
		minInterval: minInterval,
		now:         time.Now,
		sleep:       sleepCtx,
	}
}

// Wait blocks until the backend may be called again, or until ctx is done.
// A zero or negative interval never blocks.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.minInterval <= 0 {
		return nil
	}

	p.mu.Lock()
	now := p.now()
	wait := p.next.Sub(now)
	if wait < 0 {
		wait = 0
	}
	// Reserve the slot before sleeping so concurrent callers queue up
	// behind each other instead of stampeding when the slot opens.
	start := now.Add(wait)
	p.next = start.Add(p.minInterval)
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}
	return p.sleep(ctx, wait)
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
