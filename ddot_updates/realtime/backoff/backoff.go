// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package backoff

import (
	"context"
	"time"

	"github.com/MKuranowski/go-extra-lib/clock"
)

const (
	Success = true
	Failure = false
)

type Clock interface {
	Now() time.Time
}

// Backoff schedules a periodic job. After a success the next run is one
// Period after the start of the last one; after consecutive failures
// the delay starts at RetryDelay and doubles, but never exceeds Period.
type Backoff struct {
	Period             time.Duration
	RetryDelay         time.Duration
	Failures           uint
	MaxBackoffExponent uint

	// Clock defaults to clock.System.
	Clock Clock

	lastRun time.Time
	nextRun time.Time
}

func (b *Backoff) now() time.Time {
	if b.Clock == nil {
		return clock.System.Now()
	}
	return b.Clock.Now()
}

func (b *Backoff) StartRun() {
	b.lastRun = b.now()
}

func (b *Backoff) EndRun(success bool) time.Time {
	if success {
		b.Failures = 0
		b.nextRun = b.lastRun.Add(b.Period)
	} else {
		b.Failures++
		b.nextRun = b.lastRun.Add(b.retryDelay())
	}
	return b.nextRun
}

func (b *Backoff) retryDelay() time.Duration {
	base := b.RetryDelay
	if base <= 0 {
		base = time.Second
	}

	exponent := b.Failures - 1
	if b.MaxBackoffExponent > 0 && exponent > b.MaxBackoffExponent {
		exponent = b.MaxBackoffExponent
	}

	delay := base
	for range exponent {
		delay *= 2
		if b.Period > 0 && delay >= b.Period {
			return b.Period
		}
	}
	if b.Period > 0 && delay > b.Period {
		return b.Period
	}
	return delay
}

// NextRun returns the moment at which Wait returns.
func (b *Backoff) NextRun() time.Time {
	return b.nextRun
}

// Wait blocks until the next run is due, or the context is done.
func (b *Backoff) Wait(ctx context.Context) error {
	d := b.nextRun.Sub(b.now())
	if d <= 0 {
		return ctx.Err()
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
