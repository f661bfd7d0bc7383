// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package source

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/backoff"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

// Target receives freshly loaded schedule packages.
type Target interface {
	SetSchedule(pkg *schedules.Package) error
}

// Refresher periodically fetches the schedule and pushes every changed
// package into its Target.
type Refresher struct {
	Fetcher Fetcher
	Options schedules.Options
	Target  Target

	// Period between successful fetches; defaults to 24h.
	Period time.Duration

	// RetryDelay is the first delay after a failed fetch; defaults to 1 minute.
	RetryDelay time.Duration

	// OnFetch, if set, is called after every fetch attempt.
	OnFetch func(err error)

	Clock Clock
}

// Refresh fetches the schedule once. It reports whether a new
// package was pushed into the target.
func (r *Refresher) Refresh(ctx context.Context) (updated bool, err error) {
	pkg, err := r.Fetcher.Fetch(ctx, r.Options)
	if err == nil && pkg != nil {
		err = r.Target.SetSchedule(pkg)
		updated = err == nil
	}
	if r.OnFetch != nil {
		r.OnFetch(err)
	}
	return
}

// Run calls Refresh until ctx is done. Failed fetches are retried
// with an increasing delay. Run returns nil once the context is cancelled.
func (r *Refresher) Run(ctx context.Context) error {
	b := backoff.Backoff{
		Period:             r.Period,
		RetryDelay:         r.RetryDelay,
		MaxBackoffExponent: 6,
		Clock:              r.Clock,
	}
	if b.Period <= 0 {
		b.Period = 24 * time.Hour
	}
	if b.RetryDelay <= 0 {
		b.RetryDelay = time.Minute
	}

	for {
		if err := b.Wait(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			return err
		}

		b.StartRun()
		updated, err := r.Refresh(ctx)
		if ctx.Err() != nil {
			return nil
		}

		if err != nil {
			next := b.EndRun(backoff.Failure)
			slog.Error("Schedule refresh failed", "error", err, "failures", b.Failures, "next_run", next)
		} else {
			next := b.EndRun(backoff.Success)
			slog.Info("Schedule refreshed", "updated", updated, "next_run", next)
		}
	}
}
