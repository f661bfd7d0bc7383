// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package backoff

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

type fixedClock struct{ now time.Time }

func (c *fixedClock) Now() time.Time { return c.now }

func TestBackoffSchedule(t *testing.T) {
	start := time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC)
	clk := &fixedClock{now: start}
	b := Backoff{Period: time.Hour, RetryDelay: 10 * time.Second, MaxBackoffExponent: 3, Clock: clk}

	b.StartRun()
	assert.Equal(t, start.Add(time.Hour), b.EndRun(Success))

	expected := []time.Duration{10 * time.Second, 20 * time.Second, 40 * time.Second, 80 * time.Second, 80 * time.Second}
	for i, delay := range expected {
		b.StartRun()
		assert.Equal(t, start.Add(delay), b.EndRun(Failure), "failure %d", i+1)
	}
	assert.Equal(t, uint(5), b.Failures)

	b.StartRun()
	b.EndRun(Success)
	assert.Equal(t, uint(0), b.Failures)
}

func TestBackoffNeverExceedsPeriod(t *testing.T) {
	clk := &fixedClock{now: time.Unix(0, 0)}
	b := Backoff{Period: time.Minute, RetryDelay: 10 * time.Second, Clock: clk}

	for range 10 {
		b.StartRun()
		b.EndRun(Failure)
	}
	assert.Equal(t, clk.now.Add(time.Minute), b.NextRun())
}

func TestBackoffWait(t *testing.T) {
	var b Backoff
	assert.NoError(t, b.Wait(context.Background()), "first run is due immediately")

	b.Period = time.Hour
	b.StartRun()
	b.EndRun(Success)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, b.Wait(ctx), context.Canceled)
}
