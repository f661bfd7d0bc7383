// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package source fetches GTFS schedule packages and keeps
// the static data up to date.
package source

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	retry "github.com/cenkalti/backoff/v4"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/http2"
)

// Fetcher loads a GTFS schedule package. A nil package with a nil error
// means the package has not changed since the last successful fetch.
type Fetcher interface {
	Fetch(ctx context.Context, opts schedules.Options) (*schedules.Package, error)
}

// Local loads a zip file or a directory. The package is only reloaded
// when its modification time changes.
type Local struct {
	Path string

	modTime time.Time
}

func (l *Local) Fetch(_ context.Context, opts schedules.Options) (*schedules.Package, error) {
	stat, err := os.Stat(l.Path)
	if err != nil {
		return nil, err
	}
	if !l.modTime.IsZero() && stat.ModTime().Equal(l.modTime) {
		return nil, nil
	}

	slog.Info("Loading GTFS schedule", "path", l.Path)
	pkg, err := schedules.LoadGTFSFromPath(l.Path, opts)
	if err != nil {
		return nil, err
	}
	l.modTime = stat.ModTime()
	return pkg, nil
}

// HTTP downloads a zipped package, using conditional requests to avoid
// downloading an unchanged package. Transient failures (network errors,
// 429 and 5xx responses) are retried with an exponential backoff.
type HTTP struct {
	URL string

	// Authorization, if set, is sent as the Authorization header.
	Authorization string

	// Client defaults to http.DefaultClient.
	Client *http.Client

	// RetryInterval is the first delay between retries; defaults to 1s.
	RetryInterval time.Duration

	// MaxRetries defaults to 5.
	MaxRetries uint64

	etag         string
	lastModified string
}

func (h *HTTP) retryPolicy(ctx context.Context) retry.BackOff {
	b := retry.NewExponentialBackOff()
	b.InitialInterval = h.RetryInterval
	if b.InitialInterval <= 0 {
		b.InitialInterval = time.Second
	}
	b.MaxElapsedTime = 0

	maxRetries := h.MaxRetries
	if maxRetries == 0 {
		maxRetries = 5
	}
	return retry.WithContext(retry.WithMaxRetries(b, maxRetries), ctx)
}

func (h *HTTP) download(ctx context.Context) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, h.URL, nil)
	if err != nil {
		return nil, retry.Permanent(err)
	}
	if h.Authorization != "" {
		req.Header.Set("Authorization", h.Authorization)
	}
	if h.etag != "" {
		req.Header.Set("If-None-Match", h.etag)
	}
	if h.lastModified != "" {
		req.Header.Set("If-Modified-Since", h.lastModified)
	}

	body, resp, err := http2.GetBytes(h.Client, req)
	switch {
	case err == nil:
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return nil, retry.Permanent(err)
	case resp != nil && !http2.IsTemporary(err):
		return nil, retry.Permanent(err)
	default:
		return nil, err
	}

	if resp.StatusCode == http.StatusNotModified {
		return nil, nil
	}
	h.etag = resp.Header.Get("ETag")
	h.lastModified = resp.Header.Get("Last-Modified")
	return body, nil
}

func (h *HTTP) Fetch(ctx context.Context, opts schedules.Options) (*schedules.Package, error) {
	body, err := retry.RetryNotifyWithData(
		func() ([]byte, error) { return h.download(ctx) },
		h.retryPolicy(ctx),
		func(err error, d time.Duration) {
			slog.Warn("GTFS download failed, retrying", "error", err, "retry_in", d)
		},
	)
	if err != nil {
		return nil, err
	}
	if body == nil {
		slog.Debug("GTFS schedule not modified", "url", h.URL)
		return nil, nil
	}

	slog.Info("Loading downloaded GTFS schedule", "bytes", len(body))
	pkg, err := schedules.LoadGTFSFromBytes(body, opts)
	if err != nil {
		// Forget the validators, so that the next fetch downloads the package again.
		h.etag, h.lastModified = "", ""
		return nil, err
	}
	return pkg, nil
}

// Clock tells the current time.
type Clock interface {
	Now() time.Time
}

// TimeLimited skips fetches until at least Period has passed since the
// start of the last successful fetch.
type TimeLimited struct {
	Wrapped Fetcher
	Period  time.Duration
	Clock   Clock

	lastRun time.Time
}

func (t *TimeLimited) now() time.Time {
	if t.Clock == nil {
		return time.Now()
	}
	return t.Clock.Now()
}

func (t *TimeLimited) Fetch(ctx context.Context, opts schedules.Options) (*schedules.Package, error) {
	startTime := t.now()
	if !t.lastRun.IsZero() && startTime.Sub(t.lastRun) < t.Period {
		return nil, nil
	}

	pkg, err := t.Wrapped.Fetch(ctx, opts)
	if err == nil {
		t.lastRun = startTime
	}
	return pkg, err
}
