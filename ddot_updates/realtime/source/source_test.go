// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package source

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/http2"
)

var testFiles = map[string]string{
	"stops.txt": "stop_id,stop_name\nS1,Main St\nS2,Oak Ave\n",
	"stop_times.txt": "trip_id,arrival_time,departure_time,stop_id,stop_sequence\n" +
		"T1,08:00:00,08:00:00,S1,1\n" +
		"T1,08:15:00,08:15:00,S2,2\n",
	"trips.txt": "route_id,service_id,trip_id\nR,WKDY,T1\n",
}

func testZip(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for name, content := range testFiles {
		f, err := w.Create(name)
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, w.Close())
	return buf.Bytes()
}

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{now: time.Unix(1709644200, 0)} }

func assertTrip(t *testing.T, p *schedules.Package) {
	t.Helper()
	require.NotNil(t, p)
	services, kind := p.Index.Lookup("Main St", "Oak Ave", 8*3600+15*60)
	require.Empty(t, kind)
	assert.Equal(t, schedules.Services{"WKDY": {"T1"}}, services)
}

func TestLocalReloadsOnlyWhenModified(t *testing.T) {
	path := filepath.Join(t.TempDir(), "gtfs.zip")
	require.NoError(t, os.WriteFile(path, testZip(t), 0o644))

	l := &Local{Path: path}
	p, err := l.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assertTrip(t, p)

	p, err = l.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assert.Nil(t, p)

	later := time.Now().Add(time.Hour)
	require.NoError(t, os.Chtimes(path, later, later))
	p, err = l.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assertTrip(t, p)
}

func TestLocalMissingFile(t *testing.T) {
	l := &Local{Path: filepath.Join(t.TempDir(), "missing.zip")}
	_, err := l.Fetch(context.Background(), schedules.Options{})
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestHTTPRetriesTemporaryFailures(t *testing.T) {
	data := testZip(t)
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer xyz", r.Header.Get("Authorization"))
		if requests.Add(1) <= 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(data)
	}))
	defer srv.Close()

	h := &HTTP{URL: srv.URL, Authorization: "Bearer xyz", RetryInterval: time.Millisecond}
	p, err := h.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assertTrip(t, p)
	assert.Equal(t, int32(3), requests.Load())
}

func TestHTTPConditionalRequest(t *testing.T) {
	data := testZip(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("If-None-Match") == `"v1"` {
			w.WriteHeader(http.StatusNotModified)
			return
		}
		w.Header().Set("ETag", `"v1"`)
		w.Write(data)
	}))
	defer srv.Close()

	h := &HTTP{URL: srv.URL}
	p, err := h.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assertTrip(t, p)

	p, err = h.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assert.Nil(t, p, "unchanged package must not be reloaded")
}

func TestHTTPPermanentFailure(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	h := &HTTP{URL: srv.URL, RetryInterval: time.Millisecond}
	_, err := h.Fetch(context.Background(), schedules.Options{})

	var httpErr *http2.Error
	require.ErrorAs(t, err, &httpErr)
	assert.Equal(t, http.StatusNotFound, httpErr.StatusCode)
	assert.Equal(t, int32(1), requests.Load())
}

func TestHTTPGivesUpAfterMaxRetries(t *testing.T) {
	var requests atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	h := &HTTP{URL: srv.URL, RetryInterval: time.Millisecond, MaxRetries: 2}
	_, err := h.Fetch(context.Background(), schedules.Options{})
	assert.True(t, http2.IsTemporary(err))
	assert.Equal(t, int32(3), requests.Load())
}

type countingFetcher struct {
	calls int
	err   error
}

func (f *countingFetcher) Fetch(context.Context, schedules.Options) (*schedules.Package, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return &schedules.Package{Index: schedules.NewIndex()}, nil
}

func TestTimeLimited(t *testing.T) {
	clk := newFakeClock()
	inner := &countingFetcher{}
	f := &TimeLimited{Wrapped: inner, Period: time.Hour, Clock: clk}

	p, err := f.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assert.NotNil(t, p)

	clk.Advance(30 * time.Minute)
	p, err = f.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, 1, inner.calls)

	clk.Advance(30 * time.Minute)
	p, err = f.Fetch(context.Background(), schedules.Options{})
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Equal(t, 2, inner.calls)
}

func TestTimeLimitedRetriesAfterFailure(t *testing.T) {
	inner := &countingFetcher{err: errors.New("boom")}
	f := &TimeLimited{Wrapped: inner, Period: time.Hour, Clock: newFakeClock()}

	_, err := f.Fetch(context.Background(), schedules.Options{})
	assert.Error(t, err)
	_, err = f.Fetch(context.Background(), schedules.Options{})
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

type fakeTarget struct {
	packages []*schedules.Package
}

func (t *fakeTarget) SetSchedule(pkg *schedules.Package) error {
	t.packages = append(t.packages, pkg)
	return nil
}

func TestRefresherRefresh(t *testing.T) {
	target := &fakeTarget{}
	var fetchErrs []error
	r := &Refresher{
		Fetcher: &countingFetcher{},
		Target:  target,
		OnFetch: func(err error) { fetchErrs = append(fetchErrs, err) },
	}

	updated, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.True(t, updated)
	assert.Len(t, target.packages, 1)
	assert.Equal(t, []error{nil}, fetchErrs)
}

func TestRefresherSkipsUnchanged(t *testing.T) {
	target := &fakeTarget{}
	clk := newFakeClock()
	r := &Refresher{
		Fetcher: &TimeLimited{Wrapped: &countingFetcher{}, Period: time.Hour, Clock: clk},
		Target:  target,
	}

	_, err := r.Refresh(context.Background())
	require.NoError(t, err)
	updated, err := r.Refresh(context.Background())
	require.NoError(t, err)
	assert.False(t, updated)
	assert.Len(t, target.packages, 1)
}

func TestRefresherRunStopsOnCancel(t *testing.T) {
	target := &fakeTarget{}
	ctx, cancel := context.WithCancel(context.Background())
	r := &Refresher{
		Fetcher: &countingFetcher{},
		Target:  target,
		Period:  time.Hour,
		OnFetch: func(error) { cancel() },
	}

	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}
	assert.Len(t, target.packages, 1)
}
