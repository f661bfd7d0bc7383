// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/fact"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/match"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/reconcile"
)

func TestCollectorRecordsMisses(t *testing.T) {
	c := NewCollector()
	var sink miss.Sink = c

	sink.Record(miss.Miss{Kind: miss.StartNode, Source: reconcile.SourceTrips})
	sink.Record(miss.Miss{Kind: miss.StartNode, Source: reconcile.SourceTrips})
	sink.Record(miss.Miss{Kind: miss.StopName, Source: reconcile.SourceStops})

	assert.Equal(t, 2.0, testutil.ToFloat64(c.Misses.WithLabelValues("start_node", "avl-trips")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Misses.WithLabelValues("stop_name", "avl-stops")))
}

func TestCollectorObserveRebuild(t *testing.T) {
	c := NewCollector()

	c.ObserveRebuild(&reconcile.Maps{Summary: reconcile.Summary{
		Trips: reconcile.Counts{Rows: 10, Matched: 7},
	}}, 20*time.Millisecond, nil)
	c.ObserveRebuild(nil, time.Millisecond, errors.New("boom"))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.Rebuilds.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.Rebuilds.WithLabelValues("error")))
	assert.Equal(t, 7.0, testutil.ToFloat64(c.MatchedRows.WithLabelValues("avl-trips", "matched")))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.MatchedRows.WithLabelValues("avl-trips", "missed")))
}

func TestCollectorObserveBatchAndSnapshot(t *testing.T) {
	c := NewCollector()
	c.ObserveBatch(match.Stats{Matched: 3, Malformed: 1, WorkPiece: 1, Service: 1})

	s, err := fact.NewSnapshot(fact.Assemble(match.DelayMap{"T1": {}, "T2": {}}, time.Unix(1709644200, 0), &fact.Counter{}))
	require.NoError(t, err)
	require.NoError(t, c.Notify(context.Background(), s))

	assert.Equal(t, 1.0, testutil.ToFloat64(c.AdherenceBatches))
	assert.Equal(t, 3.0, testutil.ToFloat64(c.AdherenceRows.WithLabelValues("matched")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.AdherenceRows.WithLabelValues("missed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(c.SnapshotEntities))
	assert.Equal(t, 1709644200.0, testutil.ToFloat64(c.SnapshotTimestamp))
}

func TestCollectorHandler(t *testing.T) {
	c := NewCollector()
	c.NATSSetConnected(true)
	c.ObserveFetch(nil)

	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Result().Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "ddot_nats_connected 1")
	assert.Contains(t, string(body), `ddot_schedule_fetches_total{result="ok"} 1`)
}
