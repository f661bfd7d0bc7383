// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package metrics

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/fact"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/match"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/reconcile"
)

type Collector struct {
	reg *prometheus.Registry

	Misses *prometheus.CounterVec // kind, source

	Rebuilds        *prometheus.CounterVec // result: ok|error
	RebuildDuration prometheus.Histogram
	MatchedRows     *prometheus.GaugeVec // input, outcome: matched|missed

	AdherenceBatches prometheus.Counter
	AdherenceRows    *prometheus.CounterVec // outcome: matched|malformed|missed

	SnapshotEntities  prometheus.Gauge
	SnapshotTimestamp prometheus.Gauge // unix seconds

	ScheduleFetches *prometheus.CounterVec // result: ok|error

	NATSPublished   prometheus.Counter
	NATSPublishErrs prometheus.Counter
	NATSConnected   prometheus.Gauge
	PublishDuration prometheus.Histogram
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()

	c := &Collector{
		reg: reg,
		Misses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ddot_lookup_misses_total",
			Help: "Failed AVL to GTFS lookups and malformed rows.",
		}, []string{"kind", "source"}),
		Rebuilds: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ddot_rebuilds_total",
			Help: "Rebuilds of the AVL lookup tables.",
		}, []string{"result"}),
		RebuildDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ddot_rebuild_duration_seconds",
			Help:    "Time taken to rebuild the AVL lookup tables.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}),
		MatchedRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "ddot_reconciled_rows",
			Help: "Rows of the AVL exports in the last successful rebuild.",
		}, []string{"input", "outcome"}),
		AdherenceBatches: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ddot_adherence_batches_total",
			Help: "Processed adherence batches.",
		}),
		AdherenceRows: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ddot_adherence_rows_total",
			Help: "Processed adherence rows.",
		}, []string{"outcome"}),
		SnapshotEntities: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ddot_snapshot_entities",
			Help: "Entities in the published GTFS-Realtime feed.",
		}),
		SnapshotTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ddot_snapshot_timestamp_seconds",
			Help: "Header timestamp of the published GTFS-Realtime feed.",
		}),
		ScheduleFetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ddot_schedule_fetches_total",
			Help: "Attempts to fetch the GTFS schedule.",
		}, []string{"result"}),
		NATSPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ddot_nats_published_total",
			Help: "Feeds published to NATS.",
		}),
		NATSPublishErrs: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ddot_nats_publish_errors_total",
			Help: "Failed NATS publishes.",
		}),
		NATSConnected: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "ddot_nats_connected",
			Help: "1 if connected to NATS.",
		}),
		PublishDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ddot_nats_publish_duration_seconds",
			Help:    "Time taken to publish a feed to NATS.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15),
		}),
	}

	reg.MustRegister(
		c.Misses,
		c.Rebuilds, c.RebuildDuration, c.MatchedRows,
		c.AdherenceBatches, c.AdherenceRows,
		c.SnapshotEntities, c.SnapshotTimestamp,
		c.ScheduleFetches,
		c.NATSPublished, c.NATSPublishErrs, c.NATSConnected, c.PublishDuration,
	)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.reg, promhttp.HandlerOpts{})
}

// Record implements miss.Sink.
func (c *Collector) Record(m miss.Miss) {
	c.Misses.WithLabelValues(string(m.Kind), m.Source).Inc()
}

// ObserveRebuild has the signature of static.RebuildFunc.
func (c *Collector) ObserveRebuild(m *reconcile.Maps, took time.Duration, err error) {
	c.RebuildDuration.Observe(took.Seconds())
	if err != nil {
		c.Rebuilds.WithLabelValues("error").Inc()
		return
	}
	c.Rebuilds.WithLabelValues("ok").Inc()

	for input, counts := range map[string]reconcile.Counts{
		reconcile.SourceTrips:  m.Summary.Trips,
		reconcile.SourceStops:  m.Summary.Stops,
		reconcile.SourceBlocks: m.Summary.WorkPieces,
	} {
		c.MatchedRows.WithLabelValues(input, "matched").Set(float64(counts.Matched))
		c.MatchedRows.WithLabelValues(input, "missed").Set(float64(counts.Missed()))
	}
}

func (c *Collector) ObserveBatch(s match.Stats) {
	c.AdherenceBatches.Inc()
	c.AdherenceRows.WithLabelValues("matched").Add(float64(s.Matched))
	c.AdherenceRows.WithLabelValues("malformed").Add(float64(s.Malformed))
	c.AdherenceRows.WithLabelValues("missed").Add(float64(s.WorkPiece + s.NoActiveTrip + s.Service))
}

func (c *Collector) ObserveFetch(err error) {
	if err != nil {
		c.ScheduleFetches.WithLabelValues("error").Inc()
	} else {
		c.ScheduleFetches.WithLabelValues("ok").Inc()
	}
}

// Notify implements fact.Subscriber.
func (c *Collector) Notify(_ context.Context, s *fact.Snapshot) error {
	c.SnapshotEntities.Set(float64(s.Entities()))
	c.SnapshotTimestamp.Set(float64(s.Timestamp.Unix()))
	return nil
}

func (c *Collector) String() string { return "metrics" }

func (c *Collector) NATSPublishedInc()              { c.NATSPublished.Inc() }
func (c *Collector) NATSPublishErrInc()             { c.NATSPublishErrs.Inc() }
func (c *Collector) PublishObserve(d time.Duration) { c.PublishDuration.Observe(d.Seconds()) }

func (c *Collector) NATSSetConnected(connected bool) {
	if connected {
		c.NATSConnected.Set(1)
	} else {
		c.NATSConnected.Set(0)
	}
}
