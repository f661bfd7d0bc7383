// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package match

import (
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/MKuranowski/go-extra-lib/container/set"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/reconcile"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

// Delay is the latest known delay of a single GTFS trip.
type Delay struct {
	Seconds   int32     `json:"delay"`
	StopID    string    `json:"stop_id,omitempty"`
	AVLTripID string    `json:"avl_trip_id"`
	Timestamp time.Time `json:"timestamp"`
}

// DelayMap maps GTFS trip_id to its Delay.
type DelayMap map[string]Delay

// Stats summarizes a single adherence batch.
type Stats struct {
	BatchID      string `json:"batch_id"`
	ServiceID    string `json:"service_id"`
	Rows         int    `json:"rows"`
	Malformed    int    `json:"malformed"`
	Matched      int    `json:"matched"`
	WorkPiece    int    `json:"work_piece_misses"`
	NoActiveTrip int    `json:"no_active_trip_misses"`
	Service      int    `json:"service_misses"`
	Stop         int    `json:"stop_misses"`
	Trips        int    `json:"trips"`
}

func (s *Stats) count(kind miss.Kind) {
	switch kind {
	case miss.WorkPiece:
		s.WorkPiece++
	case miss.NoActiveTrip:
		s.NoActiveTrip++
	case miss.Service:
		s.Service++
	}
}

// Aggregator folds adherence batches into a DelayMap.
//
// With Accumulate unset, every batch starts from an empty map. Otherwise
// delays of trips absent from a batch are carried over from earlier batches.
type Aggregator struct {
	Resolver   Resolver
	Accumulate bool

	// Sink receives misses of every batch; defaults to miss.Log.
	Sink miss.Sink

	mu     sync.Mutex
	delays DelayMap
}

func (ag *Aggregator) sink() miss.Sink {
	if ag.Sink == nil {
		return miss.Log{}
	}
	return ag.Sink
}

// Apply resolves every record of a batch and returns the resulting delays.
// The returned map is owned by the caller. Concurrent calls are serialized.
func (ag *Aggregator) Apply(b *Batch, m *reconcile.Maps, cal *schedules.Calendar) (DelayMap, Stats) {
	ag.mu.Lock()
	defer ag.mu.Unlock()

	stats := Stats{BatchID: b.ID, Rows: len(b.Records) + b.Malformed, Malformed: b.Malformed}
	if cal != nil {
		stats.ServiceID = cal.ResolveDate(ag.Resolver.ServiceDate(b.Received))
	}

	var delays DelayMap
	if ag.Accumulate && ag.delays != nil {
		delays = ag.delays
	} else {
		delays = make(DelayMap, len(b.Records))
	}

	sink := ag.sink()
	seen := make(set.Set[string], len(b.Records))
	for _, a := range b.Records {
		res, failure := ag.Resolver.Resolve(m, stats.ServiceID, a)
		if failure != nil {
			stats.count(failure.Kind)
			sink.Record(*failure)
			continue
		}

		if res.StopMiss != nil {
			stats.Stop++
			sink.Record(*res.StopMiss)
		}

		if _, dup := seen[res.TripID]; dup {
			slog.Debug("Trip reported more than once in a batch", "batch", b.ID, "trip_id", res.TripID, "record", a.RecordID)
		}
		seen.Add(res.TripID)

		delays[res.TripID] = Delay{
			Seconds:   a.DelaySeconds(),
			StopID:    res.StopID,
			AVLTripID: res.AVLTripID,
			Timestamp: a.Timestamp,
		}
		stats.Matched++
	}

	stats.Trips = len(delays)
	if ag.Accumulate {
		ag.delays = delays
	}

	slog.Info("Processed adherence batch", "stats", stats)
	return maps.Clone(delays), stats
}

// Reset drops all accumulated delays.
func (ag *Aggregator) Reset() {
	ag.mu.Lock()
	defer ag.mu.Unlock()
	ag.delays = nil
}
