// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package match resolves adherence records to GTFS trips
// and folds them into per-trip delays.
package match

import (
	"time"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/reconcile"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/time2"
)

const secondsPerDay = 24 * 60 * 60

// Resolver finds the trip described by an adherence record.
type Resolver struct {
	// Location is the transit agency's zone; defaults to time.UTC.
	Location *time.Location

	// ServiceDayStart is the local time of day at which a transit day starts.
	// Earlier records belong to the previous transit day.
	ServiceDayStart time.Duration
}

func (r Resolver) location() *time.Location {
	if r.Location == nil {
		return time.UTC
	}
	return r.Location
}

// ServiceDate returns the transit day on which the instant falls.
func (r Resolver) ServiceDate(t time.Time) time2.Date {
	t = t.In(r.location())
	d := time2.DateOf(t)
	if time.Duration(time2.SecondsOfDay(t))*time.Second < r.ServiceDayStart {
		d = d.Previous()
	}
	return d
}

// SecondsOfServiceDay returns seconds since the midnight starting the
// transit day of the instant. The result exceeds 86400 for instants
// after midnight, but before ServiceDayStart.
func (r Resolver) SecondsOfServiceDay(t time.Time) int {
	sec := time2.SecondsOfDay(t.In(r.location()))
	if time.Duration(sec)*time.Second < r.ServiceDayStart {
		sec += secondsPerDay
	}
	return sec
}

// ActiveTrip picks, among the trips of a work piece, the trip ending the
// soonest, but not before sec. Trips ending at the same time are tie-broken
// by their order in the block.
func ActiveTrip(candidates []reconcile.BlockEntry, sec int) (reconcile.BlockEntry, bool) {
	best := -1
	for i, c := range candidates {
		if c.EndTime < sec {
			continue
		}
		if best < 0 || c.EndTime < candidates[best].EndTime {
			best = i
		}
	}
	if best < 0 {
		return reconcile.BlockEntry{}, false
	}
	return candidates[best], true
}

// Resolution is the outcome of resolving a single adherence record.
type Resolution struct {
	AVLTripID string
	TripID    string
	StopID    string

	// StopMiss is set when the record names an AVL stop without a GTFS
	// counterpart. The trip is still resolved.
	StopMiss *miss.Miss
}

// Resolve looks up the GTFS trip of a record, given the lookup tables and the
// service_id active for the batch. On failure, a Miss describing the first
// failed lookup is returned.
func (r Resolver) Resolve(m *reconcile.Maps, serviceID string, a Adherence) (Resolution, *miss.Miss) {
	fail := func(kind miss.Kind, keys ...string) (Resolution, *miss.Miss) {
		return Resolution{}, &miss.Miss{
			Kind:     kind,
			Source:   SourceAdherence,
			SourceID: a.RecordID,
			Keys:     keys,
			Line:     a.Line,
		}
	}

	candidates, ok := m.WorkTrips[a.WorkPiece]
	if !ok {
		return fail(miss.WorkPiece, a.WorkPiece)
	}

	sec := r.SecondsOfServiceDay(a.Timestamp)
	active, ok := ActiveTrip(candidates, sec)
	if !ok {
		return fail(miss.NoActiveTrip, a.WorkPiece, time2.FormatGTFSTime(sec))
	}

	tripIDs := m.Trips[active.TripID][serviceID]
	if len(tripIDs) == 0 {
		return fail(miss.Service, a.WorkPiece, active.TripID, serviceID)
	}

	res := Resolution{AVLTripID: active.TripID, TripID: tripIDs[0]}
	if a.AVLStopID != "" {
		if stopID, ok := m.Stops.Lookup(a.AVLStopID); ok {
			res.StopID = stopID
		} else {
			_, res.StopMiss = fail(miss.StopName, a.AVLStopID)
		}
	}
	return res, nil
}
