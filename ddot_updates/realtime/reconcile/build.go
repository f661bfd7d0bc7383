// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package reconcile translates AVL static identifiers (trips, stops and
// work pieces) into GTFS identifiers.
package reconcile

import (
	"bytes"
	"errors"
	"time"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

var ErrNoSchedule = errors.New("no GTFS schedule loaded")

// Inputs are the raw AVL static exports.
type Inputs struct {
	Trips  []byte
	Stops  []byte
	Blocks []byte
}

// Summary reports the hit rate of every matching pass.
type Summary struct {
	Trips      Counts `json:"trips"`
	Stops      Counts `json:"stops"`
	WorkPieces Counts `json:"work_pieces"`
}

// Maps are all derived AVL → GTFS lookup tables. Maps are never modified
// after being returned from Build.
type Maps struct {
	Trips     TripIDMap
	Stops     StopIDMap
	WorkTrips WorkTripMap
	Summary   Summary
	BuiltAt   time.Time
}

// Build runs all matchers over the AVL inputs. Misses and malformed rows
// are handed to the sink and never cause an error; only unreadable inputs do.
func Build(pkg *schedules.Package, in Inputs, sink miss.Sink, now time.Time) (*Maps, error) {
	if pkg == nil || pkg.Index == nil {
		return nil, ErrNoSchedule
	}
	if sink == nil {
		sink = miss.Discard
	}

	trips, err := ParseTrips(bytes.NewReader(in.Trips), sink)
	if err != nil {
		return nil, err
	}

	stops, err := ParseStops(bytes.NewReader(in.Stops), sink)
	if err != nil {
		return nil, err
	}

	workBlocks, err := ParseWorkBlocks(bytes.NewReader(in.Blocks), sink)
	if err != nil {
		return nil, err
	}

	m := &Maps{BuiltAt: now}

	tripMatcher := NewTripMatcher(pkg.Index, sink)
	blockBuilder := NewBlockBuilder()
	for _, t := range trips {
		tripMatcher.Add(t)
		blockBuilder.Add(t)
	}
	m.Trips, m.Summary.Trips = tripMatcher.Finalize()

	workBuilder := NewWorkTripBuilder(blockBuilder.Finalize(), sink)
	for _, w := range workBlocks {
		workBuilder.Add(w)
	}
	m.WorkTrips, m.Summary.WorkPieces = workBuilder.Finalize()

	stopMatcher := NewStopMatcher(pkg.StopNames, sink)
	for _, s := range stops {
		stopMatcher.Add(s)
	}
	m.Stops, m.Summary.Stops = stopMatcher.Finalize()

	return m, nil
}
