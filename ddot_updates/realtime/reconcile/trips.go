// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package reconcile

import (
	"log/slog"
	"maps"
	"slices"
	"strconv"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

// TripIDMap maps an AVL trip id to GTFS trip ids, grouped by service_id.
type TripIDMap map[string]schedules.Services

// Counts summarizes a single matching pass.
type Counts struct {
	Rows    int `json:"rows"`
	Matched int `json:"matched"`
}

func (c Counts) Missed() int { return c.Rows - c.Matched }

// TripMatcher matches AVL trips against the schedule index by their
// (start node, end node, end time) tuple.
type TripMatcher struct {
	index  *schedules.Index
	sink   miss.Sink
	m      TripIDMap
	counts Counts
}

func NewTripMatcher(index *schedules.Index, sink miss.Sink) *TripMatcher {
	if sink == nil {
		sink = miss.Discard
	}
	return &TripMatcher{index: index, sink: sink, m: make(TripIDMap)}
}

// Add matches a single AVL trip and returns the map built so far.
// The returned map must not be modified, and it keeps changing
// with subsequent calls to Add.
func (tm *TripMatcher) Add(t Trip) TripIDMap {
	tm.counts.Rows++

	services, kind := tm.index.Lookup(t.StartNode, t.EndNode, t.EndTime)
	if kind != "" {
		tm.sink.Record(miss.Miss{
			Kind:     kind,
			Source:   SourceTrips,
			SourceID: t.ID,
			Keys:     attemptedKeys(kind, t),
			Line:     t.Line,
		})
		return tm.m
	}

	copied := make(schedules.Services, len(services))
	for serviceID, tripIDs := range services {
		copied[serviceID] = slices.Clone(tripIDs)
	}
	tm.m[t.ID] = copied
	tm.counts.Matched++
	return tm.m
}

// Finalize returns the complete map and the pass summary.
// The matcher must not be used afterwards.
func (tm *TripMatcher) Finalize() (TripIDMap, Counts) {
	slog.Info("Successfully mapped trips", "matched", tm.counts.Matched, "total", tm.counts.Rows)
	m := tm.m
	tm.m = nil
	return m, tm.counts
}

// attemptedKeys lists the probed keys, up to and including the first missing one.
func attemptedKeys(kind miss.Kind, t Trip) []string {
	switch kind {
	case miss.StartNode:
		return []string{t.StartNode}
	case miss.EndNode:
		return []string{t.StartNode, t.EndNode}
	default:
		return []string{t.StartNode, t.EndNode, strconv.Itoa(t.EndTime)}
	}
}

// BlockEntry is a single AVL trip operated within a block.
type BlockEntry struct {
	TripID  string `json:"trip_id"`
	EndTime int    `json:"end_time"`
}

// BlockMap maps an AVL block id to its trips, in input order.
type BlockMap map[string][]BlockEntry

// BlockBuilder groups AVL trips by their block.
type BlockBuilder struct {
	m BlockMap
}

func NewBlockBuilder() *BlockBuilder {
	return &BlockBuilder{m: make(BlockMap)}
}

// Add appends the trip to its block and returns the map built so far.
func (b *BlockBuilder) Add(t Trip) BlockMap {
	b.m[t.BlockID] = append(b.m[t.BlockID], BlockEntry{TripID: t.ID, EndTime: t.EndTime})
	return b.m
}

func (b *BlockBuilder) Finalize() BlockMap {
	m := b.m
	b.m = nil
	return m
}

// ServiceIDs returns all service_ids known for an AVL trip, sorted.
func (m TripIDMap) ServiceIDs(avlTripID string) []string {
	return slices.Sorted(maps.Keys(m[avlTripID]))
}
