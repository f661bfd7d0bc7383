// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package reconcile

import (
	"log/slog"
	"strings"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

// StopIDMap maps a lower-cased AVL stop id to a GTFS stop_id.
type StopIDMap map[string]string

// Lookup normalizes the AVL stop id before looking it up.
func (m StopIDMap) Lookup(avlStopID string) (string, bool) {
	id, ok := m[normalizeID(avlStopID)]
	return id, ok
}

func normalizeID(id string) string {
	return strings.ToLower(strings.TrimSpace(id))
}

// StopMatcher matches AVL stops against GTFS stops by name.
type StopMatcher struct {
	names  schedules.StopNames
	sink   miss.Sink
	m      StopIDMap
	counts Counts
}

func NewStopMatcher(names schedules.StopNames, sink miss.Sink) *StopMatcher {
	if sink == nil {
		sink = miss.Discard
	}
	return &StopMatcher{names: names, sink: sink, m: make(StopIDMap)}
}

// Add matches a single AVL stop and returns the map built so far.
func (sm *StopMatcher) Add(s Stop) StopIDMap {
	sm.counts.Rows++

	gtfsID, ok := sm.names.Lookup(s.Name)
	if !ok {
		sm.sink.Record(miss.Miss{
			Kind:     miss.StopName,
			Source:   SourceStops,
			SourceID: s.ID,
			Keys:     []string{schedules.NormalizeName(s.Name)},
			Line:     s.Line,
		})
		return sm.m
	}

	sm.m[normalizeID(s.ID)] = gtfsID
	sm.counts.Matched++
	return sm.m
}

func (sm *StopMatcher) Finalize() (StopIDMap, Counts) {
	slog.Info("Processed AVL stops", "matched", sm.counts.Matched, "missed", sm.counts.Missed())
	m := sm.m
	sm.m = nil
	return m, sm.counts
}
