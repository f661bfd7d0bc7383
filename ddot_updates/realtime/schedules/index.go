// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package schedules

import (
	"cmp"
	"iter"
	"log/slog"
	"maps"
	"slices"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/time2"
)

// Services maps a service_id to all trip_ids with a particular
// (start node, end node, end time) tuple.
type Services map[string][]string

// Tuple is the key under which trips are stored in an Index.
type Tuple struct {
	Start     string
	End       string
	EndTime   int
	ServiceID string
}

// Index maps start node name → end node name → end time → service_id → trip_ids.
//
// The tuple does not always identify a single trip. Colliding trips are
// kept in insertion order and counted in Duplicates.
type Index struct {
	byStart    map[string]map[string]map[int]Services
	Trips      int
	Duplicates int
	Dropped    int
}

func NewIndex() *Index {
	return &Index{byStart: make(map[string]map[string]map[int]Services)}
}

// Insert adds a trip under the provided tuple.
func (idx *Index) Insert(t Tuple, tripID string) {
	byEnd := idx.byStart[t.Start]
	if byEnd == nil {
		byEnd = make(map[string]map[int]Services)
		idx.byStart[t.Start] = byEnd
	}

	byTime := byEnd[t.End]
	if byTime == nil {
		byTime = make(map[int]Services)
		byEnd[t.End] = byTime
	}

	services := byTime[t.EndTime]
	if services == nil {
		services = make(Services)
		byTime[t.EndTime] = services
	}

	if len(services[t.ServiceID]) > 0 {
		idx.Duplicates++
	}
	services[t.ServiceID] = append(services[t.ServiceID], tripID)
	idx.Trips++
}

// Lookup probes the index level by level. On failure, the returned
// miss.Kind names the first level without a match.
func (idx *Index) Lookup(start, end string, endTime int) (Services, miss.Kind) {
	byEnd, ok := idx.byStart[start]
	if !ok {
		return nil, miss.StartNode
	}

	byTime, ok := byEnd[end]
	if !ok {
		return nil, miss.EndNode
	}

	services, ok := byTime[endTime]
	if !ok {
		return nil, miss.EndTime
	}

	return services, ""
}

// All iterates over every tuple in the index, in a deterministic order.
func (idx *Index) All() iter.Seq2[Tuple, []string] {
	return func(yield func(Tuple, []string) bool) {
		for _, start := range slices.Sorted(maps.Keys(idx.byStart)) {
			byEnd := idx.byStart[start]
			for _, end := range slices.Sorted(maps.Keys(byEnd)) {
				byTime := byEnd[end]
				for _, endTime := range slices.Sorted(maps.Keys(byTime)) {
					services := byTime[endTime]
					for _, serviceID := range slices.Sorted(maps.Keys(services)) {
						if !yield(Tuple{start, end, endTime, serviceID}, services[serviceID]) {
							return
						}
					}
				}
			}
		}
	}
}

// StopTimeRow is the subset of a stop_times.txt row needed by the IndexBuilder.
type StopTimeRow struct {
	TripID        string
	StopID        string
	Sequence      int
	ArrivalTime   string
	DepartureTime string
}

type tripEnds struct {
	start    string
	hasStart bool

	first    string
	firstSeq int
	hasFirst bool

	end     string
	endSeq  int
	endTime string
	hasEnd  bool

	serviceID string
}

// IndexBuilder folds stop_times.txt and trips.txt rows into an Index.
// Rows of different trips may be interleaved.
type IndexBuilder struct {
	// Source is used to label misses; defaults to "stop_times.txt".
	Source string
	Sink   miss.Sink

	stopNames map[string]string
	trips     map[string]*tripEnds
	order     []string
}

// NewIndexBuilder creates an IndexBuilder resolving stop_ids through
// stopNames (stop_id → stop_name).
func NewIndexBuilder(stopNames map[string]string) *IndexBuilder {
	return &IndexBuilder{
		stopNames: stopNames,
		trips:     make(map[string]*tripEnds),
	}
}

func (b *IndexBuilder) sink() miss.Sink {
	if b.Sink == nil {
		return miss.Discard
	}
	return b.Sink
}

func (b *IndexBuilder) trip(id string) *tripEnds {
	t := b.trips[id]
	if t == nil {
		t = &tripEnds{}
		b.trips[id] = t
		b.order = append(b.order, id)
	}
	return t
}

// AddStopTime records a single stop_times.txt row. The stop with sequence 1
// is the start of a trip; the stop with the greatest sequence seen so far
// is its end.
func (b *IndexBuilder) AddStopTime(row StopTimeRow) {
	t := b.trip(row.TripID)
	name := b.stopNames[row.StopID]

	if !t.hasFirst || row.Sequence < t.firstSeq {
		t.first = name
		t.firstSeq = row.Sequence
		t.hasFirst = true
	}

	if row.Sequence == 1 {
		t.start = name
		t.hasStart = true
		return
	}

	if !t.hasEnd || row.Sequence > t.endSeq {
		t.end = name
		t.endSeq = row.Sequence
		t.endTime = cmp.Or(row.ArrivalTime, row.DepartureTime)
		t.hasEnd = true
	}
}

// SetService assigns a service_id to a trip, as given by trips.txt.
// Trips without any stop_times are ignored.
func (b *IndexBuilder) SetService(tripID, serviceID string) {
	if t := b.trips[tripID]; t != nil {
		t.serviceID = serviceID
	}
}

// Finalize builds the Index. Trips which can't be indexed (missing service_id,
// unknown stops, unparsable end time, fewer than 2 stops) are reported
// to the Sink and counted in Index.Dropped.
func (b *IndexBuilder) Finalize() *Index {
	idx := NewIndex()
	source := cmp.Or(b.Source, "stop_times.txt")

	for _, tripID := range b.order {
		t := b.trips[tripID]

		start := t.start
		if !t.hasStart && t.hasEnd && t.firstSeq != t.endSeq {
			start = t.first
		}

		if t.serviceID == "" || start == "" || !t.hasEnd || t.end == "" {
			idx.Dropped++
			b.sink().Record(miss.Miss{
				Kind:     miss.MalformedRow,
				Source:   source,
				SourceID: tripID,
				Keys:     []string{start, t.end, t.serviceID},
				Reason:   errIncompleteTrip,
			})
			continue
		}

		endTime, err := time2.ParseGTFSTime(t.endTime)
		if err != nil {
			idx.Dropped++
			b.sink().Record(miss.Miss{
				Kind:     miss.MalformedRow,
				Source:   source,
				SourceID: tripID,
				Keys:     []string{start, t.end, t.endTime},
				Reason:   err,
			})
			continue
		}

		idx.Insert(Tuple{Start: start, End: t.end, EndTime: endTime, ServiceID: t.serviceID}, tripID)
	}

	slog.Info("Built schedule index", "trips", idx.Trips, "duplicates", idx.Duplicates, "dropped", idx.Dropped)
	return idx
}
