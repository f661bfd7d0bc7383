// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package reconcile

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

func testPackage() *schedules.Package {
	idx := schedules.NewIndex()
	idx.Insert(schedules.Tuple{Start: "Main St", End: "Oak Ave", EndTime: 29700, ServiceID: "WKDY"}, "T1")
	idx.Insert(schedules.Tuple{Start: "Main St", End: "Oak Ave", EndTime: 29700, ServiceID: "SAT"}, "T1S")
	idx.Insert(schedules.Tuple{Start: "Oak Ave", End: "Main St", EndTime: 31500, ServiceID: "WKDY"}, "T2")

	return &schedules.Package{
		Index:     idx,
		StopNames: schedules.StopNames{"main st": "S1", "oak ave": "S3"},
		Calendar:  schedules.LegacyCalendar(time.UTC),
	}
}

func TestTripMatcher(t *testing.T) {
	var collected miss.Collect
	tm := NewTripMatcher(testPackage().Index, &collected)

	partial := tm.Add(Trip{ID: "42", StartNode: "Main St", EndNode: "Oak Ave", EndTime: 29700, BlockID: "7"})
	assert.Contains(t, partial, "42")

	tm.Add(Trip{ID: "43", StartNode: "Nowhere", EndNode: "Oak Ave", EndTime: 29700})
	tm.Add(Trip{ID: "44", StartNode: "Main St", EndNode: "Nowhere", EndTime: 29700})
	tm.Add(Trip{ID: "45", StartNode: "Main St", EndNode: "Oak Ave", EndTime: 1})

	m, counts := tm.Finalize()
	assert.Equal(t, TripIDMap{"42": {"WKDY": {"T1"}, "SAT": {"T1S"}}}, m)
	assert.Equal(t, Counts{Rows: 4, Matched: 1}, counts)
	assert.Equal(t, 3, counts.Missed())

	require.Len(t, collected.Misses, 3)
	assert.Equal(t, miss.Miss{Kind: miss.StartNode, Source: SourceTrips, SourceID: "43", Keys: []string{"Nowhere"}}, collected.Misses[0])
	assert.Equal(t, []string{"Main St", "Nowhere"}, collected.Misses[1].Keys)
	assert.Equal(t, miss.EndNode, collected.Misses[1].Kind)
	assert.Equal(t, []string{"Main St", "Oak Ave", "1"}, collected.Misses[2].Keys)
	assert.Equal(t, miss.EndTime, collected.Misses[2].Kind)
}

func TestTripMatcherCopiesIndexEntries(t *testing.T) {
	pkg := testPackage()
	tm := NewTripMatcher(pkg.Index, nil)
	tm.Add(Trip{ID: "42", StartNode: "Main St", EndNode: "Oak Ave", EndTime: 29700})
	m, _ := tm.Finalize()

	m["42"]["WKDY"][0] = "CHANGED"

	services, _ := pkg.Index.Lookup("Main St", "Oak Ave", 29700)
	assert.Equal(t, []string{"T1"}, services["WKDY"])
}

func TestStopMatcher(t *testing.T) {
	var collected miss.Collect
	sm := NewStopMatcher(testPackage().StopNames, &collected)

	sm.Add(Stop{ID: "GN1", Name: "  MAIN St "})
	sm.Add(Stop{ID: "gn2", Name: "Elm St"})
	m, counts := sm.Finalize()

	assert.Equal(t, StopIDMap{"gn1": "S1"}, m)
	assert.Equal(t, Counts{Rows: 2, Matched: 1}, counts)

	id, ok := m.Lookup("Gn1")
	assert.True(t, ok)
	assert.Equal(t, "S1", id)

	require.Len(t, collected.Misses, 1)
	assert.Equal(t, miss.StopName, collected.Misses[0].Kind)
	assert.Equal(t, []string{"elm st"}, collected.Misses[0].Keys)
}

func TestBlockAndWorkTripBuilders(t *testing.T) {
	bb := NewBlockBuilder()
	bb.Add(Trip{ID: "1", EndTime: 3660, BlockID: "B"})
	bb.Add(Trip{ID: "2", EndTime: 3600, BlockID: "B"})
	bb.Add(Trip{ID: "3", EndTime: 100, BlockID: "C"})
	blocks := bb.Finalize()

	assert.Equal(t, []BlockEntry{{"1", 3660}, {"2", 3600}}, blocks["B"])

	var collected miss.Collect
	wb := NewWorkTripBuilder(blocks, &collected)
	wb.Add(WorkBlock{WorkPiece: "W1", BlockID: "B"})
	wb.Add(WorkBlock{WorkPiece: "W2", BlockID: "Z"})
	m, counts := wb.Finalize()

	assert.Equal(t, WorkTripMap{"W1": {{"1", 3660}, {"2", 3600}}}, m)
	assert.Equal(t, Counts{Rows: 2, Matched: 1}, counts)
	assert.Equal(t, []miss.Kind{miss.Block}, collected.Kinds())
}

func TestParseTrips(t *testing.T) {
	var collected miss.Collect
	trips, err := ParseTrips(strings.NewReader(strings.Join([]string{
		"42, 08:15:00 ,Oak Ave,Main St,7",
		"43,29700,Oak Ave,Main St,7",
		"44,later,Oak Ave,Main St,7",
		"45,100",
	}, "\n")), &collected)
	require.NoError(t, err)

	assert.Equal(t, []Trip{
		{ID: "42", EndTime: 29700, EndNode: "Oak Ave", StartNode: "Main St", BlockID: "7", Line: 1},
		{ID: "43", EndTime: 29700, EndNode: "Oak Ave", StartNode: "Main St", BlockID: "7", Line: 2},
	}, trips)
	assert.Equal(t, []miss.Kind{miss.MalformedRow, miss.MalformedRow}, collected.Kinds())
	assert.Equal(t, "44", collected.Misses[0].SourceID)
	assert.Equal(t, 4, collected.Misses[1].Line)
}

func TestBuild(t *testing.T) {
	var counts miss.Counts
	now := time.Date(2024, 3, 5, 8, 0, 0, 0, time.UTC)

	m, err := Build(testPackage(), Inputs{
		Trips:  []byte("42,08:15:00,Oak Ave,Main St,7\n43,08:45:00,Main St,Oak Ave,7\n99,01:00:00,X,Y,8\n"),
		Stops:  []byte("GN1,Main St\nGN2,Elm St\n"),
		Blocks: []byte("5,7\n6,9\n"),
	}, &counts, now)
	require.NoError(t, err)

	assert.Equal(t, []string{"T1"}, m.Trips["42"]["WKDY"])
	assert.Equal(t, []string{"T2"}, m.Trips["43"]["WKDY"])
	assert.NotContains(t, m.Trips, "99")
	assert.Equal(t, []BlockEntry{{"42", 29700}, {"43", 31500}}, m.WorkTrips["5"])
	assert.NotContains(t, m.WorkTrips, "6")
	assert.Equal(t, StopIDMap{"gn1": "S1"}, m.Stops)
	assert.Equal(t, now, m.BuiltAt)

	assert.Equal(t, Summary{
		Trips:      Counts{Rows: 3, Matched: 2},
		Stops:      Counts{Rows: 2, Matched: 1},
		WorkPieces: Counts{Rows: 2, Matched: 1},
	}, m.Summary)

	assert.Equal(t, 1, counts.Get(miss.StartNode))
	assert.Equal(t, 1, counts.Get(miss.StopName))
	assert.Equal(t, 1, counts.Get(miss.Block))
}

func TestBuildWithoutSchedule(t *testing.T) {
	_, err := Build(nil, Inputs{}, nil, time.Now())
	assert.ErrorIs(t, err, ErrNoSchedule)
}
