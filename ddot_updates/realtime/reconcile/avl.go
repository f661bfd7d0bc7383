// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package reconcile

import (
	"errors"
	"fmt"
	"io"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/mcsv"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/time2"
)

// Names of the AVL static payloads, as used in misses and logs.
const (
	SourceTrips  = "avl-trips"
	SourceStops  = "avl-stops"
	SourceBlocks = "avl-blocks"
)

var errTooFewColumns = errors.New("too few columns")

// Trip is a row of the AVL trips export:
// trip id, end time, end node, start node, block id.
type Trip struct {
	ID        string
	EndTime   int // seconds since the start of the transit day
	EndNode   string
	StartNode string
	BlockID   string
	Line      int
}

// Stop is a row of the AVL stops (geo nodes) export: stop id, stop name.
type Stop struct {
	ID   string
	Name string
	Line int
}

// WorkBlock is a row of the AVL work piece export: work piece id, block id.
type WorkBlock struct {
	WorkPiece string
	BlockID   string
	Line      int
}

func malformed(source string, line int, id string, reason error) miss.Miss {
	return miss.Miss{Kind: miss.MalformedRow, Source: source, SourceID: id, Line: line, Reason: reason}
}

func newRowReader(r io.Reader, source string, sink miss.Sink) *mcsv.RowReader {
	rr := mcsv.NewRowReader(r)
	rr.OnParseError = func(line int, err error) {
		sink.Record(malformed(source, line, "", err))
	}
	return rr
}

// ParseTrips reads the AVL trips export. End times may be given either
// as seconds or as "H:MM:SS". Malformed rows are reported and skipped.
func ParseTrips(r io.Reader, sink miss.Sink) ([]Trip, error) {
	var trips []Trip
	rr := newRowReader(r, SourceTrips, sink)
	for row := range rr.Iter() {
		line := rr.Line()
		if len(row) < 5 {
			sink.Record(malformed(SourceTrips, line, row[0], errTooFewColumns))
			continue
		}

		endTime, err := time2.ParseSecondsOrTime(row[1])
		if err != nil {
			sink.Record(malformed(SourceTrips, line, row[0], err))
			continue
		}

		trips = append(trips, Trip{
			ID:        row[0],
			EndTime:   endTime,
			EndNode:   row[2],
			StartNode: row[3],
			BlockID:   row[4],
			Line:      line,
		})
	}
	if err := rr.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", SourceTrips, err)
	}
	return trips, nil
}

func ParseStops(r io.Reader, sink miss.Sink) ([]Stop, error) {
	var stops []Stop
	rr := newRowReader(r, SourceStops, sink)
	for row := range rr.Iter() {
		if len(row) < 2 {
			sink.Record(malformed(SourceStops, rr.Line(), row[0], errTooFewColumns))
			continue
		}
		stops = append(stops, Stop{ID: row[0], Name: row[1], Line: rr.Line()})
	}
	if err := rr.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", SourceStops, err)
	}
	return stops, nil
}

func ParseWorkBlocks(r io.Reader, sink miss.Sink) ([]WorkBlock, error) {
	var blocks []WorkBlock
	rr := newRowReader(r, SourceBlocks, sink)
	for row := range rr.Iter() {
		if len(row) < 2 {
			sink.Record(malformed(SourceBlocks, rr.Line(), row[0], errTooFewColumns))
			continue
		}
		blocks = append(blocks, WorkBlock{WorkPiece: row[0], BlockID: row[1], Line: rr.Line()})
	}
	if err := rr.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", SourceBlocks, err)
	}
	return blocks, nil
}
