// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package match

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/mcsv"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/time2"
)

// SourceAdherence labels misses coming from adherence batches.
const SourceAdherence = "adherence"

var (
	errTooFewColumns = errors.New("too few columns")
	errInvalidDelay  = errors.New("invalid delay")
)

// TimestampLayouts are tried in order when parsing adherence timestamps.
// Bare times of day ("15:04:05") are handled separately.
var TimestampLayouts = []string{
	time.RFC3339,
	"2006-01-02 15:04:05",
	"01/02/2006 15:04:05",
	"1/2/2006 3:04:05 PM",
}

// Adherence is a single row of an adherence batch:
// record id, delay in minutes, work piece id, timestamp and,
// optionally, the AVL stop id.
type Adherence struct {
	RecordID     string
	DelayMinutes float64 // positive means early
	WorkPiece    string
	Timestamp    time.Time
	AVLStopID    string
	Line         int
}

// DelaySeconds converts the reported adherence into a GTFS-Realtime delay,
// where positive values mean the vehicle is late.
func (a Adherence) DelaySeconds() int32 {
	return int32(math.Round(-a.DelayMinutes * 60))
}

// Batch is a single uploaded set of adherence records.
type Batch struct {
	ID        string
	Received  time.Time
	Records   []Adherence
	Malformed int
}

// ReadBatch parses an adherence upload. Timestamps without a date are placed
// on the local date of received. Malformed rows are reported and skipped.
func ReadBatch(r io.Reader, loc *time.Location, received time.Time, sink miss.Sink) (*Batch, error) {
	if sink == nil {
		sink = miss.Discard
	}

	b := &Batch{ID: uuid.NewString(), Received: received}
	counting := miss.Tee(sink, miss.SinkFunc(func(miss.Miss) { b.Malformed++ }))

	records, err := ParseAdherence(r, loc, time2.DateOf(received.In(loc)), counting)
	if err != nil {
		return nil, err
	}
	b.Records = records
	return b, nil
}

// ParseAdherence parses header-less adherence CSV data.
func ParseAdherence(r io.Reader, loc *time.Location, date time2.Date, sink miss.Sink) ([]Adherence, error) {
	rr := mcsv.NewRowReader(r)
	rr.OnParseError = func(line int, err error) {
		sink.Record(miss.Miss{Kind: miss.MalformedRow, Source: SourceAdherence, Line: line, Reason: err})
	}

	var records []Adherence
	for row := range rr.Iter() {
		a, err := parseAdherenceRow(row, loc, date)
		if err != nil {
			sink.Record(miss.Miss{
				Kind:     miss.MalformedRow,
				Source:   SourceAdherence,
				SourceID: row[0],
				Line:     rr.Line(),
				Reason:   err,
			})
			continue
		}
		a.Line = rr.Line()
		records = append(records, a)
	}

	if err := rr.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", SourceAdherence, err)
	}
	return records, nil
}

func parseAdherenceRow(row []string, loc *time.Location, date time2.Date) (a Adherence, err error) {
	if len(row) < 4 {
		return a, errTooFewColumns
	}

	a.RecordID = row[0]
	a.WorkPiece = row[2]
	if len(row) > 4 {
		a.AVLStopID = row[4]
	}

	a.DelayMinutes, err = strconv.ParseFloat(row[1], 64)
	if err != nil || !delayInRange(a.DelayMinutes) {
		return a, fmt.Errorf("%w: %q", errInvalidDelay, row[1])
	}

	a.Timestamp, err = ParseTimestamp(row[3], loc, date)
	return a, err
}

// delayInRange reports whether the delay converts to int32 seconds.
// NaN fails both comparisons.
func delayInRange(minutes float64) bool {
	sec := math.Round(-minutes * 60)
	return sec >= math.MinInt32 && sec <= math.MaxInt32
}

// ParseTimestamp parses an adherence timestamp in the provided zone.
// A bare "H:MM:SS" time of day is placed on the provided date.
func ParseTimestamp(s string, loc *time.Location, date time2.Date) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range TimestampLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}

	sec, err := time2.ParseGTFSTime(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(int(date.Y), time.Month(date.M), int(date.D), 0, 0, sec, 0, loc), nil
}
