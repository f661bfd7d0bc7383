// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package schedules

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/mcsv"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/time2"
)

var errIncompleteTrip = errors.New("trip without service_id, known start and end stops")

type ErrGTFSInvalidValue struct {
	File, Column string
	Line         int
	Reason       error
}

func (e ErrGTFSInvalidValue) Error() string {
	if e.Reason == nil {
		return fmt.Sprintf("%s:%d: invalid %s", e.File, e.Line, e.Column)
	}
	return fmt.Sprintf("%s:%d: invalid %s: %s", e.File, e.Line, e.Column, e.Reason)
}

func (e ErrGTFSInvalidValue) Unwrap() error {
	return e.Reason
}

type ErrGTFSMissingColumn struct {
	File, Column string
}

func (e ErrGTFSMissingColumn) Error() string {
	return fmt.Sprintf("%s: missing column %s", e.File, e.Column)
}

// Options control how a GTFS package is loaded.
type Options struct {
	// Location is the reference time zone of the calendar; defaults to UTC.
	Location *time.Location

	// Sink receives skipped rows and unindexable trips; defaults to miss.Discard.
	Sink miss.Sink
}

func (o Options) sink() miss.Sink {
	if o.Sink == nil {
		return miss.Discard
	}
	return o.Sink
}

func LoadGTFSFromPath(path string, opts Options) (*Package, error) {
	stat, err := os.Stat(path)
	if err != nil {
		return nil, err
	}

	if stat.IsDir() {
		return LoadGTFS(os.DirFS(path), opts)
	}

	arch, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer arch.Close()

	return LoadGTFS(arch, opts)
}

// LoadGTFSFromBytes loads a zipped GTFS package held in memory.
func LoadGTFSFromBytes(data []byte, opts Options) (*Package, error) {
	arch, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	return LoadGTFS(arch, opts)
}

func LoadGTFS(gtfs fs.FS, opts Options) (p *Package, err error) {
	p = new(Package)

	// 1. Load stops.txt
	var stopIDToName map[string]string
	err = withFile(gtfs, "stops.txt", true, func(f io.Reader) (err error) {
		p.StopNames, stopIDToName, err = LoadGTFSStops(f)
		return
	})
	if err != nil {
		return nil, err
	}

	// 2. Load stop_times.txt
	builder := NewIndexBuilder(stopIDToName)
	builder.Sink = opts.Sink
	err = withFile(gtfs, "stop_times.txt", true, func(f io.Reader) error {
		return LoadGTFSStopTimes(f, builder, opts.sink())
	})
	if err != nil {
		return nil, err
	}

	// 3. Load trips.txt
	err = withFile(gtfs, "trips.txt", true, func(f io.Reader) error {
		return LoadGTFSTrips(f, builder)
	})
	if err != nil {
		return nil, err
	}
	p.Index = builder.Finalize()

	// 4. Load calendar.txt, falling back to the day sequences
	p.Calendar = NewCalendar(opts.Location)
	hasCalendar := false
	err = withFile(gtfs, "calendar.txt", false, func(f io.Reader) error {
		hasCalendar = true
		return LoadGTFSCalendar(f, p.Calendar)
	})
	if err != nil {
		return nil, err
	}
	if !hasCalendar {
		slog.Info("calendar.txt does not exist, using default day sequences")
		p.Calendar = LegacyCalendar(opts.Location)
	}

	// 5. Load calendar_dates.txt
	err = withFile(gtfs, "calendar_dates.txt", false, func(f io.Reader) error {
		return LoadGTFSCalendarDates(f, p.Calendar)
	})
	if err != nil {
		return nil, err
	}

	return
}

func withFile(gtfs fs.FS, name string, required bool, fn func(io.Reader) error) error {
	f, err := gtfs.Open(name)
	if errors.Is(err, fs.ErrNotExist) && !required {
		return nil
	} else if err != nil {
		return err
	}
	defer f.Close()
	slog.Debug("Loading GTFS file", "file", name)
	return fn(f)
}

func requireColumns(r *mcsv.Reader, file string, columns ...string) error {
	for _, col := range columns {
		if !r.HasColumn(col) {
			return ErrGTFSMissingColumn{file, col}
		}
	}
	return nil
}

// LoadGTFSStops returns normalized stop_name → stop_id and stop_id → stop_name
// mappings. When stop names collide, the last stop wins.
func LoadGTFSStops(stops io.Reader) (StopNames, map[string]string, error) {
	names := make(StopNames)
	idToName := make(map[string]string)

	r := mcsv.NewReader(stops)
	first := true
	for row := range r.Iter() {
		if first {
			if err := requireColumns(r, "stops.txt", "stop_id", "stop_name"); err != nil {
				return nil, nil, err
			}
			first = false
		}

		stopID := row["stop_id"]
		if stopID == "" {
			return nil, nil, ErrGTFSInvalidValue{"stops.txt", "stop_id", r.Line(), nil}
		}

		idToName[stopID] = row["stop_name"]
		if key := NormalizeName(row["stop_name"]); key != "" {
			names[key] = stopID
		}
	}
	if err := r.Err(); err != nil {
		return nil, nil, fmt.Errorf("stops.txt: %w", err)
	}
	return names, idToName, nil
}

// LoadGTFSStopTimes feeds stop_times.txt into the builder.
// Rows with a missing trip_id or a non-numeric stop_sequence are skipped.
func LoadGTFSStopTimes(stopTimes io.Reader, b *IndexBuilder, sink miss.Sink) error {
	r := mcsv.NewReader(stopTimes)
	first := true
	for row := range r.Iter() {
		if first {
			if err := requireColumns(r, "stop_times.txt", "trip_id", "stop_id", "stop_sequence", "arrival_time"); err != nil {
				return err
			}
			first = false
		}

		st := StopTimeRow{
			TripID:        row["trip_id"],
			StopID:        row["stop_id"],
			ArrivalTime:   row["arrival_time"],
			DepartureTime: row["departure_time"],
		}
		if st.TripID == "" {
			sink.Record(invalidRow("stop_times.txt", "trip_id", r.Line(), "", nil))
			continue
		}

		var err error
		st.Sequence, err = strconv.Atoi(row["stop_sequence"])
		if err != nil {
			sink.Record(invalidRow("stop_times.txt", "stop_sequence", r.Line(), st.TripID, err))
			continue
		}

		b.AddStopTime(st)
	}

	if err := r.Err(); err != nil {
		return fmt.Errorf("stop_times.txt: %w", err)
	}
	return nil
}

// LoadGTFSTrips assigns service_ids from trips.txt to the trips in the builder.
func LoadGTFSTrips(trips io.Reader, b *IndexBuilder) error {
	r := mcsv.NewReader(trips)
	first := true
	for row := range r.Iter() {
		if first {
			if err := requireColumns(r, "trips.txt", "trip_id", "service_id"); err != nil {
				return err
			}
			first = false
		}
		b.SetService(row["trip_id"], row["service_id"])
	}

	if err := r.Err(); err != nil {
		return fmt.Errorf("trips.txt: %w", err)
	}
	return nil
}

var weekdayColumns = [7]string{
	time.Sunday:    "sunday",
	time.Monday:    "monday",
	time.Tuesday:   "tuesday",
	time.Wednesday: "wednesday",
	time.Thursday:  "thursday",
	time.Friday:    "friday",
	time.Saturday:  "saturday",
}

func LoadGTFSCalendar(calendar io.Reader, c *Calendar) error {
	r := mcsv.NewReader(calendar)
	for row := range r.Iter() {
		p := Period{ServiceID: row["service_id"]}
		if p.ServiceID == "" {
			return ErrGTFSInvalidValue{"calendar.txt", "service_id", r.Line(), nil}
		}

		if err := p.Start.UnmarshalText([]byte(row["start_date"])); err != nil {
			return ErrGTFSInvalidValue{"calendar.txt", "start_date", r.Line(), err}
		}
		if err := p.End.UnmarshalText([]byte(row["end_date"])); err != nil {
			return ErrGTFSInvalidValue{"calendar.txt", "end_date", r.Line(), err}
		}

		for day, col := range weekdayColumns {
			p.Weekdays[day] = row[col] == "1"
		}

		c.AddPeriod(p)
	}

	if err := r.Err(); err != nil {
		return fmt.Errorf("calendar.txt: %w", err)
	}
	return nil
}

func LoadGTFSCalendarDates(calendarDates io.Reader, c *Calendar) error {
	r := mcsv.NewReader(calendarDates)
	for row := range r.Iter() {
		id := row["service_id"]
		if id == "" {
			return ErrGTFSInvalidValue{"calendar_dates.txt", "service_id", r.Line(), nil}
		}

		var date time2.Date
		if err := date.UnmarshalText([]byte(row["date"])); err != nil {
			return ErrGTFSInvalidValue{"calendar_dates.txt", "date", r.Line(), err}
		}

		switch row["exception_type"] {
		case "1":
			c.AddException(id, date, true)
		case "2":
			c.AddException(id, date, false)
		default:
			return ErrGTFSInvalidValue{"calendar_dates.txt", "exception_type", r.Line(), nil}
		}
	}

	if err := r.Err(); err != nil {
		return fmt.Errorf("calendar_dates.txt: %w", err)
	}
	return nil
}

func invalidRow(file, column string, line int, id string, reason error) miss.Miss {
	return miss.Miss{
		Kind:     miss.MalformedRow,
		Source:   file,
		SourceID: id,
		Line:     line,
		Reason:   ErrGTFSInvalidValue{file, column, line, reason},
	}
}
