// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package static owns the GTFS schedule and the AVL static exports,
// and rebuilds the AVL → GTFS lookup tables whenever a complete set
// of inputs is available.
package static

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/MKuranowski/go-extra-lib/clock"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/reconcile"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

// DefaultMaxAge is how long the AVL lookup tables are trusted
// after the last joint refresh of all AVL exports.
const DefaultMaxAge = 24 * time.Hour

var (
	ErrIncomplete = errors.New("static data incomplete")
	ErrStale      = errors.New("static data stale")
)

type State string

const (
	Incomplete State = "incomplete"
	Ready      State = "ready"
	Stale      State = "stale"
)

// Input names a single static payload.
type Input string

const (
	Schedule  Input = "gtfs"
	AVLTrips  Input = reconcile.SourceTrips
	AVLStops  Input = reconcile.SourceStops
	AVLBlocks Input = reconcile.SourceBlocks
)

var avlInputs = [...]Input{AVLTrips, AVLStops, AVLBlocks}

// NotReadyError is returned by Data.Check when the lookup tables can't be used.
// Missing lists the payloads which must be supplied again.
type NotReadyError struct {
	State   State   `json:"state"`
	Missing []Input `json:"missing"`
}

func (e *NotReadyError) Error() string {
	if len(e.Missing) == 0 {
		return string(e.State)
	}
	parts := make([]string, len(e.Missing))
	for i, m := range e.Missing {
		parts[i] = string(m)
	}
	return fmt.Sprintf("static data %s: supply %s", e.State, strings.Join(parts, ", "))
}

func (e *NotReadyError) Unwrap() error {
	if e.State == Stale {
		return ErrStale
	}
	return ErrIncomplete
}

// Clock tells the current time.
type Clock interface {
	Now() time.Time
}

// RebuildFunc observes every attempted rebuild.
type RebuildFunc func(m *reconcile.Maps, took time.Duration, err error)

// Data is the static data state machine.
//
// Setters may be called concurrently. They are serialized, so exactly one
// rebuild runs per complete set of inputs. Readers never block on a rebuild:
// the lookup tables are published through an atomic pointer.
type Data struct {
	// MaxAge defaults to DefaultMaxAge.
	MaxAge time.Duration

	// Clock defaults to clock.System.
	Clock Clock

	// Sink receives misses from every rebuild; defaults to miss.Log.
	Sink miss.Sink

	// OnRebuild, if set, is called after every rebuild attempt,
	// with the lock still held.
	OnRebuild RebuildFunc

	mu       sync.Mutex
	schedule atomic.Pointer[schedules.Package]
	raw      map[Input][]byte
	received map[Input]time.Time

	maps         atomic.Pointer[reconcile.Maps]
	avlTimestamp atomic.Int64 // unix nanoseconds, 0 if never set
}

func (d *Data) clock() Clock {
	if d.Clock == nil {
		return clock.System
	}
	return d.Clock
}

func (d *Data) sink() miss.Sink {
	if d.Sink == nil {
		return miss.Log{}
	}
	return d.Sink
}

func (d *Data) maxAge() time.Duration {
	if d.MaxAge <= 0 {
		return DefaultMaxAge
	}
	return d.MaxAge
}

func (d *Data) lazyInit() {
	if d.raw == nil {
		d.raw = make(map[Input][]byte, len(avlInputs))
	}
	if d.received == nil {
		d.received = make(map[Input]time.Time, len(avlInputs))
	}
}

// SetSchedule replaces the GTFS schedule. The lookup tables are rebuilt
// immediately if all AVL exports are waiting.
func (d *Data) SetSchedule(pkg *schedules.Package) error {
	if pkg == nil || pkg.Index == nil {
		return reconcile.ErrNoSchedule
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lazyInit()

	d.schedule.Store(pkg)
	slog.Info("GTFS schedule replaced", "trips", pkg.Index.Trips, "stops", len(pkg.StopNames))
	return d.maybeRebuild()
}

func (d *Data) SetAVLTrips(data []byte) error  { return d.setAVL(AVLTrips, data) }
func (d *Data) SetAVLStops(data []byte) error  { return d.setAVL(AVLStops, data) }
func (d *Data) SetAVLBlocks(data []byte) error { return d.setAVL(AVLBlocks, data) }

func (d *Data) setAVL(input Input, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lazyInit()

	d.raw[input] = data
	d.markReceived(input)
	slog.Debug("AVL export received", "input", input, "bytes", len(data))
	return d.maybeRebuild()
}

// markReceived advances the freshness clock once every AVL export
// was received since the last advance.
func (d *Data) markReceived(input Input) {
	now := d.clock().Now()
	d.received[input] = now

	for _, in := range avlInputs {
		if _, ok := d.received[in]; !ok {
			return
		}
	}

	d.avlTimestamp.Store(now.UnixNano())
	clear(d.received)
}

// missingLocked lists the inputs which prevent a rebuild. Must hold mu.
func (d *Data) missingLocked() []Input {
	var missing []Input
	if d.schedule.Load() == nil {
		missing = append(missing, Schedule)
	}
	for _, in := range avlInputs {
		if _, ok := d.raw[in]; !ok {
			missing = append(missing, in)
		}
	}
	return missing
}

// maybeRebuild runs a rebuild if all inputs are present. Must hold mu.
//
// The raw AVL exports are dropped afterwards, even when the rebuild fails:
// the previous lookup tables stay published and the exports must be sent again.
func (d *Data) maybeRebuild() error {
	if missing := d.missingLocked(); len(missing) > 0 {
		slog.Debug("Static data still incomplete", "missing", missing)
		return nil
	}

	in := reconcile.Inputs{
		Trips:  d.raw[AVLTrips],
		Stops:  d.raw[AVLStops],
		Blocks: d.raw[AVLBlocks],
	}
	clear(d.raw)

	start := d.clock().Now()
	m, err := reconcile.Build(d.schedule.Load(), in, d.sink(), start)
	took := d.clock().Now().Sub(start)

	if d.OnRebuild != nil {
		d.OnRebuild(m, took, err)
	}

	if err != nil {
		slog.Error("Rebuilding AVL lookup tables failed, keeping previous tables", "error", err)
		return fmt.Errorf("rebuild: %w", err)
	}

	d.maps.Store(m)
	slog.Info("AVL lookup tables rebuilt", "summary", m.Summary, "took", took)
	return nil
}

// IsReady reports whether the lookup tables were built at least once.
func (d *Data) IsReady() bool {
	return d.maps.Load() != nil
}

// IsStale reports whether the last joint AVL refresh is older than MaxAge.
// Data without any joint refresh is always stale.
func (d *Data) IsStale() bool {
	ts := d.AVLTimestamp()
	if ts.IsZero() {
		return true
	}
	return d.clock().Now().Sub(ts) > d.maxAge()
}

// AVLTimestamp returns the time of the last joint refresh of all AVL exports.
func (d *Data) AVLTimestamp() time.Time {
	ns := d.avlTimestamp.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (d *Data) State() State {
	switch {
	case !d.IsReady():
		return Incomplete
	case d.IsStale():
		return Stale
	default:
		return Ready
	}
}

// Check returns a *NotReadyError unless the lookup tables may be used.
func (d *Data) Check() error {
	state := d.State()
	if state == Ready {
		return nil
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	d.lazyInit()

	var missing []Input
	if state == Stale {
		// Every AVL export must be sent again to advance the freshness clock.
		missing = append(missing, avlInputs[:]...)
	} else {
		missing = d.missingLocked()
	}
	return &NotReadyError{State: state, Missing: missing}
}

// Maps returns the current lookup tables, or nil if none were built yet.
func (d *Data) Maps() *reconcile.Maps {
	return d.maps.Load()
}

// Schedule returns the current GTFS schedule, or nil if none was set.
func (d *Data) Schedule() *schedules.Package {
	return d.schedule.Load()
}

// Status is a point-in-time description of the state machine.
type Status struct {
	State        State              `json:"state"`
	AVLTimestamp time.Time          `json:"avl_timestamp,omitzero"`
	AVLAge       string             `json:"avl_age,omitempty"`
	BuiltAt      time.Time          `json:"built_at,omitzero"`
	Summary      *reconcile.Summary `json:"summary,omitempty"`

	// Pending lists AVL exports received, but not yet folded into the tables.
	Pending []Input `json:"pending,omitempty"`
}

func (d *Data) Status() Status {
	s := Status{State: d.State(), AVLTimestamp: d.AVLTimestamp()}
	if !s.AVLTimestamp.IsZero() {
		s.AVLAge = d.clock().Now().Sub(s.AVLTimestamp).Round(time.Second).String()
	}
	if m := d.Maps(); m != nil {
		s.BuiltAt = m.BuiltAt
		s.Summary = &m.Summary
	}

	d.mu.Lock()
	for _, in := range avlInputs {
		if _, ok := d.raw[in]; ok {
			s.Pending = append(s.Pending, in)
		}
	}
	d.mu.Unlock()
	return s
}
