// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package miss describes failed joins between AVL and GTFS identifiers.
//
// A miss never aborts processing. Producers hand every miss to a Sink,
// which may log it, count it, or both.
package miss

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"
)

type Kind string

const (
	StartNode    Kind = "start_node"     // AVL trip start node not in the schedule index
	EndNode      Kind = "end_node"       // no schedule trip between the start and end node
	EndTime      Kind = "end_time"       // no schedule trip with the end time
	StopName     Kind = "stop_name"      // AVL stop name not in GTFS stops.txt
	Block        Kind = "block"          // work piece refers to an unknown block
	WorkPiece    Kind = "work_piece"     // adherence work piece not in the work-trip map
	NoActiveTrip Kind = "no_active_trip" // every candidate trip ended before the message
	Service      Kind = "service"        // AVL trip has no GTFS trip on the active service
	MalformedRow Kind = "malformed_row"  // a row could not be parsed
)

// Miss is a single failed lookup, with enough context to diagnose it.
type Miss struct {
	Kind     Kind
	Source   string   // name of the input, e.g. "avl-trips"
	SourceID string   // identifier of the failed row, e.g. the AVL trip id
	Keys     []string // attempted keys, outermost first
	Line     int      // 0 if not known
	Reason   error    // only set for MalformedRow
}

func (m Miss) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s", m.Source, m.Kind)
	if m.Line > 0 {
		fmt.Fprintf(&b, " (line %d)", m.Line)
	}
	if m.SourceID != "" {
		fmt.Fprintf(&b, " id=%q", m.SourceID)
	}
	if len(m.Keys) > 0 {
		fmt.Fprintf(&b, " keys=%q", m.Keys)
	}
	if m.Reason != nil {
		fmt.Fprintf(&b, ": %s", m.Reason)
	}
	return b.String()
}

func (m Miss) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("kind", string(m.Kind)),
		slog.String("source", m.Source),
	}
	if m.SourceID != "" {
		attrs = append(attrs, slog.String("id", m.SourceID))
	}
	if len(m.Keys) > 0 {
		attrs = append(attrs, slog.Any("keys", m.Keys))
	}
	if m.Line > 0 {
		attrs = append(attrs, slog.Int("line", m.Line))
	}
	if m.Reason != nil {
		attrs = append(attrs, slog.String("reason", m.Reason.Error()))
	}
	return slog.GroupValue(attrs...)
}

// Sink receives misses from the matching code.
type Sink interface {
	Record(Miss)
}

// SinkFunc adapts a plain function to the Sink interface.
type SinkFunc func(Miss)

func (f SinkFunc) Record(m Miss) { f(m) }

// Discard ignores all misses.
var Discard Sink = SinkFunc(func(Miss) {})

// Log is a Sink writing every miss to a slog.Logger at WARN level.
// A nil Logger uses slog.Default().
type Log struct {
	Logger *slog.Logger
}

func (l Log) Record(m Miss) {
	logger := l.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("Lookup miss", "miss", m)
}

// Tee forwards every miss to all of the provided sinks. Nil sinks are skipped.
func Tee(sinks ...Sink) Sink {
	return SinkFunc(func(m Miss) {
		for _, s := range sinks {
			if s != nil {
				s.Record(m)
			}
		}
	})
}

// Counts tallies misses by kind. Safe for concurrent use.
type Counts struct {
	mu     sync.Mutex
	byKind map[Kind]int
}

func (c *Counts) Record(m Miss) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.byKind == nil {
		c.byKind = make(map[Kind]int)
	}
	c.byKind[m.Kind]++
}

func (c *Counts) Get(k Kind) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.byKind[k]
}

func (c *Counts) Total() (n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, v := range c.byKind {
		n += v
	}
	return
}

// Collect is a Sink remembering every miss, mostly useful in tests.
type Collect struct {
	mu     sync.Mutex
	Misses []Miss
}

func (c *Collect) Record(m Miss) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Misses = append(c.Misses, m)
}

// Kinds returns the kinds of all collected misses, in order.
func (c *Collect) Kinds() []Kind {
	c.mu.Lock()
	defer c.mu.Unlock()
	kinds := make([]Kind, len(c.Misses))
	for i, m := range c.Misses {
		kinds[i] = m.Kind
	}
	return kinds
}
