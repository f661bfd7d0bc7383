// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package fact assembles GTFS-Realtime trip update feeds
// and publishes them to readers and subscribers.
package fact

import (
	"io"
	"maps"
	"slices"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/match"
)

// Sequence allocates entity identifiers.
type Sequence interface {
	Next() uint64
}

// Counter is a process-wide Sequence starting at 1. Safe for concurrent use.
type Counter struct {
	n atomic.Uint64
}

func (c *Counter) Next() uint64 {
	return c.n.Add(1)
}

// Assemble turns a DelayMap into a Container, with one trip update per trip.
// Trips are emitted in trip_id order.
func Assemble(delays match.DelayMap, timestamp time.Time, seq Sequence) *Container {
	c := &Container{
		Timestamp:   timestamp,
		TripUpdates: make([]*TripUpdate, 0, len(delays)),
	}

	for _, tripID := range slices.Sorted(maps.Keys(delays)) {
		d := delays[tripID]
		c.TripUpdates = append(c.TripUpdates, &TripUpdate{
			ID:           strconv.FormatUint(seq.Next(), 10),
			TripSelector: TripSelector{TripID: tripID},
			AVLTripID:    d.AVLTripID,
			StopTimes:    []*StopTimeUpdate{{StopID: d.StopID, ArrivalDelay: d.Seconds}},
		})
	}

	return c
}

// Snapshot is a single, immutable version of the published feed.
type Snapshot struct {
	Timestamp time.Time

	// Container is nil for feeds provided verbatim through FromFeed.
	Container *Container

	feed   *gtfs.FeedMessage
	binary []byte
}

// NewSnapshot encodes the container into a snapshot.
func NewSnapshot(c *Container) (*Snapshot, error) {
	s, err := FromFeed(c.AsGTFS())
	if err != nil {
		return nil, err
	}
	s.Timestamp = c.Timestamp
	s.Container = c
	return s, nil
}

// FromFeed wraps an already built FeedMessage. The message must not be
// modified afterwards.
func FromFeed(m *gtfs.FeedMessage) (*Snapshot, error) {
	data, err := proto.Marshal(m)
	if err != nil {
		return nil, err
	}

	s := &Snapshot{feed: m, binary: data}
	if ts := m.GetHeader().GetTimestamp(); ts != 0 {
		s.Timestamp = time.Unix(int64(ts), 0)
	}
	return s, nil
}

// Feed returns the decoded FeedMessage. It must not be modified.
func (s *Snapshot) Feed() *gtfs.FeedMessage { return s.feed }

// Bytes returns the binary protobuf encoding. It must not be modified.
func (s *Snapshot) Bytes() []byte { return s.binary }

func (s *Snapshot) Entities() int { return len(s.feed.GetEntity()) }

func (s *Snapshot) DumpGTFS(w io.Writer, humanReadable bool) error {
	if !humanReadable {
		_, err := w.Write(s.binary)
		return err
	}
	return DumpGTFS(w, s.feed, HumanReadable)
}

// DumpJSON writes the container, or for verbatim feeds,
// the protobuf JSON mapping of the FeedMessage.
func (s *Snapshot) DumpJSON(w io.Writer, humanReadable bool) error {
	if s.Container != nil {
		return s.Container.DumpJSON(w, humanReadable)
	}

	opts := protojson.MarshalOptions{}
	if humanReadable {
		opts.Indent = "\t"
	}
	data, err := opts.Marshal(s.feed)
	if err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
