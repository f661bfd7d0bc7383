// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package fact

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"
)

const (
	Binary        = false
	HumanReadable = true
)

// Container is the list of trip updates making up one feed.
type Container struct {
	Timestamp   time.Time     `json:"timestamp"`
	TripUpdates []*TripUpdate `json:"trip_updates"`
}

func (c *Container) AsGTFS() *gtfs.FeedMessage {
	g := &gtfs.FeedMessage{
		Header: &gtfs.FeedHeader{
			GtfsRealtimeVersion: ptr("2.0"),
			Incrementality:      ptr(gtfs.FeedHeader_FULL_DATASET),
			Timestamp:           ptr(uint64(c.Timestamp.Unix())),
		},
	}

	g.Entity = make([]*gtfs.FeedEntity, 0, len(c.TripUpdates))
	for _, u := range c.TripUpdates {
		g.Entity = append(g.Entity, u.AsGTFS())
	}

	return g
}

func (c *Container) DumpJSON(w io.Writer, humanReadable bool) error {
	e := json.NewEncoder(w)
	if humanReadable {
		e.SetIndent("", "\t")
	}
	return e.Encode(c)
}

func (c *Container) TotalFacts() int {
	return len(c.TripUpdates)
}

type TripUpdate struct {
	ID string `json:"id"`
	TripSelector
	AVLTripID string            `json:"avl_trip_id,omitempty"`
	StopTimes []*StopTimeUpdate `json:"stop_times"`
}

func (t *TripUpdate) AsGTFS() *gtfs.FeedEntity {
	g := new(gtfs.FeedEntity)
	g.Id = ptr(t.ID)
	g.TripUpdate = new(gtfs.TripUpdate)
	g.TripUpdate.Trip = t.TripSelector.AsGTFS()

	g.TripUpdate.StopTimeUpdate = make([]*gtfs.TripUpdate_StopTimeUpdate, len(t.StopTimes))
	for i, st := range t.StopTimes {
		g.TripUpdate.StopTimeUpdate[i] = st.AsGTFS()
	}
	return g
}

// StopTimeUpdate carries the arrival delay of a trip. Without a StopID,
// the delay applies from the first stop of the trip.
type StopTimeUpdate struct {
	StopID       string `json:"stop_id,omitempty"`
	ArrivalDelay int32  `json:"arrival_delay"`
}

func (s *StopTimeUpdate) AsGTFS() *gtfs.TripUpdate_StopTimeUpdate {
	g := new(gtfs.TripUpdate_StopTimeUpdate)
	if s.StopID != "" {
		g.StopId = ptr(s.StopID)
	} else {
		g.StopSequence = ptr(uint32(1))
	}
	g.Arrival = &gtfs.TripUpdate_StopTimeEvent{Delay: ptr(s.ArrivalDelay)}
	return g
}

type TripSelector struct {
	TripID string `json:"trip_id"`
}

func (s TripSelector) AsGTFS() *gtfs.TripDescriptor {
	return &gtfs.TripDescriptor{
		TripId:               ptr(s.TripID),
		ScheduleRelationship: ptr(gtfs.TripDescriptor_SCHEDULED),
	}
}

// DumpGTFS writes a FeedMessage in the binary or the text protobuf format.
func DumpGTFS(w io.Writer, m *gtfs.FeedMessage, humanReadable bool) error {
	var data []byte
	var err error

	if humanReadable {
		data, err = prototext.MarshalOptions{Multiline: true}.Marshal(m)
	} else {
		data, err = proto.Marshal(m)
	}

	if err != nil {
		return err
	}

	_, err = io.Copy(w, bytes.NewReader(data))
	return err
}

// DumpGTFSFile atomically replaces the file at path with the FeedMessage.
func DumpGTFSFile(path string, m *gtfs.FeedMessage, humanReadable bool) error {
	tempPath := getTempOutputPath(path)

	f, err := os.Create(tempPath)
	if err != nil {
		return err
	}

	b := bufio.NewWriter(f)
	err = DumpGTFS(b, m, humanReadable)
	if err == nil {
		err = b.Flush()
	}
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		os.Remove(tempPath)
		return err
	}

	return os.Rename(tempPath, path)
}

func ptr[T any](thing T) *T {
	return &thing
}

func getTempOutputPath(path string) string {
	dir, name := filepath.Split(path)
	return fmt.Sprintf("%s.%s.tmp", dir, name)
}
