// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/encoding/prototext"
	"google.golang.org/protobuf/proto"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/fact"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/match"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/reconcile"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/mcsv"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/time2"
)

var (
	errNoSnapshot    = errors.New("no feed published yet")
	errNoSchedule    = errors.New("no GTFS schedule loaded")
	errUnknownFormat = errors.New("format must be one of: binary, text, json")
)

func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.MaxBodySize))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, err)
		} else {
			writeError(w, http.StatusBadRequest, err)
		}
		return nil, false
	}
	return data, true
}

func (s *Server) handleAdherence(w http.ResponseWriter, r *http.Request) {
	if err := s.Static.Check(); err != nil {
		slog.Warn("Adherence batch rejected", "error", err)
		writeError(w, http.StatusServiceUnavailable, err)
		return
	}
	maps := s.Static.Maps()
	pkg := s.Static.Schedule()

	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	batch, err := match.ReadBatch(bytes.NewReader(body), s.location(), s.now(), s.sink())
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snapshot, stats, err := s.applyBatch(r.Context(), batch, maps, pkg.Calendar)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}

	if s.Metrics != nil {
		s.Metrics.ObserveBatch(stats)
	}
	slog.Info("Feed updated successfully", "batch", batch.ID, "facts", snapshot.Entities())

	w.Header().Set("X-Batch-ID", batch.ID)
	writeJSON(w, http.StatusOK, stats)
}

// applyBatch folds the batch into the delays and publishes the resulting
// snapshot, holding batchMu throughout.
func (s *Server) applyBatch(ctx context.Context, batch *match.Batch, maps *reconcile.Maps, cal *schedules.Calendar) (*fact.Snapshot, match.Stats, error) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	delays, stats := s.Aggregator.Apply(batch, maps, cal)
	snapshot, err := fact.NewSnapshot(fact.Assemble(delays, batch.Received, s.Sequence))
	if err != nil {
		return nil, stats, err
	}
	s.Publisher.Publish(ctx, snapshot)
	return snapshot, stats, nil
}

func (s *Server) handleAVL(set func([]byte) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, ok := s.readBody(w, r)
		if !ok {
			return
		}
		if err := set(body); err != nil {
			writeError(w, http.StatusUnprocessableEntity, err)
			return
		}
		writeJSON(w, http.StatusOK, s.Static.Status())
	}
}

func (s *Server) handleGTFS(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	pkg, err := schedules.LoadGTFSFromBytes(body, s.ScheduleOptions)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("gtfs: %w", err))
		return
	}
	if err := s.Static.SetSchedule(pkg); err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, s.Static.Status())
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.Static.Status())
}

func (s *Server) handleWorkTrips(w http.ResponseWriter, _ *http.Request) {
	m := s.Static.Maps()
	if m == nil {
		writeError(w, http.StatusServiceUnavailable, s.Static.Check())
		return
	}
	writeJSON(w, http.StatusOK, m.WorkTrips)
}

type serviceResponse struct {
	At          time.Time  `json:"at"`
	ServiceDate time2.Date `json:"service_date"`
	ServiceID   string     `json:"service_id"`
}

func (s *Server) handleService(w http.ResponseWriter, r *http.Request) {
	pkg := s.Static.Schedule()
	if pkg == nil || pkg.Calendar == nil {
		writeError(w, http.StatusServiceUnavailable, errNoSchedule)
		return
	}

	at := s.now()
	if v := r.URL.Query().Get("at"); v != "" {
		var err error
		at, err = time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid at: %w", err))
			return
		}
	}

	date := s.Aggregator.Resolver.ServiceDate(at)
	writeJSON(w, http.StatusOK, serviceResponse{
		At:          at.In(s.location()),
		ServiceDate: date,
		ServiceID:   pkg.Calendar.ResolveDate(date),
	})
}

func (s *Server) handlePostTest(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	rr := mcsv.NewRowReader(bytes.NewReader(body))
	rows := 0
	for range rr.Iter() {
		rows++
	}
	if err := rr.Err(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	slog.Info("Received test upload", "rows", rows, "bytes", len(body))
	writeJSON(w, http.StatusOK, map[string]int{"rows": rows})
}

// feedFormat picks the encoding of the trip updates feed.
func feedFormat(r *http.Request) (string, error) {
	switch f := r.URL.Query().Get("format"); f {
	case "binary", "text", "json":
		return f, nil
	case "":
		if strings.HasPrefix(r.Header.Get("Accept"), "text/plain") {
			return "text", nil
		}
		return "binary", nil
	default:
		return "", errUnknownFormat
	}
}

func (s *Server) handleTripUpdates(w http.ResponseWriter, r *http.Request) {
	format, err := feedFormat(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snapshot := s.Publisher.Current()
	if snapshot == nil {
		writeError(w, http.StatusServiceUnavailable, errNoSnapshot)
		return
	}

	if !snapshot.Timestamp.IsZero() {
		w.Header().Set("Last-Modified", snapshot.Timestamp.UTC().Format(http.TimeFormat))
	}

	switch format {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		err = snapshot.DumpGTFS(w, fact.HumanReadable)
	case "json":
		w.Header().Set("Content-Type", "application/json")
		err = snapshot.DumpJSON(w, fact.HumanReadable)
	default:
		w.Header().Set("Content-Type", "application/x-protobuf")
		err = snapshot.DumpGTFS(w, fact.Binary)
	}
	if err != nil {
		slog.Error("Failed to write trip updates feed", "format", format, "error", err)
	}
}

func (s *Server) handleFakeRealtime(w http.ResponseWriter, r *http.Request) {
	body, ok := s.readBody(w, r)
	if !ok {
		return
	}

	var err error
	m := new(gtfs.FeedMessage)
	contentType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if contentType == "text/plain" {
		err = prototext.Unmarshal(body, m)
	} else {
		err = proto.Unmarshal(body, m)
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	snapshot, err := fact.FromFeed(m)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.Publisher.Publish(r.Context(), snapshot)

	slog.Info("Fake feed published", "facts", snapshot.Entities())
	writeJSON(w, http.StatusOK, map[string]int{"entities": snapshot.Entities()})
}
