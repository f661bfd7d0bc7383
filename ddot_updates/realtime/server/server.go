// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package server exposes the static data uploads, the adherence
// endpoint and the published GTFS-Realtime feed over HTTP.
package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/fact"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/match"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/metrics"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/static"
)

// DefaultMaxBodySize limits uploaded payloads. GTFS packages are the largest.
const DefaultMaxBodySize = 256 << 20

type Clock interface {
	Now() time.Time
}

type Server struct {
	Static     *static.Data
	Aggregator *match.Aggregator
	Publisher  *fact.Publisher

	// Metrics is optional.
	Metrics *metrics.Collector

	// Sequence generates feed entity ids; defaults to a fresh fact.Counter.
	Sequence fact.Sequence

	// ScheduleOptions are used to load uploaded GTFS packages.
	ScheduleOptions schedules.Options

	MaxBodySize int64

	// Clock defaults to time.Now.
	Clock Clock

	// batchMu orders adherence batches: a batch is published
	// before the next one is applied.
	batchMu sync.Mutex
}

func (s *Server) now() time.Time {
	if s.Clock == nil {
		return time.Now()
	}
	return s.Clock.Now()
}

func (s *Server) location() *time.Location {
	if loc := s.Aggregator.Resolver.Location; loc != nil {
		return loc
	}
	return time.UTC
}

func (s *Server) sink() miss.Sink {
	if s.Metrics == nil {
		return miss.Log{}
	}
	return miss.Tee(miss.Log{}, s.Metrics)
}

// Router creates the HTTP handler of the server.
func (s *Server) Router() http.Handler {
	if s.Sequence == nil {
		s.Sequence = &fact.Counter{}
	}
	if s.MaxBodySize <= 0 {
		s.MaxBodySize = DefaultMaxBodySize
	}

	r := mux.NewRouter()

	r.HandleFunc("/adherence", s.handleAdherence).Methods("POST")

	r.HandleFunc("/static/gtfs", s.handleGTFS).Methods("POST")
	r.HandleFunc("/static/avl-trips", s.handleAVL(s.Static.SetAVLTrips)).Methods("POST")
	r.HandleFunc("/static/avl-stops", s.handleAVL(s.Static.SetAVLStops)).Methods("POST")
	r.HandleFunc("/static/avl-blocks", s.handleAVL(s.Static.SetAVLBlocks)).Methods("POST")
	r.HandleFunc("/static/status", s.handleStatus).Methods("GET")

	r.HandleFunc("/gtfs-realtime/trip-updates", s.handleTripUpdates).Methods("GET")
	r.HandleFunc("/fake-realtime", s.handleFakeRealtime).Methods("POST")

	r.HandleFunc("/debug/work-trips", s.handleWorkTrips).Methods("GET")
	r.HandleFunc("/debug/service", s.handleService).Methods("GET")
	r.HandleFunc("/post-test", s.handlePostTest).Methods("POST")

	r.HandleFunc("/healthz", s.handleHealth).Methods("GET")
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics.Handler()).Methods("GET")
	}

	return s.corsMiddleware(r)
}

// corsMiddleware allows any origin and answers preflight requests.
func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Debug("HTTP request", "method", r.Method, "path", r.URL.Path, "took", time.Since(start))
	})
}

type errorResponse struct {
	Error string `json:"error"`
}

// notReadyResponse tells the AVL side which exports to send again.
type notReadyResponse struct {
	Error string `json:"error"`
	*static.NotReadyError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to write JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	var notReady *static.NotReadyError
	if errors.As(err, &notReady) {
		writeJSON(w, http.StatusServiceUnavailable, notReadyResponse{Error: err.Error(), NotReadyError: notReady})
		return
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Write([]byte("ok\n"))
}
