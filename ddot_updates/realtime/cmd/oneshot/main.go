// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package main

import (
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/fact"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/match"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/reconcile"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
)

var (
	flagGTFS       = flag.String("gtfs", "ddot_gtfs.zip", "path to GTFS Schedules feed")
	flagTrips      = flag.String("trips", "avl_trips.csv", "path to the AVL trips export")
	flagStops      = flag.String("stops", "avl_stops.csv", "path to the AVL geo nodes export")
	flagBlocks     = flag.String("blocks", "avl_blocks.csv", "path to the AVL work pieces export")
	flagAdherence  = flag.String("adherence", "adherence.csv", "path to the adherence batch")
	flagOutput     = flag.String("output", "trip_updates.pb", "path to the output GTFS-Realtime feed")
	flagJSON       = flag.String("json", "", "if set, also dump the trip updates as JSON to this path")
	flagTimezone   = flag.String("tz", "America/Detroit", "time zone of the transit agency")
	flagAt         = flag.String("at", "", "RFC 3339 time the batch was received at; defaults to now")
	flagDayStart   = flag.Duration("service-day-start", 0, "local time at which a transit day starts")
	flagReadable   = flag.Bool("readable", false, "dump output in human-readable format")
	flagVerbose    = flag.Bool("verbose", false, "show DEBUG logging")
	flagShowMisses = flag.Bool("misses", false, "log every lookup miss")
)

func main() {
	flag.Parse()
	if *flagVerbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	loc, err := time.LoadLocation(*flagTimezone)
	if err != nil {
		log.Fatal(err)
	}

	received := time.Now()
	if *flagAt != "" {
		received, err = time.Parse(time.RFC3339, *flagAt)
		if err != nil {
			log.Fatalf("invalid -at: %v", err)
		}
	}

	counts := &miss.Counts{}
	var sink miss.Sink = counts
	if *flagShowMisses {
		sink = miss.Tee(counts, miss.Log{})
	}

	slog.Info("Loading static schedules")
	pkg, err := schedules.LoadGTFSFromPath(*flagGTFS, schedules.Options{Location: loc, Sink: sink})
	if err != nil {
		log.Fatal(err)
	}

	slog.Info("Reconciling AVL exports")
	in, err := readInputs()
	if err != nil {
		log.Fatal(err)
	}
	maps, err := reconcile.Build(pkg, in, sink, time.Now())
	if err != nil {
		log.Fatal(err)
	}

	slog.Info("Matching adherence batch")
	f, err := os.Open(*flagAdherence)
	if err != nil {
		log.Fatal(err)
	}
	batch, err := match.ReadBatch(f, loc, received, sink)
	f.Close()
	if err != nil {
		log.Fatal(err)
	}

	ag := &match.Aggregator{Resolver: match.Resolver{Location: loc, ServiceDayStart: *flagDayStart}, Sink: sink}
	delays, stats := ag.Apply(batch, maps, pkg.Calendar)

	facts := fact.Assemble(delays, batch.Received, &fact.Counter{})
	if err := writeOutput(facts); err != nil {
		log.Fatal(err)
	}
	slog.Info("Feed written successfully", "facts", facts.TotalFacts(), "stats", stats, "misses", counts.Total())
}

func readInputs() (in reconcile.Inputs, err error) {
	if in.Trips, err = os.ReadFile(*flagTrips); err != nil {
		return
	}
	if in.Stops, err = os.ReadFile(*flagStops); err != nil {
		return
	}
	in.Blocks, err = os.ReadFile(*flagBlocks)
	return
}

func writeOutput(facts *fact.Container) error {
	slog.Debug("Dumping GTFS-Realtime")
	err := fact.DumpGTFSFile(*flagOutput, facts.AsGTFS(), *flagReadable)
	if err != nil {
		return fmt.Errorf("%s: %w", *flagOutput, err)
	}

	if *flagJSON != "" {
		slog.Debug("Dumping JSON")
		f, err := os.Create(*flagJSON)
		if err != nil {
			return err
		}
		defer f.Close()
		if err := facts.DumpJSON(f, *flagReadable); err != nil {
			return fmt.Errorf("%s: %w", *flagJSON, err)
		}
	}

	return nil
}
