// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/broadcast"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/config"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/fact"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/match"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/metrics"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/schedules"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/server"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/source"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/static"
)

var (
	flagConfig   = flag.String("config", "", "path to a YAML configuration file")
	flagReadable = flag.Bool("readable", false, "dump output file in human-readable format")
	flagVerbose  = flag.Bool("verbose", false, "show DEBUG logging")
)

const shutdownTimeout = 10 * time.Second

func main() {
	flag.Parse()
	if *flagVerbose {
		slog.SetLogLoggerLevel(slog.LevelDebug)
	}

	cfg, err := config.Load(*flagConfig)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	collector := metrics.NewCollector()
	sink := miss.Tee(miss.Log{}, collector)
	scheduleOptions := schedules.Options{Location: cfg.Location, Sink: sink}

	data := &static.Data{
		MaxAge:    cfg.MaxAVLAge,
		Sink:      sink,
		OnRebuild: collector.ObserveRebuild,
	}

	publisher := &fact.Publisher{}
	publisher.Subscribe(collector)
	if cfg.OutputPath != "" {
		publisher.Subscribe(fact.FileWriter{Path: cfg.OutputPath, HumanReadable: *flagReadable})
	}
	if cfg.NATSURL != "" {
		n, err := broadcast.Dial(cfg.NATSURL, cfg.NATSToken, cfg.NATSSubject, collector)
		if err != nil {
			log.Fatal(err)
		}
		defer n.Close()
		publisher.Subscribe(n)
	}

	srv := &server.Server{
		Static: data,
		Aggregator: &match.Aggregator{
			Resolver:   match.Resolver{Location: cfg.Location, ServiceDayStart: cfg.ServiceDayStart},
			Accumulate: cfg.AccumulateDelays,
			Sink:       sink,
		},
		Publisher:       publisher,
		Metrics:         collector,
		ScheduleOptions: scheduleOptions,
	}
	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Listening", "addr", cfg.Listen)
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		slog.Info("Shutting down")
		return httpServer.Shutdown(shutdownCtx)
	})

	if fetcher := scheduleFetcher(cfg); fetcher != nil {
		refresher := &source.Refresher{
			Fetcher: fetcher,
			Options: scheduleOptions,
			Target:  data,
			Period:  cfg.GTFSRefresh,
			OnFetch: collector.ObserveFetch,
		}
		g.Go(func() error { return refresher.Run(ctx) })
	} else {
		slog.Warn("No GTFS source configured, waiting for uploads to /static/gtfs")
	}

	if err := g.Wait(); err != nil {
		log.Fatal(err)
	}
}

func scheduleFetcher(cfg *config.Config) source.Fetcher {
	switch {
	case cfg.GTFSURL != "":
		return &source.HTTP{URL: cfg.GTFSURL, Authorization: cfg.GTFSAuthorization}
	case cfg.GTFSPath != "":
		return &source.Local{Path: cfg.GTFSPath}
	default:
		return nil
	}
}
