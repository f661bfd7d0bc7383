// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

// Package broadcast pushes every published GTFS-Realtime feed to NATS.
package broadcast

import (
	"context"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/config"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/fact"
)

// Metrics observes the NATS connection. Implemented by metrics.Collector.
type Metrics interface {
	NATSPublishedInc()
	NATSPublishErrInc()
	PublishObserve(d time.Duration)
	NATSSetConnected(connected bool)
}

// Conn is the subset of *nats.Conn used by NATS.
type Conn interface {
	Publish(subject string, data []byte) error
	Drain() error
	Close()
}

// NATS is a fact.Subscriber publishing the binary feed on a single subject.
type NATS struct {
	Subject string
	Metrics Metrics

	conn Conn
}

// Dial connects to the NATS server at url. An empty token disables
// token authentication.
func Dial(url, token, subject string, m Metrics) (*NATS, error) {
	opts := []nats.Option{
		nats.Name("ddot-updates"),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			slog.Warn("NATS disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(true)
			}
			slog.Info("NATS reconnected", "url", nc.ConnectedUrlRedacted())
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			if m != nil {
				m.NATSSetConnected(false)
			}
			slog.Info("NATS connection closed")
		}),
	}
	if token != "" {
		opts = append(opts, nats.Token(token))
	}

	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	if m != nil {
		m.NATSSetConnected(true)
	}
	slog.Info("Connected to NATS", "url", nc.ConnectedUrlRedacted(), "subject", subject)
	return New(nc, subject, m), nil
}

// New wraps an existing connection.
func New(conn Conn, subject string, m Metrics) *NATS {
	if subject == "" {
		subject = config.DefaultNATSSubject
	}
	return &NATS{Subject: subject, Metrics: m, conn: conn}
}

func (n *NATS) Notify(_ context.Context, s *fact.Snapshot) error {
	start := time.Now()
	err := n.conn.Publish(n.Subject, s.Bytes())
	if n.Metrics != nil {
		n.Metrics.PublishObserve(time.Since(start))
		if err != nil {
			n.Metrics.NATSPublishErrInc()
		} else {
			n.Metrics.NATSPublishedInc()
		}
	}
	if err == nil {
		slog.Debug("Published feed to NATS", "subject", n.Subject, "entities", s.Entities())
	}
	return err
}

func (n *NATS) String() string { return "nats:" + n.Subject }

// Close flushes pending messages and closes the connection.
func (n *NATS) Close() {
	if n.conn == nil {
		return
	}
	if err := n.conn.Drain(); err != nil {
		slog.Warn("Draining NATS connection failed", "error", err)
	}
	n.conn.Close()
}
