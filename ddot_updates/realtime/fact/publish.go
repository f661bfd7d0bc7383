// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package fact

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Subscriber is notified about every published snapshot.
type Subscriber interface {
	Notify(ctx context.Context, s *Snapshot) error
}

// SubscriberFunc adapts a plain function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, s *Snapshot) error

func (f SubscriberFunc) Notify(ctx context.Context, s *Snapshot) error { return f(ctx, s) }

// Publisher holds the current snapshot. Readers take the current
// snapshot without locking; Publish swaps it as a whole.
type Publisher struct {
	current atomic.Pointer[Snapshot]

	mu          sync.Mutex
	subscribers []Subscriber
}

// Current returns the latest published snapshot, or nil.
func (p *Publisher) Current() *Snapshot {
	return p.current.Load()
}

func (p *Publisher) Subscribe(s Subscriber) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers = append(p.subscribers, s)
}

// Publish replaces the current snapshot and notifies every subscriber.
// Subscriber failures are logged and never undo the swap.
func (p *Publisher) Publish(ctx context.Context, s *Snapshot) {
	p.current.Store(s)

	p.mu.Lock()
	subscribers := p.subscribers
	p.mu.Unlock()

	for _, sub := range subscribers {
		if err := sub.Notify(ctx, s); err != nil {
			slog.Error("Snapshot subscriber failed", "subscriber", sub, "error", err)
		}
	}
}

// FileWriter writes every snapshot to a file.
type FileWriter struct {
	Path          string
	HumanReadable bool
}

func (w FileWriter) Notify(_ context.Context, s *Snapshot) error {
	slog.Debug("Dumping GTFS-Realtime", "path", w.Path)
	return DumpGTFSFile(w.Path, s.Feed(), w.HumanReadable)
}

func (w FileWriter) String() string { return "file:" + w.Path }
