// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package reconcile

import (
	"log/slog"

	"github.com/prashtx/ddot-updates/ddot_updates/realtime/miss"
)

// WorkTripMap maps an AVL work piece id to the trips of its block.
type WorkTripMap map[string][]BlockEntry

// WorkTripBuilder joins the work piece → block export with a BlockMap.
type WorkTripBuilder struct {
	blocks BlockMap
	sink   miss.Sink
	m      WorkTripMap
	counts Counts
}

func NewWorkTripBuilder(blocks BlockMap, sink miss.Sink) *WorkTripBuilder {
	if sink == nil {
		sink = miss.Discard
	}
	return &WorkTripBuilder{blocks: blocks, sink: sink, m: make(WorkTripMap)}
}

// Add joins a single work piece with its block and returns the map built so far.
// Work pieces of unknown blocks are reported and left out.
func (wb *WorkTripBuilder) Add(w WorkBlock) WorkTripMap {
	wb.counts.Rows++

	trips, ok := wb.blocks[w.BlockID]
	if !ok {
		wb.sink.Record(miss.Miss{
			Kind:     miss.Block,
			Source:   SourceBlocks,
			SourceID: w.WorkPiece,
			Keys:     []string{w.BlockID},
			Line:     w.Line,
		})
		return wb.m
	}

	wb.m[w.WorkPiece] = trips
	wb.counts.Matched++
	return wb.m
}

func (wb *WorkTripBuilder) Finalize() (WorkTripMap, Counts) {
	slog.Info("Processed work pieces", "matched", wb.counts.Matched, "missed", wb.counts.Missed())
	m := wb.m
	wb.m = nil
	return m, wb.counts
}
