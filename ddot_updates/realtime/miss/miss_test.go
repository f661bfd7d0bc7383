// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package miss

import (
	"bytes"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMissString(t *testing.T) {
	m := Miss{Kind: EndNode, Source: "avl-trips", SourceID: "42", Keys: []string{"Main St", "Oak Ave"}, Line: 3}
	assert.Equal(t, `avl-trips: end_node (line 3) id="42" keys=["Main St" "Oak Ave"]`, m.String())

	m = Miss{Kind: MalformedRow, Source: "adherence", Reason: errors.New("bad delay")}
	assert.Equal(t, "adherence: malformed_row: bad delay", m.String())
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))

	Log{Logger: logger}.Record(Miss{Kind: StopName, Source: "avl-stops", SourceID: "g1", Keys: []string{"elm st"}})

	out := buf.String()
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "miss.kind=stop_name")
	assert.Contains(t, out, "miss.id=g1")
}

func TestTeeAndCounts(t *testing.T) {
	var counts Counts
	var collected Collect
	sink := Tee(&counts, nil, &collected)

	sink.Record(Miss{Kind: WorkPiece})
	sink.Record(Miss{Kind: WorkPiece})
	sink.Record(Miss{Kind: Block})

	assert.Equal(t, 2, counts.Get(WorkPiece))
	assert.Equal(t, 1, counts.Get(Block))
	assert.Equal(t, 0, counts.Get(EndTime))
	assert.Equal(t, 3, counts.Total())
	assert.Equal(t, []Kind{WorkPiece, WorkPiece, Block}, collected.Kinds())
}
