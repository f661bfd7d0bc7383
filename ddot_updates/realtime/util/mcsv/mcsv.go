// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package mcsv

import (
	"encoding/csv"
	"errors"
	"io"
	"iter"
	"strings"
)

// Reader reads CSV files with a header row (like GTFS), returning each record
// as a column-name-to-value map. The map is reused between records.
type Reader struct {
	r      *csv.Reader
	header []string
	record map[string]string
	err    error
}

func NewReader(r io.Reader) *Reader {
	o := &Reader{r: csv.NewReader(r)}
	o.r.ReuseRecord = true
	o.r.FieldsPerRecord = -1
	return o
}

func (r *Reader) readHeader() {
	var row []string
	row, r.err = r.r.Read()
	if r.err != nil {
		return
	}

	r.header = make([]string, len(row))
	for i, col := range row {
		if i == 0 {
			col = strings.TrimPrefix(col, "\uFEFF")
		}
		r.header[i] = strings.TrimSpace(col)
	}
}

func (r *Reader) next() {
	if r.header == nil {
		r.readHeader()
		if r.err != nil {
			return
		}
	}

	if r.record == nil {
		r.record = make(map[string]string, len(r.header))
	}

	var row []string
	row, r.err = r.r.Read()
	if r.err != nil {
		return
	}

	for i, key := range r.header {
		if i < len(row) {
			r.record[key] = row[i]
		} else {
			r.record[key] = ""
		}
	}
}

func (r *Reader) Read() (map[string]string, error) {
	r.next()
	if r.err != nil {
		return nil, r.err
	}
	return r.record, nil
}

func (r *Reader) Iter() iter.Seq[map[string]string] {
	return func(yield func(map[string]string) bool) {
		for {
			r.next()
			if r.err != nil || !yield(r.record) {
				return
			}
		}
	}
}

// HasColumn reports whether the header contains the provided column.
// Only valid after the first record was read.
func (r *Reader) HasColumn(name string) bool {
	for _, col := range r.header {
		if col == name {
			return true
		}
	}
	return false
}

func (r *Reader) Err() error {
	if errors.Is(r.err, io.EOF) {
		return nil
	}
	return r.err
}

func (r *Reader) Line() int {
	line, _ := r.r.FieldPos(0)
	return line
}

// RowReader reads header-less CSV data, as exported by the AVL database.
// Fields are trimmed of surrounding whitespace.
//
// Malformed lines are passed to OnParseError (if set) and skipped;
// when OnParseError is nil they stop the iteration and are reported by Err.
type RowReader struct {
	OnParseError func(line int, err error)

	r   *csv.Reader
	err error
}

func NewRowReader(r io.Reader) *RowReader {
	o := &RowReader{r: csv.NewReader(r)}
	o.r.FieldsPerRecord = -1
	return o
}

func (r *RowReader) Iter() iter.Seq[[]string] {
	return func(yield func([]string) bool) {
		for {
			row, err := r.r.Read()
			if err != nil {
				var parseErr *csv.ParseError
				if errors.As(err, &parseErr) && r.OnParseError != nil {
					r.OnParseError(parseErr.Line, err)
					continue
				}
				r.err = err
				return
			}

			for i := range row {
				row[i] = strings.TrimSpace(row[i])
			}
			if isBlank(row) {
				continue
			}

			if !yield(row) {
				return
			}
		}
	}
}

func (r *RowReader) Err() error {
	if errors.Is(r.err, io.EOF) {
		return nil
	}
	return r.err
}

func (r *RowReader) Line() int {
	line, _ := r.r.FieldPos(0)
	return line
}

func isBlank(row []string) bool {
	for _, f := range row {
		if f != "" {
			return false
		}
	}
	return true
}
