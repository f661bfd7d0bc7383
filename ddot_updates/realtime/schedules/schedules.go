// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package schedules

import (
	"strings"
)

// Package is everything derived from a single GTFS Schedule package
// which is needed to reconcile AVL identifiers.
type Package struct {
	Index     *Index
	StopNames StopNames
	Calendar  *Calendar
}

// StopNames maps a normalized stop_name to its stop_id.
type StopNames map[string]string

// NormalizeName trims and lower-cases a stop name, so that AVL and GTFS
// names can be compared.
func NormalizeName(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

func (n StopNames) Lookup(name string) (stopID string, ok bool) {
	stopID, ok = n[NormalizeName(name)]
	return
}
