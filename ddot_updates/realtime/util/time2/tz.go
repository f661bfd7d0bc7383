// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package time2

import (
	"fmt"
	"time"
)

// DefaultZoneName is the reference time zone of the Detroit transit network.
const DefaultZoneName = "America/Detroit"

// LoadZone loads a named IANA time zone, defaulting to DefaultZoneName
// when name is empty.
func LoadZone(name string) (*time.Location, error) {
	if name == "" {
		name = DefaultZoneName
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("failed to load %s timezone: %w", name, err)
	}
	return loc, nil
}

// MustLoadZone is LoadZone which panics on failure. Meant for tests and init.
func MustLoadZone(name string) *time.Location {
	loc, err := LoadZone(name)
	if err != nil {
		panic(err)
	}
	return loc
}

// SecondsOfDay returns the number of seconds elapsed since the wall-clock
// midnight of t, in t's location.
func SecondsOfDay(t time.Time) int {
	h, m, s := t.Clock()
	return h*3600 + m*60 + s
}
