// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package time2

import (
	"fmt"
	"strconv"
	"strings"
)

type ErrInvalidTime string

func (e ErrInvalidTime) Error() string {
	return fmt.Sprintf("invalid time string: %q", string(e))
}

// ParseGTFSTime converts a "H:MM:SS" string into seconds since the start of
// the service day. Hours above 23 are kept, as GTFS uses them for trips
// running past midnight.
func ParseGTFSTime(s string) (int, error) {
	s = strings.TrimSpace(s)
	hStr, rest, ok := strings.Cut(s, ":")
	if !ok {
		return 0, ErrInvalidTime(s)
	}
	mStr, secStr, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, ErrInvalidTime(s)
	}

	h, err := strconv.Atoi(hStr)
	if err != nil || h < 0 {
		return 0, ErrInvalidTime(s)
	}
	m, err := strconv.Atoi(mStr)
	if err != nil || m < 0 || m > 59 {
		return 0, ErrInvalidTime(s)
	}
	sec, err := strconv.Atoi(secStr)
	if err != nil || sec < 0 || sec > 59 {
		return 0, ErrInvalidTime(s)
	}

	return h*3600 + m*60 + sec, nil
}

// ParseSecondsOrTime accepts either a bare number of seconds since midnight
// or a "H:MM:SS" string.
func ParseSecondsOrTime(s string) (int, error) {
	s = strings.TrimSpace(s)
	if !strings.Contains(s, ":") {
		sec, err := strconv.Atoi(s)
		if err != nil || sec < 0 {
			return 0, ErrInvalidTime(s)
		}
		return sec, nil
	}
	return ParseGTFSTime(s)
}

// FormatGTFSTime is the inverse of ParseGTFSTime.
func FormatGTFSTime(sec int) string {
	return fmt.Sprintf("%02d:%02d:%02d", sec/3600, (sec/60)%60, sec%60)
}
