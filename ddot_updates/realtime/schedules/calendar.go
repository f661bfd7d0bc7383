// SPDX-FileCopyrightText: 2026 Mikołaj Kuranowski
// SPDX-License-Identifier: MIT

package schedules

import (
	"log/slog"
	"time"

	"github.com/MKuranowski/go-extra-lib/container/set"
	"github.com/prashtx/ddot-updates/ddot_updates/realtime/util/time2"
)

// Period is a single calendar.txt row.
type Period struct {
	ServiceID  string
	Start, End time2.Date
	Weekdays   [7]bool // indexed by time.Weekday
}

func (p Period) Contains(d time2.Date) bool {
	return p.Start.Compare(d) <= 0 && d.Compare(p.End) <= 0 && p.Weekdays[d.Weekday()]
}

// Calendar resolves a moment in time to the single active service_id.
//
// Resolution checks, in order:
//  1. service-added exceptions from calendar_dates.txt,
//  2. the first calendar.txt period containing the date,
//  3. the Weekly fallback, which ignores the date range.
//
// Service-removed exceptions are parsed into Removed, but are never applied.
type Calendar struct {
	Location *time.Location
	Periods  []Period
	Weekly   [7]string // indexed by time.Weekday
	Added    map[time2.Date]string
	Removed  map[time2.Date]set.Set[string]
}

// NewCalendar returns an empty calendar operating in the provided time zone.
func NewCalendar(loc *time.Location) *Calendar {
	if loc == nil {
		loc = time.UTC
	}
	return &Calendar{
		Location: loc,
		Added:    make(map[time2.Date]string),
		Removed:  make(map[time2.Date]set.Set[string]),
	}
}

// LegacyCalendar returns a calendar with the DDOT day sequences:
// "1" on weekdays, "2" on Saturdays and "3" on Sundays.
func LegacyCalendar(loc *time.Location) *Calendar {
	c := NewCalendar(loc)
	c.Weekly = [7]string{
		time.Sunday:    "3",
		time.Monday:    "1",
		time.Tuesday:   "1",
		time.Wednesday: "1",
		time.Thursday:  "1",
		time.Friday:    "1",
		time.Saturday:  "2",
	}
	return c
}

// AddPeriod records a calendar.txt row. The first period claiming a weekday
// becomes the Weekly fallback for that day.
func (c *Calendar) AddPeriod(p Period) {
	c.Periods = append(c.Periods, p)
	for day, active := range p.Weekdays {
		if !active {
			continue
		}
		if c.Weekly[day] == "" {
			c.Weekly[day] = p.ServiceID
		} else if c.Weekly[day] != p.ServiceID {
			slog.Debug("Weekday already has a service", "weekday", time.Weekday(day), "kept", c.Weekly[day], "ignored", p.ServiceID)
		}
	}
}

// AddException records a calendar_dates.txt row. Only exception_type 1
// (service added) affects resolution; the first added service on a date wins.
func (c *Calendar) AddException(serviceID string, date time2.Date, added bool) {
	if !added {
		s := c.Removed[date]
		if s == nil {
			s = make(set.Set[string])
			c.Removed[date] = s
		}
		s.Add(serviceID)
		return
	}

	if existing, ok := c.Added[date]; ok && existing != serviceID {
		slog.Debug("Date already has an added service", "date", date, "kept", existing, "ignored", serviceID)
		return
	}
	c.Added[date] = serviceID
}

// ResolveDate returns the service_id active on the provided date,
// or an empty string if no service is known.
func (c *Calendar) ResolveDate(d time2.Date) string {
	if serviceID, ok := c.Added[d]; ok {
		return serviceID
	}
	for _, p := range c.Periods {
		if p.Contains(d) {
			return p.ServiceID
		}
	}
	return c.Weekly[d.Weekday()]
}

// Resolve returns the service_id active at the provided instant,
// as seen in the calendar's time zone.
func (c *Calendar) Resolve(t time.Time) string {
	return c.ResolveDate(time2.DateOf(t.In(c.Location)))
}
