// Package civiltime converts clinic-local calendar dates and wall-clock times
// into absolute instants and back.
//
// Every conversion goes through the zone's rules (time.Location), never a
// fixed numeric offset, so daylight-saving transitions are honoured:
//
//   - a wall time inside a spring-forward gap does not exist and is rejected
//     with ErrInvalidCivilTime;
//   - a wall time inside a fall-back overlap happens twice and is resolved by
//     the zone's Overlap policy (OverlapLater by default).
package civiltime

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
)

// ErrInvalidCivilTime reports a local date/time that cannot be parsed or that
// does not exist in the zone.
var ErrInvalidCivilTime = errors.New("invalid civil time")

const (
	DateLayout  = "2006-01-02"
	ClockLayout = "15:04"
)

// Date is a calendar date with no zone attached.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

func NewDate(year int, month time.Month, day int) Date {
	return Date{Year: year, Month: month, Day: day}
}

// ParseDate parses YYYY-MM-DD and rejects impossible days (2025-02-30).
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("%w: date %q must be YYYY-MM-DD", ErrInvalidCivilTime, s)
	}
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}, nil
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

func (d Date) IsZero() bool {
	return d == Date{}
}

// AddDays moves the date by n calendar days.
func (d Date) AddDays(n int) Date {
	t := time.Date(d.Year, d.Month, d.Day+n, 12, 0, 0, 0, time.UTC)
	return Date{Year: t.Year(), Month: t.Month(), Day: t.Day()}
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
	Second int
}

// Midnight is 00:00:00.
var Midnight = Clock{}

// ParseClock accepts HH:mm and HH:mm:ss.
func ParseClock(s string) (Clock, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{ClockLayout, "15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return Clock{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second()}, nil
		}
	}
	return Clock{}, fmt.Errorf("%w: time %q must be HH:mm", ErrInvalidCivilTime, s)
}

func (c Clock) String() string {
	if c.Second == 0 {
		return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
	}
	return fmt.Sprintf("%02d:%02d:%02d", c.Hour, c.Minute, c.Second)
}

func (c Clock) valid() bool {
	return c.Hour >= 0 && c.Hour < 24 && c.Minute >= 0 && c.Minute < 60 && c.Second >= 0 && c.Second < 60
}

// Overlap selects which instant an ambiguous (repeated) wall time maps to.
type Overlap int

const (
	// OverlapLater picks the second occurrence, i.e. the post-transition offset.
	OverlapLater Overlap = iota
	// OverlapEarlier picks the first occurrence, i.e. the pre-transition offset.
	OverlapEarlier
)

// Zone is an immutable clinic zone plus its overlap policy.
type Zone struct {
	loc     *time.Location
	overlap Overlap
}

// LoadZone loads an IANA zone with the default OverlapLater policy.
func LoadZone(name string) (*Zone, error) {
	loc, err := time.LoadLocation(strings.TrimSpace(name))
	if err != nil {
		return nil, fmt.Errorf("load zone %q: %w", name, err)
	}
	return NewZone(loc, OverlapLater), nil
}

func NewZone(loc *time.Location, overlap Overlap) *Zone {
	if loc == nil {
		loc = time.UTC
	}
	return &Zone{loc: loc, overlap: overlap}
}

func (z *Zone) Location() *time.Location { return z.loc }

func (z *Zone) Name() string { return z.loc.String() }

// ToInstant converts a local date and wall time to an absolute UTC instant.
func (z *Zone) ToInstant(d Date, c Clock) (time.Time, error) {
	if !c.valid() {
		return time.Time{}, fmt.Errorf("%w: time %s out of range", ErrInvalidCivilTime, c)
	}
	occ := z.Occurrences(d, c)
	switch len(occ) {
	case 0:
		return time.Time{}, fmt.Errorf("%w: %s %s does not exist in %s", ErrInvalidCivilTime, d, c, z.Name())
	case 1:
		return occ[0], nil
	}
	if z.overlap == OverlapEarlier {
		return occ[0], nil
	}
	return occ[len(occ)-1], nil
}

// ToCivil converts an instant to the zone's local date and wall time.
func (z *Zone) ToCivil(t time.Time) (Date, Clock) {
	lt := t.In(z.loc)
	return Date{Year: lt.Year(), Month: lt.Month(), Day: lt.Day()},
		Clock{Hour: lt.Hour(), Minute: lt.Minute(), Second: lt.Second()}
}

// DayBounds returns the instants of local 00:00 on d and on the following day.
// The interval is half-open: [start, end).
func (z *Zone) DayBounds(d Date) (start, end time.Time, err error) {
	start, err = z.startOfDay(d)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	end, err = z.startOfDay(d.AddDays(1))
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// Occurrences lists every UTC instant at which the zone's wall clock reads
// d c, in ascending order: none inside a gap, two inside an overlap.
func (z *Zone) Occurrences(d Date, c Clock) []time.Time {
	var out []time.Time
	for _, t := range z.candidates(d, c) {
		if !z.reads(t, d, c) {
			continue
		}
		dup := false
		for _, o := range out {
			if o.Equal(t) {
				dup = true
				break
			}
		}
		if !dup {
			out = append(out, t.UTC())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	return out
}

func (z *Zone) startOfDay(d Date) (time.Time, error) {
	if occ := z.Occurrences(d, Midnight); len(occ) > 0 {
		return occ[0], nil
	}
	// Midnight was skipped by a transition: the day starts at that transition.
	for _, t := range z.candidates(d, Midnight) {
		zs, _ := t.ZoneBounds()
		if zs.IsZero() {
			continue
		}
		ld, _ := z.ToCivil(zs)
		if ld == d {
			return zs.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: cannot find start of %s in %s", ErrInvalidCivilTime, d, z.Name())
}

// candidates applies every offset in force around the wall time to the naive
// UTC reading. Only the offsets of the zone period containing Go's own guess
// and of its two neighbours can produce the wall time.
func (z *Zone) candidates(d Date, c Clock) []time.Time {
	naive := time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, c.Second, 0, time.UTC)
	guess := time.Date(d.Year, d.Month, d.Day, c.Hour, c.Minute, c.Second, 0, z.loc)

	offsets := []int{z.offsetAt(guess)}
	zs, ze := guess.ZoneBounds()
	if !zs.IsZero() {
		offsets = append(offsets, z.offsetAt(zs.Add(-time.Second)))
	}
	if !ze.IsZero() {
		offsets = append(offsets, z.offsetAt(ze))
	}

	out := make([]time.Time, 0, len(offsets))
	for _, off := range offsets {
		out = append(out, naive.Add(-time.Duration(off)*time.Second).In(z.loc))
	}
	return out
}

func (z *Zone) offsetAt(t time.Time) int {
	_, off := t.In(z.loc).Zone()
	return off
}

func (z *Zone) reads(t time.Time, d Date, c Clock) bool {
	ld, lc := z.ToCivil(t)
	return ld == d && lc == c
}
