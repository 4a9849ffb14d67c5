// Package civiltimetest builds synthetic time zones so DST behaviour can be
// pinned to exact instants without depending on the host's tz database.
package civiltimetest

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"
)

// Transition switches the zone to Offset (seconds east of UTC) at At.
type Transition struct {
	At     time.Time
	Offset int
	DST    bool
	Abbrev string
}

// Location returns a zone that starts at initialOffset and then follows the
// given transitions in order.
func Location(tb testing.TB, name string, initialOffset int, initialAbbrev string, transitions ...Transition) *time.Location {
	tb.Helper()
	loc, err := time.LoadLocationFromTZData(name, TZif(initialOffset, initialAbbrev, transitions...))
	if err != nil {
		tb.Fatalf("load synthetic zone %s: %v", name, err)
	}
	return loc
}

// LateSpringCET is a CET/CEST zone whose 2025 spring-forward happens one day
// late, at 2025-03-31T01:00Z (02:00 local becomes 03:00), and whose fall-back
// happens at 2025-10-27T01:00Z. It keeps +01:00 through 2025-03-30.
func LateSpringCET(tb testing.TB) *time.Location {
	tb.Helper()
	return Location(tb, "Test/LateSpringCET", 3600, "CET",
		Transition{At: time.Date(2025, 3, 31, 1, 0, 0, 0, time.UTC), Offset: 7200, DST: true, Abbrev: "CEST"},
		Transition{At: time.Date(2025, 10, 27, 1, 0, 0, 0, time.UTC), Offset: 3600, Abbrev: "CET"},
	)
}

// TZif encodes a version 1 tzfile (RFC 8536) with one local time type per
// transition plus the initial type.
func TZif(initialOffset int, initialAbbrev string, transitions ...Transition) []byte {
	type ttinfo struct {
		utoff int32
		isdst byte
		idx   byte
	}
	var (
		types []ttinfo
		chars []byte
	)
	add := func(off int, dst bool, abbrev string) byte {
		t := ttinfo{utoff: int32(off), idx: byte(len(chars))}
		if dst {
			t.isdst = 1
		}
		chars = append(chars, abbrev...)
		chars = append(chars, 0)
		types = append(types, t)
		return byte(len(types) - 1)
	}
	add(initialOffset, false, initialAbbrev)
	idx := make([]byte, 0, len(transitions))
	for _, tr := range transitions {
		idx = append(idx, add(tr.Offset, tr.DST, tr.Abbrev))
	}

	var buf bytes.Buffer
	buf.WriteString("TZif")
	buf.WriteByte(0)
	buf.Write(make([]byte, 15))
	// isutcnt, isstdcnt, leapcnt, timecnt, typecnt, charcnt
	for _, n := range []int{0, 0, 0, len(transitions), len(types), len(chars)} {
		_ = binary.Write(&buf, binary.BigEndian, uint32(n))
	}
	for _, tr := range transitions {
		_ = binary.Write(&buf, binary.BigEndian, int32(tr.At.Unix()))
	}
	buf.Write(idx)
	for _, t := range types {
		_ = binary.Write(&buf, binary.BigEndian, t.utoff)
		buf.WriteByte(t.isdst)
		buf.WriteByte(t.idx)
	}
	buf.Write(chars)
	return buf.Bytes()
}
