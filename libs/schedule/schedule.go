// Package schedule derives reminder due instants from an appointment start.
package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/vdental/chairbook/libs/civiltime"
)

var ErrNegativeReviewDelay = errors.New("review delay hours must not be negative")

// Policy is the clinic's reminder policy. Built once at startup and passed by
// value; nothing in it changes at runtime.
type Policy struct {
	Zone               *civiltime.Zone
	DayBeforeAt        civiltime.Clock
	SameDayLead        time.Duration
	DefaultReviewDelay int
}

// DefaultPolicy is 18:00 the evening before, 3h before on the day, review 2h after.
func DefaultPolicy(zone *civiltime.Zone) Policy {
	return Policy{
		Zone:               zone,
		DayBeforeAt:        civiltime.Clock{Hour: 18},
		SameDayLead:        3 * time.Hour,
		DefaultReviewDelay: 2,
	}
}

type Schedule struct {
	DayBeforeAt time.Time
	SameDayAt   time.Time
	ReviewAt    time.Time
}

// Derive computes the reminder instants for an appointment starting at start.
//
// DayBeforeAt is resolved on the civil calendar (the local date before the
// appointment, at DayBeforeAt local), so it lands on the right UTC instant
// across a DST change. SameDayAt and ReviewAt are plain duration arithmetic.
func (p Policy) Derive(start time.Time, reviewDelayHours int) (Schedule, error) {
	if reviewDelayHours < 0 {
		return Schedule{}, ErrNegativeReviewDelay
	}
	date, _ := p.Zone.ToCivil(start)
	dayBefore, err := p.Zone.ToInstant(date.AddDays(-1), p.DayBeforeAt)
	if err != nil {
		return Schedule{}, fmt.Errorf("day before reminder: %w", err)
	}
	start = start.UTC()
	return Schedule{
		DayBeforeAt: dayBefore,
		SameDayAt:   start.Add(-p.SameDayLead),
		ReviewAt:    start.Add(time.Duration(reviewDelayHours) * time.Hour),
	}, nil
}

// ReviewDelay returns hours when set, otherwise the policy default.
func (p Policy) ReviewDelay(hours *int) int {
	if hours == nil {
		return p.DefaultReviewDelay
	}
	return *hours
}
