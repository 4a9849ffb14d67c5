// Package clinic builds the clinic's reminder policy and message renderer
// from the environment. Both services load it once at startup.
package clinic

import (
	"fmt"
	"strings"
	"time"

	"github.com/vdental/chairbook/libs/civiltime"
	"github.com/vdental/chairbook/libs/config"
	"github.com/vdental/chairbook/libs/messages"
	"github.com/vdental/chairbook/libs/reminders"
	"github.com/vdental/chairbook/libs/schedule"
)

const DefaultTimezone = "Europe/Rome"

type Settings struct {
	Zone    *civiltime.Zone
	Policy  schedule.Policy
	Planner *reminders.Planner
	// DailyEnqueueAt is the local time the day-before job runs.
	DailyEnqueueAt civiltime.Clock
}

func FromEnv() (Settings, error) {
	loc, err := time.LoadLocation(config.String("CLINIC_TIMEZONE", DefaultTimezone))
	if err != nil {
		return Settings{}, fmt.Errorf("CLINIC_TIMEZONE: %w", err)
	}
	overlap := civiltime.OverlapLater
	switch v := strings.ToLower(config.String("DST_OVERLAP", "later")); v {
	case "later":
	case "earlier":
		overlap = civiltime.OverlapEarlier
	default:
		return Settings{}, fmt.Errorf("DST_OVERLAP must be later or earlier (got %q)", v)
	}
	zone := civiltime.NewZone(loc, overlap)

	policy := schedule.DefaultPolicy(zone)
	if policy.DayBeforeAt, err = config.Clock("DAY_BEFORE_LOCAL_TIME", policy.DayBeforeAt); err != nil {
		return Settings{}, err
	}
	if policy.SameDayLead, err = config.Duration("SAME_DAY_LEAD", policy.SameDayLead); err != nil {
		return Settings{}, err
	}
	if policy.DefaultReviewDelay, err = config.Int("REVIEW_DELAY_HOURS", policy.DefaultReviewDelay); err != nil {
		return Settings{}, err
	}
	if policy.DefaultReviewDelay < 0 {
		return Settings{}, fmt.Errorf("REVIEW_DELAY_HOURS: %w", schedule.ErrNegativeReviewDelay)
	}
	daily, err := config.Clock("DAILY_ENQUEUE_LOCAL_TIME", civiltime.Clock{Hour: 19})
	if err != nil {
		return Settings{}, err
	}

	renderer, err := messages.NewRenderer(zone, messages.Config{
		Clinic:     config.String("CLINIC_NAME", ""),
		ReviewLink: config.String("GOOGLE_REVIEW_LINK", ""),
	})
	if err != nil {
		return Settings{}, err
	}
	return Settings{
		Zone:           zone,
		Policy:         policy,
		Planner:        reminders.NewPlanner(policy, renderer),
		DailyEnqueueAt: daily,
	}, nil
}
