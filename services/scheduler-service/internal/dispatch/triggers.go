package dispatch

import (
	"context"
	"time"

	"github.com/vdental/chairbook/libs/civiltime"
)

// Schedule configures the in-process triggers. A zero interval disables
// that loop; external cron can drive the HTTP endpoints instead.
type Schedule struct {
	PollEvery   time.Duration
	SweepEvery  time.Duration
	RepairEvery time.Duration
	// DailyAt enables the daily enqueue at this clinic-local time.
	DailyAt *civiltime.Clock
}

// Run starts the enabled loops and blocks until ctx is done.
func (d *Dispatcher) Run(ctx context.Context, s Schedule) {
	if s.PollEvery > 0 {
		go d.every(ctx, "send_due", s.PollEvery, func(ctx context.Context) error {
			_, err := d.SendDue(ctx)
			return err
		})
	}
	if s.SweepEvery > 0 {
		go d.every(ctx, "sweep_stuck", s.SweepEvery, func(ctx context.Context) error {
			_, err := d.SweepStuck(ctx)
			return err
		})
	}
	if s.RepairEvery > 0 {
		go d.every(ctx, "repair", s.RepairEvery, func(ctx context.Context) error {
			_, err := d.Repair(ctx)
			return err
		})
	}
	if s.DailyAt != nil {
		go d.daily(ctx, *s.DailyAt)
	}
	<-ctx.Done()
}

func (d *Dispatcher) every(ctx context.Context, job string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := fn(ctx); err != nil {
				d.logger.Error("job failed", "job", job, "err", err)
			}
		}
	}
}

// daily runs DailyEnqueue at the local time at every day. When the process
// starts after today's run time it catches up once immediately; the job is
// idempotent so that is safe even if today's run already happened.
func (d *Dispatcher) daily(ctx context.Context, at civiltime.Clock) {
	now := d.now()
	if today := d.dailyRunOn(now, at, 0); !today.After(now) {
		d.logger.Info("daily enqueue catch-up run")
		if _, err := d.DailyEnqueue(ctx); err != nil {
			d.logger.Error("job failed", "job", "daily_enqueue", "err", err)
		}
	}

	for {
		next := d.NextDailyRun(d.now(), at)
		d.logger.Info("daily enqueue scheduled", "at", next.UTC().Format(time.RFC3339))
		timer := time.NewTimer(time.Until(next))
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			if _, err := d.DailyEnqueue(ctx); err != nil {
				d.logger.Error("job failed", "job", "daily_enqueue", "err", err)
			}
		}
	}
}

// NextDailyRun is the first instant after now at which the clinic-local clock
// reads at. If at falls in a DST gap on some day the run moves to the end of
// the gap.
func (d *Dispatcher) NextDailyRun(now time.Time, at civiltime.Clock) time.Time {
	for offset := 0; ; offset++ {
		if t := d.dailyRunOn(now, at, offset); t.After(now) {
			return t
		}
	}
}

func (d *Dispatcher) dailyRunOn(now time.Time, at civiltime.Clock, offsetDays int) time.Time {
	today, _ := d.zone.ToCivil(now)
	day := today.AddDays(offsetDays)
	t, err := d.zone.ToInstant(day, at)
	for err != nil && at.Hour < 23 {
		at.Hour++
		at.Minute, at.Second = 0, 0
		t, err = d.zone.ToInstant(day, at)
	}
	if err != nil {
		// Unreachable with real zone data: no gap spans the rest of a day.
		start, end, _ := d.zone.DayBounds(day)
		return start.Add(end.Sub(start) - time.Second)
	}
	return t
}
