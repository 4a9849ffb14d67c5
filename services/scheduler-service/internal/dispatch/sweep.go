package dispatch

import (
	"context"

	"github.com/vdental/chairbook/libs/store"
)

type SweepReport struct {
	Failed []string `json:"failed"`
}

// SweepStuck fails rows left in sending longer than StuckAfter, typically by
// a worker that died between claim and mark. They go to failed and not back
// to pending: the message may already have been delivered.
func (d *Dispatcher) SweepStuck(ctx context.Context) (rep SweepReport, err error) {
	defer func() { d.metrics.JobRun("sweep_stuck", err) }()

	stuck, err := d.notifications.FailStuck(ctx, d.now().Add(-d.cfg.StuckAfter), StuckReason)
	if err != nil {
		return rep, err
	}
	rep.Failed = make([]string, 0, len(stuck))
	for _, n := range stuck {
		rep.Failed = append(rep.Failed, n.ID)
		d.logger.Warn("notification stuck in sending marked failed",
			"notification_id", n.ID, "appointment_id", n.AppointmentID, "kind", n.Kind)
		d.publish(ctx, n, store.EventNotificationFailed, map[string]any{"error": StuckReason})
	}
	return rep, nil
}

type RepairReport struct {
	Scanned        int `json:"scanned"`
	Repaired       int `json:"repaired"`
	Created        int `json:"created"`
	SkippedNoPhone int `json:"skipped_no_phone"`
	Errors         int `json:"errors"`
}

// Repair re-derives the notifications of appointments that have none at all,
// which is what a booking left behind after its notification insert failed.
// Only appointments older than RepairGrace and still ahead are considered.
// The insert is idempotent, so racing a late booking or the daily job is
// harmless.
func (d *Dispatcher) Repair(ctx context.Context) (rep RepairReport, err error) {
	defer func() { d.metrics.JobRun("repair", err) }()

	now := d.now()
	appts, err := d.appointments.ListUnnotified(ctx, now.Add(-d.cfg.RepairGrace), now, d.cfg.RepairBatch)
	if err != nil {
		return rep, err
	}
	rep.Scanned = len(appts)

	for _, a := range appts {
		log := d.logger.With("appointment_id", a.ID)
		plan, err := d.planner.AtBooking(a, now)
		if err != nil {
			rep.Errors++
			log.Error("repair: reminders not derived", "err", err)
			continue
		}
		if plan.NoPhone {
			rep.SkippedNoPhone++
			continue
		}
		batch := plan.Notifications
		// Past 18:00 the evening before, the daily job may already have run.
		if !plan.Schedule.DayBeforeAt.After(now) {
			n, err := d.planner.DayBefore(a, now)
			if err != nil {
				rep.Errors++
				log.Error("repair: day before reminder not built", "err", err)
				continue
			}
			batch = append(batch, n)
		}

		inserted, err := d.notifications.InsertPending(ctx, batch)
		if err != nil {
			rep.Errors++
			log.Error("repair: insert failed", "err", err)
			continue
		}
		if len(inserted) > 0 {
			rep.Repaired++
			rep.Created += len(inserted)
			for _, n := range inserted {
				d.metrics.Enqueued(string(n.Kind), "repair", 1)
			}
			log.Warn("repaired appointment without reminders", "created", len(inserted))
		}
	}
	return rep, nil
}
