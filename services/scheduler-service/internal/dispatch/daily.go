package dispatch

import (
	"context"

	"github.com/vdental/chairbook/libs/model"
	"github.com/vdental/chairbook/libs/runtime"
)

type DailyReport struct {
	Date            string `json:"date"`
	Found           int    `json:"found"`
	Created         int    `json:"created"`
	SkippedExisting int    `json:"skipped_existing"`
	SkippedNoPhone  int    `json:"skipped_no_phone"`
	Errors          int    `json:"errors"`
}

// DailyEnqueue creates the day-before reminder, due now, for every active
// appointment on tomorrow's clinic-local date. An appointment that already
// has a day-before row in any status is left alone, so a failed reminder is
// not silently retried. Running it twice creates nothing the second time.
func (d *Dispatcher) DailyEnqueue(ctx context.Context) (rep DailyReport, err error) {
	defer func() { d.metrics.JobRun("daily_enqueue", err) }()

	now := d.now()
	today, _ := d.zone.ToCivil(now)
	tomorrow := today.AddDays(1)
	rep.Date = tomorrow.String()

	from, to, err := d.zone.DayBounds(tomorrow)
	if err != nil {
		return rep, err
	}
	appts, err := d.appointments.ListBetween(ctx, from, to, model.ActiveStatuses...)
	if err != nil {
		return rep, err
	}
	rep.Found = len(appts)
	if len(appts) == 0 {
		return rep, nil
	}

	ids := make([]string, 0, len(appts))
	for _, a := range appts {
		ids = append(ids, a.ID)
	}
	existing, err := d.notifications.AppointmentsWithKind(ctx, model.KindDayBefore, ids)
	if err != nil {
		return rep, err
	}

	var batch []model.Notification
	for _, a := range appts {
		switch {
		case existing[a.ID]:
			rep.SkippedExisting++
			continue
		case a.PhoneE164 == "":
			rep.SkippedNoPhone++
			d.logger.Warn("day before reminder skipped, no phone", "appointment_id", a.ID)
			continue
		}
		n, err := d.planner.DayBefore(a, now)
		if err != nil {
			rep.Errors++
			d.logger.Error("day before reminder not built", "appointment_id", a.ID, "err", err)
			continue
		}
		batch = append(batch, n)
	}
	if len(batch) == 0 {
		return rep, nil
	}

	inserted, err := d.notifications.InsertPending(ctx, batch)
	if err != nil {
		return rep, err
	}
	rep.Created = len(inserted)
	// A concurrent run may have inserted some of them between the existence
	// check and the insert; the unique index dropped those.
	rep.SkippedExisting += len(batch) - len(inserted)
	d.metrics.Enqueued(string(model.KindDayBefore), "daily", len(inserted))

	for _, n := range inserted {
		d.logger.Debug("day before reminder queued", "appointment_id", n.AppointmentID, "phone", runtime.MaskPhone(n.PhoneE164))
	}
	d.logger.Info("daily enqueue finished",
		"date", rep.Date,
		"found", rep.Found,
		"created", rep.Created,
		"skipped_existing", rep.SkippedExisting,
		"skipped_no_phone", rep.SkippedNoPhone,
	)
	return rep, nil
}
