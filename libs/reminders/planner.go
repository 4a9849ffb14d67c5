// Package reminders turns an appointment into the notification rows that
// should exist for it. It is shared by the booking flow, the daily job and
// the repair sweep so all three derive identical rows.
package reminders

import (
	"fmt"
	"time"

	"github.com/vdental/chairbook/libs/messages"
	"github.com/vdental/chairbook/libs/model"
	"github.com/vdental/chairbook/libs/schedule"
)

type Planner struct {
	policy   schedule.Policy
	renderer *messages.Renderer
}

func NewPlanner(policy schedule.Policy, renderer *messages.Renderer) *Planner {
	return &Planner{policy: policy, renderer: renderer}
}

func (p *Planner) Policy() schedule.Policy { return p.policy }

// Plan is what booking an appointment produces.
type Plan struct {
	Schedule      schedule.Schedule
	Notifications []model.Notification
	// Skipped lists kinds left out because their due time had already passed.
	Skipped []model.NotificationKind
	NoPhone bool
}

// AtBooking derives the confirmation, same-day and review notifications for
// an appointment booked at now. The day-before reminder is left to the daily
// job. A kind already due is dropped, except the confirmation which is due
// immediately by definition.
func (p *Planner) AtBooking(appt model.Appointment, now time.Time) (Plan, error) {
	sched, err := p.policy.Derive(appt.StartAt, appt.ReviewDelayHours)
	if err != nil {
		return Plan{}, err
	}
	plan := Plan{Schedule: sched}
	if appt.PhoneE164 == "" {
		plan.NoPhone = true
		return plan, nil
	}

	due := []struct {
		kind model.NotificationKind
		at   time.Time
	}{
		{model.KindConfirmation, now},
		{model.KindSameDay, sched.SameDayAt},
		{model.KindReview, sched.ReviewAt},
	}
	for _, d := range due {
		if d.kind != model.KindConfirmation && !d.at.After(now) {
			plan.Skipped = append(plan.Skipped, d.kind)
			continue
		}
		n, err := p.notification(appt, d.kind, d.at)
		if err != nil {
			return Plan{}, err
		}
		plan.Notifications = append(plan.Notifications, n)
	}
	return plan, nil
}

// DayBefore builds the day-before reminder, due at now: the daily job runs at
// the hour the reminder should go out.
func (p *Planner) DayBefore(appt model.Appointment, now time.Time) (model.Notification, error) {
	return p.notification(appt, model.KindDayBefore, now)
}

func (p *Planner) notification(appt model.Appointment, kind model.NotificationKind, due time.Time) (model.Notification, error) {
	body, err := p.renderer.Render(kind, appt)
	if err != nil {
		return model.Notification{}, fmt.Errorf("render %s for appointment %s: %w", kind, appt.ID, err)
	}
	return model.Notification{
		AppointmentID: appt.ID,
		Kind:          kind,
		DueAt:         due.UTC(),
		Status:        model.NotificationPending,
		Body:          body,
		PhoneE164:     appt.PhoneE164,
	}, nil
}
