// Package dispatch runs the reminder jobs: the daily day-before enqueue, the
// send poller, the stuck-sending sweep and the repair sweep. Every job is
// idempotent, so triggering one twice or from two replicas is harmless.
package dispatch

import (
	"context"
	"log/slog"
	"time"

	"github.com/vdental/chairbook/libs/civiltime"
	"github.com/vdental/chairbook/libs/metrics"
	"github.com/vdental/chairbook/libs/model"
	"github.com/vdental/chairbook/libs/reminders"
	"github.com/vdental/chairbook/libs/store"
)

type AppointmentStore interface {
	ListBetween(ctx context.Context, from, to time.Time, statuses ...string) ([]model.Appointment, error)
	ListUnnotified(ctx context.Context, createdBefore, startAfter time.Time, limit int) ([]model.Appointment, error)
}

type NotificationStore interface {
	InsertPending(ctx context.Context, ns []model.Notification) ([]model.Notification, error)
	AppointmentsWithKind(ctx context.Context, kind model.NotificationKind, ids []string) (map[string]bool, error)
	FetchDue(ctx context.Context, now time.Time, limit int) ([]model.Notification, error)
	Claim(ctx context.Context, id string, now time.Time) (bool, error)
	MarkSent(ctx context.Context, id string, at time.Time) error
	MarkFailed(ctx context.Context, id, reason string) error
	FailStuck(ctx context.Context, claimedBefore time.Time, reason string) ([]model.Notification, error)
}

type EventStore interface {
	Insert(ctx context.Context, evt store.Event) error
}

// Sender is the outbound transport.
type Sender interface {
	Send(ctx context.Context, to string, body string) error
	ProviderID() string
}

const StuckReason = "stuck in sending: delivery unknown"

type Config struct {
	BatchSize   int
	Concurrency int
	SendTimeout time.Duration
	// StuckAfter is how long a row may stay in sending before the sweep
	// fails it.
	StuckAfter time.Duration
	// RepairGrace keeps the repair sweep away from bookings still in flight.
	RepairGrace time.Duration
	RepairBatch int
}

func (c Config) withDefaults() Config {
	if c.BatchSize <= 0 {
		c.BatchSize = 50
	}
	if c.Concurrency <= 0 {
		c.Concurrency = 4
	}
	if c.SendTimeout <= 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.StuckAfter <= 0 {
		c.StuckAfter = 15 * time.Minute
	}
	if c.RepairGrace <= 0 {
		c.RepairGrace = 10 * time.Minute
	}
	if c.RepairBatch <= 0 {
		c.RepairBatch = 200
	}
	return c
}

type Dispatcher struct {
	appointments  AppointmentStore
	notifications NotificationStore
	events        EventStore
	sender        Sender
	planner       *reminders.Planner
	zone          *civiltime.Zone
	metrics       *metrics.ReminderMetrics
	logger        *slog.Logger
	cfg           Config
	now           func() time.Time
}

type Deps struct {
	Appointments  AppointmentStore
	Notifications NotificationStore
	// Events is optional.
	Events  EventStore
	Sender  Sender
	Planner *reminders.Planner
	Metrics *metrics.ReminderMetrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func New(d Deps, cfg Config) *Dispatcher {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Dispatcher{
		appointments:  d.Appointments,
		notifications: d.Notifications,
		events:        d.Events,
		sender:        d.Sender,
		planner:       d.Planner,
		zone:          d.Planner.Policy().Zone,
		metrics:       d.Metrics,
		logger:        d.Logger,
		cfg:           cfg.withDefaults(),
		now:           d.Now,
	}
}

func (d *Dispatcher) publish(ctx context.Context, n model.Notification, eventType string, extra map[string]any) {
	if d.events == nil {
		return
	}
	payload := map[string]any{
		"notification_id": n.ID,
		"appointment_id":  n.AppointmentID,
		"kind":            n.Kind,
		"provider":        d.sender.ProviderID(),
	}
	for k, v := range extra {
		payload[k] = v
	}
	if err := d.events.Insert(ctx, store.Event{
		AggregateType: "notification",
		AggregateID:   n.AppointmentID,
		EventType:     eventType,
		Payload:       payload,
	}); err != nil {
		d.logger.Warn("notification event not recorded", "notification_id", n.ID, "event_type", eventType, "err", err)
	}
}
