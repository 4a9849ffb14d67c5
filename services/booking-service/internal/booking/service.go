// Package booking creates and lists appointments and schedules their
// reminders in the same call.
package booking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/civiltime"
	"github.com/vdental/chairbook/libs/metrics"
	"github.com/vdental/chairbook/libs/model"
	"github.com/vdental/chairbook/libs/reminders"
	"github.com/vdental/chairbook/libs/runtime"
	"github.com/vdental/chairbook/libs/schedule"
	"github.com/vdental/chairbook/libs/store"
)

type AppointmentStore interface {
	Insert(ctx context.Context, a model.Appointment) (model.Appointment, error)
	ListBetween(ctx context.Context, from, to time.Time, statuses ...string) ([]model.Appointment, error)
}

type ContactStore interface {
	Get(ctx context.Context, id string) (model.Contact, error)
	Upsert(ctx context.Context, c model.Contact) (model.Contact, error)
	Search(ctx context.Context, q string, limit int) ([]model.Contact, error)
}

type NotificationStore interface {
	InsertPending(ctx context.Context, ns []model.Notification) ([]model.Notification, error)
}

type EventStore interface {
	Insert(ctx context.Context, evt store.Event) error
}

// CreateInput is the canonical create request. Field aliases accepted on the
// wire are folded into it by the HTTP layer.
type CreateInput struct {
	Chair            int                     `json:"chair" validate:"required,min=1"`
	Date             civiltime.Date          `json:"date"`
	Time             civiltime.Clock         `json:"time"`
	DurationMin      int                     `json:"duration_min" validate:"min=1,max=600"`
	ContactID        string                  `json:"contact_id" validate:"omitempty,uuid"`
	PatientName      string                  `json:"patient_name" validate:"max=200"`
	PhoneE164        string                  `json:"phone_e164" validate:"omitempty,e164"`
	ReviewDelayHours *int                    `json:"review_delay_hours" validate:"omitempty,min=0,max=720"`
	Status           model.AppointmentStatus `json:"status" validate:"omitempty,oneof=scheduled booked completed cancelled"`
	Note             string                  `json:"note" validate:"max=2000"`
	SaveContact      bool                    `json:"save_contact"`
}

type Result struct {
	Appointment model.Appointment
	Schedule    schedule.Schedule
	Enqueued    int
}

type Service struct {
	appointments  AppointmentStore
	contacts      ContactStore
	notifications NotificationStore
	events        EventStore
	planner       *reminders.Planner
	zone          *civiltime.Zone
	metrics       *metrics.ReminderMetrics
	logger        *slog.Logger
	validate      *validator.Validate
	now           func() time.Time
}

type Deps struct {
	Appointments  AppointmentStore
	Contacts      ContactStore
	Notifications NotificationStore
	// Events is optional; without it no appointment.booked event is written.
	Events  EventStore
	Planner *reminders.Planner
	Metrics *metrics.ReminderMetrics
	Logger  *slog.Logger
	Now     func() time.Time
}

func NewService(d Deps) *Service {
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	return &Service{
		appointments:  d.Appointments,
		contacts:      d.Contacts,
		notifications: d.Notifications,
		events:        d.Events,
		planner:       d.Planner,
		zone:          d.Planner.Policy().Zone,
		metrics:       d.Metrics,
		logger:        d.Logger,
		validate:      newValidator(),
		now:           d.Now,
	}
}

// Create validates the request, stores the appointment and then its pending
// notifications. Nothing is written before validation and reminder planning
// pass, including the contact saved with save_contact. When the
// notifications cannot be stored the appointment stays and a
// *apperr.PartialWriteError is returned so the caller can tell it apart from
// a rejected request.
func (s *Service) Create(ctx context.Context, in CreateInput) (Result, error) {
	if in.DurationMin == 0 {
		in.DurationMin = model.DefaultDurationMin
	}
	if err := s.check(in); err != nil {
		return Result{}, err
	}
	start, err := s.zone.ToInstant(in.Date, in.Time)
	if err != nil {
		return Result{}, apperr.Validation("time", fmt.Sprintf("%s %s does not exist in %s (daylight saving change)", in.Date, in.Time, s.zone.Name()))
	}

	appt := model.Appointment{
		ID:               uuid.NewString(),
		StartAt:          start,
		DurationMin:      in.DurationMin,
		Chair:            in.Chair,
		PatientName:      strings.TrimSpace(in.PatientName),
		PhoneE164:        in.PhoneE164,
		Status:           in.Status,
		Note:             strings.TrimSpace(in.Note),
		ReviewDelayHours: s.planner.Policy().ReviewDelay(in.ReviewDelayHours),
	}
	if appt.Status == "" {
		appt.Status = model.StatusScheduled
	}
	if err := s.resolveContact(ctx, in, &appt); err != nil {
		return Result{}, err
	}

	now := s.now()
	plan, err := s.planner.AtBooking(appt, now)
	if err != nil {
		return Result{}, apperr.Validation("time", err.Error())
	}
	if in.SaveContact && in.ContactID == "" {
		if err := s.saveInlineContact(ctx, &appt); err != nil {
			return Result{}, err
		}
	}

	saved, err := s.appointments.Insert(ctx, appt)
	if err != nil {
		return Result{}, err
	}
	// The contact snapshot travels with the result even though the row only
	// stores the inline fields.
	saved.PatientName, saved.PhoneE164 = appt.PatientName, appt.PhoneE164
	res := Result{Appointment: saved, Schedule: plan.Schedule}

	log := s.logger.With("appointment_id", saved.ID)
	if plan.NoPhone {
		log.Warn("appointment has no phone, reminders not scheduled")
	}
	if len(plan.Skipped) > 0 {
		log.Info("reminders already past due at booking, skipped", "kinds", plan.Skipped)
	}

	if len(plan.Notifications) > 0 {
		inserted, err := s.notifications.InsertPending(ctx, plan.Notifications)
		if err != nil {
			s.metrics.PartialWrite()
			log.Error("appointment saved without reminders", "err", err)
			return res, &apperr.PartialWriteError{AppointmentID: saved.ID, Err: err}
		}
		res.Enqueued = len(inserted)
		for _, ntf := range inserted {
			s.metrics.Enqueued(string(ntf.Kind), "booking", 1)
		}
	}

	s.publishBooked(ctx, log, saved)
	return res, nil
}

// ListForDay returns the appointments starting on the clinic-local day d,
// ascending by start.
func (s *Service) ListForDay(ctx context.Context, d civiltime.Date) ([]model.Appointment, error) {
	from, to, err := s.zone.DayBounds(d)
	if err != nil {
		return nil, apperr.Validation("date", err.Error())
	}
	return s.appointments.ListBetween(ctx, from, to)
}

type ContactInput struct {
	FirstName string `json:"first_name" validate:"required,max=100"`
	LastName  string `json:"last_name" validate:"max=100"`
	PhoneE164 string `json:"phone_e164" validate:"required,e164"`
}

func (s *Service) SaveContact(ctx context.Context, in ContactInput) (model.Contact, error) {
	in.FirstName, in.LastName = strings.TrimSpace(in.FirstName), strings.TrimSpace(in.LastName)
	if err := s.check(in); err != nil {
		return model.Contact{}, err
	}
	return s.contacts.Upsert(ctx, model.Contact{FirstName: in.FirstName, LastName: in.LastName, PhoneE164: in.PhoneE164})
}

func (s *Service) SearchContacts(ctx context.Context, q string, limit int) ([]model.Contact, error) {
	return s.contacts.Search(ctx, q, limit)
}

// resolveContact copies name and phone from an existing contact. It only
// reads; saving an inline contact waits until the reminders are planned.
func (s *Service) resolveContact(ctx context.Context, in CreateInput, appt *model.Appointment) error {
	if in.ContactID == "" {
		return nil
	}
	c, err := s.contacts.Get(ctx, in.ContactID)
	if err != nil {
		return err
	}
	appt.ContactID = c.ID
	if name := c.DisplayName(); name != "" {
		appt.PatientName = name
	}
	if c.PhoneE164 != "" {
		appt.PhoneE164 = c.PhoneE164
	}
	return nil
}

func (s *Service) saveInlineContact(ctx context.Context, appt *model.Appointment) error {
	first, last := splitName(appt.PatientName)
	c, err := s.contacts.Upsert(ctx, model.Contact{FirstName: first, LastName: last, PhoneE164: appt.PhoneE164})
	if err != nil {
		return err
	}
	appt.ContactID = c.ID
	return nil
}

func (s *Service) publishBooked(ctx context.Context, log *slog.Logger, a model.Appointment) {
	if s.events == nil {
		return
	}
	err := s.events.Insert(ctx, store.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     store.EventAppointmentBooked,
		Payload: map[string]any{
			"appointment_id": a.ID,
			"start_at":       a.StartAt,
			"chair":          a.Chair,
			"duration_min":   a.DurationMin,
			"contact_id":     a.ContactID,
			"phone":          runtime.MaskPhone(a.PhoneE164),
		},
	})
	if err != nil {
		log.Warn("appointment.booked event not recorded", "err", err)
	}
}

func (s *Service) check(in any) error {
	if err := s.validate.Struct(in); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return apperr.Validation(verrs[0].Field(), describe(verrs[0]))
		}
		return apperr.Validation("", err.Error())
	}
	if c, ok := in.(CreateInput); ok {
		if c.Date.IsZero() {
			return apperr.Validation("date", "required (YYYY-MM-DD)")
		}
		if c.ContactID == "" && (strings.TrimSpace(c.PatientName) == "" || c.PhoneE164 == "") {
			return apperr.Validation("contact_id", "either contact_id or patient_name and phone_e164 are required")
		}
		if c.SaveContact && c.ContactID == "" && c.PhoneE164 == "" {
			return apperr.Validation("phone_e164", "required to save the contact")
		}
	}
	return nil
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "required"
	case "e164":
		return "must be an E.164 phone number, e.g. +393331234567"
	case "uuid":
		return "must be a UUID"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	default:
		return "is invalid (" + fe.Tag() + ")"
	}
}

func splitName(full string) (first, last string) {
	full = strings.TrimSpace(full)
	if i := strings.LastIndex(full, " "); i > 0 {
		return strings.TrimSpace(full[:i]), strings.TrimSpace(full[i+1:])
	}
	return full, ""
}
