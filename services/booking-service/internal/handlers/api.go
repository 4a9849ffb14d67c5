package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/civiltime"
	"github.com/vdental/chairbook/libs/httpx"
	"github.com/vdental/chairbook/libs/model"
	"github.com/vdental/chairbook/libs/store"
	"github.com/vdental/chairbook/services/booking-service/internal/booking"
)

type Bookings interface {
	Create(ctx context.Context, in booking.CreateInput) (booking.Result, error)
	ListForDay(ctx context.Context, d civiltime.Date) ([]model.Appointment, error)
	SaveContact(ctx context.Context, in booking.ContactInput) (model.Contact, error)
	SearchContacts(ctx context.Context, q string, limit int) ([]model.Contact, error)
}

// NotificationLog is the operator view over queued and sent messages.
type NotificationLog interface {
	List(ctx context.Context, f store.ListFilter) ([]model.Notification, error)
	Requeue(ctx context.Context, id string, now time.Time) (model.Notification, error)
}

const maxListLimit = 1000

type API struct {
	bookings Bookings
	log      NotificationLog
	zone     *civiltime.Zone
	logger   *slog.Logger
	now      func() time.Time
}

func NewAPI(bookings Bookings, log NotificationLog, zone *civiltime.Zone, logger *slog.Logger) *API {
	return &API{bookings: bookings, log: log, zone: zone, logger: logger, now: time.Now}
}

// Register mounts the API on mux. guard wraps every route, typically the API
// key check.
func (a *API) Register(mux *http.ServeMux, guard func(http.Handler) http.Handler) {
	if guard == nil {
		guard = func(h http.Handler) http.Handler { return h }
	}
	mux.Handle("POST /api/v1/appointments", guard(http.HandlerFunc(a.CreateAppointment)))
	mux.Handle("GET /api/v1/appointments", guard(http.HandlerFunc(a.ListAppointments)))
	mux.Handle("POST /api/v1/contacts", guard(http.HandlerFunc(a.SaveContact)))
	mux.Handle("GET /api/v1/contacts", guard(http.HandlerFunc(a.SearchContacts)))
	mux.Handle("GET /api/v1/notifications", guard(http.HandlerFunc(a.ListNotifications)))
	mux.Handle("POST /api/v1/notifications/{id}/requeue", guard(http.HandlerFunc(a.RequeueNotification)))
}

func (a *API) CreateAppointment(w http.ResponseWriter, r *http.Request) {
	var req createAppointmentRequest
	if err := decode(r, &req); err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	in, err := req.normalize()
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}

	res, err := a.bookings.Create(r.Context(), in)
	if err != nil {
		var pw *apperr.PartialWriteError
		if errors.As(err, &pw) {
			httpx.WriteJSON(w, http.StatusInternalServerError, partialWriteResponse{
				Error:         apperr.PublicMessage(err),
				AppointmentID: pw.AppointmentID,
			})
			return
		}
		httpx.WriteError(w, r, a.logger, err)
		return
	}

	httpx.WriteJSON(w, http.StatusCreated, createAppointmentResponse{
		Appointment: a.appointmentView(res.Appointment),
		Reminders: reminderTimes{
			DayBeforeAt: res.Schedule.DayBeforeAt.UTC().Format(time.RFC3339),
			SameDayAt:   res.Schedule.SameDayAt.UTC().Format(time.RFC3339),
			ReviewAt:    res.Schedule.ReviewAt.UTC().Format(time.RFC3339),
		},
		Enqueued: res.Enqueued,
	})
}

func (a *API) ListAppointments(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	raw := firstString(q.Get("date"), q.Get("day"), q.Get("date_local"))
	if raw == "" {
		httpx.WriteError(w, r, a.logger, apperr.Validation("date", "required (YYYY-MM-DD)"))
		return
	}
	d, err := civiltime.ParseDate(raw)
	if err != nil {
		httpx.WriteError(w, r, a.logger, apperr.Validation("date", "must be YYYY-MM-DD"))
		return
	}

	appts, err := a.bookings.ListForDay(r.Context(), d)
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	items := make([]appointmentView, 0, len(appts))
	for _, appt := range appts {
		items = append(items, a.appointmentView(appt))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": d.String(), "appointments": items})
}

func (a *API) SaveContact(w http.ResponseWriter, r *http.Request) {
	var req saveContactRequest
	if err := decode(r, &req); err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	c, err := a.bookings.SaveContact(r.Context(), req.normalize())
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"contact": toContactView(c)})
}

func (a *API) SearchContacts(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r.URL.Query().Get("limit"))
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	contacts, err := a.bookings.SearchContacts(r.Context(), r.URL.Query().Get("q"), limit)
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	items := make([]contactView, 0, len(contacts))
	for _, c := range contacts {
		items = append(items, toContactView(c))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"contacts": items})
}

func (a *API) ListNotifications(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseLimit(q.Get("limit"))
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	f := store.ListFilter{Limit: limit}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		st, ok := model.ParseNotificationStatus(raw)
		if !ok {
			httpx.WriteError(w, r, a.logger, apperr.Validation("status", "must be one of pending, sending, sent, failed"))
			return
		}
		f.Status = st
	}

	ns, err := a.log.List(r.Context(), f)
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	items := make([]notificationView, 0, len(ns))
	for _, n := range ns {
		items = append(items, toNotificationView(n))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"notifications": items})
}

func (a *API) RequeueNotification(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := uuid.Parse(id); err != nil {
		httpx.WriteError(w, r, a.logger, apperr.Validation("id", "must be a UUID"))
		return
	}
	n, err := a.log.Requeue(r.Context(), id, a.now())
	if err != nil {
		httpx.WriteError(w, r, a.logger, err)
		return
	}
	a.logger.Info("notification requeued", "notification_id", id, "new_notification_id", n.ID, "kind", n.Kind)
	httpx.WriteJSON(w, http.StatusCreated, map[string]any{"notification": toNotificationView(n)})
}

func decode(r *http.Request, dst any) error {
	err := json.NewDecoder(r.Body).Decode(dst)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, io.EOF):
		return apperr.Validation("", "request body is empty")
	default:
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return apperr.Validation(typeErr.Field, "has the wrong type")
		}
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Validation("", "request body too large")
		}
		return apperr.Validation("", "invalid json body")
	}
}

func parseLimit(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, apperr.Validation("limit", "must be a non-negative integer")
	}
	return min(n, maxListLimit), nil
}
