package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/civiltime"
	"github.com/vdental/chairbook/libs/model"
	"github.com/vdental/chairbook/libs/schedule"
	"github.com/vdental/chairbook/libs/store"
	"github.com/vdental/chairbook/services/booking-service/internal/booking"

	_ "time/tzdata"
)

type fakeBookings struct {
	got       booking.CreateInput
	createErr error
	day       civiltime.Date
	list      []model.Appointment
	contact   booking.ContactInput
}

func (f *fakeBookings) Create(_ context.Context, in booking.CreateInput) (booking.Result, error) {
	f.got = in
	if f.createErr != nil {
		return booking.Result{}, f.createErr
	}
	start := time.Date(2025, 3, 31, 8, 0, 0, 0, time.UTC)
	return booking.Result{
		Appointment: model.Appointment{ID: "a1", StartAt: start, DurationMin: 30, Chair: in.Chair, PatientName: in.PatientName, PhoneE164: in.PhoneE164, Status: model.StatusScheduled, ReviewDelayHours: 2},
		Schedule: schedule.Schedule{
			DayBeforeAt: time.Date(2025, 3, 30, 16, 0, 0, 0, time.UTC),
			SameDayAt:   start.Add(-3 * time.Hour),
			ReviewAt:    start.Add(2 * time.Hour),
		},
		Enqueued: 3,
	}, nil
}

func (f *fakeBookings) ListForDay(_ context.Context, d civiltime.Date) ([]model.Appointment, error) {
	f.day = d
	return f.list, nil
}

func (f *fakeBookings) SaveContact(_ context.Context, in booking.ContactInput) (model.Contact, error) {
	f.contact = in
	return model.Contact{ID: "c1", FirstName: in.FirstName, LastName: in.LastName, PhoneE164: in.PhoneE164}, nil
}

func (f *fakeBookings) SearchContacts(context.Context, string, int) ([]model.Contact, error) {
	return []model.Contact{{ID: "c1", FirstName: "Maria", LastName: "Rossi", PhoneE164: "+393331234567"}}, nil
}

type fakeLog struct {
	filter     store.ListFilter
	requeueErr error
}

func (f *fakeLog) List(_ context.Context, filter store.ListFilter) ([]model.Notification, error) {
	f.filter = filter
	return []model.Notification{{ID: "n1", AppointmentID: "a1", Kind: model.KindReview, Status: model.NotificationFailed, LastError: "whatsapp 401"}}, nil
}

func (f *fakeLog) Requeue(_ context.Context, id string, now time.Time) (model.Notification, error) {
	if f.requeueErr != nil {
		return model.Notification{}, f.requeueErr
	}
	return model.Notification{ID: "n2", AppointmentID: "a1", Kind: model.KindReview, Status: model.NotificationPending, DueAt: now}, nil
}

func newServer(t *testing.T) (*http.ServeMux, *fakeBookings, *fakeLog) {
	t.Helper()
	zone, err := civiltime.LoadZone("Europe/Rome")
	require.NoError(t, err)
	b, l := &fakeBookings{}, &fakeLog{}
	api := NewAPI(b, l, zone, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	api.Register(mux, nil)
	return mux, b, l
}

func do(t *testing.T, h http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCreateAppointmentNormalizesAliases(t *testing.T) {
	mux, b, _ := newServer(t)

	rec := do(t, mux, http.MethodPost, "/api/v1/appointments", `{
		"chair": "2", "date_local": "2025-03-31", "time_local": "10:00",
		"duration": 45, "name": " Maria Rossi ", "phone": "+39 333 123 4567",
		"review_delay_hours": 0, "notes": "controllo", "dentist_id": "main"
	}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	assert.Equal(t, 2, b.got.Chair)
	assert.Equal(t, civiltime.Date{Year: 2025, Month: time.March, Day: 31}, b.got.Date)
	assert.Equal(t, civiltime.Clock{Hour: 10}, b.got.Time)
	assert.Equal(t, 45, b.got.DurationMin)
	assert.Equal(t, "Maria Rossi", b.got.PatientName)
	assert.Equal(t, "+393331234567", b.got.PhoneE164)
	require.NotNil(t, b.got.ReviewDelayHours)
	assert.Equal(t, 0, *b.got.ReviewDelayHours)
	assert.Equal(t, "controllo", b.got.Note)

	var resp createAppointmentResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, "2025-03-31T08:00:00Z", resp.Appointment.StartAt)
	assert.Equal(t, "10:00", resp.Appointment.Time)
	assert.Equal(t, "2025-03-31", resp.Appointment.Date)
	assert.Equal(t, "2025-03-30T16:00:00Z", resp.Reminders.DayBeforeAt)
	assert.Equal(t, 3, resp.Enqueued)
}

func TestCreateAppointmentBadInput(t *testing.T) {
	cases := []struct {
		name  string
		body  string
		field string
	}{
		{"bad date", `{"chair":1,"date":"31/03/2025","time":"10:00"}`, "date"},
		{"missing time", `{"chair":1,"date":"2025-03-31"}`, "time"},
		{"bad time", `{"chair":1,"date":"2025-03-31","time":"25:00"}`, "time"},
		{"chair type", `{"chair":true,"date":"2025-03-31","time":"10:00"}`, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			mux, _, _ := newServer(t)
			rec := do(t, mux, http.MethodPost, "/api/v1/appointments", tc.body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			if tc.field != "" {
				assert.Contains(t, rec.Body.String(), `"field":"`+tc.field+`"`)
			}
		})
	}
}

func TestCreateAppointmentErrorMapping(t *testing.T) {
	mux, b, _ := newServer(t)

	b.createErr = apperr.Validation("chair", "required")
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/api/v1/appointments", `{"date":"2025-03-31","time":"10:00"}`).Code)

	b.createErr = apperr.NotFound("contact", "c404")
	assert.Equal(t, http.StatusNotFound, do(t, mux, http.MethodPost, "/api/v1/appointments", `{"date":"2025-03-31","time":"10:00"}`).Code)

	b.createErr = &apperr.PartialWriteError{AppointmentID: "a1", Err: errors.New("connection reset")}
	rec := do(t, mux, http.MethodPost, "/api/v1/appointments", `{"date":"2025-03-31","time":"10:00"}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	var body partialWriteResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "a1", body.AppointmentID)
	assert.NotContains(t, body.Error, "connection reset")
}

func TestListAppointmentsByDay(t *testing.T) {
	mux, b, _ := newServer(t)
	b.list = []model.Appointment{{ID: "a1", StartAt: time.Date(2025, 10, 26, 1, 30, 0, 0, time.UTC), DurationMin: 30, Chair: 1}}

	rec := do(t, mux, http.MethodGet, "/api/v1/appointments?day=2025-10-26", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, civiltime.Date{Year: 2025, Month: time.October, Day: 26}, b.day)

	var resp struct {
		Appointments []appointmentView `json:"appointments"`
	}
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	require.Len(t, resp.Appointments, 1)
	assert.Equal(t, "02:30", resp.Appointments[0].Time)

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/v1/appointments", "").Code)
}

func TestListAppointmentsEmptyIsArray(t *testing.T) {
	mux, _, _ := newServer(t)
	rec := do(t, mux, http.MethodGet, "/api/v1/appointments?date=2025-04-02", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"appointments":[]`)
}

func TestSaveContactAcceptsPhoneAlias(t *testing.T) {
	mux, b, _ := newServer(t)
	rec := do(t, mux, http.MethodPost, "/api/v1/contacts", `{"first_name":"Maria","last_name":"Rossi","phone":"+39-333-1234567"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "+393331234567", b.contact.PhoneE164)
}

func TestListNotifications(t *testing.T) {
	mux, _, l := newServer(t)

	rec := do(t, mux, http.MethodGet, "/api/v1/notifications?status=FAILED&limit=5000", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.NotificationFailed, l.filter.Status)
	assert.Equal(t, maxListLimit, l.filter.Limit)
	assert.Contains(t, rec.Body.String(), "whatsapp 401")

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/v1/notifications?status=lost", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodGet, "/api/v1/notifications?limit=-1", "").Code)
}

func TestRequeueNotification(t *testing.T) {
	mux, _, l := newServer(t)
	id := "6f1c8e0a-3a7c-4c55-9b0e-2f4d7c1d9e11"

	rec := do(t, mux, http.MethodPost, "/api/v1/notifications/"+id+"/requeue", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"pending"`)

	assert.Equal(t, http.StatusBadRequest, do(t, mux, http.MethodPost, "/api/v1/notifications/nope/requeue", "").Code)

	l.requeueErr = apperr.Conflict("only failed notifications can be requeued (status is sent)")
	assert.Equal(t, http.StatusConflict, do(t, mux, http.MethodPost, "/api/v1/notifications/"+id+"/requeue", "").Code)
}

func TestRegisterAppliesGuard(t *testing.T) {
	mux := http.NewServeMux()
	api := NewAPI(&fakeBookings{}, &fakeLog{}, civiltime.NewZone(time.UTC, civiltime.OverlapLater), slog.New(slog.NewTextHandler(io.Discard, nil)))
	api.Register(mux, func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusUnauthorized) })
	})
	assert.Equal(t, http.StatusUnauthorized, do(t, mux, http.MethodGet, "/api/v1/contacts", "").Code)
}
