package handlers

import (
	"time"

	"github.com/vdental/chairbook/libs/model"
)

type appointmentView struct {
	ID               string `json:"id"`
	StartAt          string `json:"start_at"`
	EndAt            string `json:"end_at"`
	Date             string `json:"date"`
	Time             string `json:"time"`
	DurationMin      int    `json:"duration_min"`
	Chair            int    `json:"chair"`
	ContactID        string `json:"contact_id,omitempty"`
	PatientName      string `json:"patient_name"`
	PhoneE164        string `json:"phone_e164"`
	Status           string `json:"status"`
	Note             string `json:"note,omitempty"`
	ReviewDelayHours int    `json:"review_delay_hours"`
	CreatedAt        string `json:"created_at,omitempty"`
}

type reminderTimes struct {
	DayBeforeAt string `json:"day_before_at"`
	SameDayAt   string `json:"same_day_at"`
	ReviewAt    string `json:"review_at"`
}

type createAppointmentResponse struct {
	Appointment appointmentView `json:"appointment"`
	Reminders   reminderTimes   `json:"reminders"`
	Enqueued    int             `json:"enqueued"`
}

type partialWriteResponse struct {
	Error         string `json:"error"`
	AppointmentID string `json:"appointment_id"`
}

type contactView struct {
	ID        string `json:"id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	PhoneE164 string `json:"phone_e164"`
	CreatedAt string `json:"created_at,omitempty"`
}

type notificationView struct {
	ID            string `json:"id"`
	AppointmentID string `json:"appointment_id"`
	Kind          string `json:"kind"`
	Status        string `json:"status"`
	DueAt         string `json:"due_at"`
	SentAt        string `json:"sent_at,omitempty"`
	LastError     string `json:"last_error,omitempty"`
	PhoneE164     string `json:"phone_e164"`
	Body          string `json:"body"`
}

// appointmentView renders the instant in UTC plus the clinic-local date and
// time the agenda shows.
func (a *API) appointmentView(appt model.Appointment) appointmentView {
	d, c := a.zone.ToCivil(appt.StartAt)
	return appointmentView{
		ID:               appt.ID,
		StartAt:          appt.StartAt.UTC().Format(time.RFC3339),
		EndAt:            appt.EndAt().UTC().Format(time.RFC3339),
		Date:             d.String(),
		Time:             c.String()[:5],
		DurationMin:      appt.DurationMin,
		Chair:            appt.Chair,
		ContactID:        appt.ContactID,
		PatientName:      appt.PatientName,
		PhoneE164:        appt.PhoneE164,
		Status:           string(appt.Status),
		Note:             appt.Note,
		ReviewDelayHours: appt.ReviewDelayHours,
		CreatedAt:        formatTime(appt.CreatedAt),
	}
}

func toContactView(c model.Contact) contactView {
	return contactView{
		ID:        c.ID,
		FirstName: c.FirstName,
		LastName:  c.LastName,
		PhoneE164: c.PhoneE164,
		CreatedAt: formatTime(c.CreatedAt),
	}
}

func toNotificationView(n model.Notification) notificationView {
	v := notificationView{
		ID:            n.ID,
		AppointmentID: n.AppointmentID,
		Kind:          string(n.Kind),
		Status:        string(n.Status),
		DueAt:         n.DueAt.UTC().Format(time.RFC3339),
		LastError:     n.LastError,
		PhoneE164:     n.PhoneE164,
		Body:          n.Body,
	}
	if n.SentAt != nil {
		v.SentAt = n.SentAt.UTC().Format(time.RFC3339)
	}
	return v
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
