package model

import (
	"strings"
	"time"
)

type AppointmentStatus string

const (
	StatusScheduled AppointmentStatus = "scheduled"
	StatusBooked    AppointmentStatus = "booked"
	StatusCompleted AppointmentStatus = "completed"
	StatusCancelled AppointmentStatus = "cancelled"
)

// ActiveStatuses are the appointment statuses that still get reminders.
// Status is otherwise advisory: transitions are not enforced.
var ActiveStatuses = []string{string(StatusScheduled), string(StatusBooked)}

func (s AppointmentStatus) Active() bool {
	return s == StatusScheduled || s == StatusBooked
}

const DefaultDurationMin = 30

type Appointment struct {
	ID               string
	StartAt          time.Time
	DurationMin      int
	Chair            int
	ContactID        string
	PatientName      string
	PhoneE164        string
	Status           AppointmentStatus
	Note             string
	ReviewDelayHours int
	CreatedAt        time.Time
}

func (a Appointment) EndAt() time.Time {
	return a.StartAt.Add(time.Duration(a.DurationMin) * time.Minute)
}

type Contact struct {
	ID        string
	FirstName string
	LastName  string
	PhoneE164 string
	CreatedAt time.Time
}

func (c Contact) DisplayName() string {
	return strings.TrimSpace(c.FirstName + " " + c.LastName)
}

type NotificationKind string

const (
	KindConfirmation NotificationKind = "confirmation"
	KindDayBefore    NotificationKind = "day_before"
	KindSameDay      NotificationKind = "same_day"
	KindReview       NotificationKind = "review"
)

type NotificationStatus string

const (
	NotificationPending NotificationStatus = "pending"
	NotificationSending NotificationStatus = "sending"
	NotificationSent    NotificationStatus = "sent"
	NotificationFailed  NotificationStatus = "failed"
)

func ParseNotificationStatus(s string) (NotificationStatus, bool) {
	switch st := NotificationStatus(strings.ToLower(strings.TrimSpace(s))); st {
	case NotificationPending, NotificationSending, NotificationSent, NotificationFailed:
		return st, true
	}
	return "", false
}

// Notification is a queued outbound message. Body and PhoneE164 are a
// snapshot taken at enqueue time.
type Notification struct {
	ID            string
	AppointmentID string
	Kind          NotificationKind
	DueAt         time.Time
	Status        NotificationStatus
	Body          string
	PhoneE164     string
	ClaimedAt     *time.Time
	SentAt        *time.Time
	LastError     string
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}
