package handlers

import (
	"bytes"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/civiltime"
	"github.com/vdental/chairbook/libs/model"
	"github.com/vdental/chairbook/services/booking-service/internal/booking"
)

// flexInt accepts 2, "2" and null. Older agenda clients send chair and
// duration as strings.
type flexInt struct {
	set bool
	v   int
}

func (f *flexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil
		}
		n, err := strconv.Atoi(s)
		if err != nil {
			return err
		}
		f.set, f.v = true, n
		return nil
	}
	var n int
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	f.set, f.v = true, n
	return nil
}

// createAppointmentRequest is the wire shape with every accepted alias.
// normalize folds it into booking.CreateInput; nothing past this file sees
// the aliases.
type createAppointmentRequest struct {
	Chair flexInt `json:"chair"`

	Date      string `json:"date"`
	Day       string `json:"day"`
	DateLocal string `json:"date_local"`

	Time      string `json:"time"`
	TimeLocal string `json:"time_local"`
	TimeHHMM  string `json:"time_hhmm"`

	DurationMin     flexInt `json:"duration_min"`
	Duration        flexInt `json:"duration"`
	DurationMinutes flexInt `json:"duration_minutes"`

	ContactID   string `json:"contact_id"`
	PatientName string `json:"patient_name"`
	Name        string `json:"name"`
	PhoneE164   string `json:"phone_e164"`
	Phone       string `json:"phone"`

	ReviewDelayHours flexInt `json:"review_delay_hours"`
	Status           string  `json:"status"`
	Note             *string `json:"note"`
	Notes            *string `json:"notes"`
	SaveContact      bool    `json:"save_contact"`
}

func (req createAppointmentRequest) normalize() (booking.CreateInput, error) {
	in := booking.CreateInput{
		Chair:       req.Chair.v,
		DurationMin: firstInt(req.DurationMin, req.Duration, req.DurationMinutes),
		ContactID:   strings.TrimSpace(req.ContactID),
		PatientName: firstString(req.PatientName, req.Name),
		PhoneE164:   normalizePhone(firstString(req.PhoneE164, req.Phone)),
		Status:      model.AppointmentStatus(strings.ToLower(strings.TrimSpace(req.Status))),
		Note:        firstString(deref(req.Note), deref(req.Notes)),
		SaveContact: req.SaveContact,
	}
	if req.ReviewDelayHours.set {
		h := req.ReviewDelayHours.v
		in.ReviewDelayHours = &h
	}

	if raw := firstString(req.Date, req.Day, req.DateLocal); raw != "" {
		d, err := civiltime.ParseDate(raw)
		if err != nil {
			return booking.CreateInput{}, apperr.Validation("date", "must be YYYY-MM-DD")
		}
		in.Date = d
	}
	raw := firstString(req.Time, req.TimeLocal, req.TimeHHMM)
	if raw == "" {
		return booking.CreateInput{}, apperr.Validation("time", "required (HH:mm)")
	}
	c, err := civiltime.ParseClock(raw)
	if err != nil {
		return booking.CreateInput{}, apperr.Validation("time", "must be HH:mm")
	}
	in.Time = c
	return in, nil
}

type saveContactRequest struct {
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	PhoneE164 string `json:"phone_e164"`
	Phone     string `json:"phone"`
}

func (req saveContactRequest) normalize() booking.ContactInput {
	return booking.ContactInput{
		FirstName: req.FirstName,
		LastName:  req.LastName,
		PhoneE164: normalizePhone(firstString(req.PhoneE164, req.Phone)),
	}
}

// normalizePhone drops the spaces and dashes people type; it does not guess a
// country code.
func normalizePhone(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case ' ', '-', '.', '(', ')':
			return -1
		}
		return r
	}, strings.TrimSpace(s))
}

func firstString(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func firstInt(vals ...flexInt) int {
	for _, v := range vals {
		if v.set {
			return v.v
		}
	}
	return 0
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
