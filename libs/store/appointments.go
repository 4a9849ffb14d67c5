// Package store is the Postgres persistence for appointments, contacts,
// notifications and outbox events. Every repository runs against db.DBTX, so
// it works on a pool, inside a transaction, or against pgxmock in tests.
package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/db"
	"github.com/vdental/chairbook/libs/model"
)

var errNoStart = errors.New("appointment has neither start_at nor appointment_at")

// appointmentColumns flattens contact fields into the appointment row. A
// linked contact wins over the inline name and phone.
const appointmentColumns = `
	a.id::text,
	a.start_at,
	a.appointment_at,
	a.duration_min,
	a.chair,
	COALESCE(a.contact_id::text, ''),
	COALESCE(NULLIF(TRIM(c.first_name || ' ' || c.last_name), ''), a.patient_name, ''),
	COALESCE(NULLIF(c.phone_e164, ''), NULLIF(a.phone_e164, ''), ''),
	a.status,
	COALESCE(a.note, ''),
	a.review_delay_hours,
	a.created_at`

const appointmentFrom = `
	FROM appointments a
	LEFT JOIN contacts c ON c.id = a.contact_id`

// startExpr reads the canonical start, falling back to the legacy column.
const startExpr = `COALESCE(a.start_at, a.appointment_at)`

type Appointments struct {
	db     db.DBTX
	logger *slog.Logger
}

func NewAppointments(conn db.DBTX, logger *slog.Logger) *Appointments {
	if logger == nil {
		logger = slog.Default()
	}
	return &Appointments{db: conn, logger: logger}
}

// Insert stores a new appointment. The canonical start_at is always written;
// the legacy appointment_at column is left NULL.
func (r *Appointments) Insert(ctx context.Context, a model.Appointment) (model.Appointment, error) {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = model.StatusScheduled
	}
	if a.DurationMin <= 0 {
		a.DurationMin = model.DefaultDurationMin
	}
	a.StartAt = a.StartAt.UTC()

	err := r.db.QueryRow(ctx, `
		INSERT INTO appointments (id, start_at, duration_min, chair, contact_id, patient_name, phone_e164, status, note, review_delay_hours)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, a.ID, a.StartAt, a.DurationMin, a.Chair, nullable(a.ContactID), a.PatientName, a.PhoneE164, string(a.Status), a.Note, a.ReviewDelayHours).Scan(&a.CreatedAt)
	if err != nil {
		if db.IsForeignKeyViolation(err) {
			return model.Appointment{}, apperr.NotFound("contact", a.ContactID)
		}
		return model.Appointment{}, apperr.Store("insert appointment", a.ID, err)
	}
	return a, nil
}

func (r *Appointments) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.db.QueryRow(ctx, `SELECT `+appointmentColumns+appointmentFrom+` WHERE a.id = $1`, id)
	a, err := r.scan(row)
	if err != nil {
		if db.IsNoRows(err) {
			return model.Appointment{}, apperr.NotFound("appointment", id)
		}
		return model.Appointment{}, apperr.Store("get appointment", id, err)
	}
	return a, nil
}

// ListBetween returns appointments starting in [from, to), ascending by start.
// When statuses is non-empty only those statuses are returned.
func (r *Appointments) ListBetween(ctx context.Context, from, to time.Time, statuses ...string) ([]model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + appointmentFrom + `
		WHERE ` + startExpr + ` >= $1 AND ` + startExpr + ` < $2`
	args := []any{from.UTC(), to.UTC()}
	if len(statuses) > 0 {
		query += ` AND a.status = ANY($3)`
		args = append(args, statuses)
	}
	query += ` ORDER BY ` + startExpr + `, a.id`

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, apperr.Store("list appointments", "", err)
	}
	return r.collect(rows, "list appointments")
}

// ListUnnotified returns active appointments created before createdBefore,
// starting after startAfter, that have a phone and no notification rows at
// all. These are the leftovers of a partial write. Appointments without a
// phone never get rows and are excluded so they cannot fill the batch.
func (r *Appointments) ListUnnotified(ctx context.Context, createdBefore, startAfter time.Time, limit int) ([]model.Appointment, error) {
	rows, err := r.db.Query(ctx, `SELECT `+appointmentColumns+appointmentFrom+`
		WHERE a.created_at < $1
		  AND `+startExpr+` > $2
		  AND a.status = ANY($3)
		  AND COALESCE(NULLIF(c.phone_e164, ''), NULLIF(a.phone_e164, '')) IS NOT NULL
		  AND NOT EXISTS (SELECT 1 FROM notifications n WHERE n.appointment_id = a.id)
		ORDER BY `+startExpr+`
		LIMIT $4`, createdBefore.UTC(), startAfter.UTC(), model.ActiveStatuses, limit)
	if err != nil {
		return nil, apperr.Store("list unnotified appointments", "", err)
	}
	return r.collect(rows, "list unnotified appointments")
}

func (r *Appointments) collect(rows pgx.Rows, op string) ([]model.Appointment, error) {
	defer rows.Close()
	out := []model.Appointment{}
	for rows.Next() {
		a, err := r.scan(rows)
		if errors.Is(err, errNoStart) {
			r.logger.Error("appointment without start time skipped", "appointment_id", a.ID)
			continue
		}
		if err != nil {
			return nil, apperr.Store(op, "", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(op, "", err)
	}
	return out, nil
}

func (r *Appointments) scan(row pgx.Row) (model.Appointment, error) {
	var (
		a      model.Appointment
		start  *time.Time
		legacy *time.Time
		status string
	)
	if err := row.Scan(&a.ID, &start, &legacy, &a.DurationMin, &a.Chair, &a.ContactID, &a.PatientName, &a.PhoneE164, &status, &a.Note, &a.ReviewDelayHours, &a.CreatedAt); err != nil {
		return model.Appointment{}, err
	}
	a.Status = model.AppointmentStatus(status)
	switch {
	case start != nil:
		a.StartAt = start.UTC()
	case legacy != nil:
		r.logger.Warn("appointment read from legacy appointment_at column", "appointment_id", a.ID)
		a.StartAt = legacy.UTC()
	default:
		return a, errNoStart
	}
	a.PatientName = strings.TrimSpace(a.PatientName)
	return a, nil
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// placeholders renders "($1, $2, $3), ($4, $5, $6)" for rows x cols.
func placeholders(rows, cols int) string {
	var b strings.Builder
	n := 1
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := 0; j < cols; j++ {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", n)
			n++
		}
		b.WriteByte(')')
	}
	return b.String()
}
