package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/db"
	"github.com/vdental/chairbook/libs/model"
	otelx "github.com/vdental/chairbook/libs/otel"
)

const notificationColumns = `id::text, appointment_id::text, kind, due_at, status,
	COALESCE(body, ''), COALESCE(phone_e164, ''), claimed_at, sent_at,
	COALESCE(last_error, ''), COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at`

const insertNotificationCols = 9

// Notifications owns the notification state machine:
// pending -> sending (Claim) -> sent (MarkSent) | failed (MarkFailed, FailStuck).
// Every transition is a conditional UPDATE on the current status.
type Notifications struct {
	db db.DBTX
}

func NewNotifications(conn db.DBTX) *Notifications {
	return &Notifications{db: conn}
}

// InsertPending inserts the rows as pending in one statement. Rows that would
// give an (appointment_id, kind) pair a second non-failed notification are
// dropped by the partial unique index; the rows actually inserted are
// returned, in input order.
func (r *Notifications) InsertPending(ctx context.Context, ns []model.Notification) ([]model.Notification, error) {
	if len(ns) == 0 {
		return nil, nil
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	args := make([]any, 0, len(ns)*insertNotificationCols)
	for i := range ns {
		n := &ns[i]
		if n.ID == "" {
			n.ID = uuid.NewString()
		}
		if n.Traceparent == "" {
			n.Traceparent, n.Tracestate = traceparent, tracestate
		}
		args = append(args, n.ID, n.AppointmentID, string(n.Kind), n.DueAt.UTC(), string(model.NotificationPending),
			n.Body, n.PhoneE164, n.Traceparent, n.Tracestate)
	}
	rows, err := r.db.Query(ctx, `
		INSERT INTO notifications (id, appointment_id, kind, due_at, status, body, phone_e164, traceparent, tracestate)
		VALUES `+placeholders(len(ns), insertNotificationCols)+`
		ON CONFLICT DO NOTHING
		RETURNING id::text
	`, args...)
	if err != nil {
		return nil, apperr.Store("insert notifications", ns[0].AppointmentID, err)
	}
	defer rows.Close()
	ids := make(map[string]bool, len(ns))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Store("insert notifications", ns[0].AppointmentID, err)
		}
		ids[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("insert notifications", ns[0].AppointmentID, err)
	}
	inserted := make([]model.Notification, 0, len(ids))
	for _, n := range ns {
		if ids[n.ID] {
			n.Status = model.NotificationPending
			inserted = append(inserted, n)
		}
	}
	return inserted, nil
}

// AppointmentsWithKind returns which of ids already have a notification of
// kind, in any status. A failed row counts: it is only replaced by an explicit
// requeue.
func (r *Notifications) AppointmentsWithKind(ctx context.Context, kind model.NotificationKind, ids []string) (map[string]bool, error) {
	out := make(map[string]bool, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	rows, err := r.db.Query(ctx, `
		SELECT DISTINCT appointment_id::text
		FROM notifications
		WHERE kind = $1 AND appointment_id = ANY($2::uuid[])
	`, string(kind), ids)
	if err != nil {
		return nil, apperr.Store("find existing notifications", "", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, apperr.Store("find existing notifications", "", err)
		}
		out[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("find existing notifications", "", err)
	}
	return out, nil
}

// FetchDue lists pending rows whose due_at is not after now, oldest first.
// It does not lock; Claim decides who sends.
func (r *Notifications) FetchDue(ctx context.Context, now time.Time, limit int) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE status = 'pending' AND due_at <= $1
		ORDER BY due_at, id
		LIMIT $2
	`, now.UTC(), limit)
	if err != nil {
		return nil, apperr.Store("fetch due notifications", "", err)
	}
	return collectNotifications(rows, "fetch due notifications")
}

// Claim moves a row from pending to sending. It reports false, with no error,
// when another worker claimed the row first.
func (r *Notifications) Claim(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET status = 'sending', claimed_at = $2
		WHERE id = $1 AND status = 'pending'
	`, id, now.UTC())
	if err != nil {
		return false, apperr.Store("claim notification", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *Notifications) MarkSent(ctx context.Context, id string, at time.Time) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET status = 'sent', sent_at = $2, last_error = NULL
		WHERE id = $1 AND status = 'sending'
	`, id, at.UTC())
	if err != nil {
		return apperr.Store("mark notification sent", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("notification " + id + " is no longer sending")
	}
	return nil
}

func (r *Notifications) MarkFailed(ctx context.Context, id, reason string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE notifications
		SET status = 'failed', last_error = $2
		WHERE id = $1 AND status = 'sending'
	`, id, reason)
	if err != nil {
		return apperr.Store("mark notification failed", id, err)
	}
	if tag.RowsAffected() == 0 {
		return apperr.Conflict("notification " + id + " is no longer sending")
	}
	return nil
}

// FailStuck fails every row claimed before claimedBefore that never reached
// a terminal state. The returned rows carry only ID, AppointmentID and Kind.
func (r *Notifications) FailStuck(ctx context.Context, claimedBefore time.Time, reason string) ([]model.Notification, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE notifications
		SET status = 'failed', last_error = $2
		WHERE status = 'sending' AND claimed_at < $1
		RETURNING id::text, appointment_id::text, kind
	`, claimedBefore.UTC(), reason)
	if err != nil {
		return nil, apperr.Store("fail stuck notifications", "", err)
	}
	defer rows.Close()
	var failed []model.Notification
	for rows.Next() {
		var n model.Notification
		var kind string
		if err := rows.Scan(&n.ID, &n.AppointmentID, &kind); err != nil {
			return nil, apperr.Store("fail stuck notifications", "", err)
		}
		n.Kind = model.NotificationKind(kind)
		n.Status = model.NotificationFailed
		n.LastError = reason
		failed = append(failed, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store("fail stuck notifications", "", err)
	}
	return failed, nil
}

func (r *Notifications) Get(ctx context.Context, id string) (model.Notification, error) {
	n, err := scanNotification(r.db.QueryRow(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = $1`, id))
	if err != nil {
		if db.IsNoRows(err) {
			return model.Notification{}, apperr.NotFound("notification", id)
		}
		return model.Notification{}, apperr.Store("get notification", id, err)
	}
	return n, nil
}

type ListFilter struct {
	Status model.NotificationStatus
	Limit  int
}

const DefaultListLimit = 200

// List returns the most recent notifications by due_at for the operator log.
func (r *Notifications) List(ctx context.Context, f ListFilter) ([]model.Notification, error) {
	if f.Limit <= 0 {
		f.Limit = DefaultListLimit
	}
	rows, err := r.db.Query(ctx, `
		SELECT `+notificationColumns+`
		FROM notifications
		WHERE $1 = '' OR status = $1
		ORDER BY due_at DESC, id
		LIMIT $2
	`, string(f.Status), f.Limit)
	if err != nil {
		return nil, apperr.Store("list notifications", "", err)
	}
	return collectNotifications(rows, "list notifications")
}

// Requeue copies a failed notification into a fresh pending row due at now.
// The failed row stays as history.
func (r *Notifications) Requeue(ctx context.Context, id string, now time.Time) (model.Notification, error) {
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	n, err := scanNotification(r.db.QueryRow(ctx, `
		INSERT INTO notifications (id, appointment_id, kind, due_at, status, body, phone_e164, traceparent, tracestate)
		SELECT $2, appointment_id, kind, $3, 'pending', body, phone_e164, $4, $5
		FROM notifications
		WHERE id = $1 AND status = 'failed'
		ON CONFLICT DO NOTHING
		RETURNING `+notificationColumns,
		id, uuid.NewString(), now.UTC(), traceparent, tracestate))
	if err == nil {
		return n, nil
	}
	if !db.IsNoRows(err) {
		return model.Notification{}, apperr.Store("requeue notification", id, err)
	}

	cur, err := r.Get(ctx, id)
	if err != nil {
		return model.Notification{}, err
	}
	if cur.Status != model.NotificationFailed {
		return model.Notification{}, apperr.Conflict("only failed notifications can be requeued (status is " + string(cur.Status) + ")")
	}
	return model.Notification{}, apperr.Conflict("appointment " + cur.AppointmentID + " already has an active " + string(cur.Kind) + " notification")
}

func collectNotifications(rows pgx.Rows, op string) ([]model.Notification, error) {
	defer rows.Close()
	out := []model.Notification{}
	for rows.Next() {
		n, err := scanNotification(rows)
		if err != nil {
			return nil, apperr.Store(op, "", err)
		}
		out = append(out, n)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Store(op, "", err)
	}
	return out, nil
}

func scanNotification(row pgx.Row) (model.Notification, error) {
	var (
		n      model.Notification
		kind   string
		status string
	)
	err := row.Scan(&n.ID, &n.AppointmentID, &kind, &n.DueAt, &status, &n.Body, &n.PhoneE164,
		&n.ClaimedAt, &n.SentAt, &n.LastError, &n.Traceparent, &n.Tracestate, &n.CreatedAt)
	if err != nil {
		return model.Notification{}, err
	}
	n.Kind = model.NotificationKind(kind)
	n.Status = model.NotificationStatus(status)
	return n, nil
}
