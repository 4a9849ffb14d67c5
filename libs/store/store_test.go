package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/model"
)

var notificationCols = []string{"id", "appointment_id", "kind", "due_at", "status", "body", "phone_e164",
	"claimed_at", "sent_at", "last_error", "traceparent", "tracestate", "created_at"}

var appointmentCols = []string{"id", "start_at", "appointment_at", "duration_min", "chair", "contact_id",
	"patient_name", "phone_e164", "status", "note", "review_delay_hours", "created_at"}

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock
}

func TestClaimUsesRowsAffected(t *testing.T) {
	mock := newMock(t)
	repo := NewNotifications(mock)
	now := time.Date(2025, 3, 31, 5, 0, 0, 0, time.UTC)

	mock.ExpectExec("UPDATE notifications\\s+SET status = 'sending'").
		WithArgs("n1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE notifications\\s+SET status = 'sending'").
		WithArgs("n1", now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	won, err := repo.Claim(context.Background(), "n1", now)
	require.NoError(t, err)
	assert.True(t, won)

	won, err = repo.Claim(context.Background(), "n1", now)
	require.NoError(t, err)
	assert.False(t, won, "second claim must lose")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPendingReportsInsertedRows(t *testing.T) {
	mock := newMock(t)
	repo := NewNotifications(mock)
	due := time.Date(2025, 3, 30, 17, 0, 0, 0, time.UTC)

	args := make([]any, 27)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectQuery("INSERT INTO notifications .* VALUES \\(\\$1, .*\\), \\(\\$10, .*\\), \\(\\$19, .*\\) ON CONFLICT DO NOTHING RETURNING id::text").
		WithArgs(args...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow("n2"))

	ns := []model.Notification{
		{ID: "n1", AppointmentID: "a1", Kind: model.KindDayBefore, DueAt: due, Body: "x", PhoneE164: "+393331234567"},
		{ID: "n2", AppointmentID: "a2", Kind: model.KindReview, DueAt: due, Body: "y", PhoneE164: "+393331234568"},
		{AppointmentID: "a3", Kind: model.KindSameDay, DueAt: due, Body: "z"},
	}
	inserted, err := repo.InsertPending(context.Background(), ns)
	require.NoError(t, err)
	require.Len(t, inserted, 1)
	assert.Equal(t, "n2", inserted[0].ID)
	assert.Equal(t, model.KindReview, inserted[0].Kind)
	assert.Equal(t, model.NotificationPending, inserted[0].Status)
	assert.NotEmpty(t, ns[2].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestInsertPendingWrapsStoreError(t *testing.T) {
	mock := newMock(t)
	repo := NewNotifications(mock)
	args := make([]any, 9)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	mock.ExpectQuery("INSERT INTO notifications").WithArgs(args...).WillReturnError(errors.New("connection reset"))

	_, err := repo.InsertPending(context.Background(), []model.Notification{{AppointmentID: "a1", Kind: model.KindReview}})
	var storeErr *apperr.StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "a1", storeErr.EntityID)
}

func TestFetchDueScansRows(t *testing.T) {
	mock := newMock(t)
	repo := NewNotifications(mock)
	now := time.Date(2025, 3, 31, 5, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(notificationCols).
		AddRow("n1", "a1", "same_day", now.Add(-time.Minute), "pending", "Ciao", "+393331234567", nil, nil, "", "", "", now.Add(-time.Hour))
	mock.ExpectQuery("FROM notifications\\s+WHERE status = 'pending' AND due_at <= \\$1").
		WithArgs(now, 50).
		WillReturnRows(rows)

	due, err := repo.FetchDue(context.Background(), now, 50)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, model.KindSameDay, due[0].Kind)
	assert.Equal(t, model.NotificationPending, due[0].Status)
	assert.Nil(t, due[0].ClaimedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkSentRequiresSending(t *testing.T) {
	mock := newMock(t)
	repo := NewNotifications(mock)
	at := time.Date(2025, 3, 31, 5, 0, 3, 0, time.UTC)

	mock.ExpectExec("SET status = 'sent'").WithArgs("n1", at).WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	err := repo.MarkSent(context.Background(), "n1", at)
	var conflict *apperr.ConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestFailStuck(t *testing.T) {
	mock := newMock(t)
	repo := NewNotifications(mock)
	cutoff := time.Date(2025, 3, 31, 4, 45, 0, 0, time.UTC)

	mock.ExpectQuery("SET status = 'failed'.*WHERE status = 'sending' AND claimed_at < \\$1").
		WithArgs(cutoff, "stuck").
		WillReturnRows(pgxmock.NewRows([]string{"id", "appointment_id", "kind"}).
			AddRow("n1", "a1", "same_day").
			AddRow("n2", "a2", "review"))

	failed, err := repo.FailStuck(context.Background(), cutoff, "stuck")
	require.NoError(t, err)
	require.Len(t, failed, 2)
	assert.Equal(t, "n1", failed[0].ID)
	assert.Equal(t, "a1", failed[0].AppointmentID)
	assert.Equal(t, model.KindSameDay, failed[0].Kind)
	assert.Equal(t, model.KindReview, failed[1].Kind)
	assert.Equal(t, "stuck", failed[1].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListUnnotifiedRequiresAPhone(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointments(mock, nil)
	createdBefore := time.Date(2025, 3, 25, 8, 50, 0, 0, time.UTC)
	now := time.Date(2025, 3, 25, 9, 0, 0, 0, time.UTC)
	start := time.Date(2025, 3, 31, 8, 0, 0, 0, time.UTC)

	mock.ExpectQuery("a.status = ANY\\(\\$3\\) "+
		"AND COALESCE\\(NULLIF\\(c.phone_e164, ''\\), NULLIF\\(a.phone_e164, ''\\)\\) IS NOT NULL "+
		"AND NOT EXISTS \\(SELECT 1 FROM notifications n WHERE n.appointment_id = a.id\\)").
		WithArgs(createdBefore, now, model.ActiveStatuses, 200).
		WillReturnRows(pgxmock.NewRows(appointmentCols).
			AddRow("orphan", &start, nil, 30, 1, "", "Maria Rossi", "+393331234567", "scheduled", "", 2, createdBefore))

	list, err := repo.ListUnnotified(context.Background(), createdBefore, now, 200)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "orphan", list[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueRejectsNonFailed(t *testing.T) {
	mock := newMock(t)
	repo := NewNotifications(mock)
	now := time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO notifications .*SELECT").
		WithArgs("n1", pgxmock.AnyArg(), now, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(notificationCols))
	mock.ExpectQuery("FROM notifications WHERE id = \\$1").
		WithArgs("n1").
		WillReturnRows(pgxmock.NewRows(notificationCols).
			AddRow("n1", "a1", "review", now, "sent", "x", "+393331234567", &now, &now, "", "", "", now))

	_, err := repo.Requeue(context.Background(), "n1", now)
	var conflict *apperr.ConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Contains(t, conflict.Msg, "only failed")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRequeueCopiesFailedRow(t *testing.T) {
	mock := newMock(t)
	repo := NewNotifications(mock)
	now := time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery("INSERT INTO notifications .*WHERE id = \\$1 AND status = 'failed'").
		WithArgs("n1", pgxmock.AnyArg(), now, pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(notificationCols).
			AddRow("n2", "a1", "review", now, "pending", "x", "+393331234567", nil, nil, "", "", "", now))

	n, err := repo.Requeue(context.Background(), "n1", now)
	require.NoError(t, err)
	assert.Equal(t, "n2", n.ID)
	assert.Equal(t, model.NotificationPending, n.Status)
}

func TestListBetweenFallsBackToLegacyStart(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointments(mock, nil)
	from := time.Date(2025, 3, 30, 22, 0, 0, 0, time.UTC)
	to := time.Date(2025, 3, 31, 22, 0, 0, 0, time.UTC)
	start := time.Date(2025, 3, 31, 8, 0, 0, 0, time.UTC)
	legacy := time.Date(2025, 3, 31, 9, 0, 0, 0, time.UTC)

	rows := pgxmock.NewRows(appointmentCols).
		AddRow("a1", &start, nil, 30, 1, "", "Maria Rossi", "+393331234567", "scheduled", "", 2, from).
		AddRow("a2", nil, &legacy, 30, 2, "c1", "Luca Bianchi", "+393331234568", "booked", "", 2, from).
		AddRow("a3", nil, nil, 30, 2, "", "Broken", "", "booked", "", 2, from)
	mock.ExpectQuery("COALESCE\\(a.start_at, a.appointment_at\\) >= \\$1 AND .* < \\$2 AND a.status = ANY\\(\\$3\\)").
		WithArgs(from, to, model.ActiveStatuses).
		WillReturnRows(rows)

	list, err := repo.ListBetween(context.Background(), from, to, model.ActiveStatuses...)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, start, list[0].StartAt)
	assert.Equal(t, legacy, list[1].StartAt)
	assert.Equal(t, "c1", list[1].ContactID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListBetweenEmpty(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointments(mock, nil)
	mock.ExpectQuery("FROM appointments a").
		WithArgs(pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnRows(pgxmock.NewRows(appointmentCols))

	list, err := repo.ListBetween(context.Background(), time.Now(), time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

func TestContactGetNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewContacts(mock)
	mock.ExpectQuery("FROM contacts WHERE id = \\$1").
		WithArgs("c404").
		WillReturnRows(pgxmock.NewRows([]string{"id", "first_name", "last_name", "phone_e164", "created_at"}))

	_, err := repo.Get(context.Background(), "c404")
	var nf *apperr.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.Equal(t, "contact", nf.Entity)
}

func TestContactSearchEscapesLike(t *testing.T) {
	mock := newMock(t)
	repo := NewContacts(mock)
	mock.ExpectQuery("ORDER BY last_name, first_name").
		WithArgs("50%_off", `%50\%\_off%`, 200).
		WillReturnRows(pgxmock.NewRows([]string{"id", "first_name", "last_name", "phone_e164", "created_at"}))

	_, err := repo.Search(context.Background(), " 50%_off ", 0)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPlaceholders(t *testing.T) {
	assert.Equal(t, "($1, $2), ($3, $4)", placeholders(2, 2))
	assert.Equal(t, "($1)", placeholders(1, 1))
}
