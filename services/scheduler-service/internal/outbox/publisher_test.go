package outbox

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vdental/chairbook/libs/kafkax"
	"github.com/vdental/chairbook/libs/store"
)

var outboxCols = []string{"id", "event_id", "aggregate_type", "aggregate_id", "event_type", "payload", "traceparent", "tracestate", "created_at"}

type recordingWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *recordingWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func newPublisher(t *testing.T) (*Publisher, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewPublisher(mock, store.NewOutbox(mock), logger, PublisherConfig{Brokers: "kafka:9092", BatchSize: 10}), mock
}

func TestPublishBatch(t *testing.T) {
	p, mock := newPublisher(t)
	created := time.Date(2025, 3, 20, 9, 0, 0, 0, time.UTC)

	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events WHERE published_at IS NULL").WithArgs(10).
		WillReturnRows(pgxmock.NewRows(outboxCols).
			AddRow(int64(1), "e1", "appointment", "a1", store.EventAppointmentBooked, []byte(`{"appointment_id":"a1"}`), "", "", created).
			AddRow(int64(2), "e2", "notification", "a1", store.EventNotificationSent, []byte(`{"notification_id":"n1"}`), "00-4bf92f3577b34da6a3ce929d0e0e4736-00f067aa0ba902b7-01", "", created))
	mock.ExpectExec("SET published_at = now()").WithArgs([]int64{1, 2}).
		WillReturnResult(pgxmock.NewResult("UPDATE", 2))
	mock.ExpectCommit()

	w := &recordingWriter{}
	n, err := p.publishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, w.msgs, 2)

	assert.Equal(t, store.EventAppointmentBooked, w.msgs[0].Topic)
	assert.Equal(t, "a1", string(w.msgs[0].Key))
	assert.Equal(t, "e1", kafkax.HeaderValue(w.msgs[0].Headers, kafkax.HeaderEventID))
	assert.Equal(t, store.EventNotificationSent, kafkax.HeaderValue(w.msgs[1].Headers, kafkax.HeaderEventType))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchEmpty(t *testing.T) {
	p, mock := newPublisher(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).WillReturnRows(pgxmock.NewRows(outboxCols))
	mock.ExpectCommit()

	w := &recordingWriter{}
	n, err := p.publishBatch(context.Background(), w)
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, w.msgs)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPublishBatchWriteErrorLeavesRowsUnpublished(t *testing.T) {
	p, mock := newPublisher(t)
	mock.ExpectBegin()
	mock.ExpectQuery("FROM outbox_events").WithArgs(10).
		WillReturnRows(pgxmock.NewRows(outboxCols).
			AddRow(int64(7), "e7", "appointment", "a7", store.EventAppointmentBooked, []byte(`{}`), "", "", time.Now()))
	mock.ExpectRollback()

	_, err := p.publishBatch(context.Background(), &recordingWriter{err: errors.New("broker unavailable")})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRunWithoutBrokersReturns(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := NewPublisher(nil, nil, logger, PublisherConfig{})
	done := make(chan struct{})
	go func() {
		p.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run should return immediately without brokers")
	}
}
