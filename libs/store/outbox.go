package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/db"
	otelx "github.com/vdental/chairbook/libs/otel"
)

// Event is the envelope written to outbox_events. The Kafka topic is the
// event type.
type Event struct {
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       any
}

const (
	EventAppointmentBooked  = "appointment.booked.v1"
	EventNotificationSent   = "notification.sent.v1"
	EventNotificationFailed = "notification.failed.v1"
)

type OutboxRecord struct {
	ID            int64
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
	Traceparent   string
	Tracestate    string
	CreatedAt     time.Time
}

type Outbox struct {
	db db.DBTX
}

func NewOutbox(conn db.DBTX) *Outbox {
	return &Outbox{db: conn}
}

func (r *Outbox) Insert(ctx context.Context, evt Event) error {
	payload, err := json.Marshal(evt.Payload)
	if err != nil {
		return err
	}
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	_, err = r.db.Exec(ctx, `
		INSERT INTO outbox_events (event_id, aggregate_type, aggregate_id, event_type, payload, traceparent, tracestate)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), evt.AggregateType, evt.AggregateID, evt.EventType, payload, traceparent, tracestate)
	return apperr.Store("insert outbox event", evt.AggregateID, err)
}

// FetchUnpublished locks up to limit unpublished rows. Run it inside a
// transaction so concurrent publishers skip each other's rows.
func (r *Outbox) FetchUnpublished(ctx context.Context, tx db.DBTX, limit int) ([]OutboxRecord, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, event_id::text, aggregate_type, aggregate_id, event_type, payload,
		       COALESCE(traceparent, ''), COALESCE(tracestate, ''), created_at
		FROM outbox_events
		WHERE published_at IS NULL
		ORDER BY id
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []OutboxRecord
	for rows.Next() {
		var rcd OutboxRecord
		if err := rows.Scan(&rcd.ID, &rcd.EventID, &rcd.AggregateType, &rcd.AggregateID, &rcd.EventType, &rcd.Payload, &rcd.Traceparent, &rcd.Tracestate, &rcd.CreatedAt); err != nil {
			return nil, err
		}
		records = append(records, rcd)
	}
	return records, rows.Err()
}

func (r *Outbox) MarkPublished(ctx context.Context, tx db.DBTX, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE outbox_events
		SET published_at = now()
		WHERE id = ANY($1)
	`, ids)
	return err
}
