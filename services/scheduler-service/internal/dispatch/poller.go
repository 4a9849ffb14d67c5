package dispatch

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/vdental/chairbook/libs/apperr"
	"github.com/vdental/chairbook/libs/model"
	otelx "github.com/vdental/chairbook/libs/otel"
	"github.com/vdental/chairbook/libs/runtime"
	"github.com/vdental/chairbook/libs/store"
)

const maxErrorLen = 500

type SendReport struct {
	Due       int `json:"due"`
	Sent      int `json:"sent"`
	Failed    int `json:"failed"`
	LostClaim int `json:"lost_claim"`
	Errors    int `json:"errors"`
}

type sendOutcome int

const (
	outcomeSent sendOutcome = iota
	outcomeFailed
	outcomeLost
	outcomeError
)

// SendDue claims and sends every notification due at now. A row is sent only
// by the worker whose claim moved it from pending to sending; losers skip it.
// Transport failures end in failed with the error recorded and are never
// retried here.
func (d *Dispatcher) SendDue(ctx context.Context) (rep SendReport, err error) {
	defer func() { d.metrics.JobRun("send_due", err) }()

	due, err := d.notifications.FetchDue(ctx, d.now(), d.cfg.BatchSize)
	if err != nil {
		return rep, err
	}
	rep.Due = len(due)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.cfg.Concurrency)
	for _, n := range due {
		g.Go(func() error {
			out := d.sendOne(gctx, n)
			mu.Lock()
			defer mu.Unlock()
			switch out {
			case outcomeSent:
				rep.Sent++
			case outcomeFailed:
				rep.Failed++
			case outcomeLost:
				rep.LostClaim++
			default:
				rep.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()

	if rep.Due > 0 {
		d.logger.Info("send poll finished", "due", rep.Due, "sent", rep.Sent, "failed", rep.Failed, "lost_claim", rep.LostClaim, "errors", rep.Errors)
	}
	return rep, nil
}

func (d *Dispatcher) sendOne(ctx context.Context, n model.Notification) sendOutcome {
	ctx = otelx.ContextWithTraceContext(ctx, n.Traceparent, n.Tracestate)
	ctx, span := otelx.Tracer("scheduler/dispatch").Start(ctx, "notification.send",
		trace.WithAttributes(
			attribute.String("notification.id", n.ID),
			attribute.String("notification.kind", string(n.Kind)),
			attribute.String("appointment.id", n.AppointmentID),
		))
	defer span.End()
	log := d.logger.With("notification_id", n.ID, "appointment_id", n.AppointmentID, "kind", n.Kind)

	won, err := d.notifications.Claim(ctx, n.ID, d.now())
	if err != nil {
		span.RecordError(err)
		log.Error("claim failed", "err", err)
		return outcomeError
	}
	d.metrics.Claim(won)
	if !won {
		span.SetAttributes(attribute.Bool("claim.won", false))
		return outcomeLost
	}

	if n.PhoneE164 == "" {
		return d.fail(ctx, span, log, n, errors.New("no phone number"), "failed", 0)
	}

	start := time.Now()
	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.SendTimeout)
	err = d.sender.Send(sendCtx, n.PhoneE164, n.Body)
	if err != nil && errors.Is(sendCtx.Err(), context.DeadlineExceeded) {
		var te *apperr.TransportError
		if !errors.As(err, &te) || !te.Timeout {
			err = &apperr.TransportError{Timeout: true, Err: err}
		}
	}
	cancel()
	elapsed := time.Since(start)

	if err != nil {
		outcome := "failed"
		var te *apperr.TransportError
		if errors.As(err, &te) && te.Timeout {
			outcome = "timeout"
		}
		return d.fail(ctx, span, log, n, err, outcome, elapsed)
	}

	d.metrics.Send(string(n.Kind), "sent", elapsed)
	sentAt := d.now()
	if err := d.notifications.MarkSent(ctx, n.ID, sentAt); err != nil {
		// Delivered, but the sweep or an operator changed the row meanwhile.
		span.RecordError(err)
		log.Error("message delivered but not recorded as sent", "err", err)
		return outcomeError
	}
	log.Info("notification sent", "phone", runtime.MaskPhone(n.PhoneE164), "duration_ms", elapsed.Milliseconds())
	d.publish(ctx, n, store.EventNotificationSent, map[string]any{"sent_at": sentAt.UTC()})
	return outcomeSent
}

func (d *Dispatcher) fail(ctx context.Context, span trace.Span, log *slog.Logger, n model.Notification, cause error, outcome string, elapsed time.Duration) sendOutcome {
	reason := runtime.TruncateUTF8(cause.Error(), maxErrorLen)
	span.RecordError(cause)
	span.SetStatus(codes.Error, outcome)
	if elapsed > 0 {
		d.metrics.Send(string(n.Kind), outcome, elapsed)
	}
	if err := d.notifications.MarkFailed(ctx, n.ID, reason); err != nil {
		log.Error("failed send not recorded", "err", err, "cause", reason)
		return outcomeError
	}
	log.Warn("notification failed", "phone", runtime.MaskPhone(n.PhoneE164), "err", reason)
	d.publish(ctx, n, store.EventNotificationFailed, map[string]any{"error": reason})
	return outcomeFailed
}
