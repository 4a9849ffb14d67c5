package dispatch

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/vdental/chairbook/libs/httpx"
)

// Jobs is the trigger surface the HTTP endpoints call.
type Jobs interface {
	DailyEnqueue(ctx context.Context) (DailyReport, error)
	SendDue(ctx context.Context) (SendReport, error)
	SweepStuck(ctx context.Context) (SweepReport, error)
	Repair(ctx context.Context) (RepairReport, error)
}

// RegisterTriggers mounts POST /internal/jobs/{daily-enqueue,send-due,
// sweep-stuck,repair}. Each takes no body and answers with its report.
func RegisterTriggers(mux *http.ServeMux, jobs Jobs, guard func(http.Handler) http.Handler, logger *slog.Logger) {
	if guard == nil {
		guard = func(h http.Handler) http.Handler { return h }
	}
	mux.Handle("POST /internal/jobs/daily-enqueue", guard(trigger(logger, func(ctx context.Context) (any, error) {
		return jobs.DailyEnqueue(ctx)
	})))
	mux.Handle("POST /internal/jobs/send-due", guard(trigger(logger, func(ctx context.Context) (any, error) {
		return jobs.SendDue(ctx)
	})))
	mux.Handle("POST /internal/jobs/sweep-stuck", guard(trigger(logger, func(ctx context.Context) (any, error) {
		return jobs.SweepStuck(ctx)
	})))
	mux.Handle("POST /internal/jobs/repair", guard(trigger(logger, func(ctx context.Context) (any, error) {
		return jobs.Repair(ctx)
	})))
}

func trigger(logger *slog.Logger, run func(context.Context) (any, error)) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rep, err := run(r.Context())
		if err != nil {
			httpx.WriteError(w, r, logger, err)
			return
		}
		httpx.WriteJSON(w, http.StatusOK, rep)
	})
}
