package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/vdental/chairbook/libs/auth"
	"github.com/vdental/chairbook/libs/clinic"
	"github.com/vdental/chairbook/libs/config"
	"github.com/vdental/chairbook/libs/db"
	"github.com/vdental/chairbook/libs/grpcx"
	"github.com/vdental/chairbook/libs/httpx"
	"github.com/vdental/chairbook/libs/kafkax"
	"github.com/vdental/chairbook/libs/metrics"
	otelx "github.com/vdental/chairbook/libs/otel"
	"github.com/vdental/chairbook/libs/runtime"
	"github.com/vdental/chairbook/libs/store"
	"github.com/vdental/chairbook/services/scheduler-service/internal/dispatch"
	"github.com/vdental/chairbook/services/scheduler-service/internal/outbox"

	_ "time/tzdata"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "scheduler-service")
	port, err := config.Port("PORT", "8087")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(context.Background())
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	settings, err := clinic.FromEnv()
	if err != nil {
		logger.Error("clinic settings invalid", "err", err)
		os.Exit(1)
	}
	keys, err := auth.NewKeyChecker(config.String("ADMIN_TOKEN", ""), config.String("ADMIN_TOKEN_BCRYPT", ""))
	if err != nil {
		logger.Error("api key not configured", "err", err)
		os.Exit(1)
	}
	sender, err := newSender(logger)
	if err != nil {
		logger.Error("whatsapp sender not configured", "err", err)
		os.Exit(1)
	}
	dispatchCfg, sched, err := dispatchConfig(settings)
	if err != nil {
		logger.Error("scheduler settings invalid", "err", err)
		os.Exit(1)
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	reg := metrics.Registry()
	httpMetrics := metrics.NewHTTPMetrics(reg, service)

	outboxRepo := store.NewOutbox(pool)
	dispatcher := dispatch.New(dispatch.Deps{
		Appointments:  store.NewAppointments(pool, logger),
		Notifications: store.NewNotifications(pool),
		Events:        outboxRepo,
		Sender:        sender,
		Planner:       settings.Planner,
		Metrics:       metrics.NewReminderMetrics(reg),
		Logger:        logger,
	}, dispatchCfg)
	go dispatcher.Run(ctx, sched)

	brokers := config.String("KAFKA_BROKERS", "")
	publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   brokers,
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go publisher.Run(ctx)

	grpcPort, err := config.Port("GRPC_PORT", "9087")
	if err != nil {
		panic(err)
	}
	grpcSrv := grpcx.NewServer(logger)
	go func() {
		if err := grpcSrv.Serve(ctx, ":"+grpcPort); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	if brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", metrics.Handler(reg))
	dispatch.RegisterTriggers(mux, dispatcher, keys.Middleware, logger)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		// innermost so the mux pattern is visible on the request it logs
		httpx.WithAccessLog(logger, httpMetrics),
	)
	handler = otelhttp.NewHandler(handler, "scheduler")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "provider", sender.ProviderID(), "clinic_zone", settings.Zone.Name())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

// dispatchConfig reads the job tuning and the in-process trigger schedule.
// EMBEDDED_TRIGGERS=false leaves all scheduling to external cron hitting the
// /internal/jobs endpoints.
func dispatchConfig(settings clinic.Settings) (dispatch.Config, dispatch.Schedule, error) {
	var (
		cfg   dispatch.Config
		sched dispatch.Schedule
		err   error
	)
	if cfg.BatchSize, err = config.Int("SEND_BATCH_SIZE", 50); err != nil {
		return cfg, sched, err
	}
	if cfg.Concurrency, err = config.Int("SEND_CONCURRENCY", 4); err != nil {
		return cfg, sched, err
	}
	if cfg.SendTimeout, err = config.Duration("SEND_TIMEOUT", 10*time.Second); err != nil {
		return cfg, sched, err
	}
	if cfg.StuckAfter, err = config.Duration("STUCK_SENDING_AFTER", 15*time.Minute); err != nil {
		return cfg, sched, err
	}
	if cfg.RepairGrace, err = config.Duration("REPAIR_GRACE", 10*time.Minute); err != nil {
		return cfg, sched, err
	}

	embedded, err := config.Bool("EMBEDDED_TRIGGERS", true)
	if err != nil || !embedded {
		return cfg, sched, err
	}
	if sched.PollEvery, err = config.Duration("POLL_EVERY", 30*time.Second); err != nil {
		return cfg, sched, err
	}
	if sched.SweepEvery, err = config.Duration("SWEEP_EVERY", 5*time.Minute); err != nil {
		return cfg, sched, err
	}
	if sched.RepairEvery, err = config.Duration("REPAIR_EVERY", 15*time.Minute); err != nil {
		return cfg, sched, err
	}
	at := settings.DailyEnqueueAt
	sched.DailyAt = &at
	return cfg, sched, nil
}
