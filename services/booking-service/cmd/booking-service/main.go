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
	"github.com/vdental/chairbook/libs/metrics"
	otelx "github.com/vdental/chairbook/libs/otel"
	"github.com/vdental/chairbook/libs/runtime"
	"github.com/vdental/chairbook/libs/store"
	"github.com/vdental/chairbook/services/booking-service/internal/booking"
	"github.com/vdental/chairbook/services/booking-service/internal/handlers"

	_ "time/tzdata"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
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
	reminderMetrics := metrics.NewReminderMetrics(reg)
	httpMetrics := metrics.NewHTTPMetrics(reg, service)

	notifications := store.NewNotifications(pool)
	bookings := booking.NewService(booking.Deps{
		Appointments:  store.NewAppointments(pool, logger),
		Contacts:      store.NewContacts(pool),
		Notifications: notifications,
		Events:        store.NewOutbox(pool),
		Planner:       settings.Planner,
		Metrics:       reminderMetrics,
		Logger:        logger,
	})

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}

	limiter, redisCheck := newLimiter(logger)
	if redisCheck != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisCheck})
	}
	if addr := config.String("SCHEDULER_GRPC_ADDR", ""); addr != "" {
		conn, err := grpcx.Dial(addr, grpcx.DialOptions{})
		if err != nil {
			logger.Error("scheduler grpc dial failed", "err", err)
		} else {
			defer conn.Close()
			checks = append(checks, runtime.ReadyCheck{Name: "scheduler", Check: grpcx.HealthReadyCheck(conn, "")})
		}
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	mux.Handle("GET /metrics", metrics.Handler(reg))
	handlers.NewAPI(bookings, notifications, settings.Zone, logger).Register(mux, keys.Middleware)

	failOpen, err := config.Bool("RATE_LIMIT_FAIL_OPEN", true)
	if err != nil {
		panic(err)
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithCORS(httpx.CORSPolicyFromList(config.String("CORS_ALLOWED_ORIGINS", ""))),
		httpx.WithRateLimit(limiter, logger, failOpen),
		httpx.WithTimeout(15*time.Second),
		httpx.WithBodyLimit(1<<20),
		// innermost so the mux pattern is visible on the request it logs
		httpx.WithAccessLog(logger, httpMetrics),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "clinic_zone", settings.Zone.Name())
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
