package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/subscribely/notifier/internal/api"
	"github.com/subscribely/notifier/internal/config"
	"github.com/subscribely/notifier/internal/db"
	"github.com/subscribely/notifier/internal/mail"
	"github.com/subscribely/notifier/internal/metrics"
	"github.com/subscribely/notifier/internal/observ"
	"github.com/subscribely/notifier/internal/ops"
	"github.com/subscribely/notifier/internal/redis"
	"github.com/subscribely/notifier/internal/schedule"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting subscribely notifier",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.Int("reminder_hour", cfg.ReminderHour),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)

	// Resolve the transport gateway fully before the scheduler timer is
	// registered. With no sender address configured this is a dry run;
	// a failed verification permanently downgrades to local recording.
	gateway := mail.NewGateway(ctx, mail.Config{
		Region:    cfg.AWSRegion,
		FromEmail: cfg.SESFromEmail,
	}, logger)

	// The fallback sink is local and must be writable; refusing to boot
	// here beats silently dropping notifications later.
	recorder, err := mail.NewFileRecorder(cfg.FallbackLogPath, logger)
	if err != nil {
		return fmt.Errorf("failed to open fallback recorder: %w", err)
	}
	defer recorder.Close()

	sched := schedule.New(repo, gateway, recorder, schedule.Config{
		RunHour:     cfg.ReminderHour,
		SendDelay:   time.Duration(cfg.SendDelayMS) * time.Millisecond,
		SendTimeout: time.Duration(cfg.SendTimeoutSec) * time.Second,
	}, logger)

	// Redis is optional: without it the in-process guard still prevents
	// overlapping runs within this instance.
	redisClient, err := redis.New(ctx, redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Warn("redis unavailable, cross-instance run lock disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
	} else {
		defer redisClient.Close()
		sched.UseRunLock(redis.NewRunLock(redisClient, logger, redis.DefaultRunLockTTL))
	}

	if cfg.OpsAlertTopicARN != "" {
		alerts, err := ops.NewAlertPublisher(ctx, ops.Config{
			Region:   cfg.AWSRegion,
			TopicARN: cfg.OpsAlertTopicARN,
		}, logger)
		if err != nil {
			logger.Warn("operator alerts unavailable", zap.Error(err))
		} else {
			sched.UseOpsAlerts(alerts)
		}
	}

	schedCtx, schedCancel := context.WithCancel(context.Background())
	defer schedCancel()

	go sched.Start(schedCtx)

	// Setup router
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)

	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	handler := api.NewHandler(logger, sched, repo)
	r.Route("/v1", func(r chi.Router) {
		// A manual run can scan every user; give it room.
		r.With(middleware.Timeout(5 * time.Minute)).
			Post("/reminders/run", handler.TriggerCheck)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Post("/notifications/welcome", handler.SendWelcome)
			r.Get("/delivery-logs", handler.ListDeliveryLogs)
			r.Get("/delivery-logs/stats", handler.DeliveryLogStats)
		})
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unreachable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		schedCancel()

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
