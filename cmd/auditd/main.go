// Command auditd runs the audit trail service: the HTTP query surface, the
// request-context propagation middleware, and the scheduled retention
// cleaner.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/robfig/cron/v3"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/certledger/audittrail/pkg/audit"
	"github.com/certledger/audittrail/pkg/config"
	"github.com/certledger/audittrail/pkg/observability"
	"github.com/certledger/audittrail/pkg/requestctx"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		os.Stderr.WriteString("failed to load configuration: " + err.Error() + "\n")
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg.Log.Level, os.Stdout)
	metrics := observability.NewMetrics(prometheus.NewRegistry())

	db, err := sql.Open("postgres", cfg.Audit.PostgresURL)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open database connection")
	}
	defer db.Close()

	if err := db.Ping(); err != nil {
		logger.WithError(err).Fatal("Failed to ping database")
	}

	store, err := audit.NewPostgresStore(db)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize audit store")
	}

	writer := audit.NewWriter(store, logger, metrics)
	exporter := audit.NewExporter(store, metrics)
	handlers := audit.NewHandlers(store, exporter, logger)

	var redisClient *redis.Client
	var ctxStore requestctx.Store
	if cfg.Audit.RedisAddr != "" {
		redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Audit.RedisAddr,
			Password: cfg.Audit.RedisPassword,
			DB:       cfg.Audit.RedisDB,
		})
		defer redisClient.Close()
		ctxStore = requestctx.NewRedisStore(redisClient, "requestctx")
		logger.WithField("addr", cfg.Audit.RedisAddr).Info("Using redis request-context store")
	} else {
		ctxStore = requestctx.NewMemoryStore()
	}

	contextMiddleware := requestctx.NewMiddleware(ctxStore, logger, metrics)

	router := mux.NewRouter()
	router.Use(observability.Recovery(logger))
	router.Use(observability.RequestLogging(logger, metrics))
	router.Use(contextMiddleware.Handler)
	handlers.RegisterRoutes(router)

	// Retention cleanup on a daily schedule.
	cleaner := audit.NewCleaner(writer, store, logger, metrics, cfg.Audit.RetentionDays)
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.Audit.CleanupSchedule, func() {
		cleaner.Run(context.Background())
	}); err != nil {
		logger.WithError(err).Fatal("Invalid cleanup schedule")
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Health and metrics endpoints on a separate port for probes.
	health := observability.NewHealthChecker(db, redisClient)
	healthMux := http.NewServeMux()
	healthMux.HandleFunc("/healthz", health.Liveness)
	healthMux.HandleFunc("/readyz", health.Readiness)
	healthMux.Handle("/metrics", metrics.Handler())
	healthServer := &http.Server{
		Addr:    cfg.Server.Host + ":" + cfg.Server.HealthPort,
		Handler: healthMux,
	}
	go func() {
		if err := healthServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Error("Health server failed")
		}
	}()

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      otelhttp.NewHandler(router, "audittrail"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.WithField("addr", server.Addr).Info("Audit trail service listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("HTTP server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Graceful shutdown failed")
	}
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.WithError(err).Error("Health server shutdown failed")
	}
}
