// Command server runs the result storage and audit ledger service. main
// wires dependencies and the server lifecycle; business logic lives in the
// internal packages.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"

	"psymetric/internal/archive"
	"psymetric/internal/audit"
	"psymetric/internal/gate"
	"psymetric/internal/platform/config"
	"psymetric/internal/platform/httpserver"
	"psymetric/internal/platform/logger"
	"psymetric/internal/platform/metrics"
	platformredis "psymetric/internal/platform/redis"
	"psymetric/internal/reconcile"
	"psymetric/internal/result/store"
	transport "psymetric/internal/transport/http"
	"psymetric/internal/transport/http/handlers"
	"psymetric/internal/transport/http/middleware"
)

func main() {
	_ = godotenv.Load()

	cfg := config.FromEnv()
	log := logger.New()
	m := metrics.New()

	// Canonical store: postgres when configured, in-memory for local runs.
	var (
		results store.Store
		db      *sql.DB
	)
	if cfg.DatabaseURL != "" {
		var err error
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Error("open database", "error", err)
			os.Exit(1)
		}
		defer db.Close()
		results = store.NewPostgres(db)
	} else {
		log.Warn("DATABASE_URL not set, using in-memory stores")
		results = store.NewInMemory()
	}

	var auditStore audit.Store
	if db != nil {
		auditStore = audit.NewPostgresStore(db)
	} else {
		auditStore = audit.NewInMemoryStore()
	}

	writer, err := archive.NewWriter(cfg.ArchiveRoot)
	if err != nil {
		log.Error("init archive", "error", err)
		os.Exit(1)
	}

	var auditOpts []audit.Option
	if len(cfg.Kafka.Brokers) > 0 {
		mirror, err := audit.NewKafkaMirror(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			log.Error("init kafka mirror", "error", err)
			os.Exit(1)
		}
		defer mirror.Close(context.Background())
		auditOpts = append(auditOpts, audit.WithMirror(mirror))
	}
	auditLog := audit.NewLogger(auditStore, log, m, auditOpts...)
	auditQuery := audit.NewQueryService(auditStore, auditLog, log)

	queue := archive.NewQueue(writer, log, m, cfg.ArchiveQueueSize, cfg.ArchiveRetryBase)
	accessGate := gate.New(results, writer, queue, auditLog, auditQuery, log, m)

	var watermarks reconcile.WatermarkStore = reconcile.NewMemoryWatermarks()
	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("init redis", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		watermarks = reconcile.NewRedisWatermarks(redisClient.Client)
	}
	scanner := reconcile.NewScanner(results, writer, watermarks, nil, log, m)

	var healthChecks []transport.HealthCheck
	if db != nil {
		healthChecks = append(healthChecks, db.PingContext)
	}
	if redisClient != nil {
		healthChecks = append(healthChecks, redisClient.Health)
	}

	authProvider := middleware.NewJWTAuthProvider(cfg.JWTSigningKey, log)
	router := transport.NewRouter(authProvider,
		handlers.NewResultHandler(accessGate, log),
		handlers.NewAuditHandler(accessGate, log),
		healthChecks...,
	)

	srv := httpserver.New(cfg.Addr, router)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go queue.Run(ctx)
	go auditLog.Run(ctx)
	if cfg.ReconcileInterval > 0 {
		go runScheduledScans(ctx, scanner, cfg.ReconcileInterval, log)
	}

	go func() {
		log.Info("starting psymetric", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
	}

	// Let background workers drain before the process exits.
	queue.Wait()
	auditLog.Wait()
}

func runScheduledScans(ctx context.Context, scanner *reconcile.Scanner, interval time.Duration, log *slog.Logger) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := scanner.Run(ctx); err != nil {
				log.Error("reconciliation scan failed", "error", err)
			}
		}
	}
}
