// Command gateway runs the inbound webhook gateway: the encrypted
// interactive-form endpoint and the admission-controlled message webhook.
package main

import (
	"context"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/go-redis/redis/v8"
	_ "github.com/lib/pq"

	"github.com/shule-ai/tutor-gateway/internal/app"
	"github.com/shule-ai/tutor-gateway/internal/app/storage/postgres"
	"github.com/shule-ai/tutor-gateway/internal/app/storage/redis"
	"github.com/shule-ai/tutor-gateway/internal/config"
	"github.com/shule-ai/tutor-gateway/pkg/logger"
)

const shutdownTimeout = 20 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.NewDefault("gateway").WithError(err).Error("configuration invalid")
		os.Exit(1)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
	}, "gateway")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	stores, cleanup, err := buildStores(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Error("storage init failed")
		os.Exit(1)
	}
	defer cleanup()

	application, err := app.New(cfg, stores, nil, log)
	if err != nil {
		log.WithError(err).Error("wiring failed")
		os.Exit(1)
	}

	srv := &http.Server{
		Addr:              cfg.Server.ListenAddr,
		Handler:           application.Handler.Router(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", cfg.Server.ListenAddr).Info("gateway listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-errCh:
		log.WithError(err).Error("server stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("forced shutdown")
	}
	application.Shutdown()
	log.Info("gateway stopped")
}

// buildStores connects Redis for counters and, when DATABASE_URL is set,
// Postgres for user data. Absent backends fall back to the in-memory
// store inside app.New.
func buildStores(ctx context.Context, cfg config.Config, log *logger.Logger) (app.Stores, func(), error) {
	var stores app.Stores
	cleanups := []func(){}
	cleanup := func() {
		for _, fn := range cleanups {
			fn()
		}
	}

	if cfg.Redis.Addr != "" {
		cli := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := cli.Ping(pingCtx).Err()
		cancel()
		if err != nil {
			cleanup()
			return app.Stores{}, nil, err
		}
		cleanups = append(cleanups, func() { _ = cli.Close() })
		stores.Counters = redis.NewCounterStore(cli)
		log.WithField("addr", cfg.Redis.Addr).Info("redis counter store connected")
	} else {
		log.Warn("REDIS_ADDR not set, counters are in-memory and reset on restart")
	}

	if cfg.Postgres != "" {
		db, err := sql.Open("postgres", cfg.Postgres)
		if err != nil {
			cleanup()
			return app.Stores{}, nil, err
		}
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = db.PingContext(pingCtx)
		cancel()
		if err != nil {
			cleanup()
			return app.Stores{}, nil, err
		}
		cleanups = append(cleanups, func() { _ = db.Close() })
		pg := postgres.New(db)
		stores.Users = pg
		stores.Subjects = pg
		log.Info("postgres user store connected")
	} else {
		log.Warn("DATABASE_URL not set, user data is in-memory")
	}

	return stores, cleanup, nil
}
