package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cajapos/internal/config"
	"cajapos/internal/infra"
	"cajapos/internal/metrics"
	"cajapos/internal/router"
	"cajapos/internal/service"
	"cajapos/internal/worker"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.uber.org/multierr"
	"gorm.io/gorm"
)

func main() {
	// Structured logger — dev: pretty, prod: JSON
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}
	setupLogger(cfg)

	db, err := infra.NewDatabase(infra.DatabaseOptions{
		Driver:       cfg.DBDriver,
		DSN:          cfg.DatabaseURL,
		MaxOpenConns: 25,
		MaxIdleConns: 5,
	})
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("failed to connect to database")
	}
	if cfg.AutoMigrate {
		if err := migrate(db, cfg.DBDriver); err != nil {
			log.Fatal().Err(err).Msg("failed to migrate database")
		}
	}

	var rdb *redis.Client
	if cfg.RedisURL != "" {
		rdb, err = infra.NewRedis(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to redis")
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ledger := metrics.NewLedger(reg)

	opts := router.Options{Registry: reg, Metrics: ledger}
	if cfg.TillLockBackend == config.TillLockRedis {
		opts.Locker = infra.NewRedisTillLocker(rdb, cfg.TillLockTTL)
	} else {
		opts.Locker = service.NewLocalTillLocker()
	}

	// Close notifications go through the redis job queue.
	var pool *worker.Pool
	if rdb != nil {
		opts.Notifier = worker.NewDispatcher(rdb)

		mailer := infra.NewMailer(cfg)
		if !mailer.Enabled() && cfg.CierreNotifyEmail != "" {
			log.Warn().Msg("CIERRE_NOTIFY_EMAIL set without SMTP_HOST; close summaries will not be sent")
		}
		circuito := infra.DefaultCircuitoConfig()
		circuito.OnCambio = func(_, hacia infra.EstadoCircuito) {
			ledger.SetCircuitoCorreo(hacia.String(), int(hacia))
		}
		cierreWorker := worker.NewCierreWorker(mailer, infra.NewCircuitoCorreo(circuito), cfg.CierreNotifyEmail)

		pool = worker.NewPool(rdb, worker.PoolConfig{
			Workers:      cfg.WorkerPoolSize,
			RetryBackoff: 2 * time.Second,
		}, ledger)
		pool.Handle(worker.QueueCierreCaja, worker.JobCierreCaja, cierreWorker.Process)
		pool.Start(ctx)
		worker.StartDLQMonitor(ctx, rdb, worker.QueueCierreCaja, time.Minute)
	} else {
		log.Warn().Msg("REDIS_URL not set; close notifications disabled")
	}

	r := router.New(cfg, db, rdb, opts)

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown on SIGINT / SIGTERM
	go func() {
		log.Info().Msgf("cajapos listening on :%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server…")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	err = srv.Shutdown(shutdownCtx)
	cancel()
	if pool != nil {
		pool.Wait()
	}
	if rdb != nil {
		err = multierr.Append(err, rdb.Close())
	}
	if sqlDB, dbErr := db.DB(); dbErr == nil {
		err = multierr.Append(err, sqlDB.Close())
	}
	if err != nil {
		log.Error().Err(err).Msg("unclean shutdown")
		os.Exit(1)
	}
	log.Info().Msg("server exited")
}

func setupLogger(cfg *config.Config) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.IsProduction() {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	zerolog.DefaultContextLogger = &log.Logger
}

// migrate applies the goose migrations on postgres. sqlite (dev mode) builds
// the schema from the models instead.
func migrate(db *gorm.DB, driver string) error {
	if driver == infra.DriverSQLite {
		return infra.RunMigrations(db)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	return infra.Migrate(ctx, sqlDB, "up")
}
