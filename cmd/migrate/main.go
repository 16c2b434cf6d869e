// cmd/migrate applies the embedded goose migrations to PostgreSQL.
// Uso: go run ./cmd/migrate -cmd=up
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"cajapos/internal/config"
	"cajapos/internal/infra"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cmd := flag.String("cmd", "up", "migration command: up|down|status|version|redo|reset")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall timeout")
	flag.Parse()

	cfg, err := config.Read()
	requireResource("config", err)
	if cfg.DBDriver != infra.DriverPostgres {
		fmt.Fprintf(os.Stderr, "cmd/migrate only supports postgres (DB_DRIVER=%s); sqlite builds its schema with AUTO_MIGRATE\n", cfg.DBDriver)
		os.Exit(1)
	}

	db, err := infra.NewDatabase(infra.DatabaseOptions{Driver: cfg.DBDriver, DSN: cfg.DatabaseURL})
	requireResource("database", err)
	sqlDB, err := db.DB()
	requireResource("sql database", err)
	defer sqlDB.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	log.Info().Str("cmd", *cmd).Str("env", cfg.Env).Msg("migrate ready")
	if err := infra.Migrate(ctx, sqlDB, *cmd, flag.Args()...); err != nil {
		fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
		os.Exit(1)
	}
}

func requireResource(resource string, err error) {
	if err == nil {
		return
	}
	log.Error().Err(err).Msgf("resource not working: %s", resource)
	os.Exit(1)
}
