package infra

import (
	"fmt"
	"strings"
	"time"

	"cajapos/internal/model"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// DatabaseOptions selects the driver and pool size.
// DB_DRIVER=sqlite is meant for local development and tests; production runs
// on PostgreSQL with the schema owned by the goose migrations.
type DatabaseOptions struct {
	Driver       string
	DSN          string
	MaxOpenConns int
	MaxIdleConns int
}

// NewDatabase opens a GORM connection for the configured driver.
// It does not touch the schema; see Migrate and RunMigrations.
func NewDatabase(opts DatabaseOptions) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(opts.Driver) {
	case "", DriverPostgres:
		dialector = postgres.New(postgres.Config{DSN: opts.DSN})
	case DriverSQLite:
		dialector = sqlite.Open(opts.DSN)
	default:
		return nil, fmt.Errorf("unsupported DB_DRIVER %q", opts.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.Default.LogMode(logger.Silent),
		SkipDefaultTransaction: true,
		TranslateError:         true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	if opts.MaxOpenConns > 0 {
		sqlDB.SetMaxOpenConns(opts.MaxOpenConns)
	}
	if opts.MaxIdleConns > 0 {
		sqlDB.SetMaxIdleConns(opts.MaxIdleConns)
	}
	if strings.ToLower(opts.Driver) == DriverSQLite {
		// SQLite allows a single writer; one connection also keeps ":memory:"
		// databases alive for the lifetime of the pool.
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// RunMigrations builds the schema from the GORM models and then applies the
// indexes GORM cannot express. Used for sqlite (dev/tests); PostgreSQL
// deployments use the goose migrations in migrations/.
func RunMigrations(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&model.SesionCaja{},
		&model.MovimientoCaja{},
		&model.ArqueoCaja{},
	); err != nil {
		return fmt.Errorf("AutoMigrate: %w", err)
	}
	return applySchemaPatches(db)
}

// applySchemaPatches runs idempotent DDL shared by PostgreSQL and SQLite.
// Both statements are partial unique indexes:
//   - one "abierta" session per punto de venta (open uniqueness);
//   - one movement per (session, referencia) (idempotent retries).
func applySchemaPatches(db *gorm.DB) error {
	patches := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS uni_sesiones_caja_abierta
		    ON sesiones_caja (punto_de_venta)
		    WHERE estado = 'abierta'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uni_movimientos_caja_referencia
		    ON movimientos_caja (sesion_caja_id, referencia)
		    WHERE referencia IS NOT NULL`,
		`CREATE UNIQUE INDEX IF NOT EXISTS uni_movimientos_caja_secuencia
		    ON movimientos_caja (sesion_caja_id, secuencia)`,
	}
	for _, sql := range patches {
		if err := db.Exec(sql).Error; err != nil {
			return fmt.Errorf("patch %q: %w", sql[:min(len(sql), 60)], err)
		}
	}
	return nil
}
