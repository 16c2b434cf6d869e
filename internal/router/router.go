package router

import (
	"time"

	"cajapos/internal/balance"
	"cajapos/internal/config"
	"cajapos/internal/handler"
	"cajapos/internal/metrics"
	"cajapos/internal/middleware"
	"cajapos/internal/repository"
	"cajapos/internal/service"

	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

// Options carries the infrastructure main builds before the engine.
// Registry is served on /metrics; Metrics, when nil, is registered on it.
type Options struct {
	Locker   service.TillLocker
	Notifier service.CierreNotifier
	Registry *prometheus.Registry
	Metrics  *metrics.Ledger
}

// New wires all dependencies and returns a configured Gin engine.
// Dependency graph: Handler ← Service ← Repository ← DB/Redis
func New(cfg *config.Config, db *gorm.DB, rdb *redis.Client, opts Options) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()

	// Global middleware chain (order matters)
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger())
	r.Use(middleware.Recovery())
	r.Use(middleware.CORS())
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.RateLimiter(1000, time.Minute)) // 1000 req/min per IP

	reg := opts.Registry
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	ledger := opts.Metrics
	if ledger == nil {
		ledger = metrics.NewLedger(reg)
	}

	// ── Repositories ─────────────────────────────────────────────────────────
	cajaRepo := repository.NewCajaRepository(db)
	movimientoRepo := repository.NewMovimientoRepository(db)

	// ── Services ─────────────────────────────────────────────────────────────
	cajaSvc := service.NewCajaService(cajaRepo, service.CajaOptions{
		Locker:   opts.Locker,
		Notifier: opts.Notifier,
		Metrics:  ledger,
		Timeout:  cfg.StorageTimeout,
	})
	movimientoSvc := service.NewMovimientoService(cajaRepo, movimientoRepo, service.MovimientoOptions{
		Politica: balance.Politica{PermitirSaldoNegativo: cfg.PermitirSaldoNegativo},
		Metrics:  ledger,
		Timeout:  cfg.StorageTimeout,
	})
	reporteSvc := service.NewReporteService(cajaRepo, service.ReporteOptions{
		Metrics: ledger,
		Timeout: cfg.StorageTimeout,
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	cajaH := handler.NewCajaHandler(cajaSvc, movimientoSvc, reporteSvc)

	// ── Routes ───────────────────────────────────────────────────────────────

	// Public
	r.GET("/health", handler.Health(db, rdb))
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg})))

	// Protected routes
	jwtMW := middleware.JWTAuth(cfg.JWTSecret)
	todos := middleware.RequireRole(middleware.RolCajero, middleware.RolSupervisor, middleware.RolAdministrador)
	supervision := middleware.RequireRole(middleware.RolSupervisor, middleware.RolAdministrador)

	caja := r.Group("/v1/caja", jwtMW)
	{
		caja.POST("/abrir", todos, cajaH.Abrir)
		caja.GET("/activa", todos, cajaH.Activa)
		caja.POST("/ingreso", todos, cajaH.Ingreso)
		caja.POST("/egreso", todos, cajaH.Egreso)
		caja.POST("/cerrar", todos, cajaH.Cerrar)
		caja.GET("/:id/movimientos", todos, cajaH.Movimientos)
		caja.GET("/:id/reporte", todos, cajaH.Reporte)

		caja.GET("/historial", supervision, cajaH.Historial)
		caja.GET("/:id/verificacion", supervision, cajaH.Verificacion)
	}

	// Swagger UI — only enabled outside production
	if !cfg.IsProduction() {
		r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	return r
}
