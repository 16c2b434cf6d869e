package service

import (
	"context"
	"time"

	"cajapos/internal/apperror"
	"cajapos/internal/balance"
	"cajapos/internal/dto"
	"cajapos/internal/metrics"
	"cajapos/internal/model"
	"cajapos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// CajaService owns the lifecycle of cash sessions: open, query, close.
type CajaService interface {
	Abrir(ctx context.Context, usuarioID uuid.UUID, req dto.AbrirCajaRequest) (*dto.SesionCajaResponse, error)
	// SesionActiva returns nil, nil when the till has no open session.
	SesionActiva(ctx context.Context, puntoDeVenta int) (*model.SesionCaja, error)
	Cerrar(ctx context.Context, usuarioID uuid.UUID, req dto.CerrarCajaRequest) (*dto.ArqueoResponse, error)
}

// CierreNotifier is told about every successful close. Its failures are
// logged and never undo the close.
type CierreNotifier interface {
	NotificarCierre(ctx context.Context, sesion *model.SesionCaja, arqueo *model.ArqueoCaja) error
}

type CajaOptions struct {
	Locker   TillLocker
	Notifier CierreNotifier
	Metrics  *metrics.Ledger
	Timeout  time.Duration
	Now      func() time.Time
}

type cajaService struct {
	repo     repository.CajaRepository
	locker   TillLocker
	notifier CierreNotifier
	metrics  *metrics.Ledger
	timeout  time.Duration
	now      func() time.Time
}

func NewCajaService(repo repository.CajaRepository, opts CajaOptions) CajaService {
	s := &cajaService{
		repo:     repo,
		locker:   opts.Locker,
		notifier: opts.Notifier,
		metrics:  opts.Metrics,
		timeout:  opts.Timeout,
		now:      opts.Now,
	}
	if s.locker == nil {
		s.locker = NewLocalTillLocker()
	}
	if s.now == nil {
		s.now = utcNow
	}
	return s
}

// ── Abrir ─────────────────────────────────────────────────────────────────────

func (s *cajaService) Abrir(ctx context.Context, usuarioID uuid.UUID, req dto.AbrirCajaRequest) (_ *dto.SesionCajaResponse, err error) {
	start := time.Now()
	defer func() { observe(s.metrics, "abrir", start, err) }()

	if req.MontoInicial.IsNegative() {
		return nil, apperror.Withf(model.ErrMontoInvalido, "recibido %s", req.MontoInicial.String())
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, req.PuntoDeVenta)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sesion := &model.SesionCaja{
		PuntoDeVenta: req.PuntoDeVenta,
		UsuarioID:    usuarioID,
		MontoInicial: balance.Redondear(req.MontoInicial),
		Estado:       model.EstadoAbierta,
		OpenedAt:     s.now(),
	}
	if err = s.repo.AbrirSesion(ctx, sesion); err != nil {
		return nil, err
	}

	log.Info().
		Int("punto_de_venta", sesion.PuntoDeVenta).
		Str("sesion_caja_id", sesion.ID.String()).
		Str("usuario_id", usuarioID.String()).
		Str("monto_inicial", sesion.MontoInicial.StringFixed(2)).
		Msg("caja abierta")

	resp := toSesionResponse(sesion)
	return &resp, nil
}

// ── SesionActiva ──────────────────────────────────────────────────────────────

func (s *cajaService) SesionActiva(ctx context.Context, puntoDeVenta int) (*model.SesionCaja, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	return s.repo.FindSesionAbiertaPorPDV(ctx, puntoDeVenta)
}

// ── Cerrar ────────────────────────────────────────────────────────────────────
// Blind count: the deviation is computed after the declaration is received
// and a critico deviation needs supervisor notes.

func (s *cajaService) Cerrar(ctx context.Context, usuarioID uuid.UUID, req dto.CerrarCajaRequest) (_ *dto.ArqueoResponse, err error) {
	start := time.Now()
	defer func() { observe(s.metrics, "cerrar", start, err) }()

	sesionID, err := uuid.Parse(req.SesionCajaID)
	if err != nil {
		return nil, apperror.Withf(model.ErrSesionNoEncontrada, "sesion_caja_id invalido %q", req.SesionCajaID)
	}
	if req.MontoDeclarado != nil && req.MontoDeclarado.IsNegative() {
		return nil, apperror.Withf(model.ErrMontoDeclaradoInvalido, "recibido %s", req.MontoDeclarado.String())
	}
	observaciones := trimOrNil(req.Observaciones)

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	unlock, err := s.locker.Lock(ctx, req.PuntoDeVenta)
	if err != nil {
		return nil, err
	}
	defer unlock()

	sesion, arqueo, err := s.repo.CerrarSesion(ctx, sesionID, req.PuntoDeVenta,
		func(sesion *model.SesionCaja, movs []model.MovimientoCaja) (*model.ArqueoCaja, error) {
			closedAt := s.now()
			if !closedAt.After(sesion.OpenedAt) {
				closedAt = sesion.OpenedAt.Add(time.Microsecond)
			}
			a := balance.Conciliar(sesion, movs, balance.CierreInput{
				UsuarioID:      usuarioID,
				MontoDeclarado: req.MontoDeclarado,
				Observaciones:  observaciones,
				ClosedAt:       closedAt,
			})
			if balance.RequiereObservaciones(a) {
				return nil, apperror.Withf(model.ErrObservacionesRequeridas, "desvio %s%%", a.DesvioPct.StringFixed(2))
			}
			s.compararTotales(sesion, a)
			return a, nil
		})
	if err != nil {
		return nil, err
	}

	clasificacion := ""
	if arqueo.Clasificacion != nil {
		clasificacion = *arqueo.Clasificacion
	}
	s.metrics.IncCierre(clasificacion)

	log.Info().
		Int("punto_de_venta", sesion.PuntoDeVenta).
		Str("sesion_caja_id", sesion.ID.String()).
		Str("usuario_id", usuarioID.String()).
		Str("saldo_final", arqueo.SaldoFinal.StringFixed(2)).
		Int64("movimientos", arqueo.CantidadMovimientos).
		Str("clasificacion", clasificacion).
		Msg("caja cerrada")

	if s.notifier != nil {
		if nerr := s.notifier.NotificarCierre(ctx, sesion, arqueo); nerr != nil {
			log.Warn().Err(nerr).Str("sesion_caja_id", sesion.ID.String()).Msg("no se pudo encolar el resumen de cierre")
		}
	}

	return toArqueoResponse(arqueo), nil
}

// compararTotales checks the totals cached on the session row against the
// recomputation. The arqueo always carries the recomputed figures.
func (s *cajaService) compararTotales(sesion *model.SesionCaja, a *model.ArqueoCaja) {
	if sesion.TotalIngresos.Equal(a.TotalIngresos) &&
		sesion.TotalEgresos.Equal(a.TotalEgresos) &&
		sesion.CantidadMovimientos == a.CantidadMovimientos {
		return
	}
	s.metrics.IncInconsistente()
	log.Error().
		Str("sesion_caja_id", sesion.ID.String()).
		Str("cache_ingresos", sesion.TotalIngresos.StringFixed(2)).
		Str("recalculado_ingresos", a.TotalIngresos.StringFixed(2)).
		Str("cache_egresos", sesion.TotalEgresos.StringFixed(2)).
		Str("recalculado_egresos", a.TotalEgresos.StringFixed(2)).
		Int64("cache_movimientos", sesion.CantidadMovimientos).
		Int64("recalculado_movimientos", a.CantidadMovimientos).
		Msg("totales en cache no coinciden con los movimientos")
}
