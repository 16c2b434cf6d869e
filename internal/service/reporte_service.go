package service

import (
	"context"
	"errors"
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

const (
	historialDiasDefault = 30
	historialDiasMax     = 365
	historialLimitMax    = 100
)

// ReporteService is read-only. Each call reads a session and its movements
// from one transaction, so totals always match the listed movements.
type ReporteService interface {
	// EstadoActual returns nil, nil when the till has no open session.
	EstadoActual(ctx context.Context, puntoDeVenta int) (*dto.EstadoCajaResponse, error)
	Movimientos(ctx context.Context, sesionID uuid.UUID) ([]dto.MovimientoResponse, error)
	Historial(ctx context.Context, filter dto.HistorialFilter) (*dto.HistorialCajaResponse, error)
	Reporte(ctx context.Context, sesionID uuid.UUID) (*dto.ReporteCajaResponse, error)
	VerificarArqueo(ctx context.Context, sesionID uuid.UUID) (*dto.VerificacionResponse, error)
}

type ReporteOptions struct {
	Metrics *metrics.Ledger
	Timeout time.Duration
	Now     func() time.Time
}

type reporteService struct {
	repo    repository.CajaRepository
	metrics *metrics.Ledger
	timeout time.Duration
	now     func() time.Time
}

func NewReporteService(repo repository.CajaRepository, opts ReporteOptions) ReporteService {
	s := &reporteService{repo: repo, metrics: opts.Metrics, timeout: opts.Timeout, now: opts.Now}
	if s.now == nil {
		s.now = utcNow
	}
	return s
}

func (s *reporteService) EstadoActual(ctx context.Context, puntoDeVenta int) (*dto.EstadoCajaResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	activa, err := s.repo.FindSesionAbiertaPorPDV(ctx, puntoDeVenta)
	if err != nil || activa == nil {
		return nil, err
	}
	snap, err := s.repo.Snapshot(ctx, activa.ID)
	if err != nil {
		return nil, err
	}
	if !snap.Sesion.Abierta() {
		// Closed between the two reads.
		return nil, nil
	}
	tot := balance.CalcularTotales(snap.Sesion, snap.Movimientos)
	return &dto.EstadoCajaResponse{
		Sesion:      toSesionResponse(snap.Sesion),
		Saldo:       tot.Saldo,
		Movimientos: toMovimientosResponse(snap.Movimientos),
	}, nil
}

func (s *reporteService) Movimientos(ctx context.Context, sesionID uuid.UUID) ([]dto.MovimientoResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	snap, err := s.repo.Snapshot(ctx, sesionID)
	if err != nil {
		return nil, err
	}
	return toMovimientosResponse(snap.Movimientos), nil
}

// Historial lists sessions opened in the last filter.Dias days, newest first.
func (s *reporteService) Historial(ctx context.Context, filter dto.HistorialFilter) (*dto.HistorialCajaResponse, error) {
	if filter.Dias <= 0 {
		filter.Dias = historialDiasDefault
	}
	if filter.Dias > historialDiasMax {
		filter.Dias = historialDiasMax
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.Limit < 1 || filter.Limit > historialLimitMax {
		filter.Limit = 20
	}

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	desde := s.now().AddDate(0, 0, -filter.Dias)
	sesiones, total, err := s.repo.ListSesiones(ctx, filter, desde)
	if err != nil {
		return nil, err
	}
	data := make([]dto.SesionCajaResponse, 0, len(sesiones))
	for i := range sesiones {
		data = append(data, toSesionResponse(&sesiones[i]))
	}
	return &dto.HistorialCajaResponse{Data: data, Total: total, Page: filter.Page, Limit: filter.Limit}, nil
}

// ── Reporte ───────────────────────────────────────────────────────────────────

func (s *reporteService) Reporte(ctx context.Context, sesionID uuid.UUID) (*dto.ReporteCajaResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	snap, err := s.repo.Snapshot(ctx, sesionID)
	if err != nil {
		return nil, err
	}
	snap.Sesion.Arqueo = snap.Arqueo
	return &dto.ReporteCajaResponse{
		Sesion:      toSesionResponse(snap.Sesion),
		Movimientos: toMovimientosResponse(snap.Movimientos),
		Arqueo:      toArqueoResponse(snap.Arqueo),
	}, nil
}

// VerificarArqueo recomputes a closed session from its movements and compares
// the result with the stored arqueo. Discrepancies are reported, never fixed.
func (s *reporteService) VerificarArqueo(ctx context.Context, sesionID uuid.UUID) (*dto.VerificacionResponse, error) {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	snap, err := s.repo.Snapshot(ctx, sesionID)
	if err != nil {
		return nil, err
	}
	if snap.Arqueo == nil {
		return nil, apperror.Withf(model.ErrSesionSinArqueo, "sesion %s", sesionID)
	}

	resp := &dto.VerificacionResponse{SesionCajaID: sesionID.String(), Consistente: true, Diferencias: []dto.DiferenciaResponse{}}
	err = balance.Verificar(snap.Sesion, snap.Arqueo, snap.Movimientos)
	if err == nil {
		return resp, nil
	}
	if !errors.Is(err, model.ErrArqueoInconsistente) {
		return nil, err
	}

	resp.Consistente = false
	if diffs, ok := apperror.As(err).Details().([]balance.Diferencia); ok {
		for _, d := range diffs {
			resp.Diferencias = append(resp.Diferencias, dto.DiferenciaResponse{Campo: d.Campo, Arqueo: d.Arqueo, Recalculado: d.Recalculado})
		}
	}
	s.metrics.IncInconsistente()
	log.Error().Str("sesion_caja_id", sesionID.String()).Int("diferencias", len(resp.Diferencias)).Msg("arqueo inconsistente con los movimientos")
	return resp, nil
}
