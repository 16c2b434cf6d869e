package service

import (
	"context"
	"strings"
	"time"

	"cajapos/internal/apperror"
	"cajapos/internal/dto"
	"cajapos/internal/metrics"
	"cajapos/internal/model"

	"github.com/shopspring/decimal"
)

const isoFormat = "2006-01-02T15:04:05Z07:00"

// withTimeout bounds a storage-backed operation. A zero timeout leaves ctx as is.
func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func utcNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

// observe records the outcome of op on m.
func observe(m *metrics.Ledger, op string, start time.Time, err error) {
	resultado := metrics.ResultadoOK
	if err != nil {
		resultado = string(apperror.CodeOf(err))
	}
	m.ObserveOperacion(op, resultado, time.Since(start))
}

func trimOrNil(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	if v == "" {
		return nil
	}
	return &v
}

// ── Mappers ───────────────────────────────────────────────────────────────────

func toMovimientoResponse(m *model.MovimientoCaja) dto.MovimientoResponse {
	return dto.MovimientoResponse{
		ID:           m.ID.String(),
		SesionCajaID: m.SesionCajaID.String(),
		Secuencia:    m.Secuencia,
		Tipo:         m.Tipo,
		Monto:        m.Monto,
		Descripcion:  m.Descripcion,
		UsuarioID:    m.UsuarioID.String(),
		Referencia:   m.Referencia,
		CreatedAt:    m.CreatedAt.UTC().Format(isoFormat),
	}
}

func toMovimientosResponse(movs []model.MovimientoCaja) []dto.MovimientoResponse {
	out := make([]dto.MovimientoResponse, 0, len(movs))
	for i := range movs {
		out = append(out, toMovimientoResponse(&movs[i]))
	}
	return out
}

func toArqueoResponse(a *model.ArqueoCaja) *dto.ArqueoResponse {
	if a == nil {
		return nil
	}
	resp := &dto.ArqueoResponse{
		ID:                  a.ID.String(),
		SesionCajaID:        a.SesionCajaID.String(),
		PuntoDeVenta:        a.PuntoDeVenta,
		UsuarioID:           a.UsuarioID.String(),
		MontoInicial:        a.MontoInicial,
		TotalIngresos:       a.TotalIngresos,
		TotalEgresos:        a.TotalEgresos,
		SaldoFinal:          a.SaldoFinal,
		CantidadMovimientos: a.CantidadMovimientos,
		MontoDeclarado:      a.MontoDeclarado,
		Observaciones:       a.Observaciones,
		ClosedAt:            a.ClosedAt.UTC().Format(isoFormat),
	}
	if a.Desvio != nil && a.Clasificacion != nil {
		pct := decimal.Zero
		if a.DesvioPct != nil {
			pct = *a.DesvioPct
		}
		resp.Desvio = &dto.DesvioResponse{
			Monto:         *a.Desvio,
			Porcentaje:    pct,
			Clasificacion: *a.Clasificacion,
		}
	}
	return resp
}

func toSesionResponse(s *model.SesionCaja) dto.SesionCajaResponse {
	resp := dto.SesionCajaResponse{
		ID:                  s.ID.String(),
		PuntoDeVenta:        s.PuntoDeVenta,
		UsuarioID:           s.UsuarioID.String(),
		MontoInicial:        s.MontoInicial,
		Estado:              s.Estado,
		TotalIngresos:       s.TotalIngresos,
		TotalEgresos:        s.TotalEgresos,
		Saldo:               s.Saldo(),
		CantidadMovimientos: s.CantidadMovimientos,
		OpenedAt:            s.OpenedAt.UTC().Format(isoFormat),
		Arqueo:              toArqueoResponse(s.Arqueo),
	}
	if s.ClosedAt != nil {
		t := s.ClosedAt.UTC().Format(isoFormat)
		resp.ClosedAt = &t
	}
	return resp
}
