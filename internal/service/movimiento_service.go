package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"cajapos/internal/apperror"
	"cajapos/internal/balance"
	"cajapos/internal/dto"
	"cajapos/internal/metrics"
	"cajapos/internal/model"
	"cajapos/internal/repository"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

// Referencia prefixes used by the producers that feed the ledger.
const (
	RefVenta       = "venta:"
	RefAnulacion   = "anulacion:"
	RefPagoCredito = "pago_credito:"
)

// MovimientoService is the only entry point that writes movements. Every
// caller goes through the active session of its punto de venta; without one
// the call fails with ErrNoHaySesionAbierta and nothing is recorded.
type MovimientoService interface {
	RegistrarIngreso(ctx context.Context, usuarioID uuid.UUID, req dto.MovimientoRequest) (*dto.MovimientoRegistradoResponse, error)
	RegistrarEgreso(ctx context.Context, usuarioID uuid.UUID, req dto.MovimientoRequest) (*dto.MovimientoRegistradoResponse, error)

	// VerificarCajaAbierta is the checkout preflight: it must pass before a
	// cash sale commits any other side effect.
	VerificarCajaAbierta(ctx context.Context, puntoDeVenta int) error
	CobrarVenta(ctx context.Context, usuarioID uuid.UUID, puntoDeVenta int, ventaID string, total decimal.Decimal) (*dto.MovimientoRegistradoResponse, error)
	AnularVenta(ctx context.Context, usuarioID uuid.UUID, puntoDeVenta int, ventaID string, total decimal.Decimal, motivo string) (*dto.MovimientoRegistradoResponse, error)
	CobrarCredito(ctx context.Context, usuarioID uuid.UUID, puntoDeVenta int, pagoID string, monto decimal.Decimal) (*dto.MovimientoRegistradoResponse, error)
	EgresoManual(ctx context.Context, usuarioID uuid.UUID, puntoDeVenta int, monto decimal.Decimal, descripcion string) (*dto.MovimientoRegistradoResponse, error)
}

type MovimientoOptions struct {
	Politica balance.Politica
	Metrics  *metrics.Ledger
	Timeout  time.Duration
}

type movimientoService struct {
	cajas    repository.CajaRepository
	movs     repository.MovimientoRepository
	politica balance.Politica
	metrics  *metrics.Ledger
	timeout  time.Duration
}

func NewMovimientoService(cajas repository.CajaRepository, movs repository.MovimientoRepository, opts MovimientoOptions) MovimientoService {
	return &movimientoService{
		cajas:    cajas,
		movs:     movs,
		politica: opts.Politica,
		metrics:  opts.Metrics,
		timeout:  opts.Timeout,
	}
}

func (s *movimientoService) RegistrarIngreso(ctx context.Context, usuarioID uuid.UUID, req dto.MovimientoRequest) (*dto.MovimientoRegistradoResponse, error) {
	return s.registrar(ctx, model.TipoIngreso, usuarioID, req)
}

func (s *movimientoService) RegistrarEgreso(ctx context.Context, usuarioID uuid.UUID, req dto.MovimientoRequest) (*dto.MovimientoRegistradoResponse, error) {
	return s.registrar(ctx, model.TipoEgreso, usuarioID, req)
}

func (s *movimientoService) registrar(ctx context.Context, tipo string, usuarioID uuid.UUID, req dto.MovimientoRequest) (_ *dto.MovimientoRegistradoResponse, err error) {
	start := time.Now()
	defer func() { observe(s.metrics, tipo, start, err) }()

	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()

	referencia := trimOrNil(req.Referencia)
	sesion, err := s.resolverSesion(ctx, req, referencia)
	if err != nil {
		return nil, err
	}

	propuesto := balance.Propuesto{Tipo: tipo, Monto: req.Monto, Descripcion: strings.TrimSpace(req.Descripcion)}
	mov := &model.MovimientoCaja{
		SesionCajaID: sesion.ID,
		Tipo:         tipo,
		Monto:        req.Monto,
		Descripcion:  propuesto.Descripcion,
		UsuarioID:    usuarioID,
		Referencia:   referencia,
	}
	res, err := s.movs.Append(ctx, mov, func(locked *model.SesionCaja) error {
		return balance.ValidarMovimiento(locked, propuesto, s.politica)
	})
	if err != nil {
		return nil, err
	}

	evt := log.Info()
	if res.Existente {
		s.metrics.IncDuplicado()
		evt = log.Debug()
	}
	evt.Int("punto_de_venta", res.Sesion.PuntoDeVenta).
		Str("sesion_caja_id", res.Sesion.ID.String()).
		Str("movimiento_id", res.Movimiento.ID.String()).
		Str("usuario_id", usuarioID.String()).
		Str("tipo", tipo).
		Str("monto", res.Movimiento.Monto.StringFixed(2)).
		Bool("duplicado", res.Existente).
		Msg("movimiento registrado")

	return &dto.MovimientoRegistradoResponse{
		Movimiento: toMovimientoResponse(res.Movimiento),
		Duplicado:  res.Existente,
		Saldo:      res.Sesion.Saldo(),
	}, nil
}

// resolverSesion picks the session the movement targets. A referencia already
// recorded in a closed session of the till reports ErrSesionCerrada, even when
// a newer session is open, so a late retry never lands in the next session.
// Otherwise an explicit SesionCajaID must belong to the till, or the till's
// open session is used.
func (s *movimientoService) resolverSesion(ctx context.Context, req dto.MovimientoRequest, referencia *string) (*model.SesionCaja, error) {
	if referencia != nil {
		_, previa, err := s.movs.FindByReferencia(ctx, req.PuntoDeVenta, *referencia)
		if err != nil {
			return nil, err
		}
		if previa != nil && !previa.Abierta() {
			return nil, apperror.Withf(model.ErrSesionCerrada, "referencia %q registrada en la sesion %s", *referencia, previa.ID)
		}
	}

	if req.SesionCajaID != nil {
		id, err := uuid.Parse(*req.SesionCajaID)
		if err != nil {
			return nil, apperror.Withf(model.ErrSesionNoEncontrada, "sesion_caja_id invalido %q", *req.SesionCajaID)
		}
		sesion, err := s.cajas.FindSesionByID(ctx, id)
		if err != nil {
			return nil, err
		}
		if sesion.PuntoDeVenta != req.PuntoDeVenta {
			return nil, apperror.Withf(model.ErrSesionNoActiva, "sesion %s pertenece al punto de venta %d", id, sesion.PuntoDeVenta)
		}
		return sesion, nil
	}

	sesion, err := s.cajas.FindSesionAbiertaPorPDV(ctx, req.PuntoDeVenta)
	if err != nil {
		return nil, err
	}
	if sesion != nil {
		return sesion, nil
	}
	return nil, apperror.Withf(model.ErrNoHaySesionAbierta, "punto de venta %d", req.PuntoDeVenta)
}

// ── Producer adapters ─────────────────────────────────────────────────────────

func (s *movimientoService) VerificarCajaAbierta(ctx context.Context, puntoDeVenta int) error {
	ctx, cancel := withTimeout(ctx, s.timeout)
	defer cancel()
	sesion, err := s.cajas.FindSesionAbiertaPorPDV(ctx, puntoDeVenta)
	if err != nil {
		return err
	}
	if sesion == nil {
		return apperror.Withf(model.ErrNoHaySesionAbierta, "punto de venta %d", puntoDeVenta)
	}
	return nil
}

// CobrarVenta records the cash leg of a sale. The sale must not be treated as
// finalized until this returns without error.
func (s *movimientoService) CobrarVenta(ctx context.Context, usuarioID uuid.UUID, puntoDeVenta int, ventaID string, total decimal.Decimal) (*dto.MovimientoRegistradoResponse, error) {
	ref := RefVenta + ventaID
	return s.RegistrarIngreso(ctx, usuarioID, dto.MovimientoRequest{
		PuntoDeVenta: puntoDeVenta,
		Monto:        total,
		Descripcion:  fmt.Sprintf("Venta %s", ventaID),
		Referencia:   &ref,
	})
}

// AnularVenta returns the cash of a cancelled sale. Sales without a cash leg
// must not call it.
func (s *movimientoService) AnularVenta(ctx context.Context, usuarioID uuid.UUID, puntoDeVenta int, ventaID string, total decimal.Decimal, motivo string) (*dto.MovimientoRegistradoResponse, error) {
	ref := RefAnulacion + ventaID
	desc := fmt.Sprintf("Anulacion venta %s", ventaID)
	if m := strings.TrimSpace(motivo); m != "" {
		desc += ": " + m
	}
	return s.RegistrarEgreso(ctx, usuarioID, dto.MovimientoRequest{
		PuntoDeVenta: puntoDeVenta,
		Monto:        total,
		Descripcion:  desc,
		Referencia:   &ref,
	})
}

func (s *movimientoService) CobrarCredito(ctx context.Context, usuarioID uuid.UUID, puntoDeVenta int, pagoID string, monto decimal.Decimal) (*dto.MovimientoRegistradoResponse, error) {
	ref := RefPagoCredito + pagoID
	return s.RegistrarIngreso(ctx, usuarioID, dto.MovimientoRequest{
		PuntoDeVenta: puntoDeVenta,
		Monto:        monto,
		Descripcion:  fmt.Sprintf("Cobro credito %s", pagoID),
		Referencia:   &ref,
	})
}

// EgresoManual carries no referencia: duplicate manual entries are the
// operator's to confirm.
func (s *movimientoService) EgresoManual(ctx context.Context, usuarioID uuid.UUID, puntoDeVenta int, monto decimal.Decimal, descripcion string) (*dto.MovimientoRegistradoResponse, error) {
	return s.RegistrarEgreso(ctx, usuarioID, dto.MovimientoRequest{
		PuntoDeVenta: puntoDeVenta,
		Monto:        monto,
		Descripcion:  descripcion,
	})
}
