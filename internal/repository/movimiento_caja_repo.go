package repository

import (
	"context"

	"cajapos/internal/apperror"
	"cajapos/internal/balance"
	"cajapos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// AppendGuard runs against the locked session before a new movement is
// inserted. It is skipped when the referencia already exists.
type AppendGuard func(sesion *model.SesionCaja) error

// AppendResult is the stored movement plus the session as it stands after the
// append. Existente is set when the referencia was already recorded.
type AppendResult struct {
	Movimiento *model.MovimientoCaja
	Sesion     *model.SesionCaja
	Existente  bool
}

// MovimientoRepository is the append-only movement log. There is no Update or
// Delete: corrections are compensating movements.
type MovimientoRepository interface {
	Append(ctx context.Context, m *model.MovimientoCaja, guard AppendGuard) (*AppendResult, error)
	ListBySesion(ctx context.Context, sesionID uuid.UUID) ([]model.MovimientoCaja, error)
	// FindByReferencia looks the key up across every session of the till,
	// newest first. Returns nil, nil when unknown.
	FindByReferencia(ctx context.Context, puntoDeVenta int, referencia string) (*model.MovimientoCaja, *model.SesionCaja, error)
}

type movimientoRepo struct{ db *gorm.DB }

func NewMovimientoRepository(db *gorm.DB) MovimientoRepository { return &movimientoRepo{db: db} }

func (r *movimientoRepo) Append(ctx context.Context, m *model.MovimientoCaja, guard AppendGuard) (*AppendResult, error) {
	if err := balance.ValidarPropuesto(balance.Propuesto{Tipo: m.Tipo, Monto: m.Monto, Descripcion: m.Descripcion}); err != nil {
		return nil, err
	}
	m.Monto = balance.Redondear(m.Monto)

	res := &AppendResult{}
	err := runTx(ctx, r.db, func(tx *gorm.DB) error {
		var sesion model.SesionCaja
		if err := forUpdate(tx).First(&sesion, "id = ?", m.SesionCajaID).Error; err != nil {
			if isNotFound(err) {
				return apperror.Withf(model.ErrSesionNoEncontrada, "%s", m.SesionCajaID)
			}
			return err
		}
		// A closed session rejects even retries of movements it already holds.
		if !sesion.Abierta() {
			return apperror.Withf(model.ErrSesionCerrada, "sesion %s", sesion.ID)
		}

		if m.Referencia != nil {
			var prev model.MovimientoCaja
			err := tx.Where("sesion_caja_id = ? AND referencia = ?", sesion.ID, *m.Referencia).First(&prev).Error
			if err == nil {
				res.Movimiento, res.Sesion, res.Existente = &prev, &sesion, true
				return nil
			}
			if !isNotFound(err) {
				return err
			}
		}

		if guard != nil {
			if err := guard(&sesion); err != nil {
				return err
			}
		}

		m.Secuencia = sesion.CantidadMovimientos + 1
		if err := tx.Create(m).Error; err != nil {
			return err
		}

		ingresos, egresos := sesion.TotalIngresos, sesion.TotalEgresos
		if m.Tipo == model.TipoIngreso {
			ingresos = balance.Redondear(ingresos.Add(m.Monto))
		} else {
			egresos = balance.Redondear(egresos.Add(m.Monto))
		}
		if err := tx.Model(&model.SesionCaja{}).Where("id = ?", sesion.ID).Updates(map[string]any{
			"total_ingresos":       ingresos,
			"total_egresos":        egresos,
			"cantidad_movimientos": m.Secuencia,
		}).Error; err != nil {
			return err
		}
		sesion.TotalIngresos = ingresos
		sesion.TotalEgresos = egresos
		sesion.CantidadMovimientos = m.Secuencia
		res.Movimiento, res.Sesion = m, &sesion
		return nil
	})
	if err != nil {
		if m.Referencia != nil && apperror.As(err) == nil && isDuplicate(err) {
			// A concurrent writer committed the same referencia first.
			return r.findExisting(ctx, m.SesionCajaID, *m.Referencia)
		}
		return nil, storageError(err, "registrar movimiento")
	}
	return res, nil
}

func (r *movimientoRepo) findExisting(ctx context.Context, sesionID uuid.UUID, referencia string) (*AppendResult, error) {
	var (
		prev   model.MovimientoCaja
		sesion model.SesionCaja
	)
	err := runReadTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := tx.Where("sesion_caja_id = ? AND referencia = ?", sesionID, referencia).First(&prev).Error; err != nil {
			return err
		}
		return tx.First(&sesion, "id = ?", sesionID).Error
	})
	if err != nil {
		return nil, storageError(err, "buscar movimiento")
	}
	return &AppendResult{Movimiento: &prev, Sesion: &sesion, Existente: true}, nil
}

func (r *movimientoRepo) ListBySesion(ctx context.Context, sesionID uuid.UUID) ([]model.MovimientoCaja, error) {
	var movs []model.MovimientoCaja
	err := r.db.WithContext(ctx).
		Where("sesion_caja_id = ?", sesionID).
		Order("secuencia ASC").
		Find(&movs).Error
	if err != nil {
		return nil, storageError(err, "listar movimientos")
	}
	return movs, nil
}

func (r *movimientoRepo) FindByReferencia(ctx context.Context, puntoDeVenta int, referencia string) (*model.MovimientoCaja, *model.SesionCaja, error) {
	var m model.MovimientoCaja
	err := r.db.WithContext(ctx).
		Select("movimientos_caja.*").
		Joins("JOIN sesiones_caja ON sesiones_caja.id = movimientos_caja.sesion_caja_id").
		Where("sesiones_caja.punto_de_venta = ? AND movimientos_caja.referencia = ?", puntoDeVenta, referencia).
		Order("movimientos_caja.created_at DESC").
		First(&m).Error
	if isNotFound(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, storageError(err, "buscar referencia")
	}
	var s model.SesionCaja
	if err := r.db.WithContext(ctx).First(&s, "id = ?", m.SesionCajaID).Error; err != nil {
		return nil, nil, storageError(err, "buscar sesion")
	}
	return &m, &s, nil
}
