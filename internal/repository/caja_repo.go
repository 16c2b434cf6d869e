package repository

import (
	"context"
	"time"

	"cajapos/internal/apperror"
	"cajapos/internal/dto"
	"cajapos/internal/model"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// CierreFunc builds the arqueo from the locked session and its full movement
// list. Returning an error aborts the close without writing anything.
type CierreFunc func(sesion *model.SesionCaja, movimientos []model.MovimientoCaja) (*model.ArqueoCaja, error)

// SnapshotSesion is a session read together with its movements and arqueo
// from a single transaction.
type SnapshotSesion struct {
	Sesion      *model.SesionCaja
	Movimientos []model.MovimientoCaja
	Arqueo      *model.ArqueoCaja
}

type CajaRepository interface {
	// AbrirSesion inserts s unless its punto de venta already has an open session.
	AbrirSesion(ctx context.Context, s *model.SesionCaja) error
	// FindSesionAbiertaPorPDV returns nil, nil when the till has no open session.
	FindSesionAbiertaPorPDV(ctx context.Context, puntoDeVenta int) (*model.SesionCaja, error)
	FindSesionByID(ctx context.Context, id uuid.UUID) (*model.SesionCaja, error)
	CerrarSesion(ctx context.Context, id uuid.UUID, puntoDeVenta int, cierre CierreFunc) (*model.SesionCaja, *model.ArqueoCaja, error)
	FindArqueo(ctx context.Context, sesionID uuid.UUID) (*model.ArqueoCaja, error)
	ListSesiones(ctx context.Context, filter dto.HistorialFilter, desde time.Time) ([]model.SesionCaja, int64, error)
	Snapshot(ctx context.Context, id uuid.UUID) (*SnapshotSesion, error)
	DB() *gorm.DB
}

type cajaRepo struct{ db *gorm.DB }

func NewCajaRepository(db *gorm.DB) CajaRepository { return &cajaRepo{db: db} }

func (r *cajaRepo) DB() *gorm.DB { return r.db }

func (r *cajaRepo) AbrirSesion(ctx context.Context, s *model.SesionCaja) error {
	err := runTx(ctx, r.db, func(tx *gorm.DB) error {
		var abiertas int64
		if err := tx.Model(&model.SesionCaja{}).
			Where("punto_de_venta = ? AND estado = ?", s.PuntoDeVenta, model.EstadoAbierta).
			Count(&abiertas).Error; err != nil {
			return err
		}
		if abiertas > 0 {
			return apperror.Withf(model.ErrSesionYaAbierta, "punto de venta %d", s.PuntoDeVenta)
		}
		return tx.Create(s).Error
	})
	if err != nil && apperror.As(err) == nil && isDuplicate(err) {
		// Lost the race against another process; the partial index decided.
		return apperror.Withf(model.ErrSesionYaAbierta, "punto de venta %d", s.PuntoDeVenta)
	}
	return storageError(err, "abrir sesion")
}

func (r *cajaRepo) FindSesionAbiertaPorPDV(ctx context.Context, puntoDeVenta int) (*model.SesionCaja, error) {
	var s model.SesionCaja
	err := r.db.WithContext(ctx).
		Where("punto_de_venta = ? AND estado = ?", puntoDeVenta, model.EstadoAbierta).
		First(&s).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(err, "buscar sesion abierta")
	}
	return &s, nil
}

func (r *cajaRepo) FindSesionByID(ctx context.Context, id uuid.UUID) (*model.SesionCaja, error) {
	var s model.SesionCaja
	err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error
	if isNotFound(err) {
		return nil, apperror.Withf(model.ErrSesionNoEncontrada, "%s", id)
	}
	if err != nil {
		return nil, storageError(err, "buscar sesion")
	}
	return &s, nil
}

// CerrarSesion locks the session row, builds the arqueo through cierre and
// flips the session to cerrada, all in one transaction. Appends serialize on
// the same row lock, so no movement can land between the read and the flip.
func (r *cajaRepo) CerrarSesion(ctx context.Context, id uuid.UUID, puntoDeVenta int, cierre CierreFunc) (*model.SesionCaja, *model.ArqueoCaja, error) {
	var (
		sesion model.SesionCaja
		arqueo *model.ArqueoCaja
	)
	err := runTx(ctx, r.db, func(tx *gorm.DB) error {
		if err := forUpdate(tx).First(&sesion, "id = ?", id).Error; err != nil {
			if isNotFound(err) {
				return apperror.Withf(model.ErrSesionNoEncontrada, "%s", id)
			}
			return err
		}
		if !sesion.Abierta() {
			return apperror.Withf(model.ErrSesionYaCerrada, "sesion %s", id)
		}
		if sesion.PuntoDeVenta != puntoDeVenta {
			return apperror.Withf(model.ErrSesionNoActiva, "sesion %s pertenece al punto de venta %d", id, sesion.PuntoDeVenta)
		}

		var movs []model.MovimientoCaja
		if err := tx.Where("sesion_caja_id = ?", id).Order("secuencia ASC").Find(&movs).Error; err != nil {
			return err
		}

		a, err := cierre(&sesion, movs)
		if err != nil {
			return err
		}
		if err := tx.Create(a).Error; err != nil {
			if isDuplicate(err) {
				return apperror.Withf(model.ErrSesionYaCerrada, "sesion %s", id)
			}
			return err
		}

		closedAt := a.ClosedAt
		cerradaPor := a.UsuarioID
		res := tx.Model(&model.SesionCaja{}).
			Where("id = ? AND estado = ?", id, model.EstadoAbierta).
			Updates(map[string]any{
				"estado":        model.EstadoCerrada,
				"closed_at":     closedAt,
				"cerrada_por":   cerradaPor,
				"observaciones": a.Observaciones,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected != 1 {
			return apperror.Withf(model.ErrSesionYaCerrada, "sesion %s", id)
		}

		sesion.Estado = model.EstadoCerrada
		sesion.ClosedAt = &closedAt
		sesion.CerradaPor = &cerradaPor
		sesion.Observaciones = a.Observaciones
		arqueo = a
		return nil
	})
	if err != nil {
		return nil, nil, storageError(err, "cerrar sesion")
	}
	sesion.Arqueo = arqueo
	return &sesion, arqueo, nil
}

// FindArqueo returns nil, nil for sessions that are still open.
func (r *cajaRepo) FindArqueo(ctx context.Context, sesionID uuid.UUID) (*model.ArqueoCaja, error) {
	var a model.ArqueoCaja
	err := r.db.WithContext(ctx).Where("sesion_caja_id = ?", sesionID).First(&a).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError(err, "buscar arqueo")
	}
	return &a, nil
}

// ListSesiones returns sessions opened at or after desde, newest first, with
// the arqueo of the closed ones preloaded.
func (r *cajaRepo) ListSesiones(ctx context.Context, filter dto.HistorialFilter, desde time.Time) ([]model.SesionCaja, int64, error) {
	var (
		sesiones []model.SesionCaja
		total    int64
	)
	err := runReadTx(ctx, r.db, func(tx *gorm.DB) error {
		q := tx.Model(&model.SesionCaja{}).Where("opened_at >= ?", desde)
		if filter.PuntoDeVenta != nil {
			q = q.Where("punto_de_venta = ?", *filter.PuntoDeVenta)
		}
		if err := q.Count(&total).Error; err != nil {
			return err
		}
		offset := (filter.Page - 1) * filter.Limit
		return q.Preload("Arqueo").
			Order("opened_at DESC").
			Offset(offset).Limit(filter.Limit).
			Find(&sesiones).Error
	})
	if err != nil {
		return nil, 0, storageError(err, "listar sesiones")
	}
	return sesiones, total, nil
}

func (r *cajaRepo) Snapshot(ctx context.Context, id uuid.UUID) (*SnapshotSesion, error) {
	snap := &SnapshotSesion{}
	err := runReadTx(ctx, r.db, func(tx *gorm.DB) error {
		var s model.SesionCaja
		if err := tx.First(&s, "id = ?", id).Error; err != nil {
			if isNotFound(err) {
				return apperror.Withf(model.ErrSesionNoEncontrada, "%s", id)
			}
			return err
		}
		snap.Sesion = &s
		if err := tx.Where("sesion_caja_id = ?", id).Order("secuencia ASC").Find(&snap.Movimientos).Error; err != nil {
			return err
		}
		var a model.ArqueoCaja
		err := tx.Where("sesion_caja_id = ?", id).First(&a).Error
		switch {
		case err == nil:
			snap.Arqueo = &a
		case !isNotFound(err):
			return err
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err, "leer sesion")
	}
	return snap, nil
}
