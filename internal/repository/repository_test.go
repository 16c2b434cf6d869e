package repository

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cajapos/internal/balance"
	"cajapos/internal/dto"
	"cajapos/internal/infra"
	"cajapos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

// ── Helpers ──────────────────────────────────────────────────────────────────

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := infra.NewDatabase(infra.DatabaseOptions{Driver: infra.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, infra.RunMigrations(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func ref(s string) *string { return &s }

func abrir(t *testing.T, repo CajaRepository, pdv int, inicial string) *model.SesionCaja {
	t.Helper()
	s := &model.SesionCaja{
		PuntoDeVenta: pdv,
		UsuarioID:    uuid.New(),
		MontoInicial: dec(inicial),
		OpenedAt:     time.Now().UTC(),
	}
	require.NoError(t, repo.AbrirSesion(context.Background(), s))
	return s
}

func conciliar(operador uuid.UUID) CierreFunc {
	return func(s *model.SesionCaja, movs []model.MovimientoCaja) (*model.ArqueoCaja, error) {
		return balance.Conciliar(s, movs, balance.CierreInput{
			UsuarioID: operador,
			ClosedAt:  s.OpenedAt.Add(time.Minute),
		}), nil
	}
}

// ── CajaRepository ───────────────────────────────────────────────────────────

func TestAbrirSesion_UnaAbiertaPorPDV(t *testing.T) {
	repo := NewCajaRepository(newTestDB(t))
	abrir(t, repo, 1, "100")

	err := repo.AbrirSesion(context.Background(), &model.SesionCaja{
		PuntoDeVenta: 1, UsuarioID: uuid.New(), MontoInicial: dec("0"), OpenedAt: time.Now().UTC(),
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, model.ErrSesionYaAbierta))

	// Another till is independent.
	abrir(t, repo, 2, "50")
}

func TestAbrirSesion_IndiceParcialRespaldaUnicidad(t *testing.T) {
	db := newTestDB(t)
	repo := NewCajaRepository(db)
	abrir(t, repo, 1, "100")

	// Bypass the repository check: the partial unique index must still refuse.
	err := db.Create(&model.SesionCaja{
		PuntoDeVenta: 1, UsuarioID: uuid.New(), MontoInicial: dec("0"), OpenedAt: time.Now().UTC(),
	}).Error
	require.Error(t, err)
	assert.True(t, isDuplicate(err))
}

func TestFindSesionAbiertaPorPDV_SinSesion(t *testing.T) {
	repo := NewCajaRepository(newTestDB(t))

	s, err := repo.FindSesionAbiertaPorPDV(context.Background(), 7)
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestFindSesionByID_NoEncontrada(t *testing.T) {
	repo := NewCajaRepository(newTestDB(t))

	_, err := repo.FindSesionByID(context.Background(), uuid.New())
	assert.True(t, errors.Is(err, model.ErrSesionNoEncontrada))
}

func TestCerrarSesion(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 1, "100")

	_, err := movs.Append(ctx, &model.MovimientoCaja{
		SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec("50"), UsuarioID: s.UsuarioID, Referencia: ref("venta:1"),
	}, nil)
	require.NoError(t, err)

	operador := uuid.New()
	cerrada, arqueo, err := cajas.CerrarSesion(ctx, s.ID, 1, conciliar(operador))
	require.NoError(t, err)
	assert.Equal(t, model.EstadoCerrada, cerrada.Estado)
	require.NotNil(t, cerrada.ClosedAt)
	assert.True(t, cerrada.ClosedAt.After(cerrada.OpenedAt))
	assert.Equal(t, operador, *cerrada.CerradaPor)
	assert.Equal(t, "150.00", arqueo.SaldoFinal.StringFixed(2))

	stored, err := cajas.FindArqueo(ctx, s.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.True(t, stored.SaldoFinal.Equal(dec("150")))

	_, _, err = cajas.CerrarSesion(ctx, s.ID, 1, conciliar(operador))
	assert.True(t, errors.Is(err, model.ErrSesionYaCerrada))

	// The till can be reopened once the previous session is closed.
	abrir(t, cajas, 1, "0")
}

func TestCerrarSesion_Errores(t *testing.T) {
	repo := NewCajaRepository(newTestDB(t))
	ctx := context.Background()
	s := abrir(t, repo, 1, "100")

	_, _, err := repo.CerrarSesion(ctx, uuid.New(), 1, conciliar(uuid.New()))
	assert.True(t, errors.Is(err, model.ErrSesionNoEncontrada))

	_, _, err = repo.CerrarSesion(ctx, s.ID, 2, conciliar(uuid.New()))
	assert.True(t, errors.Is(err, model.ErrSesionNoActiva))

	_, _, err = repo.CerrarSesion(ctx, s.ID, 1, func(*model.SesionCaja, []model.MovimientoCaja) (*model.ArqueoCaja, error) {
		return nil, model.ErrObservacionesRequeridas
	})
	assert.True(t, errors.Is(err, model.ErrObservacionesRequeridas))

	// A rejected close leaves the session open.
	abierta, err := repo.FindSesionAbiertaPorPDV(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, abierta)
	assert.Equal(t, s.ID, abierta.ID)
}

func TestListSesiones(t *testing.T) {
	db := newTestDB(t)
	repo := NewCajaRepository(db)
	ctx := context.Background()

	vieja := &model.SesionCaja{PuntoDeVenta: 3, UsuarioID: uuid.New(), MontoInicial: dec("1"), OpenedAt: time.Now().UTC().AddDate(0, 0, -10)}
	require.NoError(t, repo.AbrirSesion(ctx, vieja))
	_, _, err := repo.CerrarSesion(ctx, vieja.ID, 3, conciliar(uuid.New()))
	require.NoError(t, err)

	s1 := abrir(t, repo, 1, "10")
	_, _, err = repo.CerrarSesion(ctx, s1.ID, 1, conciliar(uuid.New()))
	require.NoError(t, err)
	abrir(t, repo, 2, "20")

	desde := time.Now().UTC().AddDate(0, 0, -7)
	sesiones, total, err := repo.ListSesiones(ctx, dto.HistorialFilter{Page: 1, Limit: 10}, desde)
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
	require.Len(t, sesiones, 2)
	assert.Equal(t, 2, sesiones[0].PuntoDeVenta, "newest first")
	assert.Nil(t, sesiones[0].Arqueo)
	require.NotNil(t, sesiones[1].Arqueo)

	pdv := 1
	sesiones, total, err = repo.ListSesiones(ctx, dto.HistorialFilter{PuntoDeVenta: &pdv, Page: 1, Limit: 10}, desde)
	require.NoError(t, err)
	assert.EqualValues(t, 1, total)
	assert.Equal(t, s1.ID, sesiones[0].ID)
}

func TestSnapshot(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 1, "100")

	for _, monto := range []string{"10", "20"} {
		_, err := movs.Append(ctx, &model.MovimientoCaja{
			SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec(monto), UsuarioID: s.UsuarioID,
		}, nil)
		require.NoError(t, err)
	}

	snap, err := cajas.Snapshot(ctx, s.ID)
	require.NoError(t, err)
	assert.Equal(t, s.ID, snap.Sesion.ID)
	assert.Len(t, snap.Movimientos, 2)
	assert.Nil(t, snap.Arqueo)

	_, err = cajas.Snapshot(ctx, uuid.New())
	assert.True(t, errors.Is(err, model.ErrSesionNoEncontrada))
}

// ── MovimientoRepository ─────────────────────────────────────────────────────

func TestAppend_ActualizaTotalesYSecuencia(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 1, "100")

	r1, err := movs.Append(ctx, &model.MovimientoCaja{
		SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec("50"), UsuarioID: s.UsuarioID,
	}, nil)
	require.NoError(t, err)
	assert.False(t, r1.Existente)
	assert.EqualValues(t, 1, r1.Movimiento.Secuencia)
	assert.True(t, r1.Sesion.Saldo().Equal(dec("150")))

	r2, err := movs.Append(ctx, &model.MovimientoCaja{
		SesionCajaID: s.ID, Tipo: model.TipoEgreso, Monto: dec("20"), Descripcion: "insumos", UsuarioID: s.UsuarioID,
	}, nil)
	require.NoError(t, err)
	assert.EqualValues(t, 2, r2.Movimiento.Secuencia)
	assert.True(t, r2.Sesion.Saldo().Equal(dec("130")))
	m1, m2 := r1.Movimiento, r2.Movimiento

	got, err := cajas.FindSesionByID(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalIngresos.Equal(dec("50")))
	assert.True(t, got.TotalEgresos.Equal(dec("20")))
	assert.EqualValues(t, 2, got.CantidadMovimientos)
	assert.True(t, got.Saldo().Equal(dec("130")))

	list, err := movs.ListBySesion(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, m1.ID, list[0].ID)
	assert.Equal(t, m2.ID, list[1].ID)
}

func TestListBySesion_OrdenPorSecuencia(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 1, "0")

	var ids []uuid.UUID
	for _, monto := range []string{"1", "2", "3"} {
		r, err := movs.Append(ctx, &model.MovimientoCaja{
			SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec(monto), UsuarioID: s.UsuarioID,
		}, nil)
		require.NoError(t, err)
		ids = append(ids, r.Movimiento.ID)
	}
	// Clock skew between app nodes: the first movement carries the latest timestamp.
	require.NoError(t, db.Model(&model.MovimientoCaja{}).Where("id = ?", ids[0]).
		Update("created_at", time.Now().UTC().Add(time.Hour)).Error)

	list, err := movs.ListBySesion(ctx, s.ID)
	require.NoError(t, err)
	require.Len(t, list, 3)
	for i, m := range list {
		assert.Equal(t, ids[i], m.ID)
		assert.EqualValues(t, i+1, m.Secuencia)
	}
}

func TestAppend_ValidaAntesDeEscribir(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 1, "100")

	_, err := movs.Append(ctx, &model.MovimientoCaja{SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec("0")}, nil)
	assert.True(t, errors.Is(err, model.ErrMontoNoPositivo))

	_, err = movs.Append(ctx, &model.MovimientoCaja{SesionCajaID: s.ID, Tipo: model.TipoEgreso, Monto: dec("5")}, nil)
	assert.True(t, errors.Is(err, model.ErrDescripcionRequerida))

	list, err := movs.ListBySesion(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestAppend_Idempotente(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 1, "100")

	nuevo := func() *model.MovimientoCaja {
		return &model.MovimientoCaja{
			SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec("50"), UsuarioID: s.UsuarioID, Referencia: ref("venta:1"),
		}
	}
	first, err := movs.Append(ctx, nuevo(), nil)
	require.NoError(t, err)
	require.False(t, first.Existente)

	guardCalled := false
	second, err := movs.Append(ctx, nuevo(), func(*model.SesionCaja) error {
		guardCalled = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, second.Existente)
	assert.Equal(t, first.Movimiento.ID, second.Movimiento.ID)
	assert.False(t, guardCalled)

	got, err := cajas.FindSesionByID(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, got.Saldo().Equal(dec("150")))
	assert.EqualValues(t, 1, got.CantidadMovimientos)
}

func TestAppend_Concurrente(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	s := abrir(t, cajas, 1, "0")

	const n = 20
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := movs.Append(context.Background(), &model.MovimientoCaja{
				SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec("1.10"), UsuarioID: s.UsuarioID,
			}, nil)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	got, err := cajas.FindSesionByID(context.Background(), s.ID)
	require.NoError(t, err)
	assert.True(t, got.TotalIngresos.Equal(dec("22")), "got %s", got.TotalIngresos)
	assert.EqualValues(t, n, got.CantidadMovimientos)
}

func TestAppend_SesionCerradaAntesQueIdempotencia(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 1, "100")

	m := &model.MovimientoCaja{SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec("50"), UsuarioID: s.UsuarioID, Referencia: ref("venta:1")}
	_, err := movs.Append(ctx, m, nil)
	require.NoError(t, err)
	_, _, err = cajas.CerrarSesion(ctx, s.ID, 1, conciliar(uuid.New()))
	require.NoError(t, err)

	_, err = movs.Append(ctx, &model.MovimientoCaja{
		SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec("50"), UsuarioID: s.UsuarioID, Referencia: ref("venta:1"),
	}, nil)
	assert.True(t, errors.Is(err, model.ErrSesionCerrada))
}

func TestAppend_GuardRechaza(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 1, "10")

	guard := func(sesion *model.SesionCaja) error {
		return balance.ValidarMovimiento(sesion, balance.Propuesto{Tipo: model.TipoEgreso, Monto: dec("20"), Descripcion: "retiro"}, balance.Politica{})
	}
	_, err := movs.Append(ctx, &model.MovimientoCaja{
		SesionCajaID: s.ID, Tipo: model.TipoEgreso, Monto: dec("20"), Descripcion: "retiro", UsuarioID: s.UsuarioID,
	}, guard)
	assert.True(t, errors.Is(err, model.ErrSaldoInsuficiente))

	list, err := movs.ListBySesion(ctx, s.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestFindByReferencia(t *testing.T) {
	db := newTestDB(t)
	cajas := NewCajaRepository(db)
	movs := NewMovimientoRepository(db)
	ctx := context.Background()
	s := abrir(t, cajas, 4, "0")

	orig, err := movs.Append(ctx, &model.MovimientoCaja{
		SesionCajaID: s.ID, Tipo: model.TipoIngreso, Monto: dec("5"), UsuarioID: s.UsuarioID, Referencia: ref("pago_credito:9"),
	}, nil)
	require.NoError(t, err)

	m, sesion, err := movs.FindByReferencia(ctx, 4, "pago_credito:9")
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, orig.Movimiento.ID, m.ID)
	assert.Equal(t, s.ID, sesion.ID)

	m, sesion, err = movs.FindByReferencia(ctx, 5, "pago_credito:9")
	require.NoError(t, err)
	assert.Nil(t, m)
	assert.Nil(t, sesion)
}

func TestStorageError_Transitorio(t *testing.T) {
	err := storageError(context.DeadlineExceeded, "op")
	assert.True(t, errors.Is(err, model.ErrAlmacenamientoNoDisponible))

	err = storageError(errors.New("syntax error"), "op")
	assert.False(t, errors.Is(err, model.ErrAlmacenamientoNoDisponible))

	assert.Nil(t, storageError(nil, "op"))
}
