package router

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cajapos/internal/apierror"
	"cajapos/internal/config"
	"cajapos/internal/dto"
	"cajapos/internal/infra"
	"cajapos/internal/middleware"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret-router-test-secret"

func init() { gin.SetMode(gin.TestMode) }

type testServer struct {
	t      *testing.T
	engine *gin.Engine
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	db, err := infra.NewDatabase(infra.DatabaseOptions{Driver: infra.DriverSQLite, DSN: ":memory:"})
	require.NoError(t, err)
	require.NoError(t, infra.RunMigrations(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})

	cfg := &config.Config{
		Env:            config.EnvDevelopment,
		JWTSecret:      testSecret,
		StorageTimeout: 5 * time.Second,
	}
	return &testServer{t: t, engine: New(cfg, db, nil, Options{Registry: prometheus.NewRegistry()})}
}

func token(t *testing.T, rol string, pdv *int) string {
	t.Helper()
	tok, err := middleware.NewToken(testSecret, middleware.JWTClaims{
		UserID:       uuid.NewString(),
		Username:     "test",
		Rol:          rol,
		PuntoDeVenta: pdv,
	}, time.Hour)
	require.NoError(t, err)
	return tok
}

func (s *testServer) do(method, path, tok string, body any) *httptest.ResponseRecorder {
	s.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	w := httptest.NewRecorder()
	s.engine.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestHealthYMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	body := decode[map[string]any](t, w)
	assert.Equal(t, "connected", body["db"])
	assert.Equal(t, "disabled", body["redis"])

	w = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCaja_RequiereAutenticacion(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/v1/caja/abrir", "", dto.AbrirCajaRequest{PuntoDeVenta: 1})
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = s.do(http.MethodGet, "/v1/caja/historial", token(t, middleware.RolCajero, nil), nil)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCaja_FlujoCompleto(t *testing.T) {
	s := newTestServer(t)
	cajero := token(t, middleware.RolCajero, nil)
	supervisor := token(t, middleware.RolSupervisor, nil)

	w := s.do(http.MethodPost, "/v1/caja/abrir", cajero, dto.AbrirCajaRequest{PuntoDeVenta: 1, MontoInicial: dec("100")})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	sesion := decode[dto.SesionCajaResponse](t, w)
	assert.Equal(t, "abierta", sesion.Estado)

	w = s.do(http.MethodPost, "/v1/caja/abrir", cajero, dto.AbrirCajaRequest{PuntoDeVenta: 1, MontoInicial: dec("5")})
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "CONFLICT", decode[apierror.APIError](t, w).Code)

	ref := "venta:42"
	ingreso := dto.MovimientoRequest{PuntoDeVenta: 1, Monto: dec("50"), Descripcion: "venta", Referencia: &ref}
	w = s.do(http.MethodPost, "/v1/caja/ingreso", cajero, ingreso)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	primero := decode[dto.MovimientoRegistradoResponse](t, w)
	assert.False(t, primero.Duplicado)

	w = s.do(http.MethodPost, "/v1/caja/ingreso", cajero, ingreso)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	retry := decode[dto.MovimientoRegistradoResponse](t, w)
	assert.True(t, retry.Duplicado)
	assert.Equal(t, primero.Movimiento.ID, retry.Movimiento.ID)

	w = s.do(http.MethodPost, "/v1/caja/egreso", cajero, dto.MovimientoRequest{PuntoDeVenta: 1, Monto: dec("20"), Descripcion: "proveedor"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.True(t, decode[dto.MovimientoRegistradoResponse](t, w).Saldo.Equal(dec("130")))

	w = s.do(http.MethodGet, "/v1/caja/activa?punto_de_venta=1", cajero, nil)
	require.Equal(t, http.StatusOK, w.Code)
	estado := decode[dto.EstadoCajaResponse](t, w)
	assert.True(t, estado.Saldo.Equal(dec("130")))
	assert.Len(t, estado.Movimientos, 2)

	declarado := dec("130")
	w = s.do(http.MethodPost, "/v1/caja/cerrar", cajero, dto.CerrarCajaRequest{PuntoDeVenta: 1, SesionCajaID: sesion.ID, MontoDeclarado: &declarado})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	arqueo := decode[dto.ArqueoResponse](t, w)
	assert.True(t, arqueo.SaldoFinal.Equal(dec("130")))
	require.NotNil(t, arqueo.Desvio)
	assert.Equal(t, "normal", arqueo.Desvio.Clasificacion)

	w = s.do(http.MethodPost, "/v1/caja/ingreso", cajero, ingreso)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "STATE_CONFLICT", decode[apierror.APIError](t, w).Code)

	w = s.do(http.MethodGet, "/v1/caja/activa?punto_de_venta=1", cajero, nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodGet, "/v1/caja/"+sesion.ID+"/movimientos", cajero, nil)
	require.Equal(t, http.StatusOK, w.Code)
	movs := decode[[]dto.MovimientoResponse](t, w)
	require.Len(t, movs, 2)
	assert.EqualValues(t, 1, movs[0].Secuencia)

	w = s.do(http.MethodGet, "/v1/caja/"+sesion.ID+"/reporte", cajero, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotNil(t, decode[dto.ReporteCajaResponse](t, w).Arqueo)

	w = s.do(http.MethodGet, "/v1/caja/"+sesion.ID+"/verificacion", supervisor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, decode[dto.VerificacionResponse](t, w).Consistente)

	w = s.do(http.MethodGet, "/v1/caja/historial?dias=7&punto_de_venta=1", supervisor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	hist := decode[dto.HistorialCajaResponse](t, w)
	assert.EqualValues(t, 1, hist.Total)
	require.Len(t, hist.Data, 1)
	assert.NotNil(t, hist.Data[0].Arqueo)
}

func TestCaja_Errores(t *testing.T) {
	s := newTestServer(t)
	uno := 1
	cajero := token(t, middleware.RolCajero, &uno)

	t.Run("sin caja abierta", func(t *testing.T) {
		w := s.do(http.MethodPost, "/v1/caja/ingreso", cajero, dto.MovimientoRequest{PuntoDeVenta: 1, Monto: dec("10")})
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "PRECONDITION_FAILED", decode[apierror.APIError](t, w).Code)
	})

	t.Run("otro punto de venta", func(t *testing.T) {
		w := s.do(http.MethodPost, "/v1/caja/abrir", cajero, dto.AbrirCajaRequest{PuntoDeVenta: 2})
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("validacion", func(t *testing.T) {
		w := s.do(http.MethodPost, "/v1/caja/ingreso", cajero, map[string]any{"punto_de_venta": 1, "monto": "-3"})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		fields := decode[apierror.ValidationError](t, w).Fields
		assert.Equal(t, "gt", fields["Monto"])
	})

	t.Run("json invalido", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/caja/abrir", strings.NewReader("{"))
		req.Header.Set("Authorization", "Bearer "+cajero)
		w := httptest.NewRecorder()
		s.engine.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("activa usa el punto de venta del token", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/caja/activa", cajero, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("id invalido", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/caja/no-es-uuid/reporte", cajero, nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("sesion inexistente", func(t *testing.T) {
		w := s.do(http.MethodGet, "/v1/caja/"+uuid.NewString()+"/reporte", cajero, nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("egreso sin descripcion", func(t *testing.T) {
		w := s.do(http.MethodPost, "/v1/caja/abrir", cajero, dto.AbrirCajaRequest{PuntoDeVenta: 1, MontoInicial: dec("10")})
		require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

		w = s.do(http.MethodPost, "/v1/caja/egreso", cajero, dto.MovimientoRequest{PuntoDeVenta: 1, Monto: dec("5")})
		assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, "VALIDATION_ERROR", decode[apierror.APIError](t, w).Code)
	})
}
