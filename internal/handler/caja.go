package handler

import (
	"context"
	"net/http"

	"cajapos/internal/apierror"
	"cajapos/internal/dto"
	"cajapos/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

type CajaHandler struct {
	cajas       service.CajaService
	movimientos service.MovimientoService
	reportes    service.ReporteService
}

func NewCajaHandler(cajas service.CajaService, movimientos service.MovimientoService, reportes service.ReporteService) *CajaHandler {
	return &CajaHandler{cajas: cajas, movimientos: movimientos, reportes: reportes}
}

// Abrir godoc
// @Summary Abre una nueva sesion de caja
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.AbrirCajaRequest true "Datos de apertura"
// @Success 201 {object} dto.SesionCajaResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.ValidationError
// @Router /v1/caja/abrir [post]
func (h *CajaHandler) Abrir(c *gin.Context) {
	var req dto.AbrirCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	claims, usuarioID, ok := operador(c)
	if !ok || !autorizarPDV(c, claims, req.PuntoDeVenta) {
		return
	}

	resp, err := h.cajas.Abrir(c.Request.Context(), usuarioID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, resp)
}

// Activa godoc
// @Summary Estado de la sesion abierta de un punto de venta
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param punto_de_venta query int false "Punto de venta (por defecto el del token)"
// @Success 200 {object} dto.EstadoCajaResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/activa [get]
func (h *CajaHandler) Activa(c *gin.Context) {
	claims, _, ok := operador(c)
	if !ok {
		return
	}
	pdv, ok := puntoDeVentaQuery(c, claims)
	if !ok || !autorizarPDV(c, claims, pdv) {
		return
	}

	resp, err := h.reportes.EstadoActual(c.Request.Context(), pdv)
	if err != nil {
		respondError(c, err)
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, apierror.New("Sin sesion activa"))
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Ingreso godoc
// @Summary Registra un ingreso en la caja abierta
// @Description Reintentar con la misma referencia devuelve el movimiento ya registrado (duplicado=true).
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.MovimientoRequest true "Movimiento"
// @Success 201 {object} dto.MovimientoRegistradoResponse
// @Success 200 {object} dto.MovimientoRegistradoResponse
// @Failure 409 {object} apierror.APIError
// @Failure 503 {object} apierror.APIError
// @Router /v1/caja/ingreso [post]
func (h *CajaHandler) Ingreso(c *gin.Context) {
	h.registrar(c, h.movimientos.RegistrarIngreso)
}

// Egreso godoc
// @Summary Registra un egreso en la caja abierta
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.MovimientoRequest true "Movimiento (descripcion obligatoria)"
// @Success 201 {object} dto.MovimientoRegistradoResponse
// @Success 200 {object} dto.MovimientoRegistradoResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/caja/egreso [post]
func (h *CajaHandler) Egreso(c *gin.Context) {
	h.registrar(c, h.movimientos.RegistrarEgreso)
}

type registrarFunc func(ctx context.Context, usuarioID uuid.UUID, req dto.MovimientoRequest) (*dto.MovimientoRegistradoResponse, error)

func (h *CajaHandler) registrar(c *gin.Context, fn registrarFunc) {
	var req dto.MovimientoRequest
	if !bindAndValidate(c, &req) {
		return
	}
	claims, usuarioID, ok := operador(c)
	if !ok || !autorizarPDV(c, claims, req.PuntoDeVenta) {
		return
	}

	resp, err := fn(c.Request.Context(), usuarioID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	status := http.StatusCreated
	if resp.Duplicado {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

// Cerrar godoc
// @Summary Cierra la sesion activa y genera el arqueo
// @Description monto_declarado es el conteo ciego; un desvio critico exige observaciones.
// @Tags caja
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param body body dto.CerrarCajaRequest true "Cierre"
// @Success 200 {object} dto.ArqueoResponse
// @Failure 409 {object} apierror.APIError
// @Failure 422 {object} apierror.APIError
// @Router /v1/caja/cerrar [post]
func (h *CajaHandler) Cerrar(c *gin.Context) {
	var req dto.CerrarCajaRequest
	if !bindAndValidate(c, &req) {
		return
	}
	claims, usuarioID, ok := operador(c)
	if !ok || !autorizarPDV(c, claims, req.PuntoDeVenta) {
		return
	}

	resp, err := h.cajas.Cerrar(c.Request.Context(), usuarioID, req)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Historial godoc
// @Summary Sesiones abiertas en los ultimos N dias, mas recientes primero
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param dias query int false "Dias hacia atras (default 30, max 365)"
// @Param punto_de_venta query int false "Filtrar por punto de venta"
// @Param page query int false "Pagina"
// @Param limit query int false "Tamano de pagina (max 100)"
// @Success 200 {object} dto.HistorialCajaResponse
// @Router /v1/caja/historial [get]
func (h *CajaHandler) Historial(c *gin.Context) {
	var filter dto.HistorialFilter
	if err := c.ShouldBindQuery(&filter); err != nil {
		c.JSON(http.StatusBadRequest, apierror.New("Parametros invalidos: "+err.Error()))
		return
	}
	resp, err := h.reportes.Historial(c.Request.Context(), filter)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Movimientos godoc
// @Summary Movimientos de una sesion en orden de registro
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {array} dto.MovimientoResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/{id}/movimientos [get]
func (h *CajaHandler) Movimientos(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.reportes.Movimientos(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Reporte godoc
// @Summary Reporte completo de una sesion de caja
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {object} dto.ReporteCajaResponse
// @Failure 404 {object} apierror.APIError
// @Router /v1/caja/{id}/reporte [get]
func (h *CajaHandler) Reporte(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.reportes.Reporte(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// Verificacion godoc
// @Summary Recalcula el arqueo de una sesion cerrada desde sus movimientos
// @Tags caja
// @Produce json
// @Security BearerAuth
// @Param id path string true "ID de sesion"
// @Success 200 {object} dto.VerificacionResponse
// @Failure 404 {object} apierror.APIError
// @Failure 409 {object} apierror.APIError
// @Router /v1/caja/{id}/verificacion [get]
func (h *CajaHandler) Verificacion(c *gin.Context) {
	id, ok := parseUUIDParam(c, "id")
	if !ok {
		return
	}
	resp, err := h.reportes.VerificarArqueo(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, resp)
}
