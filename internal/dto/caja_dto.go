package dto

import "github.com/shopspring/decimal"

// ─── Request DTOs ────────────────────────────────────────────────────────────

type AbrirCajaRequest struct {
	PuntoDeVenta int             `json:"punto_de_venta" validate:"required,min=1"`
	MontoInicial decimal.Decimal `json:"monto_inicial"  validate:"min=0"`
}

// MovimientoRequest is the body of POST /v1/caja/ingreso and /v1/caja/egreso.
// Referencia is the idempotency key; retries must reuse it.
type MovimientoRequest struct {
	PuntoDeVenta int             `json:"punto_de_venta"  validate:"required,min=1"`
	SesionCajaID *string         `json:"sesion_caja_id"  validate:"omitempty,uuid"`
	Monto        decimal.Decimal `json:"monto"           validate:"required,gt=0"`
	Descripcion  string          `json:"descripcion"     validate:"max=500"`
	Referencia   *string         `json:"referencia"      validate:"omitempty,min=1,max=120"`
}

// CerrarCajaRequest closes the active session of a till. MontoDeclarado is the
// optional blind count; Observaciones become mandatory on a critico deviation.
type CerrarCajaRequest struct {
	PuntoDeVenta   int              `json:"punto_de_venta"  validate:"required,min=1"`
	SesionCajaID   string           `json:"sesion_caja_id"  validate:"required,uuid"`
	MontoDeclarado *decimal.Decimal `json:"monto_declarado"`
	Observaciones  *string          `json:"observaciones"   validate:"omitempty,max=1000"`
}

// HistorialFilter selects sessions opened in the last Dias days.
type HistorialFilter struct {
	Dias         int  `form:"dias"`
	PuntoDeVenta *int `form:"punto_de_venta"`
	Page         int  `form:"page"`
	Limit        int  `form:"limit"`
}

// ─── Response DTOs ───────────────────────────────────────────────────────────

type MovimientoResponse struct {
	ID           string          `json:"id"`
	SesionCajaID string          `json:"sesion_caja_id"`
	Secuencia    int64           `json:"secuencia"`
	Tipo         string          `json:"tipo"` // ingreso | egreso
	Monto        decimal.Decimal `json:"monto"`
	Descripcion  string          `json:"descripcion"`
	UsuarioID    string          `json:"usuario_id"`
	Referencia   *string         `json:"referencia"`
	CreatedAt    string          `json:"created_at"`
}

// MovimientoRegistradoResponse reports whether the call created the movement
// or returned one recorded by an earlier attempt with the same referencia.
type MovimientoRegistradoResponse struct {
	Movimiento MovimientoResponse `json:"movimiento"`
	Duplicado  bool               `json:"duplicado"`
	Saldo      decimal.Decimal    `json:"saldo"`
}

type DesvioResponse struct {
	Monto         decimal.Decimal `json:"monto"`
	Porcentaje    decimal.Decimal `json:"porcentaje"`
	Clasificacion string          `json:"clasificacion"` // normal | advertencia | critico
}

type ArqueoResponse struct {
	ID                  string           `json:"id"`
	SesionCajaID        string           `json:"sesion_caja_id"`
	PuntoDeVenta        int              `json:"punto_de_venta"`
	UsuarioID           string           `json:"usuario_id"`
	MontoInicial        decimal.Decimal  `json:"monto_inicial"`
	TotalIngresos       decimal.Decimal  `json:"total_ingresos"`
	TotalEgresos        decimal.Decimal  `json:"total_egresos"`
	SaldoFinal          decimal.Decimal  `json:"saldo_final"`
	CantidadMovimientos int64            `json:"cantidad_movimientos"`
	MontoDeclarado      *decimal.Decimal `json:"monto_declarado"`
	Desvio              *DesvioResponse  `json:"desvio"`
	Observaciones       *string          `json:"observaciones"`
	ClosedAt            string           `json:"closed_at"`
}

type SesionCajaResponse struct {
	ID                  string          `json:"id"`
	PuntoDeVenta        int             `json:"punto_de_venta"`
	UsuarioID           string          `json:"usuario_id"`
	MontoInicial        decimal.Decimal `json:"monto_inicial"`
	Estado              string          `json:"estado"`
	TotalIngresos       decimal.Decimal `json:"total_ingresos"`
	TotalEgresos        decimal.Decimal `json:"total_egresos"`
	Saldo               decimal.Decimal `json:"saldo"`
	CantidadMovimientos int64           `json:"cantidad_movimientos"`
	OpenedAt            string          `json:"opened_at"`
	ClosedAt            *string         `json:"closed_at"`
	Arqueo              *ArqueoResponse `json:"arqueo,omitempty"`
}

// EstadoCajaResponse is the current state of a till: its open session and the
// balance recomputed from the movement log.
type EstadoCajaResponse struct {
	Sesion      SesionCajaResponse   `json:"sesion"`
	Saldo       decimal.Decimal      `json:"saldo"`
	Movimientos []MovimientoResponse `json:"movimientos"`
}

type ReporteCajaResponse struct {
	Sesion      SesionCajaResponse   `json:"sesion"`
	Movimientos []MovimientoResponse `json:"movimientos"`
	Arqueo      *ArqueoResponse      `json:"arqueo"`
}

type HistorialCajaResponse struct {
	Data  []SesionCajaResponse `json:"data"`
	Total int64                `json:"total"`
	Page  int                  `json:"page"`
	Limit int                  `json:"limit"`
}

type DiferenciaResponse struct {
	Campo       string `json:"campo"`
	Arqueo      string `json:"arqueo"`
	Recalculado string `json:"recalculado"`
}

// VerificacionResponse compares a stored arqueo against a fresh recomputation.
type VerificacionResponse struct {
	SesionCajaID string               `json:"sesion_caja_id"`
	Consistente  bool                 `json:"consistente"`
	Diferencias  []DiferenciaResponse `json:"diferencias"`
}
