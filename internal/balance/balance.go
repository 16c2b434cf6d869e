// Package balance derives totals, validates proposed movements and builds the
// closing arqueo of a cash session. It holds no state and performs no I/O:
// every function is a deterministic function of its arguments.
//
// Amounts are shopspring decimals rounded to two fractional digits, so sums
// never drift the way float64 would.
package balance

import (
	"strings"
	"time"

	"cajapos/internal/apperror"
	"cajapos/internal/model"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	ClasificacionNormal      = "normal"
	ClasificacionAdvertencia = "advertencia"
	ClasificacionCritico     = "critico"
)

var (
	umbralNormal      = decimal.NewFromInt(1)
	umbralAdvertencia = decimal.NewFromInt(5)
	cien              = decimal.NewFromInt(100)
)

// Totales is the derived view of a session: Saldo = MontoInicial + Ingresos - Egresos.
type Totales struct {
	Ingresos decimal.Decimal
	Egresos  decimal.Decimal
	Saldo    decimal.Decimal
	Cantidad int64
}

// Propuesto is a movement not yet persisted.
type Propuesto struct {
	Tipo        string
	Monto       decimal.Decimal
	Descripcion string
}

// Politica tunes validation. PermitirSaldoNegativo allows overdraft cash-outs
// (float top-ups recorded after the fact).
type Politica struct {
	PermitirSaldoNegativo bool
}

// Redondear normalizes a currency amount to two fractional digits.
func Redondear(d decimal.Decimal) decimal.Decimal {
	return d.Round(2)
}

// CalcularTotales sums ingresos and egresos over movimientos.
func CalcularTotales(sesion *model.SesionCaja, movimientos []model.MovimientoCaja) Totales {
	t := Totales{Ingresos: decimal.Zero, Egresos: decimal.Zero}
	for _, m := range movimientos {
		switch m.Tipo {
		case model.TipoIngreso:
			t.Ingresos = t.Ingresos.Add(m.Monto)
		case model.TipoEgreso:
			t.Egresos = t.Egresos.Add(m.Monto)
		}
		t.Cantidad++
	}
	t.Ingresos = Redondear(t.Ingresos)
	t.Egresos = Redondear(t.Egresos)
	t.Saldo = Redondear(sesion.MontoInicial.Add(t.Ingresos).Sub(t.Egresos))
	return t
}

// ValidarPropuesto checks the movement on its own, without any session state.
func ValidarPropuesto(p Propuesto) error {
	if p.Tipo != model.TipoIngreso && p.Tipo != model.TipoEgreso {
		return apperror.Withf(model.ErrTipoMovimientoInvalido, "%q", p.Tipo)
	}
	if !p.Monto.IsPositive() {
		return apperror.Withf(model.ErrMontoNoPositivo, "recibido %s", p.Monto.String())
	}
	if !Redondear(p.Monto).Equal(p.Monto) {
		return apperror.Withf(model.ErrMontoPrecisionInvalida, "recibido %s", p.Monto.String())
	}
	if p.Tipo == model.TipoEgreso && strings.TrimSpace(p.Descripcion) == "" {
		return model.ErrDescripcionRequerida
	}
	return nil
}

// ValidarMovimiento checks a proposed movement against the session it targets.
// The session must reflect committed state (callers pass the row they locked).
func ValidarMovimiento(sesion *model.SesionCaja, p Propuesto, pol Politica) error {
	if sesion == nil {
		return model.ErrNoHaySesionAbierta
	}
	if !sesion.Abierta() {
		return apperror.Withf(model.ErrSesionCerrada, "sesion %s", sesion.ID)
	}
	if err := ValidarPropuesto(p); err != nil {
		return err
	}
	if p.Tipo == model.TipoEgreso && !pol.PermitirSaldoNegativo {
		saldo := sesion.Saldo()
		if saldo.Sub(p.Monto).IsNegative() {
			return model.ErrSaldoInsuficiente.WithDetails(map[string]string{
				"saldo":    saldo.StringFixed(2),
				"egreso":   p.Monto.StringFixed(2),
				"faltante": p.Monto.Sub(saldo).StringFixed(2),
			})
		}
	}
	return nil
}

// CierreInput carries what the closing operator declares.
type CierreInput struct {
	UsuarioID      uuid.UUID
	MontoDeclarado *decimal.Decimal
	Observaciones  *string
	ClosedAt       time.Time
}

// Conciliar builds the arqueo for sesion from its full list of movimientos.
// It always succeeds; a declared count that disagrees with the computed
// balance is recorded as Desvio, never corrected.
func Conciliar(sesion *model.SesionCaja, movimientos []model.MovimientoCaja, in CierreInput) *model.ArqueoCaja {
	t := CalcularTotales(sesion, movimientos)
	arqueo := &model.ArqueoCaja{
		SesionCajaID:        sesion.ID,
		PuntoDeVenta:        sesion.PuntoDeVenta,
		UsuarioID:           in.UsuarioID,
		MontoInicial:        Redondear(sesion.MontoInicial),
		TotalIngresos:       t.Ingresos,
		TotalEgresos:        t.Egresos,
		SaldoFinal:          t.Saldo,
		CantidadMovimientos: t.Cantidad,
		Observaciones:       in.Observaciones,
		ClosedAt:            in.ClosedAt,
	}
	if in.MontoDeclarado != nil {
		declarado := Redondear(*in.MontoDeclarado)
		desvio := declarado.Sub(t.Saldo)
		pct := decimal.Zero
		if !t.Saldo.IsZero() {
			pct = desvio.Div(t.Saldo).Mul(cien).Round(2)
		}
		clasificacion := ClasificarDesvio(pct)
		if t.Saldo.IsZero() && !desvio.IsZero() {
			clasificacion = ClasificacionCritico
		}
		arqueo.MontoDeclarado = &declarado
		arqueo.Desvio = &desvio
		arqueo.DesvioPct = &pct
		arqueo.Clasificacion = &clasificacion
	}
	return arqueo
}

// RequiereObservaciones reports whether closing with this arqueo needs
// supervisor notes (critico deviation).
func RequiereObservaciones(a *model.ArqueoCaja) bool {
	if a.Clasificacion == nil || *a.Clasificacion != ClasificacionCritico {
		return false
	}
	return a.Observaciones == nil || strings.TrimSpace(*a.Observaciones) == ""
}

// ClasificarDesvio: normal |pct| <= 1, advertencia <= 5, critico > 5.
func ClasificarDesvio(pct decimal.Decimal) string {
	abs := pct.Abs()
	switch {
	case abs.LessThanOrEqual(umbralNormal):
		return ClasificacionNormal
	case abs.LessThanOrEqual(umbralAdvertencia):
		return ClasificacionAdvertencia
	default:
		return ClasificacionCritico
	}
}

// Diferencia describes one field where an arqueo and a recomputation disagree.
type Diferencia struct {
	Campo       string `json:"campo"`
	Arqueo      string `json:"arqueo"`
	Recalculado string `json:"recalculado"`
}

// Verificar recomputes totals from movimientos and compares them with the
// stored arqueo. Any disagreement is returned as ErrArqueoInconsistente with
// the differing fields as details.
func Verificar(sesion *model.SesionCaja, arqueo *model.ArqueoCaja, movimientos []model.MovimientoCaja) error {
	t := CalcularTotales(sesion, movimientos)
	var diffs []Diferencia
	cmp := func(campo string, a, b decimal.Decimal) {
		if !a.Equal(b) {
			diffs = append(diffs, Diferencia{Campo: campo, Arqueo: a.StringFixed(2), Recalculado: b.StringFixed(2)})
		}
	}
	cmp("monto_inicial", arqueo.MontoInicial, Redondear(sesion.MontoInicial))
	cmp("total_ingresos", arqueo.TotalIngresos, t.Ingresos)
	cmp("total_egresos", arqueo.TotalEgresos, t.Egresos)
	cmp("saldo_final", arqueo.SaldoFinal, t.Saldo)
	if arqueo.CantidadMovimientos != t.Cantidad {
		diffs = append(diffs, Diferencia{
			Campo:       "cantidad_movimientos",
			Arqueo:      decimal.NewFromInt(arqueo.CantidadMovimientos).String(),
			Recalculado: decimal.NewFromInt(t.Cantidad).String(),
		})
	}
	if len(diffs) > 0 {
		return apperror.Withf(model.ErrArqueoInconsistente, "sesion %s", sesion.ID).WithDetails(diffs)
	}
	return nil
}
