package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

const (
	EstadoAbierta = "abierta"
	EstadoCerrada = "cerrada"
)

// SesionCaja represents the lifecycle of a cash register session.
// Estado: "abierta" | "cerrada". At most one "abierta" per PuntoDeVenta,
// enforced by the partial unique index uni_sesiones_caja_abierta.
type SesionCaja struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	PuntoDeVenta int             `gorm:"not null;index"`
	UsuarioID    uuid.UUID       `gorm:"type:uuid;not null"`
	MontoInicial decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Estado       string          `gorm:"type:varchar(20);not null;default:'abierta'"`

	// Cached totals, written in the same transaction as each movement.
	TotalIngresos       decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	TotalEgresos        decimal.Decimal `gorm:"type:decimal(12,2);not null;default:0"`
	CantidadMovimientos int64           `gorm:"not null;default:0"`

	Observaciones *string
	CerradaPor    *uuid.UUID `gorm:"type:uuid"`
	OpenedAt      time.Time  `gorm:"not null;index"`
	ClosedAt      *time.Time

	Arqueo *ArqueoCaja `gorm:"foreignKey:SesionCajaID"`
}

func (SesionCaja) TableName() string { return "sesiones_caja" }

func (s *SesionCaja) BeforeCreate(_ *gorm.DB) error {
	if s.ID == uuid.Nil {
		s.ID = uuid.New()
	}
	if s.Estado == "" {
		s.Estado = EstadoAbierta
	}
	return nil
}

func (s *SesionCaja) Abierta() bool { return s.Estado == EstadoAbierta }

// Saldo is MontoInicial + TotalIngresos - TotalEgresos over the cached totals.
func (s *SesionCaja) Saldo() decimal.Decimal {
	return s.MontoInicial.Add(s.TotalIngresos).Sub(s.TotalEgresos)
}

const (
	TipoIngreso = "ingreso"
	TipoEgreso  = "egreso"
)

// MovimientoCaja is an immutable event in the cash register ledger.
// Tipo: "ingreso" | "egreso". Monto is always positive; direction is carried
// by Tipo. Movements are NEVER modified or deleted — corrections are new
// compensating entries.
type MovimientoCaja struct {
	ID           uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SesionCajaID uuid.UUID       `gorm:"type:uuid;index;not null"`
	Secuencia    int64           `gorm:"not null"`
	Tipo         string          `gorm:"type:varchar(20);not null"`
	Monto        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	Descripcion  string          `gorm:"not null;default:''"`
	UsuarioID    uuid.UUID       `gorm:"type:uuid;not null"`
	// Referencia is the producer's idempotency key ("venta:<id>", "pago_credito:<id>").
	Referencia *string `gorm:"type:varchar(120)"`
	CreatedAt  time.Time
}

func (MovimientoCaja) TableName() string { return "movimientos_caja" }

func (m *MovimientoCaja) BeforeCreate(_ *gorm.DB) error {
	if m.ID == uuid.Nil {
		m.ID = uuid.New()
	}
	return nil
}

// ArqueoCaja is the reconciliation snapshot written once when a session closes.
// It is the authoritative record of the closing balance; a later recomputation
// from movimientos must agree with it.
type ArqueoCaja struct {
	ID                  uuid.UUID       `gorm:"type:uuid;primaryKey"`
	SesionCajaID        uuid.UUID       `gorm:"type:uuid;not null;uniqueIndex"`
	PuntoDeVenta        int             `gorm:"not null"`
	UsuarioID           uuid.UUID       `gorm:"type:uuid;not null"`
	MontoInicial        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TotalIngresos       decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	TotalEgresos        decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	SaldoFinal          decimal.Decimal `gorm:"type:decimal(12,2);not null"`
	CantidadMovimientos int64           `gorm:"not null"`
	// Blind count declared by the operator; nil when the close carried no count.
	MontoDeclarado *decimal.Decimal `gorm:"type:decimal(12,2)"`
	Desvio         *decimal.Decimal `gorm:"type:decimal(12,2)"`
	DesvioPct      *decimal.Decimal `gorm:"type:decimal(7,2)"`
	// Clasificacion: "normal" | "advertencia" | "critico"
	Clasificacion *string `gorm:"type:varchar(20)"`
	Observaciones *string
	ClosedAt      time.Time `gorm:"not null"`
}

func (ArqueoCaja) TableName() string { return "arqueos_caja" }

func (a *ArqueoCaja) BeforeCreate(_ *gorm.DB) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	return nil
}
