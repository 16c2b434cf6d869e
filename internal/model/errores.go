package model

import "cajapos/internal/apperror"

// Ledger errors. Services enrich them with apperror.Withf; match with errors.Is.
var (
	// Preconditions: reported synchronously, never retried automatically.
	ErrNoHaySesionAbierta = apperror.New(apperror.CodePrecondition, "no hay sesion de caja abierta")
	ErrSesionYaAbierta    = apperror.New(apperror.CodeConflict, "ya existe una caja abierta en este punto de venta")
	ErrSesionYaCerrada    = apperror.New(apperror.CodeStateConflict, "la sesion de caja ya esta cerrada")
	ErrSesionNoActiva     = apperror.New(apperror.CodeStateConflict, "la sesion no es la sesion activa del punto de venta")
	ErrSesionCerrada      = apperror.New(apperror.CodeStateConflict, "la sesion de caja esta cerrada, no admite movimientos")
	ErrSesionNoEncontrada = apperror.New(apperror.CodeNotFound, "sesion de caja no encontrada")
	ErrSesionSinArqueo    = apperror.New(apperror.CodeStateConflict, "la sesion sigue abierta, todavia no tiene arqueo")

	// Validation.
	ErrMontoInvalido           = apperror.New(apperror.CodeValidation, "el monto inicial no puede ser negativo")
	ErrMontoDeclaradoInvalido  = apperror.New(apperror.CodeValidation, "el monto declarado no puede ser negativo")
	ErrMontoNoPositivo         = apperror.New(apperror.CodeValidation, "el monto debe ser mayor a cero")
	ErrMontoPrecisionInvalida  = apperror.New(apperror.CodeValidation, "el monto admite como maximo dos decimales")
	ErrDescripcionRequerida    = apperror.New(apperror.CodeValidation, "la descripcion es obligatoria para egresos")
	ErrSaldoInsuficiente       = apperror.New(apperror.CodeValidation, "el egreso deja la caja con saldo negativo")
	ErrObservacionesRequeridas = apperror.New(apperror.CodeValidation, "desvio critico: se requieren observaciones del supervisor")
	ErrTipoMovimientoInvalido  = apperror.New(apperror.CodeValidation, "tipo de movimiento invalido")

	// Transient: safe to retry with the same referencia.
	ErrAlmacenamientoNoDisponible = apperror.New(apperror.CodeUnavailable, "almacenamiento no disponible, reintente")

	// Reconciliation: recorded and reported, never auto-corrected.
	ErrArqueoInconsistente = apperror.New(apperror.CodeMismatch, "el arqueo no coincide con los movimientos registrados")
)
