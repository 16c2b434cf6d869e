package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestLedgerExportsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewLedger(reg)

	m.ObserveOperacion("abrir", ResultadoOK, 10*time.Millisecond)
	m.ObserveOperacion("abrir", "CONFLICT", time.Millisecond)
	m.IncDuplicado()
	m.IncCierre("")
	m.IncCierre("critico")
	m.IncInconsistente()
	m.IncJob("cierre_caja", ResultadoOK)
	m.SetCircuitoCorreo("abierto", 1)
	m.SetCircuitoCorreo("semiabierto", 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.operaciones.WithLabelValues("abrir", ResultadoOK)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.operaciones.WithLabelValues("abrir", "CONFLICT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.duplicados))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.desvios.WithLabelValues("sin_declaracion")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.desvios.WithLabelValues("critico")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.inconsistentes))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobs.WithLabelValues("cierre_caja", ResultadoOK)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.duracion))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.circuito))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transiciones.WithLabelValues("abierto")))
}

func TestLedgerNilSafe(t *testing.T) {
	var m *Ledger
	assert.NotPanics(t, func() {
		m.ObserveOperacion("abrir", ResultadoOK, time.Second)
		m.IncDuplicado()
		m.IncCierre("normal")
		m.IncInconsistente()
		m.IncJob("x", ResultadoError)
		m.SetCircuitoCorreo("abierto", 1)
	})

	noop := NewLedger(nil)
	assert.NotPanics(t, func() { noop.IncDuplicado() })
}
