// Package metrics exposes Prometheus instruments for the cash ledger.
// Every method is nil-safe so services can run without a registry.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	ResultadoOK    = "ok"
	ResultadoError = "error"
)

// Ledger records ledger operations, idempotent replays, reconciliation
// outcomes, background job executions and the mail relay circuit.
type Ledger struct {
	operaciones    *prometheus.CounterVec
	duracion       *prometheus.HistogramVec
	duplicados     prometheus.Counter
	desvios        *prometheus.CounterVec
	inconsistentes prometheus.Counter
	jobs           *prometheus.CounterVec
	circuito       prometheus.Gauge
	transiciones   *prometheus.CounterVec
}

// NewLedger registers the ledger metrics on reg. A nil reg yields a no-op Ledger.
func NewLedger(reg prometheus.Registerer) *Ledger {
	if reg == nil {
		return &Ledger{}
	}
	m := &Ledger{
		operaciones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caja_operaciones_total",
			Help: "Cash ledger operations by name and result code.",
		}, []string{"operacion", "resultado"}),
		duracion: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "caja_operacion_duration_seconds",
			Help:    "Duration of cash ledger operations in seconds.",
			Buckets: prometheus.DefBuckets,
		}, []string{"operacion"}),
		duplicados: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caja_movimientos_duplicados_total",
			Help: "Movements answered from an earlier attempt with the same referencia.",
		}),
		desvios: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caja_cierres_total",
			Help: "Closed sessions by blind-count classification.",
		}, []string{"clasificacion"}),
		inconsistentes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "caja_totales_inconsistentes_total",
			Help: "Closes where cached session totals disagreed with the movement log.",
		}),
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caja_jobs_total",
			Help: "Background job executions by type and result.",
		}, []string{"job", "resultado"}),
		circuito: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "caja_notificador_circuito_estado",
			Help: "Mail relay circuit state: 0 cerrado, 1 abierto, 2 semiabierto.",
		}),
		transiciones: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "caja_notificador_circuito_transiciones_total",
			Help: "Mail relay circuit transitions by target state.",
		}, []string{"hacia"}),
	}
	reg.MustRegister(m.operaciones, m.duracion, m.duplicados, m.desvios, m.inconsistentes, m.jobs, m.circuito, m.transiciones)
	return m
}

// ObserveOperacion records one operation. resultado is "ok" or an error code.
func (m *Ledger) ObserveOperacion(operacion, resultado string, d time.Duration) {
	if m == nil || m.operaciones == nil {
		return
	}
	m.operaciones.WithLabelValues(operacion, normalizeLabel(resultado)).Inc()
	m.duracion.WithLabelValues(operacion).Observe(d.Seconds())
}

func (m *Ledger) IncDuplicado() {
	if m == nil || m.duplicados == nil {
		return
	}
	m.duplicados.Inc()
}

// IncCierre counts a close; clasificacion is empty when no count was declared.
func (m *Ledger) IncCierre(clasificacion string) {
	if m == nil || m.desvios == nil {
		return
	}
	if clasificacion == "" {
		clasificacion = "sin_declaracion"
	}
	m.desvios.WithLabelValues(clasificacion).Inc()
}

func (m *Ledger) IncInconsistente() {
	if m == nil || m.inconsistentes == nil {
		return
	}
	m.inconsistentes.Inc()
}

func (m *Ledger) IncJob(job, resultado string) {
	if m == nil || m.jobs == nil {
		return
	}
	m.jobs.WithLabelValues(normalizeLabel(job), normalizeLabel(resultado)).Inc()
}

// SetCircuitoCorreo records a transition of the mail relay circuit to estado,
// whose numeric code is valor.
func (m *Ledger) SetCircuitoCorreo(estado string, valor int) {
	if m == nil || m.circuito == nil {
		return
	}
	m.circuito.Set(float64(valor))
	m.transiciones.WithLabelValues(normalizeLabel(estado)).Inc()
}

func normalizeLabel(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
