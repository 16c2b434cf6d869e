package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"cajapos/internal/metrics"
	"cajapos/internal/model"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

const (
	QueueCierreCaja = "jobs:cierre_caja"
	JobCierreCaja   = "cierre_caja"

	DefaultMaxAttempts = 5
)

// Queue is the subset of go-redis the pool needs; *redis.Client satisfies it.
type Queue interface {
	LPush(ctx context.Context, key string, values ...interface{}) *redis.IntCmd
	BRPop(ctx context.Context, timeout time.Duration, keys ...string) *redis.StringSliceCmd
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// Job is the generic envelope for all async tasks.
type Job struct {
	Type     string          `json:"type"`
	Payload  json.RawMessage `json:"payload"`
	Attempts int             `json:"attempts"`
}

// Handler processes one job payload. A returned error requeues the job until
// it reaches MaxAttempts, then it goes to the DLQ.
type Handler func(ctx context.Context, payload json.RawMessage) error

// ── Dispatcher ────────────────────────────────────────────────────────────────

// Dispatcher enqueues async jobs into Redis lists.
// The worker pool dequeues them via BRPOP.
type Dispatcher struct {
	q Queue
}

func NewDispatcher(q Queue) *Dispatcher {
	return &Dispatcher{q: q}
}

// CierreJobPayload is the summary mailed after a session closes.
type CierreJobPayload struct {
	SesionCajaID        string  `json:"sesion_caja_id"`
	PuntoDeVenta        int     `json:"punto_de_venta"`
	UsuarioID           string  `json:"usuario_id"`
	MontoInicial        string  `json:"monto_inicial"`
	TotalIngresos       string  `json:"total_ingresos"`
	TotalEgresos        string  `json:"total_egresos"`
	SaldoFinal          string  `json:"saldo_final"`
	CantidadMovimientos int64   `json:"cantidad_movimientos"`
	MontoDeclarado      *string `json:"monto_declarado,omitempty"`
	Desvio              *string `json:"desvio,omitempty"`
	Clasificacion       *string `json:"clasificacion,omitempty"`
	Observaciones       *string `json:"observaciones,omitempty"`
	OpenedAt            string  `json:"opened_at"`
	ClosedAt            string  `json:"closed_at"`
}

// NotificarCierre enqueues the close summary of sesion.
func (d *Dispatcher) NotificarCierre(ctx context.Context, sesion *model.SesionCaja, arqueo *model.ArqueoCaja) error {
	p := CierreJobPayload{
		SesionCajaID:        sesion.ID.String(),
		PuntoDeVenta:        sesion.PuntoDeVenta,
		UsuarioID:           arqueo.UsuarioID.String(),
		MontoInicial:        arqueo.MontoInicial.StringFixed(2),
		TotalIngresos:       arqueo.TotalIngresos.StringFixed(2),
		TotalEgresos:        arqueo.TotalEgresos.StringFixed(2),
		SaldoFinal:          arqueo.SaldoFinal.StringFixed(2),
		CantidadMovimientos: arqueo.CantidadMovimientos,
		Clasificacion:       arqueo.Clasificacion,
		Observaciones:       arqueo.Observaciones,
		OpenedAt:            sesion.OpenedAt.UTC().Format(time.RFC3339),
		ClosedAt:            arqueo.ClosedAt.UTC().Format(time.RFC3339),
	}
	if arqueo.MontoDeclarado != nil {
		v := arqueo.MontoDeclarado.StringFixed(2)
		p.MontoDeclarado = &v
	}
	if arqueo.Desvio != nil {
		v := arqueo.Desvio.StringFixed(2)
		p.Desvio = &v
	}
	return d.enqueue(ctx, QueueCierreCaja, JobCierreCaja, p)
}

func (d *Dispatcher) enqueue(ctx context.Context, queue, jobType string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return push(ctx, d.q, queue, Job{Type: jobType, Payload: data})
}

func push(ctx context.Context, q Queue, queue string, job Job) error {
	encoded, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.LPush(ctx, queue, encoded).Err()
}

// ── Pool ──────────────────────────────────────────────────────────────────────

type PoolConfig struct {
	Workers      int
	MaxAttempts  int
	PopTimeout   time.Duration
	RetryBackoff time.Duration
}

// Pool runs a fixed number of goroutines consuming the job queues.
type Pool struct {
	q        Queue
	cfg      PoolConfig
	handlers map[string]Handler
	queues   []string
	metrics  *metrics.Ledger
	wg       sync.WaitGroup
}

func NewPool(q Queue, cfg PoolConfig, m *metrics.Ledger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.PopTimeout <= 0 {
		cfg.PopTimeout = 5 * time.Second
	}
	return &Pool{q: q, cfg: cfg, handlers: make(map[string]Handler), metrics: m}
}

// Handle registers h for jobType on queue. Must be called before Start.
func (p *Pool) Handle(queue, jobType string, h Handler) {
	if !slices.Contains(p.queues, queue) {
		p.queues = append(p.queues, queue)
	}
	p.handlers[jobType] = h
}

// Start launches the workers. Each goroutine blocks on BRPOP, zero CPU when idle.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.run(ctx, id)
		}(i)
	}
	log.Info().Msgf("worker pool started with %d workers", p.cfg.Workers)
}

// Wait blocks until every worker has returned after ctx cancellation.
func (p *Pool) Wait() { p.wg.Wait() }

func (p *Pool) run(ctx context.Context, id int) {
	for {
		select {
		case <-ctx.Done():
			log.Info().Msgf("worker %d shutting down", id)
			return
		default:
		}
		// Blocking pop — waits up to PopTimeout then loops to check ctx
		result, err := p.q.BRPop(ctx, p.cfg.PopTimeout, p.queues...).Result()
		if err != nil {
			if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
				log.Warn().Err(err).Int("worker", id).Msg("worker: BRPOP failed")
				sleepCtx(ctx, time.Second)
			}
			continue
		}
		if len(result) < 2 {
			continue
		}
		p.process(ctx, result[0], result[1])
	}
}

func (p *Pool) process(ctx context.Context, queue, raw string) {
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		log.Error().Str("queue", queue).Err(err).Msg("failed to unmarshal job")
		SendToDLQ(ctx, p.q, queue, "desconocido", json.RawMessage(fmt.Sprintf("%q", raw)), "payload invalido: "+err.Error(), 0)
		return
	}
	h, ok := p.handlers[job.Type]
	if !ok {
		SendToDLQ(ctx, p.q, queue, job.Type, job.Payload, "tipo de job sin handler", job.Attempts)
		return
	}

	job.Attempts++
	err := h(ctx, job.Payload)
	if err == nil {
		p.metrics.IncJob(job.Type, metrics.ResultadoOK)
		return
	}
	p.metrics.IncJob(job.Type, metrics.ResultadoError)

	if job.Attempts >= p.cfg.MaxAttempts {
		SendToDLQ(ctx, p.q, queue, job.Type, job.Payload,
			fmt.Sprintf("max attempts (%d) exceeded: %s", p.cfg.MaxAttempts, err.Error()), job.Attempts)
		return
	}
	log.Warn().Err(err).Str("type", job.Type).Int("attempts", job.Attempts).Msg("job failed, requeueing")
	sleepCtx(ctx, p.cfg.RetryBackoff*time.Duration(job.Attempts))
	if err := push(context.WithoutCancel(ctx), p.q, queue, job); err != nil {
		log.Error().Err(err).Str("queue", queue).Msg("failed to requeue job")
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
