package infra

import (
	"errors"
	"net/textproto"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// ── Mail circuit ──────────────────────────────────────────────────────────────
// CircuitoCorreo guards the SMTP relay used for close summaries. While the relay
// is unreachable, workers fail fast and the pool requeues the job instead of
// holding a dial per attempt. A message the relay answered and rejected (5xx
// reply, bad recipient, mailer disabled) is returned to the caller but does not
// count against the relay.

// EstadoCircuito is the relay circuit state.
type EstadoCircuito int

const (
	CircuitoCerrado     EstadoCircuito = iota // sends flow
	CircuitoAbierto                           // sends fail with ErrCircuitoAbierto
	CircuitoSemiabierto                       // a single trial send in flight
)

func (e EstadoCircuito) String() string {
	switch e {
	case CircuitoCerrado:
		return "cerrado"
	case CircuitoAbierto:
		return "abierto"
	case CircuitoSemiabierto:
		return "semiabierto"
	default:
		return "desconocido"
	}
}

var ErrCircuitoAbierto = errors.New("mailer: circuito abierto, relay SMTP no disponible")

type CircuitoConfig struct {
	Fallas int           // consecutive relay failures that open the circuit
	Exitos int           // consecutive half-open successes that close it
	Espera time.Duration // time spent open before a trial send
	// OnCambio runs on every transition, under the circuit lock.
	OnCambio func(desde, hacia EstadoCircuito)
}

func DefaultCircuitoConfig() CircuitoConfig {
	return CircuitoConfig{Fallas: 5, Exitos: 2, Espera: time.Minute}
}

type CircuitoCorreo struct {
	mu        sync.Mutex
	cfg       CircuitoConfig
	estado    EstadoCircuito
	fallas    int
	exitos    int
	abiertoEn time.Time
	enPrueba  bool
	now       func() time.Time
}

func NewCircuitoCorreo(cfg CircuitoConfig) *CircuitoCorreo {
	def := DefaultCircuitoConfig()
	if cfg.Fallas <= 0 {
		cfg.Fallas = def.Fallas
	}
	if cfg.Exitos <= 0 {
		cfg.Exitos = def.Exitos
	}
	if cfg.Espera <= 0 {
		cfg.Espera = def.Espera
	}
	return &CircuitoCorreo{cfg: cfg, now: time.Now}
}

func (c *CircuitoCorreo) Estado() EstadoCircuito {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.vencerEspera()
	return c.estado
}

// Enviar runs send unless the circuit is open. While half-open only one send
// is admitted; concurrent callers get ErrCircuitoAbierto until it resolves.
func (c *CircuitoCorreo) Enviar(send func() error) error {
	c.mu.Lock()
	c.vencerEspera()
	prueba := false
	switch c.estado {
	case CircuitoAbierto:
		c.mu.Unlock()
		return ErrCircuitoAbierto
	case CircuitoSemiabierto:
		if c.enPrueba {
			c.mu.Unlock()
			return ErrCircuitoAbierto
		}
		c.enPrueba = true
		prueba = true
	}
	c.mu.Unlock()

	err := send()

	c.mu.Lock()
	defer c.mu.Unlock()
	if prueba {
		c.enPrueba = false
	}
	if err != nil && !EsRechazoPermanente(err) {
		c.registrarFalla()
	} else {
		c.registrarExito()
	}
	return err
}

// EsRechazoPermanente reports errors that say nothing about relay health:
// a 5xx SMTP reply, an invalid recipient or a mailer without SMTP_HOST.
func EsRechazoPermanente(err error) bool {
	if errors.Is(err, ErrDestinatarioInvalido) || errors.Is(err, ErrMailerDeshabilitado) {
		return true
	}
	var reply *textproto.Error
	return errors.As(err, &reply) && reply.Code >= 500
}

func (c *CircuitoCorreo) vencerEspera() {
	if c.estado == CircuitoAbierto && c.now().Sub(c.abiertoEn) >= c.cfg.Espera {
		c.cambiar(CircuitoSemiabierto)
	}
}

func (c *CircuitoCorreo) registrarFalla() {
	c.fallas++
	switch c.estado {
	case CircuitoCerrado:
		if c.fallas >= c.cfg.Fallas {
			c.abrir()
		}
	case CircuitoSemiabierto:
		c.abrir()
	}
}

func (c *CircuitoCorreo) registrarExito() {
	switch c.estado {
	case CircuitoCerrado:
		c.fallas = 0
	case CircuitoSemiabierto:
		c.exitos++
		if c.exitos >= c.cfg.Exitos {
			c.cambiar(CircuitoCerrado)
		}
	}
}

func (c *CircuitoCorreo) abrir() {
	c.abiertoEn = c.now()
	log.Warn().Int("fallas", c.fallas).Dur("espera", c.cfg.Espera).Msg("mailer: relay SMTP no responde, circuito abierto")
	c.cambiar(CircuitoAbierto)
}

// cambiar must be called under lock.
func (c *CircuitoCorreo) cambiar(hacia EstadoCircuito) {
	desde := c.estado
	c.estado = hacia
	c.fallas = 0
	c.exitos = 0
	if c.cfg.OnCambio != nil && desde != hacia {
		c.cfg.OnCambio(desde, hacia)
	}
}
