package worker

// cierre_worker.go
// Processes close-summary jobs from QueueCierreCaja: renders the arqueo as a
// plain-text mail and sends it through the relay circuit.

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"cajapos/internal/infra"

	"github.com/rs/zerolog/log"
)

// Sender delivers a plain-text mail; *infra.Mailer satisfies it.
type Sender interface {
	Send(to []string, subject, body string) error
}

type CierreWorker struct {
	sender Sender
	cb     *infra.CircuitoCorreo
	to     []string
}

// NewCierreWorker sends summaries to the comma-separated list in notifyTo.
func NewCierreWorker(sender Sender, cb *infra.CircuitoCorreo, notifyTo string) *CierreWorker {
	var to []string
	for _, addr := range strings.Split(notifyTo, ",") {
		if addr = strings.TrimSpace(addr); addr != "" {
			to = append(to, addr)
		}
	}
	return &CierreWorker{sender: sender, cb: cb, to: to}
}

func (w *CierreWorker) Process(_ context.Context, raw json.RawMessage) error {
	var p CierreJobPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return fmt.Errorf("cierre_worker: invalid payload: %w", err)
	}
	if len(w.to) == 0 {
		log.Debug().Str("sesion_caja_id", p.SesionCajaID).Msg("cierre_worker: no recipients configured, skipping")
		return nil
	}

	subject := fmt.Sprintf("Cierre de caja PDV %d - saldo %s", p.PuntoDeVenta, p.SaldoFinal)
	err := w.cb.Enviar(func() error {
		return w.sender.Send(w.to, subject, RenderResumenCierre(p))
	})
	if infra.EsRechazoPermanente(err) {
		// Requeueing cannot fix a rejected message.
		log.Error().Err(err).Str("sesion_caja_id", p.SesionCajaID).Msg("cierre_worker: resumen rechazado, descartado")
		return nil
	}
	if err != nil {
		return err
	}
	log.Info().Str("sesion_caja_id", p.SesionCajaID).Strs("to", w.to).Msg("cierre_worker: resumen enviado")
	return nil
}

// RenderResumenCierre formats the close summary body.
func RenderResumenCierre(p CierreJobPayload) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Punto de venta: %d\n", p.PuntoDeVenta)
	fmt.Fprintf(&b, "Sesion: %s\n", p.SesionCajaID)
	fmt.Fprintf(&b, "Apertura: %s\n", p.OpenedAt)
	fmt.Fprintf(&b, "Cierre: %s\n", p.ClosedAt)
	fmt.Fprintf(&b, "Cerrada por: %s\n\n", p.UsuarioID)
	fmt.Fprintf(&b, "Monto inicial:  %s\n", p.MontoInicial)
	fmt.Fprintf(&b, "Ingresos:       %s\n", p.TotalIngresos)
	fmt.Fprintf(&b, "Egresos:        %s\n", p.TotalEgresos)
	fmt.Fprintf(&b, "Saldo final:    %s\n", p.SaldoFinal)
	fmt.Fprintf(&b, "Movimientos:    %d\n", p.CantidadMovimientos)
	if p.MontoDeclarado != nil {
		fmt.Fprintf(&b, "\nDeclarado:      %s\n", *p.MontoDeclarado)
		if p.Desvio != nil {
			fmt.Fprintf(&b, "Desvio:         %s\n", *p.Desvio)
		}
		if p.Clasificacion != nil {
			fmt.Fprintf(&b, "Clasificacion:  %s\n", *p.Clasificacion)
		}
	}
	if p.Observaciones != nil {
		fmt.Fprintf(&b, "\nObservaciones: %s\n", *p.Observaciones)
	}
	return b.String()
}
