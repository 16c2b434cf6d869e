package service

import (
	"context"
	"sync"

	"cajapos/internal/apperror"
	"cajapos/internal/model"
)

// TillLocker serializes open/close on one punto de venta. Locks never span
// more than a single operation.
type TillLocker interface {
	Lock(ctx context.Context, puntoDeVenta int) (unlock func(), err error)
}

// localTillLocker is an in-process lock per till. A single buffered channel
// per till lets acquisition honor ctx cancellation, which sync.Mutex cannot.
type localTillLocker struct {
	mu    sync.Mutex
	tills map[int]chan struct{}
}

func NewLocalTillLocker() TillLocker {
	return &localTillLocker{tills: make(map[int]chan struct{})}
}

func (l *localTillLocker) Lock(ctx context.Context, puntoDeVenta int) (func(), error) {
	l.mu.Lock()
	ch, ok := l.tills[puntoDeVenta]
	if !ok {
		ch = make(chan struct{}, 1)
		l.tills[puntoDeVenta] = ch
	}
	l.mu.Unlock()

	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, apperror.Withf(model.ErrAlmacenamientoNoDisponible, "caja %d ocupada", puntoDeVenta)
	}
}
