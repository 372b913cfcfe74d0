package telemetry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/telemetry/domain"
)

// writeTimeout is the max time allowed for a single async persist or emit.
const writeTimeout = 5 * time.Second

// ShutdownDrainDuration is how long shutdown waits for in-flight async writes
// before closing storage and OTel providers. Must be >= writeTimeout.
const ShutdownDrainDuration = writeTimeout

// Async runs persistence and export calls in their own goroutines so the
// ingestion path never waits on storage. Each call gets a fresh context with
// writeTimeout; cancelling the caller does not abort an in-flight write.
type Async struct {
	log     *zap.Logger
	timeout time.Duration
	wg      sync.WaitGroup
}

// NewAsync returns an Async that logs failures to log.
func NewAsync(log *zap.Logger) *Async {
	return &Async{log: logging.OrNop(log), timeout: writeTimeout}
}

// Persist calls p.Persist(ev) in a goroutine. p may be nil.
func (a *Async) Persist(p Persister, ev domain.Event) {
	if p == nil {
		return
	}
	a.spawn("persist", ev, p.Persist)
}

// Emit calls e.Emit(ev) in a goroutine. e may be nil.
func (a *Async) Emit(e EventEmitter, ev domain.Event) {
	if e == nil {
		return
	}
	a.spawn("emit", ev, e.Emit)
}

func (a *Async) spawn(op string, ev domain.Event, fn func(context.Context, domain.Event) error) {
	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), a.timeout)
		defer cancel()
		if err := fn(ctx, ev); err != nil {
			a.log.Warn("telemetry: async "+op+" failed",
				zap.String("entity_id", ev.EntityID),
				zap.String("kind", string(ev.Kind)),
				zap.Error(err),
			)
		}
	}()
}

// Wait blocks until all in-flight writes finish or ctx is done.
func (a *Async) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
