package telemetry

import (
	"context"

	"kaldor-iiot/backend/internal/telemetry/domain"
)

// Persister stores one event. Called off the ingestion path; errors are logged by the caller.
type Persister interface {
	Persist(ctx context.Context, ev domain.Event) error
}

// EventEmitter exports events to an observability backend (e.g. OTel Logs). Best-effort.
type EventEmitter interface {
	Emit(ctx context.Context, ev domain.Event) error
}

// PersisterFunc adapts a function to Persister.
type PersisterFunc func(ctx context.Context, ev domain.Event) error

func (f PersisterFunc) Persist(ctx context.Context, ev domain.Event) error { return f(ctx, ev) }
