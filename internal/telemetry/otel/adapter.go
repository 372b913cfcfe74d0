package otel

import (
	"context"
	"time"

	otellog "go.opentelemetry.io/otel/log"
	sdklog "go.opentelemetry.io/otel/sdk/log"

	"kaldor-iiot/backend/internal/telemetry"
	"kaldor-iiot/backend/internal/telemetry/domain"
)

const loggerName = "kaldor-iiot/backend/telemetry"

// RecordEmitter is the part of otellog.Logger the event emitter uses.
type RecordEmitter interface {
	Emit(ctx context.Context, rec otellog.Record)
}

// NewEventEmitter returns an EventEmitter that sends events as OTel log
// records via provider. If provider is nil, returns a no-op emitter.
func NewEventEmitter(provider *sdklog.LoggerProvider) telemetry.EventEmitter {
	if provider == nil {
		return noopEmitter{}
	}
	return NewEventEmitterWithLogger(provider.Logger(loggerName))
}

// NewEventEmitterWithLogger returns an EventEmitter that writes to logger.
func NewEventEmitterWithLogger(logger RecordEmitter) telemetry.EventEmitter {
	if logger == nil {
		return noopEmitter{}
	}
	return &otelEmitter{logger: logger}
}

type noopEmitter struct{}

func (noopEmitter) Emit(context.Context, domain.Event) error { return nil }

type otelEmitter struct {
	logger RecordEmitter
}

// Emit converts ev to a log record. Alerts are WARN, everything else INFO.
func (e *otelEmitter) Emit(ctx context.Context, ev domain.Event) error {
	rec := otellog.Record{}
	ts := ev.ReceivedAt
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	rec.SetTimestamp(ts)
	rec.SetObservedTimestamp(time.Now().UTC())
	if ev.Kind == domain.KindAlert {
		rec.SetSeverity(otellog.SeverityWarn)
		rec.SetSeverityText("WARN")
	} else {
		rec.SetSeverity(otellog.SeverityInfo)
		rec.SetSeverityText("INFO")
	}
	rec.SetEventName("kaldor." + string(ev.Kind))
	if len(ev.Payload) > 0 {
		rec.SetBody(otellog.StringValue(string(ev.Payload)))
	}
	rec.AddAttributes(
		otellog.String("entity_id", ev.EntityID),
		otellog.String("kind", string(ev.Kind)),
	)
	e.logger.Emit(ctx, rec)
	return nil
}
