// Package otel wires OpenTelemetry tracing, metrics and logs for the backend
// and exports alert events as OTel log records.
package otel

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdklog "go.opentelemetry.io/otel/sdk/log"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.39.0"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
)

const metricInterval = 10 * time.Second

// Options selects where and as whom telemetry is exported.
type Options struct {
	// Endpoint is the OTLP/gRPC collector. Empty disables export.
	Endpoint    string
	ServiceName string
	Environment string
	// Insecure forces plaintext even for https endpoints.
	Insecure bool
}

// Providers holds the OpenTelemetry providers and a shutdown function.
type Providers struct {
	TracerProvider *sdktrace.TracerProvider
	MeterProvider  *metric.MeterProvider
	LoggerProvider *sdklog.LoggerProvider
	Shutdown       func(context.Context) error
}

func noopProviders() *Providers {
	return &Providers{
		TracerProvider: sdktrace.NewTracerProvider(),
		MeterProvider:  metric.NewMeterProvider(),
		LoggerProvider: sdklog.NewLoggerProvider(),
		Shutdown:       func(context.Context) error { return nil },
	}
}

// NewProviders builds trace, metric and log providers exporting to
// opts.Endpoint. Without an endpoint the providers record nothing.
func NewProviders(ctx context.Context, opts Options, log *zap.Logger) (*Providers, error) {
	log = logging.OrNop(log)
	if strings.TrimSpace(opts.Endpoint) == "" {
		return noopProviders(), nil
	}
	target, plaintext, err := otlpTarget(opts.Endpoint)
	if err != nil {
		return nil, err
	}
	ep := exporterTarget{host: target, insecure: plaintext || opts.Insecure}

	res, err := serviceResource(opts)
	if err != nil {
		return nil, err
	}

	p := &Providers{}
	var stack shutdownStack

	traceExp, err := ep.traces(ctx)
	if err != nil {
		return nil, fmt.Errorf("trace exporter: %w", err)
	}
	p.TracerProvider = sdktrace.NewTracerProvider(sdktrace.WithBatcher(traceExp), sdktrace.WithResource(res))
	stack.push(p.TracerProvider.Shutdown)

	metricExp, err := ep.metrics(ctx)
	if err != nil {
		_ = stack.unwind(ctx)
		return nil, fmt.Errorf("metric exporter: %w", err)
	}
	p.MeterProvider = metric.NewMeterProvider(
		metric.WithResource(res),
		metric.WithReader(metric.NewPeriodicReader(metricExp, metric.WithInterval(metricInterval))),
	)
	stack.push(p.MeterProvider.Shutdown)

	logExp, err := ep.logs(ctx)
	if err != nil {
		_ = stack.unwind(ctx)
		return nil, fmt.Errorf("log exporter: %w", err)
	}
	p.LoggerProvider = sdklog.NewLoggerProvider(sdklog.WithProcessor(sdklog.NewBatchProcessor(logExp)), sdklog.WithResource(res))
	stack.push(p.LoggerProvider.Shutdown)

	p.Shutdown = func(ctx context.Context) error {
		err := stack.unwind(ctx)
		if err != nil {
			log.Warn("otel: shutdown incomplete", zap.Error(err))
		}
		return err
	}
	log.Info("otel export enabled", zap.String("endpoint", target), zap.Bool("insecure", ep.insecure))
	return p, nil
}

func serviceResource(opts Options) (*resource.Resource, error) {
	attrs := []attribute.KeyValue{semconv.ServiceNameKey.String(opts.ServiceName)}
	if opts.Environment != "" {
		attrs = append(attrs, semconv.DeploymentEnvironmentNameKey.String(opts.Environment))
	}
	return resource.Merge(resource.Default(), resource.NewWithAttributes(semconv.SchemaURL, attrs...))
}

type exporterTarget struct {
	host     string
	insecure bool
}

func (e exporterTarget) traces(ctx context.Context) (*otlptrace.Exporter, error) {
	opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(e.host)}
	if e.insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}
	return otlptracegrpc.New(ctx, opts...)
}

func (e exporterTarget) metrics(ctx context.Context) (*otlpmetricgrpc.Exporter, error) {
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(e.host)}
	if e.insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	return otlpmetricgrpc.New(ctx, opts...)
}

func (e exporterTarget) logs(ctx context.Context) (*otlploggrpc.Exporter, error) {
	opts := []otlploggrpc.Option{otlploggrpc.WithEndpoint(e.host)}
	if e.insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}
	return otlploggrpc.New(ctx, opts...)
}

// shutdownStack runs shutdown funcs in reverse registration order.
type shutdownStack []func(context.Context) error

func (s *shutdownStack) push(fn func(context.Context) error) { *s = append(*s, fn) }

func (s *shutdownStack) unwind(ctx context.Context) error {
	var errs []error
	for i := len(*s) - 1; i >= 0; i-- {
		if err := (*s)[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	*s = nil
	return errors.Join(errs...)
}

// otlpTarget reduces endpoint to the host:port the gRPC exporters dial and
// reports whether the scheme implies plaintext. Paths are dropped.
func otlpTarget(endpoint string) (string, bool, error) {
	endpoint = strings.TrimSpace(endpoint)
	if !strings.Contains(endpoint, "://") {
		endpoint = "http://" + endpoint
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: %w", endpoint, err)
	}
	if u.Host == "" {
		return "", false, fmt.Errorf("invalid OTLP endpoint %q: missing host", endpoint)
	}
	return u.Host, u.Scheme != "https", nil
}

// SetGlobal installs the tracer and meter providers and the W3C trace-context
// propagator globally. The LoggerProvider is passed explicitly to NewEventEmitter.
func (p *Providers) SetGlobal() {
	if p.TracerProvider != nil {
		otel.SetTracerProvider(p.TracerProvider)
	}
	if p.MeterProvider != nil {
		otel.SetMeterProvider(p.MeterProvider)
	}
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))
}
