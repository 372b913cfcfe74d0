// Package ingest consumes entity telemetry from the MQTT broker, classifies
// each message by topic, and hands decoded events to persistence and to the
// distribution hub.
package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/apperr"
	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/telemetry"
	"kaldor-iiot/backend/internal/telemetry/domain"
	"kaldor-iiot/backend/internal/telemetry/router"
)

const (
	DefaultTopicRoot            = "entity"
	DefaultReconnectPeriod      = 5 * time.Second
	DefaultMaxReconnectAttempts = 10

	tracerName = "kaldor-iiot/backend/ingest"
)

// Broadcaster fans an event out to live subscribers. It must not block on
// slow consumers.
type Broadcaster interface {
	BroadcastEvent(ev domain.Event)
}

// Config holds ingestor tuning.
type Config struct {
	TopicRoot            string
	ReconnectPeriod      time.Duration
	MaxReconnectAttempts int
}

// Deps are the ingestor's collaborators. Persister, Emitter and Registerer may be nil.
type Deps struct {
	Persister   telemetry.Persister
	Broadcaster Broadcaster
	// Emitter receives alert events for external observability.
	Emitter    telemetry.EventEmitter
	Async      *telemetry.Async
	Registerer prometheus.Registerer
}

// Ingestor owns the broker connection and its state machine:
// Disconnected -> Connecting -> Connected -> (Reconnecting -> Connected)* -> Disconnected.
type Ingestor struct {
	cfg     Config
	dialer  Dialer
	router  *router.Router
	deps    Deps
	log     *zap.Logger
	metrics *metrics
	tracer  trace.Tracer
	now     func() time.Time

	state   atomic.Int32
	failed  atomic.Bool
	running atomic.Bool

	mu      sync.RWMutex
	conn    Conn
	lastErr error
}

// New returns an Ingestor that subscribes <root>/+/<kind> for every inbound kind.
func New(cfg Config, dialer Dialer, deps Deps, log *zap.Logger) (*Ingestor, error) {
	if dialer == nil {
		return nil, errors.New("ingest: dialer is required")
	}
	if deps.Broadcaster == nil {
		return nil, errors.New("ingest: broadcaster is required")
	}
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = DefaultTopicRoot
	}
	if cfg.ReconnectPeriod <= 0 {
		cfg.ReconnectPeriod = DefaultReconnectPeriod
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	log = logging.OrNop(log)
	if deps.Async == nil {
		deps.Async = telemetry.NewAsync(log)
	}
	m, err := newMetrics(deps.Registerer)
	if err != nil {
		return nil, err
	}
	in := &Ingestor{
		cfg:     cfg,
		dialer:  dialer,
		router:  router.New(log),
		deps:    deps,
		log:     log,
		metrics: m,
		tracer:  otel.Tracer(tracerName),
		now:     time.Now,
	}
	for _, k := range domain.Kinds {
		if _, err := in.router.Subscribe(cfg.TopicRoot+"/+/"+string(k), in.handlerFor(k)); err != nil {
			return nil, err
		}
	}
	return in, nil
}

// State returns the current connection state.
func (in *Ingestor) State() State { return State(in.state.Load()) }

// StateName returns State as a string for health reporting.
func (in *Ingestor) StateName() string { return in.State().String() }

// Failed reports whether the ingestor gave up after exhausting reconnect attempts.
func (in *Ingestor) Failed() bool { return in.failed.Load() }

// Err returns the last transport error, if any.
func (in *Ingestor) Err() error {
	in.mu.RLock()
	defer in.mu.RUnlock()
	return in.lastErr
}

func (in *Ingestor) setState(s State) {
	prev := State(in.state.Swap(int32(s)))
	in.metrics.setConnected(s == StateConnected)
	if prev != s {
		in.log.Debug("ingest: state change", zap.Stringer("from", prev), zap.Stringer("to", s))
	}
}

func (in *Ingestor) setConn(c Conn, err error) {
	in.mu.Lock()
	in.conn = c
	if err != nil {
		in.lastErr = err
	}
	in.mu.Unlock()
}

// Run connects and keeps the connection up until ctx is cancelled, returning
// nil. After MaxReconnectAttempts consecutive failed attempts it stops with a
// TransportUnavailable error and Failed reports true; the caller keeps running.
func (in *Ingestor) Run(ctx context.Context) error {
	if !in.running.CompareAndSwap(false, true) {
		return errors.New("ingest: already running")
	}
	defer in.running.Store(false)

	in.setState(StateConnecting)
	failures := 0
	for {
		conn, err := in.connect(ctx)
		if err != nil {
			if ctx.Err() != nil {
				in.setState(StateDisconnected)
				return nil
			}
			failures++
			in.setConn(nil, err)
			in.log.Warn("ingest: connect failed",
				zap.Int("attempt", failures),
				zap.Int("max_attempts", in.cfg.MaxReconnectAttempts),
				zap.Error(err),
			)
			if failures > in.cfg.MaxReconnectAttempts {
				in.failed.Store(true)
				in.setState(StateDisconnected)
				in.log.Error("ingest: giving up on broker connection",
					zap.String("kind", apperr.TransportUnavailable.String()),
					zap.Int("attempts", failures),
					zap.Error(err),
				)
				return apperr.Wrap(apperr.TransportUnavailable, "broker unreachable", err)
			}
			in.setState(StateReconnecting)
			in.metrics.reconnect()
			if !sleep(ctx, in.cfg.ReconnectPeriod) {
				in.setState(StateDisconnected)
				return nil
			}
			continue
		}

		failures = 0
		in.setConn(conn, nil)
		in.setState(StateConnected)
		in.log.Info("ingest: subscribed", zap.Strings("patterns", in.router.Patterns()))

		select {
		case <-ctx.Done():
			in.closeConn(conn)
			in.setState(StateDisconnected)
			return nil
		case <-conn.Done():
		}

		lostErr := conn.Err()
		if lostErr == nil {
			lostErr = errors.New("connection closed")
		}
		in.setConn(nil, lostErr)
		in.setState(StateReconnecting)
		in.log.Warn("ingest: broker connection lost", zap.Error(lostErr))
		in.metrics.reconnect()
		if !sleep(ctx, in.cfg.ReconnectPeriod) {
			in.setState(StateDisconnected)
			return nil
		}
	}
}

func (in *Ingestor) connect(ctx context.Context) (Conn, error) {
	conn, err := in.dialer.Dial(ctx, func(topic string, payload []byte) {
		in.dispatch(ctx, topic, payload)
	})
	if err != nil {
		return nil, err
	}
	if err := conn.Subscribe(ctx, in.router.Patterns()); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

func (in *Ingestor) closeConn(c Conn) {
	in.setConn(nil, nil)
	if err := c.Close(); err != nil {
		in.log.Warn("ingest: disconnect failed", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// dispatch routes one inbound message. Called on the transport's delivery
// goroutine, so per-topic order is kept.
func (in *Ingestor) dispatch(ctx context.Context, topic string, payload []byte) {
	if _, err := in.router.Dispatch(ctx, topic, payload); err != nil {
		in.metrics.message("unknown", "malformed")
		in.log.Warn("ingest: dropped message",
			zap.String("topic", topic),
			zap.String("kind", apperr.Malformed.String()),
			zap.Error(err),
		)
	}
}

func (in *Ingestor) handlerFor(kind domain.Kind) router.Handler {
	return func(ctx context.Context, msg router.Message) error {
		_, span := in.tracer.Start(ctx, "ingest "+string(kind),
			trace.WithSpanKind(trace.SpanKindConsumer),
			trace.WithAttributes(attribute.String("messaging.destination.name", msg.Topic)),
		)
		defer span.End()

		ev, err := in.decode(kind, msg)
		if err != nil {
			in.metrics.message(string(kind), "malformed")
			in.log.Warn("ingest: dropped message",
				zap.String("topic", msg.Topic),
				zap.String("kind", apperr.Malformed.String()),
				zap.Error(err),
			)
			return nil
		}
		span.SetAttributes(attribute.String("entity.id", ev.EntityID))
		in.metrics.message(string(kind), "accepted")

		in.deps.Async.Persist(in.deps.Persister, ev.Clone())
		if kind == domain.KindAlert {
			in.deps.Async.Emit(in.deps.Emitter, ev.Clone())
		}
		if kind != domain.KindRaw {
			in.deps.Broadcaster.BroadcastEvent(ev)
		}
		return nil
	}
}

// decode builds an Event from msg. The entity is the second topic level and
// the payload must be a JSON object.
func (in *Ingestor) decode(kind domain.Kind, msg router.Message) (domain.Event, error) {
	if len(msg.Levels) < 2 || msg.Levels[1] == "" {
		return domain.Event{}, fmt.Errorf("topic %q has no entity id", msg.Topic)
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(msg.Payload, &obj); err != nil {
		return domain.Event{}, fmt.Errorf("decode payload: %w", err)
	}
	if obj == nil {
		return domain.Event{}, errors.New("decode payload: not a JSON object")
	}
	return domain.Event{
		EntityID:   msg.Levels[1],
		Kind:       kind,
		Payload:    append(json.RawMessage(nil), msg.Payload...),
		ReceivedAt: in.now().UTC(),
	}, nil
}
