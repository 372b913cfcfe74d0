package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"kaldor-iiot/backend/internal/platform/apperr"
	"kaldor-iiot/backend/internal/telemetry"
	"kaldor-iiot/backend/internal/telemetry/domain"
)

type harness struct {
	in     *Ingestor
	dialer *fakeDialer
	hub    *fakeHub
	store  *fakeStore
	alerts *fakeStore
	async  *telemetry.Async
	logs   *observer.ObservedLogs
	cancel context.CancelFunc
	runErr chan error
	done   chan struct{}
}

func start(t *testing.T, dialer *fakeDialer, maxAttempts int) *harness {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	log := zap.New(core)
	h := &harness{
		dialer: dialer,
		hub:    &fakeHub{},
		store:  newFakeStore(),
		alerts: newFakeStore(),
		async:  telemetry.NewAsync(log),
		logs:   logs,
		runErr: make(chan error, 1),
		done:   make(chan struct{}),
	}
	in, err := New(Config{ReconnectPeriod: 10 * time.Millisecond, MaxReconnectAttempts: maxAttempts}, dialer, Deps{
		Persister:   h.store,
		Broadcaster: h.hub,
		Emitter:     h.alerts,
		Async:       h.async,
	}, log)
	require.NoError(t, err)
	h.in = in

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() {
		h.runErr <- in.Run(ctx)
		close(h.done)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-h.done:
		case <-time.After(time.Second):
		}
	})
	return h
}

func (h *harness) waitConnected(t *testing.T) *fakeConn {
	t.Helper()
	require.Eventually(t, func() bool { return h.in.State() == StateConnected }, time.Second, 5*time.Millisecond)
	return h.dialer.last()
}

func TestRun_SubscribesEveryKind(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	conn := h.waitConnected(t)
	assert.ElementsMatch(t, []string{
		"entity/+/measurement", "entity/+/alert", "entity/+/status", "entity/+/raw",
	}, conn.filters)
}

func TestIngest_MeasurementBroadcastAndPersist(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	conn := h.waitConnected(t)

	conn.deliver("entity/LOOM-1/measurement", `{"bbw_avg":125.3}`)

	events := h.hub.all()
	require.Len(t, events, 1, "broadcast is synchronous")
	assert.Equal(t, "LOOM-1", events[0].EntityID)
	assert.Equal(t, domain.KindMeasurement, events[0].Kind)
	assert.JSONEq(t, `{"bbw_avg":125.3}`, string(events[0].Payload))
	assert.False(t, events[0].ReceivedAt.IsZero())

	select {
	case ev := <-h.store.calls:
		assert.Equal(t, "LOOM-1", ev.EntityID)
	case <-time.After(time.Second):
		t.Fatal("persist not called")
	}
	require.NoError(t, h.async.Wait(context.Background()))
	assert.Equal(t, 1, h.store.count())
	assert.Equal(t, 0, h.alerts.count())
}

func TestIngest_PersistFailureDoesNotSuppressBroadcast(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	h.store.err = errors.New("db down")
	conn := h.waitConnected(t)

	conn.deliver("entity/LOOM-1/status", `{"online":true}`)
	conn.deliver("entity/LOOM-1/status", `{"online":false}`)

	assert.Len(t, h.hub.all(), 2)
	require.NoError(t, h.async.Wait(context.Background()))
	assert.Equal(t, 2, h.store.count())
	assert.Equal(t, 2, h.logs.FilterMessage("telemetry: async persist failed").Len())
}

func TestIngest_AlertEmitted(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	conn := h.waitConnected(t)

	conn.deliver("entity/LOOM-2/alert", `{"alert_type":"bbw_out_of_range","value":151.2,"severity":"warning"}`)

	require.Len(t, h.hub.all(), 1)
	assert.Equal(t, domain.KindAlert, h.hub.all()[0].Kind)
	require.NoError(t, h.async.Wait(context.Background()))
	assert.Equal(t, 1, h.alerts.count())
}

func TestIngest_RawPersistedNotBroadcast(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	conn := h.waitConnected(t)

	conn.deliver("entity/LOOM-3/raw", `{"bytes":"AAEC"}`)

	require.NoError(t, h.async.Wait(context.Background()))
	assert.Empty(t, h.hub.all())
	assert.Equal(t, 1, h.store.count())
}

func TestIngest_MalformedDropped(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	conn := h.waitConnected(t)

	for _, payload := range []string{`not json`, `42`, `[1,2]`, `null`, ``} {
		conn.deliver("entity/LOOM-1/measurement", payload)
	}
	conn.deliver("entity//measurement", `{"a":1}`)
	conn.deliver("entity/LOOM-1/unknown", `{"a":1}`)

	require.NoError(t, h.async.Wait(context.Background()))
	assert.Empty(t, h.hub.all())
	assert.Zero(t, h.store.count())
	assert.Equal(t, 6, h.logs.FilterMessage("ingest: dropped message").Len())
}

func TestRun_ReconnectsAfterLoss(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	first := h.waitConnected(t)

	first.drop(errors.New("EOF"))
	require.Eventually(t, func() bool {
		return h.dialer.dialCount() == 2 && h.in.State() == StateConnected
	}, time.Second, 5*time.Millisecond)

	second := h.dialer.last()
	require.NotSame(t, first, second)
	assert.Len(t, second.filters, 4)
	assert.False(t, h.in.Failed())
	assert.EqualError(t, h.in.Err(), "EOF")
}

func TestRun_RecoversWithinBound(t *testing.T) {
	h := start(t, &fakeDialer{fail: 2}, 3)
	h.waitConnected(t)
	assert.Equal(t, 3, h.dialer.dialCount())
	assert.False(t, h.in.Failed())
}

func TestRun_GivesUpAfterBound(t *testing.T) {
	h := start(t, &fakeDialer{fail: -1}, 2)

	select {
	case err := <-h.runErr:
		assert.True(t, apperr.Is(err, apperr.TransportUnavailable), "err = %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not stop")
	}
	assert.Equal(t, 3, h.dialer.dialCount())
	assert.True(t, h.in.Failed())
	assert.Equal(t, StateDisconnected, h.in.State())
	assert.Error(t, h.in.Err())
}

func TestRun_CancelDisconnects(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	conn := h.waitConnected(t)

	h.cancel()
	select {
	case err := <-h.runErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
	assert.Equal(t, StateDisconnected, h.in.State())
	select {
	case <-conn.Done():
	default:
		t.Error("connection not closed")
	}
}

func TestRun_SubscribeFailureCountsAsAttempt(t *testing.T) {
	d := &subFailDialer{}
	in, err := New(Config{ReconnectPeriod: time.Millisecond, MaxReconnectAttempts: 1}, d, Deps{Broadcaster: &fakeHub{}}, nil)
	require.NoError(t, err)
	err = in.Run(context.Background())
	assert.True(t, apperr.Is(err, apperr.TransportUnavailable))
	assert.Equal(t, 2, d.dials)
}

type subFailDialer struct{ dials int }

func (d *subFailDialer) Dial(ctx context.Context, onMessage MessageFunc) (Conn, error) {
	d.dials++
	return &fakeConn{done: make(chan struct{}), subErr: errors.New("not authorized")}, nil
}

func TestPublishControl(t *testing.T) {
	h := start(t, &fakeDialer{}, 3)
	conn := h.waitConnected(t)

	err := h.in.PublishControl(context.Background(), "LOOM-1", ControlCommand, map[string]string{"action": "stop"})
	require.NoError(t, err)
	require.Len(t, conn.published, 1)
	assert.Equal(t, "entity/LOOM-1/command", conn.published[0].topic)
	assert.Equal(t, byte(1), conn.published[0].qos)
	assert.JSONEq(t, `{"action":"stop"}`, string(conn.published[0].payload))

	err = h.in.PublishControl(context.Background(), "LOOM/1", ControlCommand, nil)
	assert.True(t, apperr.Is(err, apperr.Malformed))
}

func TestPublishControl_NotConnected(t *testing.T) {
	in, err := New(Config{}, &fakeDialer{}, Deps{Broadcaster: &fakeHub{}}, nil)
	require.NoError(t, err)
	err = in.PublishControl(context.Background(), "LOOM-1", ControlOTA, map[string]string{"url": "https://fw"})
	assert.True(t, apperr.Is(err, apperr.TransportUnavailable))
}

func TestParseControlKind(t *testing.T) {
	k, err := ParseControlKind("ota")
	require.NoError(t, err)
	assert.Equal(t, ControlOTA, k)
	_, err = ParseControlKind("reboot")
	assert.Error(t, err)
}

func TestNew_RequiresCollaborators(t *testing.T) {
	_, err := New(Config{}, nil, Deps{Broadcaster: &fakeHub{}}, nil)
	assert.Error(t, err)
	_, err = New(Config{}, &fakeDialer{}, Deps{}, nil)
	assert.Error(t, err)
}
