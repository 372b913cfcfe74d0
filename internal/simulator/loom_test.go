package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sent struct {
	topic  string
	body   []byte
	qos    byte
	retain bool
}

type recorder struct {
	mu   sync.Mutex
	msgs []sent
	err  error
}

func (r *recorder) Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if r.err != nil {
		return r.err
	}
	r.mu.Lock()
	r.msgs = append(r.msgs, sent{topic, payload, qos, retain})
	r.mu.Unlock()
	return nil
}

var t0 = time.Date(2025, 5, 1, 12, 0, 0, 0, time.UTC)

func TestLoom_SampleInRange(t *testing.T) {
	l := NewLoom("loom-1", 42, t0.Add(-time.Hour))
	for i := 0; i < 200; i++ {
		m := l.Sample(t0.Add(time.Duration(i) * time.Second))
		mm := m.Measurements
		assert.InDelta(t, baseBBW, mm.BBWAvg, 3)
		assert.LessOrEqual(t, mm.BBWMin, mm.BBWAvg)
		assert.GreaterOrEqual(t, mm.BBWMax, mm.BBWAvg)
		assert.InDelta(t, baseTemperature, mm.Temperature, 3.5)
		assert.InDelta(t, 0.35, mm.Vibration, 0.3)
		assert.Less(t, m.System.WiFiRSSI, -49)
	}
	assert.Equal(t, int64(3600), l.Sample(t0).System.Uptime)
}

func TestLoom_AlertRate(t *testing.T) {
	l := NewLoom("loom-1", 7, t0)
	m := l.Sample(t0)
	_, ok := l.MaybeAlert(m, 0)
	assert.False(t, ok)
	a, ok := l.MaybeAlert(m, 1)
	require.True(t, ok)
	assert.Equal(t, "bbw_out_of_range", a.AlertType)
	assert.Equal(t, m.Measurements.BBWAvg, a.Value)
}

func TestRunner_PublishesToEntityTopics(t *testing.T) {
	rec := &recorder{}
	looms := []*Loom{NewLoom("loom-1", 1, t0), NewLoom("loom-2", 2, t0)}
	r := NewRunner(Config{Interval: time.Millisecond, AlertRate: 1, Count: 3}, rec, looms, nil)
	r.now = func() time.Time { return t0 }

	n, err := r.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	require.Len(t, rec.msgs, 12)

	first := rec.msgs[0]
	assert.Equal(t, "entity/loom-1/measurement", first.topic)
	assert.Zero(t, first.qos)
	var m Measurement
	require.NoError(t, json.Unmarshal(first.body, &m))
	assert.Equal(t, "loom-1", m.EntityID)
	assert.Equal(t, t0.UnixMilli(), m.Timestamp)

	alert := rec.msgs[1]
	assert.Equal(t, "entity/loom-1/alert", alert.topic)
	assert.Equal(t, byte(1), alert.qos)
	assert.True(t, alert.retain)
}

func TestRunner_PublishError(t *testing.T) {
	rec := &recorder{err: errors.New("not connected")}
	r := NewRunner(Config{Count: 1}, rec, []*Loom{NewLoom("loom-1", 1, t0)}, nil)
	n, err := r.Run(context.Background())
	assert.Error(t, err)
	assert.Zero(t, n)
}

func TestRunner_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	r := NewRunner(Config{Interval: time.Hour}, &recorder{}, []*Loom{NewLoom("loom-1", 1, t0)}, nil)
	n, err := r.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRunner_NoLooms(t *testing.T) {
	_, err := NewRunner(Config{Count: 1}, &recorder{}, nil, nil).Run(context.Background())
	assert.Error(t, err)
}
