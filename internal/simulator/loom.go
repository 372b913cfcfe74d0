// Package simulator generates synthetic loom telemetry and publishes it the
// way field devices do.
package simulator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"go.uber.org/zap"

	"kaldor-iiot/backend/internal/platform/logging"
	"kaldor-iiot/backend/internal/telemetry/domain"
)

const (
	baseBBW         = 125.0 // mm
	baseTemperature = 24.0  // °C
	baseVibration   = 0.3   // g
)

// Measurement is one processed sample from a loom's sensor board.
type Measurement struct {
	Timestamp    int64        `json:"timestamp"`
	DeviceID     string       `json:"device_id"`
	EntityID     string       `json:"entity_id"`
	Measurements Measurements `json:"measurements"`
	System       SystemStats  `json:"system"`
}

type Measurements struct {
	BBWAvg      float64 `json:"bbw_avg"`
	BBWMin      float64 `json:"bbw_min"`
	BBWMax      float64 `json:"bbw_max"`
	BBWStddev   float64 `json:"bbw_stddev"`
	Temperature float64 `json:"temperature"`
	Vibration   float64 `json:"vibration"`
}

type SystemStats struct {
	Uptime     int64 `json:"uptime"`
	FreeHeap   int   `json:"free_heap"`
	WiFiRSSI   int   `json:"wifi_rssi"`
	BufferSize int   `json:"buffer_size"`
}

// Alert reports a reading outside the expected range.
type Alert struct {
	Timestamp int64   `json:"timestamp"`
	DeviceID  string  `json:"device_id"`
	EntityID  string  `json:"entity_id"`
	AlertType string  `json:"alert_type"`
	Value     float64 `json:"value"`
	Severity  string  `json:"severity"`
}

// Loom produces readings for one entity. It is not safe for concurrent use.
type Loom struct {
	EntityID string
	DeviceID string

	rnd     *rand.Rand
	started time.Time
}

// NewLoom returns a Loom seeded with seed.
func NewLoom(entityID string, seed uint64, started time.Time) *Loom {
	return &Loom{
		EntityID: entityID,
		DeviceID: "BBW-SIM-" + entityID,
		rnd:      rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)),
		started:  started,
	}
}

// Sample returns the reading at now: slow hourly drift plus noise.
func (l *Loom) Sample(now time.Time) Measurement {
	t := float64(now.Unix())
	bbw := baseBBW + math.Sin(t/3600)*2 + (l.rnd.Float64()-0.5)*1
	temp := baseTemperature + math.Sin(t/7200)*3 + (l.rnd.Float64()-0.5)*0.5
	vib := baseVibration + (l.rnd.Float64()-0.5)*0.1 + math.Abs(math.Sin(t/60))*0.2
	stddev := 0.5 + l.rnd.Float64()*0.3

	return Measurement{
		Timestamp: now.UnixMilli(),
		DeviceID:  l.DeviceID,
		EntityID:  l.EntityID,
		Measurements: Measurements{
			BBWAvg:      round(bbw, 2),
			BBWMin:      round(bbw-stddev, 2),
			BBWMax:      round(bbw+stddev, 2),
			BBWStddev:   round(stddev, 2),
			Temperature: round(temp, 1),
			Vibration:   round(vib, 2),
		},
		System: SystemStats{
			Uptime:   int64(now.Sub(l.started).Seconds()),
			FreeHeap: 256000 + l.rnd.IntN(10000),
			WiFiRSSI: -50 - l.rnd.IntN(20),
		},
	}
}

// MaybeAlert returns an out-of-range alert for m with probability rate.
func (l *Loom) MaybeAlert(m Measurement, rate float64) (Alert, bool) {
	if l.rnd.Float64() >= rate {
		return Alert{}, false
	}
	return Alert{
		Timestamp: m.Timestamp,
		DeviceID:  m.DeviceID,
		EntityID:  m.EntityID,
		AlertType: "bbw_out_of_range",
		Value:     m.Measurements.BBWAvg,
		Severity:  "warning",
	}, true
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}

// Publisher is the subset of an MQTT connection the simulator needs.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error
}

// Config controls a simulation run.
type Config struct {
	TopicRoot string
	Interval  time.Duration
	// AlertRate is the chance of an alert per measurement.
	AlertRate float64
	// Count stops the run after that many ticks; zero runs until ctx is done.
	Count int
}

// Runner publishes samples for a set of looms on a ticker.
type Runner struct {
	cfg   Config
	pub   Publisher
	looms []*Loom
	log   *zap.Logger
	now   func() time.Time
}

// NewRunner returns a Runner for looms.
func NewRunner(cfg Config, pub Publisher, looms []*Loom, log *zap.Logger) *Runner {
	if cfg.TopicRoot == "" {
		cfg.TopicRoot = "entity"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	return &Runner{cfg: cfg, pub: pub, looms: looms, log: logging.OrNop(log), now: time.Now}
}

// Run publishes until ctx is done or Count ticks have elapsed. It returns the
// number of measurements published.
func (r *Runner) Run(ctx context.Context) (int, error) {
	if len(r.looms) == 0 {
		return 0, errors.New("simulator: no looms to simulate")
	}
	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	published := 0
	for tick := 1; ; tick++ {
		n, err := r.Tick(ctx)
		published += n
		if err != nil {
			return published, err
		}
		if published > 0 && published%(10*len(r.looms)) == 0 {
			r.log.Info("simulator: progress", zap.Int("measurements", published))
		}
		if r.cfg.Count > 0 && tick >= r.cfg.Count {
			return published, nil
		}
		select {
		case <-ctx.Done():
			return published, nil
		case <-ticker.C:
		}
	}
}

// Tick publishes one measurement per loom, plus any alerts.
func (r *Runner) Tick(ctx context.Context) (int, error) {
	now := r.now()
	n := 0
	for _, l := range r.looms {
		m := l.Sample(now)
		if err := r.publish(ctx, l.EntityID, domain.KindMeasurement, m, 0, false); err != nil {
			return n, err
		}
		n++
		if a, ok := l.MaybeAlert(m, r.cfg.AlertRate); ok {
			if err := r.publish(ctx, l.EntityID, domain.KindAlert, a, 1, true); err != nil {
				return n, err
			}
			r.log.Warn("simulator: alert published", zap.String("entity_id", l.EntityID), zap.Float64("value", a.Value))
		}
	}
	return n, nil
}

func (r *Runner) publish(ctx context.Context, entityID string, kind domain.Kind, v any, qos byte, retain bool) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	topic := r.cfg.TopicRoot + "/" + entityID + "/" + string(kind)
	if err := r.pub.Publish(ctx, topic, b, qos, retain); err != nil {
		return fmt.Errorf("simulator: %w", err)
	}
	return nil
}
