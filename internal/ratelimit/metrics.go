package ratelimit

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"
)

var errInvalidConfig = errors.New("ratelimit: window and max must be positive")

type metrics struct {
	decisions *prometheus.CounterVec
	records   *prometheus.GaugeVec
}

// newMetrics registers limiter metrics with reg. Limiters sharing a registry
// share the collectors and are told apart by the scope label.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	decisions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kaldor",
		Subsystem: "ratelimit",
		Name:      "decisions_total",
		Help:      "Admission decisions by limiter scope and result",
	}, []string{"scope", "result"})
	records := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "kaldor",
		Subsystem: "ratelimit",
		Name:      "records",
		Help:      "Live rate limit records after the last sweep",
	}, []string{"scope"})

	var err error
	if decisions, err = register(reg, decisions); err != nil {
		return nil, err
	}
	if records, err = register(reg, records); err != nil {
		return nil, err
	}
	return &metrics{decisions: decisions, records: records}, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

func (m *metrics) observe(scope string, allowed bool) {
	if m == nil {
		return
	}
	result := "allowed"
	if !allowed {
		result = "rejected"
	}
	m.decisions.WithLabelValues(scope, result).Inc()
}

func (m *metrics) setRecords(scope string, n int) {
	if m == nil {
		return
	}
	m.records.WithLabelValues(scope).Set(float64(n))
}
