package ingest

import (
	"github.com/prometheus/client_golang/prometheus"
)

type metrics struct {
	messages   *prometheus.CounterVec
	reconnects prometheus.Counter
	connected  prometheus.Gauge
	published  *prometheus.CounterVec
}

// newMetrics registers ingest metrics with reg. Nil reg disables metrics.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaldor",
			Subsystem: "ingest",
			Name:      "messages_total",
			Help:      "Inbound transport messages by kind and result",
		}, []string{"kind", "result"}),
		reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kaldor",
			Subsystem: "ingest",
			Name:      "reconnect_attempts_total",
			Help:      "Broker reconnect attempts",
		}),
		connected: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaldor",
			Subsystem: "ingest",
			Name:      "connected",
			Help:      "1 while the broker connection is up",
		}),
		published: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaldor",
			Subsystem: "ingest",
			Name:      "control_published_total",
			Help:      "Outbound control messages by kind and result",
		}, []string{"kind", "result"}),
	}
	for _, c := range []prometheus.Collector{m.messages, m.reconnects, m.connected, m.published} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) message(kind, result string) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(kind, result).Inc()
}

func (m *metrics) reconnect() {
	if m == nil {
		return
	}
	m.reconnects.Inc()
}

func (m *metrics) setConnected(up bool) {
	if m == nil {
		return
	}
	if up {
		m.connected.Set(1)
	} else {
		m.connected.Set(0)
	}
}

func (m *metrics) publish(kind, result string) {
	if m == nil {
		return
	}
	m.published.WithLabelValues(kind, result).Inc()
}
