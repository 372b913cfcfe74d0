package hub

import "github.com/prometheus/client_golang/prometheus"

type metrics struct {
	clients     prometheus.Gauge
	rooms       prometheus.Gauge
	deliveries  prometheus.Counter
	drops       prometheus.Counter
	connections *prometheus.CounterVec
}

// newMetrics registers hub metrics with reg. Nil reg disables metrics.
func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	if reg == nil {
		return nil, nil
	}
	m := &metrics{
		clients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaldor",
			Subsystem: "hub",
			Name:      "clients",
			Help:      "Connected WebSocket clients",
		}),
		rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "kaldor",
			Subsystem: "hub",
			Name:      "rooms",
			Help:      "Rooms with at least one member",
		}),
		deliveries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kaldor",
			Subsystem: "hub",
			Name:      "deliveries_total",
			Help:      "Messages accepted by client send buffers",
		}),
		drops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kaldor",
			Subsystem: "hub",
			Name:      "dropped_total",
			Help:      "Messages dropped because a client buffer was full",
		}),
		connections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kaldor",
			Subsystem: "hub",
			Name:      "connections_total",
			Help:      "WebSocket connections by outcome",
		}, []string{"outcome"}),
	}
	for _, c := range []prometheus.Collector{m.clients, m.rooms, m.deliveries, m.drops, m.connections} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *metrics) setClients(n int) {
	if m == nil {
		return
	}
	m.clients.Set(float64(n))
}

func (m *metrics) setRooms(n int) {
	if m == nil {
		return
	}
	m.rooms.Set(float64(n))
}

func (m *metrics) delivered(n int) {
	if m == nil || n == 0 {
		return
	}
	m.deliveries.Add(float64(n))
}

func (m *metrics) dropped() {
	if m == nil {
		return
	}
	m.drops.Inc()
}

func (m *metrics) connection(outcome string) {
	if m == nil {
		return
	}
	m.connections.WithLabelValues(outcome).Inc()
}
