package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the service collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	roomsCreated     prometheus.Counter
	roomJoins        prometheus.Counter
	roomsClosed      *prometheus.CounterVec
	codeCollisions   prometheus.Counter
	codeExhaustions  prometheus.Counter
	liveRooms        prometheus.Gauge
	deltasPublished  prometheus.Counter
	deltasDelivered  prometheus.Counter
	subscribers      prometheus.Gauge
	subscribersDrops prometheus.Counter
	relayErrors      prometheus.Counter
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		roomsCreated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "rooms_created_total", Help: "Rooms created.",
		}),
		roomJoins: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_joins_total", Help: "New members admitted to rooms.",
		}),
		roomsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "rooms_closed_total", Help: "Rooms closed, by reason.",
		}, []string{"reason"}),
		codeCollisions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_code_collisions_total", Help: "Generated room codes discarded because they were taken.",
		}),
		codeExhaustions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "room_code_exhausted_total", Help: "Room creations that ran out of code attempts.",
		}),
		liveRooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "rooms_live", Help: "Rooms currently OPEN or ACTIVE.",
		}),
		deltasPublished: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_deltas_published_total", Help: "Activity deltas handed to the broadcaster.",
		}),
		deltasDelivered: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_deltas_delivered_total", Help: "Activity deltas queued to subscriber feeds.",
		}),
		subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "presence_subscribers", Help: "Open presence subscriptions.",
		}),
		subscribersDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_subscribers_dropped_total", Help: "Subscriptions closed because their feed was full.",
		}),
		relayErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "presence_relay_errors_total", Help: "Failed cross-instance relay publishes.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		m.roomsCreated, m.roomJoins, m.roomsClosed, m.codeCollisions, m.codeExhaustions, m.liveRooms,
		m.deltasPublished, m.deltasDelivered, m.subscribers, m.subscribersDrops, m.relayErrors,
	)
	return m
}

// Handler exposes Prometheus metrics at /metrics
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{})
}

func (m *Metrics) RoomCreated() {
	if m == nil {
		return
	}
	m.roomsCreated.Inc()
	m.liveRooms.Inc()
}

func (m *Metrics) RoomJoined() {
	if m == nil {
		return
	}
	m.roomJoins.Inc()
}

func (m *Metrics) RoomClosed(reason string) {
	if m == nil {
		return
	}
	m.roomsClosed.WithLabelValues(reason).Inc()
	m.liveRooms.Dec()
}

func (m *Metrics) CodeCollision() {
	if m == nil {
		return
	}
	m.codeCollisions.Inc()
}

func (m *Metrics) CodeSpaceExhausted() {
	if m == nil {
		return
	}
	m.codeExhaustions.Inc()
}

func (m *Metrics) DeltaPublished() {
	if m == nil {
		return
	}
	m.deltasPublished.Inc()
}

func (m *Metrics) DeltaDelivered() {
	if m == nil {
		return
	}
	m.deltasDelivered.Inc()
}

func (m *Metrics) SubscriberAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriberRemoved(dropped bool) {
	if m == nil {
		return
	}
	m.subscribers.Dec()
	if dropped {
		m.subscribersDrops.Inc()
	}
}

func (m *Metrics) RelayError() {
	if m == nil {
		return
	}
	m.relayErrors.Inc()
}
