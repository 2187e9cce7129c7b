package metrics

import "github.com/prometheus/client_golang/prometheus"

// Hub holds metrics for the connection registry, dispatcher and shutdown.
type Hub struct {
	ActiveConnections   prometheus.Gauge
	ConnectionsAccepted prometheus.Counter
	ConnectionsRejected *prometheus.CounterVec
	ConnectionsClosed   *prometheus.CounterVec
	MessagesReceived    prometheus.Counter
	MessagesEnqueued    prometheus.Counter
	MessagesSent        prometheus.Counter
	MessagesDropped     *prometheus.CounterVec
	BroadcastsTotal     prometheus.Counter
	SendDuration        prometheus.Histogram
	ConnectionDuration  prometheus.Histogram
	ShutdownDuration    prometheus.Histogram
}

// NewHub creates and registers hub metrics on the given registry.
func NewHub(reg prometheus.Registerer) *Hub {
	m := &Hub{
		ActiveConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "active_connections",
			Help:      "Number of registered WebSocket connections.",
		}),
		ConnectionsAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_accepted_total",
			Help:      "Total number of WebSocket connections admitted to the registry.",
		}),
		ConnectionsRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_rejected_total",
			Help:      "Total number of rejected connection attempts, by reason.",
		}, []string{"reason"}),
		ConnectionsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connections_closed_total",
			Help:      "Total number of disposed connections, by final state.",
		}, []string{"state"}),
		MessagesReceived: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_received_total",
			Help:      "Total number of application messages read from clients.",
		}),
		MessagesEnqueued: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_enqueued_total",
			Help:      "Total number of messages placed on outbound queues.",
		}),
		MessagesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_sent_total",
			Help:      "Total number of messages written to sockets.",
		}),
		MessagesDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "messages_dropped_total",
			Help:      "Total number of messages not delivered, by reason.",
		}, []string{"reason"}),
		BroadcastsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "broadcasts_total",
			Help:      "Total number of broadcast calls.",
		}),
		SendDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "send_duration_seconds",
			Help:      "Duration of a single socket write.",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		}),
		ConnectionDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "connection_duration_seconds",
			Help:      "Lifetime of a connection from registration to disposal.",
			Buckets:   []float64{1, 10, 60, 300, 900, 3600, 14400},
		}),
		ShutdownDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "websocket",
			Name:      "shutdown_duration_seconds",
			Help:      "Duration of the graceful shutdown drain.",
			Buckets:   []float64{0.01, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}),
	}

	reg.MustRegister(
		m.ActiveConnections, m.ConnectionsAccepted, m.ConnectionsRejected, m.ConnectionsClosed,
		m.MessagesReceived, m.MessagesEnqueued, m.MessagesSent, m.MessagesDropped,
		m.BroadcastsTotal, m.SendDuration, m.ConnectionDuration, m.ShutdownDuration,
	)
	return m
}
