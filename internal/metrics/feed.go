package metrics

import "github.com/prometheus/client_golang/prometheus"

// Feed holds metrics for external broadcast producers.
type Feed struct {
	MessagesReceived *prometheus.CounterVec
	Reconnects       *prometheus.CounterVec
}

func NewFeed(reg prometheus.Registerer) *Feed {
	m := &Feed{
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_total",
			Help:      "Total number of messages handed to the dispatcher, by source.",
		}, []string{"source"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "reconnects_total",
			Help:      "Total number of subscription retries, by source.",
		}, []string{"source"}),
	}

	reg.MustRegister(m.MessagesReceived, m.Reconnects)
	return m
}
