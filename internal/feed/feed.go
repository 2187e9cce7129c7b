// Package feed holds producers that push messages into the hub from outside
// the WebSocket connections: a periodic server-time announcement and a Redis
// pub/sub subscription.
package feed

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/wsbroadcast/internal/metrics"
)

// Broadcaster is the dispatcher a feed delivers to.
type Broadcaster interface {
	BroadcastText(text string) int
}

func orNewMetrics(m *metrics.Feed) *metrics.Feed {
	if m == nil {
		return metrics.NewFeed(prometheus.NewRegistry())
	}
	return m
}
