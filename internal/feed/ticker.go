package feed

import (
	"context"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/wsbroadcast/internal/metrics"
)

const sourceTicker = "ticker"

// FormatServerTime renders the periodic announcement text.
func FormatServerTime(t time.Time) string {
	return "Server time: " + t.UTC().Format(time.RFC3339Nano)
}

// TimeBroadcaster announces the server time to every connection on an interval.
type TimeBroadcaster struct {
	target   Broadcaster
	clock    clockwork.Clock
	interval time.Duration
	metrics  *metrics.Feed
}

func NewTimeBroadcaster(target Broadcaster, clock clockwork.Clock, interval time.Duration, m *metrics.Feed) *TimeBroadcaster {
	return &TimeBroadcaster{
		target:   target,
		clock:    clock,
		interval: interval,
		metrics:  orNewMetrics(m),
	}
}

// Run blocks until ctx is cancelled.
func (t *TimeBroadcaster) Run(ctx context.Context) {
	ticker := t.clock.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.Chan():
			n := t.target.BroadcastText(FormatServerTime(now))
			t.metrics.MessagesReceived.WithLabelValues(sourceTicker).Inc()
			slog.DebugContext(ctx, "Broadcast server time", "recipients", n)
		}
	}
}
