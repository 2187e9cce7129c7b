package feed

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/wsbroadcast/internal/metrics"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingBroadcaster struct {
	mu    sync.Mutex
	texts []string
}

func (r *recordingBroadcaster) BroadcastText(text string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
	return 1
}

func (r *recordingBroadcaster) Texts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.texts...)
}

func TestFormatServerTime(t *testing.T) {
	ts := time.Date(2024, 3, 1, 12, 30, 0, 500, time.FixedZone("CET", 3600))
	assert.Equal(t, "Server time: 2024-03-01T11:30:00.0000005Z", FormatServerTime(ts))
}

func TestTimeBroadcaster_AnnouncesOnEachTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	target := &recordingBroadcaster{}
	m := metrics.NewFeed(prometheus.NewRegistry())
	tb := NewTimeBroadcaster(target, clock, 15*time.Second, m)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		tb.Run(ctx)
		close(done)
	}()

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return len(target.Texts()) == 1 }, time.Second, time.Millisecond)
	assert.Equal(t, FormatServerTime(clock.Now()), target.Texts()[0])

	clock.Advance(15 * time.Second)
	require.Eventually(t, func() bool { return len(target.Texts()) == 2 }, time.Second, time.Millisecond)
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues(sourceTicker)), 0)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("ticker did not stop")
	}
}

func TestTimeBroadcaster_NothingBeforeFirstTick(t *testing.T) {
	clock := clockwork.NewFakeClock()
	target := &recordingBroadcaster{}
	tb := NewTimeBroadcaster(target, clock, time.Minute, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go tb.Run(ctx)

	require.NoError(t, clock.BlockUntilContext(ctx, 1))
	clock.Advance(59 * time.Second)
	time.Sleep(20 * time.Millisecond)
	assert.Empty(t, target.Texts())
}

func TestNewRedisClient_InvalidURL(t *testing.T) {
	_, err := NewRedisClient(context.Background(), "not-a-url", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse redis URL")
}
