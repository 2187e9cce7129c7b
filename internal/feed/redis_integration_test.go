package feed

import (
	"context"
	"flag"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/wsbroadcast/internal/metrics"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/redis"
)

var (
	testRedisURL   string
	redisContainer testcontainers.Container
)

func TestMain(m *testing.M) {
	flag.Parse()

	if testing.Short() {
		os.Exit(m.Run())
	}

	ctx := context.Background()
	var err error
	redisContainer, err = redis.Run(ctx, "redis:7-alpine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to start redis container: %v\n", err)
		os.Exit(1)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to get redis endpoint: %v\n", err)
		os.Exit(1)
	}
	testRedisURL = "redis://" + endpoint

	code := m.Run()
	if err := redisContainer.Terminate(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "failed to terminate redis container: %v\n", err)
	}
	os.Exit(code)
}

func setupTestClient(t *testing.T) *goredis.Client {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration test")
	}

	rdb, err := NewRedisClient(context.Background(), testRedisURL, metrics.NewRedis(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func TestRedisFeed_BroadcastsPublishedMessages(t *testing.T) {
	rdb := setupTestClient(t)
	target := &recordingBroadcaster{}
	m := metrics.NewFeed(prometheus.NewRegistry())
	f := NewRedisFeed(rdb, "wsbroadcast:test", target, clockwork.NewRealClock(), m)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- f.Run(ctx) }()

	select {
	case <-f.Subscribed():
	case <-time.After(5 * time.Second):
		t.Fatal("subscription not confirmed")
	}

	require.NoError(t, Publish(context.Background(), rdb, "wsbroadcast:test", "from redis"))
	require.NoError(t, Publish(context.Background(), rdb, "wsbroadcast:test", "second"))

	require.Eventually(t, func() bool { return len(target.Texts()) == 2 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"from redis", "second"}, target.Texts())
	assert.InDelta(t, 2.0, testutil.ToFloat64(m.MessagesReceived.WithLabelValues(sourceRedis)), 0)

	cancel()
	require.NoError(t, <-errCh)
}

func TestRedisFeed_IgnoresOtherChannels(t *testing.T) {
	rdb := setupTestClient(t)
	target := &recordingBroadcaster{}
	f := NewRedisFeed(rdb, "wsbroadcast:mine", target, clockwork.NewRealClock(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = f.Run(ctx) }()
	<-f.Subscribed()

	require.NoError(t, Publish(context.Background(), rdb, "wsbroadcast:other", "nope"))
	require.NoError(t, Publish(context.Background(), rdb, "wsbroadcast:mine", "yes"))

	require.Eventually(t, func() bool { return len(target.Texts()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, []string{"yes"}, target.Texts())
}
