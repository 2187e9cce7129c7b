package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/pscheid92/wsbroadcast/internal/metrics"
	"github.com/pscheid92/wsbroadcast/internal/platform/retry"
	"github.com/redis/go-redis/v9"
)

const (
	sourceRedis           = "redis"
	redisInitialBackoff   = 500 * time.Millisecond
	redisMaxBackoff       = 30 * time.Second
	redisPublishTimeout   = 5 * time.Second
	redisSubscribeTimeout = 10 * time.Second
)

var errSubscriptionClosed = errors.New("redis subscription closed")

// NewRedisClient parses a redis:// URL and verifies the server is reachable.
// Commands are recorded on m when it is not nil.
func NewRedisClient(ctx context.Context, redisURL string, m *metrics.Redis) (*redis.Client, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}

	rdb := redis.NewClient(opts)
	if m != nil {
		rdb.AddHook(&metricsHook{m: m})
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return rdb, nil
}

// Publish sends payload to channel for every subscribed instance to broadcast.
func Publish(ctx context.Context, rdb *redis.Client, channel, payload string) error {
	ctx, cancel := context.WithTimeout(ctx, redisPublishTimeout)
	defer cancel()

	if err := rdb.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", channel, err)
	}
	return nil
}

// RedisFeed broadcasts every payload published on a Redis channel.
type RedisFeed struct {
	rdb     *redis.Client
	channel string
	target  Broadcaster
	clock   clockwork.Clock
	metrics *metrics.Feed

	subscribed chan struct{}
}

func NewRedisFeed(rdb *redis.Client, channel string, target Broadcaster, clock clockwork.Clock, m *metrics.Feed) *RedisFeed {
	return &RedisFeed{
		rdb:        rdb,
		channel:    channel,
		target:     target,
		clock:      clock,
		metrics:    orNewMetrics(m),
		subscribed: make(chan struct{}, 1),
	}
}

// Subscribed receives a value each time a subscription is confirmed.
func (f *RedisFeed) Subscribed() <-chan struct{} {
	return f.subscribed
}

// Run subscribes and pumps messages until ctx is cancelled, resubscribing
// with exponential backoff when the subscription cannot be established.
// A subscription that drops after it was confirmed starts the backoff over.
func (f *RedisFeed) Run(ctx context.Context) error {
	policy := retry.Policy{
		InitialBackoff: redisInitialBackoff,
		MaxBackoff:     redisMaxBackoff,
		Clock:          f.clock,
		OnRetry: func(attempt int, err error, backoff time.Duration) {
			f.metrics.Reconnects.WithLabelValues(sourceRedis).Inc()
			slog.WarnContext(ctx, "Redis subscription failed, retrying", "channel", f.channel, "attempt", attempt, "backoff", backoff, "error", err)
		},
	}

	err := retry.DoVoid(ctx, policy, classifyRedisError, f.subscribeOnce)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func classifyRedisError(err error) retry.Action {
	if errors.Is(err, context.Canceled) || errors.Is(err, redis.ErrClosed) {
		return retry.Stop
	}
	return retry.Retry
}

func (f *RedisFeed) subscribeOnce(ctx context.Context) error {
	sub := f.rdb.Subscribe(ctx, f.channel)
	defer func() { _ = sub.Close() }()

	confirmCtx, cancel := context.WithTimeout(ctx, redisSubscribeTimeout)
	_, err := sub.Receive(confirmCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", f.channel, err)
	}

	slog.InfoContext(ctx, "Subscribed to redis channel", "channel", f.channel)
	select {
	case f.subscribed <- struct{}{}:
	default:
	}

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return &retry.ProgressError{Err: errSubscriptionClosed}
			}
			n := f.target.BroadcastText(msg.Payload)
			f.metrics.MessagesReceived.WithLabelValues(sourceRedis).Inc()
			slog.DebugContext(ctx, "Broadcast redis message", "channel", f.channel, "recipients", n)
		}
	}
}
