package hub

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/pscheid92/wsbroadcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdown_GracefulHandshake(t *testing.T) {
	env := newTestEnv(t, testOptions(), clockwork.NewRealClock())
	clients := env.dialN(t, 3)
	conns := env.hub.registry.Snapshot()

	var wg sync.WaitGroup
	closeErrs := make([]error, len(clients))
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				if _, _, err := c.ReadMessage(); err != nil {
					closeErrs[i] = err
					return
				}
			}
		}()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, env.hub.Shutdown(ctx))
	wg.Wait()

	for _, err := range closeErrs {
		var closeErr *websocket.CloseError
		require.ErrorAs(t, err, &closeErr)
		assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
		assert.Equal(t, closeReasonShutdown, closeErr.Text)
	}
	for _, c := range conns {
		assert.Equal(t, domain.StateClosed, c.State())
	}

	assert.Equal(t, 0, env.hub.Count())
	assert.False(t, env.hub.Accepting())
	assert.Equal(t, 1, testutil.CollectAndCount(env.metrics.ShutdownDuration))
	assert.InDelta(t, 3.0, testutil.ToFloat64(env.metrics.ConnectionsClosed.WithLabelValues("closed")), 0)
}

func TestShutdown_TimeoutFiresExactlyAtCloseTimeout(t *testing.T) {
	clock := clockwork.NewFakeClock()
	opts := testOptions()
	opts.CloseTimeout = 2500 * time.Millisecond
	env := newTestEnv(t, opts, clock)

	// The client never reads, so it never answers the Close frame.
	env.dialN(t, 1)
	conn, ok := env.hub.Connection(1)
	require.True(t, ok)

	done := make(chan error, 1)
	go func() { done <- env.hub.Shutdown(context.Background()) }()

	blockCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, clock.BlockUntilContext(blockCtx, 1))
	require.True(t, waitFor(func() bool { return conn.State() == domain.StateCloseSent }))

	clock.Advance(opts.CloseTimeout - time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, domain.StateCloseSent, conn.State())

	clock.Advance(time.Millisecond)
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("shutdown did not finish after the close timeout")
	}
	assert.Equal(t, domain.StateAborted, conn.State())
	assert.Equal(t, 0, env.hub.Count())
}

func TestShutdown_DrainsConcurrently(t *testing.T) {
	opts := testOptions()
	opts.CloseTimeout = 200 * time.Millisecond
	env := newTestEnv(t, opts, clockwork.NewRealClock())
	env.dialN(t, 10)

	start := time.Now()
	require.NoError(t, env.hub.Shutdown(context.Background()))
	elapsed := time.Since(start)

	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, 0, env.hub.Count())
	assert.InDelta(t, 10.0, testutil.ToFloat64(env.metrics.ConnectionsClosed.WithLabelValues("aborted")), 0)
}

func TestShutdown_ContextExpiryAbortsEverything(t *testing.T) {
	opts := testOptions()
	opts.CloseTimeout = time.Hour
	env := newTestEnv(t, opts, clockwork.NewRealClock())
	env.dialN(t, 2)
	conns := env.hub.registry.Snapshot()

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_ = env.hub.Shutdown(ctx)
	assert.Less(t, time.Since(start), 2*time.Second)

	for _, c := range conns {
		assert.Equal(t, domain.StateAborted, c.State())
	}
	assert.Equal(t, 0, env.hub.Count())
}

func TestShutdown_SealsAdmission(t *testing.T) {
	env := newTestEnv(t, testOptions(), clockwork.NewRealClock())
	require.NoError(t, env.hub.Shutdown(context.Background()))

	_, err := env.hub.Accept(context.Background(), nil, "test")
	assert.ErrorIs(t, err, domain.ErrShuttingDown)
	assert.Equal(t, 0, env.hub.BroadcastText("nobody"))
	assert.InDelta(t, 1.0, testutil.ToFloat64(env.metrics.ConnectionsRejected.WithLabelValues("shutting_down")), 0)

	// A dial after shutdown reaches the test server but is not registered.
	conn, _, err := websocket.DefaultDialer.Dial(env.url, nil)
	if err == nil {
		defer conn.Close()
	}
	assert.Equal(t, 0, env.hub.Count())
}

func TestShutdown_SecondCallIsNoop(t *testing.T) {
	env := newTestEnv(t, testOptions(), clockwork.NewRealClock())
	env.dialN(t, 1)

	require.NoError(t, env.hub.Shutdown(context.Background()))
	start := time.Now()
	require.NoError(t, env.hub.Shutdown(context.Background()))
	assert.Less(t, time.Since(start), 50*time.Millisecond)

	env.mu.Lock()
	defer env.mu.Unlock()
	for _, s := range env.sockets {
		assert.Equal(t, int32(1), s.closes.Load())
	}
}

func TestShutdown_EmptyHub(t *testing.T) {
	env := newTestEnv(t, testOptions(), clockwork.NewRealClock())
	require.NoError(t, env.hub.Shutdown(context.Background()))
	assert.False(t, env.hub.Accepting())
}

func TestShutdown_StalledCloseWriteHonoursCloseTimeout(t *testing.T) {
	opts := testOptions()
	opts.CloseTimeout = 200 * time.Millisecond
	opts.WriteTimeout = 2 * time.Second
	env := newTestEnv(t, opts, clockwork.NewRealClock())
	env.dialN(t, 1)
	sock := env.socket(0)
	sock.stallClose.Store(true)
	conn, ok := env.hub.Connection(1)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	start := time.Now()
	require.NoError(t, env.hub.Shutdown(ctx))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, opts.CloseTimeout)
	assert.Less(t, elapsed, time.Second)
	assert.Equal(t, domain.StateAborted, conn.State())
	assert.Equal(t, int32(1), sock.closes.Load())
	assert.Equal(t, 0, env.hub.Count())
}

func TestShutdown_DisposesCleanConnectionWithoutWaitingForStragglers(t *testing.T) {
	opts := testOptions()
	opts.CloseTimeout = 3 * time.Second
	env := newTestEnv(t, opts, clockwork.NewRealClock())
	clients := env.dialN(t, 2)

	// The inbound loop of the clean connection stays parked after the
	// handshake, so the shutdown path wins its registry removal.
	clean := env.socket(0)
	clean.holdReadErr.Store(true)
	defer close(clean.release)

	// clients[0] reads and so answers the Close frame; clients[1] never reads.
	go func() {
		for {
			if _, _, err := clients[0].ReadMessage(); err != nil {
				return
			}
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- env.hub.Shutdown(ctx) }()

	require.True(t, waitFor(func() bool { return clean.closes.Load() == 1 }))
	select {
	case <-done:
		t.Fatal("shutdown returned before the straggler timed out")
	default:
	}
	_, ok := env.hub.Connection(1)
	assert.False(t, ok)
}
