package hub

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/pscheid92/wsbroadcast/internal/domain"
	"github.com/pscheid92/wsbroadcast/internal/metrics"
	"github.com/pscheid92/wsbroadcast/internal/platform/logging"
)

// Options tunes per-connection behaviour. Zero PingInterval disables
// keepalive, zero SendPollInterval selects the push-driven send loop and
// zero MaxQueueLength leaves outbound queues unbounded.
type Options struct {
	Routing          domain.RoutingPolicy
	CloseTimeout     time.Duration
	SendPollInterval time.Duration
	WriteTimeout     time.Duration
	PingInterval     time.Duration
	PongWait         time.Duration
	MaxMessageSize   int64
	MaxQueueLength   int
}

func DefaultOptions() Options {
	return Options{
		Routing:        domain.RouteEchoToSender,
		CloseTimeout:   2500 * time.Millisecond,
		WriteTimeout:   5 * time.Second,
		PingInterval:   30 * time.Second,
		PongWait:       60 * time.Second,
		MaxMessageSize: 65536,
	}
}

// Hub admits connections, dispatches messages and coordinates shutdown.
type Hub struct {
	opts     Options
	clock    clockwork.Clock
	metrics  *metrics.Hub
	registry Registry
	nextID   atomic.Uint64

	admitMu   sync.RWMutex
	sealed    bool
	accepting atomic.Bool

	rootCtx      context.Context
	rootCancel   context.CancelFunc
	wg           sync.WaitGroup
	shutdownOnce sync.Once
	shutdownErr  error
}

// New creates a Hub. A nil m registers metrics on a private registry.
func New(opts Options, clock clockwork.Clock, m *metrics.Hub) *Hub {
	if m == nil {
		m = metrics.NewHub(prometheus.NewRegistry())
	}
	if opts.Routing == "" {
		opts.Routing = domain.RouteEchoToSender
	}
	h := &Hub{
		opts:    opts,
		clock:   clock,
		metrics: m,
	}
	h.rootCtx, h.rootCancel = context.WithCancel(context.Background())
	h.accepting.Store(true)
	return h
}

// Accept registers sock and starts its loops. ctx only contributes log
// attributes; the connection lives until it closes or the hub shuts down.
func (h *Hub) Accept(ctx context.Context, sock Socket, remoteAddr string) (*Connection, error) {
	h.admitMu.RLock()
	defer h.admitMu.RUnlock()

	if h.sealed {
		h.metrics.ConnectionsRejected.WithLabelValues("shutting_down").Inc()
		return nil, domain.ErrShuttingDown
	}

	id := h.nextID.Add(1)
	connCtx := logging.WithConnectionID(h.rootCtx, id)
	if cid, ok := logging.CorrelationID(ctx); ok {
		connCtx = logging.WithCorrelationID(connCtx, cid)
	}

	c := newConnection(connCtx, h, id, sock, remoteAddr)
	if err := h.registry.Insert(c); err != nil {
		c.cancel()
		return nil, err
	}
	c.configureSocket()

	h.metrics.ConnectionsAccepted.Inc()
	h.metrics.ActiveConnections.Inc()

	h.wg.Add(2)
	go c.runSend()
	go c.runInbound()

	slog.InfoContext(c.ctx, "Connection registered", "remote_addr", remoteAddr, "active", h.registry.Len())
	return c, nil
}

// Accepting reports whether Accept still admits connections.
func (h *Hub) Accepting() bool { return h.accepting.Load() }

// Count returns the number of registered connections.
func (h *Hub) Count() int { return h.registry.Len() }

// Connection looks up a registered connection by id.
func (h *Hub) Connection(id uint64) (*Connection, bool) {
	return h.registry.Get(id)
}

// Broadcast enqueues msg on every connection registered at call time and
// returns how many accepted it. Close messages are ignored.
func (h *Hub) Broadcast(msg domain.Message) int {
	return h.broadcast(msg, 0)
}

func (h *Hub) BroadcastText(text string) int {
	return h.Broadcast(domain.TextMessage(text))
}

// broadcast skips the connection with id except; ids start at 1.
func (h *Hub) broadcast(msg domain.Message, except uint64) int {
	if !msg.IsData() {
		return 0
	}
	h.metrics.BroadcastsTotal.Inc()

	n := 0
	for _, c := range h.registry.Snapshot() {
		if c.id == except {
			continue
		}
		if c.Enqueue(msg) {
			n++
		}
	}
	return n
}

func (h *Hub) route(from *Connection, msg domain.Message) {
	switch h.opts.Routing {
	case domain.RouteBroadcastToAll:
		h.broadcast(msg, 0)
	case domain.RouteBroadcastExceptSender:
		h.broadcast(msg, from.id)
	default:
		from.Enqueue(msg)
	}
}
