package hub

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pscheid92/wsbroadcast/internal/domain"
)

// Connection is one registered socket with its queue and close-handshake state.
type Connection struct {
	id          uint64
	remoteAddr  string
	socket      Socket
	hub         *Hub
	state       atomic.Int32
	queue       *outboundQueue
	connectedAt time.Time

	ctx            context.Context
	cancel         context.CancelFunc
	inboundCtx     context.Context
	cancelInbound  context.CancelFunc
	outboundCtx    context.Context
	cancelOutbound context.CancelFunc

	deadlineMu      sync.Mutex
	readInterrupted bool

	handshakeOnce sync.Once
	handshakeDone chan struct{}
	sendDone      chan struct{}
	inboundDone   chan struct{}
	done          chan struct{}
}

func newConnection(ctx context.Context, h *Hub, id uint64, sock Socket, remoteAddr string) *Connection {
	c := &Connection{
		id:            id,
		remoteAddr:    remoteAddr,
		socket:        sock,
		hub:           h,
		queue:         newOutboundQueue(h.opts.MaxQueueLength),
		connectedAt:   h.clock.Now(),
		handshakeDone: make(chan struct{}),
		sendDone:      make(chan struct{}),
		inboundDone:   make(chan struct{}),
		done:          make(chan struct{}),
	}
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.inboundCtx, c.cancelInbound = context.WithCancel(c.ctx)
	c.outboundCtx, c.cancelOutbound = context.WithCancel(c.ctx)
	return c
}

func (c *Connection) ID() uint64 { return c.id }

func (c *Connection) RemoteAddr() string { return c.remoteAddr }

func (c *Connection) State() domain.ConnState {
	return domain.ConnState(c.state.Load())
}

// Done is closed once both loops have exited and the connection has left
// the registry.
func (c *Connection) Done() <-chan struct{} { return c.done }

// Enqueue appends an application message to the outbound queue. It returns
// false, without queueing, once the connection has left the Open state.
func (c *Connection) Enqueue(msg domain.Message) bool {
	if !msg.IsData() {
		return false
	}
	if c.State() != domain.StateOpen {
		c.hub.metrics.MessagesDropped.WithLabelValues("not_open").Inc()
		return false
	}
	if c.queue.Push(msg) {
		c.hub.metrics.MessagesDropped.WithLabelValues("queue_full").Inc()
	}
	c.hub.metrics.MessagesEnqueued.Inc()
	return true
}

func (c *Connection) transition(from, to domain.ConnState) bool {
	return c.state.CompareAndSwap(int32(from), int32(to))
}

// abort moves any non-terminal state to Aborted.
func (c *Connection) abort() bool {
	for {
		s := c.State()
		if s.Terminal() {
			return false
		}
		if c.transition(s, domain.StateAborted) {
			return true
		}
	}
}

// forceAbort aborts the connection and cancels both loops.
func (c *Connection) forceAbort() {
	c.abort()
	c.cancel()
}

func (c *Connection) completeHandshake() {
	c.handshakeOnce.Do(func() { close(c.handshakeDone) })
}

func (c *Connection) configureSocket() {
	opts := c.hub.opts
	c.socket.SetReadLimit(opts.MaxMessageSize)
	c.socket.SetCloseHandler(c.handleClose)

	if opts.PingInterval > 0 {
		c.extendReadDeadline(opts.PongWait)
		c.socket.SetPongHandler(func(string) error {
			c.extendReadDeadline(opts.PongWait)
			return nil
		})
	}
}

func (c *Connection) extendReadDeadline(d time.Duration) {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	if c.readInterrupted {
		return
	}
	_ = c.socket.SetReadDeadline(time.Now().Add(d))
}

// interruptRead unblocks a pending ReadMessage. Later pongs do not revive it.
func (c *Connection) interruptRead() {
	c.deadlineMu.Lock()
	defer c.deadlineMu.Unlock()
	c.readInterrupted = true
	_ = c.socket.SetReadDeadline(time.Now())
}

// handleClose runs on the inbound goroutine when the peer's Close frame arrives.
func (c *Connection) handleClose(code int, text string) error {
	if c.transition(domain.StateOpen, domain.StateCloseReceived) {
		slog.DebugContext(c.ctx, "Peer initiated close", "code", code, "reason", text)

		c.cancelOutbound()
		<-c.sendDone

		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonAck)
		if err := c.socket.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.hub.opts.WriteTimeout)); err != nil {
			slog.WarnContext(c.ctx, "Failed to acknowledge close frame", "error", err)
			c.abort()
			return nil
		}
		c.transition(domain.StateCloseReceived, domain.StateClosed)
		c.completeHandshake()
		return nil
	}

	if c.transition(domain.StateCloseSent, domain.StateClosed) {
		c.completeHandshake()
	}
	return nil
}

func (c *Connection) runInbound() {
	defer c.hub.wg.Done()
	defer c.finish()
	defer close(c.inboundDone)

	stop := context.AfterFunc(c.inboundCtx, c.interruptRead)
	defer stop()

	for {
		frameType, data, err := c.socket.ReadMessage()
		if err != nil {
			c.readFailed(err)
			return
		}

		// Data after our Close frame is discarded while we wait for the echo.
		if c.State() != domain.StateOpen {
			continue
		}

		msg, ok := fromFrame(frameType, data)
		if !ok {
			continue
		}
		c.hub.metrics.MessagesReceived.Inc()
		c.hub.route(c, msg)
	}
}

func (c *Connection) readFailed(err error) {
	if c.expectedReadError(err) {
		slog.DebugContext(c.ctx, "Inbound loop finished", "state", c.State(), "reason", err)
	} else {
		slog.WarnContext(c.ctx, "Read failed", "remote_addr", c.remoteAddr, "error", err)
	}
	c.abort()
}

func (c *Connection) expectedReadError(err error) bool {
	if c.State() == domain.StateClosed || c.inboundCtx.Err() != nil {
		return true
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
		return true
	}
	return errors.Is(err, net.ErrClosed)
}

func (c *Connection) runSend() {
	defer c.hub.wg.Done()
	defer close(c.sendDone)

	opts := c.hub.opts

	wake := c.queue.Ready()
	var poll <-chan time.Time
	if opts.SendPollInterval > 0 {
		ticker := c.hub.clock.NewTicker(opts.SendPollInterval)
		defer ticker.Stop()
		poll = ticker.Chan()
		wake = nil
	}

	var ping <-chan time.Time
	if opts.PingInterval > 0 {
		ticker := c.hub.clock.NewTicker(opts.PingInterval)
		defer ticker.Stop()
		ping = ticker.Chan()
	}

	for {
		select {
		case <-c.outboundCtx.Done():
			c.discardPending()
			return
		case <-ping:
			if !c.writePing() {
				return
			}
			continue
		case <-wake:
		case <-poll:
		}

		if !c.flush() {
			c.discardPending()
			return
		}
	}
}

// flush writes queued messages until the queue is empty. It returns false
// when the loop has to stop.
func (c *Connection) flush() bool {
	for {
		if c.outboundCtx.Err() != nil || c.State() != domain.StateOpen {
			return false
		}
		msg, ok := c.queue.Pop()
		if !ok {
			return true
		}

		start := c.hub.clock.Now()
		_ = c.socket.SetWriteDeadline(time.Now().Add(c.hub.opts.WriteTimeout))
		if err := c.socket.WriteMessage(toFrame(msg.Type), msg.Payload); err != nil {
			c.writeFailed(err)
			return false
		}
		c.hub.metrics.SendDuration.Observe(c.hub.clock.Since(start).Seconds())
		c.hub.metrics.MessagesSent.Inc()
	}
}

func (c *Connection) writePing() bool {
	if c.State() != domain.StateOpen {
		return true
	}
	if err := c.socket.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.opts.WriteTimeout)); err != nil {
		c.writeFailed(err)
		return false
	}
	return true
}

func (c *Connection) writeFailed(err error) {
	if c.State() != domain.StateOpen || c.outboundCtx.Err() != nil {
		slog.DebugContext(c.ctx, "Write after close", "error", err)
		return
	}
	slog.WarnContext(c.ctx, "Write failed", "remote_addr", c.remoteAddr, "error", err)
	c.forceAbort()
}

func (c *Connection) discardPending() {
	if n := c.queue.Len(); n > 0 {
		c.hub.metrics.MessagesDropped.WithLabelValues("cancelled").Add(float64(n))
		for {
			if _, ok := c.queue.Pop(); !ok {
				break
			}
		}
	}
}

// closeLocal runs the server-initiated close handshake and waits at most
// timeout for the peer's acknowledgement. The Close frame write shares the
// same budget.
func (c *Connection) closeLocal(ctx context.Context, timeout time.Duration) {
	timer := c.hub.clock.NewTimer(timeout)
	defer timer.Stop()

	closeBy := time.Now().Add(timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(closeBy) {
		closeBy = d
	}

	c.cancelOutbound()
	select {
	case <-c.sendDone:
	case <-timer.Chan():
		c.closeTimedOut(timeout)
		return
	case <-ctx.Done():
		c.forceAbort()
		return
	}

	if c.transition(domain.StateOpen, domain.StateCloseSent) {
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, closeReasonShutdown)
		deadline := time.Now().Add(c.hub.opts.WriteTimeout)
		if closeBy.Before(deadline) {
			deadline = closeBy
		}
		if err := c.socket.WriteControl(websocket.CloseMessage, msg, deadline); err != nil {
			if !time.Now().Before(closeBy) {
				c.closeTimedOut(timeout)
				return
			}
			slog.WarnContext(c.ctx, "Failed to send close frame", "error", err)
			c.forceAbort()
			return
		}
	}

	if c.State().Terminal() {
		return
	}

	select {
	case <-c.handshakeDone:
	case <-c.inboundDone:
	case <-timer.Chan():
		c.closeTimedOut(timeout)
	case <-ctx.Done():
		c.forceAbort()
	}
}

func (c *Connection) closeTimedOut(timeout time.Duration) {
	slog.WarnContext(c.ctx, "Close handshake timed out", "timeout", timeout, "state", c.State())
	c.forceAbort()
}

// finish runs once the inbound loop has exited.
func (c *Connection) finish() {
	c.abort()
	c.cancel()
	<-c.sendDone

	if c.hub.registry.Remove(c.id) {
		c.dispose()
	}
	close(c.done)
}

// dispose releases the socket. Callers must have won registry.Remove.
func (c *Connection) dispose() {
	if err := c.socket.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		slog.DebugContext(c.ctx, "Socket close failed", "error", err)
	}

	state := c.State()
	c.hub.metrics.ActiveConnections.Dec()
	c.hub.metrics.ConnectionsClosed.WithLabelValues(state.String()).Inc()
	c.hub.metrics.ConnectionDuration.Observe(c.hub.clock.Since(c.connectedAt).Seconds())
	slog.InfoContext(c.ctx, "Connection disposed", "state", state, "remote_addr", c.remoteAddr)
}
