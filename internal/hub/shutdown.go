package hub

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// Shutdown seals admission, closes every registered connection concurrently
// and waits for all connection loops to exit. ctx bounds the whole call;
// once it expires every remaining connection is aborted. Only the first
// call does work, later calls return its result.
func (h *Hub) Shutdown(ctx context.Context) error {
	h.shutdownOnce.Do(func() {
		h.shutdownErr = h.shutdown(ctx)
	})
	return h.shutdownErr
}

func (h *Hub) shutdown(ctx context.Context) error {
	start := h.clock.Now()
	h.seal()

	conns := h.registry.Snapshot()
	slog.InfoContext(ctx, "Closing connections", "count", len(conns), "timeout", h.opts.CloseTimeout)

	var g errgroup.Group
	for _, c := range conns {
		g.Go(func() error {
			c.closeLocal(ctx, h.opts.CloseTimeout)
			if h.registry.Remove(c.id) {
				c.forceAbort()
				c.dispose()
			}
			return nil
		})
	}
	_ = g.Wait()

	h.rootCancel()

	err := h.waitLoops(ctx)
	elapsed := h.clock.Since(start)
	h.metrics.ShutdownDuration.Observe(elapsed.Seconds())
	slog.InfoContext(ctx, "Connections closed", "count", len(conns), "duration", elapsed)
	return err
}

// seal blocks until in-flight Accept calls have finished.
func (h *Hub) seal() {
	h.admitMu.Lock()
	h.sealed = true
	h.accepting.Store(false)
	h.admitMu.Unlock()
}

func (h *Hub) waitLoops(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for connection loops: %w", ctx.Err())
	}
}
