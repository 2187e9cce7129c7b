package hub

import (
	"sync"

	"github.com/eapache/queue"
	"github.com/pscheid92/wsbroadcast/internal/domain"
)

// outboundQueue is a FIFO with many producers and one consumer.
// A limit of 0 means unbounded; otherwise Push evicts the oldest item.
type outboundQueue struct {
	mu    sync.Mutex
	items *queue.Queue
	limit int
	ready chan struct{}
}

func newOutboundQueue(limit int) *outboundQueue {
	return &outboundQueue{
		items: queue.New(),
		limit: limit,
		ready: make(chan struct{}, 1),
	}
}

// Push appends msg and reports whether an older message was evicted.
func (q *outboundQueue) Push(msg domain.Message) (dropped bool) {
	q.mu.Lock()
	if q.limit > 0 && q.items.Length() >= q.limit {
		q.items.Remove()
		dropped = true
	}
	q.items.Add(msg)
	q.mu.Unlock()

	select {
	case q.ready <- struct{}{}:
	default:
	}
	return dropped
}

func (q *outboundQueue) Pop() (domain.Message, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.items.Length() == 0 {
		return domain.Message{}, false
	}
	return q.items.Remove().(domain.Message), true
}

func (q *outboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.items.Length()
}

// Ready receives a value after at least one Push since the last receive.
func (q *outboundQueue) Ready() <-chan struct{} {
	return q.ready
}
