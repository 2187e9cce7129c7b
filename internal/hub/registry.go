package hub

import (
	"cmp"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/pscheid92/wsbroadcast/internal/domain"
)

// Registry is the concurrent map of live connections keyed by id.
type Registry struct {
	conns sync.Map // uint64 -> *Connection
	size  atomic.Int64
}

// Insert fails with ErrDuplicateConnection when the id is taken.
func (r *Registry) Insert(c *Connection) error {
	if _, loaded := r.conns.LoadOrStore(c.id, c); loaded {
		return domain.ErrDuplicateConnection
	}
	r.size.Add(1)
	return nil
}

// Remove reports whether this call removed the entry.
// Exactly one caller wins for a given id.
func (r *Registry) Remove(id uint64) bool {
	if _, loaded := r.conns.LoadAndDelete(id); loaded {
		r.size.Add(-1)
		return true
	}
	return false
}

func (r *Registry) Get(id uint64) (*Connection, bool) {
	v, ok := r.conns.Load(id)
	if !ok {
		return nil, false
	}
	return v.(*Connection), true
}

// Snapshot returns the current connections ordered by id. Entries added or
// removed during the call may or may not be included.
func (r *Registry) Snapshot() []*Connection {
	out := make([]*Connection, 0, r.Len())
	r.conns.Range(func(_, v any) bool {
		out = append(out, v.(*Connection))
		return true
	})
	slices.SortFunc(out, func(a, b *Connection) int { return cmp.Compare(a.id, b.id) })
	return out
}

func (r *Registry) Len() int {
	return int(r.size.Load())
}
