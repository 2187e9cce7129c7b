package hub

import (
	"sync"
	"testing"

	"github.com/pscheid92/wsbroadcast/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_InsertRemove(t *testing.T) {
	var r Registry
	c := &Connection{id: 7}

	require.NoError(t, r.Insert(c))
	assert.ErrorIs(t, r.Insert(&Connection{id: 7}), domain.ErrDuplicateConnection)
	assert.Equal(t, 1, r.Len())

	got, ok := r.Get(7)
	require.True(t, ok)
	assert.Same(t, c, got)

	assert.True(t, r.Remove(7))
	assert.False(t, r.Remove(7))
	assert.Equal(t, 0, r.Len())

	_, ok = r.Get(7)
	assert.False(t, ok)
}

func TestRegistry_SnapshotSortedByID(t *testing.T) {
	var r Registry
	for _, id := range []uint64{5, 1, 3, 2, 4} {
		require.NoError(t, r.Insert(&Connection{id: id}))
	}

	var ids []uint64
	for _, c := range r.Snapshot() {
		ids = append(ids, c.id)
	}
	assert.Equal(t, []uint64{1, 2, 3, 4, 5}, ids)
}

func TestRegistry_ConcurrentRemoveHasOneWinner(t *testing.T) {
	var r Registry
	require.NoError(t, r.Insert(&Connection{id: 1}))

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.Remove(1) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, wins)
	assert.Equal(t, 0, r.Len())
}
