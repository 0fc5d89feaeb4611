package supervisor

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFixedSlots_Acquire(t *testing.T) {
	t.Run("successful acquisition", func(t *testing.T) {
		slots := NewFixedSlots(5)

		require.NoError(t, slots.Acquire(context.Background(), "scan-1"))
		assert.Equal(t, 1, slots.Active())
		assert.Equal(t, 4, slots.Stats()["available_slots"])

		slots.Release("scan-1")
		assert.Zero(t, slots.Active())
	})

	t.Run("exhaustion waits until the context ends", func(t *testing.T) {
		slots := NewFixedSlots(2)
		require.NoError(t, slots.Acquire(context.Background(), "scan-1"))
		require.NoError(t, slots.Acquire(context.Background(), "scan-2"))

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		assert.ErrorIs(t, slots.Acquire(ctx, "scan-3"), context.DeadlineExceeded)
		assert.Equal(t, 2, slots.Active())
	})

	t.Run("release wakes a waiter", func(t *testing.T) {
		slots := NewFixedSlots(1)
		require.NoError(t, slots.Acquire(context.Background(), "first"))

		acquired := make(chan error, 1)
		go func() { acquired <- slots.Acquire(context.Background(), "second") }()

		time.Sleep(10 * time.Millisecond)
		slots.Release("first")

		select {
		case err := <-acquired:
			assert.NoError(t, err)
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken")
		}
	})

	t.Run("one slot per scan", func(t *testing.T) {
		slots := NewFixedSlots(3)
		require.NoError(t, slots.Acquire(context.Background(), "scan-1"))
		assert.Error(t, slots.Acquire(context.Background(), "scan-1"))
		assert.Equal(t, 1, slots.Active())
	})

	t.Run("closed manager refuses", func(t *testing.T) {
		slots := NewFixedSlots(1)
		require.NoError(t, slots.Close())
		assert.Error(t, slots.Acquire(context.Background(), "scan-1"))
	})

	t.Run("non-positive capacity becomes one", func(t *testing.T) {
		assert.Equal(t, 1, NewFixedSlots(0).Stats()["slot_capacity"])
	})
}

func TestFixedSlots_ReleaseUnknown(t *testing.T) {
	slots := NewFixedSlots(2)
	require.NoError(t, slots.Acquire(context.Background(), "scan-1"))

	slots.Release("missing")
	slots.Release("scan-1")
	slots.Release("scan-1")

	assert.Zero(t, slots.Active())
	assert.Equal(t, 2, slots.Stats()["available_slots"])
}

func TestFixedSlots_ConcurrentAccess(t *testing.T) {
	const capacity = 3
	slots := NewFixedSlots(capacity)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		peak int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("scan-%d", i)
			require.NoError(t, slots.Acquire(context.Background(), id))

			mu.Lock()
			if n := slots.Active(); n > peak {
				peak = n
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)
			slots.Release(id)
		}(i)
	}
	wg.Wait()

	assert.LessOrEqual(t, peak, capacity)
	assert.Zero(t, slots.Active())
}

func TestFixedSlots_Stats(t *testing.T) {
	slots := NewFixedSlots(2)
	require.NoError(t, slots.Acquire(context.Background(), "scan-1"))

	stats := slots.Stats()
	assert.Equal(t, 2, stats["slot_capacity"])
	assert.Equal(t, 1, stats["held_slots"])
	assert.Equal(t, 1, stats["available_slots"])
	assert.Equal(t, false, stats["slots_closed"])

	require.NoError(t, slots.Close())
	assert.Equal(t, true, slots.Stats()["slots_closed"])
}
