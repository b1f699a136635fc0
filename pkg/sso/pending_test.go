package sso

import (
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPendingCache_PutAndTake(t *testing.T) {
	cache := NewPendingCache(10, time.Minute)

	cache.Put("flow-1", &PendingLogin{State: "s1", Verifier: "v1"})

	login, ok := cache.Take("flow-1")
	require.True(t, ok)
	assert.Equal(t, "s1", login.State)
	assert.Equal(t, "v1", login.Verifier)
}

func TestPendingCache_TakeIsDestructive(t *testing.T) {
	cache := NewPendingCache(10, time.Minute)
	cache.Put("flow-1", &PendingLogin{State: "s1"})

	_, ok := cache.Take("flow-1")
	require.True(t, ok)

	_, ok = cache.Take("flow-1")
	assert.False(t, ok)
}

func TestPendingCache_TakeUnknown(t *testing.T) {
	cache := NewPendingCache(10, time.Minute)
	_, ok := cache.Take("never-stored")
	assert.False(t, ok)
}

func TestPendingCache_PutOverwrites(t *testing.T) {
	cache := NewPendingCache(10, time.Minute)

	cache.Put("flow-1", &PendingLogin{State: "old"})
	cache.Put("flow-1", &PendingLogin{State: "new"})
	assert.Equal(t, 1, cache.Len())

	login, ok := cache.Take("flow-1")
	require.True(t, ok)
	assert.Equal(t, "new", login.State)
}

func TestPendingCache_Expiry(t *testing.T) {
	cache := NewPendingCache(10, 20*time.Millisecond)
	cache.Put("flow-1", &PendingLogin{State: "s1"})

	time.Sleep(50 * time.Millisecond)

	_, ok := cache.Take("flow-1")
	assert.False(t, ok)
}

func TestPendingCache_CapacityEvictsOldest(t *testing.T) {
	cache := NewPendingCache(2, time.Minute)

	cache.Put("flow-1", &PendingLogin{State: "s1"})
	cache.Put("flow-2", &PendingLogin{State: "s2"})
	cache.Put("flow-3", &PendingLogin{State: "s3"})

	_, ok := cache.Take("flow-1")
	assert.False(t, ok, "oldest entry should have been evicted")

	_, ok = cache.Take("flow-2")
	assert.True(t, ok)
	_, ok = cache.Take("flow-3")
	assert.True(t, ok)
}

func TestPendingCache_ConcurrentTakeSingleWinner(t *testing.T) {
	cache := NewPendingCache(10, time.Minute)
	cache.Put("flow-1", &PendingLogin{State: "s1"})

	var winners int32
	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, ok := cache.Take("flow-1"); ok {
				atomic.AddInt32(&winners, 1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners)
}

func TestPendingCache_ConcurrentPutsLastWriterWins(t *testing.T) {
	cache := NewPendingCache(100, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			cache.Put("flow-1", &PendingLogin{State: fmt.Sprintf("s%d", n)})
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, cache.Len())
	_, ok := cache.Take("flow-1")
	assert.True(t, ok)
}
