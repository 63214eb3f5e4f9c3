package lock_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thereayou/convoy/internal/lock"
	"github.com/thereayou/convoy/internal/testfixtures"
)

func TestAcquireAndRelease(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	l := lock.NewLocker(rdb, "")
	ctx := context.Background()

	token, err := l.Acquire(ctx, "room:a", 10*time.Second)
	require.NoError(t, err)
	require.NotEmpty(t, token)
	assert.True(t, mr.Exists("lock:room:a"))
	assert.Equal(t, 10*time.Second, mr.TTL("lock:room:a"))

	_, err = l.Acquire(ctx, "room:a", 10*time.Second)
	assert.ErrorIs(t, err, lock.ErrBusy)

	require.NoError(t, l.Release(ctx, "room:a", token))
	assert.False(t, mr.Exists("lock:room:a"))

	_, err = l.Acquire(ctx, "room:a", 10*time.Second)
	assert.NoError(t, err)
}

func TestStaleReleaseKeepsNewHolder(t *testing.T) {
	mr, rdb := testfixtures.NewRedis(t)
	l := lock.NewLocker(rdb, "")
	ctx := context.Background()

	tokenA, err := l.Acquire(ctx, "room:b", time.Second)
	require.NoError(t, err)

	// TTL держателя A истёк, блокировку взял B
	mr.FastForward(2 * time.Second)
	tokenB, err := l.Acquire(ctx, "room:b", 10*time.Second)
	require.NoError(t, err)
	require.NotEqual(t, tokenA, tokenB)

	// запоздалое снятие A ничего не трогает
	require.NoError(t, l.Release(ctx, "room:b", tokenA))
	got, err := mr.Get("lock:room:b")
	require.NoError(t, err)
	assert.Equal(t, tokenB, got)

	_, err = l.Acquire(ctx, "room:b", 10*time.Second)
	assert.ErrorIs(t, err, lock.ErrBusy)
}

func TestReleaseOfMissingKeyIsNoop(t *testing.T) {
	_, rdb := testfixtures.NewRedis(t)
	l := lock.NewLocker(rdb, "")

	assert.NoError(t, l.Release(context.Background(), "room:none", "whatever"))
	assert.NoError(t, l.Release(context.Background(), "room:none", ""))
}

func TestAcquireWithinGivesUp(t *testing.T) {
	_, rdb := testfixtures.NewRedis(t)
	l := lock.NewLocker(rdb, "")
	ctx := context.Background()

	_, err := l.Acquire(ctx, "room:c", time.Minute)
	require.NoError(t, err)

	start := time.Now()
	_, err = l.AcquireWithin(ctx, "room:c", time.Minute, 100*time.Millisecond)
	assert.ErrorIs(t, err, lock.ErrBusy)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestAcquireWithinSerializesHolders(t *testing.T) {
	_, rdb := testfixtures.NewRedis(t)
	l := lock.NewLocker(rdb, "convoy:")
	ctx := context.Background()

	var inside, maxInside int32
	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			token, err := l.AcquireWithin(ctx, "room:d", 5*time.Second, 5*time.Second)
			if !assert.NoError(t, err) {
				return
			}
			n := atomic.AddInt32(&inside, 1)
			for {
				m := atomic.LoadInt32(&maxInside)
				if n <= m || atomic.CompareAndSwapInt32(&maxInside, m, n) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			atomic.AddInt32(&inside, -1)
			assert.NoError(t, l.Release(ctx, "room:d", token))
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxInside)
}
