package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLoop(t *testing.T) *Loop {
	t.Helper()
	logger := logrus.New()
	logger.SetLevel(logrus.DebugLevel)
	l := New("test-worker", 4, logger)
	t.Cleanup(func() { _ = l.Close(time.Second) })
	return l
}

func TestDoReturnsResult(t *testing.T) {
	l := newTestLoop(t)

	v, err := Do(l, time.Second, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 42, v)

	_, err = Do(l, time.Second, func(ctx context.Context) (int, error) {
		return 0, errors.New("boom")
	})
	assert.EqualError(t, err, "boom")
}

func TestDoRunsOnNamedGoroutine(t *testing.T) {
	l := newTestLoop(t)

	name, err := Do(l, time.Second, func(ctx context.Context) (string, error) {
		return GoroutineName(ctx), nil
	})
	require.NoError(t, err)
	assert.Equal(t, "test-worker", name, "jobs MUST run on the labelled loop goroutine")
}

func TestDoTimeoutDiscardsLateResult(t *testing.T) {
	// GOAL: Verify a caller is released after its timeout and the late result does not wedge the loop
	//
	// TEST SCENARIO: Slow job exceeds the wait → DeadlineExceeded within bound → next job still runs

	l := newTestLoop(t)
	release := make(chan struct{})

	start := time.Now()
	_, err := Do(l, 50*time.Millisecond, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	})
	elapsed := time.Since(start)

	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, elapsed, 500*time.Millisecond, "Do MUST return close to its timeout")

	close(release)

	v, err := Do(l, time.Second, func(ctx context.Context) (int, error) {
		return 2, nil
	})
	require.NoError(t, err, "loop MUST keep serving after a discarded result")
	assert.Equal(t, 2, v)
}

func TestJobsRunSerially(t *testing.T) {
	l := newTestLoop(t)

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = Do(l, 2*time.Second, func(ctx context.Context) (struct{}, error) {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return struct{}{}, nil
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning), "jobs MUST NOT overlap")
}

func TestDoRecoversPanic(t *testing.T) {
	l := newTestLoop(t)

	_, err := Do(l, time.Second, func(ctx context.Context) (int, error) {
		panic("bad payload")
	})
	assert.ErrorIs(t, err, ErrPanic)

	v, err := Do(l, time.Second, func(ctx context.Context) (int, error) {
		return 7, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 7, v)
}

func TestCloseDrainsAndRejects(t *testing.T) {
	l := New("closing", 4, nil)

	var ran int32
	for i := 0; i < 3; i++ {
		require.NoError(t, l.Submit(context.Background(), func(ctx context.Context) {
			atomic.AddInt32(&ran, 1)
		}))
	}

	require.NoError(t, l.Close(time.Second))
	assert.Equal(t, int32(3), atomic.LoadInt32(&ran), "queued jobs MUST run before Close returns")

	err := l.Submit(context.Background(), func(ctx context.Context) {})
	assert.ErrorIs(t, err, ErrClosed)

	_, err = Do(l, time.Second, func(ctx context.Context) (int, error) { return 0, nil })
	assert.ErrorIs(t, err, ErrClosed)

	assert.NoError(t, l.Close(time.Second), "second Close MUST be a no-op")
}

func TestCloseWithoutStart(t *testing.T) {
	l := New("idle", 1, nil)
	assert.NoError(t, l.Close(time.Millisecond))
}
