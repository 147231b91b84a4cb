package emitter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func byID(id string) Predicate {
	return func(args []any) bool {
		return len(args) > 0 && args[0] == id
	}
}

func TestListenersRunInRegistrationOrder(t *testing.T) {
	e := New()
	var mu sync.Mutex
	var order []int

	for i := 1; i <= 3; i++ {
		i := i
		e.On("request", func(ctx context.Context, args ...any) error {
			if i == 1 {
				time.Sleep(20 * time.Millisecond)
			}
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		})
	}

	e.Emit(context.Background(), "request", "a")
	require.NoError(t, e.UntilIdle(context.Background(), "request", nil))

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestEmitDoesNotWait(t *testing.T) {
	e := New()
	release := make(chan struct{})
	e.On("request", func(ctx context.Context, args ...any) error {
		<-release
		return nil
	})

	start := time.Now()
	e.Emit(context.Background(), "request", "a")
	assert.Less(t, time.Since(start), 50*time.Millisecond)
	assert.Equal(t, 1, e.Pending("request"))

	close(release)
	require.NoError(t, e.UntilIdle(context.Background(), "request", nil))
	assert.Equal(t, 0, e.Pending("request"))
}

func TestSameListenerRegisteredTwice(t *testing.T) {
	e := New()
	var calls int32
	fn := func(ctx context.Context, args ...any) error {
		atomic.AddInt32(&calls, 1)
		return nil
	}
	e.On("request", fn)
	e.On("request", fn)
	assert.Equal(t, 2, e.ListenerCount("request"))

	e.Emit(context.Background(), "request")
	require.NoError(t, e.UntilIdle(context.Background(), "request", nil))
	assert.EqualValues(t, 2, atomic.LoadInt32(&calls))
}

func TestOff(t *testing.T) {
	e := New()
	var calls int32
	id := e.On("request", func(ctx context.Context, args ...any) error {
		atomic.AddInt32(&calls, 1)
		return nil
	})
	e.On("response", func(ctx context.Context, args ...any) error { return nil })

	assert.True(t, e.Off("request", id))
	assert.False(t, e.Off("request", id))
	assert.Equal(t, 0, e.ListenerCount("request"))

	e.Emit(context.Background(), "request")
	require.NoError(t, e.UntilIdle(context.Background(), "request", nil))
	assert.EqualValues(t, 0, atomic.LoadInt32(&calls))

	e.RemoveAllListeners("")
	assert.Equal(t, 0, e.ListenerCount("response"))
}

func TestUntilIdleScopedByPredicate(t *testing.T) {
	e := New()
	slow := make(chan struct{})
	e.On("request", func(ctx context.Context, args ...any) error {
		if args[0] == "slow" {
			<-slow
		}
		return nil
	})

	e.Emit(context.Background(), "request", "slow")
	e.Emit(context.Background(), "request", "fast")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, e.UntilIdle(ctx, "request", byID("fast")))

	// 慢请求仍在进行中，不影响快请求的等待
	assert.Equal(t, 1, e.Pending("request"))
	close(slow)
	require.NoError(t, e.UntilIdle(ctx, "request", byID("slow")))
}

func TestUntilIdleWithNothingInFlight(t *testing.T) {
	e := New()
	done := make(chan error, 1)
	go func() { done <- e.UntilIdle(context.Background(), "request", nil) }()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("UntilIdle blocked with no invocations")
	}
}

func TestUntilIdleSnapshot(t *testing.T) {
	e := New()
	release := make(chan struct{})
	e.On("request", func(ctx context.Context, args ...any) error {
		if args[0] == "late" {
			<-release
		}
		return nil
	})

	e.Emit(context.Background(), "request", "early")
	waitErr := make(chan error, 1)
	go func() { waitErr <- e.UntilIdle(context.Background(), "request", nil) }()

	// 等待开始后才发射的调用不阻塞已开始的等待
	time.Sleep(10 * time.Millisecond)
	e.Emit(context.Background(), "request", "late")

	select {
	case err := <-waitErr:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("UntilIdle waited for an invocation started after it")
	}
	close(release)
}

func TestRetainedFailureIsCollected(t *testing.T) {
	boom := errors.New("boom")
	var handled int32
	e := New(WithRetain("request"), WithErrorHandler(func(event string, args []any, err error) {
		atomic.AddInt32(&handled, 1)
	}))
	e.On("request", func(ctx context.Context, args ...any) error { return boom })

	e.Emit(context.Background(), "request", "a")

	// 确保监听器已在等待开始前失败
	require.Eventually(t, func() bool { return atomic.LoadInt32(&handled) == 1 }, time.Second, time.Millisecond)

	err := e.UntilIdle(context.Background(), "request", byID("a"))
	require.ErrorIs(t, err, boom)

	// 已收集后不再重复返回
	assert.NoError(t, e.UntilIdle(context.Background(), "request", byID("a")))
	assert.Equal(t, 0, e.Pending("request"))
}

func TestUnretainedFailureIsDropped(t *testing.T) {
	e := New()
	e.On("response", func(ctx context.Context, args ...any) error { return errors.New("x") })
	e.Emit(context.Background(), "response")

	require.Eventually(t, func() bool { return e.Pending("response") == 0 }, time.Second, time.Millisecond)
}

func TestPanicIsCaptured(t *testing.T) {
	e := New(WithRetain("request"))
	e.On("request", func(ctx context.Context, args ...any) error { panic("kaboom") })

	e.Emit(context.Background(), "request", "a")
	err := e.UntilIdle(context.Background(), "request", nil)
	require.ErrorIs(t, err, ErrListenerPanic)
	assert.Contains(t, err.Error(), "kaboom")
}

func TestUntilIdleHonorsContext(t *testing.T) {
	e := New()
	block := make(chan struct{})
	defer close(block)
	e.On("request", func(ctx context.Context, args ...any) error {
		<-block
		return nil
	})
	e.Emit(context.Background(), "request")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.UntilIdle(ctx, "request", nil)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAbandonedFailureIsNotRetained(t *testing.T) {
	boom := errors.New("late failure")
	e := New(WithRetain("request"))
	e.On("request", func(ctx context.Context, args ...any) error {
		time.Sleep(30 * time.Millisecond)
		return boom
	})

	for _, id := range []string{"a", "b", "c"} {
		e.Emit(context.Background(), "request", id)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Millisecond)
		err := e.UntilIdle(ctx, "request", byID(id))
		cancel()
		require.ErrorIs(t, err, context.DeadlineExceeded)
	}

	// 超时后才失败的调用没有等待方，结束后即被清理
	require.Eventually(t, func() bool { return e.Pending("request") == 0 }, time.Second, time.Millisecond)
}
