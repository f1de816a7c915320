package binlock

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestBasicLock(t *testing.T) {
	var l Lock
	l.Wait()
	require.True(t, l.Held())

	ch := make(chan struct{}, 1)
	go func() {
		l.Wait()
		ch <- struct{}{}
		l.Signal()
		ch <- struct{}{}
	}()

	select {
	case <-ch:
		t.Fatal("Wait succeeded on held lock")
	case <-time.After(100 * time.Millisecond):
	}

	l.Signal()

	select {
	case <-ch:
	case <-time.After(time.Second):
		t.Fatal("Wait failed to acquire released lock")
	}
	<-ch

	require.False(t, l.Held())
	l.Wait()
	l.Signal()
}

func TestTryWait(t *testing.T) {
	var l Lock
	require.True(t, l.TryWait())
	require.False(t, l.TryWait())

	l.Signal()
	require.True(t, l.TryWait())
	l.Signal()
}

func TestTryWaitDoesNotBarge(t *testing.T) {
	var l Lock
	l.Wait()

	release := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		l.Wait()
		<-release
		l.Signal()
	}()
	require.Eventually(t, func() bool { return l.Waiters() == 1 }, time.Second, time.Millisecond)

	// Ownership goes straight to the queued caller, never to a newcomer.
	l.Signal()
	require.False(t, l.TryWait())
	require.True(t, l.Held())

	close(release)
	<-done
	require.True(t, l.TryWait())
	l.Signal()
}

func TestSignalFreeLockPanics(t *testing.T) {
	var l Lock
	require.PanicsWithValue(t, "binlock: signal of free lock", l.Signal)

	l.Wait()
	l.Signal()
	require.Panics(t, l.Signal)
}

func TestFIFOHandoff(t *testing.T) {
	const n = 16

	var l Lock
	l.Wait()

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			l.Wait()
			mu.Lock()
			order = append(order, id)
			mu.Unlock()
			l.Signal()
		}(i)
		// Enqueue strictly one after another.
		require.Eventually(t, func() bool { return l.Waiters() == i+1 }, time.Second, time.Millisecond)
	}

	l.Signal()
	wg.Wait()

	want := make([]int, n)
	for i := range want {
		want[i] = i
	}
	if diff := cmp.Diff(want, order); diff != "" {
		t.Errorf("acquisition order mismatch (-want +got):\n%s", diff)
	}
	require.False(t, l.Held())
	require.Zero(t, l.Waiters())
}

func TestWaitContextFreeLock(t *testing.T) {
	var l Lock

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, l.WaitContext(ctx))
	require.True(t, l.Held())
	l.Signal()
}

func TestWaitContextCancel(t *testing.T) {
	var l Lock
	l.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.WaitContext(ctx)
	}()
	require.Eventually(t, func() bool { return l.Waiters() == 1 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)
	require.Zero(t, l.Waiters())
	require.True(t, l.Held())

	l.Signal()
	require.False(t, l.Held())
}

func TestWaitContextCancelKeepsOrder(t *testing.T) {
	var l Lock
	l.Wait()

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		errCh <- l.WaitContext(ctx)
	}()
	require.Eventually(t, func() bool { return l.Waiters() == 1 }, time.Second, time.Millisecond)

	acquired := make(chan struct{})
	go func() {
		l.Wait()
		close(acquired)
	}()
	require.Eventually(t, func() bool { return l.Waiters() == 2 }, time.Second, time.Millisecond)

	cancel()
	require.ErrorIs(t, <-errCh, context.Canceled)

	l.Signal()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second waiter was not handed the lock")
	}
	l.Signal()
}

func TestWaitContextDeadline(t *testing.T) {
	var l Lock
	l.Wait()
	defer l.Signal()

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	require.ErrorIs(t, l.WaitContext(ctx), context.DeadlineExceeded)
	require.Zero(t, l.Waiters())
}

func TestWaitContextCancelRacesSignal(t *testing.T) {
	const iters = 2000

	for i := 0; i < iters; i++ {
		var l Lock
		l.Wait()

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- l.WaitContext(ctx)
		}()
		require.Eventually(t, func() bool { return l.Waiters() == 1 }, time.Second, time.Microsecond)

		start := make(chan struct{})
		cancelled := make(chan struct{})
		go func() {
			defer close(cancelled)
			<-start
			cancel()
		}()
		close(start)
		l.Signal()

		err := <-errCh
		<-cancelled
		if err == nil {
			require.True(t, l.Held())
			l.Signal()
		} else {
			require.ErrorIs(t, err, context.Canceled)
		}

		// Whoever won, nobody owns the lock now and nothing is queued.
		require.False(t, l.Held(), "iteration %d: ownership lost", i)
		require.Zero(t, l.Waiters(), "iteration %d", i)
	}
}

func TestWaitContextCancelAfterHandoffPassesOn(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	const iters = 1000

	for i := 0; i < iters; i++ {
		var l Lock
		l.Wait()

		ctx, cancel := context.WithCancel(context.Background())
		errCh := make(chan error, 1)
		go func() {
			errCh <- l.WaitContext(ctx)
		}()
		require.Eventually(t, func() bool { return l.Waiters() == 1 }, time.Second, time.Microsecond)

		next := make(chan struct{})
		go func() {
			l.Wait()
			close(next)
		}()
		require.Eventually(t, func() bool { return l.Waiters() == 2 }, time.Second, time.Microsecond)

		go cancel()
		l.Signal()

		// The second waiter gets the lock either directly from a cancelled
		// first waiter or after the first one releases it.
		if err := <-errCh; err == nil {
			l.Signal()
		}
		<-next
		require.True(t, l.Held())
		l.Signal()

		require.False(t, l.Held(), "iteration %d", i)
		require.Zero(t, l.Waiters(), "iteration %d", i)
		cancel()
	}
}

func TestHighContention(t *testing.T) {
	if testing.Short() {
		t.SkipNow()
	}

	var (
		l       Lock
		counter int
		wg      sync.WaitGroup
	)
	const workers, iters = 50, 200
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < iters; j++ {
				l.Wait()
				counter++
				l.Signal()
			}
		}()
	}
	wg.Wait()

	require.Equal(t, workers*iters, counter)
	require.False(t, l.Held())
}
