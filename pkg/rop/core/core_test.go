package core

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestLines_SingleWorkerRunsEveryJob(t *testing.T) {
	t.Parallel()

	in := make(chan int)
	var mu sync.Mutex
	var got []int

	stopped := Lines(context.Background(), in, func(ctx context.Context, n int) {
		mu.Lock()
		got = append(got, n*2)
		mu.Unlock()
	}, CancellationHandlers[int]{}, nil, 1)

	for i := 1; i <= 5; i++ {
		in <- i
	}
	close(in)
	<-stopped

	assert.Equal(t, []int{2, 4, 6, 8, 10}, got)
}

func TestLines_MultipleWorkersRunInParallel(t *testing.T) {
	t.Parallel()

	in := make(chan int, 50)
	for i := range 50 {
		in <- i
	}
	close(in)

	var done atomic.Int32
	start := time.Now()
	stopped := Lines(context.Background(), in, func(ctx context.Context, n int) {
		time.Sleep(10 * time.Millisecond)
		done.Add(1)
	}, CancellationHandlers[int]{}, nil, 10)
	<-stopped

	assert.EqualValues(t, 50, done.Load())
	assert.Less(t, time.Since(start), 400*time.Millisecond)
}

func TestLines_NonPositiveWidthStillRuns(t *testing.T) {
	t.Parallel()

	in := make(chan int, 1)
	in <- 7
	close(in)

	var got atomic.Int32
	<-Lines(context.Background(), in, func(ctx context.Context, n int) { got.Store(int32(n)) },
		CancellationHandlers[int]{}, nil, 0)
	assert.EqualValues(t, 7, got.Load())
}

func TestLocomotive_CancelHandsOverRemaining(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	in := make(chan int, 3)
	in <- 1
	in <- 2
	in <- 3
	close(in)
	cancel()

	var mu sync.Mutex
	var ran, handed []int
	wg := &sync.WaitGroup{}
	wg.Add(1)
	Locomotive(ctx, in, func(ctx context.Context, n int) {
		mu.Lock()
		ran = append(ran, n)
		mu.Unlock()
	}, CancellationHandlers[int]{
		OnCancel: func(ctx context.Context, rest <-chan int) {
			for n := range rest {
				handed = append(handed, n)
			}
		},
		OnCancelUnprocessed: func(ctx context.Context, n int) {
			handed = append(handed, n)
		},
	}, nil, wg)
	wg.Wait()

	assert.Empty(t, ran)
	assert.ElementsMatch(t, []int{1, 2, 3}, handed)
}

func TestLocomotive_OnDoneAfterEachJob(t *testing.T) {
	t.Parallel()

	in := make(chan string, 2)
	in <- "a"
	in <- "b"
	close(in)

	var order []string
	wg := &sync.WaitGroup{}
	wg.Add(1)
	Locomotive(context.Background(), in,
		func(ctx context.Context, s string) { order = append(order, "run:"+s) },
		CancellationHandlers[string]{},
		func(ctx context.Context, s string) { order = append(order, "done:"+s) }, wg)
	wg.Wait()

	assert.Equal(t, []string{"run:a", "done:a", "run:b", "done:b"}, order)
}

func TestOptions(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	assert.Equal(t, 4, GetWorkerMaxCount(ctx, 4))
	assert.True(t, IsProcessRemainingEnabled(ctx, true))

	ctx = WithProcessOptions(WithWorkerOptions(ctx, 2), false)
	assert.Equal(t, 2, GetWorkerMaxCount(ctx, 4))
	assert.False(t, IsProcessRemainingEnabled(ctx, true))

	assert.Equal(t, 4, GetWorkerMaxCount(WithWorkerOptions(context.Background(), 0), 4))
}

func TestFromChanFirstOrDefault(t *testing.T) {
	t.Parallel()

	ch := make(chan int, 1)
	ch <- 9
	assert.Equal(t, 9, FromChanFirstOrDefault(context.Background(), ch, -1))

	closed := make(chan int)
	close(closed)
	assert.Equal(t, -1, FromChanFirstOrDefault(context.Background(), closed, -1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	require.Equal(t, -1, FromChanFirstOrDefault(ctx, make(chan int), -1))
}
