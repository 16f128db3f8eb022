package core

import (
	"context"
	"sync"
)

// CancellationHandlers decide what happens to work a locomotive did not get
// to run because its context ended.
type CancellationHandlers[T any] struct {
	// OnCancel receives the rest of the input channel once the context ends.
	OnCancel func(ctx context.Context, inputCh <-chan T)
	// OnCancelUnprocessed receives a job taken from the channel after the
	// context ended.
	OnCancelUnprocessed func(ctx context.Context, unprocessed T)
}

// Locomotive drains inputCh, running engine for every job, until the channel
// closes or ctx ends.
func Locomotive[T any](ctx context.Context, inputCh <-chan T,
	engine func(ctx context.Context, job T),
	handlers CancellationHandlers[T],
	onDone func(ctx context.Context, job T), wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case <-ctx.Done():
			if handlers.OnCancel != nil {
				handlers.OnCancel(ctx, inputCh)
			}
			return
		case job, ok := <-inputCh:
			if !ok {
				return
			}

			if ctx.Err() != nil {
				if handlers.OnCancelUnprocessed != nil {
					handlers.OnCancelUnprocessed(ctx, job)
				}
				if handlers.OnCancel != nil {
					handlers.OnCancel(ctx, inputCh)
				}
				return
			}

			engine(ctx, job)
			if onDone != nil {
				onDone(ctx, job)
			}
		}
	}
}

// Lines starts the given number of locomotives over one input channel. The
// returned channel is closed after every locomotive has stopped.
func Lines[T any](ctx context.Context, inputCh <-chan T,
	engine func(ctx context.Context, job T),
	handlers CancellationHandlers[T],
	onDone func(ctx context.Context, job T), lines int) <-chan struct{} {

	if lines < 1 {
		lines = 1
	}

	stopped := make(chan struct{})
	wg := &sync.WaitGroup{}

	for range lines {
		wg.Add(1)
		go Locomotive(ctx, inputCh, engine, handlers, onDone, wg)
	}

	go func() {
		wg.Wait()
		close(stopped)
	}()

	return stopped
}
