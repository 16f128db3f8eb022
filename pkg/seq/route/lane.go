// Package route owns the execution contexts of the engine: one lane per
// source kind, where stages run, and a single completer, where completion
// callbacks run.
package route

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/ib-77/ropseq/pkg/rop/core"
)

var ErrClosed = errors.New("route: lane closed")

// Job is one unit of lane work. Abandon, if set, is called instead of Run
// when the lane is shut down before the job got to run.
type Job struct {
	Run     func(ctx context.Context)
	Abandon func(err error)
}

func (j Job) abandon(err error) {
	if j.Abandon != nil {
		j.Abandon(err)
	}
}

// Lane is an independent execution context: a queue drained by a fixed
// number of locomotive workers. Lanes never wait on each other.
type Lane struct {
	name   string
	logger *zap.Logger
	drain  bool

	jobs    chan Job
	stop    chan struct{}
	stopped <-chan struct{}
	cancel  context.CancelFunc

	mu      sync.Mutex
	closed  bool
	feeders sync.WaitGroup
}

// NewLane starts width workers. Whether jobs still queued when Close gives
// up are run (against the ended context) or abandoned is read from ctx with
// core.IsProcessRemainingEnabled, defaulting to abandon.
func NewLane(ctx context.Context, name string, width int, logger *zap.Logger) *Lane {
	if logger == nil {
		logger = zap.NewNop()
	}
	wctx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	l := &Lane{
		name:   name,
		logger: logger,
		jobs:   make(chan Job, max(width, 1)*4),
		stop:   make(chan struct{}),
		cancel: cancel,
	}

	l.drain = core.IsProcessRemainingEnabled(ctx, false)
	handle := func(ctx context.Context, job Job) {
		if l.drain {
			job.Run(ctx)
			return
		}
		job.abandon(ctx.Err())
	}
	handlers := core.CancellationHandlers[Job]{
		OnCancel: func(ctx context.Context, inputCh <-chan Job) {
			for job := range inputCh {
				handle(ctx, job)
			}
		},
		OnCancelUnprocessed: handle,
	}

	l.stopped = core.Lines(wctx, l.jobs, func(ctx context.Context, job Job) {
		job.Run(ctx)
	}, handlers, nil, width)

	logger.Debug("lane started", zap.String("lane", name), zap.Int("width", max(width, 1)))
	return l
}

func (l *Lane) Name() string { return l.name }

// Go queues job and returns without waiting for a worker.
func (l *Lane) Go(job Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return ErrClosed
	}

	select {
	case l.jobs <- job:
		return nil
	default:
	}

	// queue is full: hand the job to a feeder so the caller does not block
	l.feeders.Add(1)
	go func() {
		defer l.feeders.Done()
		if l.drain {
			l.jobs <- job
			return
		}
		select {
		case l.jobs <- job:
		case <-l.stop:
			job.abandon(ErrClosed)
		}
	}()
	return nil
}

// Close stops intake and waits until every accepted job has run. If ctx
// ends first the workers are cancelled, the remaining jobs are handled per
// the lane's drain policy, and ctx's error is returned.
func (l *Lane) Close(ctx context.Context) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		<-l.stopped
		return nil
	}
	l.closed = true
	l.mu.Unlock()
	defer l.cancel()

	go func() {
		l.feeders.Wait()
		close(l.jobs)
	}()

	select {
	case <-l.stopped:
		return nil
	case <-ctx.Done():
		l.logger.Warn("lane shutdown cut short", zap.String("lane", l.name), zap.Error(ctx.Err()))
		l.cancel()
		close(l.stop)
		<-l.stopped
		return ctx.Err()
	}
}
