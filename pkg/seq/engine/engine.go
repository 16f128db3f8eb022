// Package engine executes sequences. A run fetches and decodes its first
// stage on the lane of that stage's kind and, if it succeeded and a second
// stage is configured, runs the second stage with the first stage's value.
// The result is delivered to the caller's completion on the engine's single
// completer.
package engine

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ib-77/ropseq/pkg/rop"
	"github.com/ib-77/ropseq/pkg/rop/core"
	"github.com/ib-77/ropseq/pkg/seq/codec"
	"github.com/ib-77/ropseq/pkg/seq/fault"
	"github.com/ib-77/ropseq/pkg/seq/route"
	"github.com/ib-77/ropseq/pkg/seq/signature"
	"github.com/ib-77/ropseq/pkg/seq/source"
	"github.com/ib-77/ropseq/pkg/seq/stage"
	"github.com/ib-77/ropseq/pkg/seq/store"
	"github.com/ib-77/ropseq/pkg/seq/transport"
)

type Engine struct {
	router    *route.Router
	completer *route.Completer
	proc      *stage.Processor
	logger    *zap.Logger
	observer  func(Transition)

	mu       sync.Mutex
	closed   bool
	inflight sync.WaitGroup
}

// New starts an engine. Without options it fetches over HTTP, verifies
// with a key cache and has no local store backends.
func New(opts ...Option) *Engine {
	o := options{stores: make(map[source.Kind]store.Store)}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.transport == nil {
		o.transport = transport.NewHTTP(nil)
	}
	if o.verifier == nil {
		o.verifier = signature.NewVerifier()
	}

	ctx := context.Background()
	return &Engine{
		router:    route.NewRouter(ctx, o.widths, o.logger),
		completer: route.NewCompleter(ctx, o.logger),
		proc: &stage.Processor{
			Transport: o.transport,
			Stores:    o.stores,
			Unit:      codec.NewUnit(o.verifier, o.logger),
			Timeout:   o.timeout,
			Logger:    o.logger,
		},
		logger:   o.logger,
		observer: o.observer,
	}
}

// Execute starts cfg and returns its run id without waiting. completion is
// called exactly once, on the completer. Once the engine is closed the
// completer is gone: the run fails with a Fatal "engine closed" and
// completion is called on a goroutine of its own instead.
func Execute[T any](e *Engine, cfg source.RunConfig, completion func(rop.Result[T])) uuid.UUID {
	r := &run{id: uuid.New(), state: Pending}
	x := &execution[T]{e: e, r: r, completion: completion, log: e.logger.With(zap.Stringer("run", r.id))}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		res := rop.Fail[T](fault.Fatal("engine closed", nil))
		x.log.Error("run rejected", zap.Error(res.Err()))
		x.transition(Completed, res.Err())
		go x.deliver(res)
		return r.id
	}
	e.inflight.Add(1)
	e.mu.Unlock()

	if err := cfg.Validate(); err != nil {
		x.log.Error("invalid run configuration", zap.Error(err))
		x.finish(rop.Fail[T](fault.Fatal("invalid run configuration", err)))
		return r.id
	}

	first, second := cfg.Stages()
	x.submit(first, func(ctx context.Context) {
		x.transition(FirstRunning, nil)
		res := stage.Process[T](ctx, e.proc, first)
		if !res.IsSuccess() || second == nil {
			x.finish(res)
			return
		}
		next := second.WithForwarded(res.Result())
		x.submit(next, func(ctx context.Context) {
			x.transition(SecondRunning, nil)
			x.finish(stage.Process[T](ctx, e.proc, next))
		})
	})
	return r.id
}

// ExecuteChan is Execute with the result sent on a one-shot channel.
func ExecuteChan[T any](e *Engine, cfg source.RunConfig) <-chan rop.Result[T] {
	out := make(chan rop.Result[T], 1)
	Execute(e, cfg, func(res rop.Result[T]) {
		out <- res
		close(out)
	})
	return out
}

// Run executes cfg and waits for its result. If ctx ends first the run
// keeps going in the background and a cancelled result is returned.
func Run[T any](ctx context.Context, e *Engine, cfg source.RunConfig) rop.Result[T] {
	res := core.FromChanFirstOrDefault(ctx, ExecuteChan[T](e, cfg), rop.Result[T]{})
	if res.IsEmpty() {
		return rop.Cancel[T](ctx.Err())
	}
	return res
}

// Close stops accepting runs, waits for the runs in flight, then stops the
// lanes and the completer. When ctx ends first, queued stages are abandoned
// and their runs complete with a Fatal error.
func (e *Engine) Close(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	e.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		e.inflight.Wait()
		close(drained)
	}()

	var errs []error
	select {
	case <-drained:
	case <-ctx.Done():
		errs = append(errs, ctx.Err())
	}
	errs = append(errs, e.router.Close(ctx))
	<-drained
	errs = append(errs, e.completer.Close(context.WithoutCancel(ctx)))
	return errors.Join(errs...)
}

type execution[T any] struct {
	e          *Engine
	r          *run
	completion func(rop.Result[T])
	log        *zap.Logger
}

func (x *execution[T]) submit(d source.Descriptor, work func(ctx context.Context)) {
	err := x.e.router.Route(d.Kind()).Go(route.Job{
		Run: work,
		Abandon: func(err error) {
			x.finish(rop.Fail[T](fault.Fatal("run abandoned at shutdown", err)))
		},
	})
	if err != nil {
		x.finish(rop.Fail[T](fault.Fatal("engine closed", err)))
	}
}

func (x *execution[T]) transition(to State, err error) {
	t, terr := x.r.advance(to)
	if terr != nil {
		x.log.Error("state machine violation", zap.Error(terr))
		return
	}
	t.Err = err
	x.log.Debug("run state", zap.String("from", string(t.From)), zap.String("to", string(t.To)))
	if x.e.observer != nil {
		x.e.observer(t)
	}
}

// finish completes the run and hands the result to the completer.
func (x *execution[T]) finish(res rop.Result[T]) {
	x.transition(Completed, res.Err())
	if res.IsFailure() {
		x.log.Debug("run failed", zap.String("kind", string(fault.KindOf(res.Err()))), zap.Error(res.Err()))
	}

	err := x.e.completer.Go(func() {
		defer x.e.inflight.Done()
		x.deliver(res)
	})
	if err != nil {
		x.log.Error("completer closed, completing inline", zap.Error(err))
		defer x.e.inflight.Done()
		x.deliver(res)
	}
}

func (x *execution[T]) deliver(res rop.Result[T]) {
	x.log.Debug("delivering result",
		zap.Stringer("result", res.Id()),
		zap.Duration("waited", time.Since(res.CreatedAt())))
	if x.completion != nil {
		x.completion(res)
	}
}
