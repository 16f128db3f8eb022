// Package stage runs one stage of a sequence: it gets the stage's bytes from
// a remote or local source and hands them to the codec.
package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/ib-77/ropseq/pkg/rop"
	"github.com/ib-77/ropseq/pkg/rop/chain"
	"github.com/ib-77/ropseq/pkg/seq/codec"
	"github.com/ib-77/ropseq/pkg/seq/fault"
	"github.com/ib-77/ropseq/pkg/seq/source"
	"github.com/ib-77/ropseq/pkg/seq/store"
	"github.com/ib-77/ropseq/pkg/seq/transport"
)

// Processor holds the capabilities a stage may need. A local kind without
// an entry in Stores is not implemented.
type Processor struct {
	Transport transport.Transport
	Stores    map[source.Kind]store.Store
	Unit      codec.Unit
	Timeout   time.Duration
	Logger    *zap.Logger
}

func (p *Processor) timeout() time.Duration {
	if p.Timeout <= 0 {
		return transport.DefaultTimeout
	}
	return p.Timeout
}

func (p *Processor) logger() *zap.Logger {
	if p.Logger == nil {
		return zap.NewNop()
	}
	return p.Logger
}

// Process runs d and returns its typed value. It blocks the calling worker
// until the source has answered or the processor's timeout has passed.
func Process[T any](ctx context.Context, p *Processor, d source.Descriptor) rop.Result[T] {
	log := p.logger().With(zap.Stringer("source", d), zap.Stringer("method", d.Context().Method))
	log.Debug("stage started")

	var res rop.Result[T]
	if d.Kind() == source.Remote {
		res = processRemote[T](ctx, p, d)
	} else {
		res = processLocal[T](ctx, p, d)
	}
	if res.IsFailure() && ctx.Err() != nil && rop.IsCancellationError(res.Err()) {
		res = rop.Cancel[T](res.Err())
	}

	log = log.With(zap.Stringer("result", res.Id()))
	return chain.Start(ctx, res).
		Ensure(func(context.Context, T) { log.Debug("stage succeeded") }).
		OnFailure(func(_ context.Context, err error) {
			log.Debug("stage failed", zap.String("kind", string(fault.KindOf(err))), zap.Error(err))
		}).
		Result()
}

func processRemote[T any](ctx context.Context, p *Processor, d source.Descriptor) rop.Result[T] {
	if p.Transport == nil {
		return rop.Fail[T](fault.Fatal("no transport configured", nil))
	}

	req := chain.ThenTry(chain.FromValue(ctx, d), func(_ context.Context, d source.Descriptor) (transport.Request, error) {
		return p.request(d)
	})
	reply := chain.Then(req, func(ctx context.Context, r transport.Request) rop.Result[transport.Reply] {
		return p.send(ctx, r)
	}).Guard(func(_ context.Context, r transport.Reply) error {
		if r.Err != nil {
			return fault.TransportFailed(r.Err)
		}
		if r.Status != 0 && (r.Status < 200 || r.Status >= 300) {
			return fault.HTTPStatus(r.Status, http.StatusText(r.Status))
		}
		return nil
	})
	return chain.Then(reply, func(ctx context.Context, r transport.Reply) rop.Result[T] {
		replied := d.WithReply(r.Body, r.Status)
		return codec.Finish[T](ctx, p.Unit, r.Body, replied.Context())
	}).Result()
}

func (p *Processor) request(d source.Descriptor) (transport.Request, error) {
	u, err := d.URL()
	if err != nil {
		return transport.Request{}, fault.InvalidAddress(d.Address(), err)
	}
	sc := d.Context()
	req := transport.Request{
		Method:  sc.Method.String(),
		URL:     u.String(),
		Timeout: p.timeout(),
	}
	if !sc.Method.IsRead() && sc.HasForwarded {
		body, err := json.Marshal(sc.Forwarded)
		if err != nil {
			return transport.Request{}, fault.DecodeFailed("cannot encode forwarded value", err)
		}
		req.Body = body
	}
	return req, nil
}

// send waits for the transport's single reply. A transport that never
// answers fails the stage after the timeout.
func (p *Processor) send(ctx context.Context, req transport.Request) rop.Result[transport.Reply] {
	replies := make(chan transport.Reply, 1)
	p.Transport.Send(ctx, req, func(r transport.Reply) {
		replies <- r
	})

	timer := time.NewTimer(p.timeout())
	defer timer.Stop()

	select {
	case r := <-replies:
		return rop.Success(r)
	case <-timer.C:
		return rop.Fail[transport.Reply](fault.TransportFailed(fmt.Errorf("no reply after %s", p.timeout())))
	case <-ctx.Done():
		return rop.Fail[transport.Reply](fault.TransportFailed(ctx.Err()))
	}
}

func processLocal[T any](ctx context.Context, p *Processor, d source.Descriptor) rop.Result[T] {
	backend, ok := p.Stores[d.Kind()]
	if !ok || backend == nil {
		return rop.Fail[T](fault.StoreKindUnimplemented(d.Kind().String()))
	}

	sc := d.Context()
	kind := d.Kind().String()
	storeErr := func(err error) error {
		return fault.StoreFailed(kind, err)
	}

	var raw []byte
	switch {
	case sc.Method.IsRead():
		b, err := backend.Fetch(ctx, d.Name(), d.Key())
		if err != nil {
			return rop.Fail[T](storeErr(err))
		}
		raw = b

	case sc.Method == source.Delete:
		if !sc.HasForwarded {
			b, err := backend.Fetch(ctx, d.Name(), d.Key())
			if err != nil {
				return rop.Fail[T](storeErr(err))
			}
			raw = b
		}
		if err := backend.Delete(ctx, d.Name(), d.Key()); err != nil {
			return rop.Fail[T](storeErr(err))
		}

	default:
		if !sc.HasForwarded {
			return rop.Fail[T](fault.Fatal(fmt.Sprintf("%s %s has no value to store", sc.Method, d), nil))
		}
		b, err := json.Marshal(sc.Forwarded)
		if err != nil {
			return rop.Fail[T](fault.DecodeFailed("cannot encode forwarded value", err))
		}
		if err := backend.Store(ctx, d.Name(), d.Key(), b); err != nil {
			return rop.Fail[T](storeErr(err))
		}
		raw = b
	}

	return codec.Finish[T](ctx, p.Unit, raw, d.WithReply(raw, 0).Context())
}
