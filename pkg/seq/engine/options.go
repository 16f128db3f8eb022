package engine

import (
	"time"

	"go.uber.org/zap"

	"github.com/ib-77/ropseq/pkg/seq/route"
	"github.com/ib-77/ropseq/pkg/seq/signature"
	"github.com/ib-77/ropseq/pkg/seq/source"
	"github.com/ib-77/ropseq/pkg/seq/store"
	"github.com/ib-77/ropseq/pkg/seq/transport"
)

type options struct {
	transport transport.Transport
	stores    map[source.Kind]store.Store
	verifier  signature.Verifier
	logger    *zap.Logger
	widths    route.Widths
	timeout   time.Duration
	observer  func(Transition)
}

type Option func(*options)

func WithTransport(t transport.Transport) Option {
	return func(o *options) { o.transport = t }
}

// WithStore registers the backend of a local kind. Kinds without a backend
// fail with StoreKindUnimplemented.
func WithStore(kind source.Kind, s store.Store) Option {
	return func(o *options) {
		if kind.IsLocal() {
			o.stores[kind] = s
		}
	}
}

func WithVerifier(v signature.Verifier) Option {
	return func(o *options) { o.verifier = v }
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

func WithLaneWidths(w route.Widths) Option {
	return func(o *options) { o.widths = w }
}

// WithTimeout bounds how long a remote stage waits for its reply.
func WithTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithObserver is called with every state transition, on the goroutine that
// made it. It must not block.
func WithObserver(fn func(Transition)) Option {
	return func(o *options) { o.observer = fn }
}
