package route

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ib-77/ropseq/pkg/rop/core"
	"github.com/ib-77/ropseq/pkg/seq/source"
)

// Widths is the number of workers per lane.
type Widths map[source.Kind]int

// DefaultWidths gives the remote lane room for concurrent fetches and every
// local kind a single worker.
func DefaultWidths() Widths {
	w := make(Widths, len(source.Kinds()))
	for _, k := range source.Kinds() {
		w[k] = 1
	}
	w[source.Remote] = 4
	return w
}

// Router maps every source kind to its lane.
type Router struct {
	lanes map[source.Kind]*Lane
}

// NewRouter starts one lane per kind. A positive core.WithWorkerOptions
// value in ctx overrides every width.
func NewRouter(ctx context.Context, widths Widths, logger *zap.Logger) *Router {
	defaults := DefaultWidths()
	r := &Router{lanes: make(map[source.Kind]*Lane, len(defaults))}
	for _, k := range source.Kinds() {
		width := defaults[k]
		if w, ok := widths[k]; ok && w > 0 {
			width = w
		}
		width = core.GetWorkerMaxCount(ctx, width)
		r.lanes[k] = NewLane(ctx, k.String(), width, logger)
	}
	return r
}

// Route returns the lane of kind. The set of kinds is closed, so an unknown
// kind is a programming error.
func (r *Router) Route(kind source.Kind) *Lane {
	l, ok := r.lanes[kind]
	if !ok {
		panic(fmt.Sprintf("route: no lane for %v", kind))
	}
	return l
}

// Close closes every lane in parallel.
func (r *Router) Close(ctx context.Context) error {
	var g errgroup.Group
	for _, l := range r.lanes {
		g.Go(func() error {
			return l.Close(ctx)
		})
	}
	return g.Wait()
}

// Completer is the single context completion callbacks run on, one at a
// time.
type Completer struct {
	lane *Lane
}

func NewCompleter(ctx context.Context, logger *zap.Logger) *Completer {
	return &Completer{lane: NewLane(core.WithProcessOptions(ctx, true), "completion", 1, logger)}
}

// Go queues fn. Callbacks queued before Close always run.
func (c *Completer) Go(fn func()) error {
	return c.lane.Go(Job{Run: func(context.Context) { fn() }})
}

func (c *Completer) Close(ctx context.Context) error {
	return c.lane.Close(ctx)
}
