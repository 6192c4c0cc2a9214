package pipeline

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/moolen/tailwatch/internal/logging"
	"golang.org/x/sync/errgroup"
)

// Pool runs per-pair work with bounded parallelism. A failing or panicking
// item never stops its siblings.
type Pool struct {
	workers int
	logger  *logging.Logger
}

// NewPool returns a pool running at most workers items at once.
func NewPool(workers int) *Pool {
	if workers < 1 {
		workers = 1
	}
	return &Pool{workers: workers, logger: logging.GetLogger("pipeline.pool")}
}

// ParallelExecute runs fn for every pair and returns the outcomes in pair
// order. A panic in fn yields an outcome with status onPanic. Pairs not
// started before ctx is done are reported as canceled.
func (p *Pool) ParallelExecute(ctx context.Context, pairs []Pair, onPanic Status, fn func(context.Context, Pair) Outcome) []Outcome {
	results := make([]Outcome, len(pairs))
	var g errgroup.Group
	g.SetLimit(p.workers)

	for i, pair := range pairs {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					p.logger.Error("panic while processing %s: %v\n%s", pair, r, debug.Stack())
					results[i] = outcome(pair, onPanic, fmt.Errorf("panic: %v", r))
				}
			}()
			if err := ctx.Err(); err != nil {
				results[i] = outcome(pair, StatusCanceled, err)
				return nil
			}
			results[i] = fn(ctx, pair)
			return nil
		})
	}
	_ = g.Wait()
	return results
}
