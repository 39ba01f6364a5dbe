// Package workerpool provides bounded-concurrency fan-out for the sync
// scheduler: running N independent jobs (one per due library or notebook)
// with a cap on how many run at once, and returning the first error
// encountered while letting in-flight jobs finish cleanly.
//
// A prior object-pool package wrapped sync.Pool for GC-pressure reduction
// on short-lived maps/slices — a different concern (object reuse, not
// bounded task concurrency) that doesn't generalize into this shape. This
// package is grounded instead on golang.org/x/sync/errgroup, which
// SPEC_FULL.md's dependency table commits to the sync scheduler (C11)
// fan-out; see DESIGN.md.
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Run executes one call to fn per item in items, at most maxConcurrency at
// a time, and returns the first error any call returns. maxConcurrency <= 0
// means unbounded (errgroup.SetLimit is skipped). If ctx is canceled,
// in-flight calls observe it via the context errgroup.WithContext derives;
// fn is responsible for honoring cancellation in its own blocking calls.
func Run[T any](ctx context.Context, maxConcurrency int, items []T, fn func(context.Context, T) error) error {
	g, gctx := errgroup.WithContext(ctx)
	if maxConcurrency > 0 {
		g.SetLimit(maxConcurrency)
	}
	for _, item := range items {
		item := item
		g.Go(func() error {
			return fn(gctx, item)
		})
	}
	return g.Wait()
}
