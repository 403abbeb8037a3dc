// Package pool runs a function over a slice of items with a bounded number of
// concurrent workers while keeping results aligned with their inputs.
package pool

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// Run calls work for every item using at most concurrency workers.
// results[i] holds the result for items[i]. A concurrency below 1 runs a
// single worker.
//
// The first error returned by work is returned by Run and cancels the context
// seen by the remaining calls; items not yet started are skipped. Callers that
// need every item to complete should report failures inside R instead.
func Run[T, R any](ctx context.Context, items []T, concurrency int, work func(ctx context.Context, item T) (R, error)) ([]R, error) {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}

	workers := max(1, concurrency)
	workers = min(workers, len(items))

	g, gctx := errgroup.WithContext(ctx)
	var cursor atomic.Int64

	for w := 0; w < workers; w++ {
		g.Go(func() error {
			for {
				i := int(cursor.Add(1) - 1)
				if i >= len(items) {
					return nil
				}
				if err := gctx.Err(); err != nil {
					return err
				}
				r, err := work(gctx, items[i])
				if err != nil {
					return err
				}
				results[i] = r
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}
