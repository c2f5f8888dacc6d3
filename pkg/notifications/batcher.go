package notifications

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

const (
	DefaultBatchSize        = 100
	DefaultBatchPause       = time.Second
	DefaultBatchConcurrency = 10
)

// Batcher splits work into fixed-size batches and paces them. Items inside
// a batch run concurrently up to Concurrency.
type Batcher struct {
	Size        int
	Pause       time.Duration
	Concurrency int

	// OnBatch is called before each batch with its index and size.
	OnBatch func(index, size int)
}

// Run calls fn for every index in [0, n). It stops between batches when ctx
// is cancelled and returns how many items were processed along with the
// context error. fn must not panic.
func (b Batcher) Run(ctx context.Context, n int, fn func(ctx context.Context, i int)) (int, error) {
	size := b.Size
	if size <= 0 {
		size = DefaultBatchSize
	}
	workers := b.Concurrency
	if workers <= 0 {
		workers = DefaultBatchConcurrency
	}

	limit := rate.Inf
	if b.Pause > 0 {
		limit = rate.Every(b.Pause)
	}
	limiter := rate.NewLimiter(limit, 1)

	processed := 0
	for batch := 0; processed < n; batch++ {
		if err := ctx.Err(); err != nil {
			return processed, err
		}
		if err := limiter.Wait(ctx); err != nil {
			return processed, err
		}

		end := min(processed+size, n)
		if b.OnBatch != nil {
			b.OnBatch(batch, end-processed)
		}

		var g errgroup.Group
		g.SetLimit(workers)
		for i := processed; i < end; i++ {
			g.Go(func() error {
				fn(ctx, i)
				return nil
			})
		}
		_ = g.Wait()
		processed = end
	}
	return processed, nil
}
