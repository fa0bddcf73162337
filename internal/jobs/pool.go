package jobs

import (
	"context"
	"fmt"
	"sync"

	"comic-translator/internal/logger"
)

// Pool runs work items on a fixed number of workers.
type Pool struct {
	size int
}

// NewPool creates a pool with size workers (at least 1).
func NewPool(size int) *Pool {
	return &Pool{size: max(1, size)}
}

// Size returns the number of workers.
func (p *Pool) Size() int {
	return p.size
}

// Run calls fn for every index in [0, n) with at most Size calls in flight
// and returns the per-item errors. Items not started before ctx is done get
// ctx.Err().
func (p *Pool) Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) []error {
	errs := make([]error, n)
	sem := make(chan struct{}, p.size)
	var wg sync.WaitGroup

	cancelRest := func(from int) []error {
		for k := from; k < n; k++ {
			errs[k] = ctx.Err()
		}
		wg.Wait()
		return errs
	}

	for i := 0; i < n; i++ {
		if ctx.Err() != nil {
			return cancelRest(i)
		}
		select {
		case sem <- struct{}{}:
		case <-ctx.Done():
			return cancelRest(i)
		}

		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			defer func() { <-sem }()
			defer func() {
				if r := recover(); r != nil {
					logger.Error("worker panicked", nil, logger.Int("item", idx), logger.Any("panic", r))
					errs[idx] = panicError{r}
				}
			}()
			errs[idx] = fn(ctx, idx)
		}(i)
	}

	wg.Wait()
	return errs
}

type panicError struct{ v any }

func (e panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.v)
}
