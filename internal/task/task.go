// Package task provides a bounded-concurrency fan-out helper.
package task

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Map runs fn over items with at most n invocations in flight at once,
// limited by a semaphore. Task i sleeps i×stagger before requesting a permit,
// which spreads out the start of work so a cold start or retry wave doesn't
// hit the downstream service in a single burst. Results are returned in input
// order. Tasks aborted by ctx cancellation leave the zero value in their slot.
// A panic inside fn is re-raised on the calling goroutine once the remaining
// tasks have finished.
func Map[I, O any](ctx context.Context, n int, stagger time.Duration, items []I, fn func(context.Context, I) O) []O {
	if len(items) == 0 {
		return nil
	}
	if n < 1 {
		n = 1
	}

	sem := semaphore.NewWeighted(int64(n))
	out := make([]O, len(items))

	var panicOnce sync.Once
	var panicked any

	var wg sync.WaitGroup
	for i := range items {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					panicOnce.Do(func() { panicked = r })
				}
			}()
			if stagger > 0 && i > 0 {
				delay := time.NewTimer(time.Duration(i) * stagger)
				select {
				case <-delay.C:
				case <-ctx.Done():
					delay.Stop()
					return
				}
			}
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			defer sem.Release(1)
			out[i] = fn(ctx, items[i])
		}(i)
	}
	wg.Wait()
	if panicked != nil {
		panic(panicked)
	}
	return out
}
