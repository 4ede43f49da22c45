package fn

import (
	"context"
	"sync"
)

// ParMapResult applies f to each item with bounded concurrency, returning
// per-item Results in input order. No item's failure affects the others.
func ParMapResult[T, U any](ctx context.Context, items []T, workers int, f func(context.Context, T) Result[U]) []Result[U] {
	out := make([]Result[U], len(items))
	if len(items) == 0 {
		return out
	}
	if workers <= 0 {
		workers = len(items)
	}

	var wg sync.WaitGroup
	sem := make(chan struct{}, workers)
	for i, v := range items {
		wg.Add(1)
		sem <- struct{}{}
		go func(i int, v T) {
			defer func() { <-sem; wg.Done() }()
			out[i] = f(ctx, v)
		}(i, v)
	}
	wg.Wait()
	return out
}

// Join2 runs two differently-typed functions concurrently and joins on both.
// This is a join point, not a race: both complete before it returns, and the
// first error (left preferred) wins.
func Join2[A, B any](ctx context.Context, fa func(context.Context) Result[A], fb func(context.Context) Result[B]) (A, B, error) {
	var (
		ra Result[A]
		rb Result[B]
		wg sync.WaitGroup
	)
	wg.Add(2)
	go func() { defer wg.Done(); ra = fa(ctx) }()
	go func() { defer wg.Done(); rb = fb(ctx) }()
	wg.Wait()

	a, errA := ra.Unwrap()
	b, errB := rb.Unwrap()
	if errA != nil {
		return a, b, errA
	}
	return a, b, errB
}
