// Package race runs competing signal sources and keeps the first one to settle.
package race

import (
	"context"
	"errors"
)

// ErrNoSources is returned when First is called without any sources.
var ErrNoSources = errors.New("race: no sources")

// Source is a signal that blocks until it settles or its context is cancelled.
// A source must return promptly once ctx is done.
type Source[T any] func(ctx context.Context) (T, error)

type result[T any] struct {
	index int
	value T
	err   error
}

// First starts every source and returns the result of the first one to settle,
// along with its index. The remaining sources are cancelled and First waits for
// them to return, so no source outlives the call and late results are dropped.
// A source that returns only because its context was cancelled never wins.
func First[T any](ctx context.Context, sources ...Source[T]) (T, int, error) {
	var zero T
	if len(sources) == 0 {
		return zero, -1, ErrNoSources
	}

	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	results := make(chan result[T], len(sources))
	for i, src := range sources {
		go func(i int, src Source[T]) {
			v, err := src(raceCtx)
			results <- result[T]{index: i, value: v, err: err}
		}(i, src)
	}

	winner := result[T]{index: -1}
	for range sources {
		r := <-results
		if winner.index >= 0 {
			continue
		}
		if raceCtx.Err() != nil && errors.Is(r.err, context.Canceled) {
			continue
		}
		winner = r
		cancel()
	}

	if winner.index < 0 {
		if err := ctx.Err(); err != nil {
			return zero, -1, err
		}
		return zero, -1, context.Canceled
	}
	return winner.value, winner.index, winner.err
}
