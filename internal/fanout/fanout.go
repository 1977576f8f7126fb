// Package fanout launches one task per realm concurrently and joins as
// soon as a required count of them succeed, cancelling the rest. It is the
// Go shape of the `join_at_least_threshold` helper described in
// original_source/rust/sdk/client/src/register.rs, built on
// golang.org/x/sync/errgroup for the per-task goroutine bookkeeping.
package fanout

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Task is one realm's unit of work. index identifies the realm's position
// in the caller's ordered realm list.
type Task[T any] func(ctx context.Context, index int) (T, error)

// PriorityFunc ranks errors so that, when the threshold cannot be reached,
// the most actionable error is reported: a higher return value wins.
type PriorityFunc func(error) int

// Result collects the outcome of a JoinAtLeastThreshold call.
type Result[T any] struct {
	// Values holds one entry per realm, in realm order; entries for
	// realms whose task failed, or finished only after the outcome was
	// already settled, are the zero value.
	Values []T
	// Completed records which indexes in Values are populated.
	Completed []bool
}

// ErrBelowThreshold is wrapped by the error JoinAtLeastThreshold returns
// when fewer than `required` tasks succeeded.
var ErrBelowThreshold = fmt.Errorf("fanout: fewer realms succeeded than required")

// JoinAtLeastThreshold runs one task per index in [0, n), succeeding as
// soon as `required` of them return without error. Once that many have
// succeeded, it cancels the context passed to the remaining tasks and
// returns once they have all unwound; a task that ignores its context
// delays the return.
//
// If completion becomes impossible — n-failures < required — it cancels
// the remaining tasks and returns the highest-priority error any task
// returned, wrapped in ErrBelowThreshold.
func JoinAtLeastThreshold[T any](ctx context.Context, n, required int, task Task[T], priority PriorityFunc) (*Result[T], error) {
	if required > n {
		return nil, fmt.Errorf("fanout: required %d exceeds realm count %d", required, n)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		mu           sync.Mutex
		result       = &Result[T]{Values: make([]T, n), Completed: make([]bool, n)}
		successes    int
		failures     int
		worstErr     error
		worstErrPrio = -1
		settled      bool
	)

	g, gctx := errgroup.WithContext(runCtx)

	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			value, err := task(gctx, i)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				if p := priority(err); p > worstErrPrio {
					worstErrPrio = p
					worstErr = err
				}
			}

			if settled {
				return nil
			}

			if err != nil {
				failures++
				if n-failures < required {
					settled = true
					cancel()
				}
				return nil
			}

			result.Values[i] = value
			result.Completed[i] = true
			successes++
			if successes >= required {
				settled = true
				cancel()
			}
			return nil
		})
	}

	// errgroup's own error propagation is unused: every task reports its
	// outcome through the shared result/err bookkeeping above so that
	// partial successes survive a later per-realm failure.
	_ = g.Wait()

	mu.Lock()
	defer mu.Unlock()

	if successes >= required {
		return result, nil
	}

	if worstErr == nil {
		worstErr = ErrBelowThreshold
	}
	return result, fmt.Errorf("%w: %w", ErrBelowThreshold, worstErr)
}
