// Package workerpool runs bounded fan-out work on an ants pool and gathers
// results back into input order.
package workerpool

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
)

// Pool is a fixed-capacity goroutine pool.
type Pool struct {
	pool *ants.Pool
}

// New creates a pool running at most size tasks at once.
func New(size int) (*Pool, error) {
	if size <= 0 {
		size = 1
	}
	p, err := ants.NewPool(size,
		ants.WithExpiryDuration(10*time.Second),
		ants.WithNonblocking(false),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}
	return &Pool{pool: p}, nil
}

func (p *Pool) Cap() int {
	return p.pool.Cap()
}

// Release stops the pool's workers. Tasks already submitted finish first.
func (p *Pool) Release() {
	p.pool.ReleaseTimeout(30 * time.Second)
}

var errSkipped = errors.New("task skipped after earlier failure")

// PanicError wraps a value recovered from a panicking task.
type PanicError struct {
	Index int
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("task %d panicked: %v", e.Index, e.Value)
}

// MapEach applies fn to every input on the pool and returns one result and
// one error per input, aligned with inputs. Failures do not stop other tasks.
func MapEach[In, Out any](ctx context.Context, p *Pool, inputs []In, fn func(context.Context, In) (Out, error)) ([]Out, []error) {
	out := make([]Out, len(inputs))
	errs := make([]error, len(inputs))

	var wg sync.WaitGroup
	for i := range inputs {
		i := i
		wg.Add(1)
		task := func() {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					errs[i] = &PanicError{Index: i, Value: r}
				}
			}()
			if err := ctx.Err(); err != nil {
				errs[i] = err
				return
			}
			out[i], errs[i] = fn(ctx, inputs[i])
		}
		if err := p.pool.Submit(task); err != nil {
			wg.Done()
			errs[i] = fmt.Errorf("submit task %d: %w", i, err)
		}
	}
	wg.Wait()

	return out, errs
}

// Map applies fn to every input and returns results in input order. The
// first failure cancels the tasks not yet started, and the error of the
// lowest failing index is returned.
func Map[In, Out any](ctx context.Context, p *Pool, inputs []In, fn func(context.Context, In) (Out, error)) ([]Out, error) {
	parent := ctx
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var once sync.Once
	wrapped := func(ctx context.Context, in In) (Out, error) {
		if ctx.Err() != nil {
			var zero Out
			return zero, errSkipped
		}
		res, err := fn(ctx, in)
		if err != nil {
			once.Do(cancel)
		}
		return res, err
	}

	out, errs := MapEach(ctx, p, inputs, wrapped)

	var first error
	for _, err := range errs {
		if err == nil || errors.Is(err, errSkipped) {
			continue
		}
		// a task interrupted by our own cancel is not the root cause
		if first == nil || (errors.Is(first, context.Canceled) && !errors.Is(err, context.Canceled)) {
			first = err
		}
	}
	if first == nil && parent.Err() != nil {
		first = parent.Err()
	}
	if first != nil {
		return nil, first
	}
	return out, nil
}
