package inventory

import "context"

// Outcome carries the result of an asynchronous call.
type Outcome[T any] struct {
	Value T
	Err   error
}

// Async runs fn on its own goroutine and delivers exactly one Outcome on the
// returned channel. Cancelling ctx behaves as for the blocking call: it aborts
// a mutation still waiting for the gate and nothing else.
//
//	ch := inventory.Async(ctx, func(ctx context.Context) (inventory.TransferResult, error) {
//		return svc.TransferStock(ctx, input)
//	})
func Async[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Outcome[T] {
	ch := make(chan Outcome[T], 1)
	go func() {
		defer close(ch)
		value, err := fn(ctx)
		ch <- Outcome[T]{Value: value, Err: err}
	}()
	return ch
}
