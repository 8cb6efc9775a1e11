// Package pipeline provides the streaming infrastructure for the transcoder:
// typed stage interfaces, the error kinds every stage reports with, and the
// Pipeline that wires stages together over bounded channels.
package pipeline

import (
	"context"
)

// Source produces values until it is exhausted or ctx is done.
// The caller closes out after Run returns.
type Source[Out any] interface {
	Run(ctx context.Context, out chan<- Out) error
}

// Stage transforms the values read from in into values sent on out.
// It returns when in is closed and all output was sent, or on error.
// The caller closes out after Run returns.
type Stage[In, Out any] interface {
	Run(ctx context.Context, in <-chan In, out chan<- Out) error
}

// Sink consumes values until in is closed.
type Sink[In any] interface {
	Run(ctx context.Context, in <-chan In) error
}

// StageFunc is a function adapter for the Stage interface.
type StageFunc[In, Out any] func(ctx context.Context, in <-chan In, out chan<- Out) error

// Run implements Stage.
func (f StageFunc[In, Out]) Run(ctx context.Context, in <-chan In, out chan<- Out) error {
	return f(ctx, in, out)
}

// Send delivers v on out, blocking until the consumer accepts it or ctx is
// done. Blocking here is how backpressure reaches upstream stages.
func Send[T any](ctx context.Context, out chan<- T, v T) error {
	select {
	case out <- v:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Receive reads the next value from in. ok is false once in is closed.
func Receive[T any](ctx context.Context, in <-chan T) (v T, ok bool, err error) {
	select {
	case v, ok = <-in:
		return v, ok, nil
	case <-ctx.Done():
		return v, false, ctx.Err()
	}
}
