package runtime

import (
	"context"
)

// Handler defines a lifecycle-aware Lambda handler for input type T and output type R.
//
// ColdStart runs once before the first invocation. Validate runs before every
// Handler call and its error is reported as a ValidationError. Shutdown runs
// once as a cleanup when the process receives its termination signal.
type Handler[T, R any] interface {
	ColdStart(ctx context.Context) error
	Validate(ctx context.Context, event T) error
	Handler(ctx context.Context, event T) (R, error)
	Shutdown(ctx context.Context) error
}

// Func adapts a plain function to Handler with no-op lifecycle hooks.
type Func[T, R any] func(ctx context.Context, event T) (R, error)

var _ Handler[any, any] = Func[any, any](nil)

func (f Func[T, R]) ColdStart(context.Context) error   { return nil }
func (f Func[T, R]) Validate(context.Context, T) error { return nil }
func (f Func[T, R]) Shutdown(context.Context) error    { return nil }

func (f Func[T, R]) Handler(ctx context.Context, event T) (R, error) {
	return f(ctx, event)
}
