// Package result provides the error-as-value primitives shared by the native
// state machines. A Result is either Ok carrying a value or Err carrying an
// error value; the zero Result is an Err holding the zero E.
package result

import (
	"context"
	"fmt"
)

// Result is a closed two-variant sum type. The fields are unexported so the
// only way to inspect a Result is through Match, Fold or Unwrap.
type Result[T, E any] struct {
	value T
	err   E
	ok    bool
}

// Ok wraps a successful value.
func Ok[T, E any](value T) Result[T, E] {
	return Result[T, E]{value: value, ok: true}
}

// Err wraps a failure.
func Err[T, E any](err E) Result[T, E] {
	return Result[T, E]{err: err}
}

// IsOk reports whether the result holds a value.
func (r Result[T, E]) IsOk() bool { return r.ok }

// IsErr reports whether the result holds an error.
func (r Result[T, E]) IsErr() bool { return !r.ok }

// Unwrap returns the value, the error and whether the result is Ok. Exactly
// one of value or error is meaningful.
func (r Result[T, E]) Unwrap() (T, E, bool) {
	return r.value, r.err, r.ok
}

// Value returns the Ok value or the zero T.
func (r Result[T, E]) Value() T { return r.value }

// ErrValue returns the Err value or the zero E.
func (r Result[T, E]) ErrValue() E { return r.err }

// GetOrElse returns the Ok value or the supplied fallback.
func (r Result[T, E]) GetOrElse(fallback T) T {
	if r.ok {
		return r.value
	}
	return fallback
}

// Tap invokes fn with the Ok value and returns the result unchanged.
func (r Result[T, E]) Tap(fn func(T)) Result[T, E] {
	if r.ok && fn != nil {
		fn(r.value)
	}
	return r
}

// TapErr invokes fn with the Err value and returns the result unchanged.
func (r Result[T, E]) TapErr(fn func(E)) Result[T, E] {
	if !r.ok && fn != nil {
		fn(r.err)
	}
	return r
}

// ToSlice returns a one element slice for Ok and an empty slice for Err.
func (r Result[T, E]) ToSlice() []T {
	if r.ok {
		return []T{r.value}
	}
	return []T{}
}

// Match dispatches on the variant. Both branches are required.
func (r Result[T, E]) Match(onOk func(T), onErr func(E)) {
	if r.ok {
		onOk(r.value)
		return
	}
	onErr(r.err)
}

// Map transforms the Ok value.
func Map[T, U, E any](r Result[T, E], fn func(T) U) Result[U, E] {
	if !r.ok {
		return Err[U](r.err)
	}
	return Ok[U, E](fn(r.value))
}

// FlatMap chains a computation that itself may fail.
func FlatMap[T, U, E any](r Result[T, E], fn func(T) Result[U, E]) Result[U, E] {
	if !r.ok {
		return Err[U](r.err)
	}
	return fn(r.value)
}

// MapErr transforms the Err value.
func MapErr[T, E, F any](r Result[T, E], fn func(E) F) Result[T, F] {
	if r.ok {
		return Ok[T, F](r.value)
	}
	return Err[T](fn(r.err))
}

// Fold collapses both variants into a single value.
func Fold[T, E, U any](r Result[T, E], onOk func(T) U, onErr func(E) U) U {
	if r.ok {
		return onOk(r.value)
	}
	return onErr(r.err)
}

// ToError converts a Result into Go's conventional (value, error) pair.
func ToError[T any](r Result[T, error]) (T, error) {
	if r.ok {
		return r.value, nil
	}
	var zero T
	if r.err == nil {
		return zero, fmt.Errorf("result: err variant without error")
	}
	return zero, r.err
}

// From builds a Result from a (value, error) pair.
func From[T any](value T, err error) Result[T, error] {
	if err != nil {
		return Err[T](err)
	}
	return Ok[T, error](value)
}

// PanicError reports a panic recovered by TryCatch.
type PanicError struct {
	Value any
}

func (p *PanicError) Error() string {
	return fmt.Sprintf("recovered panic: %v", p.Value)
}

// TryCatch runs fn and converts both returned errors and panics into a Result.
func TryCatch[T any](fn func() (T, error)) (res Result[T, error]) {
	defer func() {
		if rec := recover(); rec != nil {
			res = Err[T, error](&PanicError{Value: rec})
		}
	}()
	value, err := fn()
	return From(value, err)
}

// TryCatchAsync runs fn on its own goroutine. The returned channel receives
// exactly one Result and is then closed. A cancelled context yields ctx.Err()
// without waiting for fn.
func TryCatchAsync[T any](ctx context.Context, fn func(context.Context) (T, error)) <-chan Result[T, error] {
	out := make(chan Result[T, error], 1)
	done := make(chan Result[T, error], 1)
	go func() {
		done <- TryCatch(func() (T, error) { return fn(ctx) })
	}()
	go func() {
		defer close(out)
		select {
		case res := <-done:
			out <- res
		case <-ctx.Done():
			out <- Err[T, error](ctx.Err())
		}
	}()
	return out
}
