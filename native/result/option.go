package result

// Option holds either a value (Some) or nothing (None).
type Option[T any] struct {
	value T
	some  bool
}

// Some wraps a present value.
func Some[T any](value T) Option[T] {
	return Option[T]{value: value, some: true}
}

// None returns the empty Option.
func None[T any]() Option[T] {
	return Option[T]{}
}

// IsSome reports whether a value is present.
func (o Option[T]) IsSome() bool { return o.some }

// IsNone reports whether the option is empty.
func (o Option[T]) IsNone() bool { return !o.some }

// Get returns the value and whether it is present.
func (o Option[T]) Get() (T, bool) { return o.value, o.some }

// GetOrElse returns the value or the fallback.
func (o Option[T]) GetOrElse(fallback T) T {
	if o.some {
		return o.value
	}
	return fallback
}

// OptionMap transforms a present value.
func OptionMap[T, U any](o Option[T], fn func(T) U) Option[U] {
	if !o.some {
		return None[U]()
	}
	return Some(fn(o.value))
}

// OkOr converts an Option into a Result, using err when the value is absent.
func OkOr[T, E any](o Option[T], err E) Result[T, E] {
	if o.some {
		return Ok[T, E](o.value)
	}
	return Err[T](err)
}
