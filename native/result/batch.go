package result

import "fmt"

// IndexedError records the position of the first failing element in a batch.
type IndexedError[E any] struct {
	Index int
	Err   E
}

func (e IndexedError[E]) String() string {
	return fmt.Sprintf("item %d: %v", e.Index, e.Err)
}

// Sequence turns a slice of Results into a Result of a slice. It stops at the
// first Err; no partial slice is ever returned alongside the failure.
func Sequence[T, E any](results []Result[T, E]) Result[[]T, IndexedError[E]] {
	values := make([]T, 0, len(results))
	for i, r := range results {
		if !r.ok {
			return Err[[]T](IndexedError[E]{Index: i, Err: r.err})
		}
		values = append(values, r.value)
	}
	return Ok[[]T, IndexedError[E]](values)
}

// Traverse applies fn to each input in order and collects the values. fn is
// not invoked for inputs after the first failure.
func Traverse[A, T, E any](inputs []A, fn func(int, A) Result[T, E]) Result[[]T, IndexedError[E]] {
	values := make([]T, 0, len(inputs))
	for i, in := range inputs {
		r := fn(i, in)
		if !r.ok {
			return Err[[]T](IndexedError[E]{Index: i, Err: r.err})
		}
		values = append(values, r.value)
	}
	return Ok[[]T, IndexedError[E]](values)
}

// Partition splits results into errors and values without short-circuiting.
// Relative order inside each group is preserved.
func Partition[T, E any](results []Result[T, E]) (errs []E, values []T) {
	for _, r := range results {
		if r.ok {
			values = append(values, r.value)
			continue
		}
		errs = append(errs, r.err)
	}
	return errs, values
}

// Pair is the tuple produced by All2.
type Pair[A, B any] struct {
	First  A
	Second B
}

// Triple is the tuple produced by All3.
type Triple[A, B, C any] struct {
	First  A
	Second B
	Third  C
}

// All2 combines two independent Results, returning the first Err encountered.
func All2[A, B, E any](a Result[A, E], b Result[B, E]) Result[Pair[A, B], E] {
	if !a.ok {
		return Err[Pair[A, B]](a.err)
	}
	if !b.ok {
		return Err[Pair[A, B]](b.err)
	}
	return Ok[Pair[A, B], E](Pair[A, B]{First: a.value, Second: b.value})
}

// All3 combines three independent Results, returning the first Err encountered.
func All3[A, B, C, E any](a Result[A, E], b Result[B, E], c Result[C, E]) Result[Triple[A, B, C], E] {
	if !a.ok {
		return Err[Triple[A, B, C]](a.err)
	}
	if !b.ok {
		return Err[Triple[A, B, C]](b.err)
	}
	if !c.ok {
		return Err[Triple[A, B, C]](c.err)
	}
	return Ok[Triple[A, B, C], E](Triple[A, B, C]{First: a.value, Second: b.value, Third: c.value})
}
