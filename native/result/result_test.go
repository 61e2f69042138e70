package result

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

func half(n int) Result[int, error] {
	if n%2 != 0 {
		return Err[int](errBoom)
	}
	return Ok[int, error](n / 2)
}

func describe(n int) Result[string, error] {
	return Ok[string, error](strconv.Itoa(n))
}

func sameResult[T comparable](a, b Result[T, error]) bool {
	av, ae, aok := a.Unwrap()
	bv, be, bok := b.Unwrap()
	return aok == bok && av == bv && errors.Is(ae, be)
}

func TestFlatMapMonadLaws(t *testing.T) {
	for _, n := range []int{0, 3, 8} {
		// left identity
		if !sameResult(FlatMap(Ok[int, error](n), half), half(n)) {
			t.Fatalf("left identity failed for %d", n)
		}
		// right identity
		m := half(n)
		if !sameResult(FlatMap(m, func(v int) Result[int, error] { return Ok[int, error](v) }), m) {
			t.Fatalf("right identity failed for %d", n)
		}
		// associativity
		left := FlatMap(FlatMap(Ok[int, error](n), half), describe)
		right := FlatMap(Ok[int, error](n), func(v int) Result[string, error] {
			return FlatMap(half(v), describe)
		})
		if !sameResult(left, right) {
			t.Fatalf("associativity failed for %d", n)
		}
	}
}

func TestMapAndMapErr(t *testing.T) {
	doubled := Map(Ok[int, error](21), func(v int) int { return v * 2 })
	if doubled.Value() != 42 {
		t.Fatalf("expected 42, got %d", doubled.Value())
	}
	untouched := Map(Err[int](errBoom), func(v int) int {
		t.Fatalf("map must not run on Err")
		return v
	})
	if !errors.Is(untouched.ErrValue(), errBoom) {
		t.Fatalf("expected boom, got %v", untouched.ErrValue())
	}
	wrapped := MapErr(Err[int](errBoom), func(err error) string { return err.Error() })
	if wrapped.ErrValue() != "boom" {
		t.Fatalf("unexpected mapped error %q", wrapped.ErrValue())
	}
}

func TestFoldGetOrElseAndTaps(t *testing.T) {
	var tapped, tappedErr int
	ok := Ok[int, error](7).Tap(func(int) { tapped++ }).TapErr(func(error) { tappedErr++ })
	bad := Err[int](errBoom).Tap(func(int) { tapped++ }).TapErr(func(error) { tappedErr++ })
	if tapped != 1 || tappedErr != 1 {
		t.Fatalf("unexpected tap counts %d/%d", tapped, tappedErr)
	}
	if ok.GetOrElse(0) != 7 || bad.GetOrElse(-1) != -1 {
		t.Fatalf("GetOrElse mismatch")
	}
	label := Fold(bad, func(int) string { return "ok" }, func(error) string { return "err" })
	if label != "err" {
		t.Fatalf("unexpected fold %q", label)
	}
	if len(ok.ToSlice()) != 1 || len(bad.ToSlice()) != 0 {
		t.Fatalf("ToSlice mismatch")
	}
	if _, err := ToError(bad); !errors.Is(err, errBoom) {
		t.Fatalf("ToError lost the error: %v", err)
	}
}

func TestTryCatchRecoversPanics(t *testing.T) {
	res := TryCatch(func() (int, error) { panic("kaboom") })
	var pe *PanicError
	if !errors.As(res.ErrValue(), &pe) || pe.Value != "kaboom" {
		t.Fatalf("expected recovered panic, got %v", res.ErrValue())
	}
	if v := TryCatch(func() (int, error) { return 5, nil }); v.Value() != 5 {
		t.Fatalf("expected 5, got %d", v.Value())
	}
}

func TestTryCatchAsync(t *testing.T) {
	res := <-TryCatchAsync(context.Background(), func(context.Context) (string, error) { return "done", nil })
	if res.Value() != "done" {
		t.Fatalf("unexpected async value %q", res.Value())
	}

	ctx, cancel := context.WithCancel(context.Background())
	release := make(chan struct{})
	defer close(release)
	ch := TryCatchAsync(ctx, func(context.Context) (int, error) {
		<-release
		return 1, nil
	})
	cancel()
	select {
	case r := <-ch:
		if !errors.Is(r.ErrValue(), context.Canceled) {
			t.Fatalf("expected cancellation, got %v", r.ErrValue())
		}
	case <-time.After(time.Second):
		t.Fatalf("async result not delivered after cancel")
	}
}

func TestSequenceShortCircuits(t *testing.T) {
	all := Sequence([]Result[int, error]{Ok[int, error](1), Ok[int, error](2)})
	if got := all.Value(); len(got) != 2 || got[1] != 2 {
		t.Fatalf("unexpected sequence %v", got)
	}
	failed := Sequence([]Result[int, error]{Ok[int, error](1), Err[int](errBoom), Err[int](errors.New("later"))})
	if failed.IsOk() || len(failed.Value()) != 0 {
		t.Fatalf("sequence must not return partial values")
	}
	if idx := failed.ErrValue(); idx.Index != 1 || !errors.Is(idx.Err, errBoom) {
		t.Fatalf("unexpected indexed error %+v", idx)
	}
}

func TestTraverseStopsCallingAfterFailure(t *testing.T) {
	calls := 0
	res := Traverse([]int{2, 3, 4}, func(_ int, n int) Result[int, error] {
		calls++
		return half(n)
	})
	if res.IsOk() || calls != 2 || res.ErrValue().Index != 1 {
		t.Fatalf("unexpected traverse outcome calls=%d res=%+v", calls, res.ErrValue())
	}
}

func TestPartitionKeepsEverything(t *testing.T) {
	errs, values := Partition([]Result[int, error]{half(1), half(2), half(3), half(4)})
	if len(errs) != 2 || len(values) != 2 || values[0] != 1 || values[1] != 2 {
		t.Fatalf("unexpected partition errs=%v values=%v", errs, values)
	}
}

func TestAllCombinesTuples(t *testing.T) {
	pair := All2(Ok[int, error](1), Ok[string, error]("a"))
	if pair.Value().First != 1 || pair.Value().Second != "a" {
		t.Fatalf("unexpected pair %+v", pair.Value())
	}
	triple := All3(Ok[int, error](1), Err[string](errBoom), Ok[bool, error](true))
	if !errors.Is(triple.ErrValue(), errBoom) {
		t.Fatalf("expected boom from All3")
	}
}

func TestOption(t *testing.T) {
	if v := OptionMap(Some(2), func(n int) int { return n + 1 }).GetOrElse(0); v != 3 {
		t.Fatalf("expected 3, got %d", v)
	}
	if None[int]().IsSome() {
		t.Fatalf("None must be empty")
	}
	if r := OkOr(None[int](), errBoom); !errors.Is(r.ErrValue(), errBoom) {
		t.Fatalf("OkOr must surface the error")
	}
}
