// Package fn provides small generic helpers shared by the CLI and engines.
package fn

// Result[T] pairs a value with the error that produced it.
type Result[T any] struct {
	val T
	err error
	ok  bool
}

// Ok creates a successful Result.
func Ok[T any](v T) Result[T] {
	return Result[T]{val: v, ok: true}
}

// Err creates a failed Result from an error.
func Err[T any](err error) Result[T] {
	return Result[T]{err: err}
}

// FromPair creates a Result from a (value, error) pair.
func FromPair[T any](v T, err error) Result[T] {
	if err != nil {
		return Result[T]{val: v, err: err}
	}
	return Ok(v)
}

func (r Result[T]) IsOk() bool { return r.ok }

// Unwrap returns the value and error. A failed Result may still carry a
// partial value.
func (r Result[T]) Unwrap() (T, error) { return r.val, r.err }
