package courier

import (
	"errors"
	"io"
)

// Result is the typed outcome of the decode pipeline: either Empty, for a
// successful response without a body, or a Value.
type Result[T any] struct {
	value   T
	present bool
}

// Empty returns the empty result.
func Empty[T any]() Result[T] {
	return Result[T]{}
}

// Value wraps v as a present result.
func Value[T any](v T) Result[T] {
	return Result[T]{value: v, present: true}
}

// IsEmpty reports whether the result carries no value.
func (r Result[T]) IsEmpty() bool {
	return !r.present
}

// Get returns the value and whether it is present.
func (r Result[T]) Get() (T, bool) {
	return r.value, r.present
}

// OrElse returns the value, or fallback when the result is empty.
func (r Result[T]) OrElse(fallback T) T {
	if !r.present {
		return fallback
	}
	return r.value
}

// StreamDecoder is the first decode stage. It turns the (already
// decompressed) body into an intermediate representation and must either
// consume r fully or fail.
type StreamDecoder[I any] func(contentType string, r io.Reader) (I, error)

// ResultDecoder is the second decode stage. It turns the intermediate
// representation into the final result. Its failures are reported as
// KindCustom errors and are never retried.
type ResultDecoder[I, T any] func(intermediate I) (T, error)

// Pipeline pairs the two decode stages of a request.
type Pipeline[I, T any] struct {
	Stream StreamDecoder[I]
	Result ResultDecoder[I, T]
}

// Passthrough builds a pipeline whose typed stage returns the intermediate
// value unchanged.
func Passthrough[T any](stream StreamDecoder[T]) Pipeline[T, T] {
	return Pipeline[T, T]{
		Stream: stream,
		Result: func(v T) (T, error) { return v, nil },
	}
}

// Then composes the typed stage of p with a further conversion.
func Then[I, T, U any](p Pipeline[I, T], next func(T) (U, error)) Pipeline[I, U] {
	return Pipeline[I, U]{
		Stream: p.Stream,
		Result: func(v I) (U, error) {
			t, err := p.Result(v)
			if err != nil {
				var zero U
				return zero, err
			}
			return next(t)
		},
	}
}

var errIncompletePipeline = errors.New("pipeline requires both a stream and a result stage")

func (p Pipeline[I, T]) validate() error {
	if p.Stream == nil || p.Result == nil {
		return errIncompletePipeline
	}
	return nil
}
