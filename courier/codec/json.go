package codec

import (
	"bytes"

	"github.com/goccy/go-json"

	"github.com/kroma-labs/courier-go/courier"
)

// JSON decodes the body into T.
//
// Example:
//
//	env := courier.Execute(ctx, engine, courier.Get(url), codec.JSON[User]())
func JSON[T any]() courier.Pipeline[[]byte, T] {
	return courier.Pipeline[[]byte, T]{
		Stream: readBytes,
		Result: func(data []byte) (T, error) {
			var v T
			if err := json.Unmarshal(data, &v); err != nil {
				reqErr := courier.NewCustom("", "response cannot be parsed")
				reqErr.Err = err
				return v, reqErr
			}
			return v, nil
		},
	}
}

// Document decodes a JSON object or array into generic values: a
// map[string]any or a []any.
func Document() courier.Pipeline[[]byte, any] {
	return courier.Pipeline[[]byte, any]{
		Stream: readBytes,
		Result: func(data []byte) (any, error) {
			trimmed := bytes.TrimSpace(data)
			if len(trimmed) == 0 || (trimmed[0] != '{' && trimmed[0] != '[') {
				return nil, courier.NewCustom("", "response cannot be parsed")
			}

			var v any
			if err := json.Unmarshal(trimmed, &v); err != nil {
				reqErr := courier.NewCustom("", "response cannot be parsed")
				reqErr.Err = err
				return nil, reqErr
			}
			return v, nil
		},
	}
}
