package codec

import (
	"bytes"
	"encoding/xml"

	"golang.org/x/net/html/charset"

	"github.com/kroma-labs/courier-go/courier"
)

// XML decodes the body into T. Documents declaring a non UTF-8 encoding are
// transcoded first.
func XML[T any]() courier.Pipeline[[]byte, T] {
	return courier.Pipeline[[]byte, T]{
		Stream: readBytes,
		Result: func(data []byte) (T, error) {
			var v T
			dec := xml.NewDecoder(bytes.NewReader(data))
			dec.CharsetReader = charset.NewReaderLabel
			if err := dec.Decode(&v); err != nil {
				reqErr := courier.NewCustom("", "response cannot be parsed")
				reqErr.Err = err
				return v, reqErr
			}
			return v, nil
		},
	}
}
