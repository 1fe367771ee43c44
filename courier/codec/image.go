package codec

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"mime"

	"github.com/kroma-labs/courier-go/courier"
)

// imageDecoders maps the accepted media types to their decoders.
var imageDecoders = map[string]func(io.Reader) (image.Image, error){
	"image/png":  png.Decode,
	"image/jpeg": jpeg.Decode,
	"image/jpg":  jpeg.Decode,
}

// EncodedImage is the undecoded body produced by the stream stage of Image.
type EncodedImage struct {
	decode func(io.Reader) (image.Image, error)
	data   []byte
}

// Image decodes PNG and JPEG bodies. Any other content type fails with a
// KindCustom error before the body is read.
func Image() courier.Pipeline[EncodedImage, image.Image] {
	return courier.Pipeline[EncodedImage, image.Image]{
		Stream: func(contentType string, r io.Reader) (EncodedImage, error) {
			mediaType, _, err := mime.ParseMediaType(contentType)
			if err != nil {
				mediaType = contentType
			}
			decode, ok := imageDecoders[mediaType]
			if !ok {
				return EncodedImage{}, courier.NewCustomf("", "unsupported image type %q", contentType)
			}

			data, err := io.ReadAll(r)
			if err != nil {
				return EncodedImage{}, err
			}
			return EncodedImage{decode: decode, data: data}, nil
		},
		Result: func(enc EncodedImage) (image.Image, error) {
			img, err := enc.decode(bytes.NewReader(enc.data))
			if err != nil {
				reqErr := courier.NewCustom("", "image cannot be decoded")
				reqErr.Err = err
				return nil, reqErr
			}
			return img, nil
		},
	}
}
