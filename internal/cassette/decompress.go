package cassette

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"io"
	"strings"
)

// Content encodings understood by Decompress.
const (
	EncodingGzip     = "gzip"
	EncodingDeflate  = "deflate"
	EncodingIdentity = "identity"
)

// Decompress decodes a response body into text.
//
// With no encoding the body is taken to be decoded already and is returned
// as-is. Otherwise the whole decompression stream is drained into memory
// before the result is converted to UTF-8; there is no partial decode.
func Decompress(body Body, encoding string) (string, error) {
	encoding = strings.ToLower(strings.TrimSpace(encoding))
	switch encoding {
	case "", EncodingIdentity:
		return body.String(), nil
	case EncodingGzip, "x-gzip", EncodingDeflate:
	default:
		return "", &UnsupportedEncodingError{Encoding: encoding}
	}

	r, err := newDecompressor(encoding, body.Bytes())
	if err != nil {
		return "", &DecompressError{Encoding: encoding, Err: err}
	}
	defer r.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return "", &DecompressError{Encoding: encoding, Err: err}
	}
	return strings.ToValidUTF8(buf.String(), "\uFFFD"), nil
}

// newDecompressor opens a reader for payload. "deflate" bodies are normally
// zlib-wrapped; a bare DEFLATE stream is accepted when the zlib header is absent.
func newDecompressor(encoding string, payload []byte) (io.ReadCloser, error) {
	if encoding != EncodingDeflate {
		gr, err := gzip.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		return gr, nil
	}
	zr, err := zlib.NewReader(bytes.NewReader(payload))
	if err == nil {
		return zr, nil
	}
	if err != zlib.ErrHeader {
		return nil, err
	}
	return flate.NewReader(bytes.NewReader(payload)), nil
}
