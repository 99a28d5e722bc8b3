package cassette

import (
	"bytes"
	"compress/flate"
	"compress/gzip"
	"compress/zlib"
	"errors"
	"testing"
)

func gzipBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write([]byte(s)); err != nil {
		t.Fatalf("gzip write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("gzip close: %v", err)
	}
	return buf.Bytes()
}

func zlibBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write([]byte(s))
	w.Close()
	return buf.Bytes()
}

func rawDeflateBytes(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	w, err := flate.NewWriter(&buf, flate.DefaultCompression)
	if err != nil {
		t.Fatalf("flate writer: %v", err)
	}
	w.Write([]byte(s))
	w.Close()
	return buf.Bytes()
}

// latin1 renders raw bytes as a string of runes U+0000..U+00FF.
func latin1(b []byte) string {
	r := make([]rune, len(b))
	for i, c := range b {
		r[i] = rune(c)
	}
	return string(r)
}

func TestDecompress_GzipRoundTrip(t *testing.T) {
	inputs := []string{
		"Hello, World!",
		"",
		"multi\nline\n\ntext with unicode: héllo 世界 🚀",
		string(bytes.Repeat([]byte("event: content_block_delta\n"), 2000)),
	}

	for _, in := range inputs {
		got, err := Decompress(BytesBody(gzipBytes(t, in)), "gzip")
		if err != nil {
			t.Fatalf("Decompress() error = %v", err)
		}
		if got != in {
			t.Errorf("Decompress() = %q, want %q", got, in)
		}
	}
}

func TestDecompress_Encodings(t *testing.T) {
	const text = `{"content": [{"type": "text", "text": "Hello"}]}`

	tests := []struct {
		name     string
		body     Body
		encoding string
	}{
		{name: "no encoding passthrough", body: TextBody(text), encoding: ""},
		{name: "identity", body: TextBody(text), encoding: "identity"},
		{name: "binary passthrough", body: BytesBody([]byte(text)), encoding: ""},
		{name: "gzip bytes", body: BytesBody(gzipBytes(t, text)), encoding: "gzip"},
		{name: "gzip upper case", body: BytesBody(gzipBytes(t, text)), encoding: " GZIP "},
		{name: "gzip byte string", body: TextBody(latin1(gzipBytes(t, text))), encoding: "gzip"},
		{name: "deflate zlib", body: BytesBody(zlibBytes(t, text)), encoding: "deflate"},
		{name: "deflate raw", body: BytesBody(rawDeflateBytes(t, text)), encoding: "deflate"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decompress(tt.body, tt.encoding)
			if err != nil {
				t.Fatalf("Decompress() error = %v", err)
			}
			if got != text {
				t.Errorf("Decompress() = %q, want %q", got, text)
			}
		})
	}
}

func TestDecompress_Errors(t *testing.T) {
	t.Run("unsupported encoding", func(t *testing.T) {
		_, err := Decompress(TextBody("x"), "br")
		var unsupported *UnsupportedEncodingError
		if !errors.As(err, &unsupported) {
			t.Fatalf("error = %v, want UnsupportedEncodingError", err)
		}
		if unsupported.Encoding != "br" {
			t.Errorf("Encoding = %q, want br", unsupported.Encoding)
		}
	})

	t.Run("corrupt gzip", func(t *testing.T) {
		_, err := Decompress(BytesBody([]byte("definitely not gzip")), "gzip")
		var decomp *DecompressError
		if !errors.As(err, &decomp) {
			t.Fatalf("error = %v, want DecompressError", err)
		}
	})

	t.Run("truncated gzip", func(t *testing.T) {
		full := gzipBytes(t, "some text that will be cut off before the trailer")
		_, err := Decompress(BytesBody(full[:len(full)-6]), "gzip")
		if err == nil {
			t.Fatal("expected error for truncated stream")
		}
		if !IsFatal(err) {
			t.Errorf("IsFatal(%v) = false, want true", err)
		}
	})
}

func TestDecompress_InvalidUTF8Replaced(t *testing.T) {
	got, err := Decompress(BytesBody(gzipBytes(t, "ok\xffok")), "gzip")
	if err != nil {
		t.Fatalf("Decompress() error = %v", err)
	}
	if got != "ok\uFFFDok" {
		t.Errorf("Decompress() = %q, want replacement character", got)
	}
}
