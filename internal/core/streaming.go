package core

// streaming.go provides the reader chain every source file passes through
// before CSV decoding:
//
//   - a leading UTF-8 byte-order mark is removed
//   - invalid UTF-8 sequences become U+FFFD
//   - bytes are counted so the session can record the source size
//
// Memory stays O(buffer) regardless of file size.

import (
	"io"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// CountingReader wraps an io.Reader to track bytes read.
type CountingReader struct {
	reader    io.Reader
	BytesRead int64
}

// NewCountingReader creates a counting reader.
func NewCountingReader(r io.Reader) *CountingReader {
	return &CountingReader{reader: r}
}

// Read implements io.Reader.
func (r *CountingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.BytesRead += int64(n)
	return n, err
}

// WrapSource counts raw bytes and decodes them as UTF-8 with BOM removal.
//
// The counter sits below the decoder so BytesRead reflects the file as
// uploaded, BOM included.
func WrapSource(r io.Reader) (io.Reader, *CountingReader) {
	counter := NewCountingReader(r)
	decoder := unicode.BOMOverride(unicode.UTF8.NewDecoder())
	return transform.NewReader(counter, decoder), counter
}
