package region

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zlib"
	"github.com/pkg/errors"
)

// Compression is the one byte scheme tag in front of every record payload.
type Compression byte

const (
	// CompressionGzip is the legacy framed stream.
	CompressionGzip Compression = 1
	// CompressionZlib is what the engine writes.
	CompressionZlib Compression = 2
	// CompressionNone stores the payload as is.
	CompressionNone Compression = 3
)

// maxRecordSize bounds decompressed output so a crafted stream cannot
// exhaust memory.
const maxRecordSize = 64 << 20

func (c Compression) String() string {
	switch c {
	case CompressionGzip:
		return "gzip"
	case CompressionZlib:
		return "zlib"
	case CompressionNone:
		return "none"
	default:
		return fmt.Sprintf("unknown(%d)", byte(c))
	}
}

// Known reports whether c names a supported scheme.
func (c Compression) Known() bool {
	return c == CompressionGzip || c == CompressionZlib || c == CompressionNone
}

// NewDecompressor wraps r in the stream reader for c.
func NewDecompressor(c Compression, r io.Reader) (io.ReadCloser, error) {
	switch c {
	case CompressionGzip:
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		return zr, nil
	case CompressionZlib:
		return zlib.NewReader(r)
	case CompressionNone:
		return io.NopCloser(r), nil
	default:
		return nil, errors.Errorf("unknown compression %d", byte(c))
	}
}

// Decompress inflates a whole payload.
func Decompress(c Compression, payload []byte) ([]byte, error) {
	rc, err := NewDecompressor(c, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	out, err := io.ReadAll(io.LimitReader(rc, maxRecordSize+1))
	if err != nil {
		return nil, err
	}
	if len(out) > maxRecordSize {
		return nil, errors.Errorf("decompressed record exceeds %d bytes", maxRecordSize)
	}
	return out, nil
}

// Compress deflates plain with scheme c at the default level.
func Compress(c Compression, plain []byte) ([]byte, error) {
	var buf bytes.Buffer
	var w io.WriteCloser
	switch c {
	case CompressionGzip:
		w = gzip.NewWriter(&buf)
	case CompressionZlib:
		w = zlib.NewWriter(&buf)
	case CompressionNone:
		return append([]byte(nil), plain...), nil
	default:
		return nil, errors.Errorf("unknown compression %d", byte(c))
	}
	if _, err := w.Write(plain); err != nil {
		w.Close()
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
