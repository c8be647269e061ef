package http

import (
	"bytes"
	"compress/gzip"
	"compress/zlib"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

// Compression algorithms.
const (
	CompressionNone   = "none"
	CompressionGzip   = "gzip"
	CompressionZstd   = "zstd"
	CompressionZlib   = "zlib"
	CompressionSnappy = "snappy"
)

// codec pairs a Content-Encoding value with a stream writer factory.
// A nil writer means the body is sent as is.
type codec struct {
	encoding string
	writer   func(io.Writer) (io.WriteCloser, error)
}

var codecs = map[string]codec{
	CompressionNone: {},
	CompressionGzip: {
		encoding: "gzip",
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return gzip.NewWriter(w), nil
		},
	},
	CompressionZlib: {
		encoding: "deflate",
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return zlib.NewWriter(w), nil
		},
	},
	CompressionSnappy: {
		encoding: "snappy",
		writer: func(w io.Writer) (io.WriteCloser, error) {
			return snappy.NewBufferedWriter(w), nil
		},
	},
	CompressionZstd: {
		encoding: "zstd",
	},
}

// Compressor encodes request bodies.
type Compressor struct {
	algorithm string
	codec     codec
	zstd      *zstd.Encoder
}

// NewCompressor returns a Compressor for algorithm. An empty algorithm
// means no compression.
func NewCompressor(algorithm string) (*Compressor, error) {
	if algorithm == "" {
		algorithm = CompressionNone
	}

	cd, ok := codecs[algorithm]
	if !ok {
		return nil, fmt.Errorf("unsupported compression algorithm: %s", algorithm)
	}

	c := &Compressor{algorithm: algorithm, codec: cd}

	// zstd keeps one encoder for EncodeAll.
	if algorithm == CompressionZstd {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("creating zstd encoder: %w", err)
		}

		c.zstd = enc
	}

	return c, nil
}

// Compress returns data encoded with the configured algorithm.
func (c *Compressor) Compress(data []byte) ([]byte, error) {
	if c.zstd != nil {
		return c.zstd.EncodeAll(data, make([]byte, 0, len(data))), nil
	}

	if c.codec.writer == nil {
		return data, nil
	}

	var buf bytes.Buffer

	w, err := c.codec.writer(&buf)
	if err != nil {
		return nil, fmt.Errorf("creating %s writer: %w", c.algorithm, err)
	}

	if _, err := w.Write(data); err != nil {
		w.Close()

		return nil, fmt.Errorf("writing %s data: %w", c.algorithm, err)
	}

	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("closing %s writer: %w", c.algorithm, err)
	}

	return buf.Bytes(), nil
}

// ContentEncoding is the header value for compressed bodies, empty for none.
func (c *Compressor) ContentEncoding() string {
	return c.codec.encoding
}

// Close releases encoder resources.
func (c *Compressor) Close() error {
	if c.zstd != nil {
		return c.zstd.Close()
	}

	return nil
}

// Decompress reverses Compress for a Content-Encoding value. Used by
// tests and receivers.
func Decompress(encoding string, data []byte) ([]byte, error) {
	switch encoding {
	case "":
		return data, nil
	case "gzip":
		r, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	case "deflate":
		r, err := zlib.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, err
		}
		defer r.Close()

		return io.ReadAll(r)
	case "snappy":
		return io.ReadAll(snappy.NewReader(bytes.NewReader(data)))
	case "zstd":
		dec, err := zstd.NewReader(nil)
		if err != nil {
			return nil, err
		}
		defer dec.Close()

		return dec.DecodeAll(data, nil)
	default:
		return nil, fmt.Errorf("unsupported content encoding: %s", encoding)
	}
}
