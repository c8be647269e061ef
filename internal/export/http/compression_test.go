package http

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCompressor_RoundTrip(t *testing.T) {
	original := []byte(strings.Repeat(`{"measurement":"daily","field":"Confirmed","value":10}`+"\n", 20))

	tests := []struct {
		algorithm string
		encoding  string
		shrinks   bool
	}{
		{algorithm: CompressionGzip, encoding: "gzip", shrinks: true},
		{algorithm: CompressionZlib, encoding: "deflate", shrinks: true},
		{algorithm: CompressionZstd, encoding: "zstd", shrinks: true},
		{algorithm: CompressionSnappy, encoding: "snappy", shrinks: true},
		{algorithm: CompressionNone, encoding: ""},
		{algorithm: "", encoding: ""},
	}

	for _, tt := range tests {
		t.Run("algo_"+tt.algorithm, func(t *testing.T) {
			c, err := NewCompressor(tt.algorithm)
			require.NoError(t, err)
			defer c.Close()

			compressed, err := c.Compress(original)
			require.NoError(t, err)
			assert.Equal(t, tt.encoding, c.ContentEncoding())

			if tt.shrinks {
				assert.Less(t, len(compressed), len(original))
			} else {
				assert.Equal(t, original, compressed)
			}

			decompressed, err := Decompress(c.ContentEncoding(), compressed)
			require.NoError(t, err)
			assert.Equal(t, original, decompressed)
		})
	}
}

func TestCompressor_Unsupported(t *testing.T) {
	_, err := NewCompressor("brotli")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported compression algorithm")

	_, err = Decompress("br", []byte("x"))
	require.Error(t, err)
}
