// Package compress implements raw-deflate packet compression with a savings
// threshold and a decompression size cap, plus zstd streams for archiving
// recorded demos.
package compress

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/flate"
)

const (
	// MinCompressSize is the smallest payload worth compressing.
	MinCompressSize = 100

	// ThresholdPercent is the minimum saving, in percent of the input size,
	// for a compressed payload to be used.
	ThresholdPercent = 20

	// MaxDecompressSize is the absolute ceiling for any inflated payload.
	MaxDecompressSize = 65536

	chunkSize = 4096
)

// Errors returned by DecompressKnownSize.
var (
	ErrSizeLimit    = errors.New("compress: size exceeds limit")
	ErrSizeMismatch = errors.New("compress: size mismatch")
)

// Options tune when compression is used.
type Options struct {
	// MinSize is the smallest input Compress will try. Default: MinCompressSize.
	MinSize int
	// ThresholdPercent is the required saving. Default: ThresholdPercent.
	ThresholdPercent int
	// MaxDecompress caps Decompress output. It is itself capped by
	// MaxDecompressSize. Default: MaxDecompressSize.
	MaxDecompress int
	// Level is the deflate level. Default: flate.DefaultCompression.
	Level int
}

// DefaultOptions returns the stock thresholds.
func DefaultOptions() Options {
	return Options{
		MinSize:          MinCompressSize,
		ThresholdPercent: ThresholdPercent,
		MaxDecompress:    MaxDecompressSize,
		Level:            flate.DefaultCompression,
	}
}

// Codec compresses and decompresses packets with fixed Options. It is safe
// for concurrent use.
type Codec struct {
	opts    Options
	writers sync.Pool
}

// New creates a Codec. Zero fields in opts take their defaults.
func New(opts Options) *Codec {
	def := DefaultOptions()
	if opts.MinSize <= 0 {
		opts.MinSize = def.MinSize
	}
	if opts.ThresholdPercent <= 0 || opts.ThresholdPercent >= 100 {
		opts.ThresholdPercent = def.ThresholdPercent
	}
	if opts.MaxDecompress <= 0 || opts.MaxDecompress > MaxDecompressSize {
		opts.MaxDecompress = MaxDecompressSize
	}
	if opts.Level == 0 {
		opts.Level = def.Level
	}
	c := &Codec{opts: opts}
	c.writers.New = func() any {
		w, err := flate.NewWriter(io.Discard, c.opts.Level)
		if err != nil {
			// Only reachable with an invalid level.
			w, _ = flate.NewWriter(io.Discard, flate.DefaultCompression)
		}
		return w
	}
	return c
}

// Options returns the effective options.
func (c *Codec) Options() Options {
	return c.opts
}

// Compress returns the deflated data, or nil when the input is under MinSize
// or the result does not save at least ThresholdPercent.
func (c *Codec) Compress(data []byte) []byte {
	if len(data) < c.opts.MinSize {
		return nil
	}
	out, err := c.deflate(data)
	if err != nil {
		return nil
	}
	threshold := len(data) * (100 - c.opts.ThresholdPercent) / 100
	if len(out) >= threshold {
		return nil
	}
	return out
}

// CompressAlways deflates data regardless of size or savings.
func (c *Codec) CompressAlways(data []byte) ([]byte, error) {
	return c.deflate(data)
}

func (c *Codec) deflate(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data) / 2)

	w := c.writers.Get().(*flate.Writer)
	defer c.writers.Put(w)
	w.Reset(&buf)

	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("compress: deflate: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("compress: deflate: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress inflates data, reading at most min(maxSize, MaxDecompress)
// bytes. It returns nil on a decoding error or as soon as the cap would be
// exceeded, without inflating the rest.
func (c *Codec) Decompress(data []byte, maxSize int) []byte {
	limit := min(maxSize, c.opts.MaxDecompress)
	if limit <= 0 {
		return nil
	}

	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	out := make([]byte, 0, min(limit, len(data)*4))
	var chunk [chunkSize]byte
	for {
		n, err := r.Read(chunk[:])
		if n > 0 {
			if len(out)+n > limit {
				return nil
			}
			out = append(out, chunk[:n]...)
		}
		if err == io.EOF {
			return out
		}
		if err != nil {
			return nil
		}
	}
}

// DecompressKnownSize inflates data that the protocol header declares to be
// exactly size bytes long.
func (c *Codec) DecompressKnownSize(data []byte, size int) ([]byte, error) {
	if size > MaxDecompressSize || size < 0 {
		return nil, fmt.Errorf("%w: %d > %d", ErrSizeLimit, size, MaxDecompressSize)
	}

	r := flate.NewReader(bytes.NewReader(data))
	defer r.Close()

	// Read one byte past size so an oversized stream is detected without
	// inflating all of it.
	out, err := io.ReadAll(io.LimitReader(r, int64(size)+1))
	if err != nil {
		return nil, fmt.Errorf("compress: inflate: %w", err)
	}
	if len(out) != size {
		return nil, fmt.Errorf("%w: expected %d, got %d", ErrSizeMismatch, size, len(out))
	}
	return out, nil
}

var std = New(DefaultOptions())

// Compress uses the default thresholds. See Codec.Compress.
func Compress(data []byte) []byte {
	return std.Compress(data)
}

// CompressAlways uses the default level. See Codec.CompressAlways.
func CompressAlways(data []byte) ([]byte, error) {
	return std.CompressAlways(data)
}

// Decompress uses the default cap. See Codec.Decompress.
func Decompress(data []byte, maxSize int) []byte {
	return std.Decompress(data, maxSize)
}

// DecompressKnownSize is Codec.DecompressKnownSize on the default codec.
func DecompressKnownSize(data []byte, size int) ([]byte, error) {
	return std.DecompressKnownSize(data, size)
}
