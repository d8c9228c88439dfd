package compress

import (
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// maxArchiveWindow bounds decoder memory when reading untrusted archives.
const maxArchiveWindow = 64 << 20

// NewArchiveWriter returns a zstd stream writer. Close must be called to
// flush the final frame; it does not close w.
func NewArchiveWriter(w io.Writer) (io.WriteCloser, error) {
	enc, err := zstd.NewWriter(w,
		zstd.WithEncoderLevel(zstd.SpeedBetterCompression),
		zstd.WithEncoderConcurrency(1),
	)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd writer: %w", err)
	}
	return enc, nil
}

// NewArchiveReader returns a reader over a zstd stream.
func NewArchiveReader(r io.Reader) (io.ReadCloser, error) {
	dec, err := zstd.NewReader(r,
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxMemory(maxArchiveWindow),
	)
	if err != nil {
		return nil, fmt.Errorf("compress: zstd reader: %w", err)
	}
	return dec.IOReadCloser(), nil
}
