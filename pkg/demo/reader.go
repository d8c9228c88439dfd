package demo

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/vango-dev/netsync/pkg/compress"
)

// ErrCorrupt is returned for blocks with impossible lengths or compressed
// data that does not inflate to its recorded size.
var ErrCorrupt = errors.New("demo: corrupt block")

// MaxBlockSize bounds any single message in a demo.
const MaxBlockSize = compress.MaxDecompressSize

// Reader reads messages back from a demo stream.
type Reader struct {
	r      *bufio.Reader
	closer io.Closer
	codec  *compress.Codec
	done   bool
	ended  bool // end marker seen
	zblock bool // last block was compressed
}

// NewReader reads a demo from r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		r:     bufio.NewReader(r),
		codec: compress.New(compress.DefaultOptions()),
	}
}

// Open reads the demo file at path. Files ending in ArchiveExtension are
// decompressed as they are read.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("demo: %w", err)
	}
	if !strings.HasSuffix(path, ArchiveExtension) {
		rd := NewReader(f)
		rd.closer = f
		return rd, nil
	}

	zr, err := compress.NewArchiveReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("demo: %w", err)
	}
	rd := NewReader(zr)
	rd.closer = closers{zr, f}
	return rd, nil
}

type closers []io.Closer

func (cs closers) Close() error {
	var errs []error
	for _, c := range cs {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Next returns the next message. It returns io.EOF at the end marker or at
// a clean end of the stream, and ErrCorrupt or io.ErrUnexpectedEOF for
// damaged input.
func (d *Reader) Next() ([]byte, error) {
	if d.done {
		return nil, io.EOF
	}

	d.zblock = false
	n, err := d.readInt32()
	if err != nil {
		if errors.Is(err, io.EOF) {
			d.done = true
		}
		return nil, err
	}

	switch {
	case n == endMarker:
		d.done = true
		d.ended = true
		return nil, io.EOF

	case n > 0:
		if n > MaxBlockSize {
			return nil, fmt.Errorf("%w: length %d", ErrCorrupt, n)
		}
		msg := make([]byte, n)
		if _, err := io.ReadFull(d.r, msg); err != nil {
			return nil, unexpected(err)
		}
		return msg, nil

	case n < 0:
		zlen := -int64(n)
		orig, err := d.readInt32()
		if err != nil {
			return nil, unexpected(err)
		}
		if zlen > MaxBlockSize || orig <= 0 || orig > MaxBlockSize {
			return nil, fmt.Errorf("%w: compressed %d original %d", ErrCorrupt, zlen, orig)
		}
		z := make([]byte, zlen)
		if _, err := io.ReadFull(d.r, z); err != nil {
			return nil, unexpected(err)
		}
		msg, err := d.codec.DecompressKnownSize(z, int(orig))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
		}
		d.zblock = true
		return msg, nil

	default:
		return nil, fmt.Errorf("%w: zero length", ErrCorrupt)
	}
}

func (d *Reader) readInt32() (int32, error) {
	var b [4]byte
	if _, err := io.ReadFull(d.r, b[:]); err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(b[:])), nil
}

// unexpected turns a clean EOF inside a block into io.ErrUnexpectedEOF.
func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Close closes the file opened by Open.
func (d *Reader) Close() error {
	if d.closer == nil {
		return nil
	}
	return d.closer.Close()
}

// Summary describes a whole demo.
type Summary struct {
	Messages   int
	Bytes      int64 // Total message bytes after decompression
	Largest    int
	Compressed bool // At least one block was compressed on disk
	Ended      bool // The end marker was present
}

// Scan reads every message in r and summarizes them.
func Scan(r io.Reader) (Summary, error) {
	var s Summary
	d := NewReader(r)
	for {
		msg, err := d.Next()
		if errors.Is(err, io.EOF) {
			s.Ended = d.ended
			return s, nil
		}
		if err != nil {
			return s, err
		}
		s.Messages++
		s.Bytes += int64(len(msg))
		s.Largest = max(s.Largest, len(msg))
		if d.zblock {
			s.Compressed = true
		}
	}
}
