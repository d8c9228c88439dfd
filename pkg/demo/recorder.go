// Package demo records and replays the stream of server messages a client
// receives, and archives finished recordings.
//
// A demo file is a sequence of blocks, each a little-endian int32 length
// followed by one message:
//
//	len > 0          len bytes of message
//	len < -1         compressed block: int32 original length, then -len
//	                 bytes of raw deflate
//	len == -1        end of demo
//
// Compressed blocks are only written when compression saves space, so a
// compressed recording may mix both kinds.
package demo

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/vango-dev/netsync/pkg/compress"
)

const (
	// Extension is used for uncompressed recordings.
	Extension = ".dm2"

	// CompressedExtension is used for recordings made with Compress.
	CompressedExtension = ".dm2z"

	endMarker = -1
)

// ErrClosed is returned by Write after Close.
var ErrClosed = errors.New("demo: recorder closed")

// Options configures a Recorder.
type Options struct {
	// Compress writes blocks deflated when that saves space.
	Compress bool

	// Codec decides when compression pays off. Nil uses the package
	// defaults.
	Codec *compress.Codec
}

// Recorder appends messages to a demo stream. It is safe for concurrent
// use.
type Recorder struct {
	mu     sync.Mutex
	w      *bufio.Writer
	closer io.Closer
	opts   Options
	path   string

	messages   int
	compressed int
	written    int64
	closed     bool
}

// NewRecorder writes a demo to w. Close writes the end marker and flushes
// but does not close w.
func NewRecorder(w io.Writer, opts Options) *Recorder {
	if opts.Codec == nil {
		opts.Codec = compress.New(compress.DefaultOptions())
	}
	return &Recorder{w: bufio.NewWriter(w), opts: opts}
}

// Create starts a recording in dir named after the current time. The file
// extension follows opts.Compress.
func Create(dir string, opts Options) (*Recorder, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("demo: %w", err)
	}
	ext := Extension
	if opts.Compress {
		ext = CompressedExtension
	}
	path := filepath.Join(dir, Name(time.Now())+ext)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("demo: %w", err)
	}
	r := NewRecorder(f, opts)
	r.closer = f
	r.path = path
	return r, nil
}

// Name returns the default recording name for t, such as
// demo_20240101_120000.
func Name(t time.Time) string {
	return "demo_" + t.UTC().Format("20060102_150405")
}

// Path returns the file being written, or "" for a plain writer.
func (r *Recorder) Path() string {
	return r.path
}

// Write appends one message.
func (r *Recorder) Write(msg []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}
	if len(msg) == 0 {
		return nil
	}

	if r.opts.Compress {
		if z := r.opts.Codec.Compress(msg); z != nil {
			if err := r.writeInt32(-int32(len(z))); err != nil {
				return err
			}
			if err := r.writeInt32(int32(len(msg))); err != nil {
				return err
			}
			if _, err := r.w.Write(z); err != nil {
				return err
			}
			r.messages++
			r.compressed++
			r.written += int64(8 + len(z))
			return nil
		}
	}

	if err := r.writeInt32(int32(len(msg))); err != nil {
		return err
	}
	if _, err := r.w.Write(msg); err != nil {
		return err
	}
	r.messages++
	r.written += int64(4 + len(msg))
	return nil
}

func (r *Recorder) writeInt32(v int32) error {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(v))
	_, err := r.w.Write(b[:])
	return err
}

// Stats returns the number of messages written, how many of them were
// compressed, and the bytes written so far.
func (r *Recorder) Stats() (messages, compressed int, bytes int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.messages, r.compressed, r.written
}

// Close writes the end marker, flushes, and closes the file opened by
// Create.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil
	}
	r.closed = true

	err := r.writeInt32(endMarker)
	if ferr := r.w.Flush(); err == nil {
		err = ferr
	}
	if r.closer != nil {
		if cerr := r.closer.Close(); err == nil {
			err = cerr
		}
	}
	return err
}
