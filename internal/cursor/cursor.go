// Package cursor provides a buffered, seekable byte reader over an input file
// whose read position can be observed from other goroutines.
package cursor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"sync/atomic"
)

const defaultBufferSize = 256 << 10

// ErrNegativeCount is returned when a read or skip is requested with n < 0.
var ErrNegativeCount = errors.New("cursor: negative count")

// Cursor reads a file front to back. All read methods must be called from a
// single goroutine; Pos, Size and Name are safe for concurrent use.
type Cursor struct {
	name   string
	src    io.ReadSeeker
	closer io.Closer
	br     *bufio.Reader
	size   int64
	pos    atomic.Int64
}

// Open opens the file at path for sequential reading.
func Open(path string) (*Cursor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if fi.IsDir() {
		f.Close()
		return nil, fmt.Errorf("cursor: %s is a directory", path)
	}
	c := &Cursor{
		name:   path,
		src:    f,
		closer: f,
		br:     bufio.NewReaderSize(f, defaultBufferSize),
		size:   fi.Size(),
	}
	return c, nil
}

// New wraps an in-memory or already opened source. The size is determined by
// seeking to the end; the cursor starts at offset 0.
func New(name string, rs io.ReadSeeker) (*Cursor, error) {
	size, err := rs.Seek(0, io.SeekEnd)
	if err != nil {
		return nil, fmt.Errorf("cursor: size %s: %w", name, err)
	}
	if _, err := rs.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("cursor: rewind %s: %w", name, err)
	}
	c := &Cursor{
		name: name,
		src:  rs,
		br:   bufio.NewReaderSize(rs, defaultBufferSize),
		size: size,
	}
	if cl, ok := rs.(io.Closer); ok {
		c.closer = cl
	}
	return c, nil
}

// Name returns the path or label the cursor was created with.
func (c *Cursor) Name() string { return c.name }

// Size returns the total input size in bytes.
func (c *Cursor) Size() int64 { return c.size }

// Pos returns the offset of the next byte to be read.
func (c *Cursor) Pos() int64 { return c.pos.Load() }

// Remaining returns the number of unread bytes.
func (c *Cursor) Remaining() int64 {
	if r := c.size - c.pos.Load(); r > 0 {
		return r
	}
	return 0
}

// Read implements io.Reader.
func (c *Cursor) Read(p []byte) (int, error) {
	n, err := c.br.Read(p)
	c.pos.Add(int64(n))
	return n, err
}

// ReadByte implements io.ByteReader.
func (c *Cursor) ReadByte() (byte, error) {
	b, err := c.br.ReadByte()
	if err == nil {
		c.pos.Add(1)
	}
	return b, err
}

// ReadFull reads exactly n bytes. A short read at the end of the input
// returns the available bytes together with io.ErrUnexpectedEOF.
func (c *Cursor) ReadFull(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeCount
	}
	buf := make([]byte, n)
	got, err := io.ReadFull(c, buf)
	return buf[:got], err
}

// Peek returns the next n bytes without advancing. The returned slice is only
// valid until the next read. Fewer than n bytes are returned at end of input.
func (c *Cursor) Peek(n int) ([]byte, error) {
	return c.br.Peek(n)
}

// Discard skips n bytes.
func (c *Cursor) Discard(n int) (int, error) {
	if n < 0 {
		return 0, ErrNegativeCount
	}
	d, err := c.br.Discard(n)
	c.pos.Add(int64(d))
	return d, err
}

// Seek moves the cursor to an absolute offset and drops buffered data.
func (c *Cursor) Seek(offset int64) error {
	if offset < 0 || offset > c.size {
		return fmt.Errorf("cursor: seek %d outside [0,%d]", offset, c.size)
	}
	if _, err := c.src.Seek(offset, io.SeekStart); err != nil {
		return err
	}
	c.br.Reset(c.src)
	c.pos.Store(offset)
	return nil
}

// Close releases the underlying file, if any.
func (c *Cursor) Close() error {
	if c.closer == nil {
		return nil
	}
	return c.closer.Close()
}
