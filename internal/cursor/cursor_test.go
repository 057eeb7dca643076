package cursor

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
)

func TestCursorSequentialRead(t *testing.T) {
	t.Parallel()
	data := []byte{0x00, 0x00, 0x01, 0x67, 0x42, 0xE0, 0x1E}
	c, err := New("mem", bytes.NewReader(data))
	if err != nil {
		t.Fatal(err)
	}
	if c.Size() != int64(len(data)) {
		t.Fatalf("Size = %d, want %d", c.Size(), len(data))
	}

	b, err := c.ReadByte()
	if err != nil || b != 0x00 {
		t.Fatalf("ReadByte = %x, %v", b, err)
	}
	if c.Pos() != 1 {
		t.Errorf("Pos = %d, want 1", c.Pos())
	}

	peek, err := c.Peek(3)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(peek, []byte{0x00, 0x01, 0x67}) {
		t.Errorf("Peek = %x", peek)
	}
	if c.Pos() != 1 {
		t.Errorf("Peek advanced Pos to %d", c.Pos())
	}

	if _, err := c.Discard(2); err != nil {
		t.Fatal(err)
	}
	rest, err := c.ReadFull(4)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(rest, data[3:]) {
		t.Errorf("ReadFull = %x, want %x", rest, data[3:])
	}
	if c.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", c.Remaining())
	}
	if _, err := c.ReadByte(); !errors.Is(err, io.EOF) {
		t.Errorf("ReadByte at end: err = %v, want EOF", err)
	}
}

func TestCursorShortReadFull(t *testing.T) {
	t.Parallel()
	c, err := New("mem", bytes.NewReader([]byte{1, 2, 3}))
	if err != nil {
		t.Fatal(err)
	}
	got, err := c.ReadFull(5)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("err = %v, want ErrUnexpectedEOF", err)
	}
	if len(got) != 3 {
		t.Errorf("len = %d, want 3", len(got))
	}
	if c.Pos() != 3 {
		t.Errorf("Pos = %d, want 3", c.Pos())
	}
}

func TestCursorSeek(t *testing.T) {
	t.Parallel()
	c, err := New("mem", bytes.NewReader([]byte("abcdefgh")))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ReadFull(6); err != nil {
		t.Fatal(err)
	}
	if err := c.Seek(2); err != nil {
		t.Fatal(err)
	}
	b, _ := c.ReadByte()
	if b != 'c' {
		t.Errorf("after Seek(2) read %q, want 'c'", b)
	}
	if err := c.Seek(9); err == nil {
		t.Error("Seek past end should fail")
	}
}

func TestCursorNegativeCounts(t *testing.T) {
	t.Parallel()
	c, _ := New("mem", bytes.NewReader([]byte{1}))
	if _, err := c.ReadFull(-1); !errors.Is(err, ErrNegativeCount) {
		t.Errorf("ReadFull(-1) err = %v", err)
	}
	if _, err := c.Discard(-1); !errors.Is(err, ErrNegativeCount) {
		t.Errorf("Discard(-1) err = %v", err)
	}
}

func TestOpen(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "in.bin")
	if err := os.WriteFile(path, []byte{0x47, 0x40, 0x00}, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	if c.Size() != 3 || c.Name() != path {
		t.Errorf("Size/Name = %d/%q", c.Size(), c.Name())
	}

	if _, err := Open(filepath.Join(dir, "missing.bin")); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open missing: err = %v, want ErrNotExist", err)
	}
	if _, err := Open(dir); err == nil {
		t.Error("Open on a directory should fail")
	}
}
