package internal

import (
	"bytes"
	"errors"
	"io"
	"unsafe"
)

var (
	errRingBufferFull = errors.New("ring: buffer full")
)

// Ring is a fixed size byte ring buffer. It never allocates after
// construction and is not safe for concurrent use.
type Ring struct {
	// Buf stores data written into Ring. Its capacity is unused.
	Buf []byte
	// Off is the index of the first readable byte in Buf.
	Off int
	// n is the amount of readable bytes starting at Off.
	n int
}

// Size returns the total capacity of the ring.
func (r *Ring) Size() int { return len(r.Buf) }

// Buffered returns the amount of bytes ready to be read.
func (r *Ring) Buffered() int { return r.n }

// Free returns the amount of bytes that can be written before the ring is full.
func (r *Ring) Free() int { return len(r.Buf) - r.n }

// Reset discards all buffered data.
func (r *Ring) Reset() {
	r.Off = 0
	r.n = 0
}

// Write writes all of b to the ring or nothing at all if b does not fit.
func (r *Ring) Write(b []byte) (int, error) {
	if len(b) > r.Free() {
		return 0, errRingBufferFull
	}
	end := r.Off + r.n
	if end >= len(r.Buf) {
		end -= len(r.Buf)
	}
	n := copy(r.Buf[end:], b)
	if n < len(b) {
		copy(r.Buf, b[n:])
	}
	r.n += len(b)
	return len(b), nil
}

// WriteString is a wrapper around [Ring.Write] that avoids allocation of converting byte slice to string.
func (r *Ring) WriteString(s string) (int, error) {
	return r.Write(unsafe.Slice(unsafe.StringData(s), len(s)))
}

// Read reads up to len(b) bytes from the ring. It returns io.EOF when the ring is empty.
func (r *Ring) Read(b []byte) (int, error) {
	n, err := r.ReadPeek(b)
	r.discard(n)
	return n, err
}

// ReadPeek reads up to len(b) bytes without consuming them.
func (r *Ring) ReadPeek(b []byte) (int, error) {
	if r.n == 0 {
		return 0, io.EOF
	}
	first, second := r.segments()
	n := copy(b, first)
	if n == len(first) {
		n += copy(b[n:], second)
	}
	return n, nil
}

// ReadDiscard consumes n buffered bytes without copying them out.
func (r *Ring) ReadDiscard(n int) error {
	if n > r.n || n < 0 {
		return io.ErrUnexpectedEOF
	}
	r.discard(n)
	return nil
}

// IndexByte returns the index relative to the read position of the first
// buffered instance of c, or -1 if c is not buffered.
func (r *Ring) IndexByte(c byte) int {
	first, second := r.segments()
	if i := bytes.IndexByte(first, c); i >= 0 {
		return i
	}
	if i := bytes.IndexByte(second, c); i >= 0 {
		return len(first) + i
	}
	return -1
}

// segments returns the readable data as at most two contiguous slices.
func (r *Ring) segments() (first, second []byte) {
	end := r.Off + r.n
	if end <= len(r.Buf) {
		return r.Buf[r.Off:end], nil
	}
	return r.Buf[r.Off:], r.Buf[:end-len(r.Buf)]
}

func (r *Ring) discard(n int) {
	r.n -= n
	if r.n == 0 {
		r.Off = 0 // Keep data contiguous when possible.
		return
	}
	r.Off += n
	if r.Off >= len(r.Buf) {
		r.Off -= len(r.Buf)
	}
}
