// Package pktbuf implements fixed capacity packet buffers and the pools
// that distribute them. Buffers are allocated once when the pool is
// created and are never freed or reallocated afterwards.
package pktbuf

import (
	"sync/atomic"
	"time"
)

// Buffer is a fixed capacity byte region with an active window [off, end).
// On receive the window shrinks from the front as headers are stripped.
// On transmit headers are prepended by moving the front of the window back
// into the reserved headroom.
type Buffer struct {
	data   []byte
	off    int
	end    int
	pinned bool

	// out is set while the buffer is checked out of its pool.
	out  atomic.Bool
	pool *Pool
	idx  int

	// TCP retransmission tags.
	seq    uint32
	sentAt time.Time
	sends  uint8
}

// Bytes returns the active window. The returned slice aliases the buffer.
func (b *Buffer) Bytes() []byte { return b.data[b.off:b.end] }

// Len returns the length of the active window.
func (b *Buffer) Len() int { return b.end - b.off }

// Cap returns the total capacity of the buffer.
func (b *Buffer) Cap() int { return len(b.data) }

// Headroom returns the space available in front of the active window.
func (b *Buffer) Headroom() int { return b.off }

// Tailroom returns the space available after the active window.
func (b *Buffer) Tailroom() int { return len(b.data) - b.end }

// Index returns the position of the buffer within its pool.
func (b *Buffer) Index() int { return b.idx }

// Reserve empties the active window and places it n bytes from the
// start of the buffer, leaving n bytes of headroom for [Buffer.Prepend].
func (b *Buffer) Reserve(n int) {
	if n < 0 || n > len(b.data) {
		panic("pktbuf: reserve out of range")
	}
	b.off = n
	b.end = n
}

// Strip advances the front of the active window by n bytes, removing a header.
func (b *Buffer) Strip(n int) {
	if n < 0 || n > b.Len() {
		panic("pktbuf: strip out of range")
	}
	b.off += n
}

// Prepend grows the active window n bytes to the front and returns the
// newly exposed region, which the caller fills with a header.
func (b *Buffer) Prepend(n int) []byte {
	if n < 0 || n > b.off {
		panic("pktbuf: not enough headroom to prepend")
	}
	b.off -= n
	return b.data[b.off : b.off+n]
}

// Extend grows the active window n bytes at the end and returns the newly
// exposed region. The region is not zeroed.
func (b *Buffer) Extend(n int) []byte {
	if n < 0 || n > b.Tailroom() {
		panic("pktbuf: not enough tailroom to extend")
	}
	b.end += n
	return b.data[b.end-n : b.end]
}

// Append copies as much of p as fits after the active window and returns
// the amount of bytes copied.
func (b *Buffer) Append(p []byte) int {
	n := copy(b.data[b.end:], p)
	b.end += n
	return n
}

// SetWindow sets the active window to [off, off+length).
func (b *Buffer) SetWindow(off, length int) {
	if off < 0 || length < 0 || off+length > len(b.data) {
		panic("pktbuf: window out of range")
	}
	b.off = off
	b.end = off + length
}

// Window returns the current active window offset and length so that it
// can be restored later with [Buffer.SetWindow].
func (b *Buffer) Window() (off, length int) { return b.off, b.end - b.off }

// Truncate shortens the active window to n bytes.
func (b *Buffer) Truncate(n int) {
	if n < 0 || n > b.Len() {
		panic("pktbuf: truncate out of range")
	}
	b.end = b.off + n
}

// Pin marks the buffer as shared: layers that would normally release the
// buffer after transmitting it leave it to its owner instead.
func (b *Buffer) Pin() { b.pinned = true }

// Unpin marks the buffer as disposable again.
func (b *Buffer) Unpin() { b.pinned = false }

// Pinned reports whether the buffer is held by an owner, usually a TCP
// connection waiting for an acknowledgement.
func (b *Buffer) Pinned() bool { return b.pinned }

// SetTag records the sequence number a buffer covers up to and the time
// it was sent. Each call counts as one transmission.
func (b *Buffer) SetTag(seq uint32, sentAt time.Time) {
	b.seq = seq
	b.sentAt = sentAt
	if b.sends < 255 {
		b.sends++
	}
}

// Tag returns the values stored by [Buffer.SetTag] and the amount of
// times the buffer has been tagged since it was acquired.
func (b *Buffer) Tag() (seq uint32, sentAt time.Time, sends int) {
	return b.seq, b.sentAt, int(b.sends)
}

func (b *Buffer) reset() {
	b.off = 0
	b.end = len(b.data)
	b.pinned = false
	b.seq = 0
	b.sentAt = time.Time{}
	b.sends = 0
}
