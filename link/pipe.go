// Package link provides devices that carry Ethernet frames for a stack:
// an in-memory pipe, a Linux TAP interface and a pcap capture tee.
package link

import (
	"net"
	"sync"
	"sync/atomic"
)

// Device reads and writes whole Ethernet frames.
type Device interface {
	WriteFrame(frame []byte) error
	ReadFrame(dst []byte) (int, error)
}

// direction is one way of a pipe: a queue of filled slots and the free
// slots they are returned to once read.
type direction struct {
	queue chan []byte
	free  chan []byte
}

func newDirection(queueLen, frameSize int) *direction {
	d := &direction{
		queue: make(chan []byte, queueLen),
		free:  make(chan []byte, queueLen),
	}
	mem := make([]byte, queueLen*frameSize)
	for i := range queueLen {
		d.free <- mem[i*frameSize : (i+1)*frameSize : (i+1)*frameSize]
	}
	return d
}

// PipeEnd is one end of an in-memory link created by [NewPipe]. Writes
// never block: when the peer is not reading fast enough frames are dropped,
// as a real link would.
type PipeEnd struct {
	tx, rx  *direction
	done    chan struct{}
	once    *sync.Once
	filter  atomic.Pointer[func([]byte) bool]
	drops   atomic.Uint64
	written atomic.Uint64
}

// NewPipe returns two connected ends. Each direction buffers up to
// queueLen frames of up to frameSize bytes, all allocated up front.
func NewPipe(queueLen, frameSize int) (a, b *PipeEnd) {
	ab := newDirection(queueLen, frameSize)
	ba := newDirection(queueLen, frameSize)
	done := make(chan struct{})
	once := new(sync.Once)
	a = &PipeEnd{tx: ab, rx: ba, done: done, once: once}
	b = &PipeEnd{tx: ba, rx: ab, done: done, once: once}
	return a, b
}

// SetFilter installs fn to decide which written frames are delivered.
// Frames for which fn returns false are counted as dropped. nil removes the filter.
func (p *PipeEnd) SetFilter(fn func(frame []byte) bool) {
	if fn == nil {
		p.filter.Store(nil)
		return
	}
	p.filter.Store(&fn)
}

// WriteFrame copies frame into the peer's receive queue.
func (p *PipeEnd) WriteFrame(frame []byte) error {
	select {
	case <-p.done:
		return net.ErrClosed
	default:
	}
	if fn := p.filter.Load(); fn != nil && !(*fn)(frame) {
		p.drops.Add(1)
		return nil
	}
	var slot []byte
	select {
	case slot = <-p.tx.free:
	default:
		p.drops.Add(1)
		return nil
	}
	if len(frame) > len(slot) {
		p.tx.free <- slot
		p.drops.Add(1)
		return nil
	}
	slot = slot[:copy(slot[:cap(slot)], frame)]
	p.tx.queue <- slot
	p.written.Add(1)
	return nil
}

// ReadFrame blocks until a frame arrives or the pipe is closed.
func (p *PipeEnd) ReadFrame(dst []byte) (int, error) {
	select {
	case slot := <-p.rx.queue:
		n := copy(dst, slot)
		p.rx.free <- slot[:cap(slot)]
		return n, nil
	case <-p.done:
		return 0, net.ErrClosed
	}
}

// Close closes both ends of the pipe.
func (p *PipeEnd) Close() error {
	p.once.Do(func() { close(p.done) })
	return nil
}

// Written returns the amount of frames delivered to the peer.
func (p *PipeEnd) Written() uint64 { return p.written.Load() }

// Drops returns the amount of frames written but not delivered.
func (p *PipeEnd) Drops() uint64 { return p.drops.Load() }
