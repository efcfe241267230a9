package pktbuf

import (
	"errors"
	"sync/atomic"
	"time"

	"github.com/soypat/fixnet"
)

var (
	errDoubleRelease = errors.New("pktbuf: buffer released twice")
	errForeignBuffer = errors.New("pktbuf: buffer does not belong to this pool")
)

// Config configures a [Pool].
type Config struct {
	// Name identifies the pool in diagnostics, i.e. "tx" or "rx".
	Name string
	// Count is the amount of buffers in the pool.
	Count int
	// Size is the capacity of every buffer.
	Size int
}

// Pool is a fixed set of buffers handed out through a bounded FIFO queue.
// The amount of buffers checked out never exceeds the pool's capacity;
// acquisition blocks or fails when the pool is exhausted. All methods
// are safe for concurrent use.
type Pool struct {
	name    string
	bufs    []Buffer
	free    chan *Buffer
	waiters atomic.Int32
	misses  atomic.Uint64
}

// NewPool allocates all buffers of the pool from a single backing array.
func NewPool(cfg Config) (*Pool, error) {
	if cfg.Count <= 0 || cfg.Size <= 0 {
		return nil, fixnet.ErrInvalidConfig
	}
	p := &Pool{
		name: cfg.Name,
		bufs: make([]Buffer, cfg.Count),
		free: make(chan *Buffer, cfg.Count),
	}
	space := make([]byte, cfg.Count*cfg.Size)
	for i := range p.bufs {
		b := &p.bufs[i]
		b.data = space[i*cfg.Size : (i+1)*cfg.Size : (i+1)*cfg.Size]
		b.pool = p
		b.idx = i
		b.reset()
		p.free <- b
	}
	return p, nil
}

// Name returns the pool name given in [Config].
func (p *Pool) Name() string { return p.name }

// Cap returns the amount of buffers owned by the pool.
func (p *Pool) Cap() int { return len(p.bufs) }

// Free returns the amount of buffers ready to be acquired.
func (p *Pool) Free() int { return len(p.free) }

// Outstanding returns the amount of buffers currently checked out.
func (p *Pool) Outstanding() int { return len(p.bufs) - len(p.free) }

// Waiters returns the amount of goroutines blocked in [Pool.Acquire].
func (p *Pool) Waiters() int { return int(p.waiters.Load()) }

// Misses returns the amount of failed acquisitions since creation.
func (p *Pool) Misses() uint64 { return p.misses.Load() }

// TryAcquire returns a buffer if one is immediately available. It never blocks.
func (p *Pool) TryAcquire() (*Buffer, bool) {
	select {
	case b := <-p.free:
		b.out.Store(true)
		return b, true
	default:
		p.misses.Add(1)
		return nil, false
	}
}

// Acquire returns a buffer, blocking until one is released or timeout
// elapses. A non-positive timeout blocks indefinitely. On timeout
// [fixnet.ErrTimeout] is returned.
func (p *Pool) Acquire(timeout time.Duration) (*Buffer, error) {
	select {
	case b := <-p.free:
		b.out.Store(true)
		return b, nil
	default:
	}
	p.waiters.Add(1)
	defer p.waiters.Add(-1)
	if timeout <= 0 {
		b := <-p.free
		b.out.Store(true)
		return b, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case b := <-p.free:
		b.out.Store(true)
		return b, nil
	case <-timer.C:
		p.misses.Add(1)
		return nil, fixnet.ErrTimeout
	}
}

// Release resets the buffer's active window to its full capacity, clears
// its pin and tags and returns it to the pool, waking at most one blocked
// acquirer. Releasing a buffer twice or into a foreign pool panics, since
// either would break the pool's conservation of buffers.
func (p *Pool) Release(b *Buffer) {
	if b.pool != p {
		panic(errForeignBuffer)
	} else if !b.out.CompareAndSwap(true, false) {
		panic(errDoubleRelease)
	}
	b.reset()
	p.free <- b
}
