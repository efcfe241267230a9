package internet

import (
	"errors"
	"io"
	"net"
	"net/netip"
	"sync/atomic"
	"time"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/pktbuf"
	"github.com/soypat/fixnet/tcp"
)

var errNotListener = errors.New("tcp: not a listener")

// Conn is a handle to a TCP connection or listener of a [Stack]. Once the
// connection is closed the handle only returns errors: [net.ErrClosed], or
// the error that ended the connection such as [fixnet.ErrConnReset] until
// its table slot is reused.
//
// Read and Write may be called concurrently with each other.
type Conn struct {
	sock      *socket
	gen       uint32
	rdeadline atomic.Int64
	wdeadline atomic.Int64
}

// NewClient actively opens a connection to remote from an ephemeral port
// and blocks until it is established, refused or timeout elapses.
// timeout<=0 waits indefinitely.
func (s *Stack) NewClient(remote netip.AddrPort, timeout time.Duration) (*Conn, error) {
	if !remote.Addr().Is4() || remote.Port() == 0 {
		return nil, fixnet.ErrInvalidField
	}
	local := s.addr()
	if local == [4]byte{} {
		return nil, fixnet.ErrZeroSource
	}
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	buf, err := s.GetTxBuffer(timeout)
	if err != nil {
		return nil, err
	}
	raddr, rport := remote.Addr().As4(), remote.Port()
	sock, gen, err := s.tcp.alloc(0, raddr, rport, false)
	if err != nil {
		s.tx.Release(buf)
		return nil, err
	}
	sock.mu.Lock()
	sock.resetLocked()
	iss := s.tcp.iss.ISS(local, sock.localPort, raddr, rport)
	syn := sock.buildLocked(buf, tcp.ClientSynSegment(iss, sock.rxWindow()))
	if syn == nil {
		sock.terminateLocked(nil)
		sock.mu.Unlock()
		return nil, fixnet.ErrInvalidConfig
	}
	sock.mu.Unlock()
	sock.transmit(syn, raddr)

	c := &Conn{sock: sock, gen: gen}
	for {
		sock.mu.Lock()
		err = c.checkLocked()
		established := err == nil && sock.tcb.State().IsSynchronized()
		sock.mu.Unlock()
		switch {
		case err == net.ErrClosed:
			return nil, fixnet.ErrConnReset
		case err != nil:
			return nil, err
		case established:
			return c, nil
		}
		if !sock.stateEvent.Wait(deadline) {
			sock.abort(gen, fixnet.ErrTimeout)
			return nil, fixnet.ErrTimeout
		}
	}
}

// NewServer opens a listener on port. Use [Conn.Listen] to accept connections.
func (s *Stack) NewServer(port uint16) (*Conn, error) {
	if port == 0 {
		return nil, fixnet.ErrInvalidField
	}
	sock, gen, err := s.tcp.alloc(port, [4]byte{}, 0, true)
	if err != nil {
		return nil, err
	}
	sock.mu.Lock()
	defer sock.mu.Unlock()
	sock.resetLocked()
	if err = sock.tcb.Open(0, sock.rxWindow()); err != nil {
		sock.terminateLocked(nil)
		return nil, err
	}
	return &Conn{sock: sock, gen: gen}, nil
}

// Listen blocks until the listener has an established connection to hand
// out or timeout elapses. timeout<=0 waits indefinitely. One connection is
// kept pending at a time; further SYNs are ignored until it is accepted.
func (c *Conn) Listen(timeout time.Duration) (*Conn, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	l := c.sock
	for {
		l.mu.Lock()
		if err := c.checkLocked(); err != nil {
			l.mu.Unlock()
			return nil, err
		}
		if l.tcb.State() != tcp.StateListen {
			l.mu.Unlock()
			return nil, errNotListener
		}
		if l.pending != nil && l.pendingReady {
			child := &Conn{sock: l.pending, gen: l.pendingGen}
			l.pending = nil
			l.pendingReady = false
			l.mu.Unlock()
			return child, nil
		}
		l.mu.Unlock()
		if !l.acceptEvent.Wait(deadline) {
			return nil, fixnet.ErrTimeout
		}
	}
}

// checkLocked reports whether the handle still refers to a live connection.
func (c *Conn) checkLocked() error {
	sock := c.sock
	if sock.gen == c.gen {
		return nil
	} else if sock.gen == c.gen+1 && sock.deadErr != nil {
		return sock.deadErr
	}
	return net.ErrClosed
}

// Read reads received data into p, blocking until some is available. It
// returns [io.EOF] once the peer closed its side and all data was read.
func (c *Conn) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return c.read(p, false)
}

// ReadLine reads up to and including the next newline into p. If p fills
// up, the receive buffer fills up or the peer closes before a newline
// arrives the data received so far is returned.
func (c *Conn) ReadLine(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	return c.read(p, true)
}

func (c *Conn) read(p []byte, line bool) (int, error) {
	sock := c.sock
	deadline := c.readDeadline()
	for {
		sock.mu.Lock()
		if err := c.checkLocked(); err != nil {
			sock.mu.Unlock()
			return 0, err
		}
		n := sock.readableLocked(len(p), line)
		if n > 0 {
			before := sock.rx.Free()
			sock.rx.Read(p[:n])
			var ctl *pktbuf.Buffer
			threshold := max(min(sock.segLimit, sock.rx.Size()/2), 1)
			if before < threshold && sock.rx.Free() >= threshold {
				sock.tcb.RequestAck() // Window update.
				ctl = sock.controlLocked()
			}
			dst := sock.remoteAddr
			sock.mu.Unlock()
			if ctl != nil {
				sock.transmit(ctl, dst)
			}
			return n, nil
		}
		if sock.peerFIN {
			sock.mu.Unlock()
			return 0, io.EOF
		}
		sock.mu.Unlock()
		if !sock.rxEvent.Wait(deadline) {
			return 0, fixnet.ErrTimeout
		}
	}
}

// readableLocked returns how many bytes a read of size limit may return now.
func (sock *socket) readableLocked(limit int, line bool) int {
	buffered := sock.rx.Buffered()
	if buffered == 0 || !line {
		return min(buffered, limit)
	}
	if idx := sock.rx.IndexByte('\n'); idx >= 0 {
		return min(idx+1, limit)
	}
	if buffered >= limit || sock.rx.Free() == 0 || sock.peerFIN {
		return min(buffered, limit)
	}
	return 0
}

// Write queues p for transmission. Data is accumulated into segments of up
// to the peer's maximum segment size; a segment is sent once full or when no
// data is awaiting acknowledgement. Write blocks while the send window or
// transmit buffers are exhausted. Use [Conn.Flush] to send a partial segment.
func (c *Conn) Write(p []byte) (n int, err error) {
	sock := c.sock
	s := sock.s
	deadline := c.writeDeadline()
	var spare *pktbuf.Buffer
	defer func() {
		if spare != nil {
			s.tx.Release(spare)
		}
	}()
	for n < len(p) {
		sock.mu.Lock()
		if err = c.checkLocked(); err != nil {
			sock.mu.Unlock()
			return n, err
		}
		if state := sock.tcb.State(); state != tcp.StateEstablished && state != tcp.StateCloseWait {
			sock.mu.Unlock()
			return n, net.ErrClosed
		}
		if sock.txbuf == nil {
			if spare == nil {
				spare, _ = s.tryTxBuffer()
			}
			if spare == nil {
				sock.mu.Unlock()
				timeout, err := untilDeadline(deadline)
				if err != nil {
					return n, err
				}
				if spare, err = s.GetTxBuffer(timeout); err != nil {
					return n, err
				}
				continue
			}
			sock.txbuf, spare = spare, nil
		}
		txlen := sock.txbuf.Len()
		room := min(sock.segLimit, int(sock.tcb.MaxInFlightData())) - txlen
		k := min(len(p)-n, room)
		if k > 0 {
			sock.txbuf.Append(p[n : n+k])
			n += k
		}
		out := sock.flushLocked(false)
		dst := sock.remoteAddr
		sock.mu.Unlock()
		if out != nil {
			sock.transmit(out, dst)
		}
		if k <= 0 && out == nil && !sock.txEvent.Wait(deadline) {
			return n, fixnet.ErrTimeout
		}
	}
	return n, nil
}

// Flush sends buffered data without waiting for outstanding data to be
// acknowledged. It blocks while the send window is too small.
func (c *Conn) Flush() error {
	return c.flush(c.writeDeadline())
}

func (c *Conn) flush(deadline time.Time) error {
	sock := c.sock
	for {
		sock.mu.Lock()
		if err := c.checkLocked(); err != nil {
			sock.mu.Unlock()
			return err
		}
		if sock.txbuf == nil || sock.txbuf.Len() == 0 {
			sock.mu.Unlock()
			return nil
		}
		out := sock.flushLocked(true)
		dst := sock.remoteAddr
		sock.mu.Unlock()
		if out != nil {
			sock.transmit(out, dst)
			return nil
		}
		if !sock.txEvent.Wait(deadline) {
			return fixnet.ErrTimeout
		}
	}
}

// Close sends buffered data and a FIN and blocks until the connection is
// fully closed or the stack's CloseTimeout elapses, in which case the
// connection is reset and [fixnet.ErrTimeout] returned. Closing a listener
// resets its pending connection.
func (c *Conn) Close() error {
	sock := c.sock
	s := sock.s
	deadline := time.Now().Add(s.cfg.CloseTimeout)
	sock.mu.Lock()
	if err := c.checkLocked(); err != nil {
		sock.mu.Unlock()
		if err == net.ErrClosed {
			return err
		}
		return nil // Already ended by the peer or a timeout.
	}
	if sock.tcb.State() == tcp.StateListen {
		child, cgen := sock.pending, sock.pendingGen
		sock.pending = nil
		sock.terminateLocked(nil)
		sock.mu.Unlock()
		if child != nil {
			child.abort(cgen, nil)
		}
		return nil
	}
	sock.mu.Unlock()

	if err := c.flush(deadline); err != nil {
		sock.abort(c.gen, fixnet.ErrTimeout)
		return err
	}
	timeout, err := untilDeadline(deadline)
	if err == nil {
		var buf *pktbuf.Buffer
		buf, err = s.GetTxBuffer(timeout)
		if err == nil {
			err = c.sendFIN(buf)
		}
	}
	if err != nil {
		sock.abort(c.gen, fixnet.ErrTimeout)
		return err
	}
	for {
		sock.mu.Lock()
		closed := sock.gen != c.gen
		sock.mu.Unlock()
		if closed {
			return nil
		}
		if !sock.stateEvent.Wait(deadline) {
			sock.abort(c.gen, fixnet.ErrTimeout)
			return fixnet.ErrTimeout
		}
	}
}

func (c *Conn) sendFIN(buf *pktbuf.Buffer) error {
	sock := c.sock
	sock.mu.Lock()
	if c.checkLocked() != nil {
		sock.mu.Unlock()
		sock.s.tx.Release(buf)
		return nil
	}
	err := sock.tcb.Close()
	if err != nil || sock.tcb.State() == tcp.StateClosed {
		if err == nil {
			sock.terminateLocked(nil) // Closed before the handshake completed.
		}
		sock.mu.Unlock()
		sock.s.tx.Release(buf)
		if err != nil {
			return net.ErrClosed
		}
		return nil
	}
	fin := sock.prepareLocked(buf, 0)
	dst := sock.remoteAddr
	sock.mu.Unlock()
	if fin != nil {
		sock.transmit(fin, dst)
	}
	return nil
}

// State returns the TCP state of the connection. Ended connections are CLOSED.
func (c *Conn) State() tcp.State {
	c.sock.mu.Lock()
	defer c.sock.mu.Unlock()
	if c.checkLocked() != nil {
		return tcp.StateClosed
	}
	return c.sock.tcb.State()
}

// LocalPort returns the local port of the connection.
func (c *Conn) LocalPort() uint16 {
	c.sock.mu.Lock()
	defer c.sock.mu.Unlock()
	if c.checkLocked() != nil {
		return 0
	}
	return c.sock.localPort
}

// RemoteAddr returns the address of the peer. It is invalid for listeners.
func (c *Conn) RemoteAddr() netip.AddrPort {
	c.sock.mu.Lock()
	defer c.sock.mu.Unlock()
	if c.checkLocked() != nil || c.sock.tcb.State() == tcp.StateListen {
		return netip.AddrPort{}
	}
	return netip.AddrPortFrom(netip.AddrFrom4(c.sock.remoteAddr), c.sock.remotePort)
}

// SetDeadline sets the read and write deadlines. A zero value disables them.
func (c *Conn) SetDeadline(t time.Time) error {
	c.SetReadDeadline(t)
	return c.SetWriteDeadline(t)
}

// SetReadDeadline sets the deadline for Read and ReadLine.
func (c *Conn) SetReadDeadline(t time.Time) error {
	c.rdeadline.Store(unixNano(t))
	return nil
}

// SetWriteDeadline sets the deadline for Write and Flush.
func (c *Conn) SetWriteDeadline(t time.Time) error {
	c.wdeadline.Store(unixNano(t))
	return nil
}

func (c *Conn) readDeadline() time.Time  { return fromUnixNano(c.rdeadline.Load()) }
func (c *Conn) writeDeadline() time.Time { return fromUnixNano(c.wdeadline.Load()) }

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromUnixNano(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// untilDeadline converts deadline into a timeout for blocking pool calls.
func untilDeadline(deadline time.Time) (time.Duration, error) {
	if deadline.IsZero() {
		return 0, nil
	}
	d := time.Until(deadline)
	if d <= 0 {
		return 0, fixnet.ErrTimeout
	}
	return d, nil
}
