package internet

import (
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/pktbuf"
	"github.com/soypat/fixnet/tcp"
)

// socket is a slot of the connection table. Its memory, the receive ring
// and holding queue included, is allocated once by [NewStack] and reused by
// every connection that occupies the slot.
type socket struct {
	s *Stack

	// Guarded by the table lock. gen is also only written with mu held so
	// it may be read under either lock.
	inUse      bool
	listening  bool
	localPort  uint16
	remotePort uint16
	remoteAddr [4]byte
	gen        uint32

	mu         sync.Mutex
	tcb        tcp.ControlBlock
	rx         internal.Ring
	txbuf      *pktbuf.Buffer // Data not yet sent, at most segLimit bytes.
	segLimit   int
	peerFIN    bool
	deadErr    error // Why generation gen-1 ended, nil if closed normally.
	timeWaitAt time.Time
	// Child side of the pending accept slot.
	parent    *socket
	parentGen uint32
	// Listener side of the pending accept slot.
	pending      *socket
	pendingGen   uint32
	pendingReady bool

	rxEvent     internal.Event
	txEvent     internal.Event
	stateEvent  internal.Event
	acceptEvent internal.Event

	holdmu sync.Mutex
	held   []heldSeg
	rtt    tcp.RTTEstimator

	logger
}

// heldSeg is a transmitted segment kept until acknowledged.
type heldSeg struct {
	buf *pktbuf.Buffer
	// busy is set while the buffer is being transmitted outside holdmu. A
	// busy segment removed from the queue is released by its transmitter.
	busy bool
	// unsent is set when the last transmission failed for lack of a
	// resolved hardware address.
	unsent bool
}

func (sock *socket) init(s *Stack, ring []byte, cfg *StackConfig) {
	sock.s = s
	sock.rx.Buf = ring
	sock.held = make([]heldSeg, 0, cfg.TxBuffers)
	sock.rxEvent.Init("tcp-read")
	sock.txEvent.Init("tcp-write")
	sock.stateEvent.Init("tcp-state")
	sock.acceptEvent.Init("tcp-accept")
	sock.logger = logger{log: cfg.Logger}
}

// resetLocked prepares a freshly allocated slot.
func (sock *socket) resetLocked() {
	cfg := &sock.s.cfg
	sock.rx.Reset()
	sock.txbuf = nil
	sock.segLimit = min(tcp.DefaultMSS, sock.s.mss())
	sock.peerFIN = false
	sock.deadErr = nil
	sock.parent = nil
	sock.pending = nil
	sock.pendingReady = false
	sock.tcb.SetLogger(cfg.Logger)
	sock.rxEvent.Clear()
	sock.txEvent.Clear()
	sock.stateEvent.Clear()
	sock.acceptEvent.Clear()
	sock.holdmu.Lock()
	sock.rtt.Reset(cfg.MinRTO, cfg.MaxRTO, cfg.InitialRTO)
	sock.holdmu.Unlock()
}

func (sock *socket) rxWindow() tcp.Size { return tcp.Size(sock.rx.Free()) }

// recv processes a segment looked up for generation gen of the slot.
func (sock *socket) recv(gen uint32, src [4]byte, tfrm tcp.Frame, seg tcp.Segment) error {
	s := sock.s
	now := s.now()
	sock.mu.Lock()
	state := sock.tcb.State()
	if sock.gen != gen || state == tcp.StateClosed {
		sock.mu.Unlock()
		return nil
	}
	if state == tcp.StateListen {
		sock.mu.Unlock()
		return sock.accept(gen, src, tfrm, seg)
	}
	sock.tcb.SetRecvWindow(sock.rxWindow())
	err := sock.tcb.Recv(seg)
	switch {
	case err == nil:
	case err == fixnet.ErrConnReset:
		sock.info("tcp:reset-by-peer", internal.SlogPort("lport", sock.localPort), internal.SlogAddr4("raddr", &sock.remoteAddr))
		sock.terminateLocked(fixnet.ErrConnReset)
		sock.mu.Unlock()
		return nil
	case tcp.NeedsReset(err):
		lport, rport := sock.localPort, sock.remotePort
		sock.mu.Unlock()
		s.sendReset(src, lport, rport, seg)
		return nil
	case tcp.IsDroppedErr(err):
		// Pending duplicate ACK or window update is sent below.
	default:
		sock.debug("tcp:rx-reject", slog.String("err", err.Error()))
	}
	var data, ctl *pktbuf.Buffer
	if err == nil && !sock.afterRecvLocked(state, tfrm, seg, now) {
		ctl = sock.abortLocked(fixnet.ErrConnReset)
	} else if sock.tcb.State() == tcp.StateClosed {
		sock.terminateLocked(nil)
	} else {
		if err == nil {
			data = sock.flushLocked(false)
		}
		ctl = sock.controlLocked()
	}
	dst := sock.remoteAddr
	sock.mu.Unlock()
	if data != nil {
		sock.transmit(data, dst)
	}
	if ctl != nil {
		sock.transmit(ctl, dst)
	}
	return err
}

// afterRecvLocked applies an accepted segment to the connection: releases
// acknowledged data, delivers payload and reacts to state changes. It
// returns false if the connection must be aborted.
func (sock *socket) afterRecvLocked(prev tcp.State, tfrm tcp.Frame, seg tcp.Segment, now time.Time) bool {
	if seg.Flags.HasAny(tcp.FlagACK) {
		sock.sweep(sock.tcb.SendUnack(), now)
		sock.txEvent.Signal()
	}
	if seg.Flags.HasAny(tcp.FlagSYN) {
		sock.segLimit = min(int(tcp.ParseMSS(tfrm.Options())), sock.s.mss())
	}
	if payload := tfrm.Payload(); len(payload) > 0 {
		if _, err := sock.rx.Write(payload); err != nil {
			// Window accounting guarantees room; reaching this is a bug.
			sock.error("tcp:rx-overflow", slog.Int("plen", len(payload)), slog.Int("free", sock.rx.Free()))
		}
		sock.rxEvent.Signal()
	}
	if seg.Flags.HasAny(tcp.FlagFIN) {
		sock.peerFIN = true
		sock.rxEvent.Signal()
	}
	state := sock.tcb.State()
	if state == prev {
		return true
	}
	if sock.logenabled(slog.LevelDebug) {
		sock.debug("tcp:state", internal.SlogPort("lport", sock.localPort),
			slog.String("old", prev.String()), slog.String("new", state.String()))
	}
	sock.stateEvent.Signal()
	switch state {
	case tcp.StateEstablished:
		if prev == tcp.StateSynRcvd && sock.parent != nil {
			return sock.publishLocked()
		}
	case tcp.StateTimeWait:
		sock.timeWaitAt = now
	}
	return true
}

// publishLocked hands an established child to its listener's accept slot.
func (sock *socket) publishLocked() bool {
	p := sock.parent
	p.mu.Lock()
	ok := p.gen == sock.parentGen && p.pending == sock
	if ok {
		p.pendingReady = true
		p.acceptEvent.Signal()
	}
	p.mu.Unlock()
	return ok
}

// accept handles a segment received by a listener.
func (l *socket) accept(gen uint32, src [4]byte, tfrm tcp.Frame, seg tcp.Segment) error {
	s := l.s
	lport, rport := tfrm.DestinationPort(), tfrm.SourcePort()
	switch {
	case seg.Flags.HasAny(tcp.FlagRST):
		return nil
	case seg.Flags.HasAny(tcp.FlagACK) || !seg.Flags.HasAny(tcp.FlagSYN):
		s.sendReset(src, lport, rport, seg)
		return nil
	}
	l.mu.Lock()
	if l.gen != gen || l.tcb.State() != tcp.StateListen {
		l.mu.Unlock()
		return nil
	}
	if l.pending != nil {
		l.mu.Unlock()
		l.debug("tcp:accept-busy", internal.SlogPort("lport", lport))
		return nil // Peer retransmits the SYN.
	}
	child, cgen, err := s.tcp.alloc(lport, src, rport, false)
	if err != nil {
		l.mu.Unlock()
		l.warn("tcp:accept", slog.String("err", err.Error()))
		return err
	}
	l.pending, l.pendingGen, l.pendingReady = child, cgen, false
	l.mu.Unlock()

	child.mu.Lock()
	child.resetLocked()
	child.parent, child.parentGen = l, gen
	iss := s.tcp.iss.ISS(s.addr(), lport, src, rport)
	child.tcb.Open(iss, child.rxWindow())
	err = child.tcb.Recv(seg)
	if err != nil {
		child.terminateLocked(nil)
		child.mu.Unlock()
		return err
	}
	child.segLimit = min(int(tcp.ParseMSS(tfrm.Options())), s.mss())
	ctl := child.controlLocked() // SYN-ACK, left to Tick when no buffer is free.
	child.mu.Unlock()
	if ctl != nil {
		child.transmit(ctl, src)
	}
	return nil
}

// tick runs the connection timers.
func (sock *socket) tick(now time.Time) {
	s := sock.s
	sock.mu.Lock()
	state := sock.tcb.State()
	if state == tcp.StateClosed || state == tcp.StateListen {
		sock.mu.Unlock()
		return
	}
	if state == tcp.StateTimeWait && now.Sub(sock.timeWaitAt) >= s.cfg.TimeWait {
		sock.terminateLocked(nil)
		sock.mu.Unlock()
		return
	}
	gen := sock.gen
	ctl := sock.controlLocked()
	ack, wnd, dst := sock.tcb.RecvNext(), sock.rxWindow(), sock.remoteAddr
	sock.mu.Unlock()
	if ctl != nil {
		sock.transmit(ctl, dst)
	}
	if sock.retransmit(now, false, ack, wnd, dst) {
		s.count(CounterTCPAborts)
		sock.warn("tcp:retries-exceeded", internal.SlogAddr4("raddr", &dst))
		sock.abort(gen, fixnet.ErrTimeout)
	}
}

// retransmitUnsent resends segments held back by address resolution of hop.
func (sock *socket) retransmitUnsent(hop [4]byte) {
	s := sock.s
	sock.mu.Lock()
	state := sock.tcb.State()
	if state == tcp.StateClosed || state == tcp.StateListen {
		sock.mu.Unlock()
		return
	}
	ack, wnd, dst := sock.tcb.RecvNext(), sock.rxWindow(), sock.remoteAddr
	sock.mu.Unlock()
	s.ipmu.RLock()
	next, _ := s.ip.NextHop(dst)
	s.ipmu.RUnlock()
	if next == hop {
		sock.retransmit(s.now(), true, ack, wnd, dst)
	}
}

// abort resets generation gen of the connection.
func (sock *socket) abort(gen uint32, err error) {
	sock.mu.Lock()
	if sock.gen != gen {
		sock.mu.Unlock()
		return
	}
	rst := sock.abortLocked(err)
	dst := sock.remoteAddr
	sock.mu.Unlock()
	if rst != nil {
		sock.transmit(rst, dst)
	}
}

// abortLocked terminates the connection and returns a RST to send if the
// peer may still hold state.
func (sock *socket) abortLocked(err error) *pktbuf.Buffer {
	seg, ok := sock.tcb.Abort()
	var out *pktbuf.Buffer
	if ok {
		out, ok = sock.s.tryTxBuffer()
		if ok {
			writeTCPHeader(out, sock.s.addr(), sock.remoteAddr, sock.localPort, sock.remotePort, seg, 0)
			sock.s.count(CounterTCPResets)
		}
	}
	sock.terminateLocked(err)
	return out
}

// terminateLocked releases all connection resources and returns the slot
// to the table. err is reported to users of the ended connection.
func (sock *socket) terminateLocked(err error) {
	if sock.tcb.State() != tcp.StateClosed {
		sock.tcb.Abort()
	}
	if sock.txbuf != nil {
		sock.s.tx.Release(sock.txbuf)
		sock.txbuf = nil
	}
	sock.holdmu.Lock()
	for i := range sock.held {
		if !sock.held[i].busy {
			sock.held[i].buf.Unpin()
			sock.s.tx.Release(sock.held[i].buf)
		}
	}
	clear(sock.held)
	sock.held = sock.held[:0]
	sock.holdmu.Unlock()
	if p := sock.parent; p != nil {
		p.mu.Lock()
		if p.gen == sock.parentGen && p.pending == sock {
			p.pending = nil
			p.pendingReady = false
		}
		p.mu.Unlock()
		sock.parent = nil
	}
	sock.deadErr = err
	sock.s.tcp.free(sock)
	sock.rxEvent.Broadcast()
	sock.txEvent.Broadcast()
	sock.stateEvent.Broadcast()
	sock.acceptEvent.Broadcast()
	sock.trace("tcp:terminated", internal.SlogPort("lport", sock.localPort))
}
