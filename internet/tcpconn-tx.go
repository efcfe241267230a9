package internet

import (
	"log/slog"
	"time"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/pktbuf"
	"github.com/soypat/fixnet/tcp"
)

// flushLocked turns the partial data buffer into a segment. Unless force
// is set a segment smaller than segLimit waits while data is in flight.
// Data is never split: it waits until the send window fits all of it.
func (sock *socket) flushLocked(force bool) *pktbuf.Buffer {
	buf := sock.txbuf
	if buf == nil || buf.Len() == 0 {
		return nil
	}
	inFlight := tcp.Sizeof(sock.tcb.SendUnack(), sock.tcb.SendNext())
	if !force && buf.Len() < sock.segLimit && inFlight > 0 {
		return nil
	}
	if buf.Len() > int(sock.tcb.MaxInFlightData()) {
		return nil
	}
	sock.txbuf = nil
	return sock.prepareLocked(buf, buf.Len())
}

// controlLocked builds the pending control segment, if any. It never
// blocks; with no free buffer the segment stays pending for the next tick.
func (sock *socket) controlLocked() *pktbuf.Buffer {
	if !sock.tcb.HasPending() {
		return nil
	}
	buf, ok := sock.s.tryTxBuffer()
	if !ok {
		return nil
	}
	return sock.prepareLocked(buf, 0)
}

// prepareLocked builds the next segment with payloadLen bytes of buf as payload.
func (sock *socket) prepareLocked(buf *pktbuf.Buffer, payloadLen int) *pktbuf.Buffer {
	sock.tcb.SetRecvWindow(sock.rxWindow())
	seg, ok := sock.tcb.PendingSegment(payloadLen)
	if !ok || int(seg.DATALEN) != payloadLen {
		sock.s.tx.Release(buf)
		return nil
	}
	return sock.buildLocked(buf, seg)
}

// buildLocked commits seg to the control block and writes its headers.
// Segments occupying sequence space are pinned and held for retransmission.
func (sock *socket) buildLocked(buf *pktbuf.Buffer, seg tcp.Segment) *pktbuf.Buffer {
	s := sock.s
	err := sock.tcb.Send(seg)
	if err != nil {
		sock.debug("tcp:tx-reject", slog.String("err", err.Error()), slog.String("seg", seg.String()))
		s.tx.Release(buf)
		return nil
	}
	var mss uint16
	if seg.Flags.HasAny(tcp.FlagSYN) {
		mss = uint16(s.mss())
	}
	writeTCPHeader(buf, s.addr(), sock.remoteAddr, sock.localPort, sock.remotePort, seg, mss)
	if seg.LEN() > 0 {
		buf.Pin()
		sock.holdmu.Lock()
		buf.SetTag(uint32(seg.End()), s.now())
		sock.held = append(sock.held, heldSeg{buf: buf, busy: true})
		sock.holdmu.Unlock()
	}
	return buf
}

// transmit sends a segment built under the connection lock. Must be called
// without locks held.
func (sock *socket) transmit(buf *pktbuf.Buffer, dst [4]byte) error {
	pinned := buf.Pinned()
	err := sock.s.transmitIPv4(buf, fixnet.IPProtoTCP, dst)
	if err != nil {
		sock.trace("tcp:tx", slog.String("err", err.Error()))
	}
	if pinned {
		sock.finishTransmit(buf, err == nil)
	}
	return err
}

// finishTransmit hands a held buffer back to the holding queue after
// transmission. If it was acknowledged or discarded meanwhile it is released.
func (sock *socket) finishTransmit(buf *pktbuf.Buffer, sent bool) {
	sock.holdmu.Lock()
	for i := range sock.held {
		if sock.held[i].buf == buf {
			sock.held[i].busy = false
			sock.held[i].unsent = !sent
			sock.holdmu.Unlock()
			return
		}
	}
	sock.holdmu.Unlock()
	buf.Unpin()
	sock.s.tx.Release(buf)
}

// sweep removes the held segments acknowledged by una, sampling the round
// trip time of those transmitted only once.
func (sock *socket) sweep(una tcp.Value, now time.Time) (acked int) {
	sock.holdmu.Lock()
	defer sock.holdmu.Unlock()
	for ; acked < len(sock.held); acked++ {
		h := &sock.held[acked]
		end, sentAt, sends := h.buf.Tag()
		if !tcp.Value(end).LessThanEq(una) {
			break
		}
		if sends == 1 && !h.unsent {
			sock.rtt.Sample(now.Sub(sentAt))
		}
		if !h.busy {
			h.buf.Unpin()
			sock.s.tx.Release(h.buf)
		}
	}
	if acked > 0 {
		n := copy(sock.held, sock.held[acked:])
		clear(sock.held[n:])
		sock.held = sock.held[:n]
	}
	return acked
}

// retransmit resends held segments whose timeout expired, or with
// unsentOnly those that never left for lack of address resolution. It
// reports whether a segment exhausted its retries.
func (sock *socket) retransmit(now time.Time, unsentOnly bool, ack tcp.Value, wnd tcp.Size, dst [4]byte) (exceeded bool) {
	s := sock.s
	src := s.addr()
	for range cap(sock.held) {
		var buf *pktbuf.Buffer
		buf, exceeded = sock.nextRetransmit(now, unsentOnly)
		if buf == nil {
			return exceeded
		}
		refreshTCPHeader(buf, src, dst, ack, wnd)
		s.count(CounterTCPRetransmits)
		if sock.transmit(buf, dst) != nil {
			return false // Remaining segments would fail alike.
		}
	}
	return false
}

// nextRetransmit marks busy and returns the first held segment due.
func (sock *socket) nextRetransmit(now time.Time, unsentOnly bool) (_ *pktbuf.Buffer, exceeded bool) {
	sock.holdmu.Lock()
	defer sock.holdmu.Unlock()
	for i := range sock.held {
		h := &sock.held[i]
		if h.busy {
			continue
		}
		seq, sentAt, sends := h.buf.Tag()
		if unsentOnly {
			if !h.unsent {
				continue
			}
		} else if now.Sub(sentAt) < sock.rtt.Backoff(sends) {
			continue
		} else if sends > sock.s.cfg.MaxRetries {
			return nil, true
		}
		h.busy = true
		h.buf.SetTag(seq, now)
		return h.buf, false
	}
	return nil, false
}

// rto returns the current retransmission timeout of the slot.
func (sock *socket) rto() time.Duration {
	sock.holdmu.Lock()
	defer sock.holdmu.Unlock()
	return sock.rtt.RTO()
}

func (sock *socket) heldCount() int {
	sock.holdmu.Lock()
	defer sock.holdmu.Unlock()
	return len(sock.held)
}
