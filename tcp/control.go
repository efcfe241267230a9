package tcp

import (
	"log/slog"
	"math"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
)

// ControlBlock is a partial Transmission Control Block (TCB) implementation as
// per RFC 9293 in section 3.3.1. In contrast with the description in RFC9293,
// this implementation is limited to receiving only sequential segments and
// does no congestion control. Buffer management and retransmission timing are
// left entirely to the user of the ControlBlock.
//
// A ControlBlock's internal state is modified by the available "System Calls" as defined in
// RFC9293, such as Close, Open, Send, and Recv.
// Sent and received data is represented with the [Segment] struct type.
type ControlBlock struct {
	// # Send Sequence Space
	//
	// 'Send' sequence numbers correspond to local data being sent.
	//
	//	     1         2          3          4
	//	----------|----------|----------|----------
	//		   SND.UNA    SND.NXT    SND.UNA
	//								+SND.WND
	//	1. old sequence numbers which have been acknowledged
	//	2. sequence numbers of unacknowledged data
	//	3. sequence numbers allowed for new data transmission
	//	4. future sequence numbers which are not yet allowed
	snd sendSpace
	// # Receive Sequence Space
	//
	// 'Receive' sequence numbers correspond to remote data being received.
	//
	//		1          2          3
	//	----------|----------|----------
	//		   RCV.NXT    RCV.NXT
	//					 +RCV.WND
	//	1 - old sequence numbers which have been acknowledged
	//	2 - sequence numbers allowed for new reception
	//	3 - future sequence numbers which are not yet allowed
	rcv recvSpace
	// pending holds control flags to be sent on the next segment.
	pending Flags
	_state  State // leading underscore so field not suggested on top of exported State method when developing.
	logger
}

// sendSpace contains Send Sequence Space data. Its sequence numbers correspond to local data.
type sendSpace struct {
	ISS Value // initial send sequence number, defined locally on connection start
	UNA Value // send unacknowledged. Seqs equal to UNA and above have NOT been acked by remote. Corresponds to local data.
	NXT Value // send next. This seq and up to UNA+WND-1 are allowed to be sent. Corresponds to local data.
	WND Size  // send window defined by remote. Permitted number of local unacked octets in flight.
}

// inFlight returns amount of unacked bytes sent out.
func (snd *sendSpace) inFlight() Size {
	return Sizeof(snd.UNA, snd.NXT)
}

// maxSend returns maximum segment datalength receivable by remote peer.
func (snd *sendSpace) maxSend() Size {
	inflight := snd.inFlight()
	if inflight >= snd.WND {
		return 0
	}
	return snd.WND - inflight
}

// recvSpace contains Receive Sequence Space data. Its sequence numbers correspond to remote data.
type recvSpace struct {
	IRS Value // initial receive sequence number, defined by remote in SYN segment received.
	NXT Value // receive next. seqs before this have been acked. this seq and up to NXT+WND-1 are allowed to be sent. Corresponds to remote data.
	WND Size  // receive window defined by local. Permitted number of remote unacked octets in flight.
}

// State returns the current state of the TCP connection.
func (tcb *ControlBlock) State() State { return tcb._state }

// RecvNext returns the next sequence number expected to be received from remote.
func (tcb *ControlBlock) RecvNext() Value { return tcb.rcv.NXT }

// RecvWindow returns the receive window size.
func (tcb *ControlBlock) RecvWindow() Size { return tcb.rcv.WND }

// SetRecvWindow sets the local receive window size which is advertised on
// the next segment sent and limits payload accepted by [ControlBlock.Recv].
func (tcb *ControlBlock) SetRecvWindow(wnd Size) {
	if wnd > math.MaxUint16 {
		wnd = math.MaxUint16
	}
	tcb.rcv.WND = wnd
}

// ISS returns the initial sequence number of the connection that was defined on a call to Open by user.
func (tcb *ControlBlock) ISS() Value { return tcb.snd.ISS }

// SendUnack returns the oldest unacknowledged sequence number.
func (tcb *ControlBlock) SendUnack() Value { return tcb.snd.UNA }

// SendNext returns the sequence number of the next octet to be sent.
func (tcb *ControlBlock) SendNext() Value { return tcb.snd.NXT }

// SendWindow returns the window last advertised by the remote.
func (tcb *ControlBlock) SendWindow() Size { return tcb.snd.WND }

// WindowLimit returns the sequence number following the last octet the remote will
// currently accept, SND.UNA+SND.WND.
func (tcb *ControlBlock) WindowLimit() Value { return Add(tcb.snd.UNA, tcb.snd.WND) }

// MaxInFlightData returns the maximum size of a segment that can be sent by taking into account
// the send window size and the unacked data. Returns 0 in states that do not permit sending data.
func (tcb *ControlBlock) MaxInFlightData() Size {
	if !tcb._state.canSendData() {
		return 0
	}
	return tcb.snd.maxSend()
}

// SetLogger sets the logger to be used by the ControlBlock.
func (tcb *ControlBlock) SetLogger(log *slog.Logger) {
	tcb.logger = logger{log: log}
}

// HasPending returns true if there is a pending control segment to send.
func (tcb *ControlBlock) HasPending() bool { return tcb.pending != 0 }

// RequestAck queues an ACK, i.e. a window update after the receive buffer was drained.
// It has no effect in unsynchronized states.
func (tcb *ControlBlock) RequestAck() {
	if tcb._state.IsSynchronized() {
		tcb.pending |= FlagACK
	}
}

// Open implements a passive opening of a connection (wait for incoming packets).
// Upon success [ControlBlock] enters LISTEN state, such as that of a server.
// To open an active connection use [ControlBlock.Send] with a segment generated with [ClientSynSegment].
func (tcb *ControlBlock) Open(iss Value, wnd Size) (err error) {
	switch {
	case tcb._state != StateClosed && tcb._state != StateListen:
		err = errNeedClosedTCB
	case wnd > math.MaxUint16:
		err = errWindowTooLarge
	}
	if err != nil {
		tcb.logerr("tcb:open", slog.String("err", err.Error()))
		return err
	}
	tcb._state = StateListen
	tcb.prepareToHandshake(iss, wnd)
	tcb.trace("tcb:open-server")
	return nil
}

// prepareToHandshake initializes the TCB send/receive spaces with initial send sequence number and local window.
func (tcb *ControlBlock) prepareToHandshake(iss Value, wnd Size) {
	tcb.resetRcv(wnd, 0)
	tcb.resetSnd(iss, 0)
	tcb.pending = 0
}

// PendingSegment calculates a suitable next segment to send from a payload length.
// Payload is limited to what the remote's window permits and is only included in
// states which permit sending data. It does not modify the ControlBlock.
func (tcb *ControlBlock) PendingSegment(payloadLen int) (_ Segment, ok bool) {
	pending := tcb.pending
	if payloadLen < 0 || !tcb._state.canSendData() {
		payloadLen = 0
	}
	if maxPayload := tcb.snd.maxSend(); payloadLen > int(maxPayload) {
		payloadLen = int(maxPayload)
	}
	if pending == 0 && payloadLen == 0 {
		return Segment{}, false
	}
	if tcb._state != StateSynSent && tcb._state != StateClosed {
		pending |= FlagACK // ACK is always set once the remote ISN is known.
	}
	if payloadLen > 0 {
		pending |= FlagPSH
	}
	var ack Value
	if pending.HasAny(FlagACK) {
		ack = tcb.rcv.NXT
	}
	seg := Segment{
		SEQ:     tcb.snd.NXT,
		ACK:     ack,
		WND:     tcb.rcv.WND,
		Flags:   pending,
		DATALEN: Size(payloadLen),
	}
	tcb.traceSeg("tcb:pending-out", seg)
	return seg, true
}

// Recv processes a segment that is being received from the network. It updates the TCB
// if there is no error. The ControlBlock can only receive segments that are the next
// expected sequence number; out of order segments are rejected and a duplicate ACK
// is queued. When Recv returns nil all of the segment's payload was accepted and
// must be delivered to the user, except for data carried on a SYN received in LISTEN
// which is never acknowledged. Payload which does not fit the receive window is rejected
// with an ACK queued to re-advertise the window.
//
// A RST accepted in a synchronized state closes the ControlBlock and returns [fixnet.ErrConnReset].
func (tcb *ControlBlock) Recv(seg Segment) (err error) {
	err = tcb.validateIncomingSegment(seg)
	if err != nil {
		if tcb.logenabled(slog.LevelDebug) {
			tcb.traceRcv("tcb:rcv.reject")
			tcb.traceSeg("tcb:rcv.reject", seg)
			tcb.debug("tcb:rcv.reject", slog.String("err", err.Error()))
		}
		return err
	}

	var pending Flags
	switch tcb._state {
	case StateListen:
		pending, err = tcb.rcvListen(seg)
	case StateSynSent:
		pending, err = tcb.rcvSynSent(seg)
	default:
		pending, err = tcb.rcvSynchronized(seg)
	}
	if err != nil {
		return err
	}
	tcb.pending |= pending
	if tcb.logenabled(internal.LevelTrace) {
		tcb.traceRcv("tcb:rcv")
		tcb.traceSeg("recv:seg", seg)
	}
	return nil
}

// Send processes a segment that is being sent to the network. It updates the TCB
// if there is no error. Segments are usually obtained from [ControlBlock.PendingSegment].
// Retransmissions must not be passed to Send.
func (tcb *ControlBlock) Send(seg Segment) error {
	err := tcb.validateOutgoingSegment(seg)
	if err != nil {
		tcb.traceSnd("tcb:snd.reject")
		tcb.traceSeg("tcb:snd.reject", seg)
		tcb.logerr("tcb:snd.reject", slog.String("err", err.Error()))
		return err
	}

	hasFIN := seg.Flags.HasAny(FlagFIN)
	switch tcb._state {
	case StateClosed:
		tcb._state = StateSynSent
		tcb.prepareToHandshake(seg.SEQ, seg.WND)
		tcb.trace("tcb:open-client")
	case StateSynRcvd, StateEstablished:
		if hasFIN {
			tcb._state = StateFinWait1 // RFC 9293: 3.10.4 CLOSE call.
		}
	case StateCloseWait:
		if hasFIN {
			tcb._state = StateLastAck
		}
	}
	tcb.pending &^= seg.Flags
	tcb.snd.NXT.UpdateForward(seg.LEN())
	tcb.rcv.WND = seg.WND

	if tcb.logenabled(internal.LevelTrace) {
		tcb.traceSnd("tcb:snd")
		tcb.traceSeg("tcb:snd", seg)
	}
	return nil
}

func (tcb *ControlBlock) validateOutgoingSegment(seg Segment) (err error) {
	hasAck := seg.Flags.HasAny(FlagACK)
	isFirst := tcb._state == StateClosed && seg.Flags == FlagSYN && seg.DATALEN == 0
	switch {
	case tcb._state == StateClosed && !isFirst:
		err = errConnNotexist
	case isFirst:
		// Active open, nothing else to check.
	case seg.WND > math.MaxUint16:
		err = errWindowTooLarge
	case seg.SEQ != tcb.snd.NXT:
		err = errRequireSequential
	case hasAck && seg.ACK != tcb.rcv.NXT:
		err = errAckNotNext
	case seg.DATALEN > 0 && !tcb._state.canSendData():
		err = errConnectionClosing // No further SENDs from the user will be accepted by the TCP implementation.
	case seg.DATALEN > 0 && tcb.snd.maxSend() == 0:
		err = errZeroWindow
	case seg.DATALEN > tcb.snd.maxSend():
		err = errLastNotInWindow
	}
	return err
}

func (tcb *ControlBlock) validateIncomingSegment(seg Segment) (err error) {
	flags := seg.Flags
	hasAck := flags.HasAny(FlagACK)
	hasRst := flags.HasAny(FlagRST)
	if seg.WND > math.MaxUint16 {
		return errWindowOverflow
	}
	switch tcb._state {
	case StateClosed:
		return errConnNotexist

	case StateListen:
		switch {
		case hasRst:
			err = errDropSegment
		case hasAck || !flags.HasAny(FlagSYN):
			err = errListenerRecvNotSYN // Caller should reply with RST.
		}
		return err

	case StateSynSent:
		switch {
		case hasAck && seg.ACK != tcb.snd.NXT && hasRst:
			err = errDropSegment
		case hasAck && seg.ACK != tcb.snd.NXT:
			err = errBadSegack // Caller should reply with RST.
		case hasRst && !hasAck:
			err = errDropSegment
		case !hasRst && !flags.HasAny(FlagSYN):
			err = errDropSegment
		case seg.DATALEN > tcb.rcv.WND:
			err = errLastNotInWindow
		}
		return err
	}

	// Synchronized states and SYN-RECEIVED.
	isDebug := tcb.logenabled(slog.LevelDebug)
	simultaneousOpen := tcb._state == StateSynRcvd && flags.HasAll(synack) && seg.SEQ == tcb.rcv.IRS
	switch {
	case simultaneousOpen:
		// Remote's SYN|ACK in reply to our SYN, see RFC 9293 figure 8.
		if !seg.ACK.InRange(tcb.snd.UNA+1, tcb.snd.NXT+1) {
			err = errBadSegack
		}

	case seg.SEQ != tcb.rcv.NXT:
		if !hasRst && tcb._state != StateSynRcvd {
			tcb.pending |= FlagACK // Duplicate ACK tells remote what we expect next.
		}
		err = errRequireSequential

	case hasRst:
		// Accepted in validation, handled on receive.

	case flags.HasAny(FlagSYN):
		tcb.pending |= FlagACK // RFC 5961 challenge ACK.
		err = errDropSegment

	case !hasAck:
		err = errExpectedACK

	case tcb._state == StateSynRcvd && (seg.ACK.LessThanEq(tcb.snd.UNA) || tcb.snd.NXT.LessThan(seg.ACK)):
		err = errBadSegack // Caller should reply with RST.

	case tcb.snd.NXT.LessThan(seg.ACK):
		tcb.pending |= FlagACK
		err = errAckUnsent

	case seg.DATALEN > 0 && !tcb._state.acceptsData():
		err = errDataAfterFIN

	case seg.DATALEN > tcb.rcv.WND:
		tcb.pending |= FlagACK // Re-advertise current window.
		if tcb.rcv.WND == 0 {
			err = errZeroWindow
		} else {
			err = errLastNotInWindow
		}
	}
	if err != nil && isDebug {
		tcb.debug("rcv:drop", slog.String("state", tcb._state.String()),
			slog.Uint64("seg.seq", uint64(seg.SEQ)), slog.Uint64("rcv.nxt", uint64(tcb.rcv.NXT)),
			slog.Uint64("seg.ack", uint64(seg.ACK)), slog.Uint64("snd.nxt", uint64(tcb.snd.NXT)))
	}
	return err
}

func (tcb *ControlBlock) rcvListen(seg Segment) (pending Flags, err error) {
	// Initialize all connection state. Data on SYN is not accepted.
	tcb.resetSnd(tcb.snd.ISS, seg.WND)
	tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	tcb.rcv.NXT.UpdateForward(1)
	// We must respond with SYN|ACK frame after receiving SYN in listen state (three way handshake).
	tcb._state = StateSynRcvd
	return synack, nil
}

func (tcb *ControlBlock) rcvSynSent(seg Segment) (pending Flags, err error) {
	if seg.Flags.HasAny(FlagRST) {
		tcb.close()
		return 0, fixnet.ErrConnReset
	}
	tcb.resetRcv(tcb.rcv.WND, seg.SEQ)
	tcb.rcv.NXT.UpdateForward(1)
	tcb.snd.WND = seg.WND
	if seg.Flags.HasAny(FlagACK) {
		tcb.snd.UNA = seg.ACK
		tcb._state = StateEstablished
		pending = FlagACK
	} else {
		// Simultaneous open: our SYN is resent as SYN|ACK from ISS.
		tcb.snd.NXT = tcb.snd.ISS
		tcb._state = StateSynRcvd
		pending = synack
	}
	return pending | tcb.rcvDataFIN(seg), nil
}

func (tcb *ControlBlock) rcvSynchronized(seg Segment) (pending Flags, err error) {
	flags := seg.Flags
	if flags.HasAny(FlagRST) {
		tcb.debug("rcv:RST", slog.String("state", tcb._state.String()))
		tcb.close()
		return 0, fixnet.ErrConnReset
	}
	// ACK processing. seg.ACK <= snd.NXT was checked during validation.
	if tcb.snd.UNA.LessThan(seg.ACK) {
		tcb.snd.UNA = seg.ACK
	}
	if seg.ACK == tcb.snd.UNA {
		tcb.snd.WND = seg.WND
	}
	finAcked := seg.ACK == tcb.snd.NXT
	switch tcb._state {
	case StateSynRcvd:
		tcb._state = StateEstablished
	case StateFinWait1:
		if finAcked {
			tcb._state = StateFinWait2
		}
	case StateClosing:
		if finAcked {
			tcb._state = StateTimeWait
		}
	case StateLastAck:
		if finAcked {
			tcb.close()
			return 0, nil
		}
	}
	return tcb.rcvDataFIN(seg), nil
}

// rcvDataFIN accepts payload and FIN of a segment whose control flags were already processed.
func (tcb *ControlBlock) rcvDataFIN(seg Segment) (pending Flags) {
	if seg.DATALEN > 0 {
		tcb.rcv.NXT.UpdateForward(seg.DATALEN)
		tcb.rcv.WND -= seg.DATALEN
		pending = FlagACK
	}
	if !seg.Flags.HasAny(FlagFIN) {
		return pending
	}
	switch tcb._state {
	case StateSynRcvd, StateEstablished:
		// See Figure 5: TCP Connection State Diagram of RFC 9293.
		tcb._state = StateCloseWait
	case StateFinWait1:
		tcb._state = StateClosing
	case StateFinWait2:
		tcb._state = StateTimeWait
	default:
		return pending
	}
	tcb.rcv.NXT.UpdateForward(1)
	return FlagACK
}

func (tcb *ControlBlock) resetSnd(localISS Value, remoteWND Size) {
	tcb.snd = sendSpace{
		ISS: localISS,
		UNA: localISS,
		NXT: localISS,
		WND: remoteWND,
	}
}

func (tcb *ControlBlock) resetRcv(localWND Size, remoteISS Value) {
	tcb.rcv = recvSpace{
		IRS: remoteISS,
		NXT: remoteISS,
		WND: localWND,
	}
}

// close sets ControlBlock state to closed and resets all sequence numbers and pending flag.
func (tcb *ControlBlock) close() {
	tcb._state = StateClosed
	tcb.pending = 0
	tcb.resetRcv(0, 0)
	tcb.resetSnd(0, 0)
	tcb.debug("tcb:close")
}

// Close implements a passive/active closing of a connection. It does not immediately
// delete the TCB but queues a FIN so that the next pending segment initiates
// the closing process. After a call to Close users should not send more data.
// Close returns an error if the connection is already closed or closing.
func (tcb *ControlBlock) Close() (err error) {
	// See RFC 9293: 3.10.4 CLOSE call.
	switch tcb._state {
	case StateClosed:
		err = errConnNotexist
	case StateListen, StateSynSent:
		tcb.close()
	case StateSynRcvd, StateEstablished, StateCloseWait:
		tcb.pending |= FlagFIN
	case StateFinWait1, StateFinWait2, StateClosing, StateTimeWait, StateLastAck:
		err = errConnectionClosing
	default:
		err = errInvalidState
	}
	if err == nil {
		tcb.trace("tcb:close", slog.String("state", tcb._state.String()))
	} else {
		tcb.debug("tcb:close", slog.String("err", err.Error()))
	}
	return err
}

// Abort closes the ControlBlock immediately. If the remote may still hold
// connection state a RST segment to send is returned.
func (tcb *ControlBlock) Abort() (rst Segment, ok bool) {
	switch tcb._state {
	case StateSynRcvd, StateEstablished, StateFinWait1, StateFinWait2,
		StateCloseWait, StateClosing, StateLastAck:
		rst = Segment{SEQ: tcb.snd.NXT, Flags: FlagRST}
		ok = true
	}
	tcb.close()
	return rst, ok
}
