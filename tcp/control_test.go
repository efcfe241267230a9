package tcp

import (
	"errors"
	"testing"

	"github.com/soypat/fixnet"
)

const (
	issA, issB       = 100, 300
	windowA, windowB = 1000, 1000
)

// peers drives two ControlBlocks against each other without a network.
type peers struct {
	t    *testing.T
	a, b ControlBlock
}

func newEstablished(t *testing.T) *peers {
	t.Helper()
	p := &peers{t: t}
	p.handshake()
	return p
}

func (p *peers) handshake() {
	p.t.Helper()
	err := p.b.Open(issB, windowB)
	if err != nil {
		p.t.Fatal(err)
	}
	err = p.a.Send(ClientSynSegment(issA, windowA))
	if err != nil {
		p.t.Fatal(err)
	}
	p.assertStates(StateSynSent, StateListen)
	p.transfer(&p.a, &p.b, 0)
	p.assertStates(StateSynSent, StateSynRcvd)
	p.transfer(&p.b, &p.a, 0)
	p.assertStates(StateEstablished, StateSynRcvd)
	p.transfer(&p.a, &p.b, 0)
	p.assertStates(StateEstablished, StateEstablished)
}

// transfer sends the pending segment of src carrying datalen bytes to dst.
// The SYN of an active open is resent since it is not pending after Send.
func (p *peers) transfer(src, dst *ControlBlock, datalen int) Segment {
	p.t.Helper()
	var seg Segment
	if src.State() == StateSynSent && !src.HasPending() {
		seg = ClientSynSegment(src.ISS(), src.RecvWindow())
	} else {
		var ok bool
		seg, ok = src.PendingSegment(datalen)
		if !ok {
			p.t.Fatalf("no pending segment in %s", src.State())
		}
		if err := src.Send(seg); err != nil {
			p.t.Fatalf("send %s: %v", seg, err)
		}
	}
	if err := dst.Recv(seg); err != nil {
		p.t.Fatalf("recv %s: %v", seg, err)
	}
	return seg
}

func (p *peers) assertStates(a, b State) {
	p.t.Helper()
	if p.a.State() != a || p.b.State() != b {
		p.t.Fatalf("want states A=%s B=%s, got A=%s B=%s", a, b, p.a.State(), p.b.State())
	}
}

func TestHandshakeSequenceNumbers(t *testing.T) {
	p := newEstablished(t)
	if p.a.SendNext() != issA+1 || p.a.SendUnack() != issA+1 {
		t.Errorf("A snd.nxt=%d snd.una=%d, want %d", p.a.SendNext(), p.a.SendUnack(), issA+1)
	}
	if p.b.SendNext() != issB+1 || p.b.SendUnack() != issB+1 {
		t.Errorf("B snd.nxt=%d snd.una=%d, want %d", p.b.SendNext(), p.b.SendUnack(), issB+1)
	}
	if p.a.RecvNext() != issB+1 || p.b.RecvNext() != issA+1 {
		t.Errorf("rcv.nxt mismatch: A=%d B=%d", p.a.RecvNext(), p.b.RecvNext())
	}
	if p.a.SendWindow() != windowB || p.b.SendWindow() != windowA {
		t.Errorf("send windows not learned: A=%d B=%d", p.a.SendWindow(), p.b.SendWindow())
	}
	if p.a.HasPending() || p.b.HasPending() {
		t.Error("pending control flags after handshake")
	}
}

func TestDataTransfer(t *testing.T) {
	p := newEstablished(t)
	seg := p.transfer(&p.a, &p.b, 10)
	if seg.Flags != pshack || seg.DATALEN != 10 {
		t.Fatalf("unexpected data segment %s", seg)
	}
	if p.b.RecvNext() != issA+11 {
		t.Errorf("B rcv.nxt=%d", p.b.RecvNext())
	}
	if p.b.RecvWindow() != windowB-10 {
		t.Errorf("B rcv.wnd=%d", p.b.RecvWindow())
	}
	if got := p.a.MaxInFlightData(); got != windowB-10 {
		t.Errorf("A max in flight %d", got)
	}
	// B acknowledges with a restored window.
	p.b.SetRecvWindow(windowB)
	ack := p.transfer(&p.b, &p.a, 0)
	if ack.Flags != FlagACK || ack.ACK != issA+11 || ack.WND != windowB {
		t.Fatalf("unexpected ack %s", ack)
	}
	if p.a.SendUnack() != issA+11 {
		t.Errorf("A snd.una=%d after ack", p.a.SendUnack())
	}
}

func TestPendingSegmentLimitedByWindow(t *testing.T) {
	p := newEstablished(t)
	p.a.snd.WND = 8
	seg, ok := p.a.PendingSegment(100)
	if !ok || seg.DATALEN != 8 {
		t.Fatalf("want 8 byte segment, got %s ok=%v", seg, ok)
	}
	p.a.snd.WND = 0
	if _, ok := p.a.PendingSegment(100); ok {
		t.Error("segment generated on zero window")
	}
}

func TestActiveClose(t *testing.T) {
	p := newEstablished(t)
	if err := p.a.Close(); err != nil {
		t.Fatal(err)
	}
	fin := p.transfer(&p.a, &p.b, 0)
	if fin.Flags != finack {
		t.Fatalf("want FIN|ACK, got %s", fin)
	}
	p.assertStates(StateFinWait1, StateCloseWait)
	p.transfer(&p.b, &p.a, 0)
	p.assertStates(StateFinWait2, StateCloseWait)
	if err := p.b.Close(); err != nil {
		t.Fatal(err)
	}
	p.transfer(&p.b, &p.a, 0)
	p.assertStates(StateTimeWait, StateLastAck)
	p.transfer(&p.a, &p.b, 0)
	p.assertStates(StateTimeWait, StateClosed)
	if err := p.a.Close(); err != errConnectionClosing {
		t.Errorf("want closing error on TIME-WAIT close, got %v", err)
	}
}

func TestSimultaneousClose(t *testing.T) {
	p := newEstablished(t)
	p.a.Close()
	p.b.Close()
	finA, _ := p.a.PendingSegment(0)
	finB, _ := p.b.PendingSegment(0)
	if err := p.a.Send(finA); err != nil {
		t.Fatal(err)
	}
	if err := p.b.Send(finB); err != nil {
		t.Fatal(err)
	}
	p.assertStates(StateFinWait1, StateFinWait1)
	if err := p.a.Recv(finB); err != nil {
		t.Fatal(err)
	}
	if err := p.b.Recv(finA); err != nil {
		t.Fatal(err)
	}
	p.assertStates(StateClosing, StateClosing)
	ackA, _ := p.a.PendingSegment(0)
	ackB, _ := p.b.PendingSegment(0)
	p.a.Send(ackA)
	p.b.Send(ackB)
	if err := p.a.Recv(ackB); err != nil {
		t.Fatal(err)
	}
	if err := p.b.Recv(ackA); err != nil {
		t.Fatal(err)
	}
	p.assertStates(StateTimeWait, StateTimeWait)
}

func TestSimultaneousOpen(t *testing.T) {
	var a, b ControlBlock
	synA := ClientSynSegment(issA, windowA)
	synB := ClientSynSegment(issB, windowB)
	if err := a.Send(synA); err != nil {
		t.Fatal(err)
	}
	if err := b.Send(synB); err != nil {
		t.Fatal(err)
	}
	if err := a.Recv(synB); err != nil {
		t.Fatal(err)
	}
	if err := b.Recv(synA); err != nil {
		t.Fatal(err)
	}
	if a.State() != StateSynRcvd || b.State() != StateSynRcvd {
		t.Fatalf("want SYN-RECEIVED on both, got %s %s", a.State(), b.State())
	}
	synackA, ok := a.PendingSegment(0)
	if !ok || synackA.Flags != synack || synackA.SEQ != issA || synackA.ACK != issB+1 {
		t.Fatalf("unexpected SYN|ACK %s", synackA)
	}
	synackB, _ := b.PendingSegment(0)
	a.Send(synackA)
	b.Send(synackB)
	if err := a.Recv(synackB); err != nil {
		t.Fatal(err)
	}
	if err := b.Recv(synackA); err != nil {
		t.Fatal(err)
	}
	if a.State() != StateEstablished || b.State() != StateEstablished {
		t.Fatalf("want ESTABLISHED on both, got %s %s", a.State(), b.State())
	}
}

func TestRecvReset(t *testing.T) {
	p := newEstablished(t)
	// RST out of window is ignored and not acknowledged.
	err := p.a.Recv(Segment{SEQ: issB + 50, Flags: FlagRST})
	if !IsDroppedErr(err) {
		t.Fatalf("want dropped RST, got %v", err)
	}
	if p.a.HasPending() || p.a.State() != StateEstablished {
		t.Fatal("out of window RST had effect")
	}
	err = p.a.Recv(Segment{SEQ: issB + 1, Flags: FlagRST})
	if !errors.Is(err, fixnet.ErrConnReset) {
		t.Fatalf("want connection reset, got %v", err)
	}
	if p.a.State() != StateClosed {
		t.Errorf("want CLOSED after RST, got %s", p.a.State())
	}
}

func TestOutOfOrderSegmentDupAck(t *testing.T) {
	p := newEstablished(t)
	err := p.a.Recv(Segment{SEQ: issB + 20, ACK: issA + 1, Flags: pshack, WND: windowB, DATALEN: 5})
	if !IsDroppedErr(err) {
		t.Fatalf("want dropped segment, got %v", err)
	}
	seg, ok := p.a.PendingSegment(0)
	if !ok || seg.Flags != FlagACK || seg.ACK != issB+1 {
		t.Fatalf("want duplicate ACK of %d, got %s", issB+1, seg)
	}
}

func TestWindowOverrunRejected(t *testing.T) {
	p := newEstablished(t)
	p.b.SetRecvWindow(4)
	err := p.b.Recv(Segment{SEQ: issA + 1, ACK: issB + 1, Flags: pshack, WND: windowA, DATALEN: 10})
	if err != errLastNotInWindow {
		t.Fatalf("want window error, got %v", err)
	}
	if p.b.RecvNext() != issA+1 {
		t.Error("rejected payload advanced rcv.nxt")
	}
	seg, _ := p.b.PendingSegment(0)
	if seg.WND != 4 || seg.Flags != FlagACK {
		t.Errorf("want window re-advertised, got %s", seg)
	}
	p.b.SetRecvWindow(0)
	err = p.b.Recv(Segment{SEQ: issA + 1, ACK: issB + 1, Flags: pshack, WND: windowA, DATALEN: 1})
	if err != errZeroWindow {
		t.Fatalf("want zero window error, got %v", err)
	}
}

func TestSynInSynchronizedStateChallenged(t *testing.T) {
	p := newEstablished(t)
	err := p.b.Recv(Segment{SEQ: issA + 1, Flags: FlagSYN, WND: windowA})
	if !IsDroppedErr(err) {
		t.Fatalf("want dropped SYN, got %v", err)
	}
	if p.b.State() != StateEstablished || !p.b.HasPending() {
		t.Error("SYN should leave state unchanged and queue a challenge ACK")
	}
}

func TestListenRejectsNonSYN(t *testing.T) {
	var tcb ControlBlock
	tcb.Open(issB, windowB)
	seg := Segment{SEQ: 5, ACK: 77, Flags: FlagACK}
	err := tcb.Recv(seg)
	if err != errListenerRecvNotSYN {
		t.Fatalf("want listener error, got %v", err)
	}
	rst, ok := ResetFor(seg)
	if !ok || rst.SEQ != 77 || rst.Flags != FlagRST {
		t.Errorf("unexpected reset %s", rst)
	}
	if tcb.State() != StateListen {
		t.Errorf("listener left LISTEN: %s", tcb.State())
	}
}

func TestSynSentBadAck(t *testing.T) {
	var tcb ControlBlock
	tcb.Send(ClientSynSegment(issA, windowA))
	err := tcb.Recv(Segment{SEQ: issB, ACK: issA + 50, Flags: synack, WND: windowB})
	if err != errBadSegack {
		t.Fatalf("want bad ack, got %v", err)
	}
	err = tcb.Recv(Segment{SEQ: issB, ACK: issA + 1, Flags: rstack})
	if !errors.Is(err, fixnet.ErrConnReset) {
		t.Fatalf("want reset on refused connection, got %v", err)
	}
}

func TestSendOutOfOrderRejected(t *testing.T) {
	p := newEstablished(t)
	err := p.a.Send(Segment{SEQ: issA + 5, ACK: issB + 1, Flags: FlagACK, WND: windowA})
	if err != errRequireSequential {
		t.Fatalf("want sequential error, got %v", err)
	}
	var closed ControlBlock
	if err = closed.Send(Segment{Flags: FlagACK}); err != errConnNotexist {
		t.Fatalf("want no connection error, got %v", err)
	}
}

func TestAbort(t *testing.T) {
	p := newEstablished(t)
	rst, ok := p.a.Abort()
	if !ok || rst.SEQ != issA+1 || rst.Flags != FlagRST {
		t.Fatalf("unexpected abort segment %s ok=%v", rst, ok)
	}
	if p.a.State() != StateClosed {
		t.Fatal("abort did not close")
	}
	if err := p.b.Recv(rst); !errors.Is(err, fixnet.ErrConnReset) {
		t.Fatalf("peer did not accept abort RST: %v", err)
	}
	var listener ControlBlock
	listener.Open(1, 1)
	if _, ok := listener.Abort(); ok {
		t.Error("listener abort should not emit RST")
	}
}

func TestResetFor(t *testing.T) {
	tests := []struct {
		in   Segment
		want Segment
		ok   bool
	}{
		{in: Segment{SEQ: 10, ACK: 20, Flags: FlagACK}, want: Segment{SEQ: 20, Flags: FlagRST}, ok: true},
		{in: Segment{SEQ: 10, Flags: FlagSYN}, want: Segment{ACK: 11, Flags: rstack}, ok: true},
		{in: Segment{SEQ: 10, Flags: FlagPSH, DATALEN: 5}, want: Segment{ACK: 15, Flags: rstack}, ok: true},
		{in: Segment{SEQ: 10, Flags: rstack}, ok: false},
	}
	for _, tt := range tests {
		got, ok := ResetFor(tt.in)
		if ok != tt.ok || got != tt.want {
			t.Errorf("ResetFor(%s) = %s,%v; want %s,%v", tt.in, got, ok, tt.want, tt.ok)
		}
	}
}
