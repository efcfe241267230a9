package internet

import (
	"log/slog"
	"sync"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/pktbuf"
	"github.com/soypat/fixnet/tcp"
)

const firstEphemeralPort = 1025

// tcpTable is the fixed table of connection slots. The table lock guards
// slot allocation and the connection tuples; everything else in a slot is
// guarded by the slot's own lock. When both are needed the slot lock is
// taken first.
type tcpTable struct {
	mu    sync.Mutex
	socks []socket
	port  uint16 // last ephemeral port handed out.
	iss   tcp.ISSGenerator
}

func (t *tcpTable) reset(s *Stack, cfg *StackConfig) error {
	err := t.iss.Reset(tcp.ISSConfig{Rand: cfg.Rand, Now: cfg.Now})
	if err != nil {
		return err
	}
	t.socks = make([]socket, cfg.MaxConns)
	rings := make([]byte, cfg.MaxConns*cfg.RxWindow)
	for i := range t.socks {
		ring := rings[i*cfg.RxWindow : (i+1)*cfg.RxWindow : (i+1)*cfg.RxWindow]
		t.socks[i].init(s, ring, cfg)
	}
	t.port = firstEphemeralPort - 1
	return nil
}

// alloc reserves a free slot for the given tuple. A zero localPort selects
// an ephemeral port.
func (t *tcpTable) alloc(localPort uint16, remoteAddr [4]byte, remotePort uint16, listening bool) (*socket, uint32, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sock *socket
	for i := range t.socks {
		if !t.socks[i].inUse {
			sock = &t.socks[i]
			break
		}
	}
	if sock == nil {
		return nil, 0, fixnet.ErrTableFull
	}
	if localPort == 0 {
		var ok bool
		localPort, ok = t.nextPortLocked()
		if !ok {
			return nil, 0, fixnet.ErrTableFull
		}
	} else if listening && t.portUsedLocked(localPort) {
		return nil, 0, fixnet.ErrPortInUse
	}
	sock.inUse = true
	sock.listening = listening
	sock.localPort = localPort
	sock.remoteAddr = remoteAddr
	sock.remotePort = remotePort
	return sock, sock.gen, nil
}

// free returns sock to the table. Caller holds sock.mu.
func (t *tcpTable) free(sock *socket) {
	t.mu.Lock()
	sock.inUse = false
	sock.listening = false
	sock.gen++
	t.mu.Unlock()
}

// nextPortLocked advances the ephemeral port counter past ports in use,
// wrapping from 65535 back to 1025.
func (t *tcpTable) nextPortLocked() (uint16, bool) {
	for range 65535 - firstEphemeralPort + 1 {
		t.port++
		if t.port < firstEphemeralPort {
			t.port = firstEphemeralPort
		}
		if !t.portUsedLocked(t.port) {
			return t.port, true
		}
	}
	return 0, false
}

func (t *tcpTable) portUsedLocked(port uint16) bool {
	for i := range t.socks {
		if t.socks[i].inUse && t.socks[i].localPort == port {
			return true
		}
	}
	return false
}

// lookup finds the slot for an incoming segment: an exact match on the
// remote and local endpoints first, then a listener on the local port.
func (t *tcpTable) lookup(remoteAddr [4]byte, remotePort, localPort uint16) (*socket, uint32) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := range t.socks {
		sock := &t.socks[i]
		if sock.inUse && !sock.listening && sock.localPort == localPort &&
			sock.remotePort == remotePort && sock.remoteAddr == remoteAddr {
			return sock, sock.gen
		}
	}
	for i := range t.socks {
		sock := &t.socks[i]
		if sock.inUse && sock.listening && sock.localPort == localPort {
			return sock, sock.gen
		}
	}
	return nil, 0
}

// kickUnsent retransmits held segments that could not be sent while the
// address of hop was unresolved.
func (t *tcpTable) kickUnsent(hop [4]byte) {
	for i := range t.socks {
		t.socks[i].retransmitUnsent(hop)
	}
}

// Conns returns the amount of connection slots in use.
func (s *Stack) Conns() (n int) {
	s.tcp.mu.Lock()
	defer s.tcp.mu.Unlock()
	for i := range s.tcp.socks {
		if s.tcp.socks[i].inUse {
			n++
		}
	}
	return n
}

// mss is the largest payload a transmit buffer holds after header headroom.
func (s *Stack) mss() int {
	return min(s.cfg.BufferSize-txHeadroom, 1460)
}

func (s *Stack) rxTCP(buf *pktbuf.Buffer, src, dst [4]byte) error {
	tfrm, err := tcp.NewFrame(buf.Bytes())
	if err != nil {
		s.count(CounterRxBadPacket)
		return err
	}
	var vld fixnet.Validator
	tfrm.ValidateExceptCRC(&vld)
	if !vld.HasError() {
		tfrm.ValidateIPv4CRC(&vld, src, dst)
	}
	if vld.HasError() {
		s.count(CounterRxBadPacket)
		err = vld.ErrPop()
		s.debug("tcp:rx-invalid", internal.SlogAddr4("src", &src), slog.String("err", err.Error()))
		return err
	}
	seg := tfrm.Segment(len(tfrm.Payload()))
	sport, dport := tfrm.SourcePort(), tfrm.DestinationPort()
	if s.logenabled(internal.LevelTrace) {
		s.trace("tcp:rx", internal.SlogAddr4("src", &src), internal.SlogPort("sport", sport),
			internal.SlogPort("dport", dport), slog.String("seg", seg.String()))
	}
	sock, gen := s.tcp.lookup(src, sport, dport)
	if sock == nil {
		s.sendReset(src, dport, sport, seg)
		return nil
	}
	return sock.recv(gen, src, tfrm, seg)
}

// sendReset answers seg, received from dst, with a RST unless seg is a RST itself.
func (s *Stack) sendReset(dst [4]byte, srcPort, dstPort uint16, seg tcp.Segment) {
	rst, ok := tcp.ResetFor(seg)
	if !ok {
		return
	}
	if !s.rstLimit.AllowN(s.now(), 1) {
		s.debug("tcp:rst-limited", internal.SlogAddr4("dst", &dst))
		return
	}
	out, ok := s.tryTxBuffer()
	if !ok {
		return
	}
	writeTCPHeader(out, s.addr(), dst, srcPort, dstPort, rst, 0)
	if s.transmitIPv4(out, fixnet.IPProtoTCP, dst) == nil {
		s.count(CounterTCPResets)
	}
}

// writeTCPHeader prepends the header for seg to buf, which holds the
// segment payload, and calculates the checksum. A non-zero mss adds the
// maximum segment size option.
func writeTCPHeader(buf *pktbuf.Buffer, src, dst [4]byte, srcPort, dstPort uint16, seg tcp.Segment, mss uint16) {
	hlen := fixnet.SizeHeaderTCP
	if mss != 0 {
		hlen += tcp.SizeSynOptions
	}
	buf.Prepend(hlen)
	tfrm, _ := tcp.NewFrame(buf.Bytes())
	tfrm.SetHeader(srcPort, dstPort, seg)
	if mss != 0 {
		tfrm.SetSegment(seg, uint8(hlen/4))
		tcp.PutMSS(tfrm.Options(), mss)
	}
	tfrm.SetCRC(tfrm.CalculateIPv4CRC(src, dst))
}

// refreshTCPHeader updates the acknowledgment, window and checksum of a
// held segment before it is retransmitted.
func refreshTCPHeader(buf *pktbuf.Buffer, src, dst [4]byte, ack tcp.Value, wnd tcp.Size) {
	tfrm, _ := tcp.NewFrame(buf.Bytes())
	_, flags := tfrm.OffsetAndFlags()
	if flags.HasAny(tcp.FlagACK) {
		tfrm.SetAck(ack)
	}
	tfrm.SetWindowSize(uint16(wnd))
	tfrm.SetCRC(tfrm.CalculateIPv4CRC(src, dst))
}
