package internet

import (
	"errors"
	"log/slog"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/pktbuf"
	"github.com/soypat/fixnet/udp"
)

var errPortNotRegistered = errors.New("udp port not registered")

// UDPHandler receives datagrams sent to a registered port. payload is only
// valid during the call. RecvUDP is called from the receive goroutine and
// must not block.
type UDPHandler interface {
	RecvUDP(src [4]byte, srcPort uint16, payload []byte)
}

// UDPHandlerFunc adapts a function to [UDPHandler].
type UDPHandlerFunc func(src [4]byte, srcPort uint16, payload []byte)

func (f UDPHandlerFunc) RecvUDP(src [4]byte, srcPort uint16, payload []byte) { f(src, srcPort, payload) }

type udpPort struct {
	port uint16
	h    UDPHandler
}

// RegisterUDP routes datagrams for port to h.
func (s *Stack) RegisterUDP(port uint16, h UDPHandler) error {
	if port == 0 || h == nil {
		return fixnet.ErrInvalidField
	}
	s.udpmu.Lock()
	defer s.udpmu.Unlock()
	for i := range s.udp {
		if s.udp[i].port == port {
			return fixnet.ErrPortInUse
		}
	}
	if len(s.udp) == cap(s.udp) {
		return fixnet.ErrExhausted
	}
	s.udp = append(s.udp, udpPort{port: port, h: h})
	return nil
}

// UnregisterUDP removes the handler for port.
func (s *Stack) UnregisterUDP(port uint16) error {
	s.udpmu.Lock()
	defer s.udpmu.Unlock()
	for i := range s.udp {
		if s.udp[i].port == port {
			last := len(s.udp) - 1
			s.udp[i] = s.udp[last]
			s.udp[last] = udpPort{}
			s.udp = s.udp[:last]
			return nil
		}
	}
	return errPortNotRegistered
}

func (s *Stack) udpHandler(port uint16) UDPHandler {
	s.udpmu.RLock()
	defer s.udpmu.RUnlock()
	for i := range s.udp {
		if s.udp[i].port == port {
			return s.udp[i].h
		}
	}
	return nil
}

func (s *Stack) rxUDP(buf *pktbuf.Buffer, src, dst [4]byte) error {
	ufrm, err := udp.NewFrame(buf.Bytes())
	if err != nil {
		s.count(CounterRxBadPacket)
		return err
	}
	var vld fixnet.Validator
	ufrm.ValidateSize(&vld)
	if !vld.HasError() {
		ufrm.ValidateIPv4CRC(&vld, src, dst)
	}
	if vld.HasError() {
		s.count(CounterRxBadPacket)
		return vld.ErrPop()
	}
	dport := ufrm.DestinationPort()
	h := s.udpHandler(dport)
	if h == nil {
		s.count(CounterUDPNoHandler)
		s.trace("udp:no-handler", internal.SlogPort("dport", dport))
		return nil
	}
	h.RecvUDP(src, ufrm.SourcePort(), ufrm.Payload())
	return nil
}

// SendUDP sends payload in a single datagram, waiting up to the configured
// TxTimeout for a transmit buffer. A datagram whose destination is not yet
// resolved is queued and sent once the ARP reply arrives.
func (s *Stack) SendUDP(dst [4]byte, dstPort, srcPort uint16, payload []byte) error {
	buf, err := s.tx.Acquire(s.cfg.TxTimeout)
	if err != nil {
		s.count(CounterTxNoBuffer)
		return err
	}
	buf.Reserve(fixnet.SizeHeaderEthernet + fixnet.SizeHeaderIPv4 + fixnet.SizeHeaderUDP)
	if len(payload) > buf.Tailroom() {
		s.tx.Release(buf)
		return fixnet.ErrShortBuffer
	}
	buf.Append(payload)
	return s.transmitUDP(buf, dst, srcPort, dstPort)
}

// transmitUDP prepends the UDP header to buf, which holds the payload. The
// checksum covers the same source address transmitIPv4 writes.
func (s *Stack) transmitUDP(buf *pktbuf.Buffer, dst [4]byte, srcPort, dstPort uint16) error {
	src := s.addr()
	plen := buf.Len()
	buf.Prepend(fixnet.SizeHeaderUDP)
	ufrm, _ := udp.NewFrame(buf.Bytes())
	ufrm.SetHeader(srcPort, dstPort, plen)
	ufrm.SetCRC(ufrm.CalculateIPv4CRC(src, dst))
	if s.logenabled(internal.LevelTrace) {
		s.trace("udp:tx", internal.SlogAddr4("dst", &dst), internal.SlogPort("dport", dstPort), slog.Int("plen", plen))
	}
	return s.transmitIPv4(buf, fixnet.IPProtoUDP, dst)
}
