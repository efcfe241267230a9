package internet

import (
	"log/slog"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/arp"
	"github.com/soypat/fixnet/ethernet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/ipv4"
	"github.com/soypat/fixnet/pktbuf"
)

func (s *Stack) rxARP(buf *pktbuf.Buffer) error {
	res, err := s.arp.Demux(buf.Bytes())
	if err != nil {
		s.count(CounterRxBadPacket)
		return err
	}
	if s.logenabled(slog.LevelDebug) {
		s.debug("arp:rx", slog.String("op", res.Op.String()), internal.SlogAddr4("sender", &res.SenderProto),
			slog.Bool("reply", res.Reply), slog.Bool("resolved", res.Resolved))
	}
	if res.Reply {
		s.sendARPReply(res.SenderHW, res.SenderProto)
	}
	if res.Resolved {
		s.retryUnresolved()
		s.tcp.kickUnsent(res.SenderProto)
	}
	return nil
}

func (s *Stack) sendARPReply(targetHW [6]byte, targetProto [4]byte) {
	out, ok := s.tryTxBuffer()
	if !ok {
		return
	}
	afrm, _ := arp.NewFrame(out.Extend(fixnet.SizeHeaderARPv4))
	afrm.SetReply4(s.hw, s.addr(), targetHW, targetProto)
	if s.transmitEthernet(out, targetHW, fixnet.EtherTypeARP) == nil {
		s.count(CounterARPReplies)
	}
}

func (s *Stack) sendARPRequest(target [4]byte) {
	out, ok := s.tryTxBuffer()
	if !ok {
		return
	}
	afrm, _ := arp.NewFrame(out.Extend(fixnet.SizeHeaderARPv4))
	afrm.SetRequest4(s.hw, s.addr(), target)
	if s.transmitEthernet(out, ethernet.BroadcastAddr(), fixnet.EtherTypeARP) == nil {
		s.count(CounterARPRequests)
	}
	s.debug("arp:query", internal.SlogAddr4("target", &target))
}

// ResolveHardwareAddr maps an IPv4 destination to the hardware address a
// datagram must be sent to. Broadcasts map to the broadcast MAC and
// off-subnet destinations resolve the gateway. On a cache miss an ARP
// request is sent and [fixnet.ErrUnresolved] returned; callers retry once
// resolution completes.
func (s *Stack) ResolveHardwareAddr(dst [4]byte) ([6]byte, error) {
	s.ipmu.RLock()
	cfg := s.ip
	s.ipmu.RUnlock()
	return s.resolve(&cfg, dst)
}

func (s *Stack) resolve(cfg *ipv4.Config, dst [4]byte) ([6]byte, error) {
	hop, broadcast := cfg.NextHop(dst)
	if broadcast {
		return ethernet.BroadcastAddr(), nil
	}
	if hop == [4]byte{} {
		return [6]byte{}, fixnet.ErrZeroDestination // Off-link without gateway.
	}
	if hw, ok := s.arp.Lookup(hop); ok {
		return hw, nil
	}
	if s.arp.StartQuery(hop, s.now()) {
		s.sendARPRequest(hop)
	}
	return [6]byte{}, fixnet.ErrUnresolved
}
