package internet

import (
	"log/slog"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/ipv4/icmpv4"
	"github.com/soypat/fixnet/pktbuf"
)

// rxICMP answers echo requests addressed to our unicast address. Everything
// else is dropped.
func (s *Stack) rxICMP(buf *pktbuf.Buffer, src, dst [4]byte) error {
	frm, err := icmpv4.NewFrame(buf.Bytes())
	if err != nil {
		s.count(CounterRxBadPacket)
		return err
	}
	var vld fixnet.Validator
	frm.ValidateCRC(&vld)
	if vld.HasError() {
		s.count(CounterRxBadPacket)
		return vld.ErrPop()
	}
	if frm.Type() != icmpv4.TypeEcho || dst != s.addr() {
		return nil
	}
	if !s.icmpLimit.AllowN(s.now(), 1) {
		s.count(CounterICMPLimited)
		return nil
	}
	out, ok := s.tryTxBuffer()
	if !ok {
		return fixnet.ErrExhausted
	}
	// Echo data may use the headroom reserved for transport headers.
	out.Reserve(fixnet.SizeHeaderEthernet + fixnet.SizeHeaderIPv4)
	if buf.Len() > out.Tailroom() {
		s.tx.Release(out)
		return fixnet.ErrShortBuffer
	}
	echo := frm.Echo()
	reply, _ := icmpv4.NewFrame(out.Extend(buf.Len()))
	reply.Echo().SetEcho(icmpv4.TypeEchoReply, echo.Identifier(), echo.SequenceNumber(), echo.Data())
	if s.logenabled(slog.LevelDebug) {
		s.debug("icmp:echo", internal.SlogAddr4("src", &src), slog.Int("seq", int(echo.SequenceNumber())))
	}
	err = s.transmitIPv4(out, fixnet.IPProtoICMP, src)
	if err == nil {
		s.count(CounterICMPEchoReplies)
	}
	return err
}
