package internet

import (
	"log/slog"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/ipv4"
	"github.com/soypat/fixnet/pktbuf"
)

type unresolvedEntry struct {
	buf   *pktbuf.Buffer
	proto fixnet.IPProto
	dst   [4]byte
}

// unresolvedQueue is a fixed ring of datagrams waiting for ARP resolution.
// When full the oldest datagram is dropped.
type unresolvedQueue struct {
	entries []unresolvedEntry
	head    int
	n       int
}

func (q *unresolvedQueue) reset(size int) {
	q.entries = make([]unresolvedEntry, size)
	q.head = 0
	q.n = 0
}

// push enqueues e and returns the entry it displaced, if any.
func (q *unresolvedQueue) push(e unresolvedEntry) (dropped unresolvedEntry, ok bool) {
	if q.n == len(q.entries) {
		dropped, ok = q.pop()
	}
	q.entries[(q.head+q.n)%len(q.entries)] = e
	q.n++
	return dropped, ok
}

func (q *unresolvedQueue) pop() (e unresolvedEntry, ok bool) {
	if q.n == 0 {
		return e, false
	}
	e = q.entries[q.head]
	q.entries[q.head] = unresolvedEntry{}
	q.head = (q.head + 1) % len(q.entries)
	q.n--
	return e, true
}

// transmitIPv4 prepends the IPv4 header to buf, which holds the transport
// segment, and hands it to the Ethernet layer. Disposable buffers whose next
// hop is not yet resolved are queued until [Stack.retryUnresolved]; pinned
// buffers are left to their owner and [fixnet.ErrUnresolved] is returned.
func (s *Stack) transmitIPv4(buf *pktbuf.Buffer, proto fixnet.IPProto, dst [4]byte) error {
	s.ipmu.RLock()
	cfg := s.ip
	s.ipmu.RUnlock()
	pinned := buf.Pinned()
	hw, err := s.resolve(&cfg, dst)
	if err == fixnet.ErrUnresolved && !pinned {
		s.unmu.Lock()
		dropped, ok := s.unresolved.push(unresolvedEntry{buf: buf, proto: proto, dst: dst})
		s.unmu.Unlock()
		if ok {
			s.count(CounterUnresolvedDrops)
			s.tx.Release(dropped.buf)
		}
		return nil
	} else if err != nil {
		s.release(buf)
		return err
	}

	off, length := buf.Window()
	ifrm, _ := ipv4.NewFrame(buf.Prepend(fixnet.SizeHeaderIPv4))
	ifrm.SetHeader(proto, cfg.Addr, dst, s.ipID.Next(), length)
	if s.logenabled(internal.LevelTrace) {
		s.trace("ip:tx", slog.String("proto", proto.String()), internal.SlogAddr4("dst", &dst), slog.Int("plen", length))
	}
	err = s.transmitEthernet(buf, hw, fixnet.EtherTypeIPv4)
	if pinned {
		buf.SetWindow(off, length)
	}
	return err
}

// retryUnresolved re-attempts every queued datagram once.
func (s *Stack) retryUnresolved() {
	s.unmu.Lock()
	n := s.unresolved.n
	s.unmu.Unlock()
	for range n {
		s.unmu.Lock()
		e, ok := s.unresolved.pop()
		s.unmu.Unlock()
		if !ok {
			return
		}
		err := s.transmitIPv4(e.buf, e.proto, e.dst)
		if err != nil {
			s.debug("ip:retry", slog.String("err", err.Error()))
		}
	}
}

// UnresolvedQueued returns the amount of datagrams waiting for address resolution.
func (s *Stack) UnresolvedQueued() int {
	s.unmu.Lock()
	defer s.unmu.Unlock()
	return s.unresolved.n
}

func (s *Stack) rxIPv4(buf *pktbuf.Buffer) error {
	ifrm, err := ipv4.NewFrame(buf.Bytes())
	if err != nil {
		s.count(CounterRxBadPacket)
		return err
	}
	var vld fixnet.Validator
	ifrm.ValidateExceptCRC(&vld)
	if !vld.HasError() {
		ifrm.ValidateCRC(&vld)
	}
	if vld.HasError() {
		s.count(CounterRxBadPacket)
		return vld.ErrPop()
	}
	src, dst := *ifrm.SourceAddr(), *ifrm.DestinationAddr()
	proto := ifrm.Protocol()

	s.ipmu.RLock()
	cfg := s.ip
	s.ipmu.RUnlock()
	unconfigured := cfg.Addr == [4]byte{}
	if !cfg.Accepts(dst) && !(unconfigured && proto == fixnet.IPProtoUDP) {
		s.count(CounterRxFiltered)
		return nil
	}
	buf.Truncate(int(ifrm.TotalLength()))
	buf.Strip(ifrm.HeaderLength())
	switch proto {
	case fixnet.IPProtoICMP:
		return s.rxICMP(buf, src, dst)
	case fixnet.IPProtoUDP:
		return s.rxUDP(buf, src, dst)
	case fixnet.IPProtoTCP:
		if dst != cfg.Addr {
			s.count(CounterRxFiltered)
			return nil // No TCP over broadcast.
		}
		return s.rxTCP(buf, src, dst)
	}
	s.count(CounterRxUnknownType)
	return nil
}
