package internet

import (
	"log/slog"
	"time"

	"github.com/juju/errors"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/dhcpv4"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/ipv4"
)

// Bounds of the wait between unanswered DHCP messages. The wait starts
// over each time the client advances.
const (
	dhcpRetransmitMin = 2 * time.Second
	dhcpRetransmitMax = 16 * time.Second
)

// DHCP acquires an address lease, blocking until the client is bound or
// timeout elapses. timeout<=0 waits indefinitely. The lease is applied to
// the interface address configuration before returning.
func (s *Stack) DHCP(timeout time.Duration) (dhcpv4.Lease, error) {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	xid := internal.Prand32(uint32(s.now().UnixNano()) | 1)
	s.dhcpmu.Lock()
	s.dhcp.Reset()
	err := s.dhcp.BeginRequest(xid, dhcpv4.RequestConfig{
		ClientHardwareAddr: s.hw,
		Hostname:           s.cfg.Hostname,
	})
	s.dhcpmu.Unlock()
	if err != nil {
		return dhcpv4.Lease{}, errors.Annotate(err, "dhcp")
	}
	err = s.RegisterUDP(dhcpv4.DefaultClientPort, UDPHandlerFunc(s.recvDHCP))
	if err != nil {
		return dhcpv4.Lease{}, errors.Annotate(err, "dhcp client port")
	}
	defer s.UnregisterUDP(dhcpv4.DefaultClientPort)
	s.dhcpEvent.Clear()
	backoff := internal.NewBackoff(dhcpRetransmitMin, dhcpRetransmitMax)
	var lastState dhcpv4.ClientState
	for {
		s.dhcpmu.Lock()
		lease, bound := s.dhcp.Lease()
		state := s.dhcp.State()
		s.dhcpmu.Unlock()
		if state != lastState {
			backoff.Hit()
			lastState = state
		}
		if bound {
			s.applyLease(lease)
			return lease, nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			s.warn("dhcp:timeout", slog.String("state", state.String()))
			return dhcpv4.Lease{}, fixnet.ErrTimeout
		}
		if err = s.sendDHCP(); err != nil {
			s.debug("dhcp:send", slog.String("err", err.Error()))
		}
		wait := time.Now().Add(backoff.Next())
		if !deadline.IsZero() && deadline.Before(wait) {
			wait = deadline
		}
		s.dhcpEvent.Wait(wait)
	}
}

func (s *Stack) sendDHCP() error {
	buf, err := s.tx.Acquire(s.cfg.TxTimeout)
	if err != nil {
		s.count(CounterTxNoBuffer)
		return err
	}
	buf.Reserve(fixnet.SizeHeaderEthernet + fixnet.SizeHeaderIPv4 + fixnet.SizeHeaderUDP)
	s.dhcpmu.Lock()
	n, err := s.dhcp.Encapsulate(buf.Extend(buf.Tailroom()))
	state := s.dhcp.State()
	s.dhcpmu.Unlock()
	if err != nil || n == 0 {
		s.tx.Release(buf)
		return err
	}
	buf.Truncate(n)
	s.debug("dhcp:tx", slog.String("state", state.String()))
	return s.transmitUDP(buf, ipv4.LimitedBroadcast, dhcpv4.DefaultClientPort, dhcpv4.DefaultServerPort)
}

func (s *Stack) recvDHCP(src [4]byte, srcPort uint16, payload []byte) {
	if srcPort != dhcpv4.DefaultServerPort {
		return
	}
	s.dhcpmu.Lock()
	err := s.dhcp.Demux(payload)
	state := s.dhcp.State()
	s.dhcpmu.Unlock()
	switch {
	case err == nil:
		s.debug("dhcp:rx", internal.SlogAddr4("server", &src), slog.String("state", state.String()))
	case err == dhcpv4.ErrNak:
		s.info("dhcp:nak", internal.SlogAddr4("server", &src))
	default:
		s.trace("dhcp:rx-ignore", slog.String("err", err.Error()))
		return
	}
	s.dhcpEvent.Signal()
}

func (s *Stack) applyLease(lease dhcpv4.Lease) {
	s.SetIPv4(ipv4.Config{
		Addr:      lease.Addr,
		Mask:      lease.Mask,
		Gateway:   lease.Router,
		Broadcast: lease.Broadcast,
	})
	if lease.DNS.Is4() {
		s.SetDNSServer(lease.DNS.As4())
	}
	s.info("dhcp:bound", internal.SlogAddr4("addr", &lease.Addr), slog.Duration("lease", lease.Duration))
}
