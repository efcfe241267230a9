package internet

import (
	"log/slog"
	"net/netip"
	"time"

	"github.com/juju/errors"

	"github.com/soypat/fixnet/dns"
	"github.com/soypat/fixnet/internal"
)

const (
	dnsRetransmitMin = time.Second
	dnsRetransmitMax = 4 * time.Second
)

// DNSServer returns the name server used by [Stack.LookupIPv4].
func (s *Stack) DNSServer() [4]byte {
	s.ipmu.RLock()
	defer s.ipmu.RUnlock()
	return s.dnsServer
}

// SetDNSServer sets the name server used by [Stack.LookupIPv4] and
// empties the answer cache. A DHCP lease carrying a name server replaces it.
func (s *Stack) SetDNSServer(addr [4]byte) {
	s.ipmu.Lock()
	s.dnsServer = addr
	s.ipmu.Unlock()
	s.dnsmu.Lock()
	s.dnsCache.Reset()
	s.dnsmu.Unlock()
	s.debug("dns:server", internal.SlogAddr4("addr", &addr))
}

// dnsEntry is a cached answer.
type dnsEntry struct {
	addrs   [dns.MaxAddrs][4]byte
	n       uint8
	expires int64 // unix nanoseconds
}

func (e *dnsEntry) result() []netip.Addr {
	result := make([]netip.Addr, e.n)
	for i := range result {
		result[i] = netip.AddrFrom4(e.addrs[i])
	}
	return result
}

// cachedDNS returns the unexpired cached answer for name.
func (s *Stack) cachedDNS(name dns.Name, now time.Time) (dnsEntry, bool) {
	s.dnsmu.Lock()
	defer s.dnsmu.Unlock()
	e, ok := s.dnsCache.Get(name)
	if ok && now.UnixNano() >= e.expires {
		s.dnsCache.Remove(name)
		ok = false
	}
	return e, ok
}

// LookupIPv4 resolves the IPv4 addresses of host by querying the
// configured name server, retransmitting the query until an answer arrives
// or timeout elapses; timeout<=0 waits indefinitely. Lookups are serialized.
// Answers are cached for their smallest record TTL. A host with no address
// records returns an empty slice and no error.
func (s *Stack) LookupIPv4(host string, timeout time.Duration) ([]netip.Addr, error) {
	name, err := dns.NewName(host)
	if err != nil {
		return nil, errors.Annotatef(err, "lookup %q", host)
	}
	server := s.DNSServer()
	if server == ([4]byte{}) {
		return nil, errors.NotFoundf("dns server")
	}
	s.dnsLookup.Lock()
	defer s.dnsLookup.Unlock()
	if e, ok := s.cachedDNS(name, s.now()); ok {
		return e.result(), nil
	}

	seed := uint16(s.now().UnixNano()) | 1
	txid := internal.Prand16(seed)
	port, err := s.registerEphemeralUDP(txid, UDPHandlerFunc(s.recvDNS))
	if err != nil {
		return nil, errors.Annotate(err, "dns port")
	}
	defer s.UnregisterUDP(port)

	s.dnsmu.Lock()
	s.dns.StartResolve(txid, name, true)
	s.dnsQuery = server
	s.dnsmu.Unlock()
	defer func() {
		s.dnsmu.Lock()
		s.dns.Abort()
		s.dnsmu.Unlock()
	}()
	err = s.runExchange(&exchange{
		name:    "dns",
		ev:      &s.dnsEvent,
		backoff: internal.NewBackoff(dnsRetransmitMin, dnsRetransmitMax),
		dst:     server,
		srcPort: port,
		dstPort: dns.ServerPort,
		maxSize: dns.MaxSizeUDP,
		mu:      &s.dnsmu,
		client:  &s.dns,
	}, timeout)
	if err != nil {
		s.debug("dns:timeout", slog.String("host", host))
		return nil, err
	}
	s.dnsmu.Lock()
	addrs, ttl, err := s.dns.Result()
	var e dnsEntry
	e.n = uint8(copy(e.addrs[:], addrs))
	if err == nil && ttl > 0 && e.n > 0 {
		e.expires = s.now().Add(time.Duration(ttl) * time.Second).UnixNano()
		s.dnsCache.Put(name, e)
	}
	s.dnsmu.Unlock()
	if err != nil {
		return nil, errors.Annotatef(err, "lookup %q", host)
	}
	result := e.result()
	s.debug("dns:resolved", slog.String("host", host), slog.Int("addrs", len(result)), slog.Uint64("ttl", uint64(ttl)))
	return result, nil
}

func (s *Stack) recvDNS(src [4]byte, srcPort uint16, payload []byte) {
	s.dnsmu.Lock()
	if src != s.dnsQuery || srcPort != dns.ServerPort {
		s.dnsmu.Unlock()
		return
	}
	err := s.dns.Demux(payload)
	done := s.dns.Done()
	s.dnsmu.Unlock()
	if err != nil {
		s.trace("dns:rx", slog.String("err", err.Error()))
	}
	if done {
		s.dnsEvent.Signal()
	}
}
