package internet

import (
	"fmt"
	"io"
	"net/netip"
	"text/tabwriter"
	"time"

	"github.com/soypat/fixnet/arp"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/pktbuf"
	"github.com/soypat/fixnet/tcp"
)

// Dump writes a human readable snapshot of the stack to w: address
// configuration, buffer pools, ARP cache, connections with their blocked
// waiters and counters. It allocates and is meant for diagnostics only.
func (s *Stack) Dump(w io.Writer) error {
	now := time.Now()
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	cfg := s.IPv4()
	fmt.Fprintf(tw, "interface\t%s\taddr %s mask %s gw %s dns %s\n", hwString(s.hw),
		netip.AddrFrom4(cfg.Addr), netip.AddrFrom4(cfg.Mask), netip.AddrFrom4(cfg.Gateway), netip.AddrFrom4(s.DNSServer()))

	for _, p := range [...]*pktbuf.Pool{s.tx, s.rx} {
		fmt.Fprintf(tw, "pool %s\tcap %d\tfree %d\toutstanding %d\twaiters %d\tmisses %d\n",
			p.Name(), p.Cap(), p.Free(), p.Outstanding(), p.Waiters(), p.Misses())
	}

	entries := s.arp.AppendEntries(make([]arp.Entry, 0, s.cfg.ARPCacheSize))
	fmt.Fprintf(tw, "arp\tentries %d\tqueries %d\tunresolved %d\n", len(entries), s.arp.PendingQueries(), s.UnresolvedQueued())
	for _, e := range entries {
		fmt.Fprintf(tw, "  %s\t%s\tage %d\n", netip.AddrFrom4(e.Proto), hwString(e.HW), e.Age)
	}

	s.dnsmu.Lock()
	cached := s.dnsCache.Len()
	s.dnsmu.Unlock()
	fmt.Fprintf(tw, "dns\tcached %d\n", cached)

	for i := range s.tcp.socks {
		sock := &s.tcp.socks[i]
		sock.mu.Lock()
		state := sock.tcb.State()
		if state == tcp.StateClosed {
			sock.mu.Unlock()
			continue
		}
		raddr := netip.AddrPortFrom(netip.AddrFrom4(sock.remoteAddr), sock.remotePort)
		fmt.Fprintf(tw, "tcp[%d]\t:%d -> %s\t%s\trx %d/%d\tsnd.una %d snd.nxt %d snd.wnd %d\n",
			i, sock.localPort, raddr, state, sock.rx.Buffered(), sock.rx.Size(),
			sock.tcb.SendUnack(), sock.tcb.SendNext(), sock.tcb.SendWindow())
		sock.mu.Unlock()
		fmt.Fprintf(tw, "  \theld %d\trto %s\n", sock.heldCount(), sock.rto())
		for _, ev := range [...]*internal.Event{&sock.rxEvent, &sock.txEvent, &sock.stateEvent, &sock.acceptEvent} {
			if n, since := ev.Blocked(); n > 0 {
				fmt.Fprintf(tw, "  \twait %s\t%d blocked for %s\n", ev.Name(), n, now.Sub(since).Round(time.Millisecond))
			}
		}
	}
	for _, ev := range [...]*internal.Event{&s.dhcpEvent, &s.dnsEvent, &s.ntpEvent} {
		if n, since := ev.Blocked(); n > 0 {
			fmt.Fprintf(tw, "wait %s\t%d blocked for %s\n", ev.Name(), n, now.Sub(since).Round(time.Millisecond))
		}
	}

	for c := Counter(0); c < numCounters; c++ {
		fmt.Fprintf(tw, "%s\t%d\n", c, s.Stat(c))
	}
	return tw.Flush()
}

func hwString(hw [6]byte) string {
	return fmt.Sprintf("%02x:%02x:%02x:%02x:%02x:%02x", hw[0], hw[1], hw[2], hw[3], hw[4], hw[5])
}
