package internet

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/juju/errors"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/dhcpv4"
	"github.com/soypat/fixnet/dns"
	"github.com/soypat/fixnet/ethernet"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/ipv4"
	"github.com/soypat/fixnet/link"
	"github.com/soypat/fixnet/ntp"
	"github.com/soypat/fixnet/udp"
)

var (
	hwA    = [6]byte{0x02, 0, 0, 0, 0, 0x0a}
	hwB    = [6]byte{0x02, 0, 0, 0, 0, 0x0b}
	ipA    = [4]byte{10, 0, 0, 5}
	ipB    = [4]byte{10, 0, 0, 9}
	ipGW   = [4]byte{10, 0, 0, 1}
	mask24 = [4]byte{255, 255, 255, 0}
)

func testLogger() *slog.Logger {
	if !testing.Verbose() {
		return nil
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: internal.LevelTrace}))
}

func testConfig(end *link.PipeEnd, hw [6]byte, addr [4]byte) StackConfig {
	return StackConfig{
		HardwareAddr: hw,
		IPv4:         ipv4.Config{Addr: addr, Mask: mask24, Gateway: ipGW},
		Link:         end,
		Logger:       testLogger(),
		TxBuffers:    8,
		RxBuffers:    4,
		MaxConns:     4,
		RxWindow:     512,
		MinRTO:       10 * time.Millisecond,
		InitialRTO:   40 * time.Millisecond,
		MaxRTO:       200 * time.Millisecond,
		TimeWait:     30 * time.Millisecond,
		CloseTimeout: 2 * time.Second,
	}
}

// startStack creates a stack on end and serves it until the test ends.
func startStack(t *testing.T, end *link.PipeEnd, hw [6]byte, addr [4]byte, mod func(*StackConfig)) *Stack {
	t.Helper()
	cfg := testConfig(end, hw, addr)
	if mod != nil {
		mod(&cfg)
	}
	s, err := NewStack(cfg)
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.Serve(ctx, end)
	}()
	go func() {
		defer wg.Done()
		s.RunTicker(ctx, 5*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		end.Close()
		wg.Wait()
	})
	return s
}

// startPair returns two stacks, A at 10.0.0.5 and B at 10.0.0.9, joined by a pipe.
func startPair(t *testing.T, mod func(*StackConfig)) (a, b *Stack, ea *link.PipeEnd) {
	ea, eb := link.NewPipe(32, fixnet.MaxFrameSize)
	a = startStack(t, ea, hwA, ipA, mod)
	b = startStack(t, eb, hwB, ipB, mod)
	return a, b, ea
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

// rawPeer is a hand driven host on the far end of a pipe. It crafts and
// decodes frames with gopacket.
type rawPeer struct {
	t      *testing.T
	end    *link.PipeEnd
	hw     net.HardwareAddr
	ip     net.IP
	frames chan []byte
}

func newRawPeer(t *testing.T, end *link.PipeEnd, hw [6]byte, addr [4]byte) *rawPeer {
	p := &rawPeer{t: t, end: end, hw: hw[:], ip: addr[:], frames: make(chan []byte, 64)}
	go func() {
		defer close(p.frames)
		for {
			buf := make([]byte, fixnet.MaxFrameSize)
			n, err := end.ReadFrame(buf)
			if err != nil {
				return
			}
			p.frames <- buf[:n]
		}
	}()
	return p
}

func (p *rawPeer) send(ls ...gopacket.SerializableLayer) {
	p.t.Helper()
	sb := gopacket.NewSerializeBuffer()
	err := gopacket.SerializeLayers(sb, gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}, ls...)
	if err != nil {
		p.t.Fatal(err)
	}
	if err = p.end.WriteFrame(sb.Bytes()); err != nil {
		p.t.Fatal(err)
	}
}

// expect returns the next received packet carrying a layer of type typ.
// Packets without it are discarded.
func (p *rawPeer) expect(typ gopacket.LayerType) gopacket.Packet {
	p.t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case frame, ok := <-p.frames:
			if !ok {
				p.t.Fatalf("link closed waiting for %s", typ)
			}
			pkt := gopacket.NewPacket(frame, layers.LayerTypeEthernet, gopacket.Default)
			if pkt.Layer(typ) != nil {
				return pkt
			}
		case <-timeout:
			p.t.Fatalf("no %s received", typ)
		}
	}
}

func (p *rawPeer) eth(dst net.HardwareAddr, etype layers.EthernetType) *layers.Ethernet {
	return &layers.Ethernet{SrcMAC: p.hw, DstMAC: dst, EthernetType: etype}
}

func (p *rawPeer) arp(op uint16, dstHW net.HardwareAddr, dstIP net.IP) *layers.ARP {
	return &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         op,
		SourceHwAddress:   p.hw,
		SourceProtAddress: p.ip,
		DstHwAddress:      dstHW,
		DstProtAddress:    dstIP,
	}
}

// announce sends an ARP request for target so the stack learns the peer.
func (p *rawPeer) announce(targetHW [6]byte, target [4]byte) {
	p.t.Helper()
	bcast := ethernet.BroadcastAddr()
	p.send(p.eth(bcast[:], layers.EthernetTypeARP), p.arp(layers.ARPRequest, make(net.HardwareAddr, 6), target[:]))
	pkt := p.expect(layers.LayerTypeARP)
	reply := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
	if reply.Operation != layers.ARPReply || !bytes.Equal(reply.SourceHwAddress, targetHW[:]) {
		p.t.Fatalf("bad ARP reply: op=%d hw=%x", reply.Operation, reply.SourceHwAddress)
	}
}

func TestStackConfigValidation(t *testing.T) {
	ea, _ := link.NewPipe(1, 64)
	tests := []struct {
		name string
		mod  func(*StackConfig)
	}{
		{"nil link", func(c *StackConfig) { c.Link = nil }},
		{"zero hardware address", func(c *StackConfig) { c.HardwareAddr = [6]byte{} }},
		{"small buffers", func(c *StackConfig) { c.BufferSize = 32 }},
		{"huge buffers", func(c *StackConfig) { c.BufferSize = 9000 }},
		{"window exceeds payload", func(c *StackConfig) { c.BufferSize = 600; c.RxWindow = 546 }},
		{"single tx buffer", func(c *StackConfig) { c.TxBuffers = 1 }},
		{"negative conns", func(c *StackConfig) { c.MaxConns = -1 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(ea, hwA, ipA)
			tt.mod(&cfg)
			_, err := NewStack(cfg)
			if !errors.IsNotValid(err) {
				t.Fatalf("want not valid error, got %v", err)
			}
		})
	}
	cfg := testConfig(ea, hwA, ipA)
	cfg.BufferSize = 600
	cfg.RxWindow = 545
	if _, err := NewStack(cfg); err != nil {
		t.Fatalf("largest window rejected: %v", err)
	}
}

func TestProcessRxFiltering(t *testing.T) {
	ea, _ := link.NewPipe(4, fixnet.MaxFrameSize)
	s, err := NewStack(testConfig(ea, hwA, ipA))
	if err != nil {
		t.Fatal(err)
	}
	frame := make([]byte, 60)
	efrm, _ := ethernet.NewFrame(frame)
	efrm.SetHeader([6]byte{0x02, 9, 9, 9, 9, 9}, hwB, fixnet.EtherTypeIPv4)
	s.ProcessRx(frame)
	efrm.SetHeader(hwA, hwB, 0x88cc) // LLDP.
	s.ProcessRx(frame)
	s.ProcessRx(frame[:8])
	if got := s.Stat(CounterRxFiltered); got != 1 {
		t.Errorf("filtered=%d", got)
	}
	if got := s.Stat(CounterRxUnknownType); got != 1 {
		t.Errorf("unknown type=%d", got)
	}
	if got := s.Stat(CounterRxBadPacket); got != 1 {
		t.Errorf("bad=%d", got)
	}
	if got := s.Stat(CounterRxFrames); got != 3 {
		t.Errorf("frames=%d", got)
	}
}

func TestARPResolution(t *testing.T) {
	ea, eb := link.NewPipe(16, fixnet.MaxFrameSize)
	s := startStack(t, ea, hwA, ipA, nil)
	peerHW := [6]byte{0x02, 0, 0, 0, 0, 0x99}
	hw, err := s.ResolveHardwareAddr([4]byte{10, 0, 0, 255})
	if err != nil || hw != ethernet.BroadcastAddr() {
		t.Fatalf("subnet broadcast: hw=%x err=%v", hw, err)
	}

	tests := []struct {
		dst, hop [4]byte
	}{
		{dst: ipB, hop: ipB},                      // On link.
		{dst: [4]byte{192, 168, 1, 1}, hop: ipGW}, // Through the gateway.
	}
	peer := newRawPeer(t, eb, peerHW, [4]byte{})
	for _, tt := range tests {
		peer.ip = tt.hop[:]
		_, err := s.ResolveHardwareAddr(tt.dst)
		if err != fixnet.ErrUnresolved {
			t.Fatalf("%v: want unresolved, got %v", tt.dst, err)
		}
		pkt := peer.expect(layers.LayerTypeARP)
		req := pkt.Layer(layers.LayerTypeARP).(*layers.ARP)
		if req.Operation != layers.ARPRequest || !bytes.Equal(req.DstProtAddress, tt.hop[:]) {
			t.Fatalf("%v: request op=%d target=%v", tt.dst, req.Operation, net.IP(req.DstProtAddress))
		}
		if eth := pkt.Layer(layers.LayerTypeEthernet).(*layers.Ethernet); !bytes.Equal(eth.DstMAC, layers.EthernetBroadcast) {
			t.Fatalf("request not broadcast: %s", eth.DstMAC)
		}
		peer.send(peer.eth(hwA[:], layers.EthernetTypeARP), peer.arp(layers.ARPReply, hwA[:], ipA[:]))
		waitFor(t, "resolution", func() bool {
			hw, err := s.ResolveHardwareAddr(tt.dst)
			return err == nil && hw == peerHW
		})
	}
	if got := s.Stat(CounterARPRequests); got != 2 {
		t.Errorf("arp requests=%d", got)
	}
}

func TestARPIgnoresUnsolicitedReply(t *testing.T) {
	ea, eb := link.NewPipe(16, fixnet.MaxFrameSize)
	s := startStack(t, ea, hwA, ipA, nil)
	peer := newRawPeer(t, eb, [6]byte{0x02, 0, 0, 0, 0, 0x66}, [4]byte{10, 0, 0, 66})
	peer.send(peer.eth(hwA[:], layers.EthernetTypeARP), peer.arp(layers.ARPReply, hwA[:], ipA[:]))
	// Frames are processed in order: once the request below is answered the
	// reply above was handled too.
	peer.ip = net.IP{10, 0, 0, 67}
	peer.announce(hwA, ipA)
	var sb strings.Builder
	s.Dump(&sb)
	out := sb.String()
	if strings.Contains(out, "10.0.0.66") {
		t.Fatalf("unsolicited reply cached:\n%s", out)
	}
	if !strings.Contains(out, "10.0.0.67") {
		t.Fatalf("requester not cached:\n%s", out)
	}
}

func TestICMPEcho(t *testing.T) {
	ea, eb := link.NewPipe(16, fixnet.MaxFrameSize)
	s := startStack(t, ea, hwA, ipA, nil)
	peer := newRawPeer(t, eb, hwB, ipB)
	peer.announce(hwA, ipA)

	data := []byte("fixnet echo payload")
	peer.send(
		peer.eth(hwA[:], layers.EthernetTypeIPv4),
		&layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: ipB[:], DstIP: ipA[:]},
		&layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 0x1234, Seq: 7},
		gopacket.Payload(data),
	)
	pkt := peer.expect(layers.LayerTypeICMPv4)
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ip.SrcIP.Equal(net.IP(ipA[:])) || !ip.DstIP.Equal(net.IP(ipB[:])) {
		t.Fatalf("addresses not swapped: %s -> %s", ip.SrcIP, ip.DstIP)
	}
	echo := pkt.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
	if echo.TypeCode.Type() != layers.ICMPv4TypeEchoReply || echo.Id != 0x1234 || echo.Seq != 7 {
		t.Fatalf("bad reply %s id=%#x seq=%d", echo.TypeCode, echo.Id, echo.Seq)
	}
	if !bytes.Equal(echo.Payload, data) {
		t.Fatalf("data mismatch: %q", echo.Payload)
	}
	// Checksum over the whole message including the checksum field is zero.
	raw := append(append([]byte{}, echo.Contents...), echo.Payload...)
	if fixnet.Checksum(raw) != 0 {
		t.Fatal("bad ICMP checksum")
	}
	waitFor(t, "echo counter", func() bool { return s.Stat(CounterICMPEchoReplies) == 1 })
}

func TestICMPRateLimit(t *testing.T) {
	ea, eb := link.NewPipe(32, fixnet.MaxFrameSize)
	s := startStack(t, ea, hwA, ipA, func(c *StackConfig) {
		c.ICMPRate = 0.001
		c.ICMPBurst = 2
	})
	peer := newRawPeer(t, eb, hwB, ipB)
	peer.announce(hwA, ipA)
	for seq := range uint16(5) {
		peer.send(
			peer.eth(hwA[:], layers.EthernetTypeIPv4),
			&layers.IPv4{Version: 4, TTL: 64, Protocol: layers.IPProtocolICMPv4, SrcIP: ipB[:], DstIP: ipA[:]},
			&layers.ICMPv4{TypeCode: layers.CreateICMPv4TypeCode(layers.ICMPv4TypeEchoRequest, 0), Id: 1, Seq: seq},
		)
	}
	waitFor(t, "limited requests", func() bool { return s.Stat(CounterICMPLimited) == 3 })
	if got := s.Stat(CounterICMPEchoReplies); got != 2 {
		t.Fatalf("replies=%d, want burst of 2", got)
	}
}

func TestUDPExchange(t *testing.T) {
	a, b, _ := startPair(t, nil)
	type datagram struct {
		src     [4]byte
		srcPort uint16
		payload string
	}
	got := make(chan datagram, 4)
	err := b.RegisterUDP(7000, UDPHandlerFunc(func(src [4]byte, srcPort uint16, payload []byte) {
		got <- datagram{src, srcPort, string(payload)}
	}))
	if err != nil {
		t.Fatal(err)
	}
	if err = b.RegisterUDP(7000, UDPHandlerFunc(func([4]byte, uint16, []byte) {})); err != fixnet.ErrPortInUse {
		t.Fatalf("duplicate registration: %v", err)
	}
	// First datagram waits in the unresolved queue for the ARP reply.
	for _, msg := range []string{"one", "two"} {
		if err = a.SendUDP(ipB, 7000, 5000, []byte(msg)); err != nil {
			t.Fatal(err)
		}
	}
	for _, want := range []string{"one", "two"} {
		select {
		case d := <-got:
			if d.src != ipA || d.srcPort != 5000 || d.payload != want {
				t.Fatalf("got %+v, want %q from %v:5000", d, want, ipA)
			}
		case <-time.After(2 * time.Second):
			t.Fatalf("datagram %q not received", want)
		}
	}
	a.SendUDP(ipB, 7001, 5000, []byte("nobody"))
	waitFor(t, "no handler count", func() bool { return b.Stat(CounterUDPNoHandler) == 1 })
	if err = b.UnregisterUDP(7000); err != nil {
		t.Fatal(err)
	}
	if err = b.UnregisterUDP(7000); err == nil {
		t.Fatal("double unregister succeeded")
	}
}

func TestUnresolvedQueueDropsOldest(t *testing.T) {
	ea, eb := link.NewPipe(32, fixnet.MaxFrameSize)
	s := startStack(t, ea, hwA, ipA, nil)
	target := [4]byte{10, 0, 0, 77}
	peer := newRawPeer(t, eb, [6]byte{0x02, 0, 0, 0, 0, 0x77}, target)
	for i := range 6 {
		if err := s.SendUDP(target, 9, 9, []byte{byte('0' + i)}); err != nil {
			t.Fatal(err)
		}
	}
	if n := s.UnresolvedQueued(); n != 4 {
		t.Fatalf("queued=%d", n)
	}
	if n := s.Stat(CounterUnresolvedDrops); n != 2 {
		t.Fatalf("drops=%d", n)
	}
	peer.expect(layers.LayerTypeARP)
	peer.send(peer.eth(hwA[:], layers.EthernetTypeARP), peer.arp(layers.ARPReply, hwA[:], ipA[:]))
	for _, want := range "2345" {
		pkt := peer.expect(layers.LayerTypeUDP)
		u := pkt.Layer(layers.LayerTypeUDP).(*layers.UDP)
		if string(u.Payload) != string(want) {
			t.Fatalf("got datagram %q, want %q", u.Payload, want)
		}
	}
	if n := s.UnresolvedQueued(); n != 0 {
		t.Fatalf("queue not drained: %d", n)
	}
}

func TestDHCP(t *testing.T) {
	ea, eb := link.NewPipe(32, fixnet.MaxFrameSize)
	client := startStack(t, ea, hwA, [4]byte{}, func(c *StackConfig) {
		c.IPv4 = ipv4.Config{}
		c.Hostname = "fixnet-test"
	})
	server := startStack(t, eb, hwB, ipGW, nil)

	var sv dhcpv4.Server
	err := sv.Configure(dhcpv4.ServerConfig{
		ServerAddr: ipGW,
		Gateway:    ipGW,
		DNS:        ipGW,
		Subnet:     netip.PrefixFrom(netip.AddrFrom4(ipGW), 24),
	})
	if err != nil {
		t.Fatal(err)
	}
	replies := startReplier(t, server, dhcpv4.DefaultServerPort)
	server.RegisterUDP(dhcpv4.DefaultServerPort, UDPHandlerFunc(func(src [4]byte, srcPort uint16, payload []byte) {
		if sv.Demux(payload) != nil {
			return
		}
		buf := make([]byte, 576)
		n, _, err := sv.Encapsulate(buf)
		if err == nil && n > 0 {
			replies <- udpReply{dst: ipv4.LimitedBroadcast, port: dhcpv4.DefaultClientPort, msg: buf[:n]}
		}
	}))

	lease, err := client.DHCP(5 * time.Second)
	if err != nil {
		t.Fatal(err)
	}
	want := [4]byte{10, 0, 0, 2}
	if lease.Addr != want || lease.Router != ipGW || lease.Mask != mask24 {
		t.Fatalf("unexpected lease %+v", lease)
	}
	cfg := client.IPv4()
	if cfg.Addr != want || cfg.Gateway != ipGW || cfg.Mask != mask24 {
		t.Fatalf("lease not applied: %+v", cfg)
	}
	if client.DNSServer() != ipGW {
		t.Fatalf("lease name server not applied: %v", client.DNSServer())
	}
	// The bound client answers ARP for its new address.
	hw, err := server.ResolveHardwareAddr(want)
	if err != fixnet.ErrUnresolved && err != nil {
		t.Fatal(err)
	}
	waitFor(t, "client resolution", func() bool {
		hw, err = server.ResolveHardwareAddr(want)
		return err == nil
	})
	if hw != hwA {
		t.Fatalf("resolved %x", hw)
	}
}

func TestDHCPTimeout(t *testing.T) {
	ea, _ := link.NewPipe(8, fixnet.MaxFrameSize)
	s := startStack(t, ea, hwA, [4]byte{}, func(c *StackConfig) { c.IPv4 = ipv4.Config{} })
	start := time.Now()
	_, err := s.DHCP(50 * time.Millisecond)
	if err != fixnet.ErrTimeout {
		t.Fatalf("want timeout, got %v", err)
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("timeout took %s", elapsed)
	}
	// Port is released for the next attempt.
	if err = s.RegisterUDP(dhcpv4.DefaultClientPort, UDPHandlerFunc(func([4]byte, uint16, []byte) {})); err != nil {
		t.Fatal(err)
	}
}

type udpReply struct {
	dst  [4]byte
	port uint16
	msg  []byte
}

// startReplier sends the datagrams queued on the returned channel from
// srcPort of s. UDP handlers must not block, so they queue replies here.
func startReplier(t *testing.T, s *Stack, srcPort uint16) chan<- udpReply {
	replies := make(chan udpReply, 4)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case r := <-replies:
				s.SendUDP(r.dst, r.port, srcPort, r.msg)
			}
		}
	}()
	return replies
}

// serveDNS answers A queries on b from the records table. Names missing
// from it get a name error. The first query is dropped when dropFirst is set.
func serveDNS(t *testing.T, b *Stack, records map[string][]net.IP, dropFirst bool) (queries func() int) {
	var mu sync.Mutex
	var n int
	replies := startReplier(t, b, 53)
	b.RegisterUDP(53, UDPHandlerFunc(func(src [4]byte, srcPort uint16, payload []byte) {
		var q layers.DNS
		if q.DecodeFromBytes(payload, gopacket.NilDecodeFeedback) != nil || q.QR || len(q.Questions) != 1 {
			return
		}
		mu.Lock()
		n++
		drop := dropFirst && n == 1
		mu.Unlock()
		if drop {
			return
		}
		resp := layers.DNS{ID: q.ID, QR: true, RD: q.RD, RA: true, Questions: q.Questions}
		ips, ok := records[string(q.Questions[0].Name)]
		if !ok {
			resp.ResponseCode = layers.DNSResponseCodeNXDomain
		}
		for i, ip := range ips {
			resp.Answers = append(resp.Answers, layers.DNSResourceRecord{
				Name: q.Questions[0].Name, Type: layers.DNSTypeA, Class: layers.DNSClassIN,
				TTL: uint32(300 - i), IP: ip,
			})
		}
		sb := gopacket.NewSerializeBuffer()
		if resp.SerializeTo(sb, gopacket.SerializeOptions{FixLengths: true}) != nil {
			return
		}
		replies <- udpReply{dst: src, port: srcPort, msg: bytes.Clone(sb.Bytes())}
	}))
	return func() int {
		mu.Lock()
		defer mu.Unlock()
		return n
	}
}

func TestLookupIPv4(t *testing.T) {
	a, b, _ := startPair(t, func(c *StackConfig) { c.DNSServer = ipB })
	queries := serveDNS(t, b, map[string][]net.IP{
		"db.fixnet.test": {net.IPv4(10, 0, 0, 20), net.IPv4(10, 0, 0, 21)},
	}, false)

	addrs, err := a.LookupIPv4("db.fixnet.test", 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	want := []netip.Addr{netip.MustParseAddr("10.0.0.20"), netip.MustParseAddr("10.0.0.21")}
	if len(addrs) != len(want) || addrs[0] != want[0] || addrs[1] != want[1] {
		t.Fatalf("got %v want %v", addrs, want)
	}

	// Served from the cache.
	addrs, err = a.LookupIPv4("db.fixnet.test.", 2*time.Second)
	if err != nil || len(addrs) != 2 {
		t.Fatalf("cached lookup: %v %v", addrs, err)
	}
	if queries() != 1 {
		t.Fatalf("cached answer queried again: %d queries", queries())
	}

	_, err = a.LookupIPv4("nope.fixnet.test", 2*time.Second)
	if errors.Cause(err) != dns.RCodeNameError {
		t.Fatalf("want name error, got %v", err)
	}
	if queries() != 2 {
		t.Fatalf("server saw %d queries", queries())
	}
	if _, err = a.LookupIPv4("bad..name", time.Second); err == nil {
		t.Fatal("invalid name accepted")
	}
}

func TestLookupIPv4Retransmits(t *testing.T) {
	a, b, _ := startPair(t, func(c *StackConfig) { c.DNSServer = ipB })
	queries := serveDNS(t, b, map[string][]net.IP{"x.test": {net.IPv4(1, 2, 3, 4)}}, true)
	addrs, err := a.LookupIPv4("x.test", 3*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if len(addrs) != 1 || addrs[0] != netip.AddrFrom4([4]byte{1, 2, 3, 4}) {
		t.Fatalf("got %v", addrs)
	}
	if queries() < 2 {
		t.Fatalf("query not retransmitted: %d", queries())
	}
}

func TestLookupIPv4Unconfigured(t *testing.T) {
	a, _, _ := startPair(t, nil)
	_, err := a.LookupIPv4("x.test", 50*time.Millisecond)
	if !errors.IsNotFound(err) {
		t.Fatalf("want not found, got %v", err)
	}
	a.SetDNSServer(ipB) // Nobody answers on B.
	start := time.Now()
	_, err = a.LookupIPv4("x.test", 50*time.Millisecond)
	if err != fixnet.ErrTimeout {
		t.Fatalf("want timeout, got %v", err)
	}
	if time.Since(start) > time.Second {
		t.Fatal("timeout overrun")
	}
}

func TestQueryNTP(t *testing.T) {
	a, b, _ := startPair(t, nil)
	const skew = -90 * time.Second
	replies := startReplier(t, b, ntp.ServerPort)
	b.RegisterUDP(ntp.ServerPort, UDPHandlerFunc(func(src [4]byte, srcPort uint16, payload []byte) {
		req, err := ntp.NewFrame(payload)
		if err != nil {
			return
		}
		if mode, _, _ := req.Flags(); mode != ntp.ModeClient {
			return
		}
		msg := make([]byte, ntp.SizeHeader)
		resp, _ := ntp.NewFrame(msg)
		now := time.Now().Add(skew)
		resp.SetFlags(ntp.ModeServer, ntp.Version4, ntp.LeapNoWarning)
		resp.SetStratum(2)
		resp.SetOriginTime(req.TransmitTime())
		resp.SetReceiveTime(ntp.TimestampFromTime(now))
		resp.SetTransmitTime(ntp.TimestampFromTime(now))
		replies <- udpReply{dst: src, port: srcPort, msg: msg}
	}))
	res, err := a.QueryNTP(ipB, 2*time.Second)
	if err != nil {
		t.Fatal(err)
	}
	if diff := (res.Offset - skew).Abs(); diff > 50*time.Millisecond {
		t.Fatalf("offset %s, want about %s", res.Offset, skew)
	}
	if res.RoundTrip < 0 || res.RoundTrip > time.Second {
		t.Fatalf("round trip %s", res.RoundTrip)
	}
	if _, err = a.QueryNTP([4]byte{}, time.Second); !errors.IsNotValid(err) {
		t.Fatalf("zero server: %v", err)
	}
}

func TestQueryNTPTimeout(t *testing.T) {
	a, _, _ := startPair(t, nil)
	_, err := a.QueryNTP(ipB, 50*time.Millisecond)
	if err != fixnet.ErrTimeout {
		t.Fatalf("want timeout, got %v", err)
	}
}

func TestDump(t *testing.T) {
	a, b, _ := startPair(t, nil)
	l, err := b.NewServer(80)
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()
	a.SendUDP(ipB, 9, 9, []byte("x"))
	var sb strings.Builder
	if err = b.Dump(&sb); err != nil {
		t.Fatal(err)
	}
	out := sb.String()
	for _, want := range []string{"pool tx", "pool rx", "LISTEN", "arp", CounterRxFrames.String()} {
		if !strings.Contains(out, want) {
			t.Errorf("dump missing %q:\n%s", want, out)
		}
	}
	if testing.Verbose() {
		fmt.Println(out)
	}
}

func TestDHCPChecksumWithAddress(t *testing.T) {
	ea, eb := link.NewPipe(16, fixnet.MaxFrameSize)
	s := startStack(t, ea, hwA, ipA, nil)
	peer := newRawPeer(t, eb, hwB, ipGW)
	done := make(chan error, 1)
	go func() {
		_, err := s.DHCP(200 * time.Millisecond)
		done <- err
	}()
	pkt := peer.expect(layers.LayerTypeUDP)
	ip := pkt.Layer(layers.LayerTypeIPv4).(*layers.IPv4)
	if !ip.SrcIP.Equal(net.IP(ipA[:])) {
		t.Fatalf("discover sent from %s", ip.SrcIP)
	}
	ufrm, err := udp.NewFrame(ip.Payload)
	if err != nil {
		t.Fatal(err)
	}
	if ufrm.DestinationPort() != dhcpv4.DefaultServerPort {
		t.Fatalf("discover sent to port %d", ufrm.DestinationPort())
	}
	var v fixnet.Validator
	ufrm.ValidateIPv4CRC(&v, [4]byte(ip.SrcIP.To4()), [4]byte(ip.DstIP.To4()))
	if err := v.Err(); err != nil {
		t.Fatal(err)
	}
	if err := <-done; err != fixnet.ErrTimeout {
		t.Fatalf("want timeout without a server, got %v", err)
	}
}
