package internet

import (
	"context"
	"crypto/rand"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/juju/errors"
	"golang.org/x/time/rate"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/arp"
	"github.com/soypat/fixnet/dhcpv4"
	"github.com/soypat/fixnet/dns"
	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/internal/lrucache"
	"github.com/soypat/fixnet/ipv4"
	"github.com/soypat/fixnet/ntp"
	"github.com/soypat/fixnet/pktbuf"
	"github.com/soypat/fixnet/tcp"
)

// Link transmits complete Ethernet frames. WriteFrame must not retain frame.
type Link interface {
	WriteFrame(frame []byte) error
}

// FrameReader receives Ethernet frames for [Stack.Serve].
type FrameReader interface {
	ReadFrame(dst []byte) (int, error)
}

// txHeadroom is reserved on every transmit buffer so the largest header
// chain built by the stack can be prepended.
const txHeadroom = fixnet.SizeHeaderEthernet + fixnet.SizeHeaderIPv4 + fixnet.SizeHeaderTCP + tcp.SizeSynOptions

// StackConfig configures a [Stack]. Zero fields take the defaults noted.
type StackConfig struct {
	HardwareAddr [6]byte
	// IPv4 is the static address configuration. Leave Addr zero and call
	// [Stack.DHCP] to obtain one.
	IPv4   ipv4.Config
	Link   Link
	Logger *slog.Logger

	TxBuffers  int // default 16
	RxBuffers  int // default 8
	BufferSize int // default 1514
	// MaxConns is the size of the TCP connection table. Default 8.
	MaxConns int
	// RxWindow is the per connection receive ring size and largest
	// advertised window. Must be smaller than the TCP payload a buffer
	// can hold. Default 1024.
	RxWindow int

	ARPCacheSize        int           // default 16
	ARPMaxAge           uint8         // default arp.DefaultMaxAge
	ARPQueryInterval    time.Duration // default 1s
	UnresolvedQueueSize int           // default 4
	MaxUDPHandlers      int           // default 4

	MinRTO, MaxRTO, InitialRTO time.Duration // tcp package defaults
	MaxRetries                 int           // default 8
	TimeWait                   time.Duration // default 2s
	CloseTimeout               time.Duration // default 10s
	// TxTimeout bounds how long application calls wait for a transmit buffer. Default 1s.
	TxTimeout time.Duration

	// ICMPRate and RSTRate limit replies per second. Defaults 20/s, burst of 8.
	ICMPRate, RSTRate   rate.Limit
	ICMPBurst, RSTBurst int

	// Now is the clock used for timers and RTT. Default time.Now.
	Now func() time.Time
	// Rand keys the ISS generator. Default crypto/rand.
	Rand     io.Reader
	Hostname string

	// DNSServer is the name server for [Stack.LookupIPv4]. A DHCP lease
	// may supply one instead.
	DNSServer    [4]byte
	DNSCacheSize int // default 8
}

func (cfg *StackConfig) setDefaults() {
	setDefault(&cfg.TxBuffers, 16)
	setDefault(&cfg.RxBuffers, 8)
	setDefault(&cfg.BufferSize, fixnet.MaxFrameSize)
	setDefault(&cfg.MaxConns, 8)
	setDefault(&cfg.RxWindow, 1024)
	setDefault(&cfg.ARPCacheSize, 16)
	setDefault(&cfg.ARPMaxAge, arp.DefaultMaxAge)
	setDefault(&cfg.ARPQueryInterval, time.Second)
	setDefault(&cfg.UnresolvedQueueSize, 4)
	setDefault(&cfg.MaxUDPHandlers, 4)
	setDefault(&cfg.DNSCacheSize, 8)
	setDefault(&cfg.MaxRetries, 8)
	setDefault(&cfg.TimeWait, 2*time.Second)
	setDefault(&cfg.CloseTimeout, 10*time.Second)
	setDefault(&cfg.TxTimeout, time.Second)
	setDefault(&cfg.ICMPRate, 20)
	setDefault(&cfg.RSTRate, 20)
	setDefault(&cfg.ICMPBurst, 8)
	setDefault(&cfg.RSTBurst, 8)
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Rand == nil {
		cfg.Rand = rand.Reader
	}
}

func setDefault[T comparable](v *T, def T) {
	var zero T
	if *v == zero {
		*v = def
	}
}

func (cfg *StackConfig) validate() error {
	maxPayload := cfg.BufferSize - fixnet.SizeHeaderEthernet - fixnet.SizeHeaderIPv4 - fixnet.SizeHeaderTCP
	switch {
	case cfg.Link == nil:
		return errors.NotValidf("nil link")
	case cfg.HardwareAddr == [6]byte{}:
		return errors.NotValidf("zero hardware address")
	case cfg.BufferSize < fixnet.MinFrameSize+tcp.SizeSynOptions || cfg.BufferSize > fixnet.MaxFrameSize:
		return errors.NotValidf("buffer size %d", cfg.BufferSize)
	case cfg.RxWindow >= maxPayload || cfg.RxWindow > 0xffff:
		return errors.NotValidf("rx window %d for buffer size %d", cfg.RxWindow, cfg.BufferSize)
	case cfg.TxBuffers < 2 || cfg.RxBuffers < 1:
		return errors.NotValidf("buffer counts tx=%d rx=%d", cfg.TxBuffers, cfg.RxBuffers)
	case cfg.DNSCacheSize < 1:
		return errors.NotValidf("dns cache size %d", cfg.DNSCacheSize)
	case cfg.MaxConns < 1 || cfg.MaxRetries < 1:
		return errors.NotValidf("connection limits conns=%d retries=%d", cfg.MaxConns, cfg.MaxRetries)
	}
	return nil
}

// Stack is a single interface IPv4 network stack whose packet memory comes
// exclusively from two fixed [pktbuf.Pool]s. It is safe for concurrent use
// by application goroutines; received frames must be fed from one goroutine.
type Stack struct {
	cfg  StackConfig
	link Link
	hw   [6]byte
	now  func() time.Time
	tx   *pktbuf.Pool
	rx   *pktbuf.Pool

	ipmu      sync.RWMutex
	ip        ipv4.Config
	dnsServer [4]byte
	ipID      internal.Counter16

	arp arp.Handler

	unmu       sync.Mutex
	unresolved unresolvedQueue

	icmpLimit *rate.Limiter
	rstLimit  *rate.Limiter

	udpmu sync.RWMutex
	udp   []udpPort

	dhcpmu    sync.Mutex
	dhcp      dhcpv4.Client
	dhcpEvent internal.Event

	dnsLookup sync.Mutex // held for the duration of a lookup
	dnsmu     sync.Mutex
	dns       dns.Client
	dnsCache  lrucache.Cache[dns.Name, dnsEntry]
	dnsQuery  [4]byte
	dnsEvent  internal.Event

	ntpQuery  sync.Mutex // held for the duration of a query
	ntpmu     sync.Mutex
	ntp       ntp.Client
	ntpServer [4]byte
	ntpEvent  internal.Event

	tcp tcpTable

	stats [numCounters]atomic.Uint64
	logger
}

// NewStack allocates all stack memory up front.
func NewStack(cfg StackConfig) (*Stack, error) {
	cfg.setDefaults()
	if err := cfg.validate(); err != nil {
		return nil, errors.Annotate(err, "stack config")
	}
	s := &Stack{
		cfg:       cfg,
		link:      cfg.Link,
		hw:        cfg.HardwareAddr,
		now:       cfg.Now,
		ip:        cfg.IPv4,
		dnsServer: cfg.DNSServer,
		icmpLimit: rate.NewLimiter(cfg.ICMPRate, cfg.ICMPBurst),
		rstLimit:  rate.NewLimiter(cfg.RSTRate, cfg.RSTBurst),
		udp:       make([]udpPort, 0, cfg.MaxUDPHandlers),
		dnsCache:  lrucache.New[dns.Name, dnsEntry](cfg.DNSCacheSize),
		logger:    logger{log: cfg.Logger},
	}
	var err error
	s.tx, err = pktbuf.NewPool(pktbuf.Config{Name: "tx", Count: cfg.TxBuffers, Size: cfg.BufferSize})
	if err != nil {
		return nil, errors.Annotate(err, "tx pool")
	}
	s.rx, err = pktbuf.NewPool(pktbuf.Config{Name: "rx", Count: cfg.RxBuffers, Size: cfg.BufferSize})
	if err != nil {
		return nil, errors.Annotate(err, "rx pool")
	}
	err = s.arp.Reset(arp.HandlerConfig{
		HardwareAddr:  cfg.HardwareAddr,
		ProtocolAddr:  cfg.IPv4.Addr,
		CacheSize:     cfg.ARPCacheSize,
		MaxAge:        cfg.ARPMaxAge,
		MaxQueries:    cfg.UnresolvedQueueSize,
		QueryInterval: cfg.ARPQueryInterval,
	})
	if err != nil {
		return nil, errors.Annotate(err, "arp")
	}
	s.unresolved.reset(cfg.UnresolvedQueueSize)
	s.dhcpEvent.Init("dhcp")
	s.dnsEvent.Init("dns")
	s.ntpEvent.Init("ntp")
	err = s.tcp.reset(s, &cfg)
	if err != nil {
		return nil, errors.Annotate(err, "tcp")
	}
	s.ipID.Seed(uint16(cfg.Now().UnixNano()))
	return s, nil
}

// HardwareAddr returns the interface MAC address.
func (s *Stack) HardwareAddr() [6]byte { return s.hw }

// IPv4 returns the current address configuration.
func (s *Stack) IPv4() ipv4.Config {
	s.ipmu.RLock()
	defer s.ipmu.RUnlock()
	return s.ip
}

// SetIPv4 replaces the address configuration.
func (s *Stack) SetIPv4(cfg ipv4.Config) {
	s.ipmu.Lock()
	s.ip = cfg
	s.ipmu.Unlock()
	s.arp.SetProtocolAddr(cfg.Addr)
	s.info("stack:set-ipv4", internal.SlogAddr4("addr", &cfg.Addr), internal.SlogAddr4("gw", &cfg.Gateway))
}

func (s *Stack) addr() [4]byte {
	s.ipmu.RLock()
	defer s.ipmu.RUnlock()
	return s.ip.Addr
}

// Serve feeds frames read from r to [Stack.ProcessRx] until r fails or ctx
// is done. Cancellation is observed between frames.
func (s *Stack) Serve(ctx context.Context, r FrameReader) error {
	frame := make([]byte, s.cfg.BufferSize)
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		n, err := r.ReadFrame(frame)
		if err != nil {
			return errors.Annotate(err, "read frame")
		}
		if err = s.ProcessRx(frame[:n]); err != nil {
			s.trace("stack:rx-drop", slog.String("err", err.Error()))
		}
	}
}

// Tick runs the timers of all connections: retransmissions, TIME-WAIT
// expiry and control segments that could not be sent when due.
func (s *Stack) Tick(now time.Time) {
	for i := range s.tcp.socks {
		s.tcp.socks[i].tick(now)
	}
}

// RunTicker calls [Stack.Tick] every d until ctx is done.
func (s *Stack) RunTicker(ctx context.Context, d time.Duration) {
	t := time.NewTicker(d)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Tick(s.now())
		}
	}
}

// Counter enumerates the stack statistics.
type Counter uint8

const (
	CounterRxFrames Counter = iota
	CounterRxNoBuffer
	CounterRxFiltered
	CounterRxUnknownType
	CounterRxBadPacket
	CounterTxFrames
	CounterTxErrors
	CounterTxNoBuffer
	CounterARPRequests
	CounterARPReplies
	CounterUnresolvedDrops
	CounterICMPEchoReplies
	CounterICMPLimited
	CounterUDPNoHandler
	CounterTCPResets
	CounterTCPRetransmits
	CounterTCPAborts
	numCounters
)

var counterNames = [numCounters]string{
	CounterRxFrames:        "rx frames",
	CounterRxNoBuffer:      "rx no buffer",
	CounterRxFiltered:      "rx filtered",
	CounterRxUnknownType:   "rx unknown type",
	CounterRxBadPacket:     "rx bad packet",
	CounterTxFrames:        "tx frames",
	CounterTxErrors:        "tx errors",
	CounterTxNoBuffer:      "tx no buffer",
	CounterARPRequests:     "arp requests",
	CounterARPReplies:      "arp replies",
	CounterUnresolvedDrops: "unresolved drops",
	CounterICMPEchoReplies: "icmp echo replies",
	CounterICMPLimited:     "icmp rate limited",
	CounterUDPNoHandler:    "udp no handler",
	CounterTCPResets:       "tcp resets sent",
	CounterTCPRetransmits:  "tcp retransmits",
	CounterTCPAborts:       "tcp aborts",
}

func (c Counter) String() string {
	if c >= numCounters {
		return "Counter(?)"
	}
	return counterNames[c]
}

// Stat returns the current value of counter c.
func (s *Stack) Stat(c Counter) uint64 { return s.stats[c].Load() }

func (s *Stack) count(c Counter) { s.stats[c].Add(1) }

type logger struct {
	log *slog.Logger
}

func (l logger) error(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelError, msg, attrs...)
}
func (l logger) info(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelInfo, msg, attrs...)
}
func (l logger) warn(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelWarn, msg, attrs...)
}
func (l logger) debug(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, slog.LevelDebug, msg, attrs...)
}
func (l logger) trace(msg string, attrs ...slog.Attr) {
	internal.LogAttrs(l.log, internal.LevelTrace, msg, attrs...)
}
func (l logger) logenabled(lvl slog.Level) bool { return internal.LogEnabled(l.log, lvl) }
