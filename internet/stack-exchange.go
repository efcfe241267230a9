package internet

import (
	"log/slog"
	"sync"
	"time"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
)

// Exchanges bind a source port in the dynamic range.
const (
	ephemeralBase  = 49152
	ephemeralRange = 16384
)

// exchangeClient is a request/response protocol client that performs no
// I/O, such as the DNS and NTP clients.
type exchangeClient interface {
	// Encapsulate writes the pending request to dst, returning 0 when none is pending.
	Encapsulate(dst []byte) (int, error)
	Done() bool
	// Retransmit makes the last request pending again.
	Retransmit()
}

// exchange describes a request/response dialogue with a single server.
// The client is only accessed with mu held; replies are fed to it by the
// UDP handler bound to srcPort, which signals ev when it is done.
type exchange struct {
	name    string
	ev      *internal.Event
	backoff internal.Backoff
	dst     [4]byte
	srcPort uint16
	dstPort uint16
	maxSize int
	mu      *sync.Mutex
	client  exchangeClient
}

// runExchange sends requests until the client is done, waiting an
// exponentially growing interval for each reply. timeout<=0 waits
// indefinitely.
func (s *Stack) runExchange(x *exchange, timeout time.Duration) error {
	var deadline time.Time
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	x.ev.Clear()
	for {
		x.mu.Lock()
		done := x.client.Done()
		x.mu.Unlock()
		if done {
			return nil
		}
		if !deadline.IsZero() && !time.Now().Before(deadline) {
			return fixnet.ErrTimeout
		}
		if err := s.sendExchange(x); err != nil {
			s.debug(x.name+":send", slog.String("err", err.Error()))
		}
		wait := time.Now().Add(x.backoff.Next())
		if !deadline.IsZero() && deadline.Before(wait) {
			wait = deadline
		}
		if !x.ev.Wait(wait) {
			x.mu.Lock()
			x.client.Retransmit()
			x.mu.Unlock()
		}
	}
}

func (s *Stack) sendExchange(x *exchange) error {
	buf, err := s.tx.Acquire(s.cfg.TxTimeout)
	if err != nil {
		s.count(CounterTxNoBuffer)
		return err
	}
	buf.Reserve(fixnet.SizeHeaderEthernet + fixnet.SizeHeaderIPv4 + fixnet.SizeHeaderUDP)
	size := buf.Tailroom()
	if x.maxSize > 0 {
		size = min(size, x.maxSize)
	}
	x.mu.Lock()
	n, err := x.client.Encapsulate(buf.Extend(size))
	x.mu.Unlock()
	if err != nil || n == 0 {
		s.tx.Release(buf)
		return err
	}
	buf.Truncate(n)
	s.trace(x.name+":tx", internal.SlogAddr4("server", &x.dst), internal.SlogPort("sport", x.srcPort))
	return s.transmitUDP(buf, x.dst, x.srcPort, x.dstPort)
}

// registerEphemeralUDP binds h to a pseudo random port of the dynamic range.
func (s *Stack) registerEphemeralUDP(seed uint16, h UDPHandler) (port uint16, err error) {
	for range 4 {
		seed = internal.Prand16(seed | 1)
		port = ephemeralBase + seed%ephemeralRange
		err = s.RegisterUDP(port, h)
		if err != fixnet.ErrPortInUse {
			return port, err
		}
	}
	return 0, err
}
