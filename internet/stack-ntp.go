package internet

import (
	"log/slog"
	"time"

	"github.com/juju/errors"

	"github.com/soypat/fixnet/internal"
	"github.com/soypat/fixnet/ntp"
)

const (
	ntpRetransmitMin = time.Second
	ntpRetransmitMax = 8 * time.Second
	// ntpPrecision is the log2 of the stack clock precision in seconds,
	// about one microsecond.
	ntpPrecision = -20
)

// ntpClock feeds the stack clock to the NTP client.
type ntpClock struct {
	c   *ntp.Client
	now func() time.Time
}

func (nc ntpClock) Encapsulate(dst []byte) (int, error) { return nc.c.Encapsulate(dst, nc.now()) }
func (nc ntpClock) Done() bool                          { return nc.c.Done() }
func (nc ntpClock) Retransmit()                         { nc.c.Retransmit() }

// QueryNTP measures the offset of the stack clock from the NTP server
// with a single SNTP exchange, retransmitting the request until a
// reply arrives or timeout elapses. Queries are serialized. The stack
// clock is not adjusted; add the returned offset to it to obtain the
// server's time.
func (s *Stack) QueryNTP(server [4]byte, timeout time.Duration) (ntp.Result, error) {
	if server == ([4]byte{}) {
		return ntp.Result{}, errors.NotValidf("zero ntp server")
	}
	s.ntpQuery.Lock()
	defer s.ntpQuery.Unlock()
	port, err := s.registerEphemeralUDP(uint16(s.now().UnixNano()>>10), UDPHandlerFunc(s.recvNTP))
	if err != nil {
		return ntp.Result{}, errors.Annotate(err, "ntp port")
	}
	defer s.UnregisterUDP(port)

	s.ntpmu.Lock()
	s.ntp.Reset(ntpPrecision)
	s.ntpServer = server
	s.ntpmu.Unlock()
	defer func() {
		s.ntpmu.Lock()
		s.ntp.Abort()
		s.ntpmu.Unlock()
	}()
	err = s.runExchange(&exchange{
		name:    "ntp",
		ev:      &s.ntpEvent,
		backoff: internal.NewBackoff(ntpRetransmitMin, ntpRetransmitMax),
		dst:     server,
		srcPort: port,
		dstPort: ntp.ServerPort,
		maxSize: ntp.SizeHeader,
		mu:      &s.ntpmu,
		client:  ntpClock{c: &s.ntp, now: s.now},
	}, timeout)
	if err != nil {
		s.debug("ntp:timeout", internal.SlogAddr4("server", &server))
		return ntp.Result{}, err
	}
	s.ntpmu.Lock()
	res, err := s.ntp.Result()
	s.ntpmu.Unlock()
	if err != nil {
		return res, errors.Annotate(err, "ntp")
	}
	s.info("ntp:synced", internal.SlogAddr4("server", &server), slog.Duration("offset", res.Offset),
		slog.Duration("rtt", res.RoundTrip), slog.String("stratum", res.Stratum.String()))
	return res, nil
}

func (s *Stack) recvNTP(src [4]byte, srcPort uint16, payload []byte) {
	now := s.now()
	s.ntpmu.Lock()
	if src != s.ntpServer || srcPort != ntp.ServerPort {
		s.ntpmu.Unlock()
		return
	}
	err := s.ntp.Demux(payload, now)
	done := s.ntp.Done()
	s.ntpmu.Unlock()
	if err != nil {
		s.trace("ntp:rx", slog.String("err", err.Error()))
	}
	if done {
		s.ntpEvent.Signal()
	}
}
