package ntp

import (
	"net"
	"time"
)

type state uint8

const (
	stateClosed state = iota
	stateSend
	stateAwait
	stateDone
)

// Client performs a single SNTP exchange. It performs no I/O: the caller
// moves payloads over UDP and supplies the local clock readings.
type Client struct {
	// t holds the four exchange timestamps:
	//  - t[0]: client transmit time of the request.
	//  - t[1]: server receive time of the request.
	//  - t[2]: server transmit time of the reply.
	//  - t[3]: client receive time of the reply.
	t             [4]Timestamp
	state         state
	serverStratum Stratum
	sysprec       int8
}

// Result is the outcome of an exchange.
type Result struct {
	// Offset is added to the local clock to obtain the server's time.
	Offset time.Duration
	// RoundTrip is the network delay of the exchange, excluding server processing.
	RoundTrip time.Duration
	Stratum   Stratum
}

// Reset starts a new exchange. sysprec is the log2 precision of the local
// clock in seconds, e.g. -20 for microseconds.
func (c *Client) Reset(sysprec int8) {
	*c = Client{
		sysprec: sysprec,
		state:   stateSend,
	}
}

// Encapsulate writes the request to dst, stamping it with now, and returns
// its length. Zero is returned when no request is pending.
func (c *Client) Encapsulate(dst []byte, now time.Time) (int, error) {
	switch c.state {
	case stateClosed:
		return 0, net.ErrClosed
	case stateSend:
	default:
		return 0, nil
	}
	frm, err := NewFrame(dst)
	if err != nil {
		return 0, err
	}
	c.t[0] = TimestampFromTime(now)
	frm.ClearHeader()
	frm.SetFlags(ModeClient, Version4, LeapNoWarning)
	frm.SetStratum(StratumUnsync)
	frm.SetPoll(6)
	frm.SetPrecision(c.sysprec)
	frm.SetTransmitTime(c.t[0])
	c.state = stateAwait
	return SizeHeader, nil
}

// Retransmit makes the request pending again if no reply arrived yet.
func (c *Client) Retransmit() {
	if c.state == stateAwait {
		c.state = stateSend
	}
}

// Demux consumes a server reply received at now. Replies that do not
// answer the last request sent return an error and leave the exchange open.
func (c *Client) Demux(payload []byte, now time.Time) error {
	if c.state != stateAwait && c.state != stateSend {
		return errNoExchange
	}
	frm, err := NewFrame(payload)
	if err != nil {
		return err
	}
	mode, _, leap := frm.Flags()
	switch {
	case mode != ModeServer:
		return errNotServer
	case frm.OriginTime() != c.t[0]:
		return errBadOrigin
	case frm.TransmitTime().IsZero():
		return errZeroTransmit
	case frm.Stratum() == StratumUnspecified:
		c.state = stateDone
		c.serverStratum = StratumUnspecified
		return errKissOfDeath
	case leap == LeapUnsync || frm.Stratum() >= StratumUnsync:
		c.state = stateDone
		c.serverStratum = frm.Stratum()
		return errUnsynced
	}
	c.t[1] = frm.ReceiveTime()
	c.t[2] = frm.TransmitTime()
	c.t[3] = TimestampFromTime(now)
	c.serverStratum = frm.Stratum()
	c.state = stateDone
	return nil
}

// Done reports whether the exchange finished.
func (c *Client) Done() bool { return c.state == stateDone }

// Result returns the clock offset and delay measured by the exchange.
func (c *Client) Result() (Result, error) {
	if c.state != stateDone {
		return Result{}, errNoExchange
	}
	if c.serverStratum == StratumUnspecified {
		return Result{}, errKissOfDeath
	} else if c.serverStratum >= StratumUnsync {
		return Result{Stratum: c.serverStratum}, errUnsynced
	}
	t := &c.t
	return Result{
		Offset:    (t[1].Sub(t[0]) + t[2].Sub(t[3])) / 2,
		RoundTrip: t[3].Sub(t[0]) - t[2].Sub(t[1]),
		Stratum:   c.serverStratum,
	}, nil
}

// Abort ends the exchange.
func (c *Client) Abort() { c.state = stateClosed }

// IsKissOfDeath reports whether err reports a server refusing service.
func IsKissOfDeath(err error) bool { return err == errKissOfDeath }
