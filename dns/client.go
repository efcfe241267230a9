package dns

import (
	"encoding/binary"
	"errors"
	"net"
)

// MaxAddrs is the amount of addresses a [Client] keeps from a response.
const MaxAddrs = 4

var errNoQuery = errors.New("dns: no query in progress")

type clientState uint8

const (
	stateClosed clientState = iota
	stateSend
	stateAwait
	stateDone
)

// Client is a stub resolver for IPv4 address records. It builds queries
// and consumes responses but performs no I/O; the caller moves its
// payloads over UDP and decides when to retransmit.
type Client struct {
	state     clientState
	txid      uint16
	recursion bool
	name      Name
	addrs     [MaxAddrs][4]byte
	naddrs    int
	ttl       uint32
	err       error
}

// StartResolve begins a lookup of the A records of name.
func (c *Client) StartResolve(txid uint16, name Name, recursion bool) {
	*c = Client{
		state:     stateSend,
		txid:      txid,
		recursion: recursion,
		name:      name,
	}
}

// Encapsulate writes the pending query to dst and returns its length.
// Zero is returned when no query is pending.
func (c *Client) Encapsulate(dst []byte) (int, error) {
	switch c.state {
	case stateClosed:
		return 0, net.ErrClosed
	case stateSend:
	default:
		return 0, nil
	}
	if len(dst) < SizeHeader+c.name.Len()+4 {
		return 0, errShort
	}
	n := len(AppendQuery(dst[:0], c.txid, QueryFlags(c.recursion), &c.name, TypeA))
	c.state = stateAwait
	return n, nil
}

// Retransmit makes the query pending again if no answer arrived yet.
func (c *Client) Retransmit() {
	if c.state == stateAwait {
		c.state = stateSend
	}
}

// Demux consumes a response. Messages with a different transaction ID
// are ignored. A response that ends the lookup with an error, such as
// [RCodeNameError], returns that error and is also kept for [Client.Result].
func (c *Client) Demux(payload []byte) error {
	if c.state != stateAwait && c.state != stateSend {
		return errNoQuery
	}
	if len(payload) < SizeHeader || binary.BigEndian.Uint16(payload) != c.txid {
		return nil // Not ours.
	}
	var naddrs int
	var ttl uint32
	_, err := ParseResponse(payload, func(rec Record) {
		if rec.Type != TypeA || rec.Class != ClassINET || len(rec.Data) != 4 || naddrs == MaxAddrs {
			return
		}
		if naddrs == 0 || rec.TTL < ttl {
			ttl = rec.TTL
		}
		c.addrs[naddrs] = [4]byte(rec.Data)
		naddrs++
	})
	if _, isRCode := err.(RCode); err != nil && !isRCode {
		return err
	}
	c.state = stateDone
	c.naddrs, c.ttl, c.err = naddrs, ttl, err
	return err
}

// Done reports whether the lookup finished.
func (c *Client) Done() bool { return c.state == stateDone }

// Result returns the resolved addresses and the smallest of their TTLs.
func (c *Client) Result() (addrs [][4]byte, ttl uint32, err error) {
	if c.state != stateDone {
		return nil, 0, errNoQuery
	}
	return c.addrs[:c.naddrs], c.ttl, c.err
}

// Abort ends the lookup.
func (c *Client) Abort() { c.state = stateClosed }
