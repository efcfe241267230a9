package dhcpv4

import (
	"encoding/binary"
	"errors"
	"math"
	"math/bits"
	"net"
	"net/netip"
	"time"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/internal"
)

var (
	// ErrNak is returned by [Client.Demux] when the server declined the
	// requested lease. The client is returned to [StateInit].
	ErrNak = errors.New("dhcpv4: NAK received")

	errUnexpectedXID  = errors.New("dhcpv4: unexpected transaction ID")
	errNotReply       = errors.New("dhcpv4: not a reply")
	errHardwareAddr   = errors.New("dhcpv4: reply for another client")
	errUnexpectedType = errors.New("dhcpv4: unexpected message type")
)

// Client is a DHCP client state machine which acquires an initial lease.
// It only reads and writes DHCP payloads; the caller handles UDP/IPv4
// encapsulation and retransmission timing. Client is not safe for concurrent use.
type Client struct {
	vld         fixnet.Validator
	reqHostname string
	clientID    []byte
	dns         netip.Addr

	tRenew     uint32
	tRebind    uint32
	tIPLease   uint32
	currentXID uint32
	state      ClientState
	clientMAC  [6]byte
	offer      addr4
	svip       addr4 // OptServerIdentification.
	siip       addr4 // SIAddr.
	reqIP      addr4
	router     addr4
	subnet     addr4
	broadcast  addr4
}

type addr4 struct {
	addr  [4]byte
	valid bool
}

func (a *addr4) unpack() ([4]byte, bool) {
	return a.addr, a.valid
}

func (a *addr4) setmaybe(data []byte) {
	if len(data) == 4 {
		a.set4([4]byte(data))
	} else {
		a.valid = false
	}
}

func (a *addr4) set4(addr [4]byte) {
	a.valid = true
	a.addr = addr
}

// RequestConfig configures a lease acquisition started with [Client.BeginRequest].
type RequestConfig struct {
	// RequestedAddr is an optional previously held address.
	RequestedAddr      [4]byte
	ClientHardwareAddr [6]byte
	// Optional hostname to request.
	Hostname string
	// Optional client identifier. The hardware address is used if empty.
	ClientID string
}

// Lease is the address configuration obtained from a DHCP server.
type Lease struct {
	Addr      [4]byte
	Mask      [4]byte
	Router    [4]byte
	Broadcast [4]byte
	Server    [4]byte
	DNS       netip.Addr
	Duration  time.Duration
	Renewal   time.Duration
	Rebinding time.Duration
}

// Reset clears all DHCP state. The client is closed until the next [Client.BeginRequest].
func (c *Client) Reset() {
	c.reset(0)
	c.state = 0
}

// BeginRequest starts a new lease acquisition with transaction ID xid.
func (c *Client) BeginRequest(xid uint32, cfg RequestConfig) error {
	if len(cfg.Hostname) > 36 {
		return errors.New("dhcpv4: requested hostname too long")
	} else if c.state != StateInit && c.state != 0 {
		return errors.New("dhcpv4: client must be closed/Init before new request")
	} else if xid == 0 {
		return errors.New("dhcpv4: zero xid")
	} else if len(cfg.ClientID) > 32 {
		return errors.New("dhcpv4: client ID too long")
	}
	c.reset(xid)
	c.reqHostname = cfg.Hostname
	c.reqIP = addr4{addr: cfg.RequestedAddr, valid: cfg.RequestedAddr != [4]byte{}}
	c.clientMAC = cfg.ClientHardwareAddr
	if cfg.ClientID != "" {
		c.clientID = append(c.clientID[:0], cfg.ClientID...)
	} else {
		c.clientID = append(c.clientID[:0], c.clientMAC[:]...)
	}
	return nil
}

// Encapsulate writes the next outgoing DHCP message to dst, the UDP payload,
// and returns its length. A Discover is sent in Init and re-sent while
// selecting without an offer; a Request is sent once an offer is held and
// re-sent while awaiting the Ack. Zero is returned when the client is bound.
func (c *Client) Encapsulate(dst []byte) (int, error) {
	if c.isClosed() {
		return 0, net.ErrClosed
	} else if c.state == StateBound {
		return 0, nil // Done!
	}
	frm, err := NewFrame(dst)
	if err != nil {
		return 0, err
	}
	opts := frm.OptionsPayload()
	if len(opts) < 255 {
		return 0, errOptionNotFit
	}

	var nextState ClientState
	var numOpts int
	switch {
	case c.state == StateInit || (c.state == StateSelecting && !c.offer.valid):
		n, _ := EncodeOption(opts[numOpts:], OptMessageType, byte(MsgDiscover))
		numOpts += n
		n, _ = EncodeOption(opts[numOpts:], OptParameterRequestList, defaultParamReqList...)
		numOpts += n
		maxlen := len(dst)
		if maxlen > math.MaxUint16 {
			maxlen = math.MaxUint16
		}
		n, _ = EncodeOption16(opts[numOpts:], OptMaximumMessageSize, uint16(maxlen))
		numOpts += n
		if c.reqIP.valid {
			n, _ = EncodeOption(opts[numOpts:], OptRequestedIPaddress, c.reqIP.addr[:]...)
			numOpts += n
		}
		nextState = StateSelecting

	case c.state == StateSelecting || c.state == StateRequesting:
		n, _ := EncodeOption(opts[numOpts:], OptMessageType, byte(MsgRequest))
		numOpts += n
		n, _ = EncodeOption(opts[numOpts:], OptRequestedIPaddress, c.offer.addr[:]...)
		numOpts += n
		n, _ = EncodeOption(opts[numOpts:], OptServerIdentification, c.svip.addr[:]...)
		numOpts += n
		n, _ = EncodeOption(opts[numOpts:], OptParameterRequestList, defaultParamReqList...)
		numOpts += n
		nextState = StateRequesting

	default:
		return 0, errors.New("dhcpv4: unhandled state " + c.state.String())
	}
	n, _ := EncodeOption(opts[numOpts:], OptClientIdentifier, c.clientID...)
	numOpts += n
	if len(c.reqHostname) > 0 {
		n, err := EncodeOptionString(opts[numOpts:], OptHostName, c.reqHostname)
		numOpts += n
		if err != nil {
			return 0, err
		}
	}
	opts[numOpts] = byte(OptEnd)
	numOpts++
	c.setHeader(frm, nextState)
	c.state = nextState
	return OptionsOffset + numOpts, nil
}

// Demux processes an incoming DHCP payload. Offers are accepted while
// selecting, the first one received is locked in. An Ack while requesting
// binds the client. A NAK while requesting returns the client to Init with a
// new transaction ID and returns [ErrNak].
func (c *Client) Demux(payload []byte) error {
	if c.isClosed() {
		return net.ErrClosed
	}
	frm, err := NewFrame(payload)
	if err != nil {
		return err
	}
	frm.ValidateSize(&c.vld)
	if c.vld.HasError() {
		return c.vld.ErrPop()
	} else if frm.XID() != c.currentXID {
		return errUnexpectedXID
	} else if frm.Op() != OpReply {
		return errNotReply
	} else if *frm.CHAddrAs6() != c.clientMAC {
		return errHardwareAddr
	}
	msgType := frm.MessageType()
	switch {
	case msgType == MsgNak && c.state == StateRequesting:
		c.reset(internal.Prand32(c.currentXID)) // Xorshift never yields zero from nonzero.
		return ErrNak

	case msgType == MsgOffer && c.state == StateSelecting:
		if c.offer.valid {
			return nil // Already locked in on an offer.
		}
		if err = c.setOptions(frm); err != nil {
			return err
		}
		c.offer.set4(*frm.YIAddr())
		c.siip.set4(*frm.SIAddr())

	case msgType == MsgAck && c.state == StateRequesting:
		if err = c.setOptions(frm); err != nil {
			return err
		}
		if yi := *frm.YIAddr(); yi != ([4]byte{}) {
			c.offer.set4(yi)
		}
		c.state = StateBound

	default:
		return errUnexpectedType
	}
	return nil
}

func (c *Client) setOptions(frm Frame) error {
	return frm.ForEachOption(func(_ int, opt OptNum, data []byte) error {
		switch opt {
		case OptRenewTimeValue:
			c.tRenew = maybeU32(data)
		case OptIPAddressLeaseTime:
			c.tIPLease = maybeU32(data)
		case OptRebindingTimeValue:
			c.tRebind = maybeU32(data)
		case OptServerIdentification:
			c.svip.setmaybe(data)
		case OptRouter:
			if len(data) >= 4 {
				c.router.setmaybe(data[:4]) // First router is preferred.
			}
		case OptBroadcastAddress:
			c.broadcast.setmaybe(data)
		case OptSubnetMask:
			c.subnet.setmaybe(data)
		case OptDNSServers:
			if len(data) >= 4 {
				c.dns = netip.AddrFrom4([4]byte(data[:4]))
			}
		}
		return nil
	})
}

func (c *Client) isClosed() bool { return c.state == 0 || c.currentXID == 0 }

func (c *Client) setHeader(frm Frame, next ClientState) {
	frm.ClearHeader()
	frm.SetOp(OpRequest)
	frm.SetXID(c.currentXID)
	frm.SetHardware(1, 6, 0)
	frm.SetSecs(0)
	// We cannot receive unicast until configured.
	frm.SetFlags(FlagBroadcast)
	if next == StateRequesting && !c.siip.valid {
		*frm.SIAddr() = c.svip.addr
	} else if next == StateRequesting {
		*frm.SIAddr() = c.siip.addr
	}
	copy(frm.CHAddrAs6()[:], c.clientMAC[:])
	frm.SetMagicCookie(MagicCookie)
}

func (c *Client) reset(xid uint32) {
	*c = Client{
		reqHostname: c.reqHostname,
		currentXID:  xid,
		reqIP:       c.reqIP,
		clientMAC:   c.clientMAC,
		clientID:    c.clientID,
		state:       StateInit,
	}
}

// State returns the current client state.
func (c *Client) State() ClientState { return c.state }

// XID returns the transaction ID of the exchange in progress.
func (c *Client) XID() uint32 { return c.currentXID }

// Lease returns the acquired lease. ok is false until the client is bound.
func (c *Client) Lease() (lease Lease, ok bool) {
	if c.state != StateBound {
		return Lease{}, false
	}
	lease = Lease{
		Addr:      c.offer.addr,
		Mask:      c.subnet.addr,
		Router:    c.router.addr,
		Broadcast: c.broadcast.addr,
		Server:    c.svip.addr,
		DNS:       c.dns,
		Duration:  time.Duration(c.tIPLease) * time.Second,
		Renewal:   time.Duration(c.tRenew) * time.Second,
		Rebinding: time.Duration(c.tRebind) * time.Second,
	}
	return lease, true
}

func (c *Client) AssignedAddr() ([4]byte, bool) { return c.offer.unpack() }
func (c *Client) ServerAddr() ([4]byte, bool)   { return c.svip.unpack() }
func (c *Client) RouterAddr() ([4]byte, bool)   { return c.router.unpack() }
func (c *Client) Subnet() ([4]byte, bool)       { return c.subnet.unpack() }

// SubnetCIDRBits returns the prefix length of the subnet mask, or 0 if not received.
func (c *Client) SubnetCIDRBits() uint8 {
	if !c.subnet.valid {
		return 0
	}
	v := binary.BigEndian.Uint32(c.subnet.addr[:])
	return 32 - uint8(bits.TrailingZeros32(v))
}

var defaultParamReqList = []byte{
	byte(OptSubnetMask),
	byte(OptRouter),
	byte(OptBroadcastAddress),
	byte(OptDNSServers),
	byte(OptIPAddressLeaseTime),
}

func maybeU32(b []byte) uint32 {
	if len(b) != 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}
