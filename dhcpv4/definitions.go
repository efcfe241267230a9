package dhcpv4

import (
	"encoding/binary"
	"errors"
	"strconv"
)

const (
	maxHostSize  = 16  // max size for hostname.
	sizeSName    = 64  // Server name, part of BOOTP too.
	sizeBootFile = 128 // Boot file name, Legacy.
	sizeHeader   = 44
	// Magic Cookie offset measured from the start of the UDP payload.
	magicCookieOffset = sizeHeader + sizeSName + sizeBootFile
	// MagicCookie is the expected value following the BOOTP legacy fields.
	MagicCookie uint32 = 0x63825363
	// OptionsOffset is the DHCP options offset measured from the start of the UDP payload.
	OptionsOffset = magicCookieOffset + 4

	DefaultClientPort = 68
	DefaultServerPort = 67
)

var errOptionNotFit = errors.New("dhcpv4: option does not fit in buffer")

// Op is the BOOTP message op code.
type Op uint8

const (
	OpRequest Op = 1
	OpReply   Op = 2
)

// Flags are the BOOTP flags field. Only the broadcast bit is defined.
type Flags uint16

// FlagBroadcast asks the server to broadcast its replies since the client
// cannot yet receive unicast datagrams.
const FlagBroadcast Flags = 0x8000

// MessageType is the value of the DHCP Message Type option (53).
type MessageType uint8

const (
	MsgDiscover MessageType = iota + 1
	MsgOffer
	MsgRequest
	MsgDecline
	MsgAck
	MsgNak
	MsgRelease
	MsgInform
)

func (mt MessageType) String() string {
	switch mt {
	case MsgDiscover:
		return "DISCOVER"
	case MsgOffer:
		return "OFFER"
	case MsgRequest:
		return "REQUEST"
	case MsgDecline:
		return "DECLINE"
	case MsgAck:
		return "ACK"
	case MsgNak:
		return "NAK"
	case MsgRelease:
		return "RELEASE"
	case MsgInform:
		return "INFORM"
	}
	return "MessageType(" + strconv.Itoa(int(mt)) + ")"
}

// OptNum is a DHCP option code. See [RFC2132].
//
// [RFC2132]: https://tools.ietf.org/html/rfc2132
type OptNum uint8

const (
	OptWordAligned          OptNum = 0
	OptSubnetMask           OptNum = 1
	OptTimeOffset           OptNum = 2
	OptRouter               OptNum = 3
	OptDNSServers           OptNum = 6
	OptHostName             OptNum = 12
	OptDomainName           OptNum = 15
	OptInterfaceMTUSize     OptNum = 26
	OptBroadcastAddress     OptNum = 28
	OptNTPServersAddresses  OptNum = 42
	OptRequestedIPaddress   OptNum = 50
	OptIPAddressLeaseTime   OptNum = 51
	OptMessageType          OptNum = 53
	OptServerIdentification OptNum = 54
	OptParameterRequestList OptNum = 55
	OptMessage              OptNum = 56
	OptMaximumMessageSize   OptNum = 57
	OptRenewTimeValue       OptNum = 58
	OptRebindingTimeValue   OptNum = 59
	OptClientIdentifier     OptNum = 61
	OptEnd                  OptNum = 255
)

// ClientState is the state of the DHCP client per [RFC2131] figure 5. Only
// the states needed for initial address acquisition are implemented.
//
// [RFC2131]: https://tools.ietf.org/html/rfc2131
type ClientState uint8

const (
	_ ClientState = iota
	// StateInit: no lease, Discover pending.
	StateInit
	// StateSelecting: Discover sent, waiting for an Offer.
	StateSelecting
	// StateRequesting: Request sent for the selected Offer, waiting for Ack.
	StateRequesting
	// StateBound: lease acquired.
	StateBound
)

func (s ClientState) String() string {
	switch s {
	case 0:
		return "Closed"
	case StateInit:
		return "Init"
	case StateSelecting:
		return "Selecting"
	case StateRequesting:
		return "Requesting"
	case StateBound:
		return "Bound"
	}
	return "ClientState(" + strconv.Itoa(int(s)) + ")"
}

// HasIP reports whether the client holds an address it may use as source.
func (s ClientState) HasIP() bool { return s == StateBound }

// EncodeOption writes a single option with its code and length to dst and returns bytes written.
func EncodeOption(dst []byte, opt OptNum, data ...byte) (int, error) {
	if len(data) > 255 {
		return 0, errors.New("dhcpv4: option data too long")
	} else if len(dst) < 2+len(data) {
		return 0, errOptionNotFit
	}
	dst[0] = byte(opt)
	dst[1] = byte(len(data))
	copy(dst[2:], data)
	return 2 + len(data), nil
}

// EncodeOption16 writes a 16-bit big endian option.
func EncodeOption16(dst []byte, opt OptNum, v uint16) (int, error) {
	var b [2]byte
	binary.BigEndian.PutUint16(b[:], v)
	return EncodeOption(dst, opt, b[:]...)
}

// EncodeOption32 writes a 32-bit big endian option.
func EncodeOption32(dst []byte, opt OptNum, v uint32) (int, error) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return EncodeOption(dst, opt, b[:]...)
}

// EncodeOptionString writes a string option.
func EncodeOptionString(dst []byte, opt OptNum, s string) (int, error) {
	if len(s) > 255 {
		return 0, errors.New("dhcpv4: option data too long")
	} else if len(dst) < 2+len(s) {
		return 0, errOptionNotFit
	}
	dst[0] = byte(opt)
	dst[1] = byte(len(s))
	copy(dst[2:], s)
	return 2 + len(s), nil
}
