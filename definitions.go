package fixnet

import "strconv"

// EtherType identifies the payload protocol of an Ethernet II frame.
type EtherType uint16

// IsSize returns true if the EtherType is actually the size of the payload
// and should NOT be interpreted as an EtherType.
func (et EtherType) IsSize() bool { return et <= 1500 }

// Ethernet types understood by this stack. Frames carrying any other
// type are dropped by the Ethernet layer.
const (
	EtherTypeIPv4 EtherType = 0x0800 // IPv4
	EtherTypeARP  EtherType = 0x0806 // ARP
	EtherTypeVLAN EtherType = 0x8100 // VLAN
	EtherTypeIPv6 EtherType = 0x86DD // IPv6
)

func (et EtherType) String() string {
	switch et {
	case EtherTypeIPv4:
		return "IPv4"
	case EtherTypeARP:
		return "ARP"
	case EtherTypeVLAN:
		return "VLAN"
	case EtherTypeIPv6:
		return "IPv6"
	}
	return "EtherType(0x" + strconv.FormatUint(uint64(et), 16) + ")"
}

// IPProto represents the IP protocol number.
type IPProto uint8

// IP protocol numbers.
const (
	IPProtoICMP IPProto = 1  // Internet Control Message [RFC792]
	IPProtoIGMP IPProto = 2  // Internet Group Management [RFC1112]
	IPProtoTCP  IPProto = 6  // Transmission Control [RFC793]
	IPProtoUDP  IPProto = 17 // User Datagram [RFC768]
)

func (p IPProto) String() string {
	switch p {
	case IPProtoICMP:
		return "ICMP"
	case IPProtoIGMP:
		return "IGMP"
	case IPProtoTCP:
		return "TCP"
	case IPProtoUDP:
		return "UDP"
	}
	return "IPProto(" + strconv.Itoa(int(p)) + ")"
}

// Header sizes of the protocols implemented without options. Only TCP
// SYN segments built by this stack carry options.
const (
	SizeHeaderEthernet = 14
	SizeHeaderARPv4    = 28
	SizeHeaderIPv4     = 20
	SizeHeaderTCP      = 20
	SizeHeaderUDP      = 8
	SizeHeaderICMPEcho = 8
	// MinFrameSize is the minimum Ethernet frame size excluding the FCS.
	// Shorter frames are zero padded on transmit.
	MinFrameSize = 60
	// MaxFrameSize is the size of an Ethernet frame carrying a full 1500 byte MTU.
	MaxFrameSize = 1514
)
