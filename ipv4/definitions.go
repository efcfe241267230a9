package ipv4

const (
	sizeHeader = 20
	// DefaultTTL is the time to live set on datagrams built by this package.
	DefaultTTL = 64
)

// ToS represents the Traffic Class (a.k.a Type of Service). It is 8 bits long. 6 MSB are Differentiated Services; 2 LSB are Explicit Congenstion Notification.
type ToS uint8

// DS returns the top 6 bits of the IPv4 ToS holding the Differentiated Services field
// which is used to classify packets.
func (tos ToS) DS() uint8 { return uint8(tos) >> 2 }

// ECN is the Explicit Congestion Notification which provides congestion control and non-congestion control traffic.
func (tos ToS) ECN() uint8 { return uint8(tos & 0b11) }

// Flags holds fragmentation field data of an IPv4 header. It is 16 bits long.
type Flags uint16

const (
	FlagOffsetMask          = 0x1fff
	FlagMoreFragments Flags = 0x2000
	FlagDontFragment  Flags = 0x4000
	flagReserved      Flags = 0x8000
)

// DontFragment specifies whether the datagram can not be fragmented.
func (f Flags) DontFragment() bool { return f&FlagDontFragment != 0 }

// MoreFragments is cleared for unfragmented packets.
// For fragmented packets, all fragments except the last have the MF flag set.
func (f Flags) MoreFragments() bool { return f&FlagMoreFragments != 0 }

// FragmentOffset specifies the offset of a particular fragment relative to the beginning of the original unfragmented IP datagram
// in units of 8 bytes.
func (f Flags) FragmentOffset() uint16 { return uint16(f) & FlagOffsetMask }

// IsFragment reports whether the datagram is part of a fragmented datagram.
func (f Flags) IsFragment() bool { return f.MoreFragments() || f.FragmentOffset() != 0 }
