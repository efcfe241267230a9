package ipv4

import "encoding/binary"

// LimitedBroadcast is the all ones broadcast address 255.255.255.255.
var LimitedBroadcast = [4]byte{255, 255, 255, 255}

// Config is an interface's IPv4 address configuration. A zero Addr means
// the interface has no address yet, i.e. while DHCP is in progress.
type Config struct {
	Addr      [4]byte
	Mask      [4]byte
	Gateway   [4]byte
	Broadcast [4]byte
}

// SubnetBroadcast returns the directed broadcast address of the subnet:
// Broadcast if set, otherwise derived from Addr and Mask.
func (c *Config) SubnetBroadcast() [4]byte {
	if c.Broadcast != ([4]byte{}) {
		return c.Broadcast
	}
	a := binary.BigEndian.Uint32(c.Addr[:])
	m := binary.BigEndian.Uint32(c.Mask[:])
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], a|^m)
	return b
}

// IsBroadcast reports whether dst is the limited or subnet broadcast address.
func (c *Config) IsBroadcast(dst [4]byte) bool {
	return dst == LimitedBroadcast || (c.Mask != ([4]byte{}) && dst == c.SubnetBroadcast())
}

// OnLink reports whether dst is on the local subnet and reachable without the gateway.
func (c *Config) OnLink(dst [4]byte) bool {
	m := binary.BigEndian.Uint32(c.Mask[:])
	a := binary.BigEndian.Uint32(c.Addr[:])
	d := binary.BigEndian.Uint32(dst[:])
	return a&m == d&m
}

// Accepts reports whether a datagram addressed to dst is for this interface.
func (c *Config) Accepts(dst [4]byte) bool {
	return dst == c.Addr || c.IsBroadcast(dst)
}

// NextHop returns the address whose hardware address a datagram to dst
// must be sent to. Broadcasts return dst with broadcast set. On-link
// destinations are reached directly; everything else goes through the
// gateway. A zero hop means dst is off-link and no gateway is configured.
func (c *Config) NextHop(dst [4]byte) (hop [4]byte, broadcast bool) {
	if c.IsBroadcast(dst) {
		return dst, true
	}
	if c.OnLink(dst) {
		return dst, false
	}
	return c.Gateway, false
}
