package arp

import (
	"encoding/binary"

	"github.com/soypat/fixnet"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 28 (Ethernet/IPv4 size).
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderv4 {
		return Frame{buf: nil}, errShortARP
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an ARP packet
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC826].
//
// [RFC826]: https://tools.ietf.org/html/rfc826
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (afrm Frame) RawData() []byte { return afrm.buf }

// Hardware returns the network link protocol type and address length. Ethernet is 1.
func (afrm Frame) Hardware() (Type uint16, length uint8) {
	return binary.BigEndian.Uint16(afrm.buf[0:2]), afrm.buf[4]
}

// SetHardware sets the network link protocol type. See [Frame.Hardware].
func (afrm Frame) SetHardware(Type uint16, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[0:2], Type)
	afrm.buf[4] = length
}

// Protocol returns the internet protocol type and length. See [fixnet.EtherType].
func (afrm Frame) Protocol() (Type fixnet.EtherType, length uint8) {
	return fixnet.EtherType(binary.BigEndian.Uint16(afrm.buf[2:4])), afrm.buf[5]
}

// SetProtocol sets the protocol type and length fields of the ARP frame. See [Frame.Protocol].
func (afrm Frame) SetProtocol(Type fixnet.EtherType, length uint8) {
	binary.BigEndian.PutUint16(afrm.buf[2:4], uint16(Type))
	afrm.buf[5] = length
}

// Operation returns the ARP header operation field. See [Operation].
func (afrm Frame) Operation() Operation {
	return Operation(binary.BigEndian.Uint16(afrm.buf[6:8]))
}

// SetOperation sets the ARP header operation field. See [Operation].
func (afrm Frame) SetOperation(op Operation) {
	binary.BigEndian.PutUint16(afrm.buf[6:8], uint16(op))
}

// Sender4 returns the sender's hardware and IPv4 addresses.
// In a reply the hardware address is the one the request was looking for.
func (afrm Frame) Sender4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[8:14]), (*[4]byte)(afrm.buf[14:18])
}

// Target4 returns the target's hardware and IPv4 addresses.
// The target hardware address is ignored in requests.
func (afrm Frame) Target4() (hardwareAddr *[6]byte, proto *[4]byte) {
	return (*[6]byte)(afrm.buf[18:24]), (*[4]byte)(afrm.buf[24:28])
}

// SetRequest4 fills the frame with an Ethernet/IPv4 request asking for target's hardware address.
func (afrm Frame) SetRequest4(senderHW [6]byte, senderIP, target [4]byte) {
	afrm.setHeader4(OpRequest)
	hw, ip := afrm.Sender4()
	*hw, *ip = senderHW, senderIP
	hw, ip = afrm.Target4()
	*hw, *ip = [6]byte{}, target
}

// SetReply4 fills the frame with an Ethernet/IPv4 reply announcing senderHW owns senderIP.
func (afrm Frame) SetReply4(senderHW [6]byte, senderIP [4]byte, targetHW [6]byte, targetIP [4]byte) {
	afrm.setHeader4(OpReply)
	hw, ip := afrm.Sender4()
	*hw, *ip = senderHW, senderIP
	hw, ip = afrm.Target4()
	*hw, *ip = targetHW, targetIP
}

func (afrm Frame) setHeader4(op Operation) {
	afrm.SetHardware(HardwareEthernet, 6)
	afrm.SetProtocol(fixnet.EtherTypeIPv4, 4)
	afrm.SetOperation(op)
}

// ClearHeader zeros out the fixed(non-variable) header contents.
func (afrm Frame) ClearHeader() {
	clear(afrm.buf[:sizeHeader])
}

//
// Validation API.
//

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame.
func (afrm Frame) ValidateSize(v *fixnet.Validator) {
	_, hlen := afrm.Hardware()
	_, ilen := afrm.Protocol()
	minLen := sizeHeader + 2*(int(hlen)+int(ilen))
	if len(afrm.buf) < minLen {
		v.AddError(errShortARP)
	}
}

// Validate4 checks the frame is an Ethernet/IPv4 request or reply.
func (afrm Frame) Validate4(v *fixnet.Validator) {
	afrm.ValidateSize(v)
	htype, hlen := afrm.Hardware()
	ptype, plen := afrm.Protocol()
	if htype != HardwareEthernet || hlen != 6 || ptype != fixnet.EtherTypeIPv4 || plen != 4 {
		v.AddError(errARPUnsupported)
	}
	if op := afrm.Operation(); op != OpRequest && op != OpReply {
		v.AddError(errBadOperation)
	}
}
