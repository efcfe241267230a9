package ethernet

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/fixnet"
)

// NewFrame returns a Frame with data set to buf.
// An error is returned if the buffer size is smaller than 14.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: nil}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of an Ethernet II frame
// without including preamble (first byte is start of destination address)
// or frame check sequence, and provides methods for manipulating, validating
// and retrieving fields and payload data. VLAN tagged frames are not supported.
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (efrm Frame) RawData() []byte { return efrm.buf }

// HeaderLength returns the length of the ethernet header.
func (efrm Frame) HeaderLength() int { return sizeHeader }

// Payload returns the data portion of the ethernet frame. For IEEE 802.3
// frames with a size field the payload is cut to that size.
func (efrm Frame) Payload() []byte {
	et := efrm.EtherTypeOrSize()
	if et.IsSize() && sizeHeader+int(et) <= len(efrm.buf) {
		return efrm.buf[sizeHeader : sizeHeader+int(et)]
	}
	return efrm.buf[sizeHeader:]
}

// DestinationHardwareAddr returns the target's MAC/hardware address for the ethernet frame.
func (efrm Frame) DestinationHardwareAddr() (dst *[6]byte) {
	return (*[6]byte)(efrm.buf[0:6])
}

// IsBroadcast returns true if the destination is the broadcast address ff:ff:ff:ff:ff:ff, false otherwise.
func (efrm Frame) IsBroadcast() bool {
	return *efrm.DestinationHardwareAddr() == BroadcastAddr()
}

// SourceHardwareAddr returns the sender's MAC/hardware address of the ethernet frame.
func (efrm Frame) SourceHardwareAddr() (src *[6]byte) {
	return (*[6]byte)(efrm.buf[6:12])
}

// EtherTypeOrSize returns the EtherType/Size field of the ethernet frame.
// Caller should check if the field is actually a valid EtherType or if it represents the Ethernet payload size with [fixnet.EtherType.IsSize].
func (efrm Frame) EtherTypeOrSize() fixnet.EtherType {
	return fixnet.EtherType(binary.BigEndian.Uint16(efrm.buf[12:14]))
}

// SetEtherType sets the EtherType field of the ethernet frame.
func (efrm Frame) SetEtherType(v fixnet.EtherType) {
	binary.BigEndian.PutUint16(efrm.buf[12:14], uint16(v))
}

// SetHeader writes the full 14 byte header.
func (efrm Frame) SetHeader(dst, src [6]byte, etype fixnet.EtherType) {
	*efrm.DestinationHardwareAddr() = dst
	*efrm.SourceHardwareAddr() = src
	efrm.SetEtherType(etype)
}

// ClearHeader zeros out the header contents.
func (efrm Frame) ClearHeader() {
	clear(efrm.buf[:sizeHeader])
}

//
// Validation API.
//

var (
	errShort      = errors.New("ethernet: too short")
	errVLAN       = errors.New("ethernet: VLAN unsupported")
	errZeroSource = errors.New("ethernet: zero source")
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame.
func (efrm Frame) ValidateSize(v *fixnet.Validator) {
	sz := efrm.EtherTypeOrSize()
	if sz.IsSize() && len(efrm.buf) < sizeHeader+int(sz) {
		v.AddError(errShort)
	}
	if sz == fixnet.EtherTypeVLAN {
		v.AddError(errVLAN)
	}
}

// ValidateAddrs checks the source hardware address is neither zero nor a group address.
func (efrm Frame) ValidateAddrs(v *fixnet.Validator) {
	src := efrm.SourceHardwareAddr()
	if *src == [6]byte{} || src[0]&1 != 0 {
		v.AddError(errZeroSource)
	}
}
