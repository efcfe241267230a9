package udp

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/fixnet"
	"github.com/soypat/fixnet/ipv4"
)

const sizeHeader = 8

// NewFrame returns a new Frame with data set to buf.
// An error is returned if the buffer size is smaller than 8.
// Users should still call [Frame.ValidateSize] before working
// with payload of frames to avoid panics.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeader {
		return Frame{buf: buf}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a UDP datagram
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC768].
//
// [RFC768]: https://tools.ietf.org/html/rfc768
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (ufrm Frame) RawData() []byte { return ufrm.buf }

// SourcePort identifies the sending port for the UDP packet.
func (ufrm Frame) SourcePort() uint16 {
	return binary.BigEndian.Uint16(ufrm.buf[0:2])
}

// SetSourcePort sets UDP source port. See [Frame.SourcePort]
func (ufrm Frame) SetSourcePort(src uint16) {
	binary.BigEndian.PutUint16(ufrm.buf[0:2], src)
}

// DestinationPort identifies the receiving port for the UDP packet. Must be non-zero.
func (ufrm Frame) DestinationPort() uint16 {
	return binary.BigEndian.Uint16(ufrm.buf[2:4])
}

// SetDestinationPort sets UDP destination port. See [Frame.DestinationPort]
func (ufrm Frame) SetDestinationPort(dst uint16) {
	binary.BigEndian.PutUint16(ufrm.buf[2:4], dst)
}

// Length specifies length in bytes of UDP header and UDP payload. The minimum length
// is 8 bytes (UDP header length). This field should match the result of the IP header
// TotalLength field minus the IP header size: udp.Length == ip.TotalLength - 4*ip.IHL
func (ufrm Frame) Length() uint16 {
	return binary.BigEndian.Uint16(ufrm.buf[4:6])
}

// SetLength sets the UDP header's length field. See [Frame.Length].
func (ufrm Frame) SetLength(length uint16) {
	binary.BigEndian.PutUint16(ufrm.buf[4:6], length)
}

// CRC returns the checksum field in the UDP header. Zero means no checksum was computed by the sender.
func (ufrm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(ufrm.buf[6:8])
}

// SetCRC sets the UDP header's CRC field. See [Frame.CRC].
func (ufrm Frame) SetCRC(checksum uint16) {
	binary.BigEndian.PutUint16(ufrm.buf[6:8], checksum)
}

// Payload returns the payload content section of the UDP packet.
// Be sure to call [Frame.ValidateSize] beforehand to avoid panic.
func (ufrm Frame) Payload() []byte {
	l := ufrm.Length()
	return ufrm.buf[sizeHeader:l]
}

// SetHeader sets ports and length for a datagram carrying payloadLen bytes.
// The checksum field is zeroed.
func (ufrm Frame) SetHeader(src, dst uint16, payloadLen int) {
	ufrm.SetSourcePort(src)
	ufrm.SetDestinationPort(dst)
	ufrm.SetLength(uint16(sizeHeader + payloadLen))
	ufrm.SetCRC(0)
}

// CalculateIPv4CRC calculates the checksum of the datagram over the IPv4 pseudo header
// formed by src and dst. The checksum field is skipped. The result is never zero
// since a zero checksum means "no checksum" on the wire.
func (ufrm Frame) CalculateIPv4CRC(src, dst [4]byte) uint16 {
	var crc fixnet.CRC791
	length := ufrm.Length()
	ipv4.CRCWritePseudo(&crc, src, dst, fixnet.IPProtoUDP, length)
	crc.Write(ufrm.buf[0:6])
	crc.Write(ufrm.buf[sizeHeader:length])
	return fixnet.NeverZeroChecksum(crc.Sum16())
}

// ClearHeader zeros out the header contents.
func (ufrm Frame) ClearHeader() {
	clear(ufrm.buf[:sizeHeader])
}

//
// Validation API.
//

var (
	errBadLen = errors.New("udp: bad UDP length")
	errShort  = errors.New("udp: short buffer")
)

// ValidateSize checks the frame's size fields and compares with the actual buffer
// the frame. It returns a non-nil error on finding an inconsistency.
func (ufrm Frame) ValidateSize(v *fixnet.Validator) {
	ul := ufrm.Length()
	if ul < sizeHeader {
		v.AddError(errBadLen)
	}
	if int(ul) > len(ufrm.RawData()) {
		v.AddError(errShort)
	}
}

// ValidateIPv4CRC checks the checksum against the pseudo header. Datagrams
// without a checksum pass.
func (ufrm Frame) ValidateIPv4CRC(v *fixnet.Validator, src, dst [4]byte) {
	got := ufrm.CRC()
	if got != 0 && got != ufrm.CalculateIPv4CRC(src, dst) {
		v.AddError(fixnet.ErrBadCRC)
	}
}
