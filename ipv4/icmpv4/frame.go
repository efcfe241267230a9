// Package icmpv4 implements the ICMP messages answered by the stack.
// Only Echo Request and Echo Reply are fully supported.
package icmpv4

import (
	"encoding/binary"
	"errors"
	"strconv"

	"github.com/soypat/fixnet"
)

type Type uint8

const (
	TypeEchoReply              Type = 0  // echo reply
	TypeDestinationUnreachable Type = 3  // destination unreachable
	TypeEcho                   Type = 8  // echo
	TypeTimeExceeded           Type = 11 // time exceeded
)

func (t Type) String() string {
	switch t {
	case TypeEchoReply:
		return "echo reply"
	case TypeDestinationUnreachable:
		return "destination unreachable"
	case TypeEcho:
		return "echo"
	case TypeTimeExceeded:
		return "time exceeded"
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

var (
	errShortFrame = errors.New("icmpv4: short frame")
)

const sizeHeaderEcho = 8

func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < sizeHeaderEcho {
		return Frame{}, errShortFrame
	}
	return Frame{buf: buf}, nil
}

// Frame is an ICMPv4 message. See [RFC792].
//
// [RFC792]: https://tools.ietf.org/html/rfc792
type Frame struct {
	buf []byte
}

func (frm Frame) RawData() []byte { return frm.buf }

func (frm Frame) Type() Type { return Type(frm.buf[0]) }

func (frm Frame) SetType(t Type) { frm.buf[0] = uint8(t) }

func (frm Frame) Code() uint8 { return frm.buf[1] }

func (frm Frame) SetCode(code uint8) { frm.buf[1] = code }

// CRC returns the checksum field of the frame.
func (frm Frame) CRC() uint16 {
	return binary.BigEndian.Uint16(frm.buf[2:4])
}

// SetCRC sets the checksum field of the frame.
func (frm Frame) SetCRC(crc uint16) {
	binary.BigEndian.PutUint16(frm.buf[2:4], crc)
}

// CalculateCRC calculates the checksum of the whole message treating the checksum field as zero as per RFC 792.
func (frm Frame) CalculateCRC() uint16 {
	var crc fixnet.CRC791
	crc.AddUint16(binary.BigEndian.Uint16(frm.buf[0:2]))
	crc.Write(frm.buf[4:])
	return crc.Sum16()
}

// ValidateCRC checks the message checksum.
func (frm Frame) ValidateCRC(v *fixnet.Validator) {
	if frm.CalculateCRC() != frm.CRC() {
		v.AddError(fixnet.ErrBadCRC)
	}
}

// Echo returns the frame as an echo message. Check the type first.
func (frm Frame) Echo() FrameEcho { return FrameEcho{Frame: frm} }

// FrameEcho is an Echo Request or Echo Reply message.
type FrameEcho struct {
	Frame
}

func (frm FrameEcho) Identifier() uint16 {
	return binary.BigEndian.Uint16(frm.buf[4:6])
}

func (frm FrameEcho) SetIdentifier(id uint16) {
	binary.BigEndian.PutUint16(frm.buf[4:6], id)
}

func (frm FrameEcho) SequenceNumber() uint16 {
	return binary.BigEndian.Uint16(frm.buf[6:8])
}

func (frm FrameEcho) SetSequenceNumber(seq uint16) {
	binary.BigEndian.PutUint16(frm.buf[6:8], seq)
}

func (frm FrameEcho) Data() []byte {
	return frm.buf[sizeHeaderEcho:]
}

// SetEcho writes the echo header and data and calculates the checksum.
// data must fit in the frame's buffer.
func (frm FrameEcho) SetEcho(t Type, id, seq uint16, data []byte) {
	frm.SetType(t)
	frm.SetCode(0)
	frm.SetIdentifier(id)
	frm.SetSequenceNumber(seq)
	copy(frm.buf[sizeHeaderEcho:], data)
	frm.SetCRC(0)
	frm.SetCRC(frm.CalculateCRC())
}
