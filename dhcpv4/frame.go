package dhcpv4

import (
	"encoding/binary"
	"errors"

	"github.com/soypat/fixnet"
)

var (
	errShort      = errors.New("dhcpv4: short frame")
	errBadCookie  = errors.New("dhcpv4: bad magic cookie")
	errOptLength  = errors.New("dhcpv4: option length exceeds payload")
	errNilOptFunc = errors.New("dhcpv4: nil option function")
)

// NewFrame returns a new DHCPv4 Frame with data set to buf.
// An error is returned if the buffer size is smaller than 240.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < OptionsOffset {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// Frame encapsulates the raw data of a DHCP packet
// and provides methods for manipulating, validating and
// retrieving fields and payload data. See [RFC2131].
//
// [RFC2131]: https://tools.ietf.org/html/rfc2131
type Frame struct {
	buf []byte
}

// RawData returns the underlying slice with which the frame was created.
func (frm Frame) RawData() []byte { return frm.buf }

// OptionsPayload returns the options portion of the DHCP frame. May be zero lengthed.
func (frm Frame) OptionsPayload() []byte {
	return frm.buf[OptionsOffset:]
}

func (frm Frame) Op() Op      { return Op(frm.buf[0]) }
func (frm Frame) SetOp(op Op) { frm.buf[0] = byte(op) }

func (frm Frame) Hardware() (Type, Len, Hops uint8) {
	return frm.buf[1], frm.buf[2], frm.buf[3]
}

func (frm Frame) SetHardware(Type, Len, Hops uint8) {
	frm.buf[1], frm.buf[2], frm.buf[3] = Type, Len, Hops
}

func (frm Frame) XID() uint32       { return binary.BigEndian.Uint32(frm.buf[4:8]) }
func (frm Frame) SetXID(xid uint32) { binary.BigEndian.PutUint32(frm.buf[4:8], xid) }

func (frm Frame) Secs() uint16        { return binary.BigEndian.Uint16(frm.buf[8:10]) }
func (frm Frame) SetSecs(secs uint16) { binary.BigEndian.PutUint16(frm.buf[8:10], secs) }

func (frm Frame) Flags() Flags         { return Flags(binary.BigEndian.Uint16(frm.buf[10:12])) }
func (frm Frame) SetFlags(flags Flags) { binary.BigEndian.PutUint16(frm.buf[10:12], uint16(flags)) }

// CIAddr is the client IP address. If the client has not obtained an IP
// address yet, this field is set to 0.
func (frm Frame) CIAddr() *[4]byte {
	return (*[4]byte)(frm.buf[12:16])
}

// YIAddr is the IP address offered by the server to the client.
func (frm Frame) YIAddr() *[4]byte {
	return (*[4]byte)(frm.buf[16:20])
}

// SIAddr is the IP address of the next server to use in bootstrap. This
// field is used in DHCPOFFER and DHCPACK messages.
func (frm Frame) SIAddr() *[4]byte {
	return (*[4]byte)(frm.buf[20:24])
}

// GIAddr is the relay agent IP address.
func (frm Frame) GIAddr() *[4]byte {
	return (*[4]byte)(frm.buf[24:28])
}

// CHAddrAs6 returns [Frame.CHAddr] but limited to first 6 bytes.
func (frm Frame) CHAddrAs6() *[6]byte {
	return (*[6]byte)(frm.buf[28 : 28+6])
}

// CHAddr is the client hardware address. Can be up to 16 bytes in length but
// is usually 6 bytes for Ethernet.
func (frm Frame) CHAddr() *[16]byte {
	return (*[16]byte)(frm.buf[28:44])
}

func (frm Frame) MagicCookie() uint32 { return binary.BigEndian.Uint32(frm.buf[magicCookieOffset:]) }
func (frm Frame) SetMagicCookie(cookie uint32) {
	binary.BigEndian.PutUint32(frm.buf[magicCookieOffset:], cookie)
}

// ClearHeader zeros out the fixed header contents, legacy BOOTP fields and cookie included.
func (frm Frame) ClearHeader() {
	clear(frm.buf[:OptionsOffset])
}

// ForEachOption calls fn for every option in the frame until the End option
// or the end of the buffer is reached. off is the offset of the option code
// from the start of the frame. Iteration stops at the first error returned by fn.
func (frm Frame) ForEachOption(fn func(off int, op OptNum, data []byte) error) error {
	if fn == nil {
		return errNilOptFunc
	}
	ptr := OptionsOffset
	for ptr < len(frm.buf) {
		optnum := OptNum(frm.buf[ptr])
		if optnum == OptEnd {
			break
		} else if optnum == OptWordAligned {
			ptr++
			continue
		}
		if ptr+1 >= len(frm.buf) {
			return errOptLength
		}
		end := ptr + 2 + int(frm.buf[ptr+1])
		if end > len(frm.buf) {
			return errOptLength
		}
		if err := fn(ptr, optnum, frm.buf[ptr+2:end]); err != nil {
			return err
		}
		ptr = end
	}
	return nil
}

// MessageType returns the value of the message type option or 0 if not present.
func (frm Frame) MessageType() MessageType {
	var mt MessageType
	frm.ForEachOption(func(_ int, op OptNum, data []byte) error {
		if op == OptMessageType && len(data) == 1 {
			mt = MessageType(data[0])
			return errStopIter
		}
		return nil
	})
	return mt
}

var errStopIter = errors.New("stop")

// ValidateSize checks the frame is long enough and carries the DHCP magic cookie.
func (frm Frame) ValidateSize(v *fixnet.Validator) {
	if len(frm.buf) < OptionsOffset {
		v.AddError(errShort)
		return
	}
	if frm.MagicCookie() != MagicCookie {
		v.AddError(errBadCookie)
	}
}
