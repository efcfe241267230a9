package ntp

import "encoding/binary"

// Frame is a view over an NTP packet.
type Frame struct {
	buf []byte
}

// NewFrame returns a Frame over buf, which must hold a full header.
func NewFrame(buf []byte) (Frame, error) {
	if len(buf) < SizeHeader {
		return Frame{}, errShort
	}
	return Frame{buf: buf}, nil
}

// RawData returns the underlying slice.
func (f Frame) RawData() []byte { return f.buf }

// ClearHeader zeroes the header.
func (f Frame) ClearHeader() { clear(f.buf[:SizeHeader]) }

// Flags returns the mode, version and leap indicator of the first octet.
func (f Frame) Flags() (mode Mode, version uint8, leap LeapIndicator) {
	b := f.buf[0]
	return Mode(b & 7), (b >> 3) & 7, LeapIndicator(b >> 6)
}

func (f Frame) SetFlags(mode Mode, version uint8, leap LeapIndicator) {
	f.buf[0] = byte(mode&7) | (version&7)<<3 | byte(leap)<<6
}

func (f Frame) Stratum() Stratum        { return Stratum(f.buf[1]) }
func (f Frame) SetStratum(s Stratum)    { f.buf[1] = byte(s) }
func (f Frame) Poll() int8              { return int8(f.buf[2]) }
func (f Frame) SetPoll(log2s int8)      { f.buf[2] = byte(log2s) }
func (f Frame) Precision() int8         { return int8(f.buf[3]) }
func (f Frame) SetPrecision(log2s int8) { f.buf[3] = byte(log2s) }

// ReferenceID identifies the server's reference clock, or carries a kiss
// code in Kiss-o'-Death replies.
func (f Frame) ReferenceID() [4]byte { return [4]byte(f.buf[12:16]) }

func (f Frame) SetReferenceID(id [4]byte) { copy(f.buf[12:16], id[:]) }

func (f Frame) ReferenceTime() Timestamp     { return f.timestamp(16) }
func (f Frame) SetReferenceTime(t Timestamp) { f.setTimestamp(16, t) }

// OriginTime is the client transmit time the server echoes back.
func (f Frame) OriginTime() Timestamp     { return f.timestamp(24) }
func (f Frame) SetOriginTime(t Timestamp) { f.setTimestamp(24, t) }

// ReceiveTime is the server time the request arrived.
func (f Frame) ReceiveTime() Timestamp     { return f.timestamp(32) }
func (f Frame) SetReceiveTime(t Timestamp) { f.setTimestamp(32, t) }

// TransmitTime is the time the packet left its sender.
func (f Frame) TransmitTime() Timestamp     { return f.timestamp(40) }
func (f Frame) SetTransmitTime(t Timestamp) { f.setTimestamp(40, t) }

func (f Frame) timestamp(off int) Timestamp {
	return TimestampFromUint64(binary.BigEndian.Uint64(f.buf[off:]))
}

func (f Frame) setTimestamp(off int, t Timestamp) {
	binary.BigEndian.PutUint64(f.buf[off:], t.Uint64())
}
