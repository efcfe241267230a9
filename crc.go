package fixnet

import (
	"encoding/binary"
)

// CRC791 function as defined by RFC 791. The Checksum field for TCP+IP
// is the 16-bit ones' complement of the ones' complement sum of
// all 16-bit words in the header. In case of uneven number of octet the
// last word is LSB padded with zeros.
//
// Writes of odd length are allowed: the dangling octet is carried over
// and paired with the first octet of the next write.
//
// The zero value of CRC791 is ready to use.
type CRC791 struct {
	sum    uint32
	carry  byte
	hasOdd bool
}

func checksum16(sum uint32) uint16 {
	sum = (sum & 0xffff) + sum>>16
	// the max value of sum at this point is 0x1fffe, so an additional round is enough
	return ^uint16(sum + sum>>16)
}

func checksumWriteEven(sum uint32, buff []byte) uint32 {
	for i := 0; i+1 < len(buff); i += 2 {
		sum += uint32(binary.BigEndian.Uint16(buff[i:]))
		if sum >= 1<<31 {
			sum = (sum & 0xffff) + sum>>16
		}
	}
	return sum
}

// Write adds the bytes in buff to the running checksum. It never returns an error.
func (c *CRC791) Write(buff []byte) (int, error) {
	n := len(buff)
	if n == 0 {
		return 0, nil
	}
	if c.hasOdd {
		c.sum += uint32(c.carry)<<8 | uint32(buff[0])
		c.hasOdd = false
		buff = buff[1:]
	}
	odd := len(buff) & 1
	c.sum = checksumWriteEven(c.sum, buff[:len(buff)-odd])
	if odd != 0 {
		c.carry = buff[len(buff)-1]
		c.hasOdd = true
	}
	return n, nil
}

// AddUint32 adds a 32 bit value to the running checksum interpreted as BigEndian (network order).
func (c *CRC791) AddUint32(value uint32) {
	c.AddUint16(uint16(value >> 16))
	c.AddUint16(uint16(value))
}

// AddUint16 adds a 16 bit value to the running checksum interpreted as BigEndian (network order).
// Must not be called while an odd octet is pending from [CRC791.Write].
func (c *CRC791) AddUint16(value uint16) {
	if c.hasOdd {
		panic("CRC791: AddUint16 after odd write")
	}
	c.sum += uint32(value)
}

// Sum16 calculates the checksum with the data written to c thus far.
func (c *CRC791) Sum16() uint16 {
	sum := c.sum
	if c.hasOdd {
		sum += uint32(c.carry) << 8
	}
	return checksum16(sum)
}

// PayloadSum16 returns the checksum resulting by adding the bytes in p to the running checksum.
// The receiver is not modified.
func (c CRC791) PayloadSum16(buff []byte) uint16 {
	c.Write(buff)
	return c.Sum16()
}

// Reset zeros out the CRC791, resetting it to the initial state.
func (c *CRC791) Reset() { *c = CRC791{} }

// Checksum returns the Internet checksum of b.
func Checksum(b []byte) uint16 {
	var crc CRC791
	return crc.PayloadSum16(b)
}

// VerifyChecksum reports whether sum16 is the Internet checksum of b.
// A zero result of [Checksum] over a buffer that embeds its own
// checksum field is the equivalent in-place check.
func VerifyChecksum(b []byte, sum16 uint16) bool {
	s := uint32(^Checksum(b)) + uint32(sum16)
	s = (s & 0xffff) + s>>16
	return uint16(s) == 0xffff
}

// NeverZeroChecksum ensures that the given checksum is not zero, by returning 0xffff instead.
// Used by UDP where a zero checksum means no checksum was computed.
func NeverZeroChecksum(sum16 uint16) uint16 {
	// 0x0000 and 0xffff are the same number in ones' complement math
	if sum16 == 0 {
		return 0xffff
	}
	return sum16
}
