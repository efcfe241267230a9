package tcp

import (
	"encoding/binary"

	"github.com/soypat/fixnet"
)

// OptionKind identifies a TCP option. Only the options of RFC 9293 are named.
type OptionKind uint8

const (
	OptEnd            OptionKind = iota // end of option list
	OptNop                              // no-operation
	OptMaxSegmentSize                   // maximum segment size
)

// DefaultMSS is the maximum segment size assumed when the remote sends none.
const DefaultMSS = 536

// sizeOptMSS is the length of the MSS option, kind and length octets included.
const sizeOptMSS = 4

// SizeSynOptions is the option space used on SYN segments sent by this package.
const SizeSynOptions = sizeOptMSS

// PutMSS writes a maximum segment size option to dst.
func PutMSS(dst []byte, mss uint16) (int, error) {
	if len(dst) < sizeOptMSS {
		return 0, errShort
	}
	dst[0] = byte(OptMaxSegmentSize)
	dst[1] = sizeOptMSS
	binary.BigEndian.PutUint16(dst[2:4], mss)
	return sizeOptMSS, nil
}

// ForEachOption calls fn for every option in opts other than padding.
// Iteration stops at the end of list option or when fn returns an error.
func ForEachOption(opts []byte, fn func(OptionKind, []byte) error) error {
	off := 0
	for off < len(opts) && OptionKind(opts[off]) != OptEnd {
		kind := OptionKind(opts[off])
		off++
		if kind == OptNop {
			continue
		}
		if off >= len(opts) {
			return fixnet.ErrShortBuffer
		}
		size := int(opts[off]) // Total option length including kind and length bytes.
		off++
		dataLen := size - 2
		if dataLen < 0 || len(opts[off:]) < dataLen {
			return fixnet.ErrInvalidLengthField
		}
		if kind == OptMaxSegmentSize && size != sizeOptMSS {
			return fixnet.ErrInvalidLengthField
		}
		if err := fn(kind, opts[off:off+dataLen]); err != nil {
			return err
		}
		off += dataLen
	}
	return nil
}

// MinMSS is the smallest segment size accepted from a peer. Smaller
// advertised values are raised to it.
const MinMSS = 48

// ParseMSS returns the maximum segment size advertised in opts or
// [DefaultMSS] when absent, zero or malformed. The result is never below [MinMSS].
func ParseMSS(opts []byte) uint16 {
	mss := uint16(DefaultMSS)
	ForEachOption(opts, func(kind OptionKind, data []byte) error {
		if kind == OptMaxSegmentSize && len(data) == 2 {
			if v := binary.BigEndian.Uint16(data); v != 0 {
				mss = max(v, MinMSS)
			}
		}
		return nil
	})
	return mss
}
