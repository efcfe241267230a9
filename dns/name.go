package dns

import "strings"

// Name is a domain name in wire format: length prefixed labels ending in
// the zero length root label. It is stored inline so names can be kept in
// fixed memory.
type Name struct {
	n   uint8
	buf [maxNameLen]byte
}

// NewName encodes a dotted domain name. A trailing dot is optional.
func NewName(domain string) (name Name, err error) {
	domain = strings.TrimSuffix(domain, ".")
	if domain == "" {
		return name, errEmptyName
	}
	for label := range strings.SplitSeq(domain, ".") {
		if err = name.addLabel(label); err != nil {
			return Name{}, err
		}
	}
	name.buf[name.n] = 0
	name.n++
	return name, nil
}

func (n *Name) addLabel(label string) error {
	if len(label) == 0 || len(label) > 63 {
		return errBadLabel
	}
	if int(n.n)+1+len(label)+1 > maxNameLen {
		return errNameTooLong
	}
	n.buf[n.n] = byte(len(label))
	copy(n.buf[n.n+1:], label)
	n.n += uint8(1 + len(label))
	return nil
}

// Bytes returns the wire encoding of the name.
func (n *Name) Bytes() []byte { return n.buf[:n.n] }

// Len returns the length of the wire encoding.
func (n *Name) Len() int { return int(n.n) }

func (n *Name) String() string {
	if n.n == 0 {
		return ""
	}
	var sb strings.Builder
	b := n.Bytes()
	for b[0] != 0 {
		l := int(b[0])
		sb.Write(b[1 : 1+l])
		sb.WriteByte('.')
		b = b[1+l:]
	}
	return sb.String()
}

// skipName returns the offset just past the possibly compressed name at
// off. Compression pointers are followed to validate them.
func skipName(msg []byte, off int) (int, error) {
	end := -1
	for ptrs := 0; ; {
		if off >= len(msg) {
			return 0, errShort
		}
		c := int(msg[off])
		switch c & 0xc0 {
		case 0x00:
			if c == 0 {
				if end < 0 {
					end = off + 1
				}
				return end, nil
			}
			off += 1 + c
		case 0xc0:
			if off+1 >= len(msg) {
				return 0, errBadPointer
			}
			if end < 0 {
				end = off + 2
			}
			if ptrs++; ptrs > 10 {
				return 0, errTooManyPtrs
			}
			ptr := (c&0x3f)<<8 | int(msg[off+1])
			if ptr >= off {
				return 0, errBadPointer // Pointers must point backwards.
			}
			off = ptr
		default:
			return 0, errReservedBits
		}
	}
}
