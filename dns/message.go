package dns

import "encoding/binary"

// AppendQuery appends a single question query for name to dst.
func AppendQuery(dst []byte, txid uint16, flags HeaderFlags, name *Name, typ Type) []byte {
	dst = binary.BigEndian.AppendUint16(dst, txid)
	dst = binary.BigEndian.AppendUint16(dst, uint16(flags))
	dst = binary.BigEndian.AppendUint16(dst, 1) // QDCOUNT
	dst = append(dst, 0, 0, 0, 0, 0, 0)         // AN, NS and AR counts.
	dst = append(dst, name.Bytes()...)
	dst = binary.BigEndian.AppendUint16(dst, uint16(typ))
	return binary.BigEndian.AppendUint16(dst, uint16(ClassINET))
}

// Record is a resource record of a response. Data aliases the message.
type Record struct {
	Type  Type
	Class Class
	TTL   uint32
	Data  []byte
}

// Header is the decoded fixed header of a message.
type Header struct {
	TxID    uint16
	Flags   HeaderFlags
	QDCount uint16
	ANCount uint16
}

// ParseResponse validates the response in msg and calls fn for each record
// of its answer section. A response with a non-zero response code returns
// that [RCode] as error after the header is decoded.
func ParseResponse(msg []byte, fn func(Record)) (hdr Header, err error) {
	if len(msg) < SizeHeader {
		return hdr, errShort
	}
	hdr = Header{
		TxID:    binary.BigEndian.Uint16(msg[0:2]),
		Flags:   HeaderFlags(binary.BigEndian.Uint16(msg[2:4])),
		QDCount: binary.BigEndian.Uint16(msg[4:6]),
		ANCount: binary.BigEndian.Uint16(msg[6:8]),
	}
	switch {
	case !hdr.Flags.IsResponse():
		return hdr, errNotResponse
	case hdr.Flags.IsTruncated():
		return hdr, errTruncated
	case hdr.Flags.ResponseCode() != RCodeSuccess:
		return hdr, hdr.Flags.ResponseCode()
	}
	off := SizeHeader
	for range hdr.QDCount {
		if off, err = skipName(msg, off); err != nil {
			return hdr, err
		}
		off += 4 // Type and class.
	}
	for range hdr.ANCount {
		if off, err = skipName(msg, off); err != nil {
			return hdr, err
		}
		if off+10 > len(msg) {
			return hdr, errShort
		}
		rec := Record{
			Type:  Type(binary.BigEndian.Uint16(msg[off:])),
			Class: Class(binary.BigEndian.Uint16(msg[off+2:])),
			TTL:   binary.BigEndian.Uint32(msg[off+4:]),
		}
		rdlen := int(binary.BigEndian.Uint16(msg[off+8:]))
		off += 10
		if off+rdlen > len(msg) {
			return hdr, errShort
		}
		rec.Data = msg[off : off+rdlen]
		off += rdlen
		if fn != nil {
			fn(rec)
		}
	}
	return hdr, nil
}
