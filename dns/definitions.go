// Package dns implements the subset of the DNS protocol an embedded stub
// resolver needs: encoding queries and extracting records from responses
// without allocating.
package dns

import (
	"errors"
	"strconv"
)

const (
	// SizeHeader is the length of the fixed DNS message header.
	SizeHeader = 12
	// ServerPort is the UDP port name servers listen on.
	ServerPort = 53
	// MaxSizeUDP is the largest message carried over UDP without EDNS.
	MaxSizeUDP = 512
	// maxNameLen is the longest domain name in wire format.
	maxNameLen = 255
)

var (
	errEmptyName    = errors.New("dns: empty domain name")
	errBadLabel     = errors.New("dns: invalid label")
	errNameTooLong  = errors.New("dns: name too long")
	errShort        = errors.New("dns: message too short")
	errBadPointer   = errors.New("dns: invalid compression pointer")
	errTooManyPtrs  = errors.New("dns: too many compression pointers")
	errReservedBits = errors.New("dns: reserved label type")
	errNotResponse  = errors.New("dns: not a response")
	errTruncated    = errors.New("dns: truncated response")
)

// Type is a resource record type.
type Type uint16

const (
	TypeA     Type = 1
	TypeNS    Type = 2
	TypeCNAME Type = 5
	TypeAAAA  Type = 28
)

func (t Type) String() string {
	switch t {
	case TypeA:
		return "A"
	case TypeNS:
		return "NS"
	case TypeCNAME:
		return "CNAME"
	case TypeAAAA:
		return "AAAA"
	}
	return "Type(" + strconv.Itoa(int(t)) + ")"
}

// Class is a resource record class.
type Class uint16

const ClassINET Class = 1

// RCode is the response status code. Non-zero codes are errors.
type RCode uint8

const (
	RCodeSuccess        RCode = 0
	RCodeFormatError    RCode = 1
	RCodeServerFailure  RCode = 2
	RCodeNameError      RCode = 3 // NXDOMAIN
	RCodeNotImplemented RCode = 4
	RCodeRefused        RCode = 5
)

var rcodeStrings = [...]string{
	RCodeSuccess:        "success",
	RCodeFormatError:    "format error",
	RCodeServerFailure:  "server failure",
	RCodeNameError:      "name error",
	RCodeNotImplemented: "not implemented",
	RCodeRefused:        "refused",
}

func (rc RCode) String() string {
	if int(rc) < len(rcodeStrings) {
		return rcodeStrings[rc]
	}
	return "RCode(" + strconv.Itoa(int(rc)) + ")"
}

func (rc RCode) Error() string { return "dns: " + rc.String() }

// HeaderFlags is the second 16 bit word of the header.
type HeaderFlags uint16

const (
	flagQR HeaderFlags = 1 << 15
	flagTC HeaderFlags = 1 << 9
	flagRD HeaderFlags = 1 << 8
	flagRA HeaderFlags = 1 << 7
)

// QueryFlags returns the flags of a standard query.
func QueryFlags(recursionDesired bool) HeaderFlags {
	if recursionDesired {
		return flagRD
	}
	return 0
}

func (f HeaderFlags) IsResponse() bool           { return f&flagQR != 0 }
func (f HeaderFlags) IsTruncated() bool          { return f&flagTC != 0 }
func (f HeaderFlags) IsRecursionDesired() bool   { return f&flagRD != 0 }
func (f HeaderFlags) IsRecursionAvailable() bool { return f&flagRA != 0 }
func (f HeaderFlags) ResponseCode() RCode        { return RCode(f & 0xf) }
