// Package ntp implements a simple SNTP client: building a client request
// and computing clock offset and round trip delay from the server reply.
package ntp

import (
	"errors"
	"strconv"
)

const (
	// SizeHeader is the length of an NTP packet without extensions.
	SizeHeader = 48
	// ServerPort is the UDP port NTP servers listen on.
	ServerPort = 123
	// Version4 is the protocol version sent in requests.
	Version4 = 4
)

var (
	errShort        = errors.New("ntp: packet too short")
	errNotServer    = errors.New("ntp: not a server reply")
	errBadOrigin    = errors.New("ntp: origin does not match request")
	errKissOfDeath  = errors.New("ntp: kiss-o'-death")
	errUnsynced     = errors.New("ntp: server unsynchronized")
	errNoExchange   = errors.New("ntp: no exchange in progress")
	errZeroTransmit = errors.New("ntp: zero transmit timestamp")
)

// LeapIndicator warns of a leap second inserted or deleted in the last
// minute of the current day.
type LeapIndicator uint8

const (
	LeapNoWarning    LeapIndicator = iota // no warning
	LeapLastMinute61                      // last minute has 61 seconds
	LeapLastMinute59                      // last minute has 59 seconds
	LeapUnsync                            // clock unsynchronized
)

// Stratum is the distance of a server from its reference clock.
type Stratum uint8

const (
	// StratumUnspecified marks Kiss-o'-Death replies. Their reference ID
	// holds an ASCII kiss code.
	StratumUnspecified Stratum = 0
	StratumPrimary     Stratum = 1
	StratumUnsync      Stratum = 16
)

func (s Stratum) String() string {
	switch {
	case s == StratumUnspecified:
		return "unspecified"
	case s == StratumPrimary:
		return "primary"
	case s == StratumUnsync:
		return "unsynchronized"
	case s < StratumUnsync:
		return "secondary(" + strconv.Itoa(int(s)) + ")"
	}
	return "invalid"
}

func (s Stratum) IsSecondary() bool {
	return s > StratumPrimary && s < StratumUnsync
}

// Mode is the association mode of a packet.
type Mode uint8

const (
	modeUndef Mode = iota
	ModeSymmetricActive
	ModeSymmetricPassive
	ModeClient
	ModeServer
	ModeBroadcast
	ModeControl
	ModePrivate
)
