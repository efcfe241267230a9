package arp

import (
	"errors"
	"strconv"
)

const (
	sizeHeader   = 8
	sizeHeaderv4 = sizeHeader + 6*2 + 4*2

	// HardwareEthernet is the hardware type for Ethernet.
	HardwareEthernet = 1
)

var (
	errShortARP       = errors.New("packet too short to be ARP")
	errARPUnsupported = errors.New("ARP hardware/protocol not supported")
	errBadOperation   = errors.New("ARP operation not supported")
)

// Operation represents the type of ARP packet, either request or reply/response.
type Operation uint16

const (
	OpRequest Operation = 1 // request
	OpReply   Operation = 2 // reply
)

func (op Operation) String() string {
	switch op {
	case OpRequest:
		return "request"
	case OpReply:
		return "reply"
	}
	return "Operation(" + strconv.Itoa(int(op)) + ")"
}
