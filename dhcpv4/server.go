package dhcpv4

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net/netip"

	"github.com/soypat/fixnet"
)

// ServerConfig configures a [Server].
type ServerConfig struct {
	ServerAddr [4]byte
	Gateway    [4]byte
	DNS        [4]byte
	// Subnet is the address pool. Addresses are handed out sequentially after ServerAddr.
	Subnet       netip.Prefix
	LeaseSeconds uint32
}

// Server is a minimal DHCP server which hands out sequential addresses from a
// subnet. It reads and writes DHCP payloads only and is meant for lab networks
// and for exercising [Client] over a real link.
type Server struct {
	vld      fixnet.Validator
	nextAddr netip.Addr
	hosts    map[[36]byte]serverEntry
	pending  int
	cfg      ServerConfig
}

type serverEntry struct {
	xid    uint32
	addr   [4]byte
	hwaddr [6]byte
	// Possible states:
	//  - Init: Server received discover, pending Offer sent out.
	//  - Selecting: Server sent out offer, request not received.
	//  - Requesting: Request received, pending Ack sent out.
	//  - Bound: Ack sent out, no more pending data to be sent.
	state ClientState
	nak   bool
}

// Configure resets the server and applies cfg.
func (sv *Server) Configure(cfg ServerConfig) error {
	if !cfg.Subnet.IsValid() || !cfg.Subnet.Addr().Is4() {
		return errors.New("dhcpv4: server needs an IPv4 subnet")
	}
	if cfg.LeaseSeconds == 0 {
		cfg.LeaseSeconds = 3600
	}
	hosts := sv.hosts
	if hosts == nil {
		hosts = make(map[[36]byte]serverEntry)
	}
	clear(hosts)
	*sv = Server{
		cfg:      cfg,
		hosts:    hosts,
		nextAddr: netip.AddrFrom4(cfg.ServerAddr),
	}
	return nil
}

// Pending returns the number of replies waiting to be written by [Server.Encapsulate].
func (sv *Server) Pending() int { return sv.pending }

// Demux processes a client message.
func (sv *Server) Demux(payload []byte) error {
	dfrm, err := NewFrame(payload)
	if err != nil {
		return err
	}
	dfrm.ValidateSize(&sv.vld)
	if sv.vld.HasError() {
		return sv.vld.ErrPop()
	} else if dfrm.Op() != OpRequest {
		return errors.New("dhcpv4: server got a reply")
	}

	var msgType MessageType
	var clientID []byte
	var reqAddr []byte
	err = dfrm.ForEachOption(func(off int, op OptNum, data []byte) error {
		switch op {
		case OptMessageType:
			if len(data) == 1 {
				msgType = MessageType(data[0])
			}
		case OptClientIdentifier:
			if len(data) <= 36 {
				clientID = data
			}
		case OptRequestedIPaddress:
			if len(data) == 4 {
				reqAddr = data
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	var key [36]byte
	if len(clientID) == 0 {
		copy(key[:], dfrm.CHAddrAs6()[:])
	} else {
		copy(key[:], clientID)
	}
	client, clientExists := sv.hosts[key]

	switch msgType {
	case MsgDiscover:
		if clientExists && client.state == StateInit {
			return nil // Retransmitted discover, offer already pending.
		}
		if !clientExists {
			next := sv.nextAddr.Next()
			if !sv.cfg.Subnet.Contains(next) {
				return errors.New("dhcpv4: address pool exhausted")
			}
			sv.nextAddr = next
			client.addr = next.As4()
		}
		client.state = StateInit
		client.xid = dfrm.XID()
		client.hwaddr = *dfrm.CHAddrAs6()

	case MsgRequest:
		if !clientExists {
			err = errors.New("request for non existing client")
		} else if dfrm.XID() != client.xid {
			err = errors.New("unexpected XID for client")
		} else if client.state != StateSelecting && client.state != StateBound {
			err = errors.New("request in unexpected state")
		}
		if err != nil {
			break
		}
		client.nak = len(reqAddr) == 4 && [4]byte(reqAddr) != client.addr
		client.state = StateRequesting

	default:
		err = errors.New("unhandled message type")
	}
	if err != nil {
		return fmt.Errorf("dhcpv4: msgtype=%s: %w", msgType.String(), err)
	}
	sv.hosts[key] = client
	sv.pending++
	return nil
}

// Encapsulate writes the next pending reply to dst and returns its length and
// the address of the client it is destined to. Zero is returned when there are
// no pending replies.
func (sv *Server) Encapsulate(dst []byte) (n int, clientAddr [4]byte, err error) {
	dfrm, err := NewFrame(dst)
	if err != nil {
		return 0, clientAddr, err
	}
	optBuf := dfrm.OptionsPayload()
	if len(optBuf) < 255 {
		return 0, clientAddr, errOptionNotFit
	} else if sv.pending == 0 {
		return 0, clientAddr, nil
	}

	var client serverEntry
	var key [36]byte
	for k, v := range sv.hosts {
		if v.state == StateInit || v.state == StateRequesting {
			client = v
			key = k
			break
		}
	}
	if client.state == 0 {
		sv.pending = 0
		return 0, clientAddr, nil
	}
	var futureState ClientState
	var msg MessageType
	switch {
	case client.state == StateInit:
		futureState, msg = StateSelecting, MsgOffer
	case client.nak:
		futureState, msg = StateInit, MsgNak
	default:
		futureState, msg = StateBound, MsgAck
	}
	dfrm.ClearHeader()
	nopt, _ := EncodeOption(optBuf, OptMessageType, byte(msg))
	n, _ = EncodeOption(optBuf[nopt:], OptServerIdentification, sv.cfg.ServerAddr[:]...)
	nopt += n
	if msg != MsgNak {
		var mask [4]byte
		binary.BigEndian.PutUint32(mask[:], ^uint32(0)<<(32-sv.cfg.Subnet.Bits()))
		n, _ = EncodeOption(optBuf[nopt:], OptSubnetMask, mask[:]...)
		nopt += n
		n, _ = EncodeOption32(optBuf[nopt:], OptIPAddressLeaseTime, sv.cfg.LeaseSeconds)
		nopt += n
		// T1 and T2 at RFC2131 4.4.5 suggested fractions of the lease.
		n, _ = EncodeOption32(optBuf[nopt:], OptRenewTimeValue, sv.cfg.LeaseSeconds/2)
		nopt += n
		n, _ = EncodeOption32(optBuf[nopt:], OptRebindingTimeValue, sv.cfg.LeaseSeconds/8*7)
		nopt += n
		if sv.cfg.Gateway != ([4]byte{}) {
			n, _ = EncodeOption(optBuf[nopt:], OptRouter, sv.cfg.Gateway[:]...)
			nopt += n
		}
		if sv.cfg.DNS != ([4]byte{}) {
			n, _ = EncodeOption(optBuf[nopt:], OptDNSServers, sv.cfg.DNS[:]...)
			nopt += n
		}
		*dfrm.YIAddr() = client.addr
		*dfrm.SIAddr() = sv.cfg.ServerAddr
	}
	optBuf[nopt] = byte(OptEnd)
	nopt++

	dfrm.SetOp(OpReply)
	dfrm.SetHardware(1, 6, 0)
	dfrm.SetXID(client.xid)
	dfrm.SetFlags(FlagBroadcast)
	copy(dfrm.CHAddrAs6()[:], client.hwaddr[:])
	dfrm.SetMagicCookie(MagicCookie)

	clientAddr = client.addr
	client.state = futureState
	if msg == MsgNak {
		delete(sv.hosts, key)
	} else {
		sv.hosts[key] = client
	}
	sv.pending--
	return OptionsOffset + nopt, clientAddr, nil
}
