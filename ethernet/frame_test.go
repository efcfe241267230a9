package ethernet

import (
	"testing"

	"github.com/google/netstack/tcpip"
	"github.com/google/netstack/tcpip/header"
	"github.com/soypat/fixnet"
)

func TestFrameHeader(t *testing.T) {
	buf := make([]byte, 60)
	efrm, err := NewFrame(buf)
	if err != nil {
		t.Fatal(err)
	}
	src := [6]byte{0x02, 1, 2, 3, 4, 5}
	dst := [6]byte{0x02, 9, 8, 7, 6, 5}
	efrm.SetHeader(dst, src, fixnet.EtherTypeARP)

	eth := header.Ethernet(buf)
	if eth.Type() != tcpip.NetworkProtocolNumber(fixnet.EtherTypeARP) {
		t.Errorf("netstack type got %#x", eth.Type())
	}
	if string(eth.SourceAddress()) != string(src[:]) || string(eth.DestinationAddress()) != string(dst[:]) {
		t.Error("netstack address mismatch")
	}
	if efrm.IsBroadcast() {
		t.Error("unicast reported as broadcast")
	}
	var v fixnet.Validator
	efrm.ValidateSize(&v)
	efrm.ValidateAddrs(&v)
	if err := v.Err(); err != nil {
		t.Fatal(err)
	}
	*efrm.DestinationHardwareAddr() = BroadcastAddr()
	if !efrm.IsBroadcast() {
		t.Error("broadcast not detected")
	}
	if len(efrm.Payload()) != 60-14 {
		t.Errorf("payload length %d", len(efrm.Payload()))
	}
}

func TestAppendAddr(t *testing.T) {
	got := string(AppendAddr(nil, [6]byte{0xde, 0xad, 0x0b, 0xef, 0x00, 0x01}))
	if got != "de:ad:0b:ef:00:01" {
		t.Fatalf("got %q", got)
	}
}
