package ipv4

import (
	"math/rand"
	"testing"

	"github.com/google/netstack/tcpip/header"
	"github.com/soypat/fixnet"
)

func TestFrameSetHeader(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	var buf [256]byte
	for i := 0; i < 100; i++ {
		var src, dst [4]byte
		rng.Read(src[:])
		rng.Read(dst[:])
		payloadLen := rng.Intn(len(buf) - sizeHeader)
		id := uint16(rng.Intn(1 << 16))
		ifrm, err := NewFrame(buf[:sizeHeader+payloadLen])
		if err != nil {
			t.Fatal(err)
		}
		ifrm.SetHeader(fixnet.IPProtoUDP, src, dst, id, payloadLen)

		var v fixnet.Validator
		ifrm.ValidateExceptCRC(&v)
		ifrm.ValidateCRC(&v)
		if err := v.Err(); err != nil {
			t.Fatal(err)
		}
		if len(ifrm.Payload()) != payloadLen {
			t.Fatalf("payload length got %d, want %d", len(ifrm.Payload()), payloadLen)
		}

		ns := header.IPv4(buf[:sizeHeader+payloadLen])
		if !ns.IsValid(sizeHeader + payloadLen) {
			t.Fatal("netstack rejects header")
		}
		if ns.CalculateChecksum() != 0xffff {
			t.Fatalf("netstack checksum of valid header = %#x", ns.CalculateChecksum())
		}
		if ns.Protocol() != uint8(fixnet.IPProtoUDP) || ns.ID() != id {
			t.Fatal("netstack field mismatch")
		}
		if string(ns.SourceAddress()) != string(src[:]) || string(ns.DestinationAddress()) != string(dst[:]) {
			t.Fatal("netstack address mismatch")
		}
	}
}

func TestFrameValidate(t *testing.T) {
	var buf [40]byte
	ifrm, _ := NewFrame(buf[:])
	ifrm.SetHeader(fixnet.IPProtoTCP, [4]byte{1, 2, 3, 4}, [4]byte{5, 6, 7, 8}, 1, 20)

	tests := []struct {
		name   string
		mutate func(Frame)
	}{
		{name: "crc", mutate: func(f Frame) { f.SetTTL(f.TTL() - 1) }},
		{name: "version", mutate: func(f Frame) { f.SetVersionAndIHL(6, 5); f.SetCRC(f.CalculateHeaderCRC()) }},
		{name: "ihl", mutate: func(f Frame) { f.SetVersionAndIHL(4, 4); f.SetCRC(f.CalculateHeaderCRC()) }},
		{name: "length", mutate: func(f Frame) { f.SetTotalLength(41); f.SetCRC(f.CalculateHeaderCRC()) }},
		{name: "fragment", mutate: func(f Frame) { f.SetFlags(FlagMoreFragments); f.SetCRC(f.CalculateHeaderCRC()) }},
	}
	for _, tc := range tests {
		var cp [40]byte
		copy(cp[:], buf[:])
		f, _ := NewFrame(cp[:])
		tc.mutate(f)
		var v fixnet.Validator
		f.ValidateExceptCRC(&v)
		if !v.HasError() {
			f.ValidateCRC(&v)
		}
		if !v.HasError() {
			t.Errorf("%s: mutation not detected", tc.name)
		}
	}
}
