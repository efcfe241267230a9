package fixnet

import (
	"math/rand"
	"testing"

	"github.com/google/netstack/tcpip/header"
)

func TestChecksumRoundTrip(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	for i := 0; i < 500; i++ {
		b := make([]byte, rng.Intn(257)) // even and odd lengths
		rng.Read(b)
		sum := Checksum(b)
		if !VerifyChecksum(b, sum) {
			t.Fatalf("len=%d: checksum does not verify", len(b))
		}
		if len(b) == 0 {
			continue
		}
		bit := rng.Intn(len(b) * 8)
		b[bit/8] ^= 1 << (bit % 8)
		if VerifyChecksum(b, sum) {
			t.Fatalf("len=%d: bit flip %d not detected", len(b), bit)
		}
	}
}

func TestChecksumMatchesNetstack(t *testing.T) {
	rng := rand.New(rand.NewSource(2))
	for i := 0; i < 200; i++ {
		b := make([]byte, rng.Intn(1500))
		rng.Read(b)
		want := ^header.Checksum(b, 0)
		got := Checksum(b)
		if got != want {
			t.Fatalf("len=%d: got %#04x, want %#04x", len(b), got, want)
		}
	}
}

func TestCRC791SplitWrites(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	for i := 0; i < 200; i++ {
		b := make([]byte, 1+rng.Intn(300))
		rng.Read(b)
		want := Checksum(b)
		var crc CRC791
		rem := b
		for len(rem) > 0 {
			n := 1 + rng.Intn(len(rem))
			crc.Write(rem[:n])
			rem = rem[n:]
		}
		if got := crc.Sum16(); got != want {
			t.Fatalf("split write mismatch: got %#04x, want %#04x", got, want)
		}
	}
}

func TestCRC791KnownHeader(t *testing.T) {
	// IPv4 header from RFC 1071 style worked example with checksum field zeroed.
	hdr := []byte{
		0x45, 0x00, 0x00, 0x73, 0x00, 0x00, 0x40, 0x00, 0x40, 0x11,
		0x00, 0x00, 0xc0, 0xa8, 0x00, 0x01, 0xc0, 0xa8, 0x00, 0xc7,
	}
	const want = 0xb861
	if got := Checksum(hdr); got != want {
		t.Fatalf("got %#04x, want %#04x", got, want)
	}
	hdr[10], hdr[11] = byte(want>>8), byte(want&0xff)
	if Checksum(hdr) != 0 {
		t.Fatal("in-place checksum of valid header should be zero")
	}
}
