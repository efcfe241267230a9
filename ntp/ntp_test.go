package ntp

import (
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

func TestTimestamp(t *testing.T) {
	now := time.Date(2026, 3, 14, 15, 9, 26, 535897932, time.UTC)
	ts := TimestampFromTime(now)
	if got := ts.Time(); got.Sub(now).Abs() > time.Nanosecond {
		t.Fatalf("roundtrip %s, want %s", got, now)
	}
	later := ts.Add(1500 * time.Millisecond)
	if d := later.Sub(ts); d.Round(time.Microsecond) != 1500*time.Millisecond {
		t.Fatalf("add/sub gave %s", d)
	}
	if d := ts.Sub(later); d.Round(time.Microsecond) != -1500*time.Millisecond {
		t.Fatalf("negative sub gave %s", d)
	}
	if TimestampFromTime(BaseTime()) != (Timestamp{}) {
		t.Fatal("epoch is not zero")
	}
}

// reply builds a server reply to req as a server whose clock reads
// serverNow, taking proc to answer.
func reply(t *testing.T, req []byte, serverNow time.Time, proc time.Duration, stratum Stratum) []byte {
	t.Helper()
	rf, err := NewFrame(req)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, SizeHeader)
	f, _ := NewFrame(out)
	f.SetFlags(ModeServer, Version4, LeapNoWarning)
	f.SetStratum(stratum)
	f.SetReferenceID([4]byte{'G', 'P', 'S', 0})
	f.SetOriginTime(rf.TransmitTime())
	f.SetReceiveTime(TimestampFromTime(serverNow))
	f.SetTransmitTime(TimestampFromTime(serverNow.Add(proc)))
	return out
}

func TestClientExchange(t *testing.T) {
	var c Client
	c.Reset(-20)
	local := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	const skew = 3 * time.Second // Server ahead of us.
	const oneWay = 20 * time.Millisecond
	var buf [SizeHeader]byte
	n, err := c.Encapsulate(buf[:], local)
	if err != nil || n != SizeHeader {
		t.Fatal(n, err)
	}

	var pkt layers.NTP
	if err = pkt.DecodeFromBytes(buf[:n], gopacket.NilDecodeFeedback); err != nil {
		t.Fatal(err)
	}
	if pkt.Mode != 3 || pkt.Version != Version4 || uint64(pkt.TransmitTimestamp) != TimestampFromTime(local).Uint64() {
		t.Fatalf("bad request mode=%d version=%d xmt=%#x", pkt.Mode, pkt.Version, pkt.TransmitTimestamp)
	}
	if n, _ = c.Encapsulate(buf[:], local); n != 0 {
		t.Fatal("request sent twice without retransmit")
	}

	resp := reply(t, buf[:], local.Add(skew+oneWay), time.Millisecond, 2)
	stale := append([]byte{}, resp...)
	f, _ := NewFrame(stale)
	f.SetOriginTime(TimestampFromTime(local.Add(-time.Second)))
	if err = c.Demux(stale, local); err != errBadOrigin {
		t.Fatalf("stale reply: %v", err)
	}
	if err = c.Demux(resp, local.Add(2*oneWay+time.Millisecond)); err != nil {
		t.Fatal(err)
	}
	res, err := c.Result()
	if err != nil {
		t.Fatal(err)
	}
	if res.Offset.Round(time.Microsecond) != skew {
		t.Errorf("offset %s, want %s", res.Offset, skew)
	}
	if res.RoundTrip.Round(time.Microsecond) != 2*oneWay {
		t.Errorf("round trip %s, want %s", res.RoundTrip, 2*oneWay)
	}
	if !res.Stratum.IsSecondary() {
		t.Errorf("stratum %s", res.Stratum)
	}
}

func TestClientKissOfDeath(t *testing.T) {
	var c Client
	c.Reset(-20)
	now := time.Now()
	var buf [SizeHeader]byte
	c.Encapsulate(buf[:], now)
	resp := reply(t, buf[:], now, 0, StratumUnspecified)
	if err := c.Demux(resp, now); !IsKissOfDeath(err) {
		t.Fatalf("want kiss of death, got %v", err)
	}
	if _, err := c.Result(); !IsKissOfDeath(err) {
		t.Fatalf("result: %v", err)
	}
	c.Abort()
	if _, err := c.Encapsulate(buf[:], now); err == nil {
		t.Fatal("encapsulate after abort")
	}
}
