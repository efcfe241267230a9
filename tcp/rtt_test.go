package tcp

import (
	"bytes"
	"testing"
	"time"
)

func TestRTTEstimator(t *testing.T) {
	var e RTTEstimator
	e.Reset(0, 0, 0)
	if e.RTO() != DefaultInitialRTO {
		t.Fatalf("initial RTO %s", e.RTO())
	}
	e.Sample(100 * time.Millisecond)
	// First sample: SRTT=R, RTTVAR=R/2, RTO=R+4*R/2=300ms.
	if e.SRTT() != 100*time.Millisecond || e.RTTVar() != 50*time.Millisecond {
		t.Errorf("first sample: srtt=%s rttvar=%s", e.SRTT(), e.RTTVar())
	}
	if e.RTO() != 300*time.Millisecond {
		t.Errorf("want 300ms RTO, got %s", e.RTO())
	}
	e.Sample(100 * time.Millisecond)
	// RTTVAR = 50 + (0-50)/4 = 37.5ms, SRTT unchanged.
	if e.RTTVar() != 37500*time.Microsecond || e.SRTT() != 100*time.Millisecond {
		t.Errorf("second sample: srtt=%s rttvar=%s", e.SRTT(), e.RTTVar())
	}
	if e.RTO() != 250*time.Millisecond {
		t.Errorf("want 250ms RTO, got %s", e.RTO())
	}
}

func TestRTTEstimatorClamp(t *testing.T) {
	var e RTTEstimator
	e.Reset(0, 0, 0)
	for range 20 {
		e.Sample(time.Millisecond)
	}
	if e.RTO() != DefaultMinRTO {
		t.Errorf("want RTO clamped to %s, got %s", DefaultMinRTO, e.RTO())
	}
	e.Sample(10 * time.Minute)
	if e.RTO() != DefaultMaxRTO {
		t.Errorf("want RTO clamped to %s, got %s", DefaultMaxRTO, e.RTO())
	}
}

func TestRTTBackoff(t *testing.T) {
	var e RTTEstimator
	e.Reset(0, 10*time.Second, time.Second)
	tests := []struct {
		sends int
		want  time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{12, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := e.Backoff(tt.sends); got != tt.want {
			t.Errorf("Backoff(%d)=%s, want %s", tt.sends, got, tt.want)
		}
	}
}

func TestISSGenerator(t *testing.T) {
	now := time.Unix(1000, 0)
	var g ISSGenerator
	err := g.Reset(ISSConfig{
		Rand: bytes.NewReader(bytes.Repeat([]byte{0x5a}, 32)),
		Now:  func() time.Time { return now },
	})
	if err != nil {
		t.Fatal(err)
	}
	local := [4]byte{10, 0, 0, 5}
	remote := [4]byte{10, 0, 0, 9}
	a := g.ISS(local, 1025, remote, 80)
	if again := g.ISS(local, 1025, remote, 80); again != a {
		t.Errorf("same tuple and time gave different ISS %d %d", a, again)
	}
	if other := g.ISS(local, 1026, remote, 80); other == a {
		t.Error("different tuples gave equal ISS")
	}
	now = now.Add(4 * time.Millisecond)
	if later := g.ISS(local, 1025, remote, 80); Sizeof(a, later) != 1000 {
		t.Errorf("want ISS to advance 1000 per 4ms, advanced %d", Sizeof(a, later))
	}
	var unkeyed ISSGenerator
	if err := unkeyed.Reset(ISSConfig{}); err == nil {
		t.Error("missing entropy source accepted")
	}
}
