package ipv4

import "testing"

func TestNextHop(t *testing.T) {
	cfg := Config{
		Addr:    [4]byte{10, 0, 0, 5},
		Mask:    [4]byte{255, 255, 255, 0},
		Gateway: [4]byte{10, 0, 0, 1},
	}
	tests := []struct {
		dst       [4]byte
		wantHop   [4]byte
		broadcast bool
	}{
		{dst: [4]byte{10, 0, 0, 9}, wantHop: [4]byte{10, 0, 0, 9}},
		{dst: [4]byte{192, 168, 1, 1}, wantHop: [4]byte{10, 0, 0, 1}},
		{dst: [4]byte{10, 0, 1, 9}, wantHop: [4]byte{10, 0, 0, 1}},
		{dst: [4]byte{10, 0, 0, 255}, wantHop: [4]byte{10, 0, 0, 255}, broadcast: true},
		{dst: LimitedBroadcast, wantHop: LimitedBroadcast, broadcast: true},
	}
	for _, tc := range tests {
		hop, bcast := cfg.NextHop(tc.dst)
		if hop != tc.wantHop || bcast != tc.broadcast {
			t.Errorf("dst %v: got hop=%v bcast=%v, want hop=%v bcast=%v", tc.dst, hop, bcast, tc.wantHop, tc.broadcast)
		}
	}
	if !cfg.Accepts([4]byte{10, 0, 0, 5}) || cfg.Accepts([4]byte{10, 0, 0, 6}) {
		t.Error("Accepts mismatch for unicast")
	}
	cfg.Broadcast = [4]byte{10, 0, 0, 127}
	if !cfg.Accepts([4]byte{10, 0, 0, 127}) {
		t.Error("explicit broadcast not accepted")
	}
}
