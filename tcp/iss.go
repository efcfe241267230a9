package tcp

import (
	"encoding/binary"
	"hash"
	"io"
	"sync"
	"time"

	"github.com/soypat/fixnet"
	"golang.org/x/crypto/blake2s"
)

// ISSGenerator generates initial send sequence numbers as described in RFC 6528:
//
//	ISN = M + F(localip, localport, remoteip, remoteport, secretkey)
//
// where M is a timer ticking every 4 microseconds and F is a keyed BLAKE2s hash.
// ISSGenerator is safe for concurrent use.
type ISSGenerator struct {
	mu      sync.Mutex
	h       hash.Hash
	now     func() time.Time
	epoch   time.Time
	scratch [blake2s.Size]byte
	tuple   [12]byte
}

// ISSConfig contains configuration for [ISSGenerator.Reset].
type ISSConfig struct {
	// Rand is read for the secret key. Required.
	Rand io.Reader
	// Now is the clock driving the 4µs timer. Defaults to time.Now.
	Now func() time.Time
}

// Reset rekeys the generator.
func (g *ISSGenerator) Reset(cfg ISSConfig) error {
	if cfg.Rand == nil {
		return fixnet.ErrInvalidConfig
	}
	var key [blake2s.Size]byte
	_, err := io.ReadFull(cfg.Rand, key[:])
	if err != nil {
		return err
	}
	h, err := blake2s.New256(key[:])
	if err != nil {
		return err
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.h = h
	g.now = cfg.Now
	g.epoch = cfg.Now()
	return nil
}

// ISS returns the initial sequence number for the connection identified by the 4-tuple.
// It panics if the generator was not Reset.
func (g *ISSGenerator) ISS(localAddr [4]byte, localPort uint16, remoteAddr [4]byte, remotePort uint16) Value {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.h == nil {
		panic("tcp: ISSGenerator not initialized")
	}
	copy(g.tuple[0:4], localAddr[:])
	binary.BigEndian.PutUint16(g.tuple[4:6], localPort)
	copy(g.tuple[6:10], remoteAddr[:])
	binary.BigEndian.PutUint16(g.tuple[10:12], remotePort)
	g.h.Reset()
	g.h.Write(g.tuple[:])
	sum := g.h.Sum(g.scratch[:0])
	f := binary.BigEndian.Uint32(sum[:4])
	m := uint32(g.now().Sub(g.epoch) / (4 * time.Microsecond))
	return Value(m + f)
}
