package internal

import "sync/atomic"

// Prand16 generates a pseudo random number from a seed.
func Prand16(seed uint16) uint16 {
	// 16bit Xorshift  https://en.wikipedia.org/wiki/Xorshift
	seed ^= seed << 7
	seed ^= seed >> 9
	seed ^= seed << 8
	return seed
}

// Prand32 generates a pseudo random number from a seed.
func Prand32[T ~uint32](seed T) T {
	/* Algorithm "xor" from p. 4 of Marsaglia, "Xorshift RNGs" */
	seed ^= seed << 13
	seed ^= seed >> 17
	seed ^= seed << 5
	return seed
}

// Counter16 is a concurrency safe 16 bit sequence used for IPv4
// identification fields. The zero value starts at 1.
type Counter16 struct {
	v atomic.Uint32
}

// Next returns the next value of the sequence, skipping zero.
func (c *Counter16) Next() uint16 {
	for {
		v := uint16(c.v.Add(1))
		if v != 0 {
			return v
		}
	}
}

// Seed sets the current position of the sequence.
func (c *Counter16) Seed(v uint16) { c.v.Store(uint32(v)) }
