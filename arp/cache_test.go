package arp

import (
	"math/rand"
	"testing"
)

func addr4(i int) [4]byte  { return [4]byte{10, 0, byte(i >> 8), byte(i)} }
func hwaddr(i int) [6]byte { return [6]byte{0x02, 0, 0, 0, byte(i >> 8), byte(i)} }

func TestCacheEvictsOldest(t *testing.T) {
	const n = 8
	rng := rand.New(rand.NewSource(1))
	for iter := 0; iter < 50; iter++ {
		var c Cache
		c.Reset(n, 0)
		// Fill with random re-adds so ages are scrambled.
		for i := 0; i < 40; i++ {
			c.Add(addr4(rng.Intn(n)), hwaddr(i))
		}
		for i := 0; i < n; i++ {
			if c.Age(addr4(i)) == 0 {
				c.Add(addr4(i), hwaddr(i))
			}
		}
		if c.Len() != n {
			t.Fatalf("cache not full: %d", c.Len())
		}
		var oldest [4]byte
		var oldestAge uint8
		for _, e := range c.AppendEntries(nil) {
			if e.Age > oldestAge {
				oldest, oldestAge = e.Proto, e.Age
			}
		}
		newAddr := addr4(1000 + iter)
		if !c.Add(newAddr, hwaddr(1000)) {
			t.Fatal("expected eviction on full cache")
		}
		if c.Age(oldest) != 0 {
			t.Fatalf("oldest entry %v (age %d) not evicted", oldest, oldestAge)
		}
		if c.Len() != n {
			t.Fatalf("want %d entries after eviction, got %d", n, c.Len())
		}
		if c.Age(newAddr) != 1 {
			t.Fatalf("new entry age %d, want 1", c.Age(newAddr))
		}
	}
}

func TestCacheReAddResetsAge(t *testing.T) {
	var c Cache
	c.Reset(4, 0)
	a := addr4(1)
	c.Add(a, hwaddr(1))
	c.Add(addr4(2), hwaddr(2))
	c.Add(addr4(3), hwaddr(3))
	if c.Age(a) != 3 {
		t.Fatalf("age after two inserts: got %d, want 3", c.Age(a))
	}
	newHW := hwaddr(99)
	if c.Add(a, newHW) {
		t.Fatal("re-add must not evict")
	}
	if c.Age(a) != 1 {
		t.Fatalf("re-add age got %d, want 1", c.Age(a))
	}
	if c.Len() != 3 {
		t.Fatalf("re-add created duplicate: len=%d", c.Len())
	}
	if hw, _ := c.Lookup(a); hw != newHW {
		t.Fatal("hardware address not refreshed")
	}
}

func TestCacheAgeOverflow(t *testing.T) {
	var c Cache
	c.Reset(2, 3)
	c.Add(addr4(1), hwaddr(1))
	for i := 0; i < 3; i++ {
		c.Add(addr4(2), hwaddr(2))
	}
	if c.Age(addr4(1)) != 0 {
		t.Fatalf("entry past max age should be discarded, age=%d", c.Age(addr4(1)))
	}
	if _, ok := c.Lookup(addr4(1)); ok {
		t.Fatal("discarded entry still resolves")
	}
}
