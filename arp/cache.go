package arp

// DefaultMaxAge is the age at which cache entries are discarded when
// [Cache.Reset] is given a zero maxAge.
const DefaultMaxAge = 255

// Entry is a cached mapping of IPv4 address to hardware address.
// An Age of zero marks a free slot.
type Entry struct {
	Proto [4]byte
	HW    [6]byte
	Age   uint8
}

// Cache is a fixed size address resolution cache. Entries age every time
// an entry is added; when the cache is full the oldest entry is replaced.
// Cache is not safe for concurrent use.
type Cache struct {
	entries []Entry
	maxAge  uint8
}

// Reset empties the cache and sets its capacity. maxAge is the age past
// which an entry is discarded; zero selects [DefaultMaxAge].
func (c *Cache) Reset(size int, maxAge uint8) {
	if size <= 0 {
		panic("arp: cache size must be positive")
	}
	if maxAge == 0 {
		maxAge = DefaultMaxAge
	}
	if cap(c.entries) < size {
		c.entries = make([]Entry, size)
	}
	c.entries = c.entries[:size]
	clear(c.entries)
	c.maxAge = maxAge
}

// Cap returns the maximum amount of entries.
func (c *Cache) Cap() int { return len(c.entries) }

// Len returns the amount of used entries.
func (c *Cache) Len() (n int) {
	for i := range c.entries {
		if c.entries[i].Age != 0 {
			n++
		}
	}
	return n
}

// Add inserts or refreshes the mapping proto->hw at age 1 and ages every
// other entry by one. If proto is not present and the cache is full the
// entry with the greatest age is evicted; evicted reports whether that happened.
func (c *Cache) Add(proto [4]byte, hw [6]byte) (evicted bool) {
	slot := -1
	free := -1
	oldest := -1
	for i := range c.entries {
		e := &c.entries[i]
		if e.Age == 0 {
			if free < 0 {
				free = i
			}
			continue
		}
		if e.Proto == proto {
			slot = i
			break
		}
		if oldest < 0 || e.Age > c.entries[oldest].Age {
			oldest = i
		}
	}
	if slot < 0 {
		if free >= 0 {
			slot = free
		} else {
			slot = oldest
			evicted = true
		}
	}
	for i := range c.entries {
		e := &c.entries[i]
		if i == slot || e.Age == 0 {
			continue
		}
		if e.Age >= c.maxAge {
			*e = Entry{} // Overflowed, discard.
		} else {
			e.Age++
		}
	}
	c.entries[slot] = Entry{Proto: proto, HW: hw, Age: 1}
	return evicted
}

// Lookup returns the hardware address mapped to proto.
func (c *Cache) Lookup(proto [4]byte) (hw [6]byte, ok bool) {
	i := c.index(proto)
	if i < 0 {
		return hw, false
	}
	return c.entries[i].HW, true
}

// Age returns the age of the entry for proto, or zero if not present.
func (c *Cache) Age(proto [4]byte) uint8 {
	i := c.index(proto)
	if i < 0 {
		return 0
	}
	return c.entries[i].Age
}

// Remove discards the entry for proto if present.
func (c *Cache) Remove(proto [4]byte) {
	if i := c.index(proto); i >= 0 {
		c.entries[i] = Entry{}
	}
}

// AppendEntries appends used entries to dst and returns the extended buffer.
func (c *Cache) AppendEntries(dst []Entry) []Entry {
	for i := range c.entries {
		if c.entries[i].Age != 0 {
			dst = append(dst, c.entries[i])
		}
	}
	return dst
}

func (c *Cache) index(proto [4]byte) int {
	for i := range c.entries {
		if c.entries[i].Age != 0 && c.entries[i].Proto == proto {
			return i
		}
	}
	return -1
}
