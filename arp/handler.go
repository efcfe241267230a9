package arp

import (
	"sync"
	"time"

	"github.com/soypat/fixnet"
)

// HandlerConfig configures a [Handler].
type HandlerConfig struct {
	HardwareAddr [6]byte
	ProtocolAddr [4]byte
	// CacheSize is the amount of resolved addresses kept.
	CacheSize int
	// MaxAge is the cache age at which entries are discarded. See [Cache.Reset].
	MaxAge uint8
	// MaxQueries is the amount of outstanding requests tracked at once.
	MaxQueries int
	// QueryInterval is the minimum time between two requests for the same address.
	QueryInterval time.Duration
}

type query struct {
	proto  [4]byte
	sentAt time.Time
}

// Handler holds ARP state for one interface: the address cache and the
// outstanding requests. It decides what to answer but does not transmit;
// all methods are safe for concurrent use.
type Handler struct {
	mu       sync.Mutex
	ourHW    [6]byte
	ourProto [4]byte
	cache    Cache
	queries  []query
	interval time.Duration
}

// Result describes what a received ARP packet asks of the interface.
type Result struct {
	Op Operation
	// SenderHW and SenderProto are the addresses of the packet's sender.
	SenderHW    [6]byte
	SenderProto [4]byte
	// Reply is set when a reply must be sent to the sender.
	Reply bool
	// Resolved is set when the packet resolved or refreshed SenderProto.
	Resolved bool
}

func (h *Handler) Reset(cfg HandlerConfig) error {
	if cfg.CacheSize <= 0 || cfg.MaxQueries <= 0 {
		return fixnet.ErrInvalidConfig
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.ourHW = cfg.HardwareAddr
	h.ourProto = cfg.ProtocolAddr
	h.cache.Reset(cfg.CacheSize, cfg.MaxAge)
	if cap(h.queries) < cfg.MaxQueries {
		h.queries = make([]query, 0, cfg.MaxQueries)
	}
	h.queries = h.queries[:0]
	h.interval = cfg.QueryInterval
	return nil
}

// SetProtocolAddr changes the local address answered for, i.e. after a DHCP lease.
func (h *Handler) SetProtocolAddr(addr [4]byte) {
	h.mu.Lock()
	h.ourProto = addr
	h.mu.Unlock()
}

// Lookup returns the cached hardware address for proto.
func (h *Handler) Lookup(proto [4]byte) (hw [6]byte, ok bool) {
	h.mu.Lock()
	hw, ok = h.cache.Lookup(proto)
	h.mu.Unlock()
	return hw, ok
}

// Add inserts a static mapping into the cache.
func (h *Handler) Add(proto [4]byte, hw [6]byte) {
	h.mu.Lock()
	h.cache.Add(proto, hw)
	h.mu.Unlock()
}

// StartQuery records an outstanding request for proto. It reports whether a
// request should be transmitted now; requests for the same address are
// spaced at least QueryInterval apart. If the query table is full the oldest
// query is replaced.
func (h *Handler) StartQuery(proto [4]byte, now time.Time) (send bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i := range h.queries {
		q := &h.queries[i]
		if q.proto == proto {
			if now.Sub(q.sentAt) < h.interval {
				return false
			}
			q.sentAt = now
			return true
		}
	}
	if len(h.queries) == cap(h.queries) {
		oldest := 0
		for i := range h.queries {
			if h.queries[i].sentAt.Before(h.queries[oldest].sentAt) {
				oldest = i
			}
		}
		h.queries[oldest] = query{proto: proto, sentAt: now}
		return true
	}
	h.queries = append(h.queries, query{proto: proto, sentAt: now})
	return true
}

// PendingQueries returns the amount of outstanding requests.
func (h *Handler) PendingQueries() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.queries)
}

// Demux processes a received ARP packet. Requests for our address get a
// reply and their sender cached. Replies are only trusted when they answer an
// outstanding query or refresh an address already cached.
func (h *Handler) Demux(payload []byte) (res Result, err error) {
	afrm, err := NewFrame(payload)
	if err != nil {
		return res, err
	}
	var vld fixnet.Validator
	afrm.Validate4(&vld)
	if vld.HasError() {
		return res, vld.ErrPop()
	}
	res.Op = afrm.Operation()
	hw, proto := afrm.Sender4()
	res.SenderHW, res.SenderProto = *hw, *proto
	_, target := afrm.Target4()
	h.mu.Lock()
	defer h.mu.Unlock()
	switch res.Op {
	case OpRequest:
		if *target != h.ourProto || h.ourProto == [4]byte{} {
			return res, nil // Not for us.
		}
		res.Reply = true
		if res.SenderProto != [4]byte{} {
			h.cache.Add(res.SenderProto, res.SenderHW)
			h.removeQuery(res.SenderProto)
			res.Resolved = true
		}
	case OpReply:
		pending := h.removeQuery(res.SenderProto)
		_, cached := h.cache.Lookup(res.SenderProto)
		if !pending && !cached {
			return res, nil // Unsolicited.
		}
		h.cache.Add(res.SenderProto, res.SenderHW)
		res.Resolved = true
	}
	return res, nil
}

// AppendEntries appends the cache contents to dst.
func (h *Handler) AppendEntries(dst []Entry) []Entry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.cache.AppendEntries(dst)
}

func (h *Handler) removeQuery(proto [4]byte) bool {
	for i := range h.queries {
		if h.queries[i].proto == proto {
			h.queries[i] = h.queries[len(h.queries)-1]
			h.queries = h.queries[:len(h.queries)-1]
			return true
		}
	}
	return false
}
