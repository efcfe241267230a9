package pktbuf

import (
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/soypat/fixnet"
)

func TestPoolConservation(t *testing.T) {
	const count = 8
	pool, err := NewPool(Config{Name: "test", Count: count, Size: 64})
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	held := make(map[*Buffer]bool)
	var order []*Buffer
	for i := 0; i < 2000; i++ {
		if rng.Intn(2) == 0 {
			b, ok := pool.TryAcquire()
			if len(held) == count {
				if ok {
					t.Fatal("acquired beyond pool capacity")
				}
				continue
			}
			if !ok {
				t.Fatalf("acquire failed with %d outstanding", len(held))
			}
			if held[b] {
				t.Fatal("buffer handed out twice")
			}
			held[b] = true
			order = append(order, b)
		} else if len(order) > 0 {
			j := rng.Intn(len(order))
			b := order[j]
			order = append(order[:j], order[j+1:]...)
			delete(held, b)
			pool.Release(b)
		}
		if pool.Outstanding() != len(held) || pool.Outstanding() > pool.Cap() {
			t.Fatalf("outstanding=%d held=%d", pool.Outstanding(), len(held))
		}
	}
}

func TestPoolReleaseResetsWindow(t *testing.T) {
	pool, _ := NewPool(Config{Count: 1, Size: 100})
	b, _ := pool.TryAcquire()
	b.Reserve(40)
	b.Append([]byte("payload"))
	b.Prepend(20)
	b.Pin()
	b.SetTag(123, time.Unix(1, 0))
	pool.Release(b)
	b, _ = pool.TryAcquire()
	if b.Len() != 100 || b.Headroom() != 0 || b.Pinned() {
		t.Fatalf("buffer not reset: len=%d headroom=%d pinned=%v", b.Len(), b.Headroom(), b.Pinned())
	}
	if _, _, sends := b.Tag(); sends != 0 {
		t.Fatal("tag not reset")
	}
}

func TestPoolDoubleReleasePanics(t *testing.T) {
	pool, _ := NewPool(Config{Count: 2, Size: 8})
	b, _ := pool.TryAcquire()
	pool.Release(b)
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic on double release")
		}
	}()
	pool.Release(b)
}

func TestPoolAcquireTimeout(t *testing.T) {
	pool, _ := NewPool(Config{Count: 1, Size: 8})
	b, err := pool.Acquire(time.Millisecond)
	if err != nil {
		t.Fatal(err)
	}
	_, err = pool.Acquire(5 * time.Millisecond)
	if !errors.Is(err, fixnet.ErrTimeout) {
		t.Fatalf("want timeout, got %v", err)
	}
	pool.Release(b)
}

func TestPoolReleaseWakesOneWaiter(t *testing.T) {
	pool, _ := NewPool(Config{Count: 1, Size: 8})
	b, _ := pool.TryAcquire()
	const waiters = 3
	got := make(chan *Buffer, waiters)
	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			nb, err := pool.Acquire(200 * time.Millisecond)
			if err == nil {
				got <- nb
			}
		}()
	}
	for pool.Waiters() != waiters {
		time.Sleep(time.Millisecond)
	}
	pool.Release(b)
	wg.Wait()
	close(got)
	n := 0
	for range got {
		n++
	}
	if n != 1 {
		t.Fatalf("release woke %d acquirers, want 1", n)
	}
}

func TestBufferWindow(t *testing.T) {
	pool, _ := NewPool(Config{Count: 1, Size: 64})
	b, _ := pool.TryAcquire()
	b.Reserve(34)
	copy(b.Extend(4), "data")
	hdr := b.Prepend(20)
	if len(hdr) != 20 || b.Len() != 24 || b.Headroom() != 14 {
		t.Fatalf("prepend: len=%d headroom=%d", b.Len(), b.Headroom())
	}
	b.Strip(20)
	if string(b.Bytes()) != "data" {
		t.Fatalf("strip: got %q", b.Bytes())
	}
	off, n := b.Window()
	b.Prepend(14)
	b.SetWindow(off, n)
	if string(b.Bytes()) != "data" {
		t.Fatalf("restore: got %q", b.Bytes())
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic when prepending past headroom")
		}
	}()
	b.Prepend(b.Headroom() + 1)
}
