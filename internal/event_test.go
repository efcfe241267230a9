package internal

import (
	"testing"
	"time"
)

func TestEventSignalBeforeWait(t *testing.T) {
	var ev Event
	ev.Init("test")
	ev.Signal()
	ev.Signal() // Coalesced.
	if !ev.Wait(time.Now().Add(time.Second)) {
		t.Fatal("remembered signal not delivered")
	}
	if ev.Wait(time.Now().Add(10 * time.Millisecond)) {
		t.Fatal("signals should coalesce into one")
	}
}

func TestEventWakesWaiter(t *testing.T) {
	var ev Event
	ev.Init("test")
	done := make(chan bool)
	go func() { done <- ev.Wait(time.Time{}) }()
	for i := 0; i < 100; i++ {
		if n, _ := ev.Blocked(); n == 1 {
			break
		}
		time.Sleep(time.Millisecond)
	}
	n, since := ev.Blocked()
	if n != 1 || since.IsZero() {
		t.Fatalf("want one blocked waiter, got %d since %v", n, since)
	}
	ev.Signal()
	if !<-done {
		t.Fatal("waiter timed out")
	}
	if n, _ := ev.Blocked(); n != 0 {
		t.Fatalf("waiter count not restored: %d", n)
	}
}

func TestEventBroadcastWakesAll(t *testing.T) {
	var ev Event
	ev.Init("test")
	const waiters = 3
	done := make(chan bool, waiters)
	for range waiters {
		go func() { done <- ev.Wait(time.Now().Add(2 * time.Second)) }()
	}
	for i := 0; i < 100; i++ {
		if n, _ := ev.Blocked(); n == waiters {
			break
		}
		time.Sleep(time.Millisecond)
	}
	ev.Broadcast()
	ev.Broadcast() // Idempotent.
	for range waiters {
		if !<-done {
			t.Fatal("waiter not woken by broadcast")
		}
	}
	if !ev.Wait(time.Now().Add(10 * time.Millisecond)) {
		t.Fatal("wait after broadcast blocked")
	}
	ev.Clear()
	if ev.Wait(time.Now().Add(10 * time.Millisecond)) {
		t.Fatal("broadcast survived Clear")
	}
}
