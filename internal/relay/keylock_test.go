package relay

import (
	"sync"
	"testing"
	"time"
)

func TestKeyedMutex_SerializesPerKey(t *testing.T) {
	var k keyedMutex
	unlock := k.Lock("a")

	got := make(chan string, 2)
	go func() {
		release := k.Lock("a")
		got <- "a"
		release()
	}()
	go func() {
		release := k.Lock("b")
		got <- "b"
		release()
	}()

	select {
	case v := <-got:
		if v != "b" {
			t.Fatalf("second holder of a ran while a was locked")
		}
	case <-time.After(time.Second):
		t.Fatalf("unrelated key blocked")
	}
	select {
	case v := <-got:
		t.Fatalf("%s acquired while held", v)
	case <-time.After(20 * time.Millisecond):
	}

	unlock()
	select {
	case <-got:
	case <-time.After(time.Second):
		t.Fatalf("waiter not released")
	}
}

func TestKeyedMutex_DropsIdleEntries(t *testing.T) {
	var k keyedMutex
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			k.LockAll("u2", "u1", "", "u2")()
		}()
	}
	wg.Wait()
	if n := k.size(); n != 0 {
		t.Fatalf("idle entries=%d; want 0", n)
	}
}
