package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockerSerializesSameChat(t *testing.T) {
	l := NewLocker()
	var inside, maxInside atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock(1)
			defer unlock()
			n := inside.Add(1)
			for {
				m := maxInside.Load()
				if n <= m || maxInside.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			inside.Add(-1)
		}()
	}
	wg.Wait()
	if maxInside.Load() != 1 {
		t.Fatalf("max concurrent holders = %d", maxInside.Load())
	}
	if l.Active() != 0 {
		t.Fatalf("active = %d after release", l.Active())
	}
}

func TestLockerIndependentChats(t *testing.T) {
	l := NewLocker()
	unlockA := l.Lock(1)
	done := make(chan struct{})
	go func() {
		unlockB := l.Lock(2)
		unlockB()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on another chat blocked")
	}
	unlockA()
	unlockA()
	if l.Active() != 0 {
		t.Fatalf("active = %d", l.Active())
	}
}
