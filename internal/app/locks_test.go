package app

import (
	"sync"
	"testing"
)

func TestKeyedMutexReleasesEntries(t *testing.T) {
	k := newKeyedMutex()
	var (
		wg      sync.WaitGroup
		counter int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := k.Lock("task:1")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("counter %d", counter)
	}
	if n := k.size(); n != 0 {
		t.Fatalf("%d entries left", n)
	}

	unlockA := k.Lock("a")
	unlockB := k.Lock("b")
	if k.size() != 2 {
		t.Fatalf("distinct keys should not share an entry")
	}
	unlockA()
	unlockB()
}
