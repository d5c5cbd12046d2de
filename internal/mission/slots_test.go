package mission

import (
	"sync"
	"testing"
)

func TestSlotCounterNeverExceedsMax(t *testing.T) {
	c := NewSlotCounter()
	const max = 3
	const goroutines = 64

	var wg sync.WaitGroup
	acquired := make(chan struct{}, goroutines)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if c.TryAcquire("u-1", max) {
				acquired <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(acquired)

	got := 0
	for range acquired {
		got++
	}
	if got != max {
		t.Fatalf("acquired=%d, expected exactly %d under contention", got, max)
	}
	if held := c.Held("u-1"); held != max {
		t.Fatalf("held=%d, expected %d", held, max)
	}
}

func TestSlotReleaseFreesCapacity(t *testing.T) {
	c := NewSlotCounter()

	if !c.TryAcquire("u-1", 1) {
		t.Fatalf("first acquire failed")
	}
	if c.TryAcquire("u-1", 1) {
		t.Fatalf("second acquire must fail at max 1")
	}
	c.Release("u-1")
	if !c.TryAcquire("u-1", 1) {
		t.Fatalf("acquire after release failed")
	}
}

func TestSlotReleaseFloorsAtZero(t *testing.T) {
	c := NewSlotCounter()
	c.Release("u-1")
	c.Release("u-1")
	if held := c.Held("u-1"); held != 0 {
		t.Fatalf("held=%d, expected floor at 0", held)
	}
	if !c.TryAcquire("u-1", 1) {
		t.Fatalf("acquire after spurious releases failed")
	}
}

func TestSlotsArePerUser(t *testing.T) {
	c := NewSlotCounter()
	if !c.TryAcquire("u-1", 1) || !c.TryAcquire("u-2", 1) {
		t.Fatalf("independent users must not share slots")
	}
}
