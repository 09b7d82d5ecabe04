package sequence

import (
	"sync"
	"testing"
)

func TestSequencerMonotonic(t *testing.T) {
	s := New(0)
	if s.Current() != 0 {
		t.Fatalf("fresh sequencer at %d", s.Current())
	}
	for want := uint64(1); want <= 5; want++ {
		if got := s.Next(); got != want {
			t.Fatalf("Next = %d, want %d", got, want)
		}
	}
	s.Reset(100)
	if got := s.Next(); got != 101 {
		t.Errorf("Next after reset = %d, want 101", got)
	}
}

func TestSequencerConcurrentUnique(t *testing.T) {
	s := New(0)
	const workers, perWorker = 8, 1000

	out := make(chan uint64, workers*perWorker)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				out <- s.Next()
			}
		}()
	}
	wg.Wait()
	close(out)

	seen := make(map[uint64]bool, workers*perWorker)
	for v := range out {
		if seen[v] {
			t.Fatalf("duplicate seq %d", v)
		}
		seen[v] = true
	}
	if s.Current() != workers*perWorker {
		t.Errorf("Current = %d, want %d", s.Current(), workers*perWorker)
	}
}
