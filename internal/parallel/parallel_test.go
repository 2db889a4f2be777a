package parallel

import (
	"sort"
	"sync"
	"testing"
)

func TestAtomicVisitsEveryItemExactlyOnce(t *testing.T) {
	const n = 1000
	var mu sync.Mutex
	seen := make(map[int]bool)

	Run(n, 8, Atomic, func(threadID, i int) {
		mu.Lock()
		defer mu.Unlock()
		if seen[i] {
			t.Errorf("item %d visited twice", i)
		}
		seen[i] = true
	})

	if len(seen) != n {
		t.Fatalf("visited %d items, want %d", len(seen), n)
	}
}

func TestPartitionedVisitsEveryItemExactlyOnce(t *testing.T) {
	const n = 1000
	var mu sync.Mutex
	seen := make(map[int]bool)

	Run(n, 7, Partitioned, func(threadID, i int) {
		mu.Lock()
		defer mu.Unlock()
		if seen[i] {
			t.Errorf("item %d visited twice", i)
		}
		seen[i] = true
	})

	if len(seen) != n {
		t.Fatalf("visited %d items, want %d", len(seen), n)
	}
}

func TestPartitionedAssignsContiguousRanges(t *testing.T) {
	const n = 100
	const threads = 4
	var mu sync.Mutex
	byThread := make(map[int][]int)

	Run(n, threads, Partitioned, func(threadID, i int) {
		mu.Lock()
		defer mu.Unlock()
		byThread[threadID] = append(byThread[threadID], i)
	})

	for tid, items := range byThread {
		sort.Ints(items)
		for k := 1; k < len(items); k++ {
			if items[k] != items[k-1]+1 {
				t.Errorf("thread %d got non-contiguous items: %v", tid, items)
				break
			}
		}
	}
}

func TestRunHandlesZeroItems(t *testing.T) {
	called := false
	Run(0, 4, Atomic, func(threadID, i int) { called = true })
	if called {
		t.Error("Run(0, ...) should not invoke work")
	}
}
