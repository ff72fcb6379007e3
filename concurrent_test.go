package ist_test

import (
	"sync"
	"testing"

	"github.com/trevorbrown-ds/ist"
)

// ExampleTree_concurrent demonstrates safe concurrent usage of a Tree:
// several goroutines inserting, reading and removing disjoint key ranges
// at once. Intended to be run with the race detector enabled
// (go test -race -run=ExampleTree_concurrent).
func ExampleTree_concurrent() {
	const threads = 4
	tree := ist.NewTree[int, int](1, threads)

	wg := sync.WaitGroup{}
	for tid := 0; tid < threads; tid++ {
		tid := tid
		tree.InitThread(tid)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer tree.DeinitThread(tid)

			base := tid*1000 + 1
			for i := 0; i < 200; i++ {
				tree.Insert(tid, base+i, base+i)
			}
			for i := 0; i < 200; i++ {
				tree.Contains(tid, base+i)
			}
			for i := 0; i < 100; i++ {
				tree.Remove(tid, base+i)
			}
		}()
	}
	wg.Wait()

	// Output:
}

// TestConcurrentInsertFind hammers a single Tree from many goroutines and
// checks that every key a goroutine inserted is later found with the
// value it inserted, even though other goroutines are mutating disjoint
// keys at the same time.
func TestConcurrentInsertFind(t *testing.T) {
	t.Parallel()

	const threads = 8
	const perThread = 500

	tree := ist.NewTree[int, int](1, threads)

	var wg sync.WaitGroup
	for tid := 0; tid < threads; tid++ {
		tid := tid
		tree.InitThread(tid)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer tree.DeinitThread(tid)

			base := tid*perThread + 1
			for i := 0; i < perThread; i++ {
				tree.Insert(tid, base+i, (base+i)*2)
			}
			for i := 0; i < perThread; i++ {
				v, ok := tree.Find(tid, base+i)
				if !ok {
					t.Errorf("thread %d: key %d missing after insert", tid, base+i)
					continue
				}
				if v != (base+i)*2 {
					t.Errorf("thread %d: key %d has value %d, want %d", tid, base+i, v, (base+i)*2)
				}
			}
		}()
	}
	wg.Wait()

	if err := tree.Validate(); err != nil {
		t.Fatalf("tree invariants broken after concurrent inserts: %v", err)
	}
}

// TestConcurrentDisjointOddEven has two goroutines insert interleaved
// disjoint key sets (all odd keys and all even keys). After both join,
// every key from either set must be present with its value and the
// structural invariants must hold.
func TestConcurrentDisjointOddEven(t *testing.T) {
	t.Parallel()

	const n = 20000
	tree := ist.NewTree[int, int](1, 2)
	tree.InitThread(0)
	tree.InitThread(1)

	var wg sync.WaitGroup
	for tid := 0; tid < 2; tid++ {
		tid := tid
		wg.Add(1)
		go func() {
			defer wg.Done()
			// tid 0 inserts odds, tid 1 evens; key 0 stays reserved.
			for k := tid + 1; k <= n; k += 2 {
				tree.Insert(tid, k, k*3)
			}
		}()
	}
	wg.Wait()

	for k := 1; k <= n; k++ {
		v, ok := tree.Find(0, k)
		if !ok {
			t.Fatalf("key %d missing after join", k)
		}
		if v != k*3 {
			t.Fatalf("key %d has value %d, want %d", k, v, k*3)
		}
	}
	if err := tree.Validate(); err != nil {
		t.Fatalf("tree invariants broken: %v", err)
	}
}

// TestConcurrentInsertRemoveSameRange races one inserter against one
// remover over the same key range. At every moment a key is either bound
// to the single value the inserter ever writes for it or absent, so
// after the goroutines join each key must be in one of exactly those two
// states, and a final removal sweep must leave the tree empty.
func TestConcurrentInsertRemoveSameRange(t *testing.T) {
	t.Parallel()

	const keyRange = 2000
	const rounds = 5

	tree := ist.NewTree[int, int](1, 2)
	tree.InitThread(0)
	tree.InitThread(1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for r := 0; r < rounds; r++ {
			for k := 1; k <= keyRange; k++ {
				tree.Insert(0, k, k*7)
			}
		}
	}()
	go func() {
		defer wg.Done()
		for r := 0; r < rounds; r++ {
			for k := 1; k <= keyRange; k++ {
				tree.Remove(1, k)
			}
		}
	}()
	wg.Wait()

	if err := tree.Validate(); err != nil {
		t.Fatalf("tree invariants broken after racing insert/remove: %v", err)
	}
	for k := 1; k <= keyRange; k++ {
		if v, ok := tree.Find(0, k); ok && v != k*7 {
			t.Fatalf("key %d bound to %d, want %d or absent", k, v, k*7)
		}
		tree.Remove(0, k)
		if _, ok := tree.Find(0, k); ok {
			t.Fatalf("key %d still present after final remove", k)
		}
	}
}

// TestConcurrentInsertRemoveDisjoint checks that a key removed after
// being inserted is never subsequently found, under concurrent traffic
// on other keys.
func TestConcurrentInsertRemoveDisjoint(t *testing.T) {
	t.Parallel()

	const threads = 8
	const perThread = 300

	tree := ist.NewTree[int, string](1, threads)

	var wg sync.WaitGroup
	for tid := 0; tid < threads; tid++ {
		tid := tid
		tree.InitThread(tid)

		wg.Add(1)
		go func() {
			defer wg.Done()
			defer tree.DeinitThread(tid)

			base := tid*perThread + 1
			for i := 0; i < perThread; i++ {
				tree.Insert(tid, base+i, "v")
			}
			for i := 0; i < perThread; i++ {
				if _, ok := tree.Remove(tid, base+i); !ok {
					t.Errorf("thread %d: key %d missing on remove", tid, base+i)
				}
			}
			for i := 0; i < perThread; i++ {
				if _, ok := tree.Find(tid, base+i); ok {
					t.Errorf("thread %d: key %d still present after remove", tid, base+i)
				}
			}
		}()
	}
	wg.Wait()
}
