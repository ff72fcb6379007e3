// Command benchmark is a minimal workload driver over ist.Tree: a fixed
// pool of worker goroutines hammering a shared tree with a configurable
// read/insert/remove mix for a fixed duration. It is not a measurement
// harness (no core pinning, no latency percentiles): just enough of a
// caller to exercise the tree's fixed worker-identity model under real
// concurrency.
package main

import (
	"context"
	"fmt"
	"log"
	"math/rand/v2"
	"sync/atomic"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/trevorbrown-ds/ist"
)

func main() {
	log.SetFlags(log.Lmicroseconds)

	var (
		threads   = pflag.IntP("threads", "t", 4, "number of worker goroutines")
		duration  = pflag.DurationP("duration", "d", 2*time.Second, "how long to run the workload")
		keyRange  = pflag.IntP("keys", "k", 100_000, "key range [1, keys] the workload draws from")
		readPct   = pflag.Int("read-pct", 80, "percentage of operations that are reads")
		insertPct = pflag.Int("insert-pct", 15, "percentage of operations that are inserts (remainder is removes)")
	)
	pflag.Parse()

	if *readPct+*insertPct > 100 {
		log.Fatalf("benchmark: read-pct + insert-pct must not exceed 100, got %d", *readPct+*insertPct)
	}

	tree := ist.NewTree[int, int](1, *threads)
	ctx, cancel := context.WithTimeout(context.Background(), *duration)
	defer cancel()

	var ops, found atomic.Int64
	group, _ := errgroup.WithContext(context.Background())

	for tid := 0; tid < *threads; tid++ {
		tid := tid
		tree.InitThread(tid)
		group.Go(func() error {
			defer tree.DeinitThread(tid)
			runWorker(ctx, tree, tid, *keyRange, *readPct, *insertPct, &ops, &found)
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		log.Fatalf("benchmark: worker failed: %v", err)
	}

	if err := tree.Validate(); err != nil {
		log.Fatalf("benchmark: invariants broken after run: %v", err)
	}

	elapsed := *duration
	log.Printf("ran %d workers for %s: %d ops (%.0f ops/sec), %d hits",
		*threads, elapsed, ops.Load(), float64(ops.Load())/elapsed.Seconds(), found.Load())
	fmt.Println("benchmark complete")
}

// runWorker repeatedly issues one of contains/insert/remove, chosen per
// readPct/insertPct, against keys uniformly drawn from [1, keyRange],
// until ctx is done. tid must have already been registered via
// InitThread; it doubles as this worker's PRNG seed.
func runWorker(ctx context.Context, tree *ist.Tree[int, int], tid, keyRange, readPct, insertPct int, ops, found *atomic.Int64) {
	rng := rand.New(rand.NewPCG(uint64(tid)+1, 0xda1a))
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		key := rng.IntN(keyRange) + 1
		roll := rng.IntN(100)
		switch {
		case roll < readPct:
			if tree.Contains(tid, key) {
				found.Add(1)
			}
		case roll < readPct+insertPct:
			tree.Insert(tid, key, key)
		default:
			tree.Remove(tid, key)
		}
		ops.Add(1)
	}
}
