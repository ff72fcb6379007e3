package ist

import "sync/atomic"

// multiCounter is a sharded approximate counter: each increment picks two
// random shards and bumps the lesser-valued one, so contention spreads
// across shards instead of funneling every update through one cache line,
// at the cost of an approximate (not exact) read between rebuilds.
type multiCounter struct {
	shards []paddedShard
}

// paddedShard fills a whole 64-byte cache line, so no two shards share
// one.
type paddedShard struct {
	atomic.Int64
	_ [56]byte
}

func newMultiCounter(numShards int) *multiCounter {
	if numShards < 1 {
		numShards = 1
	}
	return &multiCounter{shards: make([]paddedShard, numShards)}
}

// inc records one churn event, adding 1 to whichever of two distinct
// randomly chosen shards currently holds the smaller value, keeping the
// shards roughly balanced. This always counts an event (an insert and a
// remove both count as one unit of change), mirroring changeSum, which
// this counter replaces at the depths it is attached to; it is not a
// running net size.
func (c *multiCounter) inc(rng *threadRNG) {
	if len(c.shards) == 1 {
		c.shards[0].Add(1)
		return
	}
	i := rng.intn(len(c.shards))
	j := i
	for j == i {
		j = rng.intn(len(c.shards))
	}
	if c.shards[i].Load() <= c.shards[j].Load() {
		c.shards[i].Add(1)
	} else {
		c.shards[j].Add(1)
	}
}

// readFast returns a cheap, possibly stale estimate: one randomly chosen
// shard scaled up by the shard count, for callers (e.g. rebuild threshold
// checks) that only need an approximation and want to avoid summing every
// shard on every update.
func (c *multiCounter) readFast(rng *threadRNG) int64 {
	i := rng.intn(len(c.shards))
	return c.shards[i].Load() * int64(len(c.shards))
}

// readAccurate sums every shard; more expensive, used to confirm a
// rebuild trigger the fast estimate raised before committing to the
// work.
func (c *multiCounter) readAccurate() int64 {
	var sum int64
	for i := range c.shards {
		sum += c.shards[i].Load()
	}
	return sum
}
