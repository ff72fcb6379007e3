package ist

import "math/rand/v2"

// threadRNG is the per-thread pseudo-random source used for MultiCounter
// shard selection and estimation. (The offset that scatters rebuild
// helpers during concurrent ideal-tree construction comes from the
// package-level math/rand/v2 generator instead.) One is created per registered thread id (see InitThread) so no two
// threads ever share generator state.
type threadRNG struct {
	r *rand.Rand
}

func newThreadRNG(tid int) *threadRNG {
	// Seeding deterministically from the thread id (rather than a
	// time-based seed) keeps runs reproducible across a fixed set of
	// thread ids.
	return &threadRNG{r: rand.New(rand.NewPCG(uint64(tid)+1, 0x9e3779b97f4a7c15))}
}

func (t *threadRNG) intn(n int) int {
	if n <= 0 {
		return 0
	}
	return t.r.IntN(n)
}
