package ist

import "fmt"

// Tree is a concurrent, lock-free ordered map from keys of type K to
// values of type V. The zero value is not usable; construct one with
// NewTree. Every goroutine that will call a Tree method must first call
// InitThread with a distinct, small thread id, and should call
// DeinitThread when it is done.
type Tree[K Numeric, V any] struct {
	// root is a permanent degree-1 anchor: it is never itself replaced,
	// rebuilds of the whole tree replace its single child slot instead,
	// and its dirty word stays clean forever, so updates and rebuild
	// installs against it always pass their control check.
	root *node[K, V]

	// multiCounterDepth bounds how many levels below the anchor get an
	// approximate sharded change counter instead of the exact changeSum;
	// see NewTree.
	multiCounterDepth int

	threads []*threadRNG
}

// NewTree constructs an empty Tree. multiCounterDepth controls how many
// levels of freshly built subtrees, counted from the top of the tree,
// carry an approximate sharded change counter rather than an exact one;
// 1 covers just the topmost node, matching the shallow-only placement
// the contention pattern calls for. maxThreads bounds the thread ids
// InitThread will accept (ids must be in [0, maxThreads)).
func NewTree[K Numeric, V any](multiCounterDepth, maxThreads int) *Tree[K, V] {
	if multiCounterDepth < 0 {
		multiCounterDepth = 0
	}
	if maxThreads < 1 {
		maxThreads = 1
	}
	return &Tree[K, V]{
		root:              createNode[K, V](1, 1, *new(K), *new(K)),
		multiCounterDepth: multiCounterDepth,
		threads:           make([]*threadRNG, maxThreads),
	}
}

// InitThread registers tid as a valid thread id for this Tree. It must
// be called once per goroutine, with a distinct tid, before that
// goroutine calls any other Tree method.
func (t *Tree[K, V]) InitThread(tid int) {
	t.checkTID(tid)
	t.threads[tid] = newThreadRNG(tid)
}

// DeinitThread releases the per-thread state associated with tid. tid
// may be reused by a different goroutine after this call.
func (t *Tree[K, V]) DeinitThread(tid int) {
	t.checkTID(tid)
	t.threads[tid] = nil
}

func (t *Tree[K, V]) checkTID(tid int) {
	if tid < 0 || tid >= len(t.threads) {
		panic(fmt.Sprintf("ist: thread id %d out of range [0, %d)", tid, len(t.threads)))
	}
}

func (t *Tree[K, V]) rngFor(tid int) *threadRNG {
	t.checkTID(tid)
	r := t.threads[tid]
	if r == nil {
		panic(fmt.Sprintf("ist: thread id %d used before InitThread", tid))
	}
	return r
}

// checkKey enforces the caller contract that key 0 is reserved and can
// never be inserted, looked up or removed. This is a programming error,
// not a recoverable condition, so it panics rather than returning an
// error value.
func checkKey[K Numeric](key K) {
	if key == 0 {
		panic("ist: key 0 is reserved and cannot be used")
	}
}

// Contains reports whether key is present in the tree.
func (t *Tree[K, V]) Contains(tid int, key K) bool {
	_, ok := t.Find(tid, key)
	return ok
}

// Find returns the value stored under key, if any.
func (t *Tree[K, V]) Find(tid int, key K) (V, bool) {
	t.checkTID(tid)
	checkKey(key)
	return t.doUpdate(tid, key, *new(V), updateFind)
}

// Insert stores val under key, returning the previous value (if any).
// An existing mapping is always overwritten.
func (t *Tree[K, V]) Insert(tid int, key K, val V) (V, bool) {
	t.rngFor(tid)
	checkKey(key)
	return t.doUpdate(tid, key, val, updateInsert)
}

// InsertIfAbsent stores val under key only if key is not already
// present, returning the existing value when it was.
func (t *Tree[K, V]) InsertIfAbsent(tid int, key K, val V) (V, bool) {
	t.rngFor(tid)
	checkKey(key)
	return t.doUpdate(tid, key, val, updateInsertIfAbsent)
}

// Remove deletes key from the tree, returning its value if it was
// present.
func (t *Tree[K, V]) Remove(tid int, key K) (V, bool) {
	t.rngFor(tid)
	checkKey(key)
	return t.doUpdate(tid, key, *new(V), updateRemove)
}

// Pair is one key/value binding returned by RangeQuery.
type Pair[K Numeric, V any] struct {
	Key   K
	Value V
}

// RangeQuery returns every key/value pair with key in [lo, hi], in
// ascending key order. It is a best-effort, snapshot-free walk: each
// individual key's membership at the moment its slot is read is
// accurate, but the overall result is not linearizable against
// concurrent updates landing in parts of the tree already visited.
// Subtrees are pruned by the separator intervals inherited from above,
// not by the per-node min/max hints, since boundary-slot inserts can
// legitimately carry keys outside those hints.
func (t *Tree[K, V]) RangeQuery(tid int, lo, hi K) []Pair[K, V] {
	t.checkTID(tid)
	if hi < lo {
		return nil
	}

	var out []Pair[K, V]
	var walk func(n *node[K, V], hasLo bool, cLo K, hasHi bool, cHi K)
	walk = func(n *node[K, V], hasLo bool, cLo K, hasHi bool, cHi K) {
		for i, slot := range n.slots {
			sLo, sLoKey := hasLo, cLo
			if i > 0 {
				sLo, sLoKey = true, n.keys[i-1]
			}
			sHi, sHiKey := hasHi, cHi
			if i < n.degree-1 {
				sHi, sHiKey = true, n.keys[i]
			}
			// Slot i owns keys in [sLoKey, sHiKey); skip it when that
			// interval cannot intersect [lo, hi].
			if sHi && sHiKey <= lo {
				continue
			}
			if sLo && sLoKey > hi {
				continue
			}

			w := slot.Read()
			switch {
			case w.isKVPair():
				if w.kv.key >= lo && w.kv.key <= hi {
					out = append(out, Pair[K, V]{Key: w.kv.key, Value: w.kv.val})
				}
			case w.isRebuildOp():
				walk(w.rb.target, sLo, sLoKey, sHi, sHiKey)
			case w.isNode():
				walk(w.n, sLo, sLoKey, sHi, sHiKey)
			}
		}
	}
	walk(t.root, false, lo, false, hi)
	return out
}
