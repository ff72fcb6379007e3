package ist

import (
	"math"
	"math/rand/v2"

	"github.com/trevorbrown-ds/ist/internal/dcss"
)

// maybeRebuild publishes a rebuildOperation over target once it has
// accumulated enough structural change, then helps it to completion.
// The install is a DCSS conditioned on parent's dirty word, so a thread
// can never start rebuilding a subtree whose parent is itself already
// frozen for a higher rebuild. Losing the install (the parent froze, or
// the slot moved on) is not an error; whichever descriptor wins is the
// one every other thread helps.
func (t *Tree[K, V]) maybeRebuild(parent, target *node[K, V], depth int) {
	slot := target.selfSlot
	if slot == nil {
		return
	}
	w := slot.Read()
	if !w.isNode() || w.n != target {
		return
	}
	rb := &rebuildOperation[K, V]{target: target, parent: parent, parentSlot: slot, depth: depth}
	rb.word = rebuildWord(rb)
	if !dcss.DCSS(&parent.dirty, dirtyClean, slot, w, rb.word) {
		return
	}
	t.helpRebuild(rb)
}

// helpRebuild drives a published rebuildOperation through its phases:
// freeze and count the old subtree, agree on a replacement root, build
// the replacement's children, and commit. Any number of threads may run
// this concurrently for the same descriptor; every phase is either
// idempotent or settled by a single CAS whose losers discard their work.
//
// The commit is a DCSS conditioned on the parent's dirty word. If the
// parent was itself frozen by a higher rebuild in the meantime, the
// commit fails permanently and the finished replacement is simply
// orphaned: the higher rebuild has already counted this descriptor's
// target through the slot, so no binding is lost.
func (t *Tree[K, V]) helpRebuild(rb *rebuildOperation[K, V]) {
	keyCount := markAndCountNode(rb.target)

	if rb.newRoot.Load() == nil {
		t.proposeReplacement(rb, keyCount)
	}
	replacement := rb.newRoot.Load()

	// Leaf and empty replacements come out of proposeReplacement fully
	// built; only a larger interior shell still has children to fill in.
	if replacement.isNode() && replacement.n.initSize > maxAcceptableLeafSize {
		t.buildChildren(rb, replacement.n)
	}

	if dcss.DCSS(&rb.parent.dirty, dirtyClean, rb.parentSlot, rb.word, replacement) {
		rb.success.Store(true)
		retire(rb.target)
	}
}

// markAndCountNode freezes n's subtree against further updates and
// returns the number of live keys it holds. Freezing is the transition
// of each node's dirty word to started: from then on every update DCSS
// into that node fails its control-word check. Once all children are
// counted the total is packed into the dirty word alongside the finished
// bit, so later helpers read the sum in one load instead of re-walking.
//
// Nodes wider than maxAcceptableLeafSize are counted collaboratively:
// each helper claims disjoint child indices off the nextMarkAndCount
// cursor, then scans the whole node once more, by which point claimed
// children resolve from their own finished sums.
func markAndCountNode[K Numeric, V any](n *node[K, V]) uint64 {
	d := n.dirty.Load()
	if d&dirtyFinished != 0 {
		return d >> dirtySumShift
	}
	if d == dirtyClean {
		n.dirty.CompareAndSwap(dirtyClean, dirtyStarted)
	}

	if n.degree > maxAcceptableLeafSize {
		for {
			i := int(n.nextMarkAndCount.Add(1)) - 1
			if i >= n.degree {
				break
			}
			markAndCountWord(n.slots[i].Read())
		}
	}

	var sum uint64
	for _, s := range n.slots {
		sum += markAndCountWord(s.Read())
	}
	n.dirty.CompareAndSwap(dirtyStarted, dirtyFinished|dirtyStarted|sum<<dirtySumShift)
	return n.dirty.Load() >> dirtySumShift
}

func markAndCountWord[K Numeric, V any](w *casWord[K, V]) uint64 {
	switch {
	case w.isEmpty():
		return 0
	case w.isKVPair():
		return 1
	case w.isRebuildOp():
		// A nested descriptor stands for the subtree it set out to
		// replace, which this freeze subsumes.
		return markAndCountNode(w.rb.target)
	default:
		return markAndCountNode(w.n)
	}
}

// proposeReplacement races to decide rb.newRoot from the frozen target:
// an empty cell for a died-out subtree, a single flat leaf for a small
// one, or an interior shell of roughly sqrt(keyCount) fanout whose
// children are then built collaboratively. Losers of the deciding CAS
// discard their candidate.
func (t *Tree[K, V]) proposeReplacement(rb *rebuildOperation[K, V], keyCount uint64) {
	if keyCount == 0 {
		rb.newRoot.CompareAndSwap(nil, emptyWord[K, V]())
		return
	}

	if keyCount <= maxAcceptableLeafSize {
		b := newIdealBuilder[K, V](0, int(keyCount), t.multiCounterDepth, rb.depth)
		addKVPairsSubset(rb.target, b)
		leaf := b.finalize()
		leaf.selfSlot = rb.parentSlot
		if !rb.newRoot.CompareAndSwap(nil, nodeWord(leaf)) {
			deallocate(leaf)
		}
		return
	}

	numChildren := int(math.Ceil(math.Sqrt(float64(keyCount))))
	shell := createShell[K, V](numChildren, keyCount)
	if rb.depth < t.multiCounterDepth {
		shell.counter = newMultiCounter(multiCounterShards)
	}
	fillBoundaryKeys(rb.target, shell)
	shell.selfSlot = rb.parentSlot
	if !rb.newRoot.CompareAndSwap(nil, nodeWord(shell)) {
		deallocate(shell)
	}
}

// buildChildren fills every nil slot of a replacement shell. Helpers
// first claim disjoint child indices off the buildCursor; once the
// cursor is exhausted they rescan from a random offset, so threads that
// arrive late spread across whatever slots a stalled claimant left
// behind instead of piling onto the same one. On return every slot is
// non-nil and the shell is safe to commit.
func (t *Tree[K, V]) buildChildren(rb *rebuildOperation[K, V], shell *node[K, V]) {
	for {
		i := int(shell.buildCursor.Add(1)) - 1
		if i >= shell.degree {
			break
		}
		t.buildChild(rb, shell, i)
	}

	offset := rand.IntN(shell.degree)
	for j := 0; j < shell.degree; j++ {
		i := (offset + j) % shell.degree
		if shell.slots[i].Read() == nil {
			t.buildChild(rb, shell, i)
		}
	}
}

// buildChild constructs the i-th child subtree of a replacement shell
// from its slice of the frozen target's live pairs and installs it with
// a single CAS against the still-nil slot; a helper that finds the slot
// already built, or loses the install, discards its candidate.
func (t *Tree[K, V]) buildChild(rb *rebuildOperation[K, V], shell *node[K, V], i int) {
	if shell.slots[i].Read() != nil {
		return
	}

	total := shell.initSize
	deg := uint64(shell.degree)
	childSize := total / deg
	remainder := total % deg
	skip := uint64(i)*childSize + min(uint64(i), remainder)
	size := childSize
	if uint64(i) < remainder {
		size++
	}

	b := newIdealBuilder[K, V](int(skip), int(size), t.multiCounterDepth, rb.depth+1)
	addKVPairsSubset(rb.target, b)
	child := b.finalize()
	child.selfSlot = shell.slots[i]
	if !shell.slots[i].CAS(nil, nodeWord(child)) {
		deallocate(child)
	}
}

// addKVPairsSubset feeds a builder its slice of the frozen subtree's
// live pairs via one in-order walk, stopping as soon as the builder has
// its fill.
func addKVPairsSubset[K Numeric, V any](target *node[K, V], b *idealBuilder[K, V]) {
	walkNode(target, func(kv kvPair[K, V]) bool {
		b.offer(kv)
		return !b.full()
	})
}

// fillBoundaryKeys derives a replacement shell's header (min, max and
// every separator key) in one in-order walk of the frozen target: the
// separator between children i-1 and i is the key at the rank where
// child i's slice begins. Doing this up front, before the shell is
// published, is what lets the child builders run without ever writing to
// the shared header.
func fillBoundaryKeys[K Numeric, V any](target *node[K, V], shell *node[K, V]) {
	total := shell.initSize
	deg := uint64(shell.degree)
	childSize := total / deg
	remainder := total % deg

	next := 1
	boundary := childSize
	if remainder > 0 {
		boundary++
	}

	var rank uint64
	walkNode(target, func(kv kvPair[K, V]) bool {
		if rank == 0 {
			shell.minKey = kv.key
		}
		if rank == total-1 {
			shell.maxKey = kv.key
		}
		if uint64(next) < deg && rank == boundary {
			shell.keys[next-1] = kv.key
			next++
			boundary += childSize
			if uint64(next) <= remainder {
				boundary++
			}
		}
		rank++
		return rank < total
	})
}

// walkNode visits every live pair under n in key order, recursing
// through child nodes and through nested rebuild descriptors (whose
// targets are frozen along with everything else here). visit returns
// false to stop the walk early; walkNode reports whether the walk ran to
// exhaustion.
func walkNode[K Numeric, V any](n *node[K, V], visit func(kvPair[K, V]) bool) bool {
	for _, s := range n.slots {
		w := s.Read()
		switch {
		case w.isEmpty():
		case w.isKVPair():
			if !visit(*w.kv) {
				return false
			}
		case w.isRebuildOp():
			if !walkNode(w.rb.target, visit) {
				return false
			}
		default:
			if !walkNode(w.n, visit) {
				return false
			}
		}
	}
	return true
}
