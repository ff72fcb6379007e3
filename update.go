package ist

import "github.com/trevorbrown-ds/ist/internal/dcss"

type updateKind int

const (
	updateFind updateKind = iota
	updateInsert
	updateInsertIfAbsent
	updateRemove
)

// locate descends from the root to the slot that would hold key. It
// returns every node visited (path[0] is the permanent root anchor,
// path[len-1] the node that directly owns the returned slot index) so
// the caller can account a structural change against the whole path
// afterward. The walk stops at the first non-child word; in-flight
// rebuild descriptors encountered mid-path surface here as the terminal
// word and are handled by the caller.
func (t *Tree[K, V]) locate(key K) (path []*node[K, V], idx int) {
	n := t.root
	for {
		path = append(path, n)
		i := interpolationSearch(n, key)
		w := n.slots[i].Read()
		if w.isNode() {
			n = w.n
			continue
		}
		return path, i
	}
}

// doUpdate implements find, insert, insertIfAbsent and remove as a
// single DCSS-guarded read-modify-write loop: the slot being changed is
// only swapped while the node that owns it is still clean (not frozen
// for a rebuild), so a concurrent rebuild and a concurrent update of the
// same node can never both succeed. Any failed attempt, whatever the
// cause, restarts from the root; the tree's depth makes the re-descent
// cheap. tid must have been registered with InitThread.
func (t *Tree[K, V]) doUpdate(tid int, key K, val V, kind updateKind) (V, bool) {
	var zero V

	for {
		path, idx := t.locate(key)
		n := path[len(path)-1]
		slot := n.slots[idx]
		w := slot.Read()

		if w.isNode() {
			// The slot grew a subtree between locate and the re-read;
			// descend again.
			continue
		}
		if w.isRebuildOp() {
			t.helpRebuild(w.rb)
			continue
		}

		hasMatch := w.isKVPair() && w.kv.key == key

		switch kind {
		case updateFind:
			if hasMatch {
				return w.kv.val, true
			}
			return zero, false

		case updateInsert, updateInsertIfAbsent:
			if hasMatch {
				if kind == updateInsertIfAbsent {
					return w.kv.val, true
				}
				// Value-only replacement: the multiset of keys is
				// unchanged, so no change accounting.
				prev := w.kv.val
				if dcss.DCSS(&n.dirty, dirtyClean, slot, w, kvWord(&kvPair[K, V]{key: key, val: val})) {
					deallocate(w.kv)
					return prev, true
				}
				continue
			}

			if w.isKVPair() {
				// The slot already holds a different key: a single slot
				// can only ever carry one binding, so the conflict is
				// resolved by replacing it with a two-entry leaf rather
				// than by growing n itself.
				other := *w.kv
				mine := kvPair[K, V]{key: key, val: val}
				pair := [2]kvPair[K, V]{other, mine}
				if key < other.key {
					pair[0], pair[1] = mine, other
				}
				child := buildIdeal(pair[:], t.multiCounterDepth, len(path)-1)
				child.selfSlot = slot
				if dcss.DCSS(&n.dirty, dirtyClean, slot, w, nodeWord(child)) {
					t.afterChange(tid, path)
					return zero, false
				}
				continue
			}

			// Empty slot: a plain occupy.
			if dcss.DCSS(&n.dirty, dirtyClean, slot, w, kvWord(&kvPair[K, V]{key: key, val: val})) {
				t.afterChange(tid, path)
				return zero, false
			}

		case updateRemove:
			if !hasMatch {
				return zero, false
			}
			prev := w.kv.val
			if dcss.DCSS(&n.dirty, dirtyClean, slot, w, emptyWord[K, V]()) {
				deallocate(w.kv)
				t.afterChange(tid, path)
				return prev, true
			}

		default:
			panic("ist: unknown update kind")
		}
		// DCSS lost the race (the node froze, or the slot changed
		// underneath us); retry the whole locate+update from scratch.
	}
}

// afterChange accounts for a structural update (anything that changes
// the multiset of keys, as opposed to an in-place value replacement) by
// incrementing a churn counter on every node along the traversed path,
// then initiating a rebuild of the shallowest node whose counter has
// crossed its threshold. A node with an attached multiCounter uses it in
// place of changeSum entirely; only one of the two is ever touched for a
// given node. path[0], the permanent root anchor, is never rebuilt and
// carries no counter of its own.
func (t *Tree[K, V]) afterChange(tid int, path []*node[K, V]) {
	rng := t.rngFor(tid)

	var parent, target *node[K, V]
	targetDepth := 0
	for depth := 1; depth < len(path); depth++ {
		n := path[depth]
		var sum uint64
		if n.counter != nil {
			n.counter.inc(rng)
			sum = uint64(n.counter.readFast(rng))
			if sum >= n.rebuildThreshold {
				// The fast read is a scaled single-shard sample and can
				// overshoot; confirm before committing to a rebuild.
				sum = uint64(n.counter.readAccurate())
			}
		} else {
			sum = n.changeSum.Add(1)
		}
		if target == nil && sum >= n.rebuildThreshold {
			parent, target, targetDepth = path[depth-1], n, depth-1
		}
	}
	if target != nil {
		t.maybeRebuild(parent, target, targetDepth)
	}
}
