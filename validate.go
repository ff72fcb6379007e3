package ist

import "fmt"

// Validate walks the whole tree checking the structural invariants every
// operation is supposed to preserve: separator keys strictly increase,
// and every binding sits inside the half-open interval its chain of
// ancestor separators routes to. The per-node min/max interpolation
// hints are deliberately not checked against content: boundary-slot
// inserts can legitimately place keys outside them, and only the
// inherited separator intervals are load-bearing for correctness. It is
// intended for tests and offline consistency checks, not the hot path,
// and it reads through in-flight rebuild descriptors rather than
// helping them.
func (t *Tree[K, V]) Validate() error {
	var none keyBound[K]
	return validateNode(t.root, none, none)
}

// keyBound is one side of an inherited routing interval; has is false at
// the outermost edges of the tree, where no separator constrains keys.
type keyBound[K Numeric] struct {
	has bool
	key K
}

func validateNode[K Numeric, V any](n *node[K, V], lo, hi keyBound[K]) error {
	if n == nil {
		return fmt.Errorf("ist: nil node reached during validation")
	}
	if len(n.keys) != n.degree-1 {
		return fmt.Errorf("ist: node has %d separator keys, want %d for degree %d",
			len(n.keys), n.degree-1, n.degree)
	}
	for i, k := range n.keys {
		if i > 0 && k <= n.keys[i-1] {
			return fmt.Errorf("ist: separator key %v at index %d not strictly greater than previous %v",
				k, i, n.keys[i-1])
		}
		if lo.has && k < lo.key {
			return fmt.Errorf("ist: separator key %v below inherited lower bound %v", k, lo.key)
		}
		if hi.has && k > hi.key {
			return fmt.Errorf("ist: separator key %v above inherited upper bound %v", k, hi.key)
		}
	}

	for i, slot := range n.slots {
		sLo := lo
		if i > 0 {
			sLo = keyBound[K]{has: true, key: n.keys[i-1]}
		}
		sHi := hi
		if i < n.degree-1 {
			sHi = keyBound[K]{has: true, key: n.keys[i]}
		}

		w := slot.Read()
		switch {
		case w == nil:
			return fmt.Errorf("ist: unbuilt slot %d reached during validation", i)
		case w.isEmpty():
		case w.isKVPair():
			k := w.kv.key
			if sLo.has && k < sLo.key {
				return fmt.Errorf("ist: key %v at slot %d below its routing interval start %v", k, i, sLo.key)
			}
			if sHi.has && k >= sHi.key {
				return fmt.Errorf("ist: key %v at slot %d at or above its routing interval end %v", k, i, sHi.key)
			}
		case w.isRebuildOp():
			if err := validateNode(w.rb.target, sLo, sHi); err != nil {
				return err
			}
		case w.isNode():
			if err := validateNode(w.n, sLo, sHi); err != nil {
				return err
			}
		}
	}
	return nil
}
