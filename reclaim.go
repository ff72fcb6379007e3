package ist

// retire marks a node as no longer reachable from the tree. It is a
// deliberate no-op: Go's garbage collector already reclaims n the moment
// the last slot pointing to it is overwritten, which is the same instant
// a hand-rolled epoch or hazard-pointer scheme would retire it. The hook
// stays named and called at the exact points the collaborative rebuild
// engine replaces a subtree, so a future hazard-pointer or epoch-based
// scheme (e.g. to bound peak memory under GC pause pressure) has a single
// place to plug into.
func retire[K Numeric, V any](n *node[K, V]) {
	_ = n
}

// deallocate is retire's counterpart for single objects that become
// unreachable independently of a replaced subtree: a kvPair displaced by
// a replace or remove, and a candidate node that lost its install race
// and was never published.
func deallocate[T any](obj *T) {
	_ = obj
}
