package ist

import (
	"math"
	"sync/atomic"

	"github.com/trevorbrown-ds/ist/internal/dcss"
)

// node.dirty is a single packed word driving the freeze protocol: bit 0
// marks a node whose subtree a rebuild has started freezing, bit 1 marks
// the collaborative live-key count as finished, and the counted sum sits
// above both flags. Transitions are monotone (clean -> started ->
// finished) and finished is never cleared, so a reader that sees the
// finished bit can trust the packed sum for the rest of the node's life.
// dirty doubles as the control word of every DCSS into the node's slots:
// an update only commits while dirty is still clean.
const (
	dirtyClean    uint64 = 0
	dirtyStarted  uint64 = 1 << 0
	dirtyFinished uint64 = 1 << 1
	dirtySumShift        = 2
)

// rebuildFraction is the churn a subtree tolerates, relative to the size
// it had when it was last built, before it becomes due for a rebuild.
const rebuildFraction = 0.25

// node is one interior (or leaf) node of the tree: degree child slots,
// addressed by interpolating a search key between minKey and maxKey,
// each holding a casWord that is one of an empty cell, a key/value pair,
// a child node, or an in-progress rebuildOperation.
//
// The header fields (degree, keys, minKey, maxKey, initSize,
// rebuildThreshold, counter) are written only by the single thread that
// constructs the node, strictly before it is published into a slot, and
// are immutable afterward; only the slots, the cursors, changeSum and
// the dirty word ever change on a live node.
type node[K Numeric, V any] struct {
	degree int

	// keys holds the degree-1 sorted separators between adjacent slots:
	// slot i's subtree owns keys in
	// [i==0 ? inherited : keys[i-1], i==degree-1 ? inherited : keys[i]).
	// slots holds the degree child caswords themselves.
	keys  []K
	slots []*dcss.Slot[*casWord[K, V]]

	minKey K
	maxKey K

	// initSize is the number of live keys this node's subtree held the
	// moment the node was built; rebuildThreshold is the precomputed
	// rebuildFraction cut of it.
	initSize         uint64
	rebuildThreshold uint64
	changeSum        atomic.Uint64

	dirty atomic.Uint64

	// nextMarkAndCount divides the marking work of a large frozen node
	// among concurrent helpers; buildCursor divides the child subtrees of
	// a replacement node under construction the same way. Both are
	// claim-by-fetch-and-add, never reset.
	nextMarkAndCount atomic.Int64
	buildCursor      atomic.Int64

	// counter, when non-nil, replaces changeSum entirely for this node:
	// an approximate sharded counter for the top levels of the tree,
	// where an exact counter would be a contention hotspot.
	counter *multiCounter

	// selfSlot is the slot this node is currently published behind. The
	// rebuild engine needs it to know where to install a replacement
	// without threading a parent index through every call.
	selfSlot *dcss.Slot[*casWord[K, V]]
}

// createNode allocates a node with the given degree, every slot holding
// an empty cell. initSize is the number of live keys the finished node
// will carry; it fixes the rebuild threshold for the node's lifetime.
func createNode[K Numeric, V any](degree int, initSize uint64, min, max K) *node[K, V] {
	n := createShell[K, V](degree, initSize)
	n.minKey = min
	n.maxKey = max
	for i := range n.slots {
		n.slots[i].Store(emptyWord[K, V]())
	}
	return n
}

// createShell is createNode minus slot and bound initialization: every
// slot starts as nil, a state only the rebuild engine ever observes,
// marking a child subtree no helper has built yet. The caller must fill
// minKey, maxKey, keys and every slot before the node is published.
func createShell[K Numeric, V any](degree int, initSize uint64) *node[K, V] {
	numSeparators := degree - 1
	if numSeparators < 0 {
		numSeparators = 0
	}
	n := &node[K, V]{
		degree:   degree,
		keys:     make([]K, numSeparators),
		slots:    make([]*dcss.Slot[*casWord[K, V]], degree),
		initSize: initSize,
	}
	for i := range n.slots {
		n.slots[i] = dcss.NewSlot[*casWord[K, V]](nil)
	}
	threshold := uint64(math.Ceil(float64(initSize) * rebuildFraction))
	if threshold < 1 {
		threshold = 1
	}
	n.rebuildThreshold = threshold
	return n
}

// createLeafNode builds a flat leaf from at least one sorted pair:
// degree len(pairs)+1, slot 0 empty, slot i+1 holding pairs[i], with the
// pair keys doubling as the separator array. A lookup for a key equal to
// keys[i] therefore resolves to slot i+1 directly, and a lookup for an
// absent key lands on a slot whose occupant (if any) carries a different
// key.
func createLeafNode[K Numeric, V any](pairs []kvPair[K, V]) *node[K, V] {
	np := len(pairs)
	n := createNode[K, V](np+1, uint64(np), pairs[0].key, pairs[np-1].key)
	for i := range pairs {
		p := pairs[i]
		n.keys[i] = p.key
		n.slots[i+1].Store(kvWord(&p))
	}
	return n
}

// rebuildOperation is the in-flight descriptor published into a slot
// while its subtree is being replaced. target is the (frozen) subtree
// being rebuilt; parent owns the slot the descriptor sits in, and its
// dirty word guards both the install and the final commit, so a rebuild
// subsumed by a higher rebuild of parent itself can never commit. word
// is the one casWord wrapper the descriptor was published under, the
// exact value the commit has to swap out again.
type rebuildOperation[K Numeric, V any] struct {
	target     *node[K, V]
	parent     *node[K, V]
	parentSlot *dcss.Slot[*casWord[K, V]]
	depth      int
	word       *casWord[K, V]

	// newRoot is the agreed replacement: nil until some helper's
	// candidate wins the CAS, then immutable. success records that a
	// helper's commit actually installed it.
	newRoot atomic.Pointer[casWord[K, V]]
	success atomic.Bool
}
