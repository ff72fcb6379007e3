// Package ist provides a concurrent, lock-free Interpolation Search Tree
// (IST): an ordered map over numeric keys with doubly-logarithmic expected
// search depth.
//
// The tree descends by interpolating a key's position from the minimum and
// maximum keys stored under each node, rather than by a fixed-fanout
// comparison tree, so lookups on well-distributed keys run in expected
// O(log log n) steps. Lookups, updates and the collaborative rebuild
// engine that keeps the tree balanced are all lock-free: any thread that
// stalls mid-operation can be finished by any other thread that notices
// the published state, so no goroutine ever blocks another.
//
// Updates are carried out through a double-compare-single-swap primitive
// (package internal/dcss) rather than a single compare-and-swap, since
// each update must atomically validate both the slot being written and
// the freeze state of the node that contains it.
//
// A Tree must be constructed with NewTree and used by goroutines that have
// each called InitThread with a distinct, small thread id before issuing
// any operation and DeinitThread when done.
package ist
