// Package dcss implements a double-compare-single-swap primitive: a
// conditional compare-and-swap of one location (the "slot") that only
// succeeds if a second, unrelated location (the "control word") still
// holds an expected value at the moment the swap takes effect.
//
// Every call site in this module conditions a slot update on a node's
// freeze/dirty word being unchanged, so the control location here is fixed
// at a *atomic.Uint64 rather than genericized over an arbitrary second
// type; this package has exactly one calling pattern in this tree and is
// not meant to grow a second one.
package dcss

import "sync/atomic"

type state int32

const (
	undecided state = iota
	succeeded
	failed
)

// word is what actually sits behind a Slot: either a settled value or, for
// as long as a Descriptor is resolving, a pointer to that Descriptor.
// Readers that observe a non-nil desc must help finish it before they can
// see a settled value. This is what makes the slot lock-free rather than
// merely non-blocking for the thread that started the DCSS.
type word[T comparable] struct {
	value T
	desc  *Descriptor[T]
}

// Slot is a single location that can be the target of a DCSS, or read and
// written on its own like a plain atomic value.
type Slot[T comparable] struct {
	ptr atomic.Pointer[word[T]]
}

// NewSlot creates a Slot holding the given initial value.
func NewSlot[T comparable](initial T) *Slot[T] {
	s := &Slot[T]{}
	s.ptr.Store(&word[T]{value: initial})
	return s
}

// Read returns the slot's current settled value, helping finish any DCSS
// found in flight so the read never blocks on another thread.
func (s *Slot[T]) Read() T {
	for {
		w := s.ptr.Load()
		if w.desc == nil {
			return w.value
		}
		w.desc.help()
	}
}

// Store unconditionally overwrites the slot. Only safe when the caller
// knows no other thread can be racing on this slot yet (e.g. while
// building a not-yet-published replacement subtree).
func (s *Slot[T]) Store(v T) {
	s.ptr.Store(&word[T]{value: v})
}

// CAS performs a single-location compare-and-swap on the slot, helping
// finish any DCSS found in flight first. Used by slots that are updated
// without a cross-location condition.
func (s *Slot[T]) CAS(old, new T) bool {
	for {
		w := s.ptr.Load()
		if w.desc != nil {
			w.desc.help()
			continue
		}
		if w.value != old {
			return false
		}
		if s.ptr.CompareAndSwap(w, &word[T]{value: new}) {
			return true
		}
	}
}

// Descriptor resolves one in-flight DCSS. It is published into a Slot's
// word and stays reachable until help() has finalized the slot back to a
// settled value, at which point it becomes ordinary garbage.
type Descriptor[T comparable] struct {
	ctrl    *atomic.Uint64
	ctrlOld uint64
	slot    *Slot[T]
	old     T
	new     T
	state   atomic.Int32
}

// DCSS attempts to set slot from old to new, but only succeeds if ctrl
// still equals ctrlOld at the instant the change is decided. It returns
// true iff the swap took effect. Any thread that observes the in-flight
// descriptor, not just the caller, can and will help it to completion,
// so DCSS never blocks waiting on a stalled thread.
func DCSS[T comparable](ctrl *atomic.Uint64, ctrlOld uint64, slot *Slot[T], old, new T) bool {
	d := &Descriptor[T]{ctrl: ctrl, ctrlOld: ctrlOld, slot: slot, old: old, new: new}

	for {
		w := slot.ptr.Load()
		if w.desc != nil {
			w.desc.help()
			continue
		}
		if w.value != old {
			return false
		}
		if slot.ptr.CompareAndSwap(w, &word[T]{desc: d}) {
			break
		}
	}

	d.help()
	return state(d.state.Load()) == succeeded
}

// help drives a Descriptor through decide (CAS its state from undecided to
// succeeded/failed based on the control word) and finalize (replace the
// slot's in-flight word with the settled value). Idempotent: any number of
// threads can call it concurrently and they will all agree on the outcome.
func (d *Descriptor[T]) help() {
	if state(d.state.Load()) == undecided {
		outcome := failed
		if d.ctrl.Load() == d.ctrlOld {
			outcome = succeeded
		}
		d.state.CompareAndSwap(int32(undecided), int32(outcome))
	}

	final := d.old
	if state(d.state.Load()) == succeeded {
		final = d.new
	}

	cur := d.slot.ptr.Load()
	if cur.desc == d {
		d.slot.ptr.CompareAndSwap(cur, &word[T]{value: final})
	}
}
