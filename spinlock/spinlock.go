// Package spinlock implements the kernel's mutual-exclusion primitive and
// the per-hart nested interrupt-disable accounting described in
// spec.md §4.1. Grounded on the acquire/release/push_off/pop_off protocol
// of _examples/original_source/kernel/lib/spinlock.c, expressed in
// biscuit's idiom (a named lock type with atomic state, methods on a
// pointer receiver).
//
// Go has no notion of "the current hart's interrupt-enable flag" the way
// bare-metal C does; rather than fake one through unsafe per-goroutine
// storage, every hart's nesting/interrupt state lives in an explicit
// *Hart_t that callers thread through Acquire/Release/PushOff/PopOff. One
// Hart_t is created per simulated hart in package boot and passed down
// through the scheduler, trap, and syscall layers — the idiomatic-Go
// equivalent of biscuit's implicit per-CPU struct.
package spinlock

import (
	"fmt"
	"sync/atomic"
)

// Hart_t holds the per-hart bookkeeping that would otherwise live in
// machine control registers: whether this hart currently has interrupts
// enabled, and the nesting depth / saved enable-state across push_off
// critical sections (spec.md §4.1).
type Hart_t struct {
	Id int

	// IntEna simulates whether this hart currently services interrupts.
	// It is not atomic: only the owning hart's goroutine ever touches it.
	IntEna bool

	noff   int
	origin bool
}

// PushOff disables interrupts, recording the prior enable-state the first
// time it is called in a nested sequence.
func (h *Hart_t) PushOff() {
	old := h.IntEna
	h.IntEna = false
	if h.noff == 0 {
		h.origin = old
	}
	h.noff++
}

// PopOff is the inverse of PushOff. It is fatal to call with interrupts
// already enabled or with no matching PushOff outstanding.
func (h *Hart_t) PopOff() {
	if h.IntEna {
		panic("spinlock: pop_off with interrupts enabled")
	}
	if h.noff < 1 {
		panic("spinlock: pop_off without push_off")
	}
	h.noff--
	if h.noff == 0 && h.origin {
		h.IntEna = true
	}
}

// Lock_t is a spinlock: a name for diagnostics, an atomic locked flag, and
// the id of the hart holding it.
type Lock_t struct {
	name   string
	locked int32
	holder int32 // hart id of the holder, or -1
}

// holderNone marks a lock with no holder.
const holderNone int32 = -1

// MkLock constructs a named, initially-unlocked spinlock.
func MkLock(name string) *Lock_t {
	return &Lock_t{name: name, holder: holderNone}
}

// Name returns the lock's diagnostic name.
func (l *Lock_t) Name() string { return l.name }

// Acquire disables interrupts on h first, then spins on an atomic
// test-and-set until the lock is held. Re-entering a lock already held by
// the calling hart is a fatal error, matching spec.md §4.1.
func (l *Lock_t) Acquire(h *Hart_t) {
	h.PushOff()
	if l.Holding(h) {
		panic(fmt.Sprintf("spinlock %q: already held by hart %d", l.name, h.Id))
	}
	for !atomic.CompareAndSwapInt32(&l.locked, 0, 1) {
		// spin
	}
	atomic.StoreInt32(&l.holder, int32(h.Id))
}

// Release clears the holder, then the locked flag, then re-enables
// interrupts via PopOff — the reverse order of Acquire.
func (l *Lock_t) Release(h *Hart_t) {
	if !l.Holding(h) {
		panic(fmt.Sprintf("spinlock %q: release by non-holder", l.name))
	}
	atomic.StoreInt32(&l.holder, holderNone)
	atomic.StoreInt32(&l.locked, 0)
	h.PopOff()
}

// Holding reports whether h currently holds l.
func (l *Lock_t) Holding(h *Hart_t) bool {
	return atomic.LoadInt32(&l.locked) == 1 && atomic.LoadInt32(&l.holder) == int32(h.Id)
}
