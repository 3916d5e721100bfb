// Package sleeplock implements the blocking lock built atop a spinlock
// (spec.md §4.2), grounded on
// _examples/original_source/kernel/lib/sleeplock.c and biscuit's idiom of
// wrapping an embedded mutex.
//
// A sleeplock must be able to put its holder to sleep and wake the next
// waiter, but "sleep"/"wakeup" are scheduler operations that live in
// package proc — three layers above sleeplock in spec.md §2's dependency
// order. To avoid the import cycle this would otherwise create, sleeplock
// depends only on a small Sleeper_i interface; package proc implements it
// and every caller supplies it explicitly, the same pattern biscuit uses
// for mem.Page_i / fs.Blockmem_i to decouple a low layer from a high one.
package sleeplock

import "sv39kernel/spinlock"

// Sleeper_i is the subset of the scheduler a sleeplock needs: block the
// calling hart on chan, releasing lk first and reacquiring it on wake
// (proc.Sleep), and wake every hart sleeping on chan (proc.Wakeup).
type Sleeper_i interface {
	Sleep(chan_ interface{}, lk *spinlock.Lock_t, h *spinlock.Hart_t)
	Wakeup(chan_ interface{})
}

// Lock_t is a sleeplock: an inner spinlock, a locked flag, and the pid of
// the current holder (0 when unlocked). The lock's own address serves as
// the rendezvous channel for Sleep/Wakeup, per spec.md's "channel pointer
// (itself)" convention.
type Lock_t struct {
	name   string
	inner  *spinlock.Lock_t
	locked bool
	holder int
}

// MkLock constructs a named, initially-unlocked sleeplock.
func MkLock(name string) *Lock_t {
	return &Lock_t{name: name, inner: spinlock.MkLock(name + ".inner")}
}

// Acquire blocks until the lock is free, then takes it. While waiting it
// releases the inner spinlock so other harts can make progress, and
// re-checks `locked` on every wake (spurious wakeups are tolerated, per
// the general sleep/wakeup contract of spec.md §4.12).
func (sl *Lock_t) Acquire(h *spinlock.Hart_t, sched Sleeper_i, pid int) {
	sl.inner.Acquire(h)
	for sl.locked {
		sched.Sleep(sl, sl.inner, h)
	}
	sl.locked = true
	sl.holder = pid
	sl.inner.Release(h)
}

// Release frees the lock and wakes every hart sleeping on it.
func (sl *Lock_t) Release(h *spinlock.Hart_t, sched Sleeper_i) {
	sl.inner.Acquire(h)
	sl.locked = false
	sl.holder = 0
	sl.inner.Release(h)
	sched.Wakeup(sl)
}

// Holding reports whether pid currently holds the lock. Racy by nature
// (meant for assertions, not synchronization).
func (sl *Lock_t) Holding(pid int) bool {
	return sl.locked && sl.holder == pid
}

// Name returns the lock's diagnostic name.
func (sl *Lock_t) Name() string { return sl.name }
