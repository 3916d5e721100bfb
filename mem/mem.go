// Package mem implements the physical page-frame allocator (spec.md §4.3):
// two disjoint free-lists, kernel and user, each a LIFO list threaded
// through the frames themselves and guarded by one spinlock. Grounded on
// biscuit's mem.mem.go (Physmem_t / Refpg_new / _phys_put), adapted from
// biscuit's refcounted-page model to the spec's simpler "on at most one
// free-list, never simultaneously mapped and free" invariant — this
// kernel's notion of "mapped" is tracked by the page table (package vm),
// not by a reference count here.
package mem

import (
	"unsafe"

	"sv39kernel/riscv"
	"sv39kernel/spinlock"
)

// Pa_t is a physical address. In this simulated kernel a physical address
// is the real Go pointer value of the backing frame, cast to uintptr, so
// that alignment and range checks work exactly as they would against a
// real physical address space.
type Pa_t uintptr

// Frame_t is one page-frame's backing storage.
type Frame_t [riscv.PGSIZE]byte

// PoisonByte fills a freed frame so later use-after-free is visible, per
// spec.md §4.3 ("fills with a recognizable byte").
const PoisonByte = 0xd0

// region_t is one of the two disjoint pools (kernel, user).
type region_t struct {
	name   string
	lk     *spinlock.Lock_t
	backing []Frame_t
	begin  uintptr
	end    uintptr
	free   *Frame_t // head of the LIFO free list
	nfree  int
}

func mkregion(name string, n int) *region_t {
	r := &region_t{
		name:    name,
		lk:      spinlock.MkLock(name),
		backing: make([]Frame_t, n),
	}
	if n == 0 {
		return r
	}
	r.begin = uintptr(unsafe.Pointer(&r.backing[0]))
	r.end = r.begin + uintptr(n)*uintptr(riscv.PGSIZE)
	for i := n - 1; i >= 0; i-- {
		r.pushLocked(&r.backing[i])
	}
	return r
}

// nextOf/setNext thread the free list through the frame's own first 8
// bytes, matching spec.md §4.3's "LIFO free-list threaded through the
// frames themselves".
func nextOf(f *Frame_t) *Frame_t {
	return *(**Frame_t)(unsafe.Pointer(f))
}

func setNext(f *Frame_t, next *Frame_t) {
	*(**Frame_t)(unsafe.Pointer(f)) = next
}

func (r *region_t) pushLocked(f *Frame_t) {
	setNext(f, r.free)
	r.free = f
	r.nfree++
}

func (r *region_t) popLocked() *Frame_t {
	f := r.free
	if f == nil {
		return nil
	}
	r.free = nextOf(f)
	r.nfree--
	return f
}

func (r *region_t) pa(f *Frame_t) Pa_t {
	return Pa_t(uintptr(unsafe.Pointer(f)))
}

func (r *region_t) inRange(p Pa_t) bool {
	a := uintptr(p)
	return a >= r.begin && a < r.end
}

// Physmem_t is the kernel's physical memory manager: a kernel pool (small,
// fixed) and a user pool (the remainder), per spec.md §4.3.
type Physmem_t struct {
	kernel *region_t
	user   *region_t
}

// Phys_init partitions a simulated physical heap of total frames into a
// fixed-size kernel pool (kernelFrames) and a user pool (the remainder).
func Phys_init(total, kernelFrames int) *Physmem_t {
	if kernelFrames > total {
		panic("mem: kernel pool larger than total")
	}
	return &Physmem_t{
		kernel: mkregion("mem.kernel", kernelFrames),
		user:   mkregion("mem.user", total-kernelFrames),
	}
}

func (m *Physmem_t) pool(inKernel bool) *region_t {
	if inKernel {
		return m.kernel
	}
	return m.user
}

// Alloc pops a frame off the chosen pool's free list and zeroes it. It
// returns (nil, 0, false) on exhaustion — callers that cannot tolerate
// out-of-memory must treat that as fatal themselves (spec.md §4.3).
func (m *Physmem_t) Alloc(h *spinlock.Hart_t, inKernel bool) (*Frame_t, Pa_t, bool) {
	r := m.pool(inKernel)
	r.lk.Acquire(h)
	f := r.popLocked()
	r.lk.Release(h)
	if f == nil {
		return nil, 0, false
	}
	*f = Frame_t{}
	return f, r.pa(f), true
}

// Free validates alignment and pool membership, poisons the frame, and
// returns it to the free list, whose link then overwrites the frame's
// first 8 bytes.
func (m *Physmem_t) Free(h *spinlock.Hart_t, pg *Frame_t, inKernel bool) {
	r := m.pool(inKernel)
	p := r.pa(pg)
	if uintptr(p)%uintptr(riscv.PGSIZE) != 0 {
		panic("mem: free of unaligned frame")
	}
	if !r.inRange(p) {
		panic("mem: free of frame outside its pool")
	}
	for i := range pg {
		pg[i] = PoisonByte
	}
	r.lk.Acquire(h)
	r.pushLocked(pg)
	r.lk.Release(h)
}

// Nfree reports the number of free frames in a pool (diagnostics/tests).
func (m *Physmem_t) Nfree(h *spinlock.Hart_t, inKernel bool) int {
	r := m.pool(inKernel)
	r.lk.Acquire(h)
	n := r.nfree
	r.lk.Release(h)
	return n
}

// FromPa recovers the Frame_t for a physical address previously returned
// by Alloc, without removing it from whatever owns it. Used by the page
// table walker to dereference a PTE's physical page number.
func FromPa(p Pa_t) *Frame_t {
	return (*Frame_t)(unsafe.Pointer(uintptr(p)))
}
