package mmap

import (
	"sv39kernel/mem"
	"sv39kernel/riscv"
	"sv39kernel/spinlock"
	"sv39kernel/vm"
)

// List_t is one process's free-interval list for its mmap arena. It is
// not internally locked: per spec.md §3 the list is process-local state,
// so callers must hold the owning process's own lock while mutating it
// (the node Pool_t underneath has its own lock for the pool itself).
type List_t struct {
	head *node_t
}

// Init seeds the list with one node spanning the whole arena
// [begin, begin+npages*PGSIZE).
func Init(h *spinlock.Hart_t, pool *Pool_t, begin uint64, npages int) (*List_t, bool) {
	n, ok := pool.get(h)
	if !ok {
		return nil, false
	}
	n.begin, n.npages = begin, npages
	return &List_t{head: n}, true
}

// Mmap finds the free node enclosing [begin, begin+npages*PGSIZE), splits
// / shrinks / deletes it per the table in spec.md §4.5, then allocates and
// maps one user frame per page with the given permission bits. Failing to
// find an enclosing free node is fatal — the caller promised the range is
// free (spec.md §4.5). Running out of pool nodes or physical frames is
// recoverable: already-mapped pages are rolled back and false is
// returned.
func Mmap(h *spinlock.Hart_t, pool *Pool_t, phys *mem.Physmem_t, l *List_t, root *vm.Pagetable_t, begin uint64, npages int, perm uint64) bool {
	end := begin + uint64(npages)*uint64(riscv.PGSIZE)

	var prev *node_t
	cur := l.head
	for cur != nil {
		cend := cur.begin + uint64(cur.npages)*uint64(riscv.PGSIZE)
		if cur.begin <= begin && end <= cend {
			break
		}
		prev, cur = cur, cur.next
	}
	if cur == nil {
		panic("mmap: range not found in free list")
	}
	cend := cur.begin + uint64(cur.npages)*uint64(riscv.PGSIZE)

	switch {
	case cur.begin == begin && cend == end:
		unlink(l, prev, cur)
		pool.put(h, cur)
	case cur.begin == begin:
		cur.begin = end
		cur.npages -= npages
	case cend == end:
		cur.npages -= npages
	default:
		// strictly interior: shrink cur to [cur.begin, begin), add a new
		// node for (end, cend).
		tail, ok := pool.get(h)
		if !ok {
			return false
		}
		tail.begin = end
		tail.npages = int((cend - end) / uint64(riscv.PGSIZE))
		tail.next = cur.next
		cur.next = tail
		cur.npages = int((begin - cur.begin) / uint64(riscv.PGSIZE))
	}

	for i := 0; i < npages; i++ {
		f, pa, ok := phys.Alloc(h, false)
		if !ok {
			// roll back this call's mappings and restore the free range
			if i > 0 {
				vm.UnmapRange(h, phys, root, begin, i*riscv.PGSIZE, true)
			}
			MarkFree(h, pool, l, begin, npages)
			return false
		}
		_ = f
		if !vm.MapRange(h, phys, root, begin+uint64(i*riscv.PGSIZE), uint64(pa), riscv.PGSIZE, perm) {
			phys.Free(h, mem.FromPa(pa), false)
			if i > 0 {
				vm.UnmapRange(h, phys, root, begin, i*riscv.PGSIZE, true)
			}
			MarkFree(h, pool, l, begin, npages)
			return false
		}
	}
	return true
}

// Munmap unmaps and frees the npages user frames at [begin, ...), then
// returns the range to the free list via MarkFree.
func Munmap(h *spinlock.Hart_t, pool *Pool_t, phys *mem.Physmem_t, l *List_t, root *vm.Pagetable_t, begin uint64, npages int) {
	vm.UnmapRange(h, phys, root, begin, npages*riscv.PGSIZE, true)
	MarkFree(h, pool, l, begin, npages)
}

// MarkFree inserts [begin, begin+npages*PGSIZE) into the address-sorted
// free list and eagerly coalesces with its successor, then its
// predecessor, so adjacent free nodes never touch (spec.md §3, §4.5).
func MarkFree(h *spinlock.Hart_t, pool *Pool_t, l *List_t, begin uint64, npages int) {
	n, ok := pool.get(h)
	if !ok {
		panic("mmap: pool exhausted while freeing a range (bookkeeping must not fail)")
	}
	n.begin, n.npages = begin, npages

	var prev *node_t
	cur := l.head
	for cur != nil && cur.begin < begin {
		prev, cur = cur, cur.next
	}
	n.next = cur
	if prev == nil {
		l.head = n
	} else {
		prev.next = n
	}

	// coalesce with successor first, then predecessor
	if n.next != nil && n.begin+uint64(n.npages)*uint64(riscv.PGSIZE) == n.next.begin {
		succ := n.next
		n.npages += succ.npages
		n.next = succ.next
		pool.put(h, succ)
	}
	if prev != nil && prev.begin+uint64(prev.npages)*uint64(riscv.PGSIZE) == n.begin {
		prev.npages += n.npages
		prev.next = n.next
		pool.put(h, n)
	}
}

func unlink(l *List_t, prev, n *node_t) {
	if prev == nil {
		l.head = n.next
	} else {
		prev.next = n.next
	}
}

// FreeRanges returns the current free intervals as (begin, npages) pairs,
// in address order — used by tests checking the coalescing invariant and
// by the address-space copier to compute the complement (mapped ranges).
func (l *List_t) FreeRanges() [][2]uint64 {
	var out [][2]uint64
	for n := l.head; n != nil; n = n.next {
		out = append(out, [2]uint64{n.begin, uint64(n.npages)})
	}
	return out
}

// Clone deep-copies the free list into a new List_t drawn from the same
// pool, for fork()'s address-space duplication (spec.md §4.12).
func Clone(h *spinlock.Hart_t, pool *Pool_t, src *List_t) (*List_t, bool) {
	dst := &List_t{}
	var tail *node_t
	for n := src.head; n != nil; n = n.next {
		nn, ok := pool.get(h)
		if !ok {
			// unwind whatever we already cloned
			for c := dst.head; c != nil; {
				next := c.next
				pool.put(h, c)
				c = next
			}
			return nil, false
		}
		nn.begin, nn.npages = n.begin, n.npages
		if tail == nil {
			dst.head = nn
		} else {
			tail.next = nn
		}
		tail = nn
	}
	return dst, true
}

// Destroy returns every node in l to the pool (used when a process exits
// or exec replaces its address space).
func Destroy(h *spinlock.Hart_t, pool *Pool_t, l *List_t) {
	for n := l.head; n != nil; {
		next := n.next
		pool.put(h, n)
		n = next
	}
	l.head = nil
}
