// Package mmap implements the process-local free-interval list for the
// anonymous mmap arena [riscv.MMAP_BEGIN, riscv.MMAP_END) described in
// spec.md §4.5, plus the global fixed-capacity node pool the lists draw
// from. Grounded on biscuit's Vmregion-style interval bookkeeping and
// _examples/original_source/kernel/mem/mmap.c.
package mmap

import "sv39kernel/spinlock"

// node_t is one free (unmapped) sub-interval of a process's mmap arena.
type node_t struct {
	begin  uint64
	npages int
	next   *node_t
}

// Pool_t is the global, fixed-capacity source of node_t values every
// process's free list is built from (spec.md §3: "drawn from a global
// pool of fixed capacity, protected by one spinlock").
type Pool_t struct {
	lk      *spinlock.Lock_t
	backing []node_t
	avail   *node_t
}

// MkPool allocates a pool with room for `capacity` live nodes across all
// processes.
func MkPool(capacity int) *Pool_t {
	p := &Pool_t{lk: spinlock.MkLock("mmap.pool"), backing: make([]node_t, capacity)}
	for i := range p.backing {
		p.backing[i].next = p.avail
		p.avail = &p.backing[i]
	}
	return p
}

func (p *Pool_t) get(h *spinlock.Hart_t) (*node_t, bool) {
	p.lk.Acquire(h)
	n := p.avail
	if n != nil {
		p.avail = n.next
	}
	p.lk.Release(h)
	if n == nil {
		return nil, false
	}
	*n = node_t{}
	return n, true
}

func (p *Pool_t) put(h *spinlock.Hart_t, n *node_t) {
	p.lk.Acquire(h)
	*n = node_t{next: p.avail}
	p.avail = n
	p.lk.Release(h)
}
