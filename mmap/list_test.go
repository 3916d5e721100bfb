package mmap

import (
	"testing"

	"sv39kernel/mem"
	"sv39kernel/riscv"
	"sv39kernel/spinlock"
	"sv39kernel/vm"
)

func newHart() *spinlock.Hart_t { return &spinlock.Hart_t{Id: 0, IntEna: true} }

const P = uint64(riscv.PGSIZE)

func setup(t *testing.T, totalPages int) (*spinlock.Hart_t, *mem.Physmem_t, *Pool_t, *vm.Pagetable_t, *List_t) {
	h := newHart()
	phys := mem.Phys_init(256, 32)
	pool := MkPool(64)
	root, ok := vm.NewPagetable(h, phys)
	if !ok {
		t.Fatal("root page table alloc failed")
	}
	begin := riscv.MMAP_BEGIN
	l, ok := Init(h, pool, begin, totalPages)
	if !ok {
		t.Fatal("init failed")
	}
	return h, phys, pool, root, l
}

func TestMmapMunmapRoundtrip(t *testing.T) {
	h, phys, pool, root, l := setup(t, 16)
	begin := riscv.MMAP_BEGIN

	if !Mmap(h, pool, phys, l, root, begin+4*P, 3, riscv.PTE_R|riscv.PTE_W|riscv.PTE_U) {
		t.Fatal("mmap failed")
	}
	Munmap(h, pool, phys, l, root, begin+4*P, 3)

	ranges := l.FreeRanges()
	if len(ranges) != 1 || ranges[0][0] != begin || ranges[0][1] != 16 {
		t.Fatalf("expected single coalesced range covering whole arena, got %v", ranges)
	}
}

func TestMmapCoalesceScenario(t *testing.T) {
	// spec.md §8 scenario 2.
	h, phys, pool, root, l := setup(t, 16)
	begin := riscv.MMAP_BEGIN
	perm := riscv.PTE_R | riscv.PTE_W | riscv.PTE_U

	if !Mmap(h, pool, phys, l, root, begin+4*P, 3, perm) {
		t.Fatal("mmap 1 failed")
	}
	if !Mmap(h, pool, phys, l, root, begin+10*P, 2, perm) {
		t.Fatal("mmap 2 failed")
	}
	if !Mmap(h, pool, phys, l, root, begin+2*P, 2, perm) {
		t.Fatal("mmap 3 failed")
	}
	Munmap(h, pool, phys, l, root, begin+2*P, 2)
	Munmap(h, pool, phys, l, root, begin+4*P, 3)

	found := false
	for _, r := range l.FreeRanges() {
		if r[0] == begin && r[1] == 10 {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected [BEGIN, BEGIN+10*P) to be a single coalesced free node, got %v", l.FreeRanges())
	}
}

func TestMmapWholeArenaRoundtrip(t *testing.T) {
	h, phys, pool, root, l := setup(t, 4)
	begin := riscv.MMAP_BEGIN
	perm := riscv.PTE_R | riscv.PTE_W | riscv.PTE_U
	if !Mmap(h, pool, phys, l, root, begin, 4, perm) {
		t.Fatal("initial mmap should succeed")
	}
	// entire arena is now mapped; Munmap below gives it all back, and the
	// freed range must coalesce into one free node again. A request with no
	// enclosing free run is not exercised here: Mmap treats it as fatal.
	Munmap(h, pool, phys, l, root, begin, 4)
	if len(l.FreeRanges()) != 1 {
		t.Fatalf("expected arena restored to one free node")
	}
}

func TestCloneDeepCopies(t *testing.T) {
	h, _, pool, _, l := setup(t, 16)

	clone, ok := Clone(h, pool, l)
	if !ok {
		t.Fatal("clone failed")
	}
	if len(clone.FreeRanges()) != len(l.FreeRanges()) {
		t.Fatalf("clone has different range count")
	}
}
