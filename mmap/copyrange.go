package mmap

import (
	"sv39kernel/mem"
	"sv39kernel/riscv"
	"sv39kernel/spinlock"
	"sv39kernel/vm"
)

// CopyMapped deep-copies every currently-mapped page of the mmap arena
// (the complement of src's free list) from the src page table into dst,
// replicating contents and permission bits. It is the mmap-arena half of
// fork()'s address-space duplication (spec.md §4.6, §4.12); the code/heap
// and stack halves are handled by vm.CopyAddressSpace. Any rollback
// already freed by a failed vm.CopyAddressSpace call is the caller's
// responsibility — fork abandons the whole child address space on any
// failure (spec.md §4.12).
func CopyMapped(h *spinlock.Hart_t, phys *mem.Physmem_t, src *List_t, srcRoot, dstRoot *vm.Pagetable_t) bool {
	mapped := mappedRanges(src, riscv.MMAP_BEGIN, riscv.MMAP_END)
	for _, m := range mapped {
		for va := m[0]; va < m[1]; va += uint64(riscv.PGSIZE) {
			pte := vm.GetPte(h, phys, srcRoot, va, false)
			if pte == nil {
				continue
			}
			if !copyLeaf(h, phys, dstRoot, va, *pte) {
				return false
			}
		}
	}
	return true
}

func copyLeaf(h *spinlock.Hart_t, phys *mem.Physmem_t, dstRoot *vm.Pagetable_t, va uint64, pte uint64) bool {
	if pte&riscv.PTE_V == 0 {
		return true
	}
	perm := pte & (riscv.PTE_R | riscv.PTE_W | riscv.PTE_X | riscv.PTE_U)
	srcFrame := mem.FromPa(mem.Pa_t(riscv.PteToPa(pte)))
	newFrame, newPa, ok := phys.Alloc(h, false)
	if !ok {
		return false
	}
	*newFrame = *srcFrame
	if !vm.MapRange(h, phys, dstRoot, va, uint64(newPa), riscv.PGSIZE, perm) {
		phys.Free(h, newFrame, false)
		return false
	}
	return true
}

// mappedRanges returns the complement of free within [lo, hi) as a list
// of [begin, end) pairs.
func mappedRanges(l *List_t, lo, hi uint64) [][2]uint64 {
	var out [][2]uint64
	cur := lo
	for _, r := range l.FreeRanges() {
		fbegin, fend := r[0], r[0]+r[1]*uint64(riscv.PGSIZE)
		if fbegin > cur {
			out = append(out, [2]uint64{cur, fbegin})
		}
		if fend > cur {
			cur = fend
		}
	}
	if cur < hi {
		out = append(out, [2]uint64{cur, hi})
	}
	return out
}
