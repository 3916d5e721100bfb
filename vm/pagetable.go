// Package vm implements the Sv39 page-table walker/mapper (spec.md §4.4)
// and the user address-space operations built on top of it (spec.md §4.6).
// Grounded on biscuit's vm.as.go (Userdmap8_inner, map_range-equivalent
// walks) and the Sv39-specific walk/map/unmap semantics of
// _examples/original_source/kernel/mem/{kvm,uvm}.c.
package vm

import (
	"unsafe"

	"sv39kernel/mem"
	"sv39kernel/riscv"
	"sv39kernel/spinlock"
)

// Pagetable_t is one level of a Sv39 page table: 512 64-bit PTEs.
type Pagetable_t [riscv.PTENTRIES]uint64

// Frame2pt reinterprets a freshly allocated physical frame as a page table.
func Frame2pt(f *mem.Frame_t) *Pagetable_t {
	return (*Pagetable_t)(unsafe.Pointer(f))
}

func pt2frame(pt *Pagetable_t) *mem.Frame_t {
	return (*mem.Frame_t)(unsafe.Pointer(pt))
}

func ptPa(pt *Pagetable_t) mem.Pa_t {
	return mem.Pa_t(uintptr(unsafe.Pointer(pt)))
}

func paToPt(pa mem.Pa_t) *Pagetable_t {
	return Frame2pt(mem.FromPa(pa))
}

// NewPagetable allocates and zeroes a fresh root (or interior) page-table
// frame from the kernel pool.
func NewPagetable(h *spinlock.Hart_t, phys *mem.Physmem_t) (*Pagetable_t, bool) {
	f, _, ok := phys.Alloc(h, true)
	if !ok {
		return nil, false
	}
	return Frame2pt(f), true
}

// GetPte walks root from L2 down to the L0 leaf for va, allocating
// interior page-table frames along the way when alloc is true. Interior
// entries it creates carry only riscv.PTE_V, per spec.md §4.4. It returns
// the address of the L0 PTE slot, or nil if a missing interior entry was
// encountered with alloc == false, or the kernel pool was exhausted.
func GetPte(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, va uint64, alloc bool) *uint64 {
	pt := root
	for level := uint(2); level > 0; level-- {
		idx := riscv.PTX(level, va)
		pte := &pt[idx]
		if *pte&riscv.PTE_V != 0 {
			pt = paToPt(mem.Pa_t(riscv.PteToPa(*pte)))
			continue
		}
		if !alloc {
			return nil
		}
		child, ok := NewPagetable(h, phys)
		if !ok {
			return nil
		}
		*pte = riscv.PaToPte(uint64(ptPa(child))) | riscv.PTE_V
		pt = child
	}
	idx := riscv.PTX(0, va)
	return &pt[idx]
}

// MapRange installs leaf mappings for [va, va+len) -> [pa, pa+len) with
// permission bits perm (MapRange adds riscv.PTE_V itself). va, pa, and len
// must be page-aligned and len must be positive; remapping an already
// valid leaf to a *different* physical page is fatal (spec.md §4.4).
func MapRange(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, va, pa uint64, length int, perm uint64) bool {
	if va%uint64(riscv.PGSIZE) != 0 || pa%uint64(riscv.PGSIZE) != 0 {
		panic("vm: MapRange requires page-aligned va/pa")
	}
	if length <= 0 || length%riscv.PGSIZE != 0 {
		panic("vm: MapRange requires positive page-aligned length")
	}
	n := length / riscv.PGSIZE
	for i := 0; i < n; i++ {
		cva := va + uint64(i*riscv.PGSIZE)
		cpa := pa + uint64(i*riscv.PGSIZE)
		pte := GetPte(h, phys, root, cva, true)
		if pte == nil {
			// roll back what we already mapped in this call
			if i > 0 {
				UnmapRange(h, phys, root, va, i*riscv.PGSIZE, false)
			}
			return false
		}
		if *pte&riscv.PTE_V != 0 {
			if riscv.PteToPa(*pte) != cpa {
				panic("vm: MapRange remap conflict")
			}
		}
		*pte = riscv.PaToPte(cpa) | perm | riscv.PTE_V
	}
	return true
}

// UnmapRange clears leaf PTEs over [va, va+len). Absent or already-invalid
// entries are silently skipped. When freeLeaf is true the referenced user
// frame is returned to the user pool.
func UnmapRange(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, va uint64, length int, freeLeaf bool) {
	if va%uint64(riscv.PGSIZE) != 0 || length%riscv.PGSIZE != 0 {
		panic("vm: UnmapRange requires page-aligned va/len")
	}
	n := length / riscv.PGSIZE
	for i := 0; i < n; i++ {
		cva := va + uint64(i*riscv.PGSIZE)
		pte := GetPte(h, phys, root, cva, false)
		if pte == nil || *pte&riscv.PTE_V == 0 {
			continue
		}
		if freeLeaf {
			phys.Free(h, mem.FromPa(mem.Pa_t(riscv.PteToPa(*pte))), false)
		}
		*pte = 0
	}
}

// destroyLevel recursively frees every valid interior and leaf entry
// reachable from pt at the given level, then frees pt itself.
func destroyLevel(h *spinlock.Hart_t, phys *mem.Physmem_t, pt *Pagetable_t, level uint) {
	if level > 0 {
		for i := range pt {
			pte := pt[i]
			if pte&riscv.PTE_V == 0 {
				continue
			}
			child := paToPt(mem.Pa_t(riscv.PteToPa(pte)))
			destroyLevel(h, phys, child, level-1)
		}
	} else {
		for i := range pt {
			pte := pt[i]
			if pte&riscv.PTE_V == 0 {
				continue
			}
			phys.Free(h, mem.FromPa(mem.Pa_t(riscv.PteToPa(pte))), false)
		}
	}
	phys.Free(h, pt2frame(pt), true)
}

// DestroyAddressSpace recursively frees every reachable interior and leaf
// page. Callers must unmap (not free) the trampoline and trapframe pages
// first: the trampoline is shared globally across every process and the
// trapframe's lifetime is tied to the proc record, not the page table
// (spec.md §4.4).
func DestroyAddressSpace(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t) {
	destroyLevel(h, phys, root, 2)
}
