// User address-space operations (spec.md §4.6): copy_in/copy_out,
// heap_grow/heap_ungrow, copy_address_space, destroy_address_space.
// Grounded on biscuit's vm.as.go (Userdmap8_inner's page-by-page
// translate-and-copy) and vm.userbuf.go.
package vm

import (
	"sv39kernel/mem"
	"sv39kernel/riscv"
	"sv39kernel/spinlock"
	"sv39kernel/util"
)

const userPerm = riscv.PTE_R | riscv.PTE_W | riscv.PTE_U

// userTranslate walks to the leaf PTE for va and returns a byte slice
// covering the rest of that page starting at va's offset. It is fatal
// (per spec.md §4.6) if the PTE is missing, invalid, or not user-
// accessible: a well-formed copy_in/copy_out call never reaches unmapped
// or kernel-only memory, because the range was validated against the
// address space's known extents by the caller (syscall argument checks).
func userTranslate(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, va uint64) []byte {
	pte := GetPte(h, phys, root, va, false)
	if pte == nil || *pte&riscv.PTE_V == 0 || *pte&riscv.PTE_U == 0 {
		panic("vm: copy through non-resident or non-user page")
	}
	f := mem.FromPa(mem.Pa_t(riscv.PteToPa(*pte)))
	off := va & riscv.PGOFFSET
	return f[off:]
}

// CopyIn copies len(kdst) bytes from user address uaddr into kdst.
func CopyIn(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, kdst []byte, uaddr uint64) {
	copyUser(h, phys, root, uaddr, kdst, false)
}

// CopyOut copies ksrc into user memory starting at uaddr.
func CopyOut(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, uaddr uint64, ksrc []byte) {
	copyUser(h, phys, root, uaddr, ksrc, true)
}

func copyUser(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, uaddr uint64, buf []byte, toUser bool) {
	off := 0
	for off < len(buf) {
		va := uaddr + uint64(off)
		page := userTranslate(h, phys, root, va)
		n := len(buf) - off
		if n > len(page) {
			n = len(page)
		}
		if toUser {
			copy(page[:n], buf[off:off+n])
		} else {
			copy(buf[off:off+n], page[:n])
		}
		off += n
	}
}

// CopyInStr copies a NUL-terminated string of at most maxlen bytes
// (excluding the NUL) from user memory, stopping at the first NUL byte.
// It returns (data, true) on success, or (nil, false) if no NUL was found
// within maxlen bytes.
func CopyInStr(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, uaddr uint64, maxlen int) ([]byte, bool) {
	out := make([]byte, 0, 32)
	off := 0
	for off < maxlen {
		va := uaddr + uint64(off)
		page := userTranslate(h, phys, root, va)
		for _, b := range page {
			if len(out) >= maxlen {
				return nil, false
			}
			if b == 0 {
				return out, true
			}
			out = append(out, b)
			off++
		}
	}
	return nil, false
}

// HeapGrow extends the process heap by length bytes, mapping fresh zeroed
// user frames R|W|U. It is capped at TRAPFRAME-PGSIZE (the base of the
// page just below the trapframe page) and rolls back any pages it mapped if it runs out of
// physical frames partway through.
func HeapGrow(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, top uint64, length int) (uint64, bool) {
	if length < 0 {
		panic("vm: HeapGrow with negative length")
	}
	newTop := top + uint64(length)
	limit := riscv.TRAPFRAME - uint64(riscv.PGSIZE)
	if newTop > limit {
		return top, false
	}
	start := util.Roundup(top, uint64(riscv.PGSIZE))
	end := util.Roundup(newTop, uint64(riscv.PGSIZE))
	mapped := 0
	for va := start; va < end; va += uint64(riscv.PGSIZE) {
		f, pa, ok := phys.Alloc(h, false)
		if !ok {
			UnmapRange(h, phys, root, start, mapped*riscv.PGSIZE, true)
			return top, false
		}
		_ = f
		if !MapRange(h, phys, root, va, uint64(pa), riscv.PGSIZE, userPerm) {
			phys.Free(h, mem.FromPa(pa), false)
			UnmapRange(h, phys, root, start, mapped*riscv.PGSIZE, true)
			return top, false
		}
		mapped++
	}
	return newTop, true
}

// HeapUngrow shrinks the heap by length bytes, unmapping and freeing every
// page whose VA falls strictly below top and at or above top-length.
func HeapUngrow(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t, top uint64, length int) uint64 {
	if length < 0 {
		panic("vm: HeapUngrow with negative length")
	}
	newTop := top - uint64(length)
	start := util.Roundup(newTop, uint64(riscv.PGSIZE))
	end := util.Roundup(top, uint64(riscv.PGSIZE))
	if end > start {
		UnmapRange(h, phys, root, start, int(end-start), true)
	}
	return newTop
}

// CopyAddressSpace deep-copies the user code/heap range [USER_BASE,
// heapTop) and the user stack [TRAPFRAME-ustackPages*PGSIZE, TRAPFRAME)
// from src into dst: every copied page gets a fresh physical frame with
// replicated contents and permission bits. The trampoline and trapframe
// are never copied (spec.md §4.6) — callers map those into dst
// separately, with per-process identity for the trapframe and the shared
// global mapping for the trampoline.
func CopyAddressSpace(h *spinlock.Hart_t, phys *mem.Physmem_t, src, dst *Pagetable_t, heapTop uint64, ustackPages int) bool {
	if !copyRange(h, phys, src, dst, riscv.USER_BASE, heapTop) {
		return false
	}
	stackBase := riscv.TRAPFRAME - uint64(ustackPages)*uint64(riscv.PGSIZE)
	return copyRange(h, phys, src, dst, stackBase, riscv.TRAPFRAME)
}

func copyRange(h *spinlock.Hart_t, phys *mem.Physmem_t, src, dst *Pagetable_t, begin, end uint64) bool {
	for va := util.Rounddown(begin, uint64(riscv.PGSIZE)); va < end; va += uint64(riscv.PGSIZE) {
		pte := GetPte(h, phys, src, va, false)
		if pte == nil || *pte&riscv.PTE_V == 0 {
			continue
		}
		perm := *pte & (riscv.PTE_R | riscv.PTE_W | riscv.PTE_X | riscv.PTE_U)
		srcFrame := mem.FromPa(mem.Pa_t(riscv.PteToPa(*pte)))
		newFrame, newPa, ok := phys.Alloc(h, false)
		if !ok {
			return false
		}
		*newFrame = *srcFrame
		if !MapRange(h, phys, dst, va, uint64(newPa), riscv.PGSIZE, perm) {
			phys.Free(h, newFrame, false)
			return false
		}
	}
	return true
}

// DestroyUserAddrspace unmaps the trampoline and trapframe (without
// freeing them — the trampoline is shared globally, the trapframe's
// lifetime belongs to the proc record) and then frees every other
// reachable page and page-table frame.
func DestroyUserAddrspace(h *spinlock.Hart_t, phys *mem.Physmem_t, root *Pagetable_t) {
	UnmapRange(h, phys, root, riscv.TRAMPOLINE, riscv.PGSIZE, false)
	UnmapRange(h, phys, root, riscv.TRAPFRAME, riscv.PGSIZE, false)
	DestroyAddressSpace(h, phys, root)
}
