// Package riscv holds the Sv39 virtual-memory constants and the virtual
// address layout from spec.md §6, grounded on the PTE/VA definitions in
// _examples/original_source/kernel/mem/{kvm,uvm}.c and expressed the way
// biscuit's mem package expresses its (x86-64) equivalents.
package riscv

// PGSHIFT is the base-2 exponent of the page size; PGSIZE follows.
const PGSHIFT uint = 12
const PGSIZE int = 1 << PGSHIFT

// PGOFFSET/PGMASK split a virtual or physical address into page offset
// and page-aligned base.
const PGOFFSET uint64 = (1 << PGSHIFT) - 1
const PGMASK = ^PGOFFSET

// Sv39 has three 9-bit levels of 512-entry page tables.
const (
	PTLEVELS  = 3
	PTIDXBITS = 9
	PTENTRIES = 1 << PTIDXBITS // 512
)

// PTE permission/validity bits (low 10 bits of a 64-bit PTE per the Sv39
// encoding; bits above PPN_SHIFT hold the physical page number).
const (
	PTE_V uint64 = 1 << 0 // valid
	PTE_R uint64 = 1 << 1 // readable
	PTE_W uint64 = 1 << 2 // writable
	PTE_X uint64 = 1 << 3 // executable
	PTE_U uint64 = 1 << 4 // user-accessible
)

const PPN_SHIFT uint = 10

// VA_MAX is the largest Sv39 user virtual address the spec's layout needs
// to reason about (39 usable bits).
const VA_MAX = uint64(1) << 38

// Fixed virtual-address layout, spec.md §6.
var (
	TRAMPOLINE = VA_MAX - uint64(PGSIZE)
	TRAPFRAME  = TRAMPOLINE - uint64(PGSIZE)
	MMAP_END   = TRAMPOLINE - 34*uint64(PGSIZE)
	MMAP_NPAGES = uint64(8096)
	MMAP_BEGIN = MMAP_END - MMAP_NPAGES*uint64(PGSIZE)
	USER_BASE  = uint64(0x1000)
)

// PTX returns the 9-bit index into level `level` (2, 1, or 0) of va.
func PTX(level uint, va uint64) uint64 {
	shift := uint(PGSHIFT) + (level * PTIDXBITS)
	return (va >> shift) & (PTENTRIES - 1)
}

// PteToPa extracts the physical page number from a PTE and shifts it back
// into a physical address.
func PteToPa(pte uint64) uint64 {
	return (pte >> PPN_SHIFT) << PGSHIFT
}

// PaToPte packs a page-aligned physical address into PTE PPN bits.
func PaToPte(pa uint64) uint64 {
	return (pa >> PGSHIFT) << PPN_SHIFT
}
