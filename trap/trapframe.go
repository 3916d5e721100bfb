// Package trap implements the three trap categories of spec.md §4.11:
// machine-timer forwarding, the user<->kernel trampoline crossing, and the
// supervisor-trap-from-kernel vector, plus the handler policy that routes
// a trap to the timer handler, the PLIC, or syscall dispatch. Grounded on
// _examples/original_source/kernel/trap/trap_user.c and biscuit's
// trap.trap.go (the scause/sepc/stval decoding and handler-policy switch).
//
// The trampoline and swtch are external collaborators per spec.md §9: this
// package models their *contract* (save/restore user registers, switch
// privilege atomically) rather than literal RISC-V assembly. Likewise
// "the current process" is never a trap-package concept — every handler
// here takes the already-decoded trap cause plus a Hooks_i the caller
// supplies, the same decoupling sleeplock.Sleeper_i uses to keep this
// layer below package proc in spec.md §2's dependency order.
package trap

import (
	"unsafe"

	"sv39kernel/mem"
)

// Trapframe_t saves the user register state a trap needs across the
// user<->kernel boundary (spec.md §3, GLOSSARY "trapframe"). Only the
// fields this kernel's Go logic actually reads or writes are modeled:
// the saved program counter, stack pointer, and the syscall argument/
// return registers a0-a7. A real implementation saves all 31 integer
// registers; the rest participate only in the trampoline's save/restore
// contract, which spec.md §9 treats as an external collaborator.
type Trapframe_t struct {
	Epc uint64
	Sp  uint64
	A0  uint64
	A1  uint64
	A2  uint64
	A3  uint64
	A4  uint64
	A5  uint64
	A6  uint64
	A7  uint64
}

// FromFrame reinterprets a freshly allocated physical frame as a
// trapframe, matching vm.Frame2pt's cast-a-frame-to-its-logical-shape
// idiom (the trapframe is mapped into user space at riscv.TRAPFRAME, one
// frame per process, per spec.md §6).
func FromFrame(f *mem.Frame_t) *Trapframe_t {
	return (*Trapframe_t)(unsafe.Pointer(f))
}
