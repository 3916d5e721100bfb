package trap

import (
	"fmt"

	"sv39kernel/spinlock"
)

// Scause decoding, per spec.md §4.11: the low 4 bits name the cause, the
// top bit distinguishes interrupt from exception.
type Cause struct {
	Interrupt bool
	Code      uint64
}

func DecodeScause(scause uint64) Cause {
	return Cause{Interrupt: scause&(1<<63) != 0, Code: scause & 0xf}
}

const (
	intSoftware uint64 = 1 // supervisor software interrupt (this kernel's timer tick)
	intExternal uint64 = 9 // supervisor external interrupt (PLIC)
	excEcallU   uint64 = 8 // environment call from U-mode
)

// Ticks_t is the global tick counter the timer handler advances, and the
// rendezvous token sleep(seconds) and wakeup(&ticks) use (spec.md §4.11,
// §4.12). It is module-scoped global mutable state per spec.md §9, guarded
// by its own spinlock.
type Ticks_t struct {
	lk    *spinlock.Lock_t
	value uint64
}

func MkTicks() *Ticks_t {
	return &Ticks_t{lk: spinlock.MkLock("trap.ticks")}
}

func (t *Ticks_t) Get(h *spinlock.Hart_t) uint64 {
	t.lk.Acquire(h)
	v := t.value
	t.lk.Release(h)
	return v
}

func (t *Ticks_t) bump(h *spinlock.Hart_t) {
	t.lk.Acquire(h)
	t.value++
	t.lk.Release(h)
}

// Chan returns Ticks_t's own address as the sleep/wakeup rendezvous
// channel, matching the GLOSSARY's "channel: a kernel address used as a
// rendezvous token."
func (t *Ticks_t) Chan() interface{} { return t }

// Hooks_i is the scheduler-side behavior the trap handlers need:
// yielding the calling hart, waking every sleeper on a channel, and
// dispatching the syscall named by the current trapframe's a7. Package
// proc implements this for its own *Proc_t / *Table_t the same way it
// implements sleeplock.Sleeper_i, so trap never imports proc (spec.md §2
// dependency order: trap is below proc).
type Hooks_i interface {
	Yield(h *spinlock.Hart_t)
	Wakeup(ch interface{})
	DispatchSyscall(h *spinlock.Hart_t)
	PlicClaimAndComplete(h *spinlock.Hart_t)
	Fatal(h *spinlock.Hart_t, msg string)
}

// TimerInterrupt implements spec.md §4.11's machine-timer forwarding
// policy once the supervisor software interrupt has been raised: bump
// ticks only on hart 0, wake every sleeper on &ticks, then yield.
func TimerInterrupt(h *spinlock.Hart_t, ticks *Ticks_t, hooks Hooks_i) {
	if h.Id == 0 {
		ticks.bump(h)
	}
	hooks.Wakeup(ticks.Chan())
	hooks.Yield(h)
}

// Tick is TimerInterrupt without the Yield half: bump ticks and wake
// sleepers, but never preempt whatever a real hart is running. It exists
// for callers standing in for the timer hardware itself rather than for
// a hart's own trap handler — boot's simulated-timer goroutine is not
// running as any hart and must not touch a live Hart_t that a Scheduler
// goroutine and its currently-running process are concurrently using,
// so it calls Tick with a Hart_t of its own instead of TimerInterrupt.
func Tick(h *spinlock.Hart_t, ticks *Ticks_t, hooks Hooks_i) {
	if h.Id == 0 {
		ticks.bump(h)
	}
	hooks.Wakeup(ticks.Chan())
}

// HandleUserTrap implements the handler-policy table of spec.md §4.11 for
// a trap taken from U-mode. tf is the current process's trapframe (the
// trampoline has already saved user registers into it and switched to
// the kernel page table/stack/vector before calling here, per spec.md
// §4.11 item 2). On an ecall, epc is advanced by 4 before dispatch so a
// retried instruction does not re-execute the ecall itself.
func HandleUserTrap(h *spinlock.Hart_t, tf *Trapframe_t, scause, sepc, stval uint64, ticks *Ticks_t, hooks Hooks_i) {
	tf.Epc = sepc
	cause := DecodeScause(scause)

	if cause.Interrupt {
		switch cause.Code {
		case intSoftware:
			TimerInterrupt(h, ticks, hooks)
		case intExternal:
			hooks.PlicClaimAndComplete(h)
		default:
			hooks.Fatal(h, fmt.Sprintf("trap: unknown interrupt %d", cause.Code))
		}
		return
	}

	if cause.Code == excEcallU {
		tf.Epc += 4
		h.IntEna = true
		hooks.DispatchSyscall(h)
		return
	}

	hooks.Fatal(h, fmt.Sprintf("trap: unhandled user exception %d, sepc=%#x stval=%#x", cause.Code, sepc, stval))
}

// HandleKernelTrap implements spec.md §4.11 item 3: a trap taken while
// already in supervisor mode. The only cause this kernel expects here is
// the timer (a nested interrupt while running kernel code with
// interrupts enabled); anything else is a programmer error.
func HandleKernelTrap(h *spinlock.Hart_t, scause, sepc, stval uint64, ticks *Ticks_t, hooks Hooks_i) {
	cause := DecodeScause(scause)
	if cause.Interrupt && cause.Code == intSoftware {
		TimerInterrupt(h, ticks, hooks)
		return
	}
	hooks.Fatal(h, fmt.Sprintf("trap: unexpected kernel trap scause=%#x sepc=%#x stval=%#x", scause, sepc, stval))
}
