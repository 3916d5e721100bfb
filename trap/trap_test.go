package trap

import (
	"testing"

	"sv39kernel/spinlock"
)

type fakeHooks struct {
	yielded   bool
	woken     []interface{}
	dispatched bool
	plic      bool
	fatal     string
}

func (f *fakeHooks) Yield(h *spinlock.Hart_t)          { f.yielded = true }
func (f *fakeHooks) Wakeup(ch interface{})             { f.woken = append(f.woken, ch) }
func (f *fakeHooks) DispatchSyscall(h *spinlock.Hart_t) { f.dispatched = true }
func (f *fakeHooks) PlicClaimAndComplete(h *spinlock.Hart_t) { f.plic = true }
func (f *fakeHooks) Fatal(h *spinlock.Hart_t, msg string)    { f.fatal = msg }

func TestTimerInterruptBumpsOnHart0Only(t *testing.T) {
	ticks := MkTicks()
	h0 := &spinlock.Hart_t{Id: 0}
	h1 := &spinlock.Hart_t{Id: 1}
	hooks := &fakeHooks{}

	TimerInterrupt(h0, ticks, hooks)
	if ticks.Get(h0) != 1 {
		t.Fatalf("hart 0 timer tick: got %d want 1", ticks.Get(h0))
	}
	TimerInterrupt(h1, ticks, hooks)
	if ticks.Get(h0) != 1 {
		t.Fatalf("hart 1 must not bump ticks: got %d want 1", ticks.Get(h0))
	}
	if !hooks.yielded {
		t.Fatal("expected yield on every timer interrupt")
	}
	if len(hooks.woken) != 2 {
		t.Fatalf("expected a wakeup per timer interrupt, got %d", len(hooks.woken))
	}
}

func TestHandleUserTrapEcallAdvancesEpcAndDispatches(t *testing.T) {
	ticks := MkTicks()
	h := &spinlock.Hart_t{Id: 0}
	hooks := &fakeHooks{}
	tf := &Trapframe_t{}

	scause := excEcallU // exception, not interrupt (top bit clear)
	HandleUserTrap(h, tf, scause, 0x1000, 0, ticks, hooks)

	if tf.Epc != 0x1004 {
		t.Fatalf("epc not advanced past ecall: got %#x", tf.Epc)
	}
	if !hooks.dispatched {
		t.Fatal("expected syscall dispatch on ecall-from-U")
	}
	if !h.IntEna {
		t.Fatal("expected interrupts enabled before syscall dispatch")
	}
}

func TestHandleUserTrapUnknownExceptionIsFatal(t *testing.T) {
	ticks := MkTicks()
	h := &spinlock.Hart_t{Id: 0}
	hooks := &fakeHooks{}
	tf := &Trapframe_t{}

	HandleUserTrap(h, tf, 13, 0x2000, 0xdead, ticks, hooks)
	if hooks.fatal == "" {
		t.Fatal("expected Fatal to be called for an unhandled exception")
	}
}

func TestHandleUserTrapExternalInterruptDispatchesToPlic(t *testing.T) {
	ticks := MkTicks()
	h := &spinlock.Hart_t{Id: 0}
	hooks := &fakeHooks{}
	tf := &Trapframe_t{}

	HandleUserTrap(h, tf, intExternal|(1<<63), 0x3000, 0, ticks, hooks)
	if !hooks.plic {
		t.Fatal("expected PLIC claim/complete on external interrupt")
	}
}
