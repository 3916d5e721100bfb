package proc

import (
	"fmt"
	"time"

	"sv39kernel/defs"
	"sv39kernel/file"
	"sv39kernel/fs"
	"sv39kernel/mem"
	"sv39kernel/mmap"
	"sv39kernel/riscv"
	"sv39kernel/spinlock"
	"sv39kernel/syscall"
	"sv39kernel/trap"
	"sv39kernel/vm"
)

// Table_t is the process table: the fixed-size pool of Proc_t slots, the
// resources every process shares (physical memory, the mounted
// filesystem, the open-file and device tables, the mmap node pool, the
// syscall dispatch table, and the tick counter), and the per-hart
// scheduler state. It implements sleeplock.Sleeper_i and trap.Hooks_i, the
// same decoupling interfaces package file/trap/syscall declare to stay
// below proc in spec.md §2's dependency order.
type Table_t struct {
	lk      *spinlock.Lock_t // table-wide lock; doubles as spec.md §5's wait_lock
	sleepLk *spinlock.Lock_t // dedicated lock for sleepSeconds's wait loop

	procs   []Proc_t
	nextPid int

	running []*Proc_t // indexed by hart id, the proc currently RUNNING there

	phys     *mem.Physmem_t
	mmapPool *mmap.Pool_t
	fsys     *fs.Fs_t
	ftable   *file.Ftable_t
	devtable *file.Devtable_t
	ticks    *trap.Ticks_t
	syscalls *syscall.Table_t

	trampolinePa mem.Pa_t
}

// MkTable builds a process table with room for nproc processes across
// ncpu simulated harts, sharing the given physical memory manager, mmap
// pool, filesystem, open-file table, device table, tick counter, and
// syscall dispatch table (all constructed by boot, spec.md §2).
func MkTable(h *spinlock.Hart_t, nproc, ncpu int, phys *mem.Physmem_t, mmapPool *mmap.Pool_t, fsys *fs.Fs_t, ftable *file.Ftable_t, devtable *file.Devtable_t, ticks *trap.Ticks_t, syscalls *syscall.Table_t) *Table_t {
	f, pa, ok := phys.Alloc(h, true)
	if !ok {
		defs.Fatal("proc: no kernel frame for the shared trampoline")
	}
	_ = f
	return &Table_t{
		lk:           spinlock.MkLock("proc.table"),
		sleepLk:      spinlock.MkLock("proc.sleep"),
		procs:        make([]Proc_t, nproc),
		running:      make([]*Proc_t, ncpu),
		phys:         phys,
		mmapPool:     mmapPool,
		fsys:         fsys,
		ftable:       ftable,
		devtable:     devtable,
		ticks:        ticks,
		syscalls:     syscalls,
		trampolinePa: pa,
	}
}

func (t *Table_t) clearRunning(h *spinlock.Hart_t) {
	if h.Id >= 0 && h.Id < len(t.running) {
		t.running[h.Id] = nil
	}
}

func (t *Table_t) curProc(h *spinlock.Hart_t) *Proc_t {
	if h.Id < 0 || h.Id >= len(t.running) {
		return nil
	}
	return t.running[h.Id]
}

func (t *Table_t) findProc(pid int) *Proc_t {
	for i := range t.procs {
		if t.procs[i].pid == pid && t.procs[i].state != UNUSED {
			return &t.procs[i]
		}
	}
	return nil
}

// allocProc finds a free slot, gives it a pid and a fresh address space
// (shared trampoline page mapped, a private trapframe mapped, an empty
// mmap arena), and returns it in state USED. Mirrors proc_alloc (spec.md
// §4.12): callers finish initializing process-specific fields themselves.
func (t *Table_t) allocProc(h *spinlock.Hart_t) (*Proc_t, bool) {
	if !defs.Syslimit.Nproc.Take() {
		return nil, false
	}
	t.lk.Acquire(h)
	var pr *Proc_t
	for i := range t.procs {
		if t.procs[i].state == UNUSED {
			pr = &t.procs[i]
			break
		}
	}
	if pr == nil {
		t.lk.Release(h)
		defs.Syslimit.Nproc.Give()
		return nil, false
	}
	t.nextPid++
	pid := t.nextPid
	t.lk.Release(h)

	*pr = Proc_t{}
	pr.lk = spinlock.MkLock(fmt.Sprintf("proc.%d", pid))
	pr.table = t
	pr.pid = pid
	pr.state = USED
	pr.resume = make(chan *spinlock.Hart_t)
	pr.parked = make(chan struct{})
	pr.acct = &Accnt_t{}

	pt, ok := vm.NewPagetable(h, t.phys)
	if !ok {
		pr.state = UNUSED
		defs.Syslimit.Nproc.Give()
		return nil, false
	}
	if !vm.MapRange(h, t.phys, pt, riscv.TRAMPOLINE, uint64(t.trampolinePa), riscv.PGSIZE, riscv.PTE_R|riscv.PTE_X) {
		vm.DestroyAddressSpace(h, t.phys, pt)
		pr.state = UNUSED
		defs.Syslimit.Nproc.Give()
		return nil, false
	}
	tfFrame, tfPa, ok := t.phys.Alloc(h, false)
	if !ok {
		vm.DestroyUserAddrspace(h, t.phys, pt)
		pr.state = UNUSED
		defs.Syslimit.Nproc.Give()
		return nil, false
	}
	if !vm.MapRange(h, t.phys, pt, riscv.TRAPFRAME, uint64(tfPa), riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W) {
		t.phys.Free(h, tfFrame, false)
		vm.DestroyUserAddrspace(h, t.phys, pt)
		pr.state = UNUSED
		defs.Syslimit.Nproc.Give()
		return nil, false
	}
	pr.pagetable = pt
	pr.tfFrame = tfFrame
	pr.tfPa = tfPa
	pr.tf = trap.FromFrame(tfFrame)

	arenaPages := int((riscv.MMAP_END - riscv.MMAP_BEGIN) / uint64(riscv.PGSIZE))
	ml, ok := mmap.Init(h, t.mmapPool, riscv.MMAP_BEGIN, arenaPages)
	if !ok {
		t.phys.Free(h, tfFrame, false)
		vm.DestroyUserAddrspace(h, t.phys, pt)
		pr.state = UNUSED
		defs.Syslimit.Nproc.Give()
		return nil, false
	}
	pr.mmapList = ml

	return pr, true
}

// freeProc tears down a process's address space and returns its table
// slot (spec.md §4.12's wait()-side reclamation, and fork()'s own
// rollback on a failed child build).
func (t *Table_t) freeProc(h *spinlock.Hart_t, pr *Proc_t) {
	mmap.Destroy(h, t.mmapPool, pr.mmapList)
	vm.DestroyUserAddrspace(h, t.phys, pr.pagetable)
	t.phys.Free(h, pr.tfFrame, false)
	if pr.cwd != nil {
		fs.Free(h, t, pr.pid, t.fsys.Cache, t.fsys.Sb, t.fsys.It, pr.cwd)
	}
	*pr = Proc_t{}
	defs.Syslimit.Nproc.Give()
}

// MakeFirst builds the first process (spec.md §4.12's proc_make_first):
// one code page and one stack page below TRAPFRAME, a console fd attached
// on 0/1/2, cwd set to the filesystem root, and body as the program it
// runs — the embedded "initcode" spec.md's original describes, replaced
// here by a Go closure since this kernel never executes user-mode RISC-V
// instructions (spec.md §9 treats the CPU fetch/execute loop itself as an
// external collaborator).
func (t *Table_t) MakeFirst(h *spinlock.Hart_t, body func(p *Proc_t)) *Proc_t {
	pr, ok := t.allocProc(h)
	if !ok {
		defs.Fatal("proc: cannot allocate the first process")
	}
	pr.parent = 0
	pr.ustackPages = 1
	stackBase := riscv.TRAPFRAME - uint64(pr.ustackPages)*uint64(riscv.PGSIZE)
	for va := stackBase; va < riscv.TRAPFRAME; va += uint64(riscv.PGSIZE) {
		_, pa, ok := t.phys.Alloc(h, false)
		if !ok {
			defs.Fatal("proc: cannot allocate the first process's stack")
		}
		if !vm.MapRange(h, t.phys, pr.pagetable, va, uint64(pa), riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W|riscv.PTE_U) {
			defs.Fatal("proc: cannot map the first process's stack")
		}
	}
	codePa, pa, ok := t.phys.Alloc(h, false)
	if !ok {
		defs.Fatal("proc: cannot allocate the first process's code page")
	}
	_ = codePa
	if !vm.MapRange(h, t.phys, pr.pagetable, riscv.USER_BASE, uint64(pa), riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W|riscv.PTE_X|riscv.PTE_U) {
		defs.Fatal("proc: cannot map the first process's code page")
	}
	pr.heapTop = riscv.USER_BASE + uint64(riscv.PGSIZE)
	pr.tf.Epc = riscv.USER_BASE
	pr.tf.Sp = riscv.TRAPFRAME

	root := t.fsys.RootInode(h)
	pr.cwd = root
	if c, ok := t.ftable.CreateDev(h, t, pr.pid, t.fsys, []byte("console"), root, uint16(defs.D_CONSOLE), 0); ok {
		pr.ofile[0] = c
		pr.ofile[1] = t.ftable.Dup(h, c)
		pr.ofile[2] = t.ftable.Dup(h, c)
	}

	pr.body = body
	t.lk.Acquire(h)
	pr.state = RUNNABLE
	t.lk.Release(h)
	go pr.runLoop()
	return pr
}

// runLoop is the goroutine backing one process: it blocks until the
// scheduler hands it a hart, runs its body once (the whole "program",
// since there is no instruction-level execution to resume mid-stream),
// and exits with code 0 if the body returns without calling ExitProc.
func (p *Proc_t) runLoop() {
	h := <-p.resume
	p.hart = h
	if p.body != nil {
		p.body(p)
	}
	if p.state != ZOMBIE {
		p.table.exit(p, 0)
	}
}

// Scheduler is the per-hart loop of spec.md §4.12: find a RUNNABLE
// process, run it until it calls sched() (directly or via yield/sleep/
// exit), repeat. Grounded on
// _examples/original_source/kernel/proc/cpu.c's scheduler shape, expressed
// as a channel handoff instead of swtch() (spec.md §9).
func (t *Table_t) Scheduler(h *spinlock.Hart_t) {
	for {
		h.IntEna = true
		t.lk.Acquire(h)
		var next *Proc_t
		for i := range t.procs {
			if t.procs[i].state == RUNNABLE {
				next = &t.procs[i]
				break
			}
		}
		if next == nil {
			t.lk.Release(h)
			continue
		}
		next.state = RUNNING
		t.running[h.Id] = next
		t.lk.Release(h)

		startNs := time.Now().UnixNano()
		next.resume <- h
		<-next.parked
		// spec.md §3/§4 per-process CPU-time accounting: the wall-clock
		// span of one scheduled run is this process's user-time slice
		// (DispatchSyscall below separately tracks the system-time
		// portion spent servicing a syscall within that same slice).
		next.acct.Utadd(time.Now().UnixNano() - startNs)
	}
}

// Yield implements trap.Hooks_i.Yield: the process currently running on h
// gives up the hart voluntarily (spec.md §4.11's timer-interrupt path).
func (t *Table_t) Yield(h *spinlock.Hart_t) {
	p := t.curProc(h)
	if p == nil {
		return
	}
	p.lk.Acquire(h)
	p.state = RUNNABLE
	p.sched()
	p.lk.Release(h)
}

// Sleep implements sleeplock.Sleeper_i.Sleep: block the process running
// on h on chan_, releasing lk first and reacquiring it before returning
// (spec.md §4.12's sleep() contract — spurious wakeups are tolerated by
// every caller re-checking its condition in a loop).
func (t *Table_t) Sleep(chan_ interface{}, lk *spinlock.Lock_t, h *spinlock.Hart_t) {
	p := t.curProc(h)
	if p == nil {
		defs.Fatal("proc: Sleep called with no current process on hart %d", h.Id)
	}
	p.lk.Acquire(h)
	lk.Release(h)
	p.chan_ = chan_
	p.state = SLEEPING
	p.sched()
	p.chan_ = nil
	p.lk.Release(h)
	lk.Acquire(h)
}

// Wakeup implements sleeplock.Sleeper_i.Wakeup / trap.Hooks_i.Wakeup:
// every process sleeping on chan_ becomes RUNNABLE. Wakeup has no current
// hart of its own — it is called from contexts (a sleeplock release, the
// timer handler) that may not be running any particular process's code —
// so it constructs an ephemeral Hart_t purely to satisfy the spinlock
// API's Acquire/Release signatures; this hart never schedules a process
// and is a deliberate simplification documented in DESIGN.md.
func (t *Table_t) Wakeup(chan_ interface{}) {
	eh := &spinlock.Hart_t{Id: -1}
	for i := range t.procs {
		p := &t.procs[i]
		p.lk.Acquire(eh)
		if p.state == SLEEPING && p.chan_ == chan_ {
			p.state = RUNNABLE
		}
		p.lk.Release(eh)
	}
}

// DispatchSyscall implements trap.Hooks_i: look up the process running on
// h and run it through the syscall dispatch table.
func (t *Table_t) DispatchSyscall(h *spinlock.Hart_t) {
	p := t.curProc(h)
	if p == nil {
		defs.Fatal("proc: syscall trap with no current process on hart %d", h.Id)
	}
	startNs := time.Now().UnixNano()
	t.syscalls.Dispatch(p)
	p.acct.Finish(startNs)
}

// PlicClaimAndComplete implements trap.Hooks_i. The PLIC itself is an
// external collaborator (spec.md §9); this kernel has no device beyond
// the console, which is driven synchronously from file.ReadKernel/
// WriteKernel, so there is nothing to claim.
func (t *Table_t) PlicClaimAndComplete(h *spinlock.Hart_t) {}

// Fatal implements trap.Hooks_i by routing to defs.Fatal (spec.md §7
// class 1: invariant violations freeze the hart after a diagnostic).
func (t *Table_t) Fatal(h *spinlock.Hart_t, msg string) {
	defs.Fatal("hart %d: %s", h.Id, msg)
}

// sleepSeconds implements sys_sleep: block until the tick counter has
// advanced by n (spec.md §4.12; this kernel's tick is the shared unit the
// timer handler advances once per interrupt, so "n seconds" means "n
// ticks" — see trap.Ticks_t).
func (t *Table_t) sleepSeconds(p *Proc_t, n int) bool {
	h := p.hart
	target := t.ticks.Get(h) + uint64(n)
	t.sleepLk.Acquire(h)
	for t.ticks.Get(h) < target {
		t.Sleep(t.ticks.Chan(), t.sleepLk, h)
	}
	t.sleepLk.Release(h)
	return true
}

// fork implements sys_fork (spec.md §4.12): allocate a child, deep-copy
// the parent's code/heap/stack range and mmap arena into it, duplicate
// open files and cwd, and mark it RUNNABLE. Any failure abandons the
// partially built child and leaves the parent untouched.
func (t *Table_t) fork(parent *Proc_t) (int, bool) {
	h := parent.hart
	child, ok := t.allocProc(h)
	if !ok {
		return 0, false
	}
	if !vm.CopyAddressSpace(h, t.phys, parent.pagetable, child.pagetable, parent.heapTop, parent.ustackPages) {
		t.freeProc(h, child)
		return 0, false
	}
	if !mmap.CopyMapped(h, t.phys, parent.mmapList, parent.pagetable, child.pagetable) {
		t.freeProc(h, child)
		return 0, false
	}
	cloned, ok := mmap.Clone(h, t.mmapPool, parent.mmapList)
	if !ok {
		t.freeProc(h, child)
		return 0, false
	}
	mmap.Destroy(h, t.mmapPool, child.mmapList)
	child.mmapList = cloned

	child.heapTop = parent.heapTop
	child.ustackPages = parent.ustackPages
	*child.tf = *parent.tf
	child.tf.A0 = 0
	if parent.cwd != nil {
		child.cwd = fs.Dup(t.fsys.It, h, parent.cwd)
	}
	for i := 0; i < NOFILE; i++ {
		if parent.ofile[i] != nil {
			child.ofile[i] = t.ftable.Dup(h, parent.ofile[i])
		}
	}
	child.parent = parent.pid
	child.body = parent.body

	t.lk.Acquire(h)
	child.state = RUNNABLE
	t.lk.Release(h)
	go child.runLoop()
	return child.pid, true
}

// wait implements sys_wait (spec.md §4.12): block until a child becomes a
// ZOMBIE, reap it (reclaiming its table slot and address space), write
// its exit code to uaddr if non-zero, and return its pid. Returns
// (0, false) if the caller has no children at all.
func (t *Table_t) wait(parent *Proc_t, uaddr uint64) (int, bool) {
	h := parent.hart
	t.lk.Acquire(h)
	for {
		haveChild := false
		for i := range t.procs {
			c := &t.procs[i]
			if c.parent == parent.pid && c.state != UNUSED {
				haveChild = true
				if c.state == ZOMBIE {
					pid := c.pid
					code := c.exitCode
					parent.acct.Add(c.acct)
					t.freeProc(h, c)
					t.lk.Release(h)
					if uaddr != 0 {
						var buf [8]byte
						buf[0] = byte(code)
						buf[1] = byte(code >> 8)
						buf[2] = byte(code >> 16)
						buf[3] = byte(code >> 24)
						vm.CopyOut(h, t.phys, parent.pagetable, uaddr, buf[:4])
					}
					return pid, true
				}
			}
		}
		if !haveChild {
			t.lk.Release(h)
			return 0, false
		}
		t.Sleep(parent, t.lk, h)
	}
}

// exit implements sys_exit (spec.md §4.12): close every open file,
// reparent any children to init (pid 1), wake the parent (if any) out of
// its wait(), mark this process ZOMBIE, and hand the hart back to the
// scheduler forever — sched() never returns here because a ZOMBIE is
// never made RUNNABLE again.
func (t *Table_t) exit(p *Proc_t, code int) {
	h := p.hart
	for i := 0; i < NOFILE; i++ {
		if p.ofile[i] != nil {
			p.CloseFile(i)
		}
	}

	t.lk.Acquire(h)
	reparented := false
	for i := range t.procs {
		c := &t.procs[i]
		if c.parent == p.pid {
			c.parent = 1
			reparented = true
		}
	}
	parent := t.findProc(p.parent)
	init := t.findProc(1)
	t.lk.Release(h)

	if parent != nil {
		t.Wakeup(parent)
	}
	// spec.md §4.12: reparenting a child to init must also wake init, or
	// a grandchild that is already ZOMBIE at the moment its parent exits
	// can sit unreaped until init wakes for some unrelated reason.
	if reparented && init != nil {
		t.Wakeup(init)
	}

	p.lk.Acquire(h)
	p.exitCode = code
	p.state = ZOMBIE
	p.sched()
	defs.Fatal("proc: zombie process %d resumed", p.pid)
}
