package proc

import (
	"sv39kernel/file"
	"sv39kernel/fs"
	"sv39kernel/mem"
	"sv39kernel/mmap"
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/trap"
	"sv39kernel/vm"
)

// State_t is one of the five process states of spec.md §3/§4.12.
type State_t int

const (
	UNUSED State_t = iota
	USED
	RUNNABLE
	RUNNING
	SLEEPING
	ZOMBIE
)

// NOFILE bounds the per-process open-file array, matching spec.md §6's
// fixed per-process fd table.
const NOFILE = 16

// Proc_t is one process-table slot (spec.md §3 "Process"). Parent/child
// relationships are recorded by pid, not by pointer, per spec.md §9's
// "cyclic references are represented by index, not ownership" design
// note — the table is the sole owner of every Proc_t's lifetime.
type Proc_t struct {
	lk    *spinlock.Lock_t
	table *Table_t

	pid      int
	parent   int // pid of parent, 0 for init / reparented-to-init zombies
	state    State_t
	killed   bool

	pagetable   *vm.Pagetable_t
	tfFrame     *mem.Frame_t
	tfPa        mem.Pa_t
	tf          *trap.Trapframe_t
	heapTop     uint64
	ustackPages int
	mmapList    *mmap.List_t

	chan_    interface{} // rendezvous token while SLEEPING
	exitCode int

	cwd   *fs.Inode_t
	ofile [NOFILE]*file.File_t

	acct *Accnt_t

	hart *spinlock.Hart_t // the hart currently running this proc, if RUNNING

	resume chan *spinlock.Hart_t // scheduler -> proc: run on this hart
	parked chan struct{}         // proc -> scheduler: I've yielded/blocked

	body func(p *Proc_t) // the "program" this process executes, spec.md §9
}

// Pid returns the process's pid (spec.md §4.11's Proc_i.Pid()).
func (p *Proc_t) Pid() int { return p.pid }

// Acct returns a consistent (user-ns, system-ns) snapshot of the time
// this process has spent scheduled (Table_t.Scheduler's per-slice
// Utadd) and servicing syscalls (Table_t.DispatchSyscall's Finish),
// spec.md §3/§4's per-process CPU-time accounting.
func (p *Proc_t) Acct() (int64, int64) { return p.acct.Snapshot() }

// Trapframe returns the process's current trapframe.
func (p *Proc_t) Trapframe() *trap.Trapframe_t { return p.tf }

// Hart returns the hart this process is currently scheduled on.
func (p *Proc_t) Hart() *spinlock.Hart_t { return p.hart }

// Phys returns the kernel's physical memory manager.
func (p *Proc_t) Phys() *mem.Physmem_t { return p.table.phys }

// Pagetable returns the process's root page table.
func (p *Proc_t) Pagetable() *vm.Pagetable_t { return p.pagetable }

// HeapTop returns the current top of the process's heap.
func (p *Proc_t) HeapTop() uint64 { return p.heapTop }

// GrowHeap extends the heap by length bytes (sys_brk growth path).
func (p *Proc_t) GrowHeap(length int) (uint64, bool) {
	top, ok := vm.HeapGrow(p.hart, p.table.phys, p.pagetable, p.heapTop, length)
	if ok {
		p.heapTop = top
	}
	return p.heapTop, ok
}

// ShrinkHeap shrinks the heap by length bytes (sys_brk shrink path).
func (p *Proc_t) ShrinkHeap(length int) uint64 {
	p.heapTop = vm.HeapUngrow(p.hart, p.table.phys, p.pagetable, p.heapTop, length)
	return p.heapTop
}

// Cwd returns the process's current-directory inode.
func (p *Proc_t) Cwd() *fs.Inode_t { return p.cwd }

// SetCwd replaces the process's current-directory inode (sys_chdir),
// releasing the previous cwd's in-core reference first. The ground-truth
// dir_change (_examples/original_source/kernel/fs/dir.c) does the same
// via inode_free(old); skipping it leaks one inode-cache slot per chdir
// until Alloc panics with the cache exhausted.
func (p *Proc_t) SetCwd(ip *fs.Inode_t) {
	if p.cwd != nil {
		fs.Free(p.hart, p.table, p.pid, p.table.fsys.Cache, p.table.fsys.Sb, p.table.fsys.It, p.cwd)
	}
	p.cwd = ip
}

// MmapList returns the process's anonymous-mmap free-interval list.
func (p *Proc_t) MmapList() *mmap.List_t { return p.mmapList }

// MmapPool returns the global mmap node pool the table was built with.
func (p *Proc_t) MmapPool() *mmap.Pool_t { return p.table.mmapPool }

// Fsys returns the mounted filesystem.
func (p *Proc_t) Fsys() *fs.Fs_t { return p.table.fsys }

// Ftable returns the shared open-file table.
func (p *Proc_t) Ftable() *file.Ftable_t { return p.table.ftable }

// Devtable returns the shared device-dispatch table.
func (p *Proc_t) Devtable() *file.Devtable_t { return p.table.devtable }

// GetFile looks up an open file by fd in this process's private fd table.
func (p *Proc_t) GetFile(fd int) (*file.File_t, bool) {
	if fd < 0 || fd >= NOFILE || p.ofile[fd] == nil {
		return nil, false
	}
	return p.ofile[fd], true
}

// AllocFd installs f in the lowest-numbered free fd slot.
func (p *Proc_t) AllocFd(f *file.File_t) (int, bool) {
	for i := 0; i < NOFILE; i++ {
		if p.ofile[i] == nil {
			p.ofile[i] = f
			return i, true
		}
	}
	return 0, false
}

// CloseFile closes the file at fd, per spec.md §4.10.
func (p *Proc_t) CloseFile(fd int) bool {
	f, ok := p.GetFile(fd)
	if !ok {
		return false
	}
	p.table.ftable.Close(p.hart, p.table, p.pid, p.table.fsys, f)
	p.ofile[fd] = nil
	return true
}

// Sched returns the table as the sleeplock.Sleeper_i every sleeplock this
// process's syscall path acquires should use — package proc is the sole
// implementer of Sleeper_i, as sleeplock's own doc comment describes.
func (p *Proc_t) Sched() sleeplock.Sleeper_i { return p.table }

// Fork implements sys_fork (spec.md §4.12).
func (p *Proc_t) Fork() (int, bool) { return p.table.fork(p) }

// Exec implements sys_exec (spec.md §4.12).
func (p *Proc_t) Exec(path string, argv []string) (int, bool) { return p.table.exec(p, path, argv) }

// Wait implements sys_wait (spec.md §4.12).
func (p *Proc_t) Wait(uaddr uint64) (int, bool) { return p.table.wait(p, uaddr) }

// ExitProc implements sys_exit (spec.md §4.12); it never returns.
func (p *Proc_t) ExitProc(code int) { p.table.exit(p, code) }

// SleepSeconds blocks the calling process for n seconds of ticks (sys_sleep).
func (p *Proc_t) SleepSeconds(n int) bool { return p.table.sleepSeconds(p, n) }

// sched hands control of the calling goroutine back to the scheduler that
// last resumed it, then blocks until the scheduler resumes it again. The
// caller must hold p.lk and must have already set p.state to something
// other than RUNNING (spec.md §4.12's sched() precondition), modeling
// swtch() as a channel baton-pass instead of a register-save trampoline
// (spec.md §9 treats swtch's contract, not its instructions, as the
// specified behavior).
func (p *Proc_t) sched() {
	p.table.clearRunning(p.hart)
	p.parked <- struct{}{}
	h := <-p.resume
	p.hart = h
}
