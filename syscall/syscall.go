// Package syscall implements the syscall number table and dispatch of
// spec.md §4.11/§6, grounded on
// _examples/original_source/kernel/syscall/{syscall,sysfunc,sysproc}.c
// and biscuit's syscall dispatch idiom of one function per number. The
// dispatch table itself is a hashtable.Hashtable_t (package hashtable),
// matching spec.md §4.11's "looks up a fixed table" built once at boot and
// read lock-free by every hart's trap handler thereafter.
//
// syscall sits below package proc in spec.md §2's dependency order even
// though every handler needs "the current process" — the same decoupling
// sleeplock.Sleeper_i and trap.Hooks_i use. Proc_i names exactly the
// process-lifecycle operations (fork/exec/wait/exit/sleep) a handler
// needs that only the process table can perform; everything else
// (files, fs, vm, mmap) this package reaches directly since those
// packages sit below it too.
package syscall

import (
	"sv39kernel/file"
	"sv39kernel/fs"
	"sv39kernel/hashtable"
	"sv39kernel/mem"
	"sv39kernel/mmap"
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/trap"
	"sv39kernel/vm"
)

// Syscall numbers, a fixed enum per spec.md §6.
const (
	SYS_FORK int = iota + 1
	SYS_EXEC
	SYS_WAIT
	SYS_EXIT
	SYS_SLEEP
	SYS_BRK
	SYS_MMAP
	SYS_MUNMAP
	SYS_OPEN
	SYS_CLOSE
	SYS_READ
	SYS_WRITE
	SYS_LSEEK
	SYS_DUP
	SYS_FSTAT
	SYS_GETDIR
	SYS_MKDIR
	SYS_CHDIR
	SYS_LINK
	SYS_UNLINK
)

// Proc_i is the view of "the current process" a syscall handler needs.
// Package proc's *Proc_t satisfies it. Every method that could be a
// plain field access on the real type is exposed as one here so handlers
// stay free functions instead of proc.Proc_t methods, keeping the
// syscall table's registration list (MkTable) the single place that
// binds a number to a behavior.
type Proc_i interface {
	Trapframe() *trap.Trapframe_t
	Hart() *spinlock.Hart_t
	Phys() *mem.Physmem_t
	Pagetable() *vm.Pagetable_t
	HeapTop() uint64
	GrowHeap(length int) (uint64, bool)
	ShrinkHeap(length int) uint64
	MmapList() *mmap.List_t
	MmapPool() *mmap.Pool_t
	Fsys() *fs.Fs_t
	Ftable() *file.Ftable_t
	Devtable() *file.Devtable_t
	Cwd() *fs.Inode_t
	SetCwd(*fs.Inode_t)
	GetFile(fd int) (*file.File_t, bool)
	AllocFd(f *file.File_t) (int, bool)
	CloseFile(fd int) bool
	Pid() int
	Sched() sleeplock.Sleeper_i
	Fork() (int, bool)
	Exec(path string, argv []string) (int, bool)
	Wait(uaddr uint64) (int, bool)
	ExitProc(code int)
	SleepSeconds(n int) bool
}

// Handler is a syscall implementation: it reads whatever arguments it
// needs from p.Trapframe()'s a0..a5 and returns the value to place in a0
// (per spec.md §4.11, the dispatch loop performs that write, re-fetching
// the trapframe in case exec replaced it), or ok=false to write -1.
type Handler func(p Proc_i) (uint64, bool)

// Table_t is the dispatch table: a hashtable.Hashtable_t keyed by syscall
// number, populated once at boot (spec.md §4.11).
type Table_t struct {
	ht *hashtable.Hashtable_t
}

// MkTable builds and populates the syscall dispatch table.
func MkTable() *Table_t {
	t := &Table_t{ht: hashtable.MkHash(32)}
	reg := func(num int, h Handler) {
		if !t.ht.Set(num, h) {
			panic("syscall: duplicate syscall number registered")
		}
	}
	reg(SYS_FORK, sysFork)
	reg(SYS_EXEC, sysExec)
	reg(SYS_WAIT, sysWait)
	reg(SYS_EXIT, sysExit)
	reg(SYS_SLEEP, sysSleep)
	reg(SYS_BRK, sysBrk)
	reg(SYS_MMAP, sysMmap)
	reg(SYS_MUNMAP, sysMunmap)
	reg(SYS_OPEN, sysOpen)
	reg(SYS_CLOSE, sysClose)
	reg(SYS_READ, sysRead)
	reg(SYS_WRITE, sysWrite)
	reg(SYS_LSEEK, sysLseek)
	reg(SYS_DUP, sysDup)
	reg(SYS_FSTAT, sysFstat)
	reg(SYS_GETDIR, sysGetdir)
	reg(SYS_MKDIR, sysMkdir)
	reg(SYS_CHDIR, sysChdir)
	reg(SYS_LINK, sysLink)
	reg(SYS_UNLINK, sysUnlink)
	return t
}

// Dispatch reads the syscall number from a7, looks it up, calls the
// handler, and writes the result to a0 in the *current* trapframe
// pointer — re-fetched via p.Trapframe() after the call, since exec may
// have replaced it (spec.md §4.11). An unknown syscall number or a
// handler that reports failure both yield the user-visible -1 convention
// of spec.md §7.
func (t *Table_t) Dispatch(p Proc_i) {
	num := int(p.Trapframe().A7)
	v, ok := t.ht.Get(num)
	if !ok {
		p.Trapframe().A0 = uint64(int64(-1))
		return
	}
	h := v.(Handler)
	ret, ok := h(p)
	tf := p.Trapframe()
	if !ok {
		tf.A0 = uint64(int64(-1))
		return
	}
	tf.A0 = ret
}
