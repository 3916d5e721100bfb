package syscall

import (
	"sv39kernel/file"
	"sv39kernel/fs"
	"sv39kernel/mmap"
	"sv39kernel/riscv"
	"sv39kernel/sleeplock"
	"sv39kernel/stat"
	"sv39kernel/ustr"
	"sv39kernel/vm"
)

func schedOf(p Proc_i) sleeplock.Sleeper_i { return p.Sched() }
func pidOf(p Proc_i) int                   { return p.Pid() }

const maxPathLen = 128

// readPath decodes a NUL-terminated path argument out of user memory at
// uaddr (spec.md §6: "path/fd/buf/len/offset/whence as applicable").
func readPath(p Proc_i, uaddr uint64) (ustr.Ustr, bool) {
	buf, ok := vm.CopyInStr(p.Hart(), p.Phys(), p.Pagetable(), uaddr, maxPathLen)
	if !ok {
		return nil, false
	}
	return ustr.Ustr(buf), true
}

// sysFork — args: none. Returns child pid in parent, 0 in child (per
// proc.Fork's contract, which sets the child's own trapframe a0=0 before
// it ever runs), −1 on failure (spec.md §6).
func sysFork(p Proc_i) (uint64, bool) {
	pid, ok := p.Fork()
	if !ok {
		return 0, false
	}
	return uint64(pid), true
}

// sysExec — args: a0=path, a1=argv (user pointer array, NUL-terminated by
// a zero pointer entry). Returns argc or −1 (spec.md §6).
func sysExec(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	path, ok := readPath(p, tf.A0)
	if !ok {
		return 0, false
	}
	var argv []string
	argvUaddr := tf.A1
	for i := 0; i < 64; i++ {
		var ptrBuf [8]uint8
		vm.CopyIn(p.Hart(), p.Phys(), p.Pagetable(), ptrBuf[:], argvUaddr+uint64(i*8))
		uptr := uint64(0)
		for j := 7; j >= 0; j-- {
			uptr = uptr<<8 | uint64(ptrBuf[j])
		}
		if uptr == 0 {
			break
		}
		s, ok := vm.CopyInStr(p.Hart(), p.Phys(), p.Pagetable(), uptr, maxPathLen)
		if !ok {
			return 0, false
		}
		argv = append(argv, string(s))
	}
	argc, ok := p.Exec(path.String(), argv)
	if !ok {
		return 0, false
	}
	return uint64(argc), true
}

// sysWait — args: a0=user address to receive the exit code. Returns pid
// or −1 (spec.md §6, §4.12).
func sysWait(p Proc_i) (uint64, bool) {
	pid, ok := p.Wait(p.Trapframe().A0)
	if !ok {
		return 0, false
	}
	return uint64(pid), true
}

// sysExit — args: a0=exit code. Never returns to the caller (spec.md
// §4.12): p.ExitProc itself calls sched and the process's goroutine never
// resumes, so there is no return value to write — Dispatch's post-call
// tf write is harmless but unobserved.
func sysExit(p Proc_i) (uint64, bool) {
	p.ExitProc(int(int64(p.Trapframe().A0)))
	return 0, true
}

// sysSleep — args: a0=seconds. Returns 0, or −1 if interrupted (this
// kernel never interrupts a sleeping process, spec.md §5 "Cancellation",
// so this always succeeds).
func sysSleep(p Proc_i) (uint64, bool) {
	ok := p.SleepSeconds(int(p.Trapframe().A0))
	if !ok {
		return 0, false
	}
	return 0, true
}

// sysBrk — args: a0=new_top (0 = query, per spec.md §9's noted ambiguity:
// this implementation resolves it as "0 always means query," so a
// process can never intentionally shrink its heap to address zero — the
// only way to reach zero bytes of heap is never to have grown it).
// Returns new top or −1.
func sysBrk(p Proc_i) (uint64, bool) {
	newTop := p.Trapframe().A0
	cur := p.HeapTop()
	if newTop == 0 {
		return cur, true
	}
	if newTop == cur {
		return cur, true
	}
	if newTop > cur {
		top, ok := p.GrowHeap(int(newTop - cur))
		if !ok {
			return 0, false
		}
		return top, true
	}
	return p.ShrinkHeap(int(cur - newTop)), true
}

// sysMmap — args: a0=start (0 = any... this kernel requires an explicit
// free-list placement, so start==0 is rejected rather than guessed, since
// spec.md's mmap_region list has no "find anywhere" search — only
// start-rooted Mmap calls. a1=len). Returns addr or −1.
func sysMmap(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	start, length := tf.A0, tf.A1
	if start == 0 || length == 0 {
		return 0, false
	}
	const pgsize = uint64(4096)
	if start%pgsize != 0 || length%pgsize != 0 {
		return 0, false
	}
	npages := int(length / pgsize)
	perm := riscv.PTE_R | riscv.PTE_W | riscv.PTE_U | riscv.PTE_V
	if !mmap.Mmap(p.Hart(), p.MmapPool(), p.Phys(), p.MmapList(), p.Pagetable(), start, npages, perm) {
		return 0, false
	}
	return start, true
}

// sysMunmap — args: a0=start, a1=len. Returns 0 or −1.
func sysMunmap(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	start, length := tf.A0, tf.A1
	const pgsize = uint64(4096)
	if start%pgsize != 0 || length%pgsize != 0 || length == 0 {
		return 0, false
	}
	mmap.Munmap(p.Hart(), p.MmapPool(), p.Phys(), p.MmapList(), p.Pagetable(), start, int(length/pgsize))
	return 0, true
}

// sysOpen — args: a0=path, a1=mode (defs.O_RDONLY/O_WRONLY/O_RDWR,
// optionally | defs.O_CREAT). Returns fd or −1.
func sysOpen(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	path, ok := readPath(p, tf.A0)
	if !ok {
		return 0, false
	}
	mode := file.ModeFromOpenFlags(int(tf.A1))
	f, ok := p.Ftable().Open(p.Hart(), schedOf(p), pidOf(p), p.Fsys(), path, p.Cwd(), mode)
	if !ok {
		return 0, false
	}
	fd, ok := p.AllocFd(f)
	if !ok {
		p.Ftable().Close(p.Hart(), schedOf(p), pidOf(p), p.Fsys(), f)
		return 0, false
	}
	return uint64(fd), true
}

// sysClose — args: a0=fd. Returns 0 or −1.
func sysClose(p Proc_i) (uint64, bool) {
	if !p.CloseFile(int(p.Trapframe().A0)) {
		return 0, false
	}
	return 0, true
}

// sysRead — args: a0=fd, a1=buf, a2=len. Returns bytes read or −1.
func sysRead(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	f, ok := p.GetFile(int(tf.A0))
	if !ok {
		return 0, false
	}
	n := file.ReadUser(p.Hart(), p.Phys(), p.Pagetable(), schedOf(p), pidOf(p), p.Devtable(), p.Fsys(), f, tf.A1, uint32(tf.A2))
	return uint64(n), true
}

// sysWrite — args: a0=fd, a1=buf, a2=len. Returns bytes written or −1.
func sysWrite(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	f, ok := p.GetFile(int(tf.A0))
	if !ok {
		return 0, false
	}
	n := file.WriteUser(p.Hart(), p.Phys(), p.Pagetable(), schedOf(p), pidOf(p), p.Devtable(), p.Fsys(), f, tf.A1, uint32(tf.A2))
	return uint64(n), true
}

// sysLseek — args: a0=fd, a1=offset, a2=whence. Returns new offset or −1.
func sysLseek(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	f, ok := p.GetFile(int(tf.A0))
	if !ok {
		return 0, false
	}
	off, ok := file.Lseek(p.Hart(), schedOf(p), pidOf(p), p.Fsys(), f, uint32(tf.A1), int(tf.A2))
	if !ok {
		return 0, false
	}
	return uint64(off), true
}

// sysDup — args: a0=fd. Returns new fd or −1.
func sysDup(p Proc_i) (uint64, bool) {
	f, ok := p.GetFile(int(p.Trapframe().A0))
	if !ok {
		return 0, false
	}
	dup := p.Ftable().Dup(p.Hart(), f)
	fd, ok := p.AllocFd(dup)
	if !ok {
		return 0, false
	}
	return uint64(fd), true
}

// sysFstat — args: a0=fd, a1=user buf for struct stat. Returns 0 on
// success (spec.md §9 resolves the "fstat returns −1 on success" source
// bug the other way), −1 on failure.
func sysFstat(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	f, ok := p.GetFile(int(tf.A0))
	if !ok {
		return 0, false
	}
	var st stat.Stat_t
	if !file.Stat(p.Hart(), schedOf(p), pidOf(p), p.Fsys(), f, &st) {
		return 0, false
	}
	vm.CopyOut(p.Hart(), p.Phys(), p.Pagetable(), tf.A1, st.Bytes())
	return 0, true
}

// sysGetdir — args: a0=fd (must be a directory), a1=user buf, a2=len.
// Returns bytes copied or −1.
func sysGetdir(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	f, ok := p.GetFile(int(tf.A0))
	if !ok {
		return 0, false
	}
	buf := make([]uint8, tf.A2)
	n := file.ReadKernel(p.Hart(), schedOf(p), pidOf(p), p.Devtable(), p.Fsys(), f, buf)
	if n > 0 {
		vm.CopyOut(p.Hart(), p.Phys(), p.Pagetable(), tf.A1, buf[:n])
	}
	return uint64(n), true
}

func createDir(p Proc_i, path ustr.Ustr) (*fs.Inode_t, bool) {
	return p.Fsys().CreateAt(p.Hart(), schedOf(p), pidOf(p), path, p.Cwd(), fs.T_DIR, 0, 0)
}

func releaseInode(p Proc_i, ip *fs.Inode_t) {
	fs.Free(p.Hart(), schedOf(p), pidOf(p), p.Fsys().Cache, p.Fsys().Sb, p.Fsys().It, ip)
}

// sysMkdir — args: a0=path. Returns 0 or −1.
func sysMkdir(p Proc_i) (uint64, bool) {
	path, ok := readPath(p, p.Trapframe().A0)
	if !ok {
		return 0, false
	}
	ip, ok := createDir(p, path)
	if !ok {
		return 0, false
	}
	releaseInode(p, ip)
	return 0, true
}

// sysChdir — args: a0=path. Returns 0 or −1. Rejects a path that resolves
// to anything but a directory (_examples/original_source/kernel/fs/dir.c's
// dir_change does the same ip->type != FT_DIR check) — accepting any
// inode here would corrupt the cwd and fail every later relative lookup
// in searchInode's own directory-type check instead.
func sysChdir(p Proc_i) (uint64, bool) {
	path, ok := readPath(p, p.Trapframe().A0)
	if !ok {
		return 0, false
	}
	ip, ok := p.Fsys().PathToInode(p.Hart(), schedOf(p), pidOf(p), path, p.Cwd())
	if !ok {
		return 0, false
	}
	if ip.Type != fs.T_DIR {
		releaseInode(p, ip)
		return 0, false
	}
	p.SetCwd(ip)
	return 0, true
}

// sysLink — args: a0=old path, a1=new path. Returns 0 or −1.
func sysLink(p Proc_i) (uint64, bool) {
	tf := p.Trapframe()
	oldPath, ok := readPath(p, tf.A0)
	if !ok {
		return 0, false
	}
	newPath, ok := readPath(p, tf.A1)
	if !ok {
		return 0, false
	}
	if !p.Fsys().Link(p.Hart(), schedOf(p), pidOf(p), oldPath, newPath, p.Cwd()) {
		return 0, false
	}
	return 0, true
}

// sysUnlink — args: a0=path. Returns 0 or −1.
func sysUnlink(p Proc_i) (uint64, bool) {
	path, ok := readPath(p, p.Trapframe().A0)
	if !ok {
		return 0, false
	}
	if !p.Fsys().Unlink(p.Hart(), schedOf(p), pidOf(p), path, p.Cwd()) {
		return 0, false
	}
	return 0, true
}
