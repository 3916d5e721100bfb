package syscall

import (
	"testing"

	"sv39kernel/defs"
	"sv39kernel/file"
	"sv39kernel/fs"
	"sv39kernel/mem"
	"sv39kernel/mmap"
	"sv39kernel/riscv"
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/trap"
	"sv39kernel/vm"
)

// noSched satisfies sleeplock.Sleeper_i for these single-hart handler
// tests; nothing here ever contends a sleeplock.
type noSched struct{}

func (noSched) Sleep(interface{}, *spinlock.Lock_t, *spinlock.Hart_t) {
	panic("syscall test: unexpected sleep")
}
func (noSched) Wakeup(interface{}) {}

// memDisk is an in-memory fs.Disk_i, the same fake fs_test.go and
// proc's table_test.go each carry privately for their own packages.
type memDisk struct {
	blocks map[int]*[fs.BSIZE]byte
}

func newMemDisk() *memDisk { return &memDisk{blocks: make(map[int]*[fs.BSIZE]byte)} }

func (d *memDisk) Start(req *fs.Bdev_req_t) bool {
	blk, ok := d.blocks[req.Block]
	if !ok {
		blk = &[fs.BSIZE]byte{}
		d.blocks[req.Block] = blk
	}
	switch req.Cmd {
	case fs.BDEV_READ:
		copy(req.Data, blk[:])
	case fs.BDEV_WRITE:
		copy(blk[:], req.Data)
	}
	close(req.AckCh)
	return true
}

// fakeProc implements Proc_i directly rather than via package proc's
// *Proc_t: proc imports syscall, so a test living in package syscall
// importing proc back would be a cycle. Every method that touches real
// kernel state (memory, the filesystem, open files) delegates to the
// same packages proc.Proc_t itself delegates to; the four
// process-lifecycle methods syscall never implements on its own
// (fork/wait/exit/sleep, which belong to the scheduler) are canned
// fields a test case sets directly.
type fakeProc struct {
	tf       *trap.Trapframe_t
	h        *spinlock.Hart_t
	phys     *mem.Physmem_t
	pt       *vm.Pagetable_t
	heapTop  uint64
	mmapList *mmap.List_t
	mmapPool *mmap.Pool_t
	fsys     *fs.Fs_t
	ftable   *file.Ftable_t
	devtable *file.Devtable_t
	cwd      *fs.Inode_t
	sched    sleeplock.Sleeper_i
	pid      int
	ofile    [16]*file.File_t

	forkPid int
	forkOK  bool

	waitPid int
	waitOK  bool

	exitCalled bool
	exitCode   int

	sleepOK bool
}

func newFakeProc(t *testing.T) *fakeProc {
	t.Helper()
	h := &spinlock.Hart_t{Id: 0, IntEna: true}
	fsys := fs.Format(h, noSched{}, 1, newMemDisk(), 8, 64, 4)
	phys := mem.Phys_init(256, 32)

	pt, ok := vm.NewPagetable(h, phys)
	if !ok {
		t.Fatal("fakeProc: out of kernel frames for root pagetable")
	}
	// One user-accessible scratch page at USER_BASE for path strings and
	// read/write buffers; the heap starts well above it so GrowHeap maps
	// fresh pages of its own rather than colliding with this one.
	_, pa, ok := phys.Alloc(h, false)
	if !ok {
		t.Fatal("fakeProc: out of frames for scratch page")
	}
	if !vm.MapRange(h, phys, pt, riscv.USER_BASE, uint64(pa), riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W|riscv.PTE_U|riscv.PTE_V) {
		t.Fatal("fakeProc: failed to map scratch page")
	}

	mmapPool := mmap.MkPool(16)
	arenaPages := int((riscv.MMAP_END - riscv.MMAP_BEGIN) / uint64(riscv.PGSIZE))
	ml, ok := mmap.Init(h, mmapPool, riscv.MMAP_BEGIN, arenaPages)
	if !ok {
		t.Fatal("fakeProc: failed to init mmap arena")
	}

	return &fakeProc{
		tf:       &trap.Trapframe_t{},
		h:        h,
		phys:     phys,
		pt:       pt,
		heapTop:  riscv.USER_BASE + uint64(16*riscv.PGSIZE),
		mmapList: ml,
		mmapPool: mmapPool,
		fsys:     fsys,
		ftable:   file.MkFtable(8),
		devtable: file.MkDevtable(),
		cwd:      fsys.RootInode(h),
		sched:    noSched{},
		pid:      1,
	}
}

func (p *fakeProc) Trapframe() *trap.Trapframe_t  { return p.tf }
func (p *fakeProc) Hart() *spinlock.Hart_t         { return p.h }
func (p *fakeProc) Phys() *mem.Physmem_t           { return p.phys }
func (p *fakeProc) Pagetable() *vm.Pagetable_t     { return p.pt }
func (p *fakeProc) HeapTop() uint64                { return p.heapTop }
func (p *fakeProc) MmapList() *mmap.List_t         { return p.mmapList }
func (p *fakeProc) MmapPool() *mmap.Pool_t         { return p.mmapPool }
func (p *fakeProc) Fsys() *fs.Fs_t                 { return p.fsys }
func (p *fakeProc) Ftable() *file.Ftable_t         { return p.ftable }
func (p *fakeProc) Devtable() *file.Devtable_t     { return p.devtable }
func (p *fakeProc) Cwd() *fs.Inode_t               { return p.cwd }
func (p *fakeProc) SetCwd(ip *fs.Inode_t)          { p.cwd = ip }
func (p *fakeProc) Pid() int                       { return p.pid }
func (p *fakeProc) Sched() sleeplock.Sleeper_i      { return p.sched }

func (p *fakeProc) GrowHeap(length int) (uint64, bool) {
	top, ok := vm.HeapGrow(p.h, p.phys, p.pt, p.heapTop, length)
	if !ok {
		return 0, false
	}
	p.heapTop = top
	return top, true
}

func (p *fakeProc) ShrinkHeap(length int) uint64 {
	p.heapTop = vm.HeapUngrow(p.h, p.phys, p.pt, p.heapTop, length)
	return p.heapTop
}

func (p *fakeProc) GetFile(fd int) (*file.File_t, bool) {
	if fd < 0 || fd >= len(p.ofile) || p.ofile[fd] == nil {
		return nil, false
	}
	return p.ofile[fd], true
}

func (p *fakeProc) AllocFd(f *file.File_t) (int, bool) {
	for i := range p.ofile {
		if p.ofile[i] == nil {
			p.ofile[i] = f
			return i, true
		}
	}
	return 0, false
}

func (p *fakeProc) CloseFile(fd int) bool {
	f, ok := p.GetFile(fd)
	if !ok {
		return false
	}
	p.ftable.Close(p.h, p.sched, p.pid, p.fsys, f)
	p.ofile[fd] = nil
	return true
}

func (p *fakeProc) Fork() (int, bool)                        { return p.forkPid, p.forkOK }
func (p *fakeProc) Exec(path string, argv []string) (int, bool) { panic("fakeProc: Exec not exercised by these handler tests") }
func (p *fakeProc) Wait(uaddr uint64) (int, bool)             { return p.waitPid, p.waitOK }
func (p *fakeProc) ExitProc(code int)                         { p.exitCalled, p.exitCode = true, code }
func (p *fakeProc) SleepSeconds(n int) bool                   { return p.sleepOK }

// putUserBytes copies b into the scratch page at USER_BASE+off, returning
// the user address it landed at.
func (p *fakeProc) putUserBytes(t *testing.T, off uint64, b []byte) uint64 {
	t.Helper()
	uaddr := riscv.USER_BASE + off
	vm.CopyOut(p.h, p.phys, p.pt, uaddr, b)
	return uaddr
}

func (p *fakeProc) putUserPath(t *testing.T, off uint64, path string) uint64 {
	t.Helper()
	return p.putUserBytes(t, off, append([]byte(path), 0))
}

func TestDispatchUnknownSyscallReturnsMinusOne(t *testing.T) {
	p := newFakeProc(t)
	table := MkTable()
	p.tf.A7 = 999999
	table.Dispatch(p)
	if p.tf.A0 != uint64(int64(-1)) {
		t.Fatalf("A0 = %#x, want -1", p.tf.A0)
	}
}

func TestDispatchForkSuccessAndFailure(t *testing.T) {
	p := newFakeProc(t)
	table := MkTable()

	p.forkOK, p.forkPid = true, 42
	p.tf.A7 = uint64(SYS_FORK)
	table.Dispatch(p)
	if p.tf.A0 != 42 {
		t.Fatalf("fork success: A0 = %d, want 42", p.tf.A0)
	}

	p.forkOK = false
	p.tf.A7 = uint64(SYS_FORK)
	table.Dispatch(p)
	if p.tf.A0 != uint64(int64(-1)) {
		t.Fatalf("fork failure: A0 = %#x, want -1", p.tf.A0)
	}
}

func TestDispatchSleepSuccessAndFailure(t *testing.T) {
	p := newFakeProc(t)
	table := MkTable()

	p.sleepOK = true
	p.tf.A7 = uint64(SYS_SLEEP)
	p.tf.A0 = 2
	table.Dispatch(p)
	if p.tf.A0 != 0 {
		t.Fatalf("sleep success: A0 = %d, want 0", p.tf.A0)
	}

	p.sleepOK = false
	p.tf.A7 = uint64(SYS_SLEEP)
	p.tf.A0 = 2
	table.Dispatch(p)
	if p.tf.A0 != uint64(int64(-1)) {
		t.Fatalf("sleep failure: A0 = %#x, want -1", p.tf.A0)
	}
}

// TestDispatchBrkQueryThenGrow exercises the documented "0 always means
// query" resolution of sysBrk's ambiguity, then a real growth that
// exercises vm.HeapGrow underneath it.
func TestDispatchBrkQueryThenGrow(t *testing.T) {
	p := newFakeProc(t)
	table := MkTable()
	startTop := p.heapTop

	p.tf.A7 = uint64(SYS_BRK)
	p.tf.A0 = 0
	table.Dispatch(p)
	if p.tf.A0 != startTop {
		t.Fatalf("brk query: A0 = %#x, want current heap top %#x", p.tf.A0, startTop)
	}
	if p.heapTop != startTop {
		t.Fatalf("brk query mutated heap top: now %#x, want unchanged %#x", p.heapTop, startTop)
	}

	newTop := startTop + uint64(riscv.PGSIZE)
	p.tf.A7 = uint64(SYS_BRK)
	p.tf.A0 = newTop
	table.Dispatch(p)
	if p.tf.A0 != newTop {
		t.Fatalf("brk grow: A0 = %#x, want new top %#x", p.tf.A0, newTop)
	}
	if p.heapTop != newTop {
		t.Fatalf("brk grow: fakeProc.heapTop = %#x, want %#x", p.heapTop, newTop)
	}
}

// TestDispatchMkdirOpenWriteReadRoundtrip drives sysMkdir, sysOpen
// (create), sysWrite, sysLseek, and sysRead through real fs/vm state —
// no canned results anywhere in this path.
func TestDispatchMkdirOpenWriteReadRoundtrip(t *testing.T) {
	p := newFakeProc(t)
	table := MkTable()

	dirPath := p.putUserPath(t, 0, "adir")
	p.tf.A7 = uint64(SYS_MKDIR)
	p.tf.A0 = dirPath
	table.Dispatch(p)
	if p.tf.A0 != 0 {
		t.Fatalf("mkdir: A0 = %#x, want 0", p.tf.A0)
	}

	filePath := p.putUserPath(t, 64, "afile")
	p.tf.A7 = uint64(SYS_OPEN)
	p.tf.A0 = filePath
	p.tf.A1 = uint64(defs.O_RDWR | defs.O_CREAT)
	table.Dispatch(p)
	fd := p.tf.A0
	if fd == uint64(int64(-1)) {
		t.Fatal("open: failed to create afile")
	}

	payload := []byte("hello kernel")
	bufAddr := p.putUserBytes(t, 128, payload)
	p.tf.A7 = uint64(SYS_WRITE)
	p.tf.A0 = fd
	p.tf.A1 = bufAddr
	p.tf.A2 = uint64(len(payload))
	table.Dispatch(p)
	if p.tf.A0 != uint64(len(payload)) {
		t.Fatalf("write: A0 = %d, want %d bytes written", p.tf.A0, len(payload))
	}

	p.tf.A7 = uint64(SYS_LSEEK)
	p.tf.A0 = fd
	p.tf.A1 = 0
	p.tf.A2 = uint64(file.LSEEK_SET)
	table.Dispatch(p)
	if p.tf.A0 != 0 {
		t.Fatalf("lseek: A0 = %d, want offset 0", p.tf.A0)
	}

	readAddr := riscv.USER_BASE + 256
	p.tf.A7 = uint64(SYS_READ)
	p.tf.A0 = fd
	p.tf.A1 = readAddr
	p.tf.A2 = uint64(len(payload))
	table.Dispatch(p)
	if p.tf.A0 != uint64(len(payload)) {
		t.Fatalf("read: A0 = %d, want %d bytes read", p.tf.A0, len(payload))
	}

	var got [12]byte
	vm.CopyIn(p.h, p.phys, p.pt, got[:], readAddr)
	if string(got[:]) != string(payload) {
		t.Fatalf("read back %q, want %q", got, payload)
	}

	// sysFstat resolves its documented "-1 on success" source bug the
	// other way: 0 on success.
	statAddr := riscv.USER_BASE + 512
	p.tf.A7 = uint64(SYS_FSTAT)
	p.tf.A0 = fd
	p.tf.A1 = statAddr
	table.Dispatch(p)
	if p.tf.A0 != 0 {
		t.Fatalf("fstat: A0 = %#x, want 0 on success", p.tf.A0)
	}

	p.tf.A7 = uint64(SYS_CLOSE)
	p.tf.A0 = fd
	table.Dispatch(p)
	if p.tf.A0 != 0 {
		t.Fatalf("close: A0 = %#x, want 0", p.tf.A0)
	}
}

func TestDispatchOpenMissingFileFails(t *testing.T) {
	p := newFakeProc(t)
	table := MkTable()

	path := p.putUserPath(t, 0, "nope")
	p.tf.A7 = uint64(SYS_OPEN)
	p.tf.A0 = path
	p.tf.A1 = uint64(defs.O_RDONLY)
	table.Dispatch(p)
	if p.tf.A0 != uint64(int64(-1)) {
		t.Fatalf("open nonexistent: A0 = %#x, want -1", p.tf.A0)
	}
}

func TestDispatchExitRecordsCodeOnFakeProc(t *testing.T) {
	p := newFakeProc(t)
	table := MkTable()

	p.tf.A7 = uint64(SYS_EXIT)
	p.tf.A0 = uint64(7)
	table.Dispatch(p)
	if !p.exitCalled || p.exitCode != 7 {
		t.Fatalf("exit: exitCalled=%v exitCode=%d, want true/7", p.exitCalled, p.exitCode)
	}
}

func TestDispatchWaitReportsNoChildren(t *testing.T) {
	p := newFakeProc(t)
	table := MkTable()

	p.waitOK = false
	addr := p.putUserBytes(t, 768, []byte{0, 0, 0, 0})
	p.tf.A7 = uint64(SYS_WAIT)
	p.tf.A0 = addr
	table.Dispatch(p)
	if p.tf.A0 != uint64(int64(-1)) {
		t.Fatalf("wait with no children: A0 = %#x, want -1", p.tf.A0)
	}

	p.waitOK, p.waitPid = true, 9
	table.Dispatch(p)
	if p.tf.A0 != 9 {
		t.Fatalf("wait success: A0 = %d, want child pid 9", p.tf.A0)
	}
}
