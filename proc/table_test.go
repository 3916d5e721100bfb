package proc

import (
	"testing"
	"time"

	"sv39kernel/file"
	"sv39kernel/fs"
	"sv39kernel/mem"
	"sv39kernel/mmap"
	"sv39kernel/spinlock"
	"sv39kernel/syscall"
	"sv39kernel/trap"
	"sv39kernel/vm"
)

// noSched is a sleeplock.Sleeper_i for the single-hart filesystem setup
// in newTestTable, before the real Table_t (the real Sleeper_i) exists.
// Nothing contends for a sleeplock while only one hart is running, so
// Sleep should never actually be reached.
type noSched struct{}

func (noSched) Sleep(interface{}, *spinlock.Lock_t, *spinlock.Hart_t) {
	panic("proc test: unexpected sleep during filesystem setup")
}
func (noSched) Wakeup(interface{}) {}

// memDisk is an in-memory fs.Disk_i, mirroring fs's own test fake since
// fs_test.go's is private to package fs.
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

// newTestTable assembles a one-hart process table over a freshly
// formatted in-memory filesystem — the same pieces boot.Boot wires
// together, minus the disk image and the multi-hart fan-out.
func newTestTable(t *testing.T) (*Table_t, *spinlock.Hart_t) {
	t.Helper()
	h := &spinlock.Hart_t{Id: 0, IntEna: true}
	disk := newMemDisk()
	fsys := fs.Format(h, noSched{}, 0, disk, 8, 64, 4)

	phys := mem.Phys_init(512, 64)
	mmapPool := mmap.MkPool(64)
	ftable := file.MkFtable(32)
	devtable := file.MkDevtable()
	ticks := trap.MkTicks()
	syscalls := syscall.MkTable()

	table := MkTable(h, 8, 1, phys, mmapPool, fsys, ftable, devtable, ticks, syscalls)
	return table, h
}

// TestInitForkSleepWait covers spec.md §8's init fork/sleep scenario:
// init forks a child that sleeps a couple of ticks and exits with a
// known code, init waits for it, and observes both the reaped pid and
// the exit code written back into its own address space.
func TestInitForkSleepWait(t *testing.T) {
	table, h := newTestTable(t)

	type result struct {
		forkOK   bool
		childPid int
		waitOK   bool
		waitPid  int
		exitCode int32
	}
	done := make(chan result, 1)

	// Every descendant of init runs this same closure (fork() has no way
	// to hand the child a distinct body — it inherits the parent's), so
	// it branches on pid: 1 is always init/the parent, since allocProc
	// hands out pids starting at 1 and init is the first process made.
	body := func(p *Proc_t) {
		if p.Pid() != 1 {
			p.SleepSeconds(2)
			p.ExitProc(0)
			return
		}

		childPid, ok := p.Fork()
		if !ok {
			done <- result{forkOK: false}
			return
		}

		newTop, ok := p.GrowHeap(8)
		if !ok {
			done <- result{forkOK: true, childPid: childPid}
			return
		}
		uaddr := newTop - 8
		// sentinel: if wait() never writes the exit code back, this
		// survives and the test fails instead of reading a false zero.
		vm.CopyOut(p.Hart(), p.Phys(), p.Pagetable(), uaddr, []byte{0xFF, 0xFF, 0xFF, 0xFF})

		waitPid, waitOK := p.Wait(uaddr)

		var buf [4]byte
		vm.CopyIn(p.Hart(), p.Phys(), p.Pagetable(), buf[:], uaddr)
		code := int32(buf[0]) | int32(buf[1])<<8 | int32(buf[2])<<16 | int32(buf[3])<<24

		done <- result{
			forkOK:   true,
			childPid: childPid,
			waitOK:   waitOK,
			waitPid:  waitPid,
			exitCode: code,
		}
	}

	table.MakeFirst(h, body)

	// Scheduler never returns (spec.md §4.12); it outlives this test the
	// same documented way boot.Kernel_t.Stop() leaks it.
	go table.Scheduler(h)

	// A dedicated tick hart, never shared with h or its Scheduler/process
	// chain — see trap.Tick's doc comment and DESIGN.md.
	tickHart := &spinlock.Hart_t{Id: 0}
	stopTicking := make(chan struct{})
	defer close(stopTicking)
	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stopTicking:
				return
			case <-ticker.C:
				trap.Tick(tickHart, table.ticks, table)
			}
		}
	}()

	select {
	case r := <-done:
		if !r.forkOK {
			t.Fatal("fork failed")
		}
		if !r.waitOK {
			t.Fatal("wait reported no children, want the forked child")
		}
		if r.waitPid != r.childPid {
			t.Fatalf("wait returned pid %d, want forked child pid %d", r.waitPid, r.childPid)
		}
		if r.exitCode != 0 {
			t.Fatalf("observed exit code %d, want 0", r.exitCode)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for init to fork/sleep/wait")
	}
}
