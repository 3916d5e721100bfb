// Package boot assembles the shared kernel state and brings every
// simulated hart online, the Go-native analogue of
// _examples/original_source/kernel/boot/main.c's two-phase startup: hart 0
// alone performs the one-time global setup, then every hart — 0 included —
// crosses a barrier together and starts scheduling (spec.md §9's "started
// barriers in boot"). Where the original spins a volatile flag
// (`while(started == 0);`), this package uses golang.org/x/sync/errgroup
// to coordinate the per-hart goroutines and to carry setup failures back
// to the caller.
package boot

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"

	"sv39kernel/defs"
	"sv39kernel/diskimg"
	"sv39kernel/file"
	"sv39kernel/fs"
	"sv39kernel/mem"
	"sv39kernel/mmap"
	"sv39kernel/proc"
	"sv39kernel/spinlock"
	"sv39kernel/syscall"
	"sv39kernel/trap"
)

// Config names everything boot needs to assemble one kernel instance.
type Config struct {
	Ncpu  int // simulated harts, one Scheduler goroutine each
	Nproc int // process table size
	Nfile int // open-file table size
	Nbuf  int // buffer cache size, in blocks
	Nmmap int // mmap node pool size

	TotalFrames  int // simulated physical memory, in pages
	KernelFrames int // of TotalFrames, reserved for the kernel pool

	DiskPath    string // host file backing the block device
	DiskBlocks  uint32
	InodeBlocks uint32 // only used when Format is true
	Format      bool   // true: lay down a fresh filesystem; false: mount an existing one

	TickInterval time.Duration // simulated timer-interrupt period; 0 disables it
	Init         func(p *proc.Proc_t)
}

// Kernel_t is everything Boot assembled: the shared resources plus one
// Hart_t and Scheduler goroutine per simulated CPU.
type Kernel_t struct {
	Phys  *mem.Physmem_t
	Disk  *diskimg.Disk_t
	Fsys  *fs.Fs_t
	Table *proc.Table_t
	Harts []*spinlock.Hart_t

	g      *errgroup.Group
	cancel context.CancelFunc
}

// bootSched satisfies sleeplock.Sleeper_i for the single-hart setup phase
// in Boot, before proc.Table_t (the real Sleeper_i) exists. Nothing
// contends for a sleeplock while only hart 0 is running, so Sleep should
// never actually be reached; Wakeup is a no-op for the same reason.
type bootSched struct{}

func (bootSched) Sleep(chan_ interface{}, lk *spinlock.Lock_t, h *spinlock.Hart_t) {
	defs.Fatal("boot: unexpected sleep during single-hart setup")
}
func (bootSched) Wakeup(chan_ interface{}) {}

// Boot performs hart 0's one-time setup (physical memory, the mounted or
// freshly formatted filesystem, the shared ftable/devtable/syscall/tick
// resources, the process table, and the first process), then starts one
// Scheduler goroutine per hart and, if cfg.TickInterval is nonzero, a
// goroutine standing in for the timer hardware (spec.md §1 Non-goals:
// the bootloader's machine-mode register setup is an external
// collaborator, but *something* must advance trap.Ticks_t for sleep(n) to
// ever wake up).
func Boot(ctx context.Context, cfg Config) (*Kernel_t, error) {
	disk, err := diskimg.Open(cfg.DiskPath, cfg.DiskBlocks)
	if err != nil {
		return nil, err
	}

	h0 := &spinlock.Hart_t{Id: 0}
	phys := mem.Phys_init(cfg.TotalFrames, cfg.KernelFrames)

	var fsys *fs.Fs_t
	if cfg.Format {
		fsys = fs.Format(h0, bootSched{}, 0, disk, cfg.Nbuf, cfg.DiskBlocks, cfg.InodeBlocks)
	} else {
		fsys = fs.Mount(h0, bootSched{}, 0, disk, cfg.Nbuf)
	}

	mmapPool := mmap.MkPool(cfg.Nmmap)
	ftable := file.MkFtable(cfg.Nfile)
	devtable := file.MkDevtable()
	ticks := trap.MkTicks()
	syscalls := syscall.MkTable()

	table := proc.MkTable(h0, cfg.Nproc, cfg.Ncpu, phys, mmapPool, fsys, ftable, devtable, ticks, syscalls)
	table.MakeFirst(h0, cfg.Init)

	harts := make([]*spinlock.Hart_t, cfg.Ncpu)
	harts[0] = h0
	for i := 1; i < cfg.Ncpu; i++ {
		harts[i] = &spinlock.Hart_t{Id: i}
	}

	runCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(runCtx)

	// The barrier itself: every hart, 0 included, only starts scheduling
	// once this point is reached together, matching the original's
	// started-flag rendezvous — here it's simply "every g.Go closure
	// begins after hart 0's setup above has already returned."
	for _, h := range harts {
		h := h
		g.Go(func() error {
			done := make(chan struct{})
			go func() {
				table.Scheduler(h)
				close(done)
			}()
			select {
			case <-gctx.Done():
			case <-done:
			}
			return nil
		})
	}

	if cfg.TickInterval > 0 {
		g.Go(func() error {
			// tickHart is its own Hart_t, never shared with a Scheduler
			// goroutine or a running process: this goroutine isn't a
			// hart's own trap handler, so it calls trap.Tick (bump +
			// wakeup only, no Yield) rather than TimerInterrupt, and
			// never touches h0 — see trap.Tick's doc comment.
			tickHart := &spinlock.Hart_t{Id: 0}
			t := time.NewTicker(cfg.TickInterval)
			defer t.Stop()
			for {
				select {
				case <-gctx.Done():
					return nil
				case <-t.C:
					trap.Tick(tickHart, ticks, table)
				}
			}
		})
	}

	return &Kernel_t{
		Phys:   phys,
		Disk:   disk,
		Fsys:   fsys,
		Table:  table,
		Harts:  harts,
		g:      g,
		cancel: cancel,
	}, nil
}

// Wait blocks until the kernel is shut down via Stop (or the context
// passed to Boot is canceled). Scheduler itself never returns, so under
// normal operation this blocks for the lifetime of the process.
func (k *Kernel_t) Wait() error {
	return k.g.Wait()
}

// Stop cancels the per-hart goroutines and the timer goroutine, waits for
// them to return, then closes the backing disk image. Each per-hart
// goroutine returns without joining the Scheduler loop it started:
// proc.Table_t.Scheduler has no stop signal, so those loops keep running
// after Stop returns. Intended for tests.
func (k *Kernel_t) Stop() error {
	k.cancel()
	k.g.Wait()
	return k.Disk.Close()
}
