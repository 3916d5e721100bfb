// Command kernel boots a single instance of the simulated kernel (package
// boot) against a host-file disk image, the runnable counterpart to the
// original kernel's boot/main.c. It never exits under normal operation,
// the same way a real kernel's main() spins forever after scheduling
// starts.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"sv39kernel/boot"
	"sv39kernel/proc"
)

func main() {
	diskPath := flag.String("disk", "disk.img", "path to the host-backed disk image")
	format := flag.Bool("format", false, "lay down a fresh filesystem instead of mounting an existing one")
	ncpu := flag.Int("ncpu", 2, "number of simulated harts")
	nproc := flag.Int("nproc", 64, "process table size")
	totalFrames := flag.Int("memframes", 4096, "total simulated physical pages")
	kernelFrames := flag.Int("kernframes", 512, "physical pages reserved for the kernel pool")
	diskBlocks := flag.Uint("diskblocks", 16384, "disk image size in 4096-byte blocks")
	inodeBlocks := flag.Uint("inodeblocks", 200, "inode region size in blocks, only used with -format")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := boot.Config{
		Ncpu:         *ncpu,
		Nproc:        *nproc,
		Nfile:        *nproc * 4,
		Nbuf:         256,
		Nmmap:        1024,
		TotalFrames:  *totalFrames,
		KernelFrames: *kernelFrames,
		DiskPath:     *diskPath,
		DiskBlocks:   uint32(*diskBlocks),
		InodeBlocks:  uint32(*inodeBlocks),
		Format:       *format,
		TickInterval: 100 * time.Millisecond,
		Init:         initProgram,
	}

	k, err := boot.Boot(ctx, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "kernel: boot failed: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("kernel: booted, %d hart(s), disk=%s\n", cfg.Ncpu, cfg.DiskPath)
	if err := k.Wait(); err != nil {
		fmt.Fprintf(os.Stderr, "kernel: %v\n", err)
		os.Exit(1)
	}
}

// initProgram is the first process's body: since this kernel never
// executes user-mode RISC-V instructions (spec.md §9 treats the
// CPU fetch/execute loop as an external collaborator), init's "program" is
// simply to wait on every reparented zombie forever, the Go-closure
// equivalent of the embedded initcode in the original kernel.
func initProgram(p *proc.Proc_t) {
	for {
		if _, ok := p.Wait(0); !ok {
			p.SleepSeconds(1)
		}
	}
}
