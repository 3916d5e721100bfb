package proc

import (
	"debug/elf"
	"io"

	"sv39kernel/fs"
	"sv39kernel/mem"
	"sv39kernel/mmap"
	"sv39kernel/riscv"
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/ustr"
	"sv39kernel/util"
	"sv39kernel/vm"
)

// inodeReaderAt adapts an inode's fs.ReadData into an io.ReaderAt so
// debug/elf.NewFile can random-access a program image the same way it
// would an os.File. The ELF header/section/segment layout is an external
// format spec.md §1 lists as a non-goal to redesign; debug/elf is the
// standard library's own reader for it, and nothing in the examples pack
// implements an alternative ELF parser to ground this on instead.
type inodeReaderAt struct {
	h     *spinlock.Hart_t
	sched sleeplock.Sleeper_i
	pid   int
	fsys  *fs.Fs_t
	ip    *fs.Inode_t
}

func (r *inodeReaderAt) ReadAt(p []byte, off int64) (int, error) {
	fs.Lock(r.h, r.sched, r.pid, r.fsys.Cache, r.fsys.Sb, r.ip)
	n := fs.ReadData(r.h, r.sched, r.pid, r.fsys.Cache, r.fsys.Sb, r.ip, uint32(off), p)
	fs.Unlock(r.h, r.sched, r.ip)
	if int(n) < len(p) {
		return int(n), io.EOF
	}
	return int(n), nil
}

// execBuild collects everything exec assembles before committing to the
// live process, so any failure can unwind it without touching p.
type execBuild struct {
	pt      *vm.Pagetable_t
	ml      *mmap.List_t
	heapTop uint64
	sp      uint64
	entry   uint64
	argc    int
	argv    uint64
}

// exec implements sys_exec (spec.md §4.12): build a brand new address
// space from path's ELF image, and only on full success replace the
// process's live pagetable/heapTop/mmapList/trapframe — any failure along
// the way leaves the existing address space completely untouched (spec.md
// §8 scenario 6, "Exec preserves old AS on failure").
func (t *Table_t) exec(p *Proc_t, path string, argv []string) (int, bool) {
	h := p.hart
	ip, ok := t.fsys.PathToInode(h, t, p.pid, ustr.Ustr(path), p.cwd)
	if !ok {
		return 0, false
	}
	fs.Lock(h, t, p.pid, t.fsys.Cache, t.fsys.Sb, ip)
	if ip.Type != fs.T_FILE {
		fs.UnlockFree(h, t, p.pid, t.fsys.Cache, t.fsys.Sb, t.fsys.It, ip)
		return 0, false
	}
	fs.Unlock(h, t, ip)
	defer fs.Free(h, t, p.pid, t.fsys.Cache, t.fsys.Sb, t.fsys.It, ip)

	r := &inodeReaderAt{h: h, sched: t, pid: p.pid, fsys: t.fsys, ip: ip}
	ef, err := elf.NewFile(r)
	if err != nil {
		return 0, false
	}
	if ef.Machine != elf.EM_RISCV || ef.Class != elf.ELFCLASS64 {
		return 0, false
	}

	b, ok := t.buildAddrspace(h, ef, r, argv)
	if !ok {
		return 0, false
	}

	// Nothing below here can fail: swap in the new address space and
	// retire the old one (spec.md §4.12's exec semantics).
	oldPt, oldMl := p.pagetable, p.mmapList
	p.pagetable = b.pt
	p.mmapList = b.ml
	p.heapTop = b.heapTop
	p.ustackPages = 1
	p.tf.Epc = b.entry
	p.tf.Sp = b.sp
	p.tf.A0 = uint64(b.argc)
	p.tf.A1 = b.argv

	vm.UnmapRange(h, t.phys, oldPt, riscv.TRAMPOLINE, riscv.PGSIZE, false)
	vm.UnmapRange(h, t.phys, oldPt, riscv.TRAPFRAME, riscv.PGSIZE, false)
	vm.DestroyAddressSpace(h, t.phys, oldPt)
	mmap.Destroy(h, t.mmapPool, oldMl)

	return b.argc, true
}

// buildAddrspace does all of exec's fallible work against a brand new
// pagetable, unwinding everything it allocated on any failure.
func (t *Table_t) buildAddrspace(h *spinlock.Hart_t, ef *elf.File, r io.ReaderAt, argv []string) (execBuild, bool) {
	newPt, ok := vm.NewPagetable(h, t.phys)
	if !ok {
		return execBuild{}, false
	}
	fail := func() (execBuild, bool) {
		vm.DestroyAddressSpace(h, t.phys, newPt)
		return execBuild{}, false
	}
	if !vm.MapRange(h, t.phys, newPt, riscv.TRAMPOLINE, uint64(t.trampolinePa), riscv.PGSIZE, riscv.PTE_R|riscv.PTE_X) {
		return fail()
	}

	var maxEnd uint64
	for _, prog := range ef.Progs {
		if prog.Type != elf.PT_LOAD {
			continue
		}
		if !loadSegment(h, t.phys, newPt, r, prog) {
			return fail()
		}
		end := util.Roundup(prog.Vaddr+prog.Memsz, uint64(riscv.PGSIZE))
		if end > maxEnd {
			maxEnd = end
		}
	}
	if maxEnd == 0 || maxEnd >= riscv.TRAPFRAME-2*uint64(riscv.PGSIZE) {
		return fail()
	}

	stackBase := riscv.TRAPFRAME - uint64(riscv.PGSIZE)
	stackFrame, stackPa, ok := t.phys.Alloc(h, false)
	if !ok {
		return fail()
	}
	if !vm.MapRange(h, t.phys, newPt, stackBase, uint64(stackPa), riscv.PGSIZE, riscv.PTE_R|riscv.PTE_W|riscv.PTE_U) {
		t.phys.Free(h, stackFrame, false)
		return fail()
	}

	sp, argvUaddr, ok := stageArgv(stackFrame, stackBase, argv)
	if !ok {
		return fail()
	}

	arenaPages := int((riscv.MMAP_END - riscv.MMAP_BEGIN) / uint64(riscv.PGSIZE))
	ml, ok := mmap.Init(h, t.mmapPool, riscv.MMAP_BEGIN, arenaPages)
	if !ok {
		return fail()
	}

	return execBuild{pt: newPt, ml: ml, heapTop: maxEnd, sp: sp, entry: ef.Entry, argc: len(argv), argv: argvUaddr}, true
}

// loadSegment copies one PT_LOAD program header's file bytes into fresh
// frames mapped at prog.Vaddr, zero-filling the bss tail out to Memsz
// (the file-backed .data/.bss split spec.md §1 treats as the loader's
// job, same as a real ELF loader's PT_LOAD handling).
func loadSegment(h *spinlock.Hart_t, phys *mem.Physmem_t, root *vm.Pagetable_t, r io.ReaderAt, prog *elf.Prog) bool {
	perm := riscv.PTE_U
	if prog.Flags&elf.PF_R != 0 {
		perm |= riscv.PTE_R
	}
	if prog.Flags&elf.PF_W != 0 {
		perm |= riscv.PTE_W
	}
	if prog.Flags&elf.PF_X != 0 {
		perm |= riscv.PTE_X
	}

	begin := util.Rounddown(prog.Vaddr, uint64(riscv.PGSIZE))
	end := util.Roundup(prog.Vaddr+prog.Memsz, uint64(riscv.PGSIZE))
	fileLo, fileHi := prog.Vaddr, prog.Vaddr+prog.Filesz

	for va := begin; va < end; va += uint64(riscv.PGSIZE) {
		frame, pa, ok := phys.Alloc(h, false)
		if !ok {
			return false
		}

		// intersect this page's VA range with the segment's file-backed
		// range; anything outside it is left zeroed (bss).
		lo := util.Max(va, fileLo)
		hi := util.Min(va+uint64(riscv.PGSIZE), fileHi)
		if hi > lo {
			frameOff := lo - va
			n := hi - lo
			srcOff := prog.Off + (lo - prog.Vaddr)
			if _, err := r.ReadAt(frame[frameOff:frameOff+n], int64(srcOff)); err != nil && err != io.EOF {
				phys.Free(h, frame, false)
				return false
			}
		}

		if !vm.MapRange(h, phys, root, va, uint64(pa), riscv.PGSIZE, perm|riscv.PTE_V) {
			phys.Free(h, frame, false)
			return false
		}
	}
	return true
}

// stageArgv writes argv's NUL-terminated strings and a trailing
// zero-terminated pointer array onto the top of the stack page,
// returning the resulting stack pointer (16-byte aligned) and the user
// address of the pointer array (spec.md §6's argv convention).
func stageArgv(stackFrame *mem.Frame_t, stackBase uint64, argv []string) (sp uint64, argvUaddr uint64, ok bool) {
	off := riscv.PGSIZE
	var ptrs []uint64
	for _, s := range argv {
		b := append([]byte(s), 0)
		off -= len(b)
		off = int(util.Rounddown(uint64(off), 8))
		if off < 0 {
			return 0, 0, false
		}
		copy(stackFrame[off:], b)
		ptrs = append(ptrs, stackBase+uint64(off))
	}
	off -= 8 // NULL terminator for argv array
	if off < 0 {
		return 0, 0, false
	}
	util.Writen(stackFrame[:], 8, off, 0)
	for i := len(ptrs) - 1; i >= 0; i-- {
		off -= 8
		if off < 0 {
			return 0, 0, false
		}
		util.Writen(stackFrame[:], 8, off, int(ptrs[i]))
	}
	argvUaddr = stackBase + uint64(off)
	off = int(util.Rounddown(uint64(off), 16))
	if off < 0 {
		return 0, 0, false
	}
	return stackBase + uint64(off), argvUaddr, true
}
