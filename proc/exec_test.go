package proc

import (
	"testing"
	"time"

	"sv39kernel/fs"
	"sv39kernel/mmap"
	"sv39kernel/ustr"
	"sv39kernel/vm"
)

// TestExecPreservesOldAddressSpaceOnFailure covers spec.md §8 scenario 6:
// a failing exec() — whatever the reason — must leave the calling
// process's pagetable, heap top, and mmap arena exactly as they were.
func TestExecPreservesOldAddressSpaceOnFailure(t *testing.T) {
	table, h := newTestTable(t)

	type snapshot struct {
		pt      *vm.Pagetable_t
		heapTop uint64
		ml      *mmap.List_t
	}
	type caseResult struct {
		name   string
		before snapshot
		after  snapshot
		execOK bool
	}
	done := make(chan []caseResult, 1)

	body := func(p *Proc_t) {
		snap := func() snapshot {
			return snapshot{
				pt:      p.Pagetable(),
				heapTop: p.HeapTop(),
				ml:      p.MmapList(),
			}
		}

		var results []caseResult
		run := func(name, path string) {
			before := snap()
			_, ok := p.Exec(path, nil)
			results = append(results, caseResult{name: name, before: before, after: snap(), execOK: ok})
		}

		// case 1: the path doesn't resolve to anything at all.
		run("no-such-file", "/nope")

		// case 2: the path resolves, but to a directory, not a file.
		if dir, ok := p.Fsys().CreateAt(p.Hart(), p.Sched(), p.Pid(), ustr.Ustr("adir"), p.Cwd(), fs.T_DIR, 0, 0); ok {
			fs.Free(p.Hart(), p.Sched(), p.Pid(), p.Fsys().Cache, p.Fsys().Sb, p.Fsys().It, dir)
		}
		run("directory-not-a-file", "adir")

		// case 3: the path resolves to a regular file, but its contents
		// aren't a valid ELF image at all.
		if garbage, ok := p.Fsys().CreateAt(p.Hart(), p.Sched(), p.Pid(), ustr.Ustr("junk"), p.Cwd(), fs.T_FILE, 0, 0); ok {
			fs.Lock(p.Hart(), p.Sched(), p.Pid(), p.Fsys().Cache, p.Fsys().Sb, garbage)
			fs.WriteData(p.Hart(), p.Sched(), p.Pid(), p.Fsys().Cache, p.Fsys().Sb, garbage, 0, []byte("not an elf binary"))
			fs.Unlock(p.Hart(), p.Sched(), garbage)
			fs.Free(p.Hart(), p.Sched(), p.Pid(), p.Fsys().Cache, p.Fsys().Sb, p.Fsys().It, garbage)
		}
		run("invalid-elf-contents", "junk")

		done <- results
	}

	table.MakeFirst(h, body)
	go table.Scheduler(h)

	select {
	case results := <-done:
		for _, r := range results {
			if r.execOK {
				t.Fatalf("case %s: exec unexpectedly succeeded", r.name)
			}
			if r.after != r.before {
				t.Fatalf("case %s: address space changed on failed exec: before=%+v after=%+v", r.name, r.before, r.after)
			}
		}
	case <-time.After(5 * time.Second):
		t.Fatal("timed out running exec failure cases")
	}
}
