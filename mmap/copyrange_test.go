package mmap

import (
	"testing"

	"sv39kernel/riscv"
	"sv39kernel/vm"
)

func TestCopyMappedDuplicatesArenaContents(t *testing.T) {
	h, phys, pool, srcRoot, l := setup(t, 16)
	begin := riscv.MMAP_BEGIN
	perm := riscv.PTE_R | riscv.PTE_W | riscv.PTE_U

	if !Mmap(h, pool, phys, l, srcRoot, begin, 2, perm) {
		t.Fatal("mmap failed")
	}
	vm.CopyOut(h, phys, srcRoot, begin+P, []byte("arena"))

	dstRoot, ok := vm.NewPagetable(h, phys)
	if !ok {
		t.Fatal("dst root alloc failed")
	}
	if !CopyMapped(h, phys, l, srcRoot, dstRoot) {
		t.Fatal("copy mapped failed")
	}

	got := make([]byte, 5)
	vm.CopyIn(h, phys, dstRoot, got, begin+P)
	if string(got) != "arena" {
		t.Fatalf("dst arena page holds %q, want %q", got, "arena")
	}

	ranges := mappedRanges(l, riscv.MMAP_BEGIN, riscv.MMAP_BEGIN+16*P)
	if len(ranges) != 1 || ranges[0][0] != begin || ranges[0][1] != begin+2*P {
		t.Fatalf("unexpected mapped ranges %v", ranges)
	}
}
