package vm

import (
	"bytes"
	"testing"

	"sv39kernel/mem"
	"sv39kernel/riscv"
	"sv39kernel/spinlock"
)

func newHart() *spinlock.Hart_t { return &spinlock.Hart_t{Id: 0, IntEna: true} }

func TestCopyInOutRoundtrip(t *testing.T) {
	h := newHart()
	phys := mem.Phys_init(64, 16)
	root, ok := NewPagetable(h, phys)
	if !ok {
		t.Fatal("root alloc failed")
	}
	top, ok := HeapGrow(h, phys, root, riscv.USER_BASE, riscv.PGSIZE*2)
	if !ok {
		t.Fatal("heap grow failed")
	}

	want := bytes.Repeat([]byte("x"), 100)
	uaddr := riscv.USER_BASE + 10
	CopyOut(h, phys, root, uaddr, want)

	got := make([]byte, 100)
	CopyIn(h, phys, root, got, uaddr)
	if !bytes.Equal(want, got) {
		t.Fatalf("roundtrip mismatch")
	}
	_ = top
}

func TestCopyInStrStopsAtNul(t *testing.T) {
	h := newHart()
	phys := mem.Phys_init(64, 16)
	root, _ := NewPagetable(h, phys)
	_, ok := HeapGrow(h, phys, root, riscv.USER_BASE, riscv.PGSIZE)
	if !ok {
		t.Fatal("heap grow failed")
	}

	msg := append([]byte("hello"), 0, 'X')
	CopyOut(h, phys, root, riscv.USER_BASE, msg)

	got, ok := CopyInStr(h, phys, root, riscv.USER_BASE, 64)
	if !ok || string(got) != "hello" {
		t.Fatalf("expected \"hello\", got %q ok=%v", got, ok)
	}
}

func TestHeapGrowUngrowRoundtrip(t *testing.T) {
	h := newHart()
	phys := mem.Phys_init(64, 16)
	root, _ := NewPagetable(h, phys)
	before := phys.Nfree(h, false)

	top, ok := HeapGrow(h, phys, root, riscv.USER_BASE, riscv.PGSIZE*3)
	if !ok {
		t.Fatal("grow failed")
	}
	if phys.Nfree(h, false) != before-3 {
		t.Fatalf("expected 3 user frames consumed")
	}

	top = HeapUngrow(h, phys, root, top, riscv.PGSIZE*3)
	if top != riscv.USER_BASE {
		t.Fatalf("expected top back at USER_BASE, got %#x", top)
	}
	if phys.Nfree(h, false) != before {
		t.Fatalf("expected all user frames reclaimed")
	}
}

func TestHeapGrowRespectsTrapframeCeiling(t *testing.T) {
	h := newHart()
	phys := mem.Phys_init(64, 16)
	root, _ := NewPagetable(h, phys)

	huge := int(riscv.TRAPFRAME) - int(riscv.USER_BASE) + riscv.PGSIZE
	_, ok := HeapGrow(h, phys, root, riscv.USER_BASE, huge)
	if ok {
		t.Fatal("expected HeapGrow to reject a request crossing into the trapframe")
	}
}

func TestCopyAddressSpaceDuplicatesContents(t *testing.T) {
	h := newHart()
	phys := mem.Phys_init(128, 32)
	src, _ := NewPagetable(h, phys)
	dst, _ := NewPagetable(h, phys)

	top, ok := HeapGrow(h, phys, src, riscv.USER_BASE, riscv.PGSIZE*2)
	if !ok {
		t.Fatal("heap grow failed")
	}
	CopyOut(h, phys, src, riscv.USER_BASE, []byte("payload"))

	if !CopyAddressSpace(h, phys, src, dst, top, 1) {
		t.Fatal("copy address space failed")
	}

	got := make([]byte, 7)
	CopyIn(h, phys, dst, got, riscv.USER_BASE)
	if string(got) != "payload" {
		t.Fatalf("expected duplicated contents, got %q", got)
	}

	// mutating src after the copy must not affect dst
	CopyOut(h, phys, src, riscv.USER_BASE, []byte("mutated"))
	CopyIn(h, phys, dst, got, riscv.USER_BASE)
	if string(got) != "payload" {
		t.Fatalf("expected dst isolated from src mutation, got %q", got)
	}
}
