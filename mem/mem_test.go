package mem

import (
	"testing"

	"sv39kernel/spinlock"
)

func newHart() *spinlock.Hart_t { return &spinlock.Hart_t{Id: 0, IntEna: true} }

func TestAllocZeroed(t *testing.T) {
	h := newHart()
	m := Phys_init(8, 4)
	f, pa, ok := m.Alloc(h, true)
	if !ok {
		t.Fatal("alloc failed")
	}
	for _, b := range f {
		if b != 0 {
			t.Fatalf("allocated frame not zeroed")
		}
	}
	if pa%Pa_t(4096) != 0 {
		t.Fatalf("frame not page aligned: %x", pa)
	}
}

func TestFreePoisonsAndRoundtrips(t *testing.T) {
	h := newHart()
	m := Phys_init(4, 2)
	before := m.Nfree(h, false)
	f, _, ok := m.Alloc(h, false)
	if !ok {
		t.Fatal("alloc failed")
	}
	if m.Nfree(h, false) != before-1 {
		t.Fatalf("alloc did not shrink free list")
	}
	f[0] = 0x42
	m.Free(h, f, false)
	// the first 8 bytes now hold the free-list link; the rest is poisoned
	for i := 8; i < len(f); i++ {
		if f[i] != PoisonByte {
			t.Fatalf("freed frame not poisoned at byte %d: got %x", i, f[i])
		}
	}
	if m.Nfree(h, false) != before {
		t.Fatalf("free did not restore free list length")
	}
}

func TestPoolsAreDisjoint(t *testing.T) {
	h := newHart()
	m := Phys_init(4, 2)
	_, kpa, _ := m.Alloc(h, true)
	if m.user.inRange(kpa) {
		t.Fatalf("kernel frame falls within user pool range")
	}
}

func TestExhaustionReturnsFalse(t *testing.T) {
	h := newHart()
	m := Phys_init(2, 1)
	if _, _, ok := m.Alloc(h, true); !ok {
		t.Fatal("expected first kernel alloc to succeed")
	}
	if _, _, ok := m.Alloc(h, true); ok {
		t.Fatal("expected kernel pool exhaustion")
	}
}
