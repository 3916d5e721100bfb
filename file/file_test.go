package file

import (
	"bytes"
	"testing"

	"sv39kernel/fs"
	"sv39kernel/spinlock"
	"sv39kernel/ustr"
)

func newHart() *spinlock.Hart_t { return &spinlock.Hart_t{Id: 0, IntEna: true} }

type noSched struct{}

func (noSched) Sleep(interface{}, *spinlock.Lock_t, *spinlock.Hart_t) {
	panic("file test: unexpected sleep")
}
func (noSched) Wakeup(interface{}) {}

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

func formatAndMount(t *testing.T, h *spinlock.Hart_t, sched noSched) *fs.Fs_t {
	t.Helper()
	return fs.Format(h, sched, 1, newMemDisk(), 8, 64, 2)
}

func TestOpenCreateReadWriteClose(t *testing.T) {
	h := newHart()
	var sched noSched
	fsys := formatAndMount(t, h, sched)
	cwd := fsys.RootInode(h)
	devs := MkDevtable()
	ft := MkFtable(8)

	f, ok := ft.Open(h, sched, 1, fsys, ustr.Ustr("hello"), cwd, MODE_READ|MODE_WRITE|MODE_CREATE)
	if !ok {
		t.Fatal("open/create failed")
	}
	want := []byte("hello, kernel")
	if n := WriteKernel(h, sched, 1, devs, fsys, f, want); n != uint32(len(want)) {
		t.Fatalf("write returned %d", n)
	}
	if _, ok := Lseek(h, sched, 1, fsys, f, 0, LSEEK_SET); !ok {
		t.Fatal("lseek failed")
	}
	got := make([]byte, len(want))
	if n := ReadKernel(h, sched, 1, devs, fsys, f, got); n != uint32(len(want)) || !bytes.Equal(got, want) {
		t.Fatalf("readback mismatch: %q", got)
	}
	ft.Close(h, sched, 1, fsys, f)
}

func TestOpenDirReadWriteRejected(t *testing.T) {
	h := newHart()
	var sched noSched
	fsys := formatAndMount(t, h, sched)
	cwd := fsys.RootInode(h)
	ft := MkFtable(8)

	if _, ok := ft.Open(h, sched, 1, fsys, ustr.Ustr("."), cwd, MODE_READ|MODE_WRITE); ok {
		t.Fatal("expected opening a directory read-write to fail")
	}
	f, ok := ft.Open(h, sched, 1, fsys, ustr.Ustr("."), cwd, MODE_READ)
	if !ok {
		t.Fatal("expected opening a directory read-only to succeed")
	}
	ft.Close(h, sched, 1, fsys, f)
}

func TestConsoleDeviceRoundtrip(t *testing.T) {
	h := newHart()
	var sched noSched
	fsys := formatAndMount(t, h, sched)
	cwd := fsys.RootInode(h)
	devs := MkDevtable()
	con := MkConsole()
	var sunk []byte
	con.Sink = func(b []byte) int { sunk = append(sunk, b...); return len(b) }
	devs.Register(1, con.Dev())
	ft := MkFtable(8)

	f, ok := ft.CreateDev(h, sched, 1, fsys, ustr.Ustr("console"), cwd, 1, 0)
	if !ok {
		t.Fatal("create console device failed")
	}
	con.Feed(h, []byte("ping"))
	buf := make([]byte, 4)
	if n := ReadKernel(h, sched, 1, devs, fsys, f, buf); n != 4 || string(buf) != "ping" {
		t.Fatalf("console read mismatch: %q", buf[:n])
	}
	if n := WriteKernel(h, sched, 1, devs, fsys, f, []byte("pong")); n != 4 {
		t.Fatalf("console write returned %d", n)
	}
	if string(sunk) != "pong" {
		t.Fatalf("sink got %q", sunk)
	}
	ft.Close(h, sched, 1, fsys, f)
}
