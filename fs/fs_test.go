package fs

import (
	"bytes"
	"testing"

	"sv39kernel/spinlock"
	"sv39kernel/ustr"
)

func newHart() *spinlock.Hart_t { return &spinlock.Hart_t{Id: 0, IntEna: true} }

// noSched is a sleeplock.Sleeper_i for single-threaded tests, where no
// sleeplock is ever contended so Sleep/Wakeup should never actually run.
type noSched struct{}

func (noSched) Sleep(interface{}, *spinlock.Lock_t, *spinlock.Hart_t) {
	panic("fs test: unexpected sleep")
}
func (noSched) Wakeup(interface{}) {}

// memDisk is an in-memory Disk_i backing for tests.
type memDisk struct {
	blocks map[int]*[BSIZE]byte
}

func newMemDisk() *memDisk { return &memDisk{blocks: make(map[int]*[BSIZE]byte)} }

func (d *memDisk) Start(req *Bdev_req_t) bool {
	blk, ok := d.blocks[req.Block]
	if !ok {
		blk = &[BSIZE]byte{}
		d.blocks[req.Block] = blk
	}
	switch req.Cmd {
	case BDEV_READ:
		copy(req.Data, blk[:])
	case BDEV_WRITE:
		copy(blk[:], req.Data)
	}
	close(req.AckCh)
	return true
}

// formatAndMount writes a minimal superblock plus an empty root
// directory inode (with "." and ".." seeded) directly onto disk, the
// way a standalone mkfs tool would, then mounts it the normal way.
func formatAndMount(t *testing.T, h *spinlock.Hart_t, sched noSched, totalBlocks uint32) (*Fs_t, *memDisk) {
	t.Helper()
	disk := newMemDisk()

	const (
		inodeBitmapStart = 1
		inodeBlocks      = 2
		inodeStart       = inodeBitmapStart + 1
		dataBitmapStart  = inodeStart + inodeBlocks
		dataStart        = dataBitmapStart + 1
	)

	var sb Superblock_t
	sb.SetMagic(FS_MAGIC)
	sb.SetBlockSize(BSIZE)
	sb.SetTotalBlocks(totalBlocks)
	sb.SetInodeBlocks(inodeBlocks)
	sb.SetDataBlocks(totalBlocks - dataStart)
	sb.SetInodeBitmapStart(inodeBitmapStart)
	sb.SetInodeStart(inodeStart)
	sb.SetDataBitmapStart(dataBitmapStart)
	sb.SetDataStart(dataStart)
	disk.blocks[SB_BLOCK_NUM] = &sb.raw

	// seed the root inode (inode number INODE_ROOT==1) directly: mark
	// bit 0 of the inode bitmap used, and write its dinode record.
	bitmapBlk := &[BSIZE]byte{}
	bitmapBlk[0] = 0x01
	disk.blocks[int(inodeBitmapStart)] = bitmapBlk

	rootBlk, idx := dinodeOffset(INODE_ROOT)
	inodeBlk := &[BSIZE]byte{}
	off := int(idx) * dinodeSize
	rec := inodeBlk[off : off+dinodeSize]
	writeRawDinode(rec, T_DIR, 0, 0, 1, [N_ADDRS]uint32{})
	disk.blocks[int(inodeStart+rootBlk)] = inodeBlk

	fsys := Mount(h, sched, 1, disk, 8)

	// seed "." and ".." now that we can use the normal inode API.
	root := fsys.RootInode(h)
	Lock(h, sched, 1, fsys.Cache, fsys.Sb, root)
	if !AddEntry(h, sched, 1, fsys.Cache, fsys.Sb, root, INODE_ROOT, ustr.MkUstrDot()) {
		t.Fatal("seed . failed")
	}
	if !AddEntry(h, sched, 1, fsys.Cache, fsys.Sb, root, INODE_ROOT, ustr.MkUstrDotDot()) {
		t.Fatal("seed .. failed")
	}
	root.Nlink = 2
	InodeRW(h, sched, 1, fsys.Cache, fsys.Sb, root, true)
	UnlockFree(h, sched, 1, fsys.Cache, fsys.Sb, fsys.It, root)

	return fsys, disk
}

func writeRawDinode(rec []byte, typ, major, minor, nlink uint16, addrs [N_ADDRS]uint32) {
	put16 := func(off int, v uint16) {
		rec[off] = byte(v)
		rec[off+1] = byte(v >> 8)
	}
	put16(0, typ)
	put16(2, major)
	put16(4, minor)
	put16(6, nlink)
	// size left zero
	for i, a := range addrs {
		o := 12 + i*4
		rec[o] = byte(a)
		rec[o+1] = byte(a >> 8)
		rec[o+2] = byte(a >> 16)
		rec[o+3] = byte(a >> 24)
	}
}

func TestMkdirCreateLinkUnlink(t *testing.T) {
	h := newHart()
	var sched noSched
	fsys, _ := formatAndMount(t, h, sched, 64)
	cwd := fsys.RootInode(h)

	dir, ok := fsys.CreateAt(h, sched, 1, ustr.Ustr("sub"), cwd, T_DIR, 0, 0)
	if !ok {
		t.Fatal("mkdir failed")
	}
	Free(h, sched, 1, fsys.Cache, fsys.Sb, fsys.It, dir)

	file, ok := fsys.CreateAt(h, sched, 1, ustr.Ustr("sub/f"), cwd, T_FILE, 0, 0)
	if !ok {
		t.Fatal("create file failed")
	}

	Lock(h, sched, 1, fsys.Cache, fsys.Sb, file)
	want := []byte("hello world")
	if n := WriteData(h, sched, 1, fsys.Cache, fsys.Sb, file, 0, want); n != uint32(len(want)) {
		t.Fatalf("write returned %d", n)
	}
	got := make([]byte, len(want))
	if n := ReadData(h, sched, 1, fsys.Cache, fsys.Sb, file, 0, got); n != uint32(len(want)) || !bytes.Equal(got, want) {
		t.Fatalf("readback mismatch: %q", got)
	}
	Unlock(h, sched, file)
	Free(h, sched, 1, fsys.Cache, fsys.Sb, fsys.It, file)

	if !fsys.Link(h, sched, 1, ustr.Ustr("sub/f"), ustr.Ustr("g"), cwd) {
		t.Fatal("link failed")
	}
	if !fsys.Unlink(h, sched, 1, ustr.Ustr("sub/f"), cwd) {
		t.Fatal("unlink of original name failed")
	}

	ip, ok := fsys.PathToInode(h, sched, 1, ustr.Ustr("g"), cwd)
	if !ok {
		t.Fatal("expected g to still resolve after unlinking sub/f")
	}
	Free(h, sched, 1, fsys.Cache, fsys.Sb, fsys.It, ip)

	// sub now holds only "." and ".." (f was removed from it above), so
	// it is empty and unlinkable even though the underlying file is
	// still reachable as "g".
	if !fsys.Unlink(h, sched, 1, ustr.Ustr("sub"), cwd) {
		t.Fatal("expected unlink of now-empty dir sub to succeed")
	}
}

func TestUnlinkRejectsDotAndNonEmptyDir(t *testing.T) {
	h := newHart()
	var sched noSched
	fsys, _ := formatAndMount(t, h, sched, 64)
	cwd := fsys.RootInode(h)

	if fsys.Unlink(h, sched, 1, ustr.Ustr("."), cwd) {
		t.Fatal("expected unlink(.) to fail")
	}

	dir, ok := fsys.CreateAt(h, sched, 1, ustr.Ustr("d"), cwd, T_DIR, 0, 0)
	if !ok {
		t.Fatal("mkdir failed")
	}
	Free(h, sched, 1, fsys.Cache, fsys.Sb, fsys.It, dir)

	if _, ok := fsys.CreateAt(h, sched, 1, ustr.Ustr("d/child"), cwd, T_FILE, 0, 0); !ok {
		t.Fatal("create child failed")
	}

	if fsys.Unlink(h, sched, 1, ustr.Ustr("d"), cwd) {
		t.Fatal("expected unlink of non-empty directory to fail")
	}
}

func TestLargeFileEntersDoubleIndirect(t *testing.T) {
	h := newHart()
	var sched noSched
	fsys, _ := formatAndMount(t, h, sched, 4096)
	cwd := fsys.RootInode(h)

	ip, ok := fsys.CreateAt(h, sched, 1, ustr.Ustr("big"), cwd, T_FILE, 0, 0)
	if !ok {
		t.Fatal("create failed")
	}
	Lock(h, sched, 1, fsys.Cache, fsys.Sb, ip)

	pattern := bytes.Repeat([]byte{0xAB}, BSIZE)
	offset := uint32(N_ADDRS_1+N_ADDRS_2*ENTRY_PER_BLOCK) * BSIZE

	if n := WriteData(h, sched, 1, fsys.Cache, fsys.Sb, ip, offset, pattern); n != BSIZE {
		t.Fatalf("write into double-indirect region returned %d", n)
	}
	got := make([]byte, BSIZE)
	if n := ReadData(h, sched, 1, fsys.Cache, fsys.Sb, ip, offset, got); n != BSIZE || !bytes.Equal(got, pattern) {
		t.Fatal("double-indirect readback mismatch")
	}

	FreeData(h, sched, 1, fsys.Cache, fsys.Sb, ip)
	if ip.Size != 0 || ip.Addrs != ([N_ADDRS]uint32{}) {
		t.Fatal("expected FreeData to clear size and addrs")
	}
	Unlock(h, sched, ip)
	Free(h, sched, 1, fsys.Cache, fsys.Sb, fsys.It, ip)
}
