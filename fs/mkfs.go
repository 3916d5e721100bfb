package fs

import (
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/ustr"
)

// Format lays out a fresh superblock plus an empty root directory (with
// "." and ".." seeded) directly onto disk, the way a standalone mkfs tool
// would, then mounts it. inodeBlocks sizes the fixed inode region; the
// rest of the layout (bitmap blocks, data region) is derived from
// totalBlocks. It is meant for tests, for `cmd/kernel`'s first boot, and
// for `diskimg`-backed throwaway images — not an on-disk format migration
// tool.
func Format(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, disk Disk_i, nbuf int, totalBlocks, inodeBlocks uint32) *Fs_t {
	const (
		inodeBitmapStart = 1
	)
	inodeStart := uint32(inodeBitmapStart + 1)
	dataBitmapStart := inodeStart + inodeBlocks
	dataStart := dataBitmapStart + 1

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

	req := mkRequest(int(SB_BLOCK_NUM), sb.raw[:], BDEV_WRITE)
	disk.Start(req)
	<-req.AckCh

	bitmapBlk := make([]byte, BSIZE)
	bitmapBlk[0] = 0x01 // bit 0 is inode 1 (root), claimed; inode 0 has no bit
	req = mkRequest(int(inodeBitmapStart), bitmapBlk, BDEV_WRITE)
	disk.Start(req)
	<-req.AckCh

	rootBlk, idx := dinodeOffset(INODE_ROOT)
	inodeBlk := make([]byte, BSIZE)
	off := int(idx) * dinodeSize
	rec := inodeBlk[off : off+dinodeSize]
	rec[0] = byte(T_DIR)
	rec[6] = 1 // nlink
	req = mkRequest(int(inodeStart+rootBlk), inodeBlk, BDEV_WRITE)
	disk.Start(req)
	<-req.AckCh

	fsys := Mount(h, sched, pid, disk, nbuf)

	root := fsys.RootInode(h)
	Lock(h, sched, pid, fsys.Cache, fsys.Sb, root)
	AddEntry(h, sched, pid, fsys.Cache, fsys.Sb, root, INODE_ROOT, ustr.MkUstrDot())
	AddEntry(h, sched, pid, fsys.Cache, fsys.Sb, root, INODE_ROOT, ustr.MkUstrDotDot())
	root.Nlink = 2
	InodeRW(h, sched, pid, fsys.Cache, fsys.Sb, root, true)
	UnlockFree(h, sched, pid, fsys.Cache, fsys.Sb, fsys.It, root)
	return fsys
}
