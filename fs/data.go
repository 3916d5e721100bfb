package fs

import (
	"unsafe"

	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/util"
)

// locateBlock finds (lazily allocating) the leaf block number reachable
// through entry, a pointer to either an inode's direct address-array
// slot or a slot inside an indirect block's buffer. size is the number
// of leaf blocks still reachable through *entry: 1 at a direct slot,
// ENTRY_PER_BLOCK at a single-indirect slot, ENTRY_PER_BLOCK^2 at a
// double-indirect slot. Grounded on locate_block in
// _examples/original_source/kernel/fs/inode.c, including its
// snapshot-before/compare-after rule for deciding whether the parent
// indirect block needs to be re-written.
func locateBlock(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, entry *uint32, bn, size uint32) uint32 {
	if *entry == 0 {
		*entry = AllocBlock(h, sched, pid, c, sb)
	}
	if size == 1 {
		return *entry
	}
	nextSize := size / ENTRY_PER_BLOCK
	childIdx := bn / nextSize
	nextBn := bn % nextSize

	b := c.Read(h, sched, pid, *entry)
	childPtr := (*uint32)(unsafe.Pointer(&b.Data[childIdx*4]))
	old := *childPtr
	ret := locateBlock(h, sched, pid, c, sb, childPtr, nextBn, nextSize)
	if *childPtr != old {
		c.Write(b)
	}
	c.Release(h, sched, b)
	return ret
}

func inodeLocateBlock(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, ip *Inode_t, bn uint32) uint32 {
	if bn < N_ADDRS_1 {
		return locateBlock(h, sched, pid, c, sb, &ip.Addrs[bn], bn, 1)
	}
	bn -= N_ADDRS_1
	if bn < N_ADDRS_2*ENTRY_PER_BLOCK {
		idx := bn / ENTRY_PER_BLOCK
		off := bn % ENTRY_PER_BLOCK
		return locateBlock(h, sched, pid, c, sb, &ip.Addrs[N_ADDRS_1+idx], off, ENTRY_PER_BLOCK)
	}
	bn -= N_ADDRS_2 * ENTRY_PER_BLOCK
	if bn < N_ADDRS_3*ENTRY_PER_BLOCK*ENTRY_PER_BLOCK {
		idx := bn / (ENTRY_PER_BLOCK * ENTRY_PER_BLOCK)
		off := bn % (ENTRY_PER_BLOCK * ENTRY_PER_BLOCK)
		return locateBlock(h, sched, pid, c, sb, &ip.Addrs[N_ADDRS_1+N_ADDRS_2+idx], off, ENTRY_PER_BLOCK*ENTRY_PER_BLOCK)
	}
	panic("fs: inodeLocateBlock overflow")
}

// ReadData copies up to len bytes starting at offset from ip's data
// blocks into dst (len(dst) must be >= the clipped length), clipping
// len to ip.Size-offset. It returns the number of bytes copied. Caller
// holds ip's sleeplock (spec.md §4.8). Copying into user memory is the
// `file` package's responsibility, layered on top of this kernel-memory
// primitive (see file.ReadUser).
func ReadData(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, ip *Inode_t, offset uint32, dst []byte) uint32 {
	length := uint32(len(dst))
	if offset > ip.Size {
		return 0
	}
	if offset+length < offset {
		return 0
	}
	if offset+length > ip.Size {
		length = ip.Size - offset
	}
	var tot uint32
	for tot < length {
		blockNum := inodeLocateBlock(h, sched, pid, c, sb, ip, (offset+tot)/BSIZE)
		if blockNum == 0 {
			break
		}
		b := c.Read(h, sched, pid, blockNum)
		blkOff := (offset + tot) % BSIZE
		m := util.Min(length-tot, BSIZE-blkOff)
		copy(dst[tot:tot+m], b.Data[blkOff:blkOff+m])
		c.Release(h, sched, b)
		tot += m
	}
	return tot
}

// WriteData writes len(src) bytes to ip's data blocks starting at
// offset, extending the file as needed; it is fatal if offset+len
// exceeds INODE_MAXSIZE. If the write extends past ip.Size, Size is
// updated and the inode is written back (spec.md §4.8).
func WriteData(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, ip *Inode_t, offset uint32, src []byte) uint32 {
	length := uint32(len(src))
	if offset+length < offset {
		return 0
	}
	if offset+length > INODE_MAXSIZE {
		panic("fs: WriteData exceeds INODE_MAXSIZE")
	}
	var tot uint32
	for tot < length {
		blockNum := inodeLocateBlock(h, sched, pid, c, sb, ip, (offset+tot)/BSIZE)
		if blockNum == 0 {
			break
		}
		b := c.Read(h, sched, pid, blockNum)
		blkOff := (offset + tot) % BSIZE
		m := util.Min(length-tot, BSIZE-blkOff)
		copy(b.Data[blkOff:blkOff+m], src[tot:tot+m])
		c.Write(b)
		c.Release(h, sched, b)
		tot += m
	}
	if offset+tot > ip.Size {
		ip.Size = offset + tot
		InodeRW(h, sched, pid, c, sb, ip, true)
	}
	return tot
}

// dataFree recursively releases block_num: if level>0 it is a metadata
// (indirect) block whose every non-zero entry is itself freed one level
// down before block_num itself returns to the bitmap.
func dataFree(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, blockNum uint32, level int) {
	if blockNum == 0 {
		panic("fs: dataFree of block 0")
	}
	if level > 0 {
		b := c.Read(h, sched, pid, blockNum)
		for i := 0; i < ENTRY_PER_BLOCK; i++ {
			child := uint32(util.Readn(b.Data[:], 4, i*4))
			if child != 0 {
				dataFree(h, sched, pid, c, sb, child, level-1)
			}
		}
		c.Release(h, sched, b)
	}
	FreeBlock(h, sched, pid, c, sb, blockNum)
}

// FreeData releases every data block reachable from ip, then zeroes
// Addrs and Size and writes the inode back. Caller holds ip's
// sleeplock (spec.md §4.8).
func FreeData(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, ip *Inode_t) {
	for i, a := range ip.Addrs {
		if a == 0 {
			continue
		}
		level := 0
		if i >= N_ADDRS_1 {
			level = 1
		}
		if i >= N_ADDRS_1+N_ADDRS_2 {
			level = 2
		}
		dataFree(h, sched, pid, c, sb, a, level)
		ip.Addrs[i] = 0
	}
	ip.Size = 0
	InodeRW(h, sched, pid, c, sb, ip, true)
}
