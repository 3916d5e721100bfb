package fs

import (
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/util"
)

// Inode type tags, matching inode_types in
// _examples/original_source/kernel/fs/inode.c.
const (
	T_UNUSED = 0
	T_DIR    = 1
	T_FILE   = 2
	T_DEVICE = 3
)

// Address-array layout (spec.md §3, §4.8): N_ADDRS_1 direct entries,
// N_ADDRS_2 single-indirect, N_ADDRS_3 double-indirect, each indirect
// entry fanning out by ENTRY_PER_BLOCK.
const (
	N_ADDRS_1 = 10
	N_ADDRS_2 = 1
	N_ADDRS_3 = 1
	N_ADDRS   = N_ADDRS_1 + N_ADDRS_2 + N_ADDRS_3

	// MaxFileBlocks is the largest valid block index+1 a file can reach.
	MaxFileBlocks = N_ADDRS_1 + N_ADDRS_2*ENTRY_PER_BLOCK + N_ADDRS_3*ENTRY_PER_BLOCK*ENTRY_PER_BLOCK
	INODE_MAXSIZE = MaxFileBlocks * BSIZE
)

// dinodeSize is the packed on-disk inode record size: type/major/minor/
// nlink (2 bytes each) + size (4 bytes) + N_ADDRS*4-byte addrs.
const dinodeSize = 2*4 + 4 + N_ADDRS*4

// INODE_PER_BLOCK is how many dinode records fit in one block; the
// remainder bytes of each inode block are unused, exactly as
// INODE_LOCATE_BLOCK in the original source assumes a flat array of
// fixed-size records per block.
const INODE_PER_BLOCK = BSIZE / dinodeSize

// N_INODE is the in-core inode cache size
// (_examples/original_source/kernel/fs/inode.c: #define N_INODE 32).
const N_INODE = 32

const inodeNumUnused = 0

// Inode_t is a cached inode: identity/reference bookkeeping guarded by
// the owning Itable_t's spinlock; Type/Major/Minor/Nlink/Size/Addrs
// guarded by slk, and valid only once Valid is true.
type Inode_t struct {
	slk      *sleeplock.Lock_t
	InodeNum uint32
	ref      int
	valid    bool

	Type  uint16
	Major uint16
	Minor uint16
	Nlink uint16
	Size  uint32
	Addrs [N_ADDRS]uint32
}

// Itable_t is the fixed-size in-core inode cache.
type Itable_t struct {
	lk      *spinlock.Lock_t
	backing []Inode_t
}

// MkItable allocates an inode cache with room for N_INODE live inodes.
func MkItable() *Itable_t {
	it := &Itable_t{lk: spinlock.MkLock("fs.icache"), backing: make([]Inode_t, N_INODE)}
	for i := range it.backing {
		it.backing[i].slk = sleeplock.MkLock("fs.inode")
	}
	return it
}

func dinodeOffset(inodeNum uint32) (block uint32, idx uint32) {
	return inodeNum / INODE_PER_BLOCK, inodeNum % INODE_PER_BLOCK
}

// InodeRW copies an inode's summary fields and address array between
// the in-core object and its on-disk slot, in the direction `write`
// says. The caller holds ip's sleeplock and, for a disk read, has
// already set ip.InodeNum (spec.md §4.8).
func InodeRW(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, ip *Inode_t, write bool) {
	blk, idx := dinodeOffset(ip.InodeNum)
	b := c.Read(h, sched, pid, sb.InodeStart()+blk)
	defer c.Release(h, sched, b)

	off := int(idx) * dinodeSize
	rec := b.Data[off : off+dinodeSize]
	if write {
		util.Writen(rec, 2, 0, int(ip.Type))
		util.Writen(rec, 2, 2, int(ip.Major))
		util.Writen(rec, 2, 4, int(ip.Minor))
		util.Writen(rec, 2, 6, int(ip.Nlink))
		util.Writen(rec, 4, 8, int(ip.Size))
		for i, a := range ip.Addrs {
			util.Writen(rec, 4, 12+i*4, int(a))
		}
		c.Write(b)
	} else {
		ip.Type = uint16(util.Readn(rec, 2, 0))
		ip.Major = uint16(util.Readn(rec, 2, 2))
		ip.Minor = uint16(util.Readn(rec, 2, 4))
		ip.Nlink = uint16(util.Readn(rec, 2, 6))
		ip.Size = uint32(util.Readn(rec, 4, 8))
		for i := range ip.Addrs {
			ip.Addrs[i] = uint32(util.Readn(rec, 4, 12+i*4))
		}
		if ip.Type == T_UNUSED {
			panic("fs: InodeRW read a free inode")
		}
	}
}

// Alloc looks up inodeNum in the in-core table, bumping its ref on a
// hit; on a miss it claims a free slot with ref=1, valid=false. Running
// out of slots is fatal (spec.md §4.8).
func Alloc(it *Itable_t, h *spinlock.Hart_t, inodeNum uint32) *Inode_t {
	it.lk.Acquire(h)
	defer it.lk.Release(h)
	for i := range it.backing {
		ip := &it.backing[i]
		if ip.ref > 0 && ip.InodeNum == inodeNum {
			ip.ref++
			return ip
		}
	}
	for i := range it.backing {
		ip := &it.backing[i]
		if ip.ref == 0 {
			ip.ref = 1
			ip.InodeNum = inodeNum
			ip.valid = false
			return ip
		}
	}
	panic("fs: inode cache exhausted")
}

// Create allocates a fresh disk inode via the inode bitmap, claims an
// in-core slot for it, and writes its initial contents back
// (spec.md §4.8).
func Create(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, it *Itable_t, typ, major, minor uint16) *Inode_t {
	inodeNum := AllocInode(h, sched, pid, c, sb)
	ip := Alloc(it, h, inodeNum)

	ip.slk.Acquire(h, sched, pid)
	ip.Type = typ
	ip.Major = major
	ip.Minor = minor
	ip.Nlink = 1
	ip.Size = 0
	ip.Addrs = [N_ADDRS]uint32{}
	InodeRW(h, sched, pid, c, sb, ip, true)
	ip.slk.Release(h, sched)
	return ip
}

// Lock sleeplock-acquires ip and loads it from disk if not already
// valid (spec.md §4.8).
func Lock(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, ip *Inode_t) {
	ip.slk.Acquire(h, sched, pid)
	if !ip.valid {
		InodeRW(h, sched, pid, c, sb, ip, false)
		ip.valid = true
	}
}

// Unlock releases ip's sleeplock.
func Unlock(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, ip *Inode_t) {
	ip.slk.Release(h, sched)
}

// Dup bumps ip's in-core reference count.
func Dup(it *Itable_t, h *spinlock.Hart_t, ip *Inode_t) *Inode_t {
	it.lk.Acquire(h)
	ip.ref++
	it.lk.Release(h)
	return ip
}

// destroy frees an inode's data blocks and bitmap bit and marks it
// type-0 on disk. Caller holds it.lk and ip.ref==1; by that invariant
// no one else can hold ip's sleeplock, so acquiring it here cannot
// block (spec.md §4.8).
func destroy(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, ip *Inode_t) {
	ip.slk.Acquire(h, sched, pid)
	FreeData(h, sched, pid, c, sb, ip)
	FreeInode(h, sched, pid, c, sb, ip.InodeNum)
	ip.Type = T_UNUSED
	ip.valid = false
	InodeRW(h, sched, pid, c, sb, ip, true)
	ip.slk.Release(h, sched)
}

// Free drops ip's in-core reference; if it was the last reference to a
// valid, unlinked (nlink==0) inode, the on-disk inode and its data are
// destroyed first (spec.md §4.8).
func Free(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, it *Itable_t, ip *Inode_t) {
	it.lk.Acquire(h)
	if ip.ref == 1 && ip.valid && ip.Nlink == 0 {
		destroy(h, sched, pid, c, sb, ip)
	}
	ip.ref--
	it.lk.Release(h)
}

// UnlockFree is the common unlock+free sequence.
func UnlockFree(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, it *Itable_t, ip *Inode_t) {
	Unlock(h, sched, ip)
	Free(h, sched, pid, c, sb, it, ip)
}
