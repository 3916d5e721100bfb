// Package fs implements the block buffer cache (spec.md §4.7), the
// on-disk inode/bitmap layer with indirect-block addressing (§4.8), and
// the directory protocol and path resolver (§4.9). Grounded on
// biscuit's fs.blk.go (Bdev_block_t/Disk_i/Bdev_req_t request-and-ack
// pattern) and on _examples/original_source/kernel/fs/{buf,bitmap,
// inode,dir,fs}.c, which this package's cache-eviction race protocol,
// indirect-block addressing, and path-walk logic follow closely.
package fs

import (
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
)

// BSIZE is the on-disk block size in bytes, matching spec.md §6's literal
// "block size 4096 bytes". ENTRY_PER_BLOCK is the fan-out of an indirect
// block — also a spec.md literal (§4.8: "indirect block holding 512
// block numbers") rather than BSIZE/4; the original source's indirect
// blocks use only the first ENTRY_PER_BLOCK*4 bytes of the block, the
// same way its dinode records don't fill their block either (see
// INODE_PER_BLOCK in inode.go).
const (
	BSIZE          = 4096
	ENTRY_PER_BLOCK = 512
)

// Bdevcmd_t enumerates disk request types, grounded on biscuit's
// Bdevcmd_t (BDEV_READ/BDEV_WRITE).
type Bdevcmd_t uint

const (
	BDEV_READ  Bdevcmd_t = 1
	BDEV_WRITE Bdevcmd_t = 2
)

// Bdev_req_t is one outstanding block device request; AckCh is closed
// (or signaled) by the disk once the command completes.
type Bdev_req_t struct {
	Cmd   Bdevcmd_t
	Block int
	Data  []byte
	AckCh chan bool
}

func mkRequest(block int, data []byte, cmd Bdevcmd_t) *Bdev_req_t {
	return &Bdev_req_t{Cmd: cmd, Block: block, Data: data, AckCh: make(chan bool)}
}

// Disk_i abstracts the underlying block device (virtio in the real
// kernel; a host-file-backed stand-in in this module, see package
// diskimg). Start returns false if the request could not be queued at
// all; otherwise the caller waits on req.AckCh.
type Disk_i interface {
	Start(*Bdev_req_t) bool
}

const blockNumUnused = ^uint32(0)

// Buf_t is one cached disk block. Block and ref are guarded by the
// cache's list spinlock, except that a Read miss rewrites its reserved
// victim's Block while holding only that buffer's sleeplock; Data,
// dirty and disk are guarded by the sleeplock (spec.md §4.7).
type Buf_t struct {
	slk   *sleeplock.Lock_t
	Block uint32
	ref   int
	dirty bool
	disk  bool
	Data  [BSIZE]byte

	next, prev *Buf_t
}

func (b *Buf_t) Dirty() bool { return b.dirty }
