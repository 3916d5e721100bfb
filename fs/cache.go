package fs

import (
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
)

// Cache_t is the fixed-size block buffer cache (spec.md §4.7): a
// doubly-linked list with a sentinel, MRU at head.next, LRU/free-
// candidate search scanning forward from head.next for the first
// ref==0 entry. One spinlock guards the list, reference counts, and
// Block fields; each buffer's own sleeplock guards its Data/dirty/disk
// flags. Grounded on the buf_cache/head_buf sentinel-list design of
// _examples/original_source/kernel/fs/buf.c and on the Bdev_block_t
// eviction/write-back protocol of biscuit's fs.blk.go.
type Cache_t struct {
	lk      *spinlock.Lock_t
	head    Buf_t // sentinel; head.next is MRU, head.prev is LRU/free end
	backing []Buf_t
	disk    Disk_i
}

// MkCache allocates a cache of n buffers backed by disk.
func MkCache(n int, disk Disk_i) *Cache_t {
	c := &Cache_t{lk: spinlock.MkLock("fs.cache"), backing: make([]Buf_t, n), disk: disk}
	c.head.next, c.head.prev = &c.head, &c.head
	for i := range c.backing {
		b := &c.backing[i]
		b.slk = sleeplock.MkLock("fs.buf")
		b.Block = blockNumUnused
		c.spliceAt(b, false) // seed onto the free end
	}
	return c
}

// unlink removes b from whatever list it currently sits in (a no-op the
// very first time a backing buffer is spliced in, since its next/prev
// start nil).
func unlink(b *Buf_t) {
	if b.next != nil && b.prev != nil {
		b.next.prev = b.prev
		b.prev.next = b.next
	}
}

// spliceAt re-links b into the cache list: at head.next (MRU, front)
// when mru is true, or at head.prev (LRU/free end) otherwise.
func (c *Cache_t) spliceAt(b *Buf_t, mru bool) {
	unlink(b)
	if mru {
		b.prev = &c.head
		b.next = c.head.next
		c.head.next.prev = b
		c.head.next = b
	} else {
		b.next = &c.head
		b.prev = c.head.prev
		c.head.prev.next = b
		c.head.prev = b
	}
}

func (c *Cache_t) doIO(b *Buf_t, cmd Bdevcmd_t) {
	req := mkRequest(int(b.Block), b.Data[:], cmd)
	if c.disk.Start(req) {
		<-req.AckCh
	}
	if cmd == BDEV_READ {
		b.disk = true
	}
}

// Read implements buf_read (spec.md §4.7): cache hit splices to MRU and
// returns a sleep-locked buffer; a miss reserves the oldest ref==0
// victim, writes it back if dirty, loads the requested block, then
// re-validates against a concurrent loader of the same block number
// before declaring itself the winner.
func (c *Cache_t) Read(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, blockNum uint32) *Buf_t {
	c.lk.Acquire(h)
	for b := c.head.next; b != &c.head; b = b.next {
		if b.Block == blockNum {
			b.ref++
			c.spliceAt(b, true)
			c.lk.Release(h)
			b.slk.Acquire(h, sched, pid)
			return b
		}
	}

	var victim *Buf_t
	for b := c.head.next; b != &c.head; b = b.next {
		if b.ref == 0 {
			victim = b
			break
		}
	}
	if victim == nil {
		panic("fs: buffer cache exhausted, no ref==0 victim")
	}
	victim.ref = 1
	oldBlock := victim.Block
	victim.Block = blockNumUnused
	c.lk.Release(h)

	victim.slk.Acquire(h, sched, pid)
	if victim.dirty && oldBlock != blockNumUnused {
		victim.Block = oldBlock
		c.doIO(victim, BDEV_WRITE)
		victim.dirty = false
	}
	victim.Block = blockNum
	c.doIO(victim, BDEV_READ)

	c.lk.Acquire(h)
	for other := c.head.next; other != &c.head; other = other.next {
		if other == victim {
			continue
		}
		if other.Block == blockNum {
			// lost the race: someone else loaded this block first.
			victim.slk.Release(h, sched)
			victim.ref = 0
			victim.Block = blockNumUnused
			c.spliceAt(victim, false)

			other.ref++
			c.spliceAt(other, true)
			c.lk.Release(h)
			other.slk.Acquire(h, sched, pid)
			return other
		}
	}
	c.spliceAt(victim, true)
	c.lk.Release(h)
	return victim
}

// Write marks buf dirty; the actual write-back happens lazily, on
// eviction (spec.md §4.7).
func (c *Cache_t) Write(buf *Buf_t) {
	buf.dirty = true
}

// Release implements buf_release: sleeplock-release, then under the
// list lock drop the reference and, if it reached zero, splice the
// buffer to the LRU/free end.
func (c *Cache_t) Release(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, buf *Buf_t) {
	buf.slk.Release(h, sched)
	c.lk.Acquire(h)
	buf.ref--
	if buf.ref == 0 {
		c.spliceAt(buf, false)
	}
	c.lk.Release(h)
}
