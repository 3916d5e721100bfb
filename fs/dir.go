package fs

import (
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/ustr"
	"sv39kernel/util"
)

// A directory's payload is a contiguous array of dirents inside a
// single block (spec.md §4.9). DIRNAMESZ is sized so MAX_DIR_ENTRIES
// lands exactly on 32 — spec.md §8 scenario 4 ("adding 32 entries to a
// directory succeeds; the 33rd returns failure") is a hard requirement,
// not a hint, so direntSize must equal BSIZE/32.
const (
	DIRNAMESZ      = BSIZE/32 - 4
	direntSize     = 4 + DIRNAMESZ
	MAX_DIR_ENTRIES = BSIZE / direntSize
)

type dirent_t struct {
	inum uint32
	name [DIRNAMESZ]byte
}

func (d *dirent_t) marshal(buf []byte) {
	util.Writen(buf, 4, 0, int(d.inum))
	copy(buf[4:4+DIRNAMESZ], d.name[:])
}

func (d *dirent_t) unmarshal(buf []byte) {
	d.inum = uint32(util.Readn(buf, 4, 0))
	copy(d.name[:], buf[4:4+DIRNAMESZ])
}

// packName normalizes name to NFC before packing it, so two byte-distinct
// but canonically-equal spellings (combining vs. precomposed accents)
// land on the same packed bytes and collide as one dirent, per
// SPEC_FULL.md §3 — every caller (SearchEntry, AddEntry, DeleteEntry)
// goes through this, so the collision holds on lookup, insert, and
// removal alike.
func packName(name ustr.Ustr) [DIRNAMESZ]byte {
	name = name.Normalize()
	var out [DIRNAMESZ]byte
	n := len(name)
	if n > DIRNAMESZ {
		n = DIRNAMESZ
	}
	copy(out[:n], name[:n])
	return out
}

func readDirent(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, pip *Inode_t, off uint32) (dirent_t, bool) {
	var buf [direntSize]byte
	if ReadData(h, sched, pid, c, sb, pip, off, buf[:]) != direntSize {
		return dirent_t{}, false
	}
	var de dirent_t
	de.unmarshal(buf[:])
	return de, true
}

func writeDirent(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, pip *Inode_t, off uint32, de dirent_t) bool {
	var buf [direntSize]byte
	de.marshal(buf[:])
	return WriteData(h, sched, pid, c, sb, pip, off, buf[:]) == direntSize
}

// SearchEntry linearly scans directory pip for name, returning its
// inode number, or (0, false) if absent. Caller holds pip's sleeplock
// and pip must be a directory (spec.md §4.9).
func SearchEntry(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, pip *Inode_t, name ustr.Ustr) (uint32, bool) {
	if pip.Type != T_DIR {
		panic("fs: SearchEntry on non-directory")
	}
	packed := packName(name)
	for off := uint32(0); off < pip.Size; off += direntSize {
		de, ok := readDirent(h, sched, pid, c, sb, pip, off)
		if !ok {
			panic("fs: SearchEntry short read")
		}
		if de.inum == inodeNumUnused {
			continue
		}
		if de.name == packed {
			return de.inum, true
		}
	}
	return inodeNumUnused, false
}

// AddEntry reuses the first hole in pip, or appends if there is none,
// failing (false) if the block is full or name already exists
// (spec.md §4.9).
func AddEntry(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, pip *Inode_t, inodeNum uint32, name ustr.Ustr) bool {
	packed := packName(name)
	emptyOff := uint32(BSIZE)
	var off uint32
	for off = 0; off < pip.Size; off += direntSize {
		de, ok := readDirent(h, sched, pid, c, sb, pip, off)
		if !ok {
			panic("fs: AddEntry short read")
		}
		if de.inum == inodeNumUnused {
			if emptyOff == BSIZE {
				emptyOff = off
			}
		} else if de.name == packed {
			return false
		}
	}

	de := dirent_t{inum: inodeNum, name: packed}
	if emptyOff != BSIZE {
		return writeDirent(h, sched, pid, c, sb, pip, emptyOff, de)
	}
	if pip.Size+direntSize > BSIZE {
		return false
	}
	return writeDirent(h, sched, pid, c, sb, pip, pip.Size, de)
}

// DeleteEntry zeroes name's entry in place, returning the inode number
// it held, or (0, false) if name was not found.
func DeleteEntry(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, pip *Inode_t, name ustr.Ustr) (uint32, bool) {
	packed := packName(name)
	for off := uint32(0); off < pip.Size; off += direntSize {
		de, ok := readDirent(h, sched, pid, c, sb, pip, off)
		if !ok {
			panic("fs: DeleteEntry short read")
		}
		if de.inum == inodeNumUnused {
			continue
		}
		if de.name == packed {
			inum := de.inum
			de.inum = inodeNumUnused
			de.name = [DIRNAMESZ]byte{}
			if !writeDirent(h, sched, pid, c, sb, pip, off, de) {
				panic("fs: DeleteEntry write")
			}
			return inum, true
		}
	}
	return inodeNumUnused, false
}

// GetEntries copies every live dirent into dst (len(dst) must be a
// multiple of the dirent size), stopping when dst is full. It returns
// the number of bytes copied — used by the unlink "only . and .."
// emptiness probe (spec.md §4.9).
func GetEntries(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, c *Cache_t, sb *Superblock_t, pip *Inode_t, dst []byte) uint32 {
	var count uint32
	for off := uint32(0); off < pip.Size && count+direntSize <= uint32(len(dst)); off += direntSize {
		de, ok := readDirent(h, sched, pid, c, sb, pip, off)
		if !ok {
			panic("fs: GetEntries short read")
		}
		if de.inum != inodeNumUnused {
			de.marshal(dst[count : count+direntSize])
			count += direntSize
		}
	}
	return count
}
