package fs

import "sv39kernel/util"

// FS_MAGIC identifies a formatted volume; SB_BLOCK_NUM is its fixed
// location, both grounded on _examples/original_source/kernel/fs/fs.c.
const (
	FS_MAGIC    = 0x12345678
	SB_BLOCK_NUM = 0
)

// Superblock_t is the in-memory copy of the on-disk super block: field
// accessors packed into a raw block buffer via util.Readn/Writen,
// mirroring biscuit's fs.Superblock_t fieldr/fieldw pattern.
type Superblock_t struct {
	raw [BSIZE]byte
}

const fieldSize = 4

func (sb *Superblock_t) fieldr(i int) uint32 {
	return uint32(util.Readn(sb.raw[:], fieldSize, i*fieldSize))
}

func (sb *Superblock_t) fieldw(i int, v uint32) {
	util.Writen(sb.raw[:], fieldSize, i*fieldSize, int(v))
}

func (sb *Superblock_t) Magic() uint32          { return sb.fieldr(0) }
func (sb *Superblock_t) SetMagic(v uint32)      { sb.fieldw(0, v) }
func (sb *Superblock_t) BlockSize() uint32      { return sb.fieldr(1) }
func (sb *Superblock_t) SetBlockSize(v uint32)  { sb.fieldw(1, v) }
func (sb *Superblock_t) TotalBlocks() uint32    { return sb.fieldr(2) }
func (sb *Superblock_t) SetTotalBlocks(v uint32){ sb.fieldw(2, v) }
func (sb *Superblock_t) InodeBlocks() uint32    { return sb.fieldr(3) }
func (sb *Superblock_t) SetInodeBlocks(v uint32){ sb.fieldw(3, v) }
func (sb *Superblock_t) DataBlocks() uint32     { return sb.fieldr(4) }
func (sb *Superblock_t) SetDataBlocks(v uint32) { sb.fieldw(4, v) }
func (sb *Superblock_t) InodeBitmapStart() uint32     { return sb.fieldr(5) }
func (sb *Superblock_t) SetInodeBitmapStart(v uint32) { sb.fieldw(5, v) }
func (sb *Superblock_t) InodeStart() uint32            { return sb.fieldr(6) }
func (sb *Superblock_t) SetInodeStart(v uint32)        { sb.fieldw(6, v) }
func (sb *Superblock_t) DataBitmapStart() uint32       { return sb.fieldr(7) }
func (sb *Superblock_t) SetDataBitmapStart(v uint32)   { sb.fieldw(7, v) }
func (sb *Superblock_t) DataStart() uint32             { return sb.fieldr(8) }
func (sb *Superblock_t) SetDataStart(v uint32)         { sb.fieldw(8, v) }

// INODE_ROOT is the inode number of the filesystem root directory.
const INODE_ROOT = 1
