// Package stat defines the user-visible struct stat layout the fstat
// syscall copies out. Kept and adapted from biscuit's stat.stat.go.
package stat

import "unsafe"

// Stat_t mirrors a file's metadata as reported by fstat.
type Stat_t struct {
	dev   uint
	ino   uint
	mode  uint
	nlink uint
	size  uint
	rdev  uint
}

// File type bits packed from bit 16 of Mode, numbered like the
// fs.T_DIR/T_FILE/T_DEVICE inode types.
const (
	IFDIR  uint = 1 << 16
	IFREG  uint = 2 << 16
	IFCHR  uint = 3 << 16
)

func (st *Stat_t) Wdev(v uint)   { st.dev = v }
func (st *Stat_t) Wino(v uint)   { st.ino = v }
func (st *Stat_t) Wmode(v uint)  { st.mode = v }
func (st *Stat_t) Wnlink(v uint) { st.nlink = v }
func (st *Stat_t) Wsize(v uint)  { st.size = v }
func (st *Stat_t) Wrdev(v uint)  { st.rdev = v }

func (st *Stat_t) Dev() uint   { return st.dev }
func (st *Stat_t) Ino() uint   { return st.ino }
func (st *Stat_t) Mode() uint  { return st.mode }
func (st *Stat_t) Nlink() uint { return st.nlink }
func (st *Stat_t) Size() uint  { return st.size }
func (st *Stat_t) Rdev() uint  { return st.rdev }

// Bytes exposes the raw in-memory representation, for copying out to user
// memory with vm.CopyOut.
func (st *Stat_t) Bytes() []uint8 {
	const sz = unsafe.Sizeof(Stat_t{})
	return (*[sz]uint8)(unsafe.Pointer(st))[:]
}
