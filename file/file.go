// Package file implements the open-file table (spec.md §4.10): a fixed
// pool of file_t slots shared by every process, device major dispatch,
// and the user/kernel copy bridge that sits on top of fs.ReadData/
// fs.WriteData and vm.CopyIn/vm.CopyOut. Grounded on biscuit's fd/fd.go
// (Fd_t/Copyfd reopen-on-dup idiom) and on
// _examples/original_source/kernel/fs/file.c (file_alloc/file_open/
// file_read/file_write/file_lseek/file_dup/file_stat).
package file

import (
	"sv39kernel/defs"
	"sv39kernel/fs"
	"sv39kernel/mem"
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/stat"
	"sv39kernel/ustr"
	"sv39kernel/vm"
)

// Kind tags an open file's underlying object.
type Kind int

const (
	FD_UNUSED Kind = iota
	FD_FILE
	FD_DIR
	FD_DEVICE
)

// Open-mode flags, matching defs.O_RDONLY/O_WRONLY/O_RDWR/O_CREAT.
const (
	MODE_READ   = 0x1
	MODE_WRITE  = 0x2
	MODE_CREATE = 0x4
)

// ModeFromOpenFlags translates the defs.O_* open flags sys_open receives
// into the MODE_* bits File_t.Readable/Writable and CreateAt's caller
// derive from.
func ModeFromOpenFlags(flags int) int {
	m := 0
	switch flags & 0x3 {
	case defs.O_RDONLY:
		m = MODE_READ
	case defs.O_WRONLY:
		m = MODE_WRITE
	case defs.O_RDWR:
		m = MODE_READ | MODE_WRITE
	}
	if flags&defs.O_CREAT != 0 {
		m |= MODE_CREATE
	}
	return m
}

// File_t is one open-file-table slot (spec.md §3 "Open file").
type File_t struct {
	ref       int
	Kind      Kind
	Readable  bool
	Writable  bool
	Ip        *fs.Inode_t
	Offset    uint32
	Major     uint16
}

// Ftable_t is the fixed-size open-file table, guarded by one spinlock
// (spec.md §3: "Stored in a fixed table under one spinlock").
type Ftable_t struct {
	lk      *spinlock.Lock_t
	backing []File_t
}

// MkFtable allocates a table with room for n concurrently open files.
func MkFtable(n int) *Ftable_t {
	return &Ftable_t{lk: spinlock.MkLock("file.ftable"), backing: make([]File_t, n)}
}

// Alloc returns a free slot with ref=1, or nil if the table is full
// (spec.md §4.10: "file_alloc returns a free slot with ref=1 or null").
func (ft *Ftable_t) Alloc(h *spinlock.Hart_t) *File_t {
	ft.lk.Acquire(h)
	defer ft.lk.Release(h)
	for i := range ft.backing {
		f := &ft.backing[i]
		if f.ref == 0 {
			f.ref = 1
			return f
		}
	}
	return nil
}

// Dup atomically increments f's reference count (spec.md §4.10:
// "file_dup atomically increments ref").
func (ft *Ftable_t) Dup(h *spinlock.Hart_t, f *File_t) *File_t {
	ft.lk.Acquire(h)
	if f.ref < 1 {
		panic("file: Dup of closed file")
	}
	f.ref++
	ft.lk.Release(h)
	return f
}

// Open resolves (or, with MODE_CREATE, creates) path and populates a
// fresh open-file slot from the resulting inode. A directory may only be
// opened MODE_READ (spec.md §4.10).
func (ft *Ftable_t) Open(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, fsys *fs.Fs_t, path ustr.Ustr, cwd *fs.Inode_t, mode int) (*File_t, bool) {
	var ip *fs.Inode_t
	if mode&MODE_CREATE != 0 {
		var ok bool
		ip, ok = fsys.CreateAt(h, sched, pid, path, cwd, fs.T_FILE, 0, 0)
		if !ok {
			return nil, false
		}
	} else {
		var ok bool
		ip, ok = fsys.PathToInode(h, sched, pid, path, cwd)
		if !ok {
			return nil, false
		}
		fs.Lock(h, sched, pid, fsys.Cache, fsys.Sb, ip)
		if ip.Type == fs.T_DIR && mode != MODE_READ {
			fs.UnlockFree(h, sched, pid, fsys.Cache, fsys.Sb, fsys.It, ip)
			return nil, false
		}
		fs.Unlock(h, sched, ip)
	}

	f := ft.Alloc(h)
	if f == nil {
		fs.Free(h, sched, pid, fsys.Cache, fsys.Sb, fsys.It, ip)
		return nil, false
	}

	switch ip.Type {
	case fs.T_DEVICE:
		f.Kind = FD_DEVICE
		f.Major = ip.Major
	case fs.T_DIR:
		f.Kind = FD_DIR
	default:
		f.Kind = FD_FILE
	}
	f.Readable = mode&MODE_READ != 0
	f.Writable = mode&MODE_WRITE != 0
	f.Ip = ip
	f.Offset = 0
	return f, true
}

// CreateDev creates a device special file at path with the given major
// and opens it read-write, for use by proc's init sequence to attach the
// console (spec.md §4.10, biscuit fd.go's file_create_dev analogue).
func (ft *Ftable_t) CreateDev(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, fsys *fs.Fs_t, path ustr.Ustr, cwd *fs.Inode_t, major, minor uint16) (*File_t, bool) {
	ip, ok := fsys.CreateAt(h, sched, pid, path, cwd, fs.T_DEVICE, major, minor)
	if !ok {
		return nil, false
	}
	f := ft.Alloc(h)
	if f == nil {
		fs.Free(h, sched, pid, fsys.Cache, fsys.Sb, fsys.It, ip)
		return nil, false
	}
	f.Kind = FD_DEVICE
	f.Readable = true
	f.Writable = true
	f.Ip = ip
	f.Major = major
	return f, true
}

// Close drops f's reference; at zero the underlying inode is released
// (spec.md §4.10).
func (ft *Ftable_t) Close(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, fsys *fs.Fs_t, f *File_t) {
	ft.lk.Acquire(h)
	if f.ref < 1 {
		panic("file: Close of already-closed file")
	}
	f.ref--
	if f.ref > 0 {
		ft.lk.Release(h)
		return
	}
	snapshot := *f
	f.ref = 0
	f.Kind = FD_UNUSED
	f.Ip = nil
	ft.lk.Release(h)

	fs.Free(h, sched, pid, fsys.Cache, fsys.Sb, fsys.It, snapshot.Ip)
}

// Lseek flags (spec.md §6).
const (
	LSEEK_SET = 0
	LSEEK_ADD = 1
	LSEEK_SUB = 2
)

// Lseek adjusts f's offset; only valid for FD_FILE (spec.md §4.10).
func Lseek(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, fsys *fs.Fs_t, f *File_t, offset uint32, whence int) (uint32, bool) {
	if f.Kind != FD_FILE {
		return 0, false
	}
	fs.Lock(h, sched, pid, fsys.Cache, fsys.Sb, f.Ip)
	switch whence {
	case LSEEK_SET:
		f.Offset = offset
	case LSEEK_ADD:
		f.Offset += offset
	case LSEEK_SUB:
		f.Offset -= offset
	}
	fs.Unlock(h, sched, f.Ip)
	return f.Offset, true
}

// Stat snapshots f's inode summary into st (spec.md §4.10: "file_stat
// snapshots inode summary into a user struct").
func Stat(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, fsys *fs.Fs_t, f *File_t, st *stat.Stat_t) bool {
	if f.Kind != FD_FILE && f.Kind != FD_DIR {
		return false
	}
	fs.Lock(h, sched, pid, fsys.Cache, fsys.Sb, f.Ip)
	switch f.Ip.Type {
	case fs.T_DIR:
		st.Wmode(stat.IFDIR)
	case fs.T_FILE:
		st.Wmode(stat.IFREG)
	}
	st.Wino(uint(f.Ip.InodeNum))
	st.Wnlink(uint(f.Ip.Nlink))
	st.Wsize(uint(f.Ip.Size))
	fs.Unlock(h, sched, f.Ip)
	return true
}

// fileIORange performs the inode-locked read/write data-path shared by
// ReadKernel/ReadUser and WriteKernel/WriteUser.
func fileIORange(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, fsys *fs.Fs_t, f *File_t, write bool, buf []byte) uint32 {
	fs.Lock(h, sched, pid, fsys.Cache, fsys.Sb, f.Ip)
	var n uint32
	if write {
		n = fs.WriteData(h, sched, pid, fsys.Cache, fsys.Sb, f.Ip, f.Offset, buf)
	} else {
		n = fs.ReadData(h, sched, pid, fsys.Cache, fsys.Sb, f.Ip, f.Offset, buf)
	}
	f.Offset += n
	fs.Unlock(h, sched, f.Ip)
	return n
}

// ReadKernel reads into a kernel-space buffer (used by kernel-internal
// callers, e.g. ReadUser and the getdir syscall).
func ReadKernel(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, devs *Devtable_t, fsys *fs.Fs_t, f *File_t, dst []byte) uint32 {
	if !f.Readable {
		return 0
	}
	if f.Kind == FD_DEVICE {
		return devs.read(h, f.Major, dst)
	}
	return fileIORange(h, sched, pid, fsys, f, false, dst)
}

// WriteKernel writes from a kernel-space buffer.
func WriteKernel(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, devs *Devtable_t, fsys *fs.Fs_t, f *File_t, src []byte) uint32 {
	if !f.Writable {
		return 0
	}
	if f.Kind == FD_DEVICE {
		return devs.write(h, f.Major, src)
	}
	return fileIORange(h, sched, pid, fsys, f, true, src)
}

// ReadUser reads length bytes into user memory at uaddr, bridging
// fs.ReadData's kernel-buffer primitive (and device reads) with
// vm.CopyOut (spec.md §4.10/§4.6).
func ReadUser(h *spinlock.Hart_t, phys *mem.Physmem_t, root *vm.Pagetable_t, sched sleeplock.Sleeper_i, pid int, devs *Devtable_t, fsys *fs.Fs_t, f *File_t, uaddr uint64, length uint32) uint32 {
	buf := make([]byte, length)
	n := ReadKernel(h, sched, pid, devs, fsys, f, buf)
	if n > 0 {
		vm.CopyOut(h, phys, root, uaddr, buf[:n])
	}
	return n
}

// WriteUser writes length bytes from user memory at uaddr.
func WriteUser(h *spinlock.Hart_t, phys *mem.Physmem_t, root *vm.Pagetable_t, sched sleeplock.Sleeper_i, pid int, devs *Devtable_t, fsys *fs.Fs_t, f *File_t, uaddr uint64, length uint32) uint32 {
	buf := make([]byte, length)
	vm.CopyIn(h, phys, root, buf, uaddr)
	return WriteKernel(h, sched, pid, devs, fsys, f, buf)
}
