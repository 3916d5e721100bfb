package fs

import (
	"sv39kernel/sleeplock"
	"sv39kernel/spinlock"
	"sv39kernel/ustr"
)

// Fs_t bundles the buffer cache, in-memory superblock, and inode table
// that every filesystem operation threads through, mirroring biscuit's
// ufs.Ufs_t/fs.Fs_t aggregate-object idiom (biscuit/src/ufs/ufs.go).
type Fs_t struct {
	Cache *Cache_t
	Sb    *Superblock_t
	It    *Itable_t
}

// Mount reads block 0, validates the magic and block size, and returns
// a ready Fs_t (spec.md's fs_init, _examples/original_source/kernel/fs/fs.c).
func Mount(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, disk Disk_i, nbuf int) *Fs_t {
	cache := MkCache(nbuf, disk)
	b := cache.Read(h, sched, pid, SB_BLOCK_NUM)
	var sb Superblock_t
	copy(sb.raw[:], b.Data[:])
	cache.Release(h, sched, b)

	if sb.Magic() != FS_MAGIC {
		panic("fs: bad superblock magic")
	}
	if int(sb.BlockSize()) != BSIZE {
		panic("fs: superblock block size mismatch")
	}
	return &Fs_t{Cache: cache, Sb: &sb, It: MkItable()}
}

// RootInode returns a referenced (not locked) handle on the root
// directory inode.
func (fs *Fs_t) RootInode(h *spinlock.Hart_t) *Inode_t {
	return Alloc(fs.It, h, INODE_ROOT)
}

// skipElement splits the leading path component off path, mirroring
// skip_element in _examples/original_source/kernel/fs/dir.c: repeated
// slashes collapse, a fully-consumed path returns ok=false.
func skipElement(path ustr.Ustr) (name ustr.Ustr, rest ustr.Ustr, ok bool) {
	i := 0
	for i < len(path) && path[i] == '/' {
		i++
	}
	if i == len(path) {
		return nil, nil, false
	}
	start := i
	for i < len(path) && path[i] != '/' {
		i++
	}
	name = path[start:i]
	for i < len(path) && path[i] == '/' {
		i++
	}
	return name, path[i:], true
}

// searchInode walks path one component at a time starting from root
// (absolute paths) or cwd (relative paths), mirroring search_inode in
// _examples/original_source/kernel/fs/dir.c. When findParent is true it
// stops one segment early, returning the parent directory inode and the
// final component name.
func (fs *Fs_t) searchInode(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, path ustr.Ustr, cwd *Inode_t, findParent bool) (*Inode_t, ustr.Ustr, bool) {
	var ip *Inode_t
	if path.IsAbsolute() {
		ip = Alloc(fs.It, h, INODE_ROOT)
	} else {
		ip = Dup(fs.It, h, cwd)
	}

	rest := path
	for {
		name, next, ok := skipElement(rest)
		if !ok {
			break
		}
		Lock(h, sched, pid, fs.Cache, fs.Sb, ip)
		if ip.Type != T_DIR {
			UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
			return nil, nil, false
		}
		if findParent && len(next) == 0 {
			Unlock(h, sched, ip)
			return ip, name, true
		}
		inum, found := SearchEntry(h, sched, pid, fs.Cache, fs.Sb, ip, name)
		if !found {
			UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
			return nil, nil, false
		}
		nextIp := Alloc(fs.It, h, inum)
		Unlock(h, sched, ip)
		Free(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
		ip = nextIp
		rest = next
	}

	if findParent {
		Free(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
		return nil, nil, false
	}
	return ip, nil, true
}

// PathToInode resolves path to its inode (referenced, not locked).
func (fs *Fs_t) PathToInode(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, path ustr.Ustr, cwd *Inode_t) (*Inode_t, bool) {
	ip, _, ok := fs.searchInode(h, sched, pid, path, cwd, false)
	return ip, ok
}

// PathToParentInode resolves path's parent directory, returning the
// parent (referenced, not locked) and the trailing component name.
func (fs *Fs_t) PathToParentInode(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, path ustr.Ustr, cwd *Inode_t) (*Inode_t, ustr.Ustr, bool) {
	return fs.searchInode(h, sched, pid, path, cwd, true)
}

// CreateAt resolves path's parent and creates a new inode of type typ
// there if name is not already present; if it is present, the existing
// inode is returned instead (spec.md's path_create_inode semantics,
// _examples/original_source/kernel/fs/dir.c).
func (fs *Fs_t) CreateAt(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, path ustr.Ustr, cwd *Inode_t, typ, major, minor uint16) (*Inode_t, bool) {
	pip, name, ok := fs.PathToParentInode(h, sched, pid, path, cwd)
	if !ok {
		return nil, false
	}
	Lock(h, sched, pid, fs.Cache, fs.Sb, pip)

	if inum, found := SearchEntry(h, sched, pid, fs.Cache, fs.Sb, pip, name); found {
		ip := Alloc(fs.It, h, inum)
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
		return ip, true
	}

	ip := Create(h, sched, pid, fs.Cache, fs.Sb, fs.It, typ, major, minor)

	if !AddEntry(h, sched, pid, fs.Cache, fs.Sb, pip, ip.InodeNum, name) {
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
		Lock(h, sched, pid, fs.Cache, fs.Sb, ip)
		ip.Nlink = 0
		InodeRW(h, sched, pid, fs.Cache, fs.Sb, ip, true)
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
		return nil, false
	}

	if typ == T_DIR {
		Lock(h, sched, pid, fs.Cache, fs.Sb, ip)
		AddEntry(h, sched, pid, fs.Cache, fs.Sb, ip, ip.InodeNum, ustr.MkUstrDot())
		AddEntry(h, sched, pid, fs.Cache, fs.Sb, ip, pip.InodeNum, ustr.MkUstrDotDot())
		ip.Nlink++
		InodeRW(h, sched, pid, fs.Cache, fs.Sb, ip, true)
		Unlock(h, sched, ip)

		pip.Nlink++
		InodeRW(h, sched, pid, fs.Cache, fs.Sb, pip, true)
	}

	UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
	return ip, true
}

// Link creates a new directory entry at newPath naming the existing
// file at oldPath (spec.md §4.9: "resolve old (must not be directory),
// nlink++, write back, resolve parent of new, add entry; on failure
// decrement and propagate").
func (fs *Fs_t) Link(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, oldPath, newPath ustr.Ustr, cwd *Inode_t) bool {
	ip, ok := fs.PathToInode(h, sched, pid, oldPath, cwd)
	if !ok {
		return false
	}
	Lock(h, sched, pid, fs.Cache, fs.Sb, ip)
	if ip.Type == T_DIR {
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
		return false
	}
	ip.Nlink++
	InodeRW(h, sched, pid, fs.Cache, fs.Sb, ip, true)
	Unlock(h, sched, ip)

	pip, name, ok := fs.PathToParentInode(h, sched, pid, newPath, cwd)
	if !ok {
		Lock(h, sched, pid, fs.Cache, fs.Sb, ip)
		ip.Nlink--
		InodeRW(h, sched, pid, fs.Cache, fs.Sb, ip, true)
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
		return false
	}

	Lock(h, sched, pid, fs.Cache, fs.Sb, pip)
	if _, found := SearchEntry(h, sched, pid, fs.Cache, fs.Sb, pip, name); found ||
		!AddEntry(h, sched, pid, fs.Cache, fs.Sb, pip, ip.InodeNum, name) {
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
		Lock(h, sched, pid, fs.Cache, fs.Sb, ip)
		ip.Nlink--
		InodeRW(h, sched, pid, fs.Cache, fs.Sb, ip, true)
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
		return false
	}

	UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
	Free(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
	return true
}

// checkUnlink reports whether ip (a directory) contains only "." and
// ".." — the 3-dirent probe of spec.md §4.9.
func (fs *Fs_t) checkUnlink(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, ip *Inode_t) bool {
	var probe [3 * direntSize]byte
	n := GetEntries(h, sched, pid, fs.Cache, fs.Sb, ip, probe[:])
	switch n {
	case 3 * direntSize:
		return false
	case 2 * direntSize:
		return true
	default:
		panic("fs: checkUnlink unexpected entry count")
	}
}

// Unlink removes path's directory entry, rejecting "."/".." and
// non-empty directories, decrementing nlink (spec.md §4.9). The on-disk
// delete of the file itself is deferred to Free's last-reference check.
func (fs *Fs_t) Unlink(h *spinlock.Hart_t, sched sleeplock.Sleeper_i, pid int, path ustr.Ustr, cwd *Inode_t) bool {
	pip, name, ok := fs.PathToParentInode(h, sched, pid, path, cwd)
	if !ok {
		return false
	}
	Lock(h, sched, pid, fs.Cache, fs.Sb, pip)

	if name.Isdot() || name.Isdotdot() {
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
		return false
	}

	inum, found := SearchEntry(h, sched, pid, fs.Cache, fs.Sb, pip, name)
	if !found {
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
		return false
	}

	ip := Alloc(fs.It, h, inum)
	Lock(h, sched, pid, fs.Cache, fs.Sb, ip)
	if ip.Type == T_DIR && !fs.checkUnlink(h, sched, pid, ip) {
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
		return false
	}
	Unlock(h, sched, ip)

	if _, found := DeleteEntry(h, sched, pid, fs.Cache, fs.Sb, pip, name); !found {
		Free(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
		UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)
		return false
	}
	UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, pip)

	Lock(h, sched, pid, fs.Cache, fs.Sb, ip)
	if ip.Nlink < 1 {
		panic("fs: Unlink nlink < 1")
	}
	ip.Nlink--
	InodeRW(h, sched, pid, fs.Cache, fs.Sb, ip, true)
	UnlockFree(h, sched, pid, fs.Cache, fs.Sb, fs.It, ip)
	return true
}
