// Package defs holds types and constants shared across the kernel that
// would otherwise create import cycles: error codes, device numbers,
// syscall argument conventions, and resource limits.
package defs

// Err_t is an errno-style error code; the codes below are positive. Zero
// means success.
type Err_t int

// Error codes returned to user space. Numbering mirrors the xv6/POSIX
// convention the on-disk and syscall layers were distilled from.
const (
	EPERM   Err_t = 1
	ENOENT  Err_t = 2
	ESRCH   Err_t = 3
	EINTR   Err_t = 4
	EIO     Err_t = 5
	E2BIG   Err_t = 7
	EBADF   Err_t = 9
	ECHILD  Err_t = 10
	ENOMEM  Err_t = 12
	EACCES  Err_t = 13
	EFAULT  Err_t = 14
	ENOTDIR Err_t = 20
	EISDIR  Err_t = 21
	EINVAL  Err_t = 22
	ENFILE  Err_t = 23
	EMFILE  Err_t = 24
	EFBIG   Err_t = 27
	ENOSPC  Err_t = 28
	ESPIPE  Err_t = 29
	EEXIST  Err_t = 17
	ENOTEMPTY Err_t = 39
	ENAMETOOLONG Err_t = 36
	ENOHEAP Err_t = 1000 // kernel-internal: no free kernel heap frame
)

// Tid_t identifies a kernel thread (here, one per hart's running process).
type Tid_t int

// Open-file mode flags used by the open syscall.
const (
	O_RDONLY int = 0
	O_WRONLY int = 1
	O_RDWR   int = 2
	O_CREAT  int = 0x40
)

// Lseek whence values per spec.md §6.
const (
	SEEK_SET int = 0
	SEEK_ADD int = 1
	SEEK_SUB int = 2
)

// SEEK_END has the same value as SEEK_ADD, so lseek treats it as an
// offset added to the current position; there is no whence relative to
// end of file.
const SEEK_END = SEEK_ADD
