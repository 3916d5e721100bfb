// Package ustr implements the small immutable byte-string type the kernel
// uses for paths and directory-entry names, kept and extended from
// biscuit's ustr.ustr.go.
package ustr

import "golang.org/x/text/unicode/norm"

// Ustr is an immutable path or name, represented as raw bytes so it can be
// copied in/out of user memory without a UTF-8 validity check.
type Ustr []uint8

// Isdot reports whether the string equals ".".
func (us Ustr) Isdot() bool {
	return len(us) == 1 && us[0] == '.'
}

// Isdotdot reports whether the string equals "..".
func (us Ustr) Isdotdot() bool {
	return len(us) == 2 && us[0] == '.' && us[1] == '.'
}

// Eq compares two Ustr values byte for byte.
func (us Ustr) Eq(s Ustr) bool {
	if len(us) != len(s) {
		return false
	}
	for i, v := range us {
		if v != s[i] {
			return false
		}
	}
	return true
}

// MkUstr returns an empty Ustr.
func MkUstr() Ustr { return Ustr{} }

// MkUstrDot returns a Ustr for ".".
func MkUstrDot() Ustr { return Ustr(".") }

// MkUstrDotDot returns a Ustr for "..".
func MkUstrDotDot() Ustr { return Ustr("..") }

// MkUstrRoot returns a Ustr for the root directory "/".
func MkUstrRoot() Ustr { return Ustr("/") }

// MkUstrSlice truncates buf at the first NUL byte, as produced by
// vm.CopyInStr when reading a path argument out of user memory.
func MkUstrSlice(buf []uint8) Ustr {
	for i := 0; i < len(buf); i++ {
		if buf[i] == 0 {
			return Ustr(buf[:i])
		}
	}
	return Ustr(buf)
}

// Extend appends '/' and p to the current path.
func (us Ustr) Extend(p Ustr) Ustr {
	tmp := make(Ustr, len(us), len(us)+1+len(p))
	copy(tmp, us)
	tmp = append(tmp, '/')
	return append(tmp, p...)
}

// ExtendStr appends '/' and p (as a Go string) to the current path.
func (us Ustr) ExtendStr(p string) Ustr {
	return us.Extend(Ustr(p))
}

// IsAbsolute reports whether the path begins with '/'.
func (us Ustr) IsAbsolute() bool {
	return len(us) > 0 && us[0] == '/'
}

// IndexByte returns the index of b in us, or -1.
func (us Ustr) IndexByte(b uint8) int {
	for i, v := range us {
		if v == b {
			return i
		}
	}
	return -1
}

// String renders the Ustr as a Go string, for diagnostics.
func (us Ustr) String() string {
	return string(us)
}

// Normalize returns us in Unicode NFC normal form, so that two
// byte-distinct spellings of the same canonical name (e.g. combining vs.
// precomposed accents) collide as one directory entry instead of silently
// aliasing two dirents with the same apparent name (see SPEC_FULL.md §3).
// Names that are not valid UTF-8 (most path components, in practice) pass
// through unchanged — NFC is only meaningful over decodable text.
func (us Ustr) Normalize() Ustr {
	return Ustr(norm.NFC.Bytes([]byte(us)))
}
