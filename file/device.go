package file

import (
	"sv39kernel/defs"
	"sv39kernel/spinlock"
)

// Dev_t is one entry of the per-major device dispatch table (spec.md
// §4.10: "DEVICE → per-major function table"), grounded on biscuit's
// defs.Devops_t/devlist idiom (defs/device.go) and
// _examples/original_source/kernel/fs/file.c's devlist[N_DEV].
type Dev_t struct {
	Read  func(h *spinlock.Hart_t, dst []byte) uint32
	Write func(h *spinlock.Hart_t, src []byte) uint32
}

// N_DEV bounds the device table the way defs.D_FIRST/D_LAST bound the
// major numbers this kernel actually issues.
const N_DEV = defs.D_LAST + 1

// Devtable_t is the fixed device dispatch table, indexed by major number.
type Devtable_t struct {
	devs [N_DEV]*Dev_t
}

// MkDevtable returns an empty device table; Register fills in majors as
// drivers attach (spec.md's boot sequence registers the console before
// any process can open it).
func MkDevtable() *Devtable_t { return &Devtable_t{} }

// Register installs d as the handler for major. Re-registering a major is
// fatal — it almost certainly means two drivers are racing to claim the
// same device number.
func (dt *Devtable_t) Register(major int, d *Dev_t) {
	if major < 0 || major >= N_DEV {
		panic("file: device major out of range")
	}
	if dt.devs[major] != nil {
		panic("file: device major already registered")
	}
	dt.devs[major] = d
}

func (dt *Devtable_t) read(h *spinlock.Hart_t, major uint16, dst []byte) uint32 {
	d := dt.lookup(major)
	if d == nil || d.Read == nil {
		return 0
	}
	return d.Read(h, dst)
}

func (dt *Devtable_t) write(h *spinlock.Hart_t, major uint16, src []byte) uint32 {
	d := dt.lookup(major)
	if d == nil || d.Write == nil {
		return 0
	}
	return d.Write(h, src)
}

func (dt *Devtable_t) lookup(major uint16) *Dev_t {
	if int(major) < 0 || int(major) >= N_DEV {
		return nil
	}
	return dt.devs[major]
}
