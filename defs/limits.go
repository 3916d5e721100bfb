package defs

import "sync/atomic"

// Syslimit tracks the kernel's fixed-capacity resource pools. Adapted from
// biscuit's limits.Syslimit_t. Only the process table checks its counter
// (Nproc, taken and given back by proc.Table_t); Nfile, Nbuf, Nmmap and
// Ninode are not consulted by the open-file table, buffer cache, mmap
// pool or inode table, which are bounded by their own fixed sizes.
type Syslimit_t struct {
	Nproc   Sysatomic_t
	Nfile   Sysatomic_t
	Nbuf    Sysatomic_t
	Nmmap   Sysatomic_t
	Ninode  Sysatomic_t
}

// Sysatomic_t is an atomically-adjusted counter that refuses to go
// negative: Taken subtracts only if the result would stay >= 0.
type Sysatomic_t int64

// Taken tries to consume n units of the limit; it reports whether there
// was enough headroom.
func (s *Sysatomic_t) Taken(n uint) bool {
	if atomic.AddInt64((*int64)(s), -int64(n)) >= 0 {
		return true
	}
	atomic.AddInt64((*int64)(s), int64(n))
	return false
}

// Take consumes one unit of the limit.
func (s *Sysatomic_t) Take() bool { return s.Taken(1) }

// Given returns n units of the limit.
func (s *Sysatomic_t) Given(n uint) {
	atomic.AddInt64((*int64)(s), int64(n))
}

// Give returns one unit of the limit.
func (s *Sysatomic_t) Give() { s.Given(1) }

// Remaining reports the current headroom (may be read racily; meant for
// diagnostics, not for gating allocation decisions).
func (s *Sysatomic_t) Remaining() int64 {
	return atomic.LoadInt64((*int64)(s))
}

// Syslimit holds the process-wide default capacities. Values are small
// relative to biscuit's (which targeted real hardware); this kernel's
// fixed-size tables are sized for test determinism, not production scale.
var Syslimit = &Syslimit_t{
	Nproc:  64,
	Nfile:  256,
	Nbuf:   64,
	Nmmap:  1024,
	Ninode: 128,
}
