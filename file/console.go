package file

import (
	"sv39kernel/spinlock"
)

// Console_t is the console character device backing defs.D_CONSOLE. Input
// bytes arrive out-of-band (from whatever the boot layer wires to the
// real UART, a Non-goal here per spec.md §1) via Feed; Read drains them
// FIFO. Output bytes are handed to Sink, an injected function, since
// actual UART/formatted-printing is an external collaborator.
//
// The ring-buffer head/tail-modulo arithmetic is adapted from biscuit's
// circbuf.Circbuf_t (biscuit/src/circbuf/circbuf.go): this kernel has no
// fdops.Userio_i/mem.Page_i to plug into that type directly, so the same
// wraparound bookkeeping is reimplemented here directly over a plain
// []byte ring sized for line-buffered console input rather than a lazily
// paged buffer.
type Console_t struct {
	lk   *spinlock.Lock_t
	ring [256]byte
	head int
	tail int
	Sink func([]byte) int
}

// MkConsole constructs an empty console device.
func MkConsole() *Console_t {
	return &Console_t{lk: spinlock.MkLock("file.console")}
}

func (c *Console_t) full() bool  { return c.head-c.tail == len(c.ring) }
func (c *Console_t) empty() bool { return c.head == c.tail }

// Feed appends bytes produced by the external input source (e.g. a host
// terminal) into the ring, dropping bytes once full.
func (c *Console_t) Feed(h *spinlock.Hart_t, in []byte) int {
	c.lk.Acquire(h)
	defer c.lk.Release(h)
	n := 0
	for _, b := range in {
		if c.full() {
			break
		}
		c.ring[c.head%len(c.ring)] = b
		c.head++
		n++
	}
	return n
}

// Read drains up to len(dst) queued input bytes without blocking; a
// caller wanting blocking console reads layers a sleep/wakeup on top via
// proc, the way spec.md §4.11's timer handler does for `&ticks`.
func (c *Console_t) Read(h *spinlock.Hart_t, dst []byte) uint32 {
	c.lk.Acquire(h)
	defer c.lk.Release(h)
	var n int
	for n < len(dst) && !c.empty() {
		dst[n] = c.ring[c.tail%len(c.ring)]
		c.tail++
		n++
	}
	return uint32(n)
}

// Write hands src to Sink and reports the count Sink returns (a negative
// count is reported as 0). With no Sink attached, src is discarded and
// the full length is reported.
func (c *Console_t) Write(h *spinlock.Hart_t, src []byte) uint32 {
	if c.Sink == nil {
		return uint32(len(src))
	}
	n := c.Sink(src)
	if n < 0 {
		n = 0
	}
	return uint32(n)
}

// Dev wraps c as a Dev_t for registration in a Devtable_t.
func (c *Console_t) Dev() *Dev_t {
	return &Dev_t{Read: c.Read, Write: c.Write}
}

// DevNull backs defs.D_DEVNULL: reads report EOF (0 bytes), writes
// silently discard everything.
func DevNull() *Dev_t {
	return &Dev_t{
		Read:  func(*spinlock.Hart_t, []byte) uint32 { return 0 },
		Write: func(_ *spinlock.Hart_t, src []byte) uint32 { return uint32(len(src)) },
	}
}
