// Package hashtable provides a fixed-bucket-count hash table with a
// lock-free Get, adapted from biscuit's hashtable.Hashtable_t
// (biscuit/src/hashtable/hashtable.go) for this kernel's syscall
// dispatch table (spec.md §4.11): the table is populated once at boot
// and every hart's trap handler calls Get concurrently thereafter, which
// is exactly the read-mostly workload Hashtable_t's atomic-pointer bucket
// chains are built for.
package hashtable

import (
	"fmt"
	"sync"
	"sync/atomic"
	"unsafe"
)

type elem_t struct {
	key     interface{}
	value   interface{}
	keyHash uint32
	next    *elem_t
}

type bucket_t struct {
	sync.RWMutex
	first *elem_t
}

// Hashtable_t maps int keys (syscall numbers, in this kernel's use) to
// arbitrary values, with chaining resolved by per-bucket locks on writes
// and atomic pointer loads on reads.
type Hashtable_t struct {
	table []*bucket_t
}

// MkHash allocates a table with size buckets.
func MkHash(size int) *Hashtable_t {
	ht := &Hashtable_t{table: make([]*bucket_t, size)}
	for i := range ht.table {
		ht.table[i] = &bucket_t{}
	}
	return ht
}

// Get looks up key without taking any lock, matching biscuit's
// lock-free-read design: Set only ever prepends a fully initialized
// elem_t, so a concurrent reader sees a consistent (possibly stale)
// chain.
func (ht *Hashtable_t) Get(key int) (interface{}, bool) {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	for e := loadptr(&b.first); e != nil; e = loadptr(&e.next) {
		if e.keyHash == kh && e.key.(int) == key {
			return e.value, true
		}
	}
	return nil, false
}

// Set inserts key/value, returning false if key was already present.
func (ht *Hashtable_t) Set(key int, value interface{}) bool {
	kh := khash(key)
	b := ht.table[ht.hash(kh)]
	b.Lock()
	defer b.Unlock()
	for e := b.first; e != nil; e = e.next {
		if e.keyHash == kh && e.key.(int) == key {
			return false
		}
	}
	n := &elem_t{key: key, value: value, keyHash: kh, next: b.first}
	storeptr(&b.first, n)
	return true
}

func (ht *Hashtable_t) hash(keyHash uint32) int {
	return int(keyHash % uint32(len(ht.table)))
}

func khash(key int) uint32 {
	return uint32(2654435761) * uint32(key)
}

func loadptr(e **elem_t) *elem_t {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(e))
	p := atomic.LoadPointer(ptr)
	return (*elem_t)(unsafe.Pointer(p))
}

func storeptr(p **elem_t, n *elem_t) {
	ptr := (*unsafe.Pointer)(unsafe.Pointer(p))
	atomic.StorePointer(ptr, unsafe.Pointer(n))
}

// String is a diagnostic dump of non-empty buckets.
func (ht *Hashtable_t) String() string {
	s := ""
	for i, b := range ht.table {
		if b.first == nil {
			continue
		}
		s += fmt.Sprintf("bucket %d:", i)
		for e := b.first; e != nil; e = e.next {
			s += fmt.Sprintf(" %v", e.key)
		}
		s += "\n"
	}
	return s
}
