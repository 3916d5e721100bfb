// Package diskimg backs fs.Disk_i with a regular host file instead of a
// virtio queue, so the buffer cache in package fs drives a real
// syscall-level block device end to end (open/pread/pwrite) rather than
// the in-memory fs_test.go fake. Grounded on golang.org/x/sys/unix, the
// same dependency the teacher repo (biscuit) carries as an indirect
// requirement of its own low-level plumbing.
package diskimg

import (
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"sv39kernel/fs"
)

// Disk_t implements fs.Disk_i against a single host file: one fs.BSIZE
// block per fs.Bdev_req_t.Block. Requests are served synchronously by a
// single worker goroutine reading off a channel, so concurrent callers
// (several harts racing on the buffer cache) get serialized disk access
// the same way a real single-queue block device would.
type Disk_t struct {
	fd      int
	nblocks uint32

	reqCh chan *fs.Bdev_req_t
	done  chan struct{}
	once  sync.Once
}

// Open opens (creating if needed) path as a host-backed disk image of
// nblocks fs.BSIZE blocks, truncating/extending it to exactly that size,
// and starts the worker goroutine that services fs.Bdev_req_t traffic.
func Open(path string, nblocks uint32) (*Disk_t, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0600)
	if err != nil {
		return nil, fmt.Errorf("diskimg: open %s: %w", path, err)
	}
	size := int64(nblocks) * int64(fs.BSIZE)
	if err := unix.Ftruncate(fd, size); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("diskimg: truncate %s to %d bytes: %w", path, size, err)
	}
	d := &Disk_t{
		fd:      fd,
		nblocks: nblocks,
		reqCh:   make(chan *fs.Bdev_req_t),
		done:    make(chan struct{}),
	}
	go d.worker()
	return d, nil
}

// Start implements fs.Disk_i. It never blocks on the I/O itself — it
// only hands the request to the worker goroutine, which does the pread
// or pwrite and then closes req.AckCh (fs.Bdev_req_t's documented
// completion signal).
func (d *Disk_t) Start(req *fs.Bdev_req_t) bool {
	if req.Block < 0 || uint32(req.Block) >= d.nblocks {
		return false
	}
	select {
	case d.reqCh <- req:
		return true
	case <-d.done:
		return false
	}
}

func (d *Disk_t) worker() {
	for {
		var req *fs.Bdev_req_t
		select {
		case req = <-d.reqCh:
		case <-d.done:
			return
		}
		off := int64(req.Block) * int64(fs.BSIZE)
		switch req.Cmd {
		case fs.BDEV_READ:
			buf := make([]byte, fs.BSIZE)
			if _, err := unix.Pread(d.fd, buf, off); err != nil {
				close(req.AckCh)
				continue
			}
			copy(req.Data, buf)
		case fs.BDEV_WRITE:
			buf := make([]byte, fs.BSIZE)
			copy(buf, req.Data)
			unix.Pwrite(d.fd, buf, off)
		}
		close(req.AckCh)
	}
}

// Close stops the worker goroutine and closes the backing file. Safe to
// call more than once.
func (d *Disk_t) Close() error {
	var err error
	d.once.Do(func() {
		close(d.done)
		err = unix.Close(d.fd)
	})
	return err
}
