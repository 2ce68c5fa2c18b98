// Package ufs holds the real file-backed block device that mkfs uses
// as its on-disk volume: an SFS image is
// just a flat file of fixed-size blocks, and ahci_disk_t serves reads
// and writes against it the way the teacher's AHCI driver served
// ext2-style blocks.
package ufs

import "os"
import "sync"

import "fs"
import "mem"

//
// The "driver"
//

/// ahci_disk_t simulates a disk backed by a file.
type ahci_disk_t struct {
	sync.Mutex
	f *os.File
}

/// Seek moves the underlying file offset to o.
func (ahci *ahci_disk_t) Seek(o int) {
	_, err := ahci.f.Seek(int64(o), 0)
	if err != nil {
		panic(err)
	}
}

/// Start services a block device request.
func (ahci *ahci_disk_t) Start(req *fs.Bdev_req_t) bool {
	ahci.Lock() // lock to ensure that seek folllowed by read/write is atomic
	defer ahci.Unlock()

	switch req.Cmd {
	case fs.BDEV_READ:
		if req.Blks.Len() != 1 {
			panic("read: too many blocks")
		}
		blk := req.Blks.FrontBlock()
		ahci.Seek(blk.Block * fs.BSIZE)
		b := make([]byte, fs.BSIZE)
		n, err := ahci.f.Read(b)
		if n != fs.BSIZE || err != nil {
			panic(err)
		}
		blk.Data = &mem.Bytepg_t{}
		for i, _ := range b {
			blk.Data[i] = uint8(b[i])
		}
	case fs.BDEV_WRITE:
		for b := req.Blks.FrontBlock(); b != nil; b = req.Blks.NextBlock() {
			ahci.Seek(b.Block * fs.BSIZE)
			buf := make([]byte, fs.BSIZE)
			for i, _ := range buf {
				buf[i] = byte(b.Data[i])
			}
			n, err := ahci.f.Write(buf)
			if n != fs.BSIZE || err != nil {
				panic(err)
			}
			b.Done("Start")
		}
	case fs.BDEV_FLUSH:
		ahci.f.Sync()
	}
	return false
}

/// Stats returns statistics for the disk.
func (ahci *ahci_disk_t) Stats() string {
	return ""
}

func openDisk(d string) *ahci_disk_t {
	a := &ahci_disk_t{}
	f, uerr := os.OpenFile(d, os.O_RDWR, 0755)
	if uerr != nil {
		panic(uerr)
	}
	a.f = f
	return a
}

// CloseDisk flushes and closes a disk returned by OpenDisk or
// CreateDisk.
func CloseDisk(d fs.Disk_i) {
	d.(*ahci_disk_t).close()
}

func (ahci *ahci_disk_t) close() {
	// ahci.f.Sync()
	err := ahci.f.Close()
	if err != nil {
		panic(err)
	}
}

//
// Glue
//

/// blockmem_t provides memory for disk blocks.
type blockmem_t struct {
}

// BlockMem is the Blockmem_i mkfs uses to back the pages of a real,
// file-backed fs.Image_t.
var BlockMem fs.Blockmem_i = &blockmem_t{}

/// Alloc returns a zeroed memory page for block operations.
func (bm *blockmem_t) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	d := &mem.Bytepg_t{}
	return mem.Pa_t(0), d, true
}

/// Free releases a previously allocated page.
func (bm *blockmem_t) Free(pa mem.Pa_t) {
}

/// Refup increments the reference count of a page.
func (bm *blockmem_t) Refup(pa mem.Pa_t) {
}

// OpenDisk opens the file at path as a real block device backing an
// SFS image.
func OpenDisk(path string) fs.Disk_i {
	return openDisk(path)
}

// CreateDisk creates (or truncates) the file at path, sized for
// nblocks blocks, and opens it as a block device.
func CreateDisk(path string, nblocks int) fs.Disk_i {
	f, err := os.Create(path)
	if err != nil {
		panic(err)
	}
	if err := f.Truncate(int64(nblocks) * int64(fs.BSIZE)); err != nil {
		panic(err)
	}
	f.Close()
	return openDisk(path)
}
