package fs

import "mem"

// SimpleMem_t is a Blockmem_i that always hands out a fresh zeroed
// page; block buffers here never need real physical-frame accounting
// the way coremap's pages do.
type SimpleMem_t struct{}

func (SimpleMem_t) Alloc() (mem.Pa_t, *mem.Bytepg_t, bool) {
	return mem.Pa_t(0), &mem.Bytepg_t{}, true
}
func (SimpleMem_t) Free(mem.Pa_t)  {}
func (SimpleMem_t) Refup(mem.Pa_t) {}

// MemDisk_t is an in-memory Disk_i, for driving an Image_t inside a
// simulation without a backing file. Grounded on the same Start/Stats
// contract ufs's real ahci_disk_t implements; kept here, separate from
// ufs, so cmd/sfsim can format and recover a volume without touching
// the filesystem.
type MemDisk_t struct {
	blocks map[int][BSIZE]byte
}

// NewMemDisk returns an empty in-memory disk.
func NewMemDisk() *MemDisk_t {
	return &MemDisk_t{blocks: make(map[int][BSIZE]byte)}
}

// Start services a block device request against the in-memory store.
func (d *MemDisk_t) Start(req *Bdev_req_t) bool {
	switch req.Cmd {
	case BDEV_READ:
		blk := req.Blks.FrontBlock()
		raw := d.blocks[blk.Block]
		for i := 0; i < BSIZE; i++ {
			blk.Data[i] = raw[i]
		}
	case BDEV_WRITE:
		for b := req.Blks.FrontBlock(); b != nil; b = req.Blks.NextBlock() {
			var raw [BSIZE]byte
			for i := 0; i < BSIZE; i++ {
				raw[i] = b.Data[i]
			}
			d.blocks[b.Block] = raw
			b.Done("Start")
		}
	case BDEV_FLUSH:
	}
	return false
}

// Stats returns an empty statistics string; the in-memory disk has
// nothing interesting to report.
func (d *MemDisk_t) Stats() string { return "" }
