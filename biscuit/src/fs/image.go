package fs

import (
	"strconv"

	"hashtable"
)

// Image_t is a live SFS volume: a cached view of the superblock, the
// free block bitmap, and whichever disk blocks have been touched so
// far, all backed by a Disk_i. It is the concrete thing mkfs formats
// and recovery.Recover replays against, in place of the teacher's
// ufs.Ufs_t (a whole POSIX open/read/write layer this kernel subset
// has no process or syscall surface to drive).
//
// Blocks are cached by number in a hashtable.Hashtable_t, the same
// lock-free-read hash table the teacher used for its vnode and page
// caches; here it indexes cached Bdev_block_t instead.
type Image_t struct {
	disk   Disk_i
	mem    Blockmem_i
	cache  *hashtable.Hashtable_t
	Super  *Superblock_t
	Free   *Freemap_t
	Layout Layout_t
}

// CachedBlocks returns every block currently cached by the image, for
// a checkpoint round's dirty-buffer scan.
func (img *Image_t) CachedBlocks() []*Bdev_block_t {
	pairs := img.cache.Elems()
	blks := make([]*Bdev_block_t, 0, len(pairs))
	for _, p := range pairs {
		blks = append(blks, p.Value.(*Bdev_block_t))
	}
	return blks
}

// FreemapMeta returns the freemap's dirty/oldest-transaction tracker,
// for a checkpoint round's keep-LSN computation.
func (img *Image_t) FreemapMeta() *Metadata_t {
	return &img.Free.Meta
}

// Relse implements Block_cb_i. Image_t keeps every block it has
// touched cached for the lifetime of the image, so there is nothing
// to do when a caller releases its reference.
func (img *Image_t) Relse(b *Bdev_block_t, s string) {}

func (img *Image_t) block(n int) *Bdev_block_t {
	if v, ok := img.cache.Get(n); ok {
		return v.(*Bdev_block_t)
	}
	b := MkBlock_newpage(n, "image", img.mem, img.disk, img)
	b.Read()
	img.cache.Set(n, b)
	return b
}

// newBlock allocates and zeroes a fresh block without reading it from
// disk first, for blocks mkfs is about to format.
func (img *Image_t) newBlock(n int) *Bdev_block_t {
	b := MkBlock_newpage(n, "image", img.mem, img.disk, img)
	img.cache.Set(n, b)
	return b
}

func (img *Image_t) writeBack(b *Bdev_block_t) {
	b.Write()
}

// NewImage formats a fresh volume of nblocks blocks with room for
// ninodes inodes and a journalBlocks-block journal, writes its
// superblock, and marks every block the layout reserves (superblock,
// morgue, freemap, inodes, journal) as in-use in the freemap.
func NewImage(disk Disk_i, mem Blockmem_i, nblocks, ninodes, journalBlocks int) *Image_t {
	img := &Image_t{
		disk:   disk,
		mem:    mem,
		cache:  hashtable.MkHash(64),
		Free:   MkFreemap(nblocks),
		Layout: PlanLayout(nblocks, ninodes, journalBlocks),
	}

	for b := 0; b < img.Layout.DataStart; b++ {
		img.Free.Mark(b, true)
	}

	sb := img.newBlock(0)
	img.Super = &Superblock_t{Data: sb.Data}
	img.Super.Init("sfsim", nblocks, img.Layout.JournalStart, journalBlocks)
	img.writeBack(sb)

	img.newBlock(MorgueBlock)

	root := img.Dinode(RootIno)
	root.SetType(TypeDir)
	root.SetLinkcount(1)
	img.FlushInode(RootIno)
	img.AllocDirBlock(RootIno)

	return img
}

// OpenImage loads an already-formatted volume, reading its superblock
// back (used when reopening an image mkfs produced earlier, or after a
// simulated crash). The layout is recomputed from nblocks, ninodes and
// journalBlocks rather than taken from the superblock, and the freemap
// starts out empty; it is not read back from disk.
func OpenImage(disk Disk_i, mem Blockmem_i, nblocks, ninodes, journalBlocks int) *Image_t {
	img := &Image_t{
		disk:   disk,
		mem:    mem,
		cache:  hashtable.MkHash(64),
		Free:   MkFreemap(nblocks),
		Layout: PlanLayout(nblocks, ninodes, journalBlocks),
	}
	sb := img.block(0)
	img.Super = &Superblock_t{Data: sb.Data}
	return img
}

// Dinode returns the inode record for ino, backed by its live cached
// block so writes through the returned Dinode_t are visible to later
// Dinode calls for the same inode before the block is written back.
func (img *Image_t) Dinode(ino int) *Dinode_t {
	block, off := img.Layout.InodeLocation(ino)
	blk := img.block(block)
	return &Dinode_t{Data: blk.Data, Off: off}
}

// FlushInode flushes the block backing ino to disk.
func (img *Image_t) FlushInode(ino int) {
	block, _ := img.Layout.InodeLocation(ino)
	img.writeBack(img.block(block))
}

// FirstDataBlock returns ino's first direct data block, the single
// block this kernel's directories use to hold their direntry table.
func (img *Image_t) FirstDataBlock(ino uint32) int {
	return img.Dinode(int(ino)).Direct(0)
}

// Direntry returns the direntry in slot `slot` of directory block
// `block`.
func (img *Image_t) Direntry(block, slot int) *Direntry_t {
	return DirentAt(img.block(block).Data, slot)
}

// SetDirentry writes a directory entry and flushes its block.
func (img *Image_t) SetDirentry(block, slot int, ino uint32, name string) {
	e := img.Direntry(block, slot)
	e.SetIno(int(ino))
	e.SetName(name)
	img.writeBack(img.block(block))
}

// ZeroBlockRaw zeroes a block's on-disk content and flushes it.
func (img *Image_t) ZeroBlockRaw(block int) {
	blk := img.block(block)
	for i := 0; i < BSIZE; i++ {
		blk.Data[i] = 0
	}
	img.writeBack(blk)
}

// ReadWord reads the 32-bit big-endian word at word index wordIdx
// within block.
func (img *Image_t) ReadWord(block, wordIdx int) int {
	return fieldr(img.block(block).Data, wordIdx*4)
}

// WriteWord writes val at word index wordIdx within block and
// flushes it.
func (img *Image_t) WriteWord(block, wordIdx, val int) {
	blk := img.block(block)
	fieldw(blk.Data, wordIdx*4, val)
	img.writeBack(blk)
}

// BlockWords returns block's content as a slice of big-endian 16-bit
// words, for Fletcher-32 checksumming.
func (img *Image_t) BlockWords(block int) []uint16 {
	data := img.block(block).Data
	words := make([]uint16, BSIZE/2)
	for i := range words {
		words[i] = uint16(data[2*i])<<8 | uint16(data[2*i+1])
	}
	return words
}

// AllocBlock claims and returns the first free data block, panicking
// if the volume is full.
func (img *Image_t) AllocBlock() int {
	b := img.Free.Alloc()
	if b < 0 {
		panic("fs: out of blocks")
	}
	return b
}

// AllocDirBlock allocates and zeroes ino's first direct block for use
// as its directory entry table.
func (img *Image_t) AllocDirBlock(ino int) int {
	b := img.AllocBlock()
	img.ZeroBlockRaw(b)
	d := img.Dinode(ino)
	d.SetDirect(0, b)
	img.FlushInode(ino)
	return b
}

// AllocInode returns the first inode slot whose on-disk record is
// still free (mkfs and the recovery morgue sweep are the only two
// writers that hand out fresh inode numbers; neither needs a separate
// inode bitmap since Dinode_t.Free() already encodes presence).
func (img *Image_t) AllocInode() int {
	for ino := RootIno + 1; ino < img.Layout.NInodes; ino++ {
		if img.Dinode(ino).Free() {
			return ino
		}
	}
	panic("fs: out of inodes")
}

// WriteBlockBytes copies data (truncated or zero-padded to BSIZE)
// into block and flushes it.
func (img *Image_t) WriteBlockBytes(block int, data []byte) {
	blk := img.block(block)
	n := copy(blk.Data[:BSIZE], data)
	for i := n; i < BSIZE; i++ {
		blk.Data[i] = 0
	}
	img.writeBack(blk)
}

// addDirent installs a (name, ino) mapping in dirIno's directory
// block, panicking if the directory's single block of slots is full.
func (img *Image_t) addDirent(dirIno int, name string, ino uint32) {
	block := img.FirstDataBlock(uint32(dirIno))
	for slot := 0; slot < DirentsPerBlock(); slot++ {
		if img.Direntry(block, slot).Free() {
			img.SetDirentry(block, slot, ino, name)
			return
		}
	}
	panic("fs: directory full: " + name)
}

// MkDir creates a new, empty subdirectory named name inside dirIno
// and links it in, returning the new directory's inode number.
func (img *Image_t) MkDir(dirIno int, name string) int {
	ino := img.AllocInode()
	d := img.Dinode(ino)
	d.SetType(TypeDir)
	d.SetLinkcount(1)
	img.FlushInode(ino)
	img.AllocDirBlock(ino)
	img.addDirent(dirIno, name, uint32(ino))
	return ino
}

// MkFile creates a new regular file named name inside dirIno holding
// content, linking it in, and returns the new file's inode number.
// Content beyond what the direct block array can address (BSIZE times
// the direct pointer count) is truncated; this kernel subset's mkfs
// only ever populates small skeleton files.
func (img *Image_t) MkFile(dirIno int, name string, content []byte) int {
	ino := img.AllocInode()
	d := img.Dinode(ino)
	d.SetType(TypeFile)
	d.SetLinkcount(1)

	off := 0
	for blkIdx := 0; blkIdx < NDirect && off < len(content); blkIdx++ {
		b := img.AllocBlock()
		end := off + BSIZE
		if end > len(content) {
			end = len(content)
		}
		img.WriteBlockBytes(b, content[off:end])
		d.SetDirect(blkIdx, b)
		off = end
	}
	d.SetSize(off)
	img.FlushInode(ino)
	img.addDirent(dirIno, name, uint32(ino))
	return ino
}

// MorgueLink records ino in the morgue directory's first free slot,
// mirroring sfs_domount's post-redo handling of unlinked-but-still
// link-counted inodes.
func (img *Image_t) MorgueLink(ino uint32) {
	for slot := 0; slot < DirentsPerBlock(); slot++ {
		e := img.Direntry(MorgueBlock, slot)
		if e.Free() {
			img.SetDirentry(MorgueBlock, slot, ino, strconv.Itoa(int(ino)))
			return
		}
	}
	panic("morgue directory full")
}
