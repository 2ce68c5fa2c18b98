package fs

import "util"

// Layout computes where each region of a freshly formatted volume
// lands: block 0 holds the superblock, block MorgueBlock holds the
// morgue directory, then the freemap, then a fixed-size inode region,
// then the journal, then ordinary data blocks allocated out of the
// freemap. Grounded on original_source kern/include/kern/sfs.h's
// SFS_FREEMAP_START and the mkfs layout computation in
// kern/fs/sfs/sfs_balloc.c.

// InodeSize is the on-disk size of one sfs_dinode record.
const InodeSize = inodeOffTIndirect + 4

// InodesPerBlock is how many inode records fit in one disk block.
const InodesPerBlock = BSIZE / InodeSize

// InodeBlocks returns how many blocks a region of ninodes inodes
// occupies, rounded up to a whole number of blocks.
func InodeBlocks(ninodes int) int {
	return util.Roundup(ninodes, InodesPerBlock) / InodesPerBlock
}

// Layout_t describes where each fixed region of a formatted volume
// begins, in blocks.
type Layout_t struct {
	NBlocks       int
	NInodes       int
	InodeStart    int
	InodeBlocks   int
	JournalStart  int
	JournalBlocks int
	DataStart     int
}

// PlanLayout lays out a volume of nblocks blocks holding ninodes
// inodes and a journal of journalBlocks blocks, in that order,
// immediately after the freemap.
func PlanLayout(nblocks, ninodes, journalBlocks int) Layout_t {
	fmBlocks := FreemapBlocks(nblocks)
	inodeStart := FreemapStart + fmBlocks
	inodeBlocks := InodeBlocks(ninodes)
	journalStart := inodeStart + inodeBlocks
	dataStart := journalStart + journalBlocks
	return Layout_t{
		NBlocks:       nblocks,
		NInodes:       ninodes,
		InodeStart:    inodeStart,
		InodeBlocks:   inodeBlocks,
		JournalStart:  journalStart,
		JournalBlocks: journalBlocks,
		DataStart:     dataStart,
	}
}

// InodeLocation returns the block number and in-block byte offset of
// inode ino under this layout.
func (l Layout_t) InodeLocation(ino int) (block, off int) {
	block = l.InodeStart + ino/InodesPerBlock
	off = (ino % InodesPerBlock) * InodeSize
	return
}
