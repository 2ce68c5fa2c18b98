package fs

import "mem"

// Superblock byte layout, matching original_source kern/include/kern/sfs.h
// struct sfs_superblock: magic(4) nblocks(4) volname(32) journalstart(4)
// journalblocks(4) reserved(116*4). The teacher's own Superblock_t
// overlaid a biscuit-native layout (log length, orphan map, inode
// bitmap) onto the same "struct is a page pointer, fieldr/fieldw do
// the rest" idiom; this keeps that idiom and replaces the field set
// with SFS's.
const (
	SFSMagic          = 0xabadf001
	VolNameSize       = 32
	superOffMagic     = 0
	superOffNBlocks   = 4
	superOffVolName   = 8
	superOffJrnlStart = 8 + VolNameSize
	superOffJrnlBlks  = 8 + VolNameSize + 4
)

/// Superblock_t represents the on-disk SFS superblock (block 0).
type Superblock_t struct {
	Data *mem.Bytepg_t
}

/// Magic returns the SFS magic number; should equal SFSMagic.
func (sb *Superblock_t) Magic() int { return fieldr(sb.Data, superOffMagic) }

/// SetMagic writes the magic number.
func (sb *Superblock_t) SetMagic(v int) { fieldw(sb.Data, superOffMagic, v) }

/// NBlocks returns the total number of blocks in the filesystem.
func (sb *Superblock_t) NBlocks() int { return fieldr(sb.Data, superOffNBlocks) }

/// SetNBlocks writes the total block count.
func (sb *Superblock_t) SetNBlocks(v int) { fieldw(sb.Data, superOffNBlocks, v) }

/// VolName returns the volume name.
func (sb *Superblock_t) VolName() string {
	return fieldstrr(sb.Data, superOffVolName, VolNameSize)
}

/// SetVolName writes the volume name, truncating to VolNameSize.
func (sb *Superblock_t) SetVolName(s string) {
	fieldstrw(sb.Data, superOffVolName, VolNameSize, s)
}

/// JournalStart returns the first block of the journal.
func (sb *Superblock_t) JournalStart() int { return fieldr(sb.Data, superOffJrnlStart) }

/// SetJournalStart writes the journal's starting block.
func (sb *Superblock_t) SetJournalStart(v int) { fieldw(sb.Data, superOffJrnlStart, v) }

/// JournalBlocks returns the number of blocks the journal occupies.
func (sb *Superblock_t) JournalBlocks() int { return fieldr(sb.Data, superOffJrnlBlks) }

/// SetJournalBlocks writes the journal's block count.
func (sb *Superblock_t) SetJournalBlocks(v int) { fieldw(sb.Data, superOffJrnlBlks, v) }

/// Init stamps a fresh superblock for a volume of the given size.
func (sb *Superblock_t) Init(volname string, nblocks, journalStart, journalBlocks int) {
	sb.SetMagic(SFSMagic)
	sb.SetNBlocks(nblocks)
	sb.SetVolName(volname)
	sb.SetJournalStart(journalStart)
	sb.SetJournalBlocks(journalBlocks)
}

/// Valid reports whether the superblock carries the SFS magic number.
func (sb *Superblock_t) Valid() bool { return sb.Magic() == SFSMagic }
