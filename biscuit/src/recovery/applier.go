package recovery

import (
	"fs"
	"record"
)

// ImageApplier drives the three recovery passes against a real
// fs.Image_t, translating each record type's redo/undo effect into
// the handful of on-disk writes sfs_recovery.c's buffer_read /
// buffer_mark_dirty calls would have made. Directories in this kernel
// hold their one table of direntries in their first direct block
// (fs.Image_t.FirstDataBlock), so SetDirentry's "ino" parameter (the
// ChangeDirentry record's owning inode) is resolved to that block
// before the write.
type ImageApplier struct {
	img *fs.Image_t
}

// NewImageApplier returns an Applier backed by img.
func NewImageApplier(img *fs.Image_t) *ImageApplier {
	return &ImageApplier{img: img}
}

func (a *ImageApplier) SetDirentry(ino, slot, newIno uint32, name string) {
	block := a.img.FirstDataBlock(ino)
	a.img.SetDirentry(block, int(slot), newIno, name)
}

func (a *ImageApplier) AllocBlock(block uint32) {
	a.img.Free.Mark(int(block), true)
}

func (a *ImageApplier) FreeBlock(block uint32) {
	a.img.Free.Mark(int(block), false)
}

func (a *ImageApplier) ZeroBlock(block uint32) {
	a.img.ZeroBlockRaw(int(block))
}

func (a *ImageApplier) SetSize(ino uint32, typ uint16, size uint32) {
	d := a.img.Dinode(int(ino))
	d.SetType(int(typ))
	d.SetSize(int(size))
	a.img.FlushInode(int(ino))
}

func (a *ImageApplier) SetLinkcount(ino uint32, typ uint32, count uint16) {
	d := a.img.Dinode(int(ino))
	d.SetType(int(typ))
	d.SetLinkcount(int(count))
	a.img.FlushInode(int(ino))
}

func (a *ImageApplier) SetIndirect(ino uint32, level record.IndirectionLevel, typ uint16, ptr uint32) {
	d := a.img.Dinode(int(ino))
	d.SetType(int(typ))
	switch level {
	case record.Single:
		d.SetIndirect(int(ptr))
	case record.Double:
		d.SetDindirect(int(ptr))
	case record.Triple:
		d.SetTindirect(int(ptr))
	default:
		panic("recovery: unknown indirection level")
	}
	a.img.FlushInode(int(ino))
}

func (a *ImageApplier) SetDirect(ino uint32, idx uint32, typ uint16, ptr uint32) {
	d := a.img.Dinode(int(ino))
	d.SetType(int(typ))
	d.SetDirect(int(idx), int(ptr))
	a.img.FlushInode(int(ino))
}

// SetIndirectEntry writes one pointer-array slot of an indirect
// block; blockIno here names the indirect block itself, not an inode
// (CHANGE_INO_IN_INDIRECT rewrites an entry inside a block of
// pointers, not an inode's own direct array).
func (a *ImageApplier) SetIndirectEntry(blockIno uint32, idx uint32, ptr uint32) {
	a.img.WriteWord(int(blockIno), int(idx), int(ptr))
}

func (a *ImageApplier) SetBlockWord(block uint32, wordOff uint32, val uint32) {
	a.img.WriteWord(int(block), int(wordOff), int(val))
}

func (a *ImageApplier) ReadBlockChecksum(block uint32) (uint32, bool) {
	if int(block) >= a.img.Layout.NBlocks {
		return 0, false
	}
	return Fletcher32(a.img.BlockWords(int(block))), true
}

func (a *ImageApplier) SetInodeType(ino uint32, typ uint16) {
	d := a.img.Dinode(int(ino))
	d.SetType(int(typ))
	a.img.FlushInode(int(ino))
}

func (a *ImageApplier) Linkcount(ino uint32) uint16 {
	return uint16(a.img.Dinode(int(ino)).Linkcount())
}

func (a *ImageApplier) MorgueLink(ino uint32) {
	a.img.MorgueLink(ino)
}
