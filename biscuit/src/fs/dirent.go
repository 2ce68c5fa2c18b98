package fs

import "mem"

// On-disk directory entry layout, matching original_source
// kern/include/kern/sfs.h struct sfs_direntry: sfd_ino(4) sfd_name[60].
// A directory block packs BSIZE/sizeof(sfs_direntry) entries back to
// back; an entry with ino == NoIno is a free slot.
const (
	NameLen = 60
	NoIno   = 0 // SFS_NOINO
	RootIno = 1 // SFS_ROOTDIR_INO

	direntSize      = 4 + NameLen
	direntOffIno    = 0
	direntOffName   = 4
	direntsPerBlock = BSIZE / direntSize
)

/// Direntry_t is one slot of an on-disk directory block.
type Direntry_t struct {
	data *mem.Bytepg_t
	off  int
}

/// DirentAt returns the n'th directory entry in a directory block.
func DirentAt(data *mem.Bytepg_t, n int) *Direntry_t {
	return &Direntry_t{data: data, off: n * direntSize}
}

/// Ino returns the entry's inode number, or NoIno if the slot is free.
func (e *Direntry_t) Ino() int { return fieldr(e.data, e.off+direntOffIno) }

/// SetIno writes the entry's inode number.
func (e *Direntry_t) SetIno(v int) { fieldw(e.data, e.off+direntOffIno, v) }

/// Name returns the entry's filename.
func (e *Direntry_t) Name() string { return fieldstrr(e.data, e.off+direntOffName, NameLen) }

/// SetName writes the entry's filename, truncated to NameLen.
func (e *Direntry_t) SetName(s string) { fieldstrw(e.data, e.off+direntOffName, NameLen, s) }

/// Free reports whether this slot holds no entry.
func (e *Direntry_t) Free() bool { return e.Ino() == NoIno }

/// Clear marks the slot free.
func (e *Direntry_t) Clear() {
	e.SetIno(NoIno)
	e.SetName("")
}

/// DirentsPerBlock is the number of directory entries packed per block.
func DirentsPerBlock() int { return direntsPerBlock }
