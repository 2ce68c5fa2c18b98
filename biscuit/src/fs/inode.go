package fs

import "mem"

// On-disk inode layout, matching original_source kern/include/kern/sfs.h
// struct sfs_dinode: sfi_size(4) sfi_type(2) sfi_linkcount(2)
// sfi_direct[15](4 each) sfi_indirect(4) sfi_dindirect(4) sfi_tindirect(4),
// InodeSize bytes in all with no padding: InodesPerBlock records are
// packed back to back into each block of the inode region (layout.go).
const (
	NDirect    = 15
	NIndirect  = 1
	NDIndirect = 1
	NTIndirect = 1
	DBPerIDB   = 128 // direct block pointers per indirect block

	TypeInval = 0
	TypeFile  = 1
	TypeDir   = 2

	inodeOffSize      = 0
	inodeOffType      = 4
	inodeOffLinkcount = 6
	inodeOffDirect    = 8
	inodeOffIndirect  = inodeOffDirect + NDirect*4
	inodeOffDIndirect = inodeOffIndirect + 4
	inodeOffTIndirect = inodeOffDIndirect + 4
)

/// Dinode_t represents an on-disk SFS inode, the fixed-size record
/// describing one file or directory's size, type, and block pointers.
/// Off is the byte offset of this particular inode's record within
/// Data, since InodesPerBlock of them are packed into one disk block.
type Dinode_t struct {
	Data *mem.Bytepg_t
	Off  int
}

/// Size returns the file's size in bytes.
func (d *Dinode_t) Size() int { return fieldr(d.Data, d.Off+inodeOffSize) }

/// SetSize writes the file's size in bytes.
func (d *Dinode_t) SetSize(v int) { fieldw(d.Data, d.Off+inodeOffSize, v) }

/// Type returns one of TypeFile, TypeDir, or TypeInval.
func (d *Dinode_t) Type() int { return field16r(d.Data, d.Off+inodeOffType) }

/// SetType writes the inode's type.
func (d *Dinode_t) SetType(v int) { field16w(d.Data, d.Off+inodeOffType, v) }

/// Linkcount returns the number of hard links to this inode.
func (d *Dinode_t) Linkcount() int { return field16r(d.Data, d.Off+inodeOffLinkcount) }

/// SetLinkcount writes the inode's hard-link count.
func (d *Dinode_t) SetLinkcount(v int) { field16w(d.Data, d.Off+inodeOffLinkcount, v) }

/// Direct returns the n'th direct block pointer (n in [0, NDirect)).
func (d *Dinode_t) Direct(n int) int {
	return fieldr(d.Data, d.Off+inodeOffDirect+n*4)
}

/// SetDirect writes the n'th direct block pointer.
func (d *Dinode_t) SetDirect(n, v int) {
	fieldw(d.Data, d.Off+inodeOffDirect+n*4, v)
}

/// Indirect returns the singly-indirect block pointer.
func (d *Dinode_t) Indirect() int { return fieldr(d.Data, d.Off+inodeOffIndirect) }

/// SetIndirect writes the singly-indirect block pointer.
func (d *Dinode_t) SetIndirect(v int) { fieldw(d.Data, d.Off+inodeOffIndirect, v) }

/// Dindirect returns the doubly-indirect block pointer.
func (d *Dinode_t) Dindirect() int { return fieldr(d.Data, d.Off+inodeOffDIndirect) }

/// SetDindirect writes the doubly-indirect block pointer.
func (d *Dinode_t) SetDindirect(v int) { fieldw(d.Data, d.Off+inodeOffDIndirect, v) }

/// Tindirect returns the triply-indirect block pointer.
func (d *Dinode_t) Tindirect() int { return fieldr(d.Data, d.Off+inodeOffTIndirect) }

/// SetTindirect writes the triply-indirect block pointer.
func (d *Dinode_t) SetTindirect(v int) { fieldw(d.Data, d.Off+inodeOffTIndirect, v) }

/// Zero clears an inode record to all zeros (a free slot).
func (d *Dinode_t) Zero() {
	for i := d.Off; i < d.Off+InodeSize; i++ {
		d.Data[i] = 0
	}
}

/// Free reports whether the inode slot is unused.
func (d *Dinode_t) Free() bool { return d.Type() == TypeInval }
