// Package pagetable implements the per-address-space two-level mapping
// from virtual page number to (present, ppn) or (absent, swap slot,
// zeroed, writable).
//
// Grounded on original_source kern/vm/pagetable.c and include/paging.h
// (struct pte, struct pagetable, PD_ENTRIES/PT_ENTRIES) and, for the
// bit-packed single-word PTE idiom, the teacher's mem.go Pa_t flag
// constants (PTE_P, PTE_W, ...). The original's page table is a fixed
// two-level array; this keeps the same shape but leaves second-level
// tables allocated lazily (a *PageTable is nil until first touched),
// matching the "leaves-first, sparse" directory spec.md §3 calls for.
package pagetable

import "mem"

const (
	/// DirBits is the width of the top-level (directory) index.
	DirBits = 10
	/// PTBits is the width of the second-level (leaf) index.
	PTBits = 10

	/// DirSize is the number of directory slots.
	DirSize = 1 << DirBits
	/// PTSize is the number of entries in one second-level table.
	PTSize = 1 << PTBits
)

// PTE is a single page-table entry, packed into one 32-bit word the way
// the spec calls for ("4 octets, bit-packed"): bit 0 valid, bit 1
// present, bit 2 writeable, bit 3 zeroed, remaining bits the physical
// frame number (when present) or the swap slot (when absent and not
// zeroed).
type PTE uint32

const (
	pteValid     PTE = 1 << 0
	ptePresent   PTE = 1 << 1
	pteWriteable PTE = 1 << 2
	pteZeroed    PTE = 1 << 3
	ppnShift         = 4
)

func (p PTE) Valid() bool     { return p&pteValid != 0 }
func (p PTE) Present() bool   { return p&ptePresent != 0 }
func (p PTE) Writeable() bool { return p&pteWriteable != 0 }
func (p PTE) Zeroed() bool    { return p&pteZeroed != 0 }

/// PPN returns the packed physical-frame (if Present) or swap-slot (if
/// absent and not zeroed) index. Meaningless when Zeroed.
func (p PTE) PPN() int { return int(p >> ppnShift) }

func mkpte(valid, present, writeable, zeroed bool, ppn int) PTE {
	var p PTE
	if valid {
		p |= pteValid
	}
	if present {
		p |= ptePresent
	}
	if writeable {
		p |= pteWriteable
	}
	if zeroed {
		p |= pteZeroed
	}
	return p | PTE(ppn)<<ppnShift
}

/// MakePresent builds a PTE mapping to frame ppn.
func MakePresent(ppn int, writeable bool) PTE {
	return mkpte(true, true, writeable, false, ppn)
}

/// MakeZeroed builds a demand-zero PTE: valid, absent, no frame yet.
func MakeZeroed(writeable bool) PTE {
	return mkpte(true, false, writeable, true, 0)
}

/// MakeSwapped builds an absent PTE pointing at a swap slot.
func MakeSwapped(slot int, writeable bool) PTE {
	return mkpte(true, false, writeable, false, slot)
}

/// PageTable is one second-level leaf table.
type PageTable struct {
	Entries [PTSize]PTE
}

/// Directory is the top-level, sparse array of leaf tables. Matches
/// spec.md §3's "fixed-size directory of second-level page tables
/// (leaves-first, sparse)".
type Directory struct {
	Tables [DirSize]*PageTable
}

/// Split decomposes a page-aligned virtual address into its directory
/// and leaf-table indices.
func Split(va mem.VA) (dirIdx, ptIdx int) {
	vpn := uintptr(va.Trunc()) >> mem.PGSHIFT
	dirIdx = int(vpn>>PTBits) & (DirSize - 1)
	ptIdx = int(vpn) & (PTSize - 1)
	return
}

/// Join reconstructs the page-aligned virtual address for a given
/// (directory, leaf) index pair, the inverse of Split. Used when
/// walking a Directory (e.g. address-space fork) where only the
/// indices, not the original VA, are at hand.
func Join(dirIdx, ptIdx int) mem.VA {
	vpn := uintptr(dirIdx)<<PTBits | uintptr(ptIdx)
	return mem.VA(vpn << mem.PGSHIFT)
}

/// Lookup returns the PTE mapping va, and whether a leaf table exists
/// for it at all (a missing leaf table is distinct from a present-but-
/// zero-valued PTE: the former means the directory entry itself is
/// absent, the latter that the slot was never written).
func (d *Directory) Lookup(va mem.VA) (PTE, bool) {
	di, pi := Split(va)
	pt := d.Tables[di]
	if pt == nil {
		return 0, false
	}
	return pt.Entries[pi], true
}

/// EnsureTable returns the leaf table for va's directory slot,
/// allocating one if absent.
func (d *Directory) EnsureTable(va mem.VA) *PageTable {
	di, _ := Split(va)
	pt := d.Tables[di]
	if pt == nil {
		pt = &PageTable{}
		d.Tables[di] = pt
	}
	return pt
}

/// HasTable reports whether a leaf table exists for va's directory
/// slot, without allocating one.
func (d *Directory) HasTable(va mem.VA) bool {
	di, _ := Split(va)
	return d.Tables[di] != nil
}

/// Set installs pte at va, allocating the leaf table if needed.
func (d *Directory) Set(va mem.VA, pte PTE) {
	_, pi := Split(va)
	pt := d.EnsureTable(va)
	pt.Entries[pi] = pte
}

/// Clear wipes the PTE at va back to the zero value (invalid).
func (d *Directory) Clear(va mem.VA) {
	di, pi := Split(va)
	pt := d.Tables[di]
	if pt == nil {
		return
	}
	pt.Entries[pi] = 0
}
