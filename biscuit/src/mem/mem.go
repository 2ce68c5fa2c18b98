// Package mem defines the page-sized units shared by the coremap, page
// table, and swap packages. It deliberately has no notion of a running
// CPU or a real physical address range: biscuit's own mem package maps
// physical memory through a runtime-level direct map (Physmem_t.Dmap,
// runtime.Get_phys) that only exists in its forked Go runtime. This
// kernel simulates RAM instead of owning real pages, so the direct-map
// machinery is dropped; what survives is the vocabulary (Pa_t, PGSIZE,
// Bytepg_t) that every other package in this tree builds on.
package mem

/// PGSHIFT is the base-2 exponent for the page size.
const PGSHIFT uint = 12

/// PGSIZE is the size of a single page in bytes.
const PGSIZE int = 1 << PGSHIFT

/// PGOFFSET masks offsets within a page.
const PGOFFSET int = PGSIZE - 1

/// PGMASK masks the page number of an address.
const PGMASK int = ^PGOFFSET

/// Pa_t represents a physical address (here: a frame index, see coremap).
type Pa_t uintptr

/// Bytepg_t is a byte-addressed page, the unit the coremap and swap
/// device exchange.
type Bytepg_t [PGSIZE]uint8

/// VA is a virtual address within some address space.
type VA uintptr

/// Trunc rounds va down to the start of its page.
func (v VA) Trunc() VA {
	return VA(uintptr(v) &^ uintptr(PGOFFSET))
}

/// Offset returns the byte offset of v within its page.
func (v VA) Offset() int {
	return int(uintptr(v) & uintptr(PGOFFSET))
}
