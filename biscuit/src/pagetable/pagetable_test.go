package pagetable

import (
	"testing"

	"mem"
)

func TestMakePresentFields(t *testing.T) {
	p := MakePresent(42, true)
	if !p.Valid() || !p.Present() || !p.Writeable() || p.Zeroed() {
		t.Fatalf("MakePresent produced wrong flag bits: %+v", p)
	}
	if p.PPN() != 42 {
		t.Fatalf("PPN() = %d, want 42", p.PPN())
	}
}

func TestMakeZeroedFields(t *testing.T) {
	p := MakeZeroed(false)
	if !p.Valid() || p.Present() || p.Writeable() || !p.Zeroed() {
		t.Fatalf("MakeZeroed produced wrong flag bits: %+v", p)
	}
}

func TestMakeSwappedFields(t *testing.T) {
	p := MakeSwapped(7, true)
	if !p.Valid() || p.Present() || !p.Writeable() || p.Zeroed() {
		t.Fatalf("MakeSwapped produced wrong flag bits: %+v", p)
	}
	if p.PPN() != 7 {
		t.Fatalf("PPN() = %d, want 7 (the swap slot)", p.PPN())
	}
}

func TestSplitJoinRoundtrip(t *testing.T) {
	va := mem.VA(0x12345000)
	di, pi := Split(va)
	got := Join(di, pi)
	if got != va.Trunc() {
		t.Fatalf("Join(Split(va)) = %#x, want %#x", uintptr(got), uintptr(va.Trunc()))
	}
}

func TestLookupMissingTable(t *testing.T) {
	var d Directory
	_, ok := d.Lookup(mem.VA(0x1000))
	if ok {
		t.Fatalf("Lookup should report false when no leaf table has been allocated")
	}
}

func TestSetThenLookup(t *testing.T) {
	var d Directory
	va := mem.VA(0x2000)
	pte := MakePresent(3, true)
	d.Set(va, pte)

	got, ok := d.Lookup(va)
	if !ok {
		t.Fatalf("Lookup should report true after Set allocated the leaf table")
	}
	if got != pte {
		t.Fatalf("Lookup returned %+v, want %+v", got, pte)
	}
	if !d.HasTable(va) {
		t.Fatalf("HasTable should report true once a leaf table exists")
	}
}

func TestClearResetsEntryButKeepsTable(t *testing.T) {
	var d Directory
	va := mem.VA(0x3000)
	d.Set(va, MakePresent(1, true))
	d.Clear(va)

	got, ok := d.Lookup(va)
	if !ok {
		t.Fatalf("Clear should not deallocate the leaf table")
	}
	if got != 0 {
		t.Fatalf("Clear should reset the PTE to zero, got %+v", got)
	}
}

func TestClearOnMissingTableIsNoop(t *testing.T) {
	var d Directory
	d.Clear(mem.VA(0x4000)) // must not panic
}

func TestDifferentDirectorySlotsAreIndependent(t *testing.T) {
	var d Directory
	// Two VAs far enough apart to land in different directory slots.
	va1 := mem.VA(0x1000)
	va2 := mem.VA(uintptr(1) << (mem.PGSHIFT + PTBits))

	d.Set(va1, MakePresent(1, true))
	if d.HasTable(va2) {
		t.Fatalf("setting va1 should not allocate a leaf table for va2's directory slot")
	}
}
