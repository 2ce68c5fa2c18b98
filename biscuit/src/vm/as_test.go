package vm

import (
	"testing"

	"coremap"
	"defs"
	"mem"
	"pagetable"
	"swap"
	"tlb"
	"vmstats"
)

type fakeDevice struct {
	pages map[int]mem.Bytepg_t
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{pages: make(map[int]mem.Bytepg_t)}
}

func (d *fakeDevice) ReadPage(slot int, dst *mem.Bytepg_t) error {
	*dst = d.pages[slot]
	return nil
}

func (d *fakeDevice) WritePage(slot int, src *mem.Bytepg_t) error {
	d.pages[slot] = *src
	return nil
}

func newTestAS(numPages int) *Vm_t {
	sw := swap.NewTracker(newFakeDevice(), 32)
	tlbReg := tlb.NewRegistry()
	cm := coremap.New(numPages, 0, 4, sw, tlbReg, vmstats.New())
	heapStart := mem.VA(0x1000000)
	stackMin := mem.VA(0x7f0000000000)
	return New(1, heapStart, stackMin, cm, sw, tlbReg)
}

func TestFaultOutsideAnyRegionFails(t *testing.T) {
	as := newTestAS(8)
	if err := as.Fault(FaultRead, mem.VA(0x99999000), 0); err != defs.EFAULT {
		t.Fatalf("Fault outside heap/stack/gap should return EFAULT, got %v", err)
	}
}

func TestSbrkGrowThenFaultMaterializesZeroedPage(t *testing.T) {
	as := newTestAS(8)
	old, err := as.Sbrk(mem.PGSIZE, 0)
	if err != 0 {
		t.Fatalf("Sbrk grow failed: %v", err)
	}
	if old != as.HeapStart {
		t.Fatalf("Sbrk should return the old heap break (%#x), got %#x", uintptr(as.HeapStart), uintptr(old))
	}
	if as.HeapPages != 1 {
		t.Fatalf("HeapPages = %d, want 1", as.HeapPages)
	}

	if err := as.Fault(FaultRead, as.HeapStart, 0); err != 0 {
		t.Fatalf("Fault on the freshly grown page failed: %v", err)
	}

	pte, ok := as.dir.Lookup(as.HeapStart)
	if !ok || !pte.Present() {
		t.Fatalf("page should be present after a successful fault")
	}
}

func TestFaultWriteOnReadOnlyPageFails(t *testing.T) {
	as := newTestAS(8)
	as.Sbrk(mem.PGSIZE, 0)
	if err := as.Fault(FaultRead, as.HeapStart, 0); err != 0 {
		t.Fatalf("initial read fault failed: %v", err)
	}

	// Flip the now-present mapping read-only to exercise the write path.
	pte, _ := as.dir.Lookup(as.HeapStart)
	as.dir.Set(as.HeapStart, pagetable.MakePresent(pte.PPN(), false))

	if err := as.Fault(FaultWrite, as.HeapStart, 0); err != defs.EFAULT {
		t.Fatalf("write fault on a read-only page should return EFAULT, got %v", err)
	}
}

func TestFaultWriteMarksFrameDirty(t *testing.T) {
	as := newTestAS(8)
	as.Sbrk(mem.PGSIZE, 0)
	if err := as.Fault(FaultWrite, as.HeapStart, 0); err != 0 {
		t.Fatalf("write fault failed: %v", err)
	}

	pte, _ := as.dir.Lookup(as.HeapStart)
	if !as.cm.Entry(pte.PPN()).Dirty {
		t.Fatalf("frame should be marked dirty after a write fault")
	}
}

func TestForkCopyProducesIndependentFrames(t *testing.T) {
	as := newTestAS(8)
	as.Sbrk(mem.PGSIZE, 0)
	as.Fault(FaultWrite, as.HeapStart, 0)

	pte, _ := as.dir.Lookup(as.HeapStart)
	as.cm.Frame(pte.PPN())[0] = 0x42

	child, err := as.ForkCopy(2, 0)
	if err != 0 {
		t.Fatalf("ForkCopy failed: %v", err)
	}
	if child.HeapPages != as.HeapPages {
		t.Fatalf("child.HeapPages = %d, want %d", child.HeapPages, as.HeapPages)
	}

	childPTE, ok := child.dir.Lookup(as.HeapStart)
	if !ok || !childPTE.Present() {
		t.Fatalf("child should have its own present mapping for the inherited page")
	}
	if childPTE.PPN() == pte.PPN() {
		t.Fatalf("child frame should be a distinct physical frame from the parent's")
	}
	if as.cm.Frame(childPTE.PPN())[0] != 0x42 {
		t.Fatalf("child frame should start as a copy of the parent's contents")
	}

	// Mutating the parent's frame after fork must not affect the child's.
	as.cm.Frame(pte.PPN())[0] = 0x99
	if as.cm.Frame(childPTE.PPN())[0] != 0x42 {
		t.Fatalf("child frame should be independent of later parent writes")
	}
}

func TestSbrkShrinkFreesFrames(t *testing.T) {
	as := newTestAS(8)
	as.Sbrk(2*mem.PGSIZE, 0)
	as.Fault(FaultWrite, as.HeapStart, 0)
	as.Fault(FaultWrite, mem.VA(uintptr(as.HeapStart)+uintptr(mem.PGSIZE)), 0)

	if _, err := as.Sbrk(-2*mem.PGSIZE, 0); err != 0 {
		t.Fatalf("Sbrk shrink failed: %v", err)
	}
	if as.HeapPages != 0 {
		t.Fatalf("HeapPages = %d, want 0 after shrinking back to the original break", as.HeapPages)
	}
	if as.dir.HasTable(as.HeapStart) {
		if pte, ok := as.dir.Lookup(as.HeapStart); ok && pte.Valid() {
			t.Fatalf("shrunk page should have its PTE cleared, got %+v", pte)
		}
	}
}

func TestSbrkRejectsUnalignedDelta(t *testing.T) {
	as := newTestAS(8)
	if _, err := as.Sbrk(1, 0); err != defs.EINVAL {
		t.Fatalf("Sbrk with a non-page-aligned delta should return EINVAL, got %v", err)
	}
}
