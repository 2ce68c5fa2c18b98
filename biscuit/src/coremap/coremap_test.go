package coremap

import (
	"testing"

	"mem"
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

type fakeOwner struct {
	evictedVA   uintptr
	evictedSlot int
	calls       int
}

func (o *fakeOwner) MarkEvicted(va uintptr, swapSlot int) {
	o.evictedVA = va
	o.evictedSlot = swapSlot
	o.calls++
}

func newTestCoremap(numPages, minUserPages int) *Coremap {
	sw := swap.NewTracker(newFakeDevice(), 16)
	tlbReg := tlb.NewRegistry()
	return New(numPages, minUserPages, 4, sw, tlbReg, vmstats.New())
}

func TestPageGetLockedReturnsFreeFrame(t *testing.T) {
	cm := newTestCoremap(4, 0)

	cm.Lock()
	ppn, err := cm.PageGetLocked(false, 0)
	cm.Unlock()

	if err != 0 {
		t.Fatalf("PageGetLocked failed: %v", err)
	}
	if !cm.Entry(ppn).Busy {
		t.Fatalf("returned frame %d should be marked busy", ppn)
	}
}

func TestPageGetLockedReusesCleanEvictableFrame(t *testing.T) {
	cm := newTestCoremap(4, 0)
	owner := &fakeOwner{}

	cm.Lock()
	for i := range cm.entries {
		cm.entries[i].Owner = owner
	}
	cm.entries[2].SwapSlot = 5
	cm.entries[2].VA = 0xdead000

	ppn, err := cm.PageGetLocked(false, 0)
	cm.Unlock()

	if err != 0 {
		t.Fatalf("PageGetLocked failed: %v", err)
	}
	if ppn != 2 {
		t.Fatalf("expected the clean swap-backed frame 2 to be reused, got %d", ppn)
	}
	if owner.calls != 1 || owner.evictedSlot != 5 || owner.evictedVA != 0xdead000 {
		t.Fatalf("owner.MarkEvicted not called with the evicted frame's state: %+v", owner)
	}
}

func TestPageGetLockedWritesOutDirtyFrame(t *testing.T) {
	cm := newTestCoremap(2, 0)
	owner := &fakeOwner{}

	cm.Lock()
	for i := range cm.entries {
		cm.entries[i].Owner = owner
		cm.entries[i].Dirty = true
	}
	cm.numDirty = len(cm.entries)

	ppn, err := cm.PageGetLocked(false, 0)
	cm.Unlock()

	if err != 0 {
		t.Fatalf("PageGetLocked failed: %v", err)
	}
	if !cm.Entry(ppn).Busy {
		t.Fatalf("evicted frame should come back busy")
	}
	if owner.calls != 1 {
		t.Fatalf("expected the owner to be notified of the eviction, calls=%d", owner.calls)
	}
}

func TestAllocKpagesRespectsMinUserPages(t *testing.T) {
	cm := newTestCoremap(4, 3)

	if _, ok := cm.AllocKpages(2); ok {
		t.Fatalf("AllocKpages(2) should fail: only 1 page may be given to the kernel with minUserPages=3 on a 4-page coremap")
	}
	if _, ok := cm.AllocKpages(1); !ok {
		t.Fatalf("AllocKpages(1) should succeed, leaving exactly minUserPages free")
	}
}

func TestAllocAndFreeKpagesMultiFrame(t *testing.T) {
	cm := newTestCoremap(8, 0)

	head, ok := cm.AllocKpages(3)
	if !ok {
		t.Fatalf("AllocKpages(3) failed")
	}
	if !cm.Entry(head).KernelPage || cm.Entry(head).KernelInternal {
		t.Fatalf("head frame should be kernel-owned and not marked internal")
	}
	if !cm.Entry(head+1).KernelInternal || !cm.Entry(head+2).KernelInternal {
		t.Fatalf("trailing frames of a multi-frame kernel allocation should be marked internal")
	}

	cm.FreeKpages(head)
	for i := head; i < head+3; i++ {
		if cm.Entry(i).KernelPage {
			t.Fatalf("frame %d should no longer be kernel-owned after FreeKpages", i)
		}
	}
}

func TestMarkDirtyUpdatesRatio(t *testing.T) {
	cm := newTestCoremap(4, 0)
	cm.MarkDirty(0)
	cm.MarkDirty(1)
	if got := cm.DirtyRatioPercent(); got != 50 {
		t.Fatalf("DirtyRatioPercent = %d, want 50", got)
	}
	// Marking the same frame dirty twice must not double-count.
	cm.MarkDirty(0)
	if got := cm.DirtyRatioPercent(); got != 50 {
		t.Fatalf("DirtyRatioPercent after a repeat MarkDirty = %d, want 50", got)
	}
}

func TestSweepWritesOutDirtyFramesAboveThreshold(t *testing.T) {
	cm := newTestCoremap(4, 0)
	owner := &fakeOwner{}

	cm.entries[0].Owner = owner
	cm.entries[1].Owner = owner
	cm.MarkDirty(0)
	cm.MarkDirty(1)

	cm.Sweep(50)

	if cm.Entry(0).Dirty || cm.Entry(1).Dirty {
		t.Fatalf("Sweep should have cleared the dirty bit on every written-out frame")
	}
	if cm.Stats.DaemonRuns.Load() != 1 {
		t.Fatalf("Sweep should record one daemon run, got %d", cm.Stats.DaemonRuns.Load())
	}
}

func TestSweepNoopsBelowThreshold(t *testing.T) {
	cm := newTestCoremap(4, 0)
	cm.entries[0].Owner = &fakeOwner{}
	cm.MarkDirty(0)

	cm.Sweep(50) // 1/4 = 25% < 50%, should not run
	if cm.Stats.DaemonRuns.Load() != 0 {
		t.Fatalf("Sweep should not have run below the threshold, DaemonRuns=%d", cm.Stats.DaemonRuns.Load())
	}
	if !cm.Entry(0).Dirty {
		t.Fatalf("frame should remain dirty when Sweep is a no-op")
	}
}
