package pagedaemon

import (
	"testing"
	"time"

	"coremap"
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

type fakeOwner struct{}

func (fakeOwner) MarkEvicted(va uintptr, swapSlot int) {}

func TestRunSweepsOnTickerAndStopsCleanly(t *testing.T) {
	sw := swap.NewTracker(newFakeDevice(), 8)
	tlbReg := tlb.NewRegistry()
	stats := vmstats.New()
	cm := coremap.New(4, 0, 4, sw, tlbReg, stats)

	owner := fakeOwner{}
	cm.EntryPtr(0).Owner = owner
	cm.EntryPtr(1).Owner = owner
	cm.MarkDirty(0)
	cm.MarkDirty(1) // 2/4 = 50%, above ThresholdPercent

	d := New(cm, ThresholdPercent, 5*time.Millisecond)
	done := make(chan struct{})
	go func() {
		d.Run()
		close(done)
	}()

	deadline := time.After(500 * time.Millisecond)
	for stats.DaemonRuns.Load() == 0 {
		select {
		case <-deadline:
			t.Fatalf("daemon never swept within the deadline")
		default:
			time.Sleep(time.Millisecond)
		}
	}

	d.Stop()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Run did not return after Stop")
	}
}
