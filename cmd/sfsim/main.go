// Command sfsim runs an in-process simulation of the paged virtual
// memory core and the SFS journal/recovery core, exposing their
// counters over Prometheus and (optionally) driving a scripted
// workload against both for a smoke test.
//
// Grounded on talyz-systemd_exporter's main flow: kingpin flags for
// the listen address and workload knobs, a prometheus.Registry with
// one collector registered, and promhttp.Handler serving /metrics.
package main

import (
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	kingpin "gopkg.in/alecthomas/kingpin.v2"

	"checkpoint"
	"coremap"
	"fs"
	"journal"
	"mem"
	"metrics"
	"pagedaemon"
	"record"
	"recovery"
	"swap"
	"tlb"
	"vm"
	"vmstats"
)

// memDevice is an in-memory stand-in for the swap backing store: a flat
// slice of pages, addressed by slot, with no actual persistence. Good
// enough for a smoke test and for running without a real disk image.
type memDevice struct {
	pages [][mem.PGSIZE]uint8
}

func newMemDevice(nslots int) *memDevice {
	return &memDevice{pages: make([][mem.PGSIZE]uint8, nslots)}
}

func (d *memDevice) ReadPage(slot int, dst *mem.Bytepg_t) error {
	*dst = d.pages[slot]
	return nil
}

func (d *memDevice) WritePage(slot int, src *mem.Bytepg_t) error {
	d.pages[slot] = *src
	return nil
}

const (
	simNBlocks = 4096
	simNInodes = 512
)

var (
	listenAddr  = kingpin.Flag("web.listen-address", "Address to expose metrics on.").Default(":9531").String()
	numPages    = kingpin.Flag("sim.pages", "Number of simulated RAM frames.").Default("256").Int()
	swapSlots   = kingpin.Flag("sim.swap-slots", "Number of simulated swap slots.").Default("1024").Int()
	numCPUs     = kingpin.Flag("sim.cpus", "Number of simulated CPUs. Not read: the simulation runs every fault on CPU 0.").Default("4").Int()
	journalSize = kingpin.Flag("sim.journal-blocks", "Size of the simulated journal, in blocks.").Default("64").Int()
	runWorkload = kingpin.Flag("sim.run-workload", "Drive a scripted fault/fork/sbrk and transaction workload once at startup.").Default("true").Bool()
)

// dirtyBuffers adapts an fs.Image_t's cached blocks to
// checkpoint.BufferSource, so a checkpoint round's keep-LSN
// computation scans the volume's real dirty buffers instead of a
// fake.
func dirtyBuffers(img *fs.Image_t) checkpoint.BufferSource {
	return func() []checkpoint.DirtyBuffer {
		blks := img.CachedBlocks()
		out := make([]checkpoint.DirtyBuffer, len(blks))
		for i, b := range blks {
			out[i] = b
		}
		return out
	}
}

func main() {
	kingpin.Parse()

	stats := vmstats.New()
	sw := swap.NewTracker(newMemDevice(*swapSlots), *swapSlots)
	tlbReg := tlb.NewRegistry()
	cm := coremap.New(*numPages, *numPages/4, 4, sw, tlbReg, stats)

	img := fs.NewImage(fs.NewMemDisk(), fs.SimpleMem_t{}, simNBlocks, simNInodes, *journalSize)

	jnl := journal.New(*journalSize)
	writer := record.NewWriter(jnl, uint64(*journalSize*journal.BlockSize/2))
	ckpt := checkpoint.New(jnl, writer, dirtyBuffers(img), img.FreemapMeta())

	daemon := pagedaemon.New(cm, pagedaemon.ThresholdPercent, time.Second)
	go daemon.Run()
	defer daemon.Stop()

	go ckpt.Run()
	defer ckpt.Stop()

	if *runWorkload {
		runSmokeTest(cm, sw, tlbReg, writer, ckpt, img, jnl)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(metrics.NewCollector(stats, jnl, writer))

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))

	fmt.Fprintf(os.Stdout, "sfsim listening on %s\n", *listenAddr)
	if err := http.ListenAndServe(*listenAddr, mux); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runSmokeTest exercises both cores once: a handful of page faults
// and a fork on the VM side, and one committed transaction on the
// journal side that recovery then replays and a checkpoint round then
// trims, so /metrics reports non-zero counters even before any real
// client connects.
func runSmokeTest(cm *coremap.Coremap, sw *swap.Tracker, tlbReg *tlb.Registry, w *record.Writer, ckpt *checkpoint.Checkpointer, img *fs.Image_t, jnl *journal.Container) {
	const heapStart = mem.VA(0x10000000)
	const stackMin = mem.VA(0x7f0000000000)
	as := vm.New(1, heapStart, stackMin, cm, sw, tlbReg)

	if _, err := as.Sbrk(4096*4, 0); err != 0 {
		fmt.Fprintf(os.Stderr, "sbrk failed: %v\n", err)
	}
	for i := 0; i < 4; i++ {
		va := as.HeapStart + mem.VA(i*mem.PGSIZE)
		if err := as.Fault(vm.FaultRead, va, 0); err != 0 {
			fmt.Fprintf(os.Stderr, "fault at %#x failed: %v\n", uintptr(va), err)
		}
	}
	if _, err := as.ForkCopy(2, 0); err != 0 {
		fmt.Fprintf(os.Stderr, "fork failed: %v\n", err)
	}

	tnx, err := w.StartTransaction(record.FuncCreat)
	if err != 0 {
		fmt.Fprintf(os.Stderr, "start transaction failed: %v\n", err)
		return
	}
	w.WriteAllocBlock(record.Block{Tnx: tnx, BlockNum: 10})
	w.WriteChangeSize(record.ChangeSize{Tnx: tnx, Ino: fs.RootIno, OldSize: 0, NewSize: 512, Type: fs.TypeDir})
	w.EndTransaction(tnx, record.FuncCreat)

	// Replay the committed transaction against the simulated image, so
	// the recovery core's redo pass runs against real Dinode_t/freemap
	// state rather than only the fakes recovery_test.go exercises.
	app := recovery.NewImageApplier(img)
	recovery.Recover(jnl, w, app)
	fmt.Fprintf(os.Stdout, "recovery replayed: root inode size=%d\n", img.Dinode(fs.RootIno).Size())

	ckpt.RunOnce()
}
