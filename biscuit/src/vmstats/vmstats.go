// Package vmstats counts the handful of VM events worth reporting:
// page faults, synchronous-write faults, TLB shootdowns, and daemon
// sweeps.
//
// Grounded on original_source kern/include/vmstats.h (struct vmstats)
// and kern/vm/vmstats.c (vmstats_init/_report/_reset); counters are
// atomic here rather than behind a lock since the original single-core
// teaching kernel could get away with plain increments but this one is
// explicitly multiprocessor-safe (spec.md §5).
package vmstats

import (
	"fmt"
	"sync/atomic"
)

/// Stats holds the VM core's reportable counters.
type Stats struct {
	PageFaults      atomic.Uint64
	WritePageFaults atomic.Uint64
	VMFaults        atomic.Uint64
	DaemonRuns      atomic.Uint64
	TLBShootdowns   atomic.Uint64
}

/// New returns a freshly zeroed Stats.
func New() *Stats {
	return &Stats{}
}

/// Reset zeroes every counter.
func (s *Stats) Reset() {
	s.PageFaults.Store(0)
	s.WritePageFaults.Store(0)
	s.VMFaults.Store(0)
	s.DaemonRuns.Store(0)
	s.TLBShootdowns.Store(0)
}

/// Report renders the counters the way vmstats_report prints them.
func (s *Stats) Report() string {
	return fmt.Sprintf(
		"Number of page faults: %d\nNumber of page faults that required a synchronous write: %d\nNumber of vm faults: %d\nNumber of TLB shootdowns %d\nNumber of daemon runs: %d\n",
		s.PageFaults.Load(), s.WritePageFaults.Load(), s.VMFaults.Load(), s.TLBShootdowns.Load(), s.DaemonRuns.Load())
}
