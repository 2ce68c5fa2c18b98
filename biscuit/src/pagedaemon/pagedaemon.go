// Package pagedaemon runs the background task that flushes dirty
// frames once the dirty ratio crosses a threshold.
//
// Grounded on original_source kern/vm/daemon.c's paging_daemon_thread:
// each cycle checks cm_num_dirty*100/cm_num_pages against a threshold,
// and if it's crossed, walks the coremap writing out every qualifying
// dirty frame before sleeping one time unit. daemon.c forks a whole
// kernel thread via thread_fork; here the same loop runs as a plain
// goroutine since there is no separate kernel/user thread distinction
// in this simulation.
package pagedaemon

import (
	"time"

	"coremap"
)

// / ThresholdPercent is the dirty-frame percentage that triggers a
// / sweep. The original defines PAGING_DAEMON_THRESHOLD in a header not
// / present in the retrieved source; 40% is a reasonable default for a
// / teaching kernel's tiny simulated RAM and is exposed so callers can
// / override it.
const ThresholdPercent = 40

// / Daemon periodically sweeps a coremap for dirty frames to flush.
type Daemon struct {
	cm        *coremap.Coremap
	threshold int
	interval  time.Duration
	stop      chan struct{}
}

// / New creates a daemon that sweeps cm every interval, using the
// / given dirty-ratio threshold.
func New(cm *coremap.Coremap, threshold int, interval time.Duration) *Daemon {
	return &Daemon{
		cm:        cm,
		threshold: threshold,
		interval:  interval,
		stop:      make(chan struct{}),
	}
}

// / Run blocks, sweeping on interval until Stop is called.
func (d *Daemon) Run() {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stop:
			return
		case <-ticker.C:
			d.cm.Sweep(d.threshold)
		}
	}
}

// / Stop ends the daemon's loop after its current sweep, if any.
func (d *Daemon) Stop() {
	close(d.stop)
}
