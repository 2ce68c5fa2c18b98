// Package metrics exposes the virtual memory and journal cores'
// counters as a Prometheus collector.
//
// Grounded on talyz-systemd_exporter's systemd.Collector: a NewDesc
// per metric built in a constructor, a Describe that sends every Desc
// down the channel unconditionally, and a Collect that reads current
// values and emits them as const metrics. There this wraps dbus state;
// here it wraps vmstats.Stats and the journal/record/checkpoint
// packages' own counters.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"journal"
	"record"
	"vmstats"
)

const namespace = "sfsim"

// Collector implements prometheus.Collector over one running
// simulation's VM and journal state.
type Collector struct {
	stats  *vmstats.Stats
	jnl    *journal.Container
	writer *record.Writer

	pageFaults      *prometheus.Desc
	writePageFaults *prometheus.Desc
	vmFaults        *prometheus.Desc
	daemonRuns      *prometheus.Desc
	tlbShootdowns   *prometheus.Desc

	journalOdometer *prometheus.Desc
	journalNextLSN  *prometheus.Desc
	journalTrimmed  *prometheus.Desc
	activeTnxs      *prometheus.Desc
}

// NewCollector builds a Collector over the given VM statistics and
// journal/writer pair. jnl and w may be nil if only VM metrics are
// wanted (e.g. a VM-only harness run).
func NewCollector(stats *vmstats.Stats, jnl *journal.Container, w *record.Writer) *Collector {
	return &Collector{
		stats:  stats,
		jnl:    jnl,
		writer: w,

		pageFaults: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "page_faults_total"),
			"Total page faults serviced by the coremap.", nil, nil,
		),
		writePageFaults: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "write_page_faults_total"),
			"Page faults that required a synchronous swap write-out.", nil, nil,
		),
		vmFaults: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "faults_total"),
			"Total calls into Vm_t.Fault, including faults that needed no I/O.", nil, nil,
		),
		daemonRuns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "daemon_runs_total"),
			"Total rounds the paging daemon has swept the coremap.", nil, nil,
		),
		tlbShootdowns: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "vm", "tlb_shootdowns_total"),
			"Total TLB shootdowns issued by the coremap.", nil, nil,
		),

		journalOdometer: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "journal", "odometer_bytes"),
			"Bytes written to the journal since the last checkpoint trim.", nil, nil,
		),
		journalNextLSN: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "journal", "next_lsn"),
			"The LSN that would be assigned to the next appended record.", nil, nil,
		),
		journalTrimmed: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "journal", "trimmed_to_lsn"),
			"The oldest LSN the journal still guarantees to hold.", nil, nil,
		),
		activeTnxs: prometheus.NewDesc(
			prometheus.BuildFQName(namespace, "journal", "active_transactions"),
			"Number of transactions currently open.", nil, nil,
		),
	}
}

// Describe sends every metric's Desc down desc, as Prometheus
// requires before the collector is registered.
func (c *Collector) Describe(desc chan<- *prometheus.Desc) {
	desc <- c.pageFaults
	desc <- c.writePageFaults
	desc <- c.vmFaults
	desc <- c.daemonRuns
	desc <- c.tlbShootdowns
	desc <- c.journalOdometer
	desc <- c.journalNextLSN
	desc <- c.journalTrimmed
	desc <- c.activeTnxs
}

// Collect reads current counter values and emits them as const
// metrics, the same shape systemd.Collector.collect produces.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	if c.stats != nil {
		ch <- prometheus.MustNewConstMetric(c.pageFaults, prometheus.CounterValue, float64(c.stats.PageFaults.Load()))
		ch <- prometheus.MustNewConstMetric(c.writePageFaults, prometheus.CounterValue, float64(c.stats.WritePageFaults.Load()))
		ch <- prometheus.MustNewConstMetric(c.vmFaults, prometheus.CounterValue, float64(c.stats.VMFaults.Load()))
		ch <- prometheus.MustNewConstMetric(c.daemonRuns, prometheus.CounterValue, float64(c.stats.DaemonRuns.Load()))
		ch <- prometheus.MustNewConstMetric(c.tlbShootdowns, prometheus.CounterValue, float64(c.stats.TLBShootdowns.Load()))
	}
	if c.jnl != nil {
		ch <- prometheus.MustNewConstMetric(c.journalOdometer, prometheus.GaugeValue, float64(c.jnl.Odometer()))
		ch <- prometheus.MustNewConstMetric(c.journalNextLSN, prometheus.GaugeValue, float64(c.jnl.PeekNextLSN()))
		ch <- prometheus.MustNewConstMetric(c.journalTrimmed, prometheus.GaugeValue, float64(c.jnl.TrimmedTo()))
	}
	if c.writer != nil {
		ch <- prometheus.MustNewConstMetric(c.activeTnxs, prometheus.GaugeValue, float64(len(c.writer.ActiveTnxs())))
	}
}
