package metrics

import (
	"github.com/prometheus/client_golang/prometheus"

	"firestige.xyz/pausefilter/internal/filter"
)

const namespace = "pausefilter"

var filterLabels = []string{"handle", "adapter", "address"}

// Collector exports the engine counters of a driver and its attached
// filters. Values are read at scrape time from Stats snapshots.
type Collector struct {
	driver *filter.Driver

	attached      *prometheus.Desc
	violations    *prometheus.Desc
	poolInUse     *prometheus.Desc
	poolAllocated *prometheus.Desc
	poolFailed    *prometheus.Desc

	state         *prometheus.Desc
	linkUp        *prometheus.Desc
	timerArmed    *prometheus.Desc
	indications   *prometheus.Desc
	dropped       *prometheus.Desc
	deferred      *prometheus.Desc
	slotExhausted *prometheus.Desc
	pauseSent     *prometheus.Desc
	pauseSkipped  *prometheus.Desc
	ticks         *prometheus.Desc
	oidForwarded  *prometheus.Desc
	oidCompleted  *prometheus.Desc
	sends         *prometheus.Desc
	receives      *prometheus.Desc
}

var _ prometheus.Collector = (*Collector)(nil)

// NewCollector creates a collector for d.
func NewCollector(d *filter.Driver) *Collector {
	desc := func(name, help string, labels []string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "", name), help, labels, nil)
	}
	return &Collector{
		driver: d,

		attached:      desc("attached_filters", "Number of attached filters", nil),
		violations:    desc("contract_violations_total", "Host contract violations detected", nil),
		poolInUse:     desc("pause_pool_in_use", "Pause frames allocated and not yet completed", nil),
		poolAllocated: desc("pause_pool_allocations_total", "Pause frame allocations", nil),
		poolFailed:    desc("pause_pool_failures_total", "Pause frame allocations refused by the pool limit", nil),

		state:         desc("filter_state", "Lifecycle state (0=detached, 1=paused, 2=pausing, 3=running)", filterLabels),
		linkUp:        desc("filter_link_up", "Link state last indicated by the adapter", filterLabels),
		timerArmed:    desc("filter_timer_armed", "Whether the pause-frame timer is armed", filterLabels),
		indications:   desc("receive_indications_total", "Receive indications from the adapter", filterLabels),
		dropped:       desc("receive_dropped", "Buffers diverted to the deferred path since the last stall reset", filterLabels),
		deferred:      desc("receive_deferred_indications_total", "Diverted chains indicated from a deferred slot", filterLabels),
		slotExhausted: desc("receive_slot_exhausted_total", "Diverted chains indicated inline because no deferred slot was available", filterLabels),
		pauseSent:     desc("pause_frames_sent_total", "Pause frames handed to the send path", filterLabels),
		pauseSkipped:  desc("pause_frames_skipped_total", "Timer ticks that could not build a pause frame", filterLabels),
		ticks:         desc("timer_ticks_total", "Pause-frame timer ticks", filterLabels),
		oidForwarded:  desc("oid_forwarded_total", "Control requests forwarded", filterLabels),
		oidCompleted:  desc("oid_completed_total", "Forwarded control requests completed", filterLabels),
		sends:         desc("outstanding_sends", "Sends passed down and not yet completed (when tracked)", filterLabels),
		receives:      desc("outstanding_receives", "Receives indicated and not yet returned (when tracked)", filterLabels),
	}
}

// Describe implements prometheus.Collector.
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		c.attached, c.violations, c.poolInUse, c.poolAllocated, c.poolFailed,
		c.state, c.linkUp, c.timerArmed, c.indications, c.dropped, c.deferred,
		c.slotExhausted, c.pauseSent, c.pauseSkipped, c.ticks, c.oidForwarded,
		c.oidCompleted, c.sends, c.receives,
	} {
		ch <- d
	}
}

// Collect implements prometheus.Collector.
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	filters := c.driver.Registry().Snapshot()
	pool := c.driver.Pool().Stats()

	ch <- prometheus.MustNewConstMetric(c.attached, prometheus.GaugeValue, float64(len(filters)))
	ch <- prometheus.MustNewConstMetric(c.violations, prometheus.CounterValue, float64(c.driver.Violations()))
	ch <- prometheus.MustNewConstMetric(c.poolInUse, prometheus.GaugeValue, float64(pool.InUse))
	ch <- prometheus.MustNewConstMetric(c.poolAllocated, prometheus.CounterValue, float64(pool.Allocated))
	ch <- prometheus.MustNewConstMetric(c.poolFailed, prometheus.CounterValue, float64(pool.Failed))

	for _, f := range filters {
		s := f.Stats()
		labels := []string{s.Handle.String(), s.Name, s.Address}

		gauge := func(d *prometheus.Desc, v float64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
		}
		counter := func(d *prometheus.Desc, v uint64) {
			ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, float64(v), labels...)
		}

		gauge(c.state, float64(s.State))
		gauge(c.linkUp, boolValue(s.LinkUp))
		gauge(c.timerArmed, boolValue(s.TimerArmed))
		gauge(c.dropped, float64(s.Dropped))
		gauge(c.sends, float64(s.OutstandingSends))
		gauge(c.receives, float64(s.OutstandingReceives))

		counter(c.indications, s.Indications)
		counter(c.deferred, s.DeferredIndications)
		counter(c.slotExhausted, s.SlotExhausted)
		counter(c.pauseSent, s.PauseFramesSent)
		counter(c.pauseSkipped, s.PauseFramesSkipped)
		counter(c.ticks, s.Ticks)
		counter(c.oidForwarded, s.OidForwarded)
		counter(c.oidCompleted, s.OidCompleted)
	}
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
