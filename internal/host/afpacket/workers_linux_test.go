package afpacket

import (
	"io"
	"log/slog"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestCPUMapRestrictedSet(t *testing.T) {
	// taskset -c 4-7
	m := newCPUMap([]int{4, 5, 6, 7})

	assert.Equal(t, 0, m.processor(4))
	assert.Equal(t, 3, m.processor(7))
	assert.Equal(t, -1, m.processor(0))
	assert.Equal(t, -1, m.processor(8))

	assert.Equal(t, -1, cpuMap{}.processor(0))
}

func TestCPUsInSet(t *testing.T) {
	var set unix.CPUSet
	set.Zero()
	for _, cpu := range []int{70, 4, 5, 1} {
		set.Set(cpu)
	}
	assert.Equal(t, []int{1, 4, 5, 70}, cpusInSet(&set))

	set.Zero()
	assert.Empty(t, cpusInSet(&set))
}

func TestAllowedCPUsMatchAffinity(t *testing.T) {
	var set unix.CPUSet
	require.NoError(t, unix.SchedGetaffinity(0, &set))

	ids, err := allowedCPUs()
	require.NoError(t, err)
	assert.Len(t, ids, set.Count())
	for _, id := range ids {
		assert.True(t, set.IsSet(id), "cpu %d", id)
	}
}

func newWorkerHost() *Host {
	return &Host{
		cfg:     Config{DeferredQueueDepth: 4},
		log:     slog.New(slog.NewTextHandler(io.Discard, nil)),
		rejects: prometheus.NewCounter(prometheus.CounterOpts{Name: "rejects"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{Name: "latency"}),
	}
}

func TestDeferredWorkRunsOnItsProcessor(t *testing.T) {
	h := newWorkerHost()
	h.startWorkers()
	defer func() {
		h.stopWorkers()
		h.workerWG.Wait()
	}()

	ids, err := allowedCPUs()
	require.NoError(t, err)
	require.Equal(t, len(ids), h.NumProcessors())

	for p := range h.NumProcessors() {
		got := make(chan [2]int, 1)
		require.True(t, h.QueueDeferred(p, func() {
			got <- [2]int{currentCPU(), h.CurrentProcessor()}
		}))
		r := <-got
		assert.Equal(t, ids[p], r[0], "system cpu of processor %d", p)
		assert.Equal(t, p, r[1], "processor number of processor %d", p)
	}

	assert.False(t, h.QueueDeferred(-1, func() {}))
	assert.False(t, h.QueueDeferred(h.NumProcessors(), func() {}))
}
