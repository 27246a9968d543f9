//go:build linux

package afpacket

import (
	"context"
	"runtime"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

type deferredWork struct {
	fn     func()
	queued time.Time
}

// worker runs deferred work on one processor. cpu is the system CPU id.
type worker struct {
	cpu   int
	queue chan deferredWork
}

// cpuMap numbers the CPUs the process may run on. Processor i is the
// i-th allowed CPU, so numbers stay dense under a restricted cpuset.
type cpuMap struct {
	index map[int]int
}

func newCPUMap(ids []int) cpuMap {
	m := cpuMap{index: make(map[int]int, len(ids))}
	for i, id := range ids {
		m.index[id] = i
	}
	return m
}

// processor returns the processor number of system CPU id, or -1 when the
// process may not run there.
func (m cpuMap) processor(id int) int {
	if i, ok := m.index[id]; ok {
		return i
	}
	return -1
}

// cpusInSet lists the CPU ids set in s in ascending order.
func cpusInSet(s *unix.CPUSet) []int {
	n := s.Count()
	ids := make([]int, 0, n)
	for cpu := 0; len(ids) < n && cpu < len(s)*64; cpu++ {
		if s.IsSet(cpu) {
			ids = append(ids, cpu)
		}
	}
	return ids
}

// allowedCPUs returns the CPUs in the affinity mask of the process. When
// the mask cannot be read it assumes CPUs 0..NumCPU-1.
func allowedCPUs() ([]int, error) {
	var set unix.CPUSet
	err := unix.SchedGetaffinity(0, &set)
	if err == nil {
		if ids := cpusInSet(&set); len(ids) > 0 {
			return ids, nil
		}
	}
	ids := make([]int, runtime.NumCPU())
	for i := range ids {
		ids[i] = i
	}
	return ids, err
}

func (h *Host) startWorkers() {
	h.workerCtx, h.stopWorkers = context.WithCancel(context.Background())

	ids, err := allowedCPUs()
	if err != nil {
		h.log.Warn("failed to read CPU affinity", "error", err)
	}
	h.cpus = newCPUMap(ids)

	h.workers = make([]*worker, len(ids))
	for i, cpu := range ids {
		w := &worker{cpu: cpu, queue: make(chan deferredWork, h.cfg.DeferredQueueDepth)}
		h.workers[i] = w
		h.workerWG.Add(1)
		go func() {
			defer h.workerWG.Done()
			h.runWorker(w)
		}()
	}
}

func (h *Host) runWorker(w *worker) {
	if err := pinToCPU(w.cpu); err != nil {
		h.log.Warn("failed to pin deferred worker", "cpu", w.cpu, "error", err)
	}
	defer runtime.UnlockOSThread()

	for {
		select {
		case item := <-w.queue:
			h.runDeferred(item)
		case <-h.workerCtx.Done():
			// Work already accepted still runs; a queued indication that
			// never ran would leave its buffers unreturned.
			for {
				select {
				case item := <-w.queue:
					h.runDeferred(item)
				default:
					return
				}
			}
		}
	}
}

func (h *Host) runDeferred(item deferredWork) {
	h.latency.Observe(time.Since(item.queued).Seconds())
	item.fn()
}

// pinToCPU locks the calling goroutine to its thread and binds the thread
// to cpu. The caller must unlock the thread when done.
func pinToCPU(cpu int) error {
	runtime.LockOSThread()
	var set unix.CPUSet
	set.Zero()
	set.Set(cpu)
	return unix.SchedSetaffinity(0, &set)
}

// currentCPU returns the system id of the CPU running the caller, or -1.
func currentCPU() int {
	var cpu, node uint32
	_, _, errno := unix.RawSyscall(unix.SYS_GETCPU, uintptr(unsafe.Pointer(&cpu)), uintptr(unsafe.Pointer(&node)), 0)
	if errno != 0 {
		return -1
	}
	return int(cpu)
}
