// Package procwatch samples cpu, memory and scheduler status for live
// session processes. Handles are cached per pid so cpu percentages are
// deltas between consecutive samples rather than lifetime averages.
package procwatch

import (
	"strings"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"

	"github.com/roostlabs/roost/internal/util/timefmt"
	"github.com/roostlabs/roost/protocol"
)

// Watcher samples usage for a set of watched pids.
type Watcher struct {
	mu    sync.Mutex
	procs map[int]*process.Process
}

func New() *Watcher {
	return &Watcher{procs: make(map[int]*process.Process)}
}

// Sample reads one usage snapshot for pid. The first sample for a pid
// reports 0% cpu; later samples report usage since the previous one.
func (w *Watcher) Sample(pid int) (protocol.UsageSample, error) {
	w.mu.Lock()
	p, ok := w.procs[pid]
	w.mu.Unlock()

	if !ok {
		var err error
		p, err = process.NewProcess(int32(pid))
		if err != nil {
			return protocol.UsageSample{}, err
		}
		w.mu.Lock()
		w.procs[pid] = p
		w.mu.Unlock()
	}

	sample := protocol.UsageSample{SampledAt: timefmt.Format(time.Now())}

	cpu, err := p.Percent(0)
	if err != nil {
		w.Forget(pid)
		return protocol.UsageSample{}, err
	}
	sample.CPUPercent = cpu

	if mi, err := p.MemoryInfo(); err == nil && mi != nil {
		sample.MemoryMB = float64(mi.RSS) / (1024 * 1024)
	}
	if st, err := p.Status(); err == nil && len(st) > 0 {
		sample.Status = strings.Join(st, ",")
	}
	return sample, nil
}

// Forget drops the cached handle for pid.
func (w *Watcher) Forget(pid int) {
	w.mu.Lock()
	delete(w.procs, pid)
	w.mu.Unlock()
}

// Changed reports whether two samples differ enough to publish: status
// change, memory movement past 1 MB, or cpu movement past 0.5%.
func Changed(prev, next protocol.UsageSample) bool {
	if prev.Status != next.Status {
		return true
	}
	if diff := prev.MemoryMB - next.MemoryMB; diff > 1 || diff < -1 {
		return true
	}
	if diff := prev.CPUPercent - next.CPUPercent; diff > 0.5 || diff < -0.5 {
		return true
	}
	return false
}
