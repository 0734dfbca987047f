package runtime

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
	"unsafe"

	"github.com/drblury/ringflow/internal/runtime/event"
)

// Runtime metrics read on every sample, in one metrics.Read call.
const (
	metricUserCPU    = "/cpu/classes/user:cpu-seconds"
	metricGCCPU      = "/cpu/classes/gc/total:cpu-seconds"
	metricHeapBytes  = "/memory/classes/heap/objects:bytes"
	metricGoroutines = "/sched/goroutines:goroutines"
	metricGCCycles   = "/gc/cycles/total:gc-cycles"
)

// resourceTracker samples what the process spends on serving the queue: CPU
// share since the previous sample, live heap, goroutines, GC cycles and the
// fixed footprint of the ring slots.
type resourceTracker struct {
	mu        sync.Mutex
	samples   []metrics.Sample
	ringBytes int64
	procs     float64

	prevCPU  float64
	prevWall time.Time
}

func newResourceTracker(capacity int64) *resourceTracker {
	names := []string{metricUserCPU, metricGCCPU, metricHeapBytes, metricGoroutines, metricGCCycles}
	samples := make([]metrics.Sample, len(names))
	for i, name := range names {
		samples[i].Name = name
	}
	return &resourceTracker{
		samples:   samples,
		ringBytes: capacity * int64(unsafe.Sizeof(event.Event{})),
		procs:     float64(runtime.GOMAXPROCS(0)),
	}
}

// Snapshot returns the current usage. CPUPercent is zero on the first call.
func (r *resourceTracker) Snapshot() ResourceUsage {
	if r == nil {
		return ResourceUsage{}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	metrics.Read(r.samples)
	usage := ResourceUsage{
		HeapBytes:  sampleUint(r.samples[2]),
		Goroutines: int(sampleUint(r.samples[3])),
		GCCycles:   sampleUint(r.samples[4]),
		RingBytes:  r.ringBytes,
	}
	if usage.Goroutines == 0 {
		usage.Goroutines = runtime.NumGoroutine()
	}

	cpu := sampleFloat(r.samples[0]) + sampleFloat(r.samples[1])
	now := time.Now()
	if !r.prevWall.IsZero() {
		if wall := now.Sub(r.prevWall).Seconds(); wall > 0 && r.procs > 0 {
			usage.CPUPercent = max(0, (cpu-r.prevCPU)/wall/r.procs*100)
		}
	}
	r.prevCPU, r.prevWall = cpu, now
	return usage
}

func sampleUint(s metrics.Sample) uint64 {
	if s.Value.Kind() != metrics.KindUint64 {
		return 0
	}
	return s.Value.Uint64()
}

func sampleFloat(s metrics.Sample) float64 {
	if s.Value.Kind() != metrics.KindFloat64 {
		return 0
	}
	return s.Value.Float64()
}
