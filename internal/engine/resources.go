package engine

import (
	"runtime"
	"runtime/metrics"
	"sync"
	"time"
)

// Runtime metric names sampled for the CPU estimate. User and GC time
// together approximate what the process actually burned; the idle and
// scavenge classes are left out.
const (
	cpuUserMetric = "/cpu/classes/user:cpu-seconds"
	cpuGCMetric   = "/cpu/classes/gc/total:cpu-seconds"
)

// samplePeriod caps how often the sampler touches the runtime. ReadMemStats
// stops the world, so per-record sampling on a busy feed would cost more
// than the numbers are worth.
const samplePeriod = time.Second

// usageSampler produces the process-level ResourceUsage embedded in dispatch
// stats snapshots. Readings are cached and refreshed at most once per
// samplePeriod regardless of the dispatch rate. One sampler is shared by
// every sub-model of a session.
type usageSampler struct {
	mu        sync.Mutex
	cached    ResourceUsage
	sampledAt time.Time

	cpuSamples []metrics.Sample
	prevCPU    float64
	prevWall   time.Time
	cores      float64
}

func newUsageSampler() *usageSampler {
	return &usageSampler{
		cpuSamples: []metrics.Sample{{Name: cpuUserMetric}, {Name: cpuGCMetric}},
		cores:      float64(runtime.NumCPU()),
	}
}

// Sample returns the current usage, reusing the cached reading while it is
// fresh.
func (u *usageSampler) Sample() ResourceUsage {
	if u == nil {
		return ResourceUsage{}
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	now := time.Now()
	if !u.sampledAt.IsZero() && now.Sub(u.sampledAt) < samplePeriod {
		return u.cached
	}

	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	u.cached = ResourceUsage{
		CPUPercent:     u.cpuPercent(now),
		MemoryBytes:    mem.Alloc,
		GCPauseTotalNs: mem.PauseTotalNs,
		Goroutines:     runtime.NumGoroutine(),
	}
	u.sampledAt = now
	return u.cached
}

// cpuPercent derives the CPU share burned since the previous reading from
// the runtime's cpu-second counters. The first reading only seeds the
// baseline and reports zero.
func (u *usageSampler) cpuPercent(now time.Time) float64 {
	metrics.Read(u.cpuSamples)

	var used float64
	for _, s := range u.cpuSamples {
		if s.Value.Kind() != metrics.KindFloat64 {
			return 0
		}
		used += s.Value.Float64()
	}

	prevCPU, prevWall := u.prevCPU, u.prevWall
	u.prevCPU, u.prevWall = used, now

	if prevWall.IsZero() || u.cores <= 0 {
		return 0
	}
	wall := now.Sub(prevWall).Seconds()
	if wall <= 0 {
		return 0
	}
	return (used - prevCPU) / wall / u.cores * 100
}
