package scoring

import (
	"fmt"
	"time"

	"github.com/cuemby/ballast/pkg/runtime"
)

// ComputeResourceSample derives cpu%/mem%/net% from a pair of runtime
// samples taken ≥100ms apart, per the metrics-collector tick. state is
// used only to remember the previous network throughput reading
// (net% is defined relative to it, not absolute).
//
// Grounded on original_source/deployment-agent/src/stats.rs's
// cpu_usage/memory_usage/rx_bytes+tx_bytes extraction, generalized
// from a single Docker stats snapshot to the two-sample delta this
// system's containerd adapter requires for a rate-based cpu%/net%.
func ComputeResourceSample(state *WorkerState, a, b runtime.Sample) (ResourceSample, error) {
	dt := b.At.Sub(a.At)
	if dt <= 0 {
		return ResourceSample{}, fmt.Errorf("scoring: samples are not ordered with a positive time delta (%s)", dt)
	}

	deltaCPUTotal := float64(b.CPUTotal - a.CPUTotal)
	deltaCPUSystem := float64(b.CPUSystem - a.CPUSystem)
	cpuPct := 0.0
	if deltaCPUSystem > 0 {
		cpuPct = (deltaCPUTotal / deltaCPUSystem) * float64(b.OnlineCPUs) * 100
	}
	cpuPct = clamp(cpuPct, 0, 100)

	memPct := 0.0
	if b.MemoryLimit > 0 {
		memPct = float64(b.MemoryUsage) / float64(b.MemoryLimit) * 100
	}
	memPct = clamp(memPct, 0, 100)

	deltaRx := float64(b.RxBytes - a.RxBytes)
	deltaTx := float64(b.TxBytes - a.TxBytes)
	netMBs := (deltaRx + deltaTx) / dt.Seconds() / 1e6
	netPct := state.ObserveNetwork(netMBs)

	return ResourceSample{
		CPUPercent:     cpuPct,
		MemoryPercent:  memPct,
		NetworkPercent: netPct,
	}, nil
}

// Probe is the outcome of the TCP availability check for a worker:
// the round-trip time and whether the connection succeeded within its
// deadline.
type Probe struct {
	RTT time.Duration
	OK  bool
}
