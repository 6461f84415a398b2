/*
Package scoring turns raw runtime samples and TCP-probe latencies into
the composite [0,100] score that drives categorization and scaling.
Grounded on the weighting/threshold constants of
original_source/deployment-agent/src/queue.rs's QueueItem scoring
section (cpu/memory/network/availability weights, LU/MU/HU
thresholds), with the EMA smoothing shape following the teacher's
general preference for incremental running statistics over
recomputation from full history (pkg/metrics collector patterns).
*/
package scoring

import (
	"math"

	"github.com/cuemby/ballast/pkg/types"
)

const (
	// History and Bresemble ("best-time") bounds for per-worker
	// response-time tracking.
	HistorySize  = 20
	BestSize     = 10
	trendWindow  = 5
	emaInitial   = 100.0
	emaWeightNew = 0.2
	emaWeightOld = 0.8

	weightCPU          = 0.35
	weightMemory       = 0.25
	weightNetwork      = 0.15
	weightAvailability = 0.25

	categoryLUThreshold = 70.0
	categoryMUThreshold = 40.0
)

// ResourceSample holds the percentage-normalized resource readings for
// a worker at a single scoring tick.
type ResourceSample struct {
	CPUPercent     float64
	MemoryPercent  float64
	NetworkPercent float64
}

// WorkerState is the agent-side, in-memory-only tracking state for a
// single worker's response-time history. It is never persisted; a
// restarted agent rebuilds it from scratch starting with an empty
// history and an EMA of emaInitial.
type WorkerState struct {
	history    []float64 // seconds, oldest first, bounded to HistorySize
	bestTimes  []float64 // seconds, oldest first, bounded to BestSize
	threshold  float64
	ema        float64
	prevNetMBs float64
	hasPrevNet bool
}

// NewWorkerState returns a freshly initialized tracking state.
func NewWorkerState() *WorkerState {
	return &WorkerState{
		threshold: 0.5,
		ema:       emaInitial,
	}
}

// Observe records a TCP-probe round-trip time, updating history,
// best_times and the dynamic threshold. Call once per scoring tick per
// worker; skip the call entirely when the probe failed (treated as a
// missing sample per the availability rule in Score).
func (s *WorkerState) Observe(rtSeconds float64) {
	s.history = appendBounded(s.history, rtSeconds, HistorySize)

	if len(s.bestTimes) == 0 || rtSeconds < s.bestTimes[len(s.bestTimes)-1] {
		s.bestTimes = appendBounded(s.bestTimes, rtSeconds, BestSize)
	}

	avgHistory := mean(s.history)
	s.threshold = math.Max(0.5, 0.9*s.threshold+0.1*(1.5*avgHistory))
}

// ObserveNetwork records the current network throughput sample
// (megabytes/sec) and returns the clamped network percentage relative
// to the previous sample, per the net% formula. The first call for a
// worker has no previous sample and returns 0.
func (s *WorkerState) ObserveNetwork(currentMBs float64) float64 {
	if !s.hasPrevNet {
		s.prevNetMBs = currentMBs
		s.hasPrevNet = true
		return 0
	}
	prev := s.prevNetMBs
	s.prevNetMBs = currentMBs
	if prev == 0 {
		return 0
	}
	pct := (currentMBs - prev) / prev * 100
	return clamp(pct, 0, 100)
}

func appendBounded(slice []float64, v float64, max int) []float64 {
	slice = append(slice, v)
	if len(slice) > max {
		slice = slice[len(slice)-max:]
	}
	return slice
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// trend returns (older-window mean - recent-window mean) / older-window
// mean over the last two trendWindow-sized slices of history, or 0 when
// there isn't enough history for two full windows.
func (s *WorkerState) trend() float64 {
	n := len(s.history)
	if n < 2*trendWindow {
		return 0
	}
	recent := mean(s.history[n-trendWindow:])
	older := mean(s.history[n-2*trendWindow : n-trendWindow])
	if older == 0 {
		return 0
	}
	return (older - recent) / older
}

// Score computes the composite score and category for a worker given
// this tick's resource sample. probedRT is the TCP-probe round-trip
// time in seconds and ok is false when the probe failed (connect
// failure or timeout), in which case availability_score is forced to
// 0 per the distilled rule, independent of any stale history.
//
// Score always returns an LU/MU/HU category. The reconciler does not
// call it for SUNDOWN workers or for workers created during the
// current tick; an INIT worker left from an earlier tick is scored
// and so leaves INIT.
func Score(state *WorkerState, resource ResourceSample, probedRT float64, ok bool) (score float64, category types.Category) {
	cpuScore := 100 - resource.CPUPercent
	memoryScore := 100 - resource.MemoryPercent
	networkScore := 100 - resource.NetworkPercent

	availability := 0.0
	if ok {
		availability = state.availabilityScore(probedRT)
	}

	overall := weightCPU*cpuScore + weightMemory*memoryScore + weightNetwork*networkScore + weightAvailability*availability
	overall = clamp(overall, 0, 100)

	switch {
	case overall >= categoryLUThreshold:
		category = types.CategoryLU
	case overall >= categoryMUThreshold:
		category = types.CategoryMU
	default:
		category = types.CategoryHU
	}
	return overall, category
}

func (s *WorkerState) availabilityScore(current float64) float64 {
	avg := mean(s.history)
	best := mean(s.bestTimes)
	if best == 0 {
		best = avg
	}
	if best == 0 {
		// No samples at all yet; nothing to compare against.
		s.ema = emaWeightNew*100 + emaWeightOld*s.ema
		return s.ema
	}

	effective := 0.3*current + 0.7*avg
	ratio := effective / best
	if ratio <= 0 {
		ratio = 1
	}
	base := 100 * math.Pow(1/ratio, 1.5)

	penalty := 0.0
	if effective > s.threshold {
		penalty = 20 * (1 - math.Exp(-(effective - s.threshold)))
	}

	raw := clamp(base-penalty+10*s.trend(), 0, 100)
	s.ema = emaWeightNew*raw + emaWeightOld*s.ema
	return s.ema
}
