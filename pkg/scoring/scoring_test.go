package scoring

import (
	"testing"
	"time"

	"github.com/cuemby/ballast/pkg/runtime"
	"github.com/cuemby/ballast/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeResourceSample_CPUMemoryNetwork(t *testing.T) {
	state := NewWorkerState()
	t0 := time.Now()

	a := runtime.Sample{
		At:          t0,
		CPUTotal:    1_000_000_000,
		CPUSystem:   10_000_000_000,
		OnlineCPUs:  4,
		MemoryUsage: 50_000_000,
		MemoryLimit: 100_000_000,
		RxBytes:     1_000_000,
		TxBytes:     1_000_000,
	}
	b := runtime.Sample{
		At:          t0.Add(200 * time.Millisecond),
		CPUTotal:    1_200_000_000,
		CPUSystem:   10_500_000_000,
		OnlineCPUs:  4,
		MemoryUsage: 60_000_000,
		MemoryLimit: 100_000_000,
		RxBytes:     2_000_000,
		TxBytes:     2_000_000,
	}

	sample, err := ComputeResourceSample(state, a, b)
	require.NoError(t, err)

	// raw cpu% = (200e6/500e6)*4*100 = 160, clamped to 100
	assert.InDelta(t, 100, sample.CPUPercent, 0.0001)
	assert.InDelta(t, 60, sample.MemoryPercent, 0.0001)
	// First network observation has no previous sample to compare against.
	assert.Equal(t, 0.0, sample.NetworkPercent)
}

func TestComputeResourceSample_RejectsNonPositiveDelta(t *testing.T) {
	state := NewWorkerState()
	t0 := time.Now()
	a := runtime.Sample{At: t0}
	b := runtime.Sample{At: t0}

	_, err := ComputeResourceSample(state, a, b)
	assert.Error(t, err)
}

func TestScore_NoProbeForcesZeroAvailability(t *testing.T) {
	state := NewWorkerState()
	resource := ResourceSample{CPUPercent: 0, MemoryPercent: 0, NetworkPercent: 0}

	score, category := Score(state, resource, 0, false)

	// overall = 0.35*100 + 0.25*100 + 0.15*100 + 0.25*0 = 75
	assert.InDelta(t, 75, score, 0.001)
	assert.Equal(t, types.CategoryLU, category)
}

func TestScore_HealthyWorkerCategorizesLU(t *testing.T) {
	state := NewWorkerState()
	for i := 0; i < 5; i++ {
		state.Observe(0.01)
	}
	resource := ResourceSample{CPUPercent: 5, MemoryPercent: 10, NetworkPercent: 0}

	score, category := Score(state, resource, 0.01, true)

	assert.Greater(t, score, 70.0)
	assert.Equal(t, types.CategoryLU, category)
}

func TestScore_OverloadedWorkerCategorizesHU(t *testing.T) {
	state := NewWorkerState()
	for i := 0; i < 10; i++ {
		state.Observe(0.01)
	}
	// A sudden, much slower probe after a fast history pushes effective
	// well past the dynamic threshold, incurring the exponential penalty.
	resource := ResourceSample{CPUPercent: 95, MemoryPercent: 95, NetworkPercent: 90}

	score, category := Score(state, resource, 2.0, true)

	assert.Less(t, score, 40.0)
	assert.Equal(t, types.CategoryHU, category)
}

func TestWorkerState_ObserveBoundsHistoryAndBestTimes(t *testing.T) {
	state := NewWorkerState()
	for i := 0; i < HistorySize+10; i++ {
		state.Observe(0.05)
	}
	assert.LessOrEqual(t, len(state.history), HistorySize)
	assert.LessOrEqual(t, len(state.bestTimes), BestSize)
}

func TestWorkerState_ObserveNetwork_FirstSampleIsBaseline(t *testing.T) {
	state := NewWorkerState()
	pct := state.ObserveNetwork(5.0)
	assert.Equal(t, 0.0, pct)

	pct = state.ObserveNetwork(10.0)
	assert.InDelta(t, 100, pct, 0.001) // +100% over previous, clamped at 100
}
