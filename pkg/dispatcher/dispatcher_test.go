package dispatcher

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/ballast/pkg/types"
)

type fakeSource struct {
	snapshot types.FleetSnapshot
}

func (f *fakeSource) Snapshot() types.FleetSnapshot { return f.snapshot }

func TestPick_ExcludesSundownWorkers(t *testing.T) {
	src := &fakeSource{snapshot: types.FleetSnapshot{
		CreatedAt: time.Now(),
		Workers: []types.Worker{
			{DNSName: "w1", Score: 80, Category: types.CategoryLU},
			{DNSName: "w2", Score: 99, Category: types.CategorySundown},
		},
	}}
	d := New(src)

	for i := 0; i < 50; i++ {
		w, err := d.Pick()
		require.NoError(t, err)
		assert.Equal(t, "w1", w.DNSName)
	}
}

func TestPick_NoEligibleWorkersReturnsError(t *testing.T) {
	src := &fakeSource{snapshot: types.FleetSnapshot{CreatedAt: time.Now()}}
	d := New(src)

	_, err := d.Pick()
	assert.ErrorIs(t, err, ErrNoWorkers)
}

func TestPick_WeightedDistributionConvergesWithinTolerance(t *testing.T) {
	src := &fakeSource{snapshot: types.FleetSnapshot{
		CreatedAt: time.Now(),
		Workers: []types.Worker{
			{DNSName: "w1", Score: 90, Category: types.CategoryLU},
			{DNSName: "w2", Score: 10, Category: types.CategoryHU},
		},
	}}
	d := New(src)

	const draws = 100_000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		w, err := d.Pick()
		require.NoError(t, err)
		counts[w.DNSName]++
	}

	w1Frac := float64(counts["w1"]) / float64(draws)
	assert.InDelta(t, 0.9, w1Frac, 0.03)
}

func TestPick_ZeroWeightsPicksUniformly(t *testing.T) {
	src := &fakeSource{snapshot: types.FleetSnapshot{
		CreatedAt: time.Now(),
		Workers: []types.Worker{
			{DNSName: "w1", Score: 0, Category: types.CategoryHU},
			{DNSName: "w2", Score: 0, Category: types.CategoryHU},
		},
	}}
	d := New(src)

	counts := map[string]int{}
	for i := 0; i < 2000; i++ {
		w, err := d.Pick()
		require.NoError(t, err)
		counts[w.DNSName]++
	}
	assert.Greater(t, counts["w1"], 700)
	assert.Greater(t, counts["w2"], 700)
}

func TestPick_OutOfRangeScoreFallsBackToDefaultWeight(t *testing.T) {
	src := &fakeSource{snapshot: types.FleetSnapshot{
		CreatedAt: time.Now(),
		Workers: []types.Worker{
			{DNSName: "w1", Score: 150, Category: types.CategoryLU},
		},
	}}
	d := New(src)

	w, err := d.Pick()
	require.NoError(t, err)
	assert.Equal(t, "w1", w.DNSName)
	assert.Equal(t, 1.0, weightOf(src.snapshot.Workers[0]))
}

func TestPick_SingleWorkerShortCircuits(t *testing.T) {
	src := &fakeSource{snapshot: types.FleetSnapshot{
		CreatedAt: time.Now(),
		Workers: []types.Worker{
			{DNSName: "only", Score: 42, Category: types.CategoryMU},
		},
	}}
	d := New(src)

	w, err := d.Pick()
	require.NoError(t, err)
	assert.Equal(t, "only", w.DNSName)
}
