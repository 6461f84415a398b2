// Package dispatcher selects a worker to serve each incoming request,
// weighted by the worker's latest score. Weights are rebuilt from the
// fleet snapshot at most once per updateInterval and also whenever a
// new snapshot is pushed in.
package dispatcher

import (
	"errors"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/cuemby/ballast/pkg/log"
	"github.com/cuemby/ballast/pkg/types"
)

const updateInterval = 10 * time.Second

// ErrNoWorkers is returned when the current fleet has no worker
// eligible for selection (empty snapshot, or every worker SUNDOWN).
var ErrNoWorkers = errors.New("dispatcher: no eligible workers")

// SnapshotSource supplies the current fleet snapshot. pkg/statesync's
// Subscriber implements this on the balancer side.
type SnapshotSource interface {
	Snapshot() types.FleetSnapshot
}

// Dispatcher picks a worker per request using weighted-random
// selection over non-SUNDOWN workers, weight = clamp01(score/100).
type Dispatcher struct {
	source SnapshotSource
	logger zerolog.Logger

	mu          sync.Mutex
	builtAt     time.Time
	snapshotAt  time.Time
	workers     []types.Worker
	cumWeights  []float64
	totalWeight float64
	zeroWeight  bool
}

// New builds a Dispatcher reading snapshots from source.
func New(source SnapshotSource) *Dispatcher {
	return &Dispatcher{source: source, logger: log.WithComponent("dispatcher")}
}

// Pick selects one eligible worker. Returns ErrNoWorkers if the fleet
// has no eligible worker.
func (d *Dispatcher) Pick() (types.Worker, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.rebuildLocked(time.Now())
	if len(d.workers) == 0 {
		return types.Worker{}, ErrNoWorkers
	}
	if len(d.workers) == 1 {
		return d.workers[0], nil
	}

	if d.zeroWeight {
		return d.workers[rand.IntN(len(d.workers))], nil
	}

	u := rand.Float64() * d.totalWeight
	idx := len(d.cumWeights) - 1
	for i, cw := range d.cumWeights {
		if cw >= u {
			idx = i
			break
		}
	}
	return d.workers[idx], nil
}

// rebuildLocked rebuilds the weight vector if the last build is stale
// (older than updateInterval) or hasn't happened yet, or if the
// source's snapshot CreatedAt differs from the one last built from.
// Callers must hold d.mu.
func (d *Dispatcher) rebuildLocked(now time.Time) {
	snapshot := d.source.Snapshot()
	stale := now.Sub(d.builtAt) >= updateInterval
	changed := !snapshot.CreatedAt.Equal(d.lastSnapshotAt())
	if !stale && !changed {
		return
	}

	eligible := make([]types.Worker, 0, len(snapshot.Workers))
	for _, w := range snapshot.Workers {
		if w.Category != types.CategorySundown {
			eligible = append(eligible, w)
		}
	}

	weights := make([]float64, len(eligible))
	total := 0.0
	for i, w := range eligible {
		if w.Score < 0 || w.Score > 100 {
			d.logger.Warn().Str("worker", w.DNSName).Float64("score", w.Score).Msg("score out of range, using default weight")
		}
		weights[i] = weightOf(w)
		total += weights[i]
	}

	cum := make([]float64, len(weights))
	running := 0.0
	for i, w := range weights {
		running += w
		cum[i] = running
	}

	d.workers = eligible
	d.cumWeights = cum
	d.totalWeight = total
	d.zeroWeight = total <= 0
	d.builtAt = now
	d.snapshotAt = snapshot.CreatedAt
}

func (d *Dispatcher) lastSnapshotAt() time.Time {
	return d.snapshotAt
}

// weightOf returns clamp01(score/100); scores outside [0,100] fall
// back to a weight of 1.0.
func weightOf(w types.Worker) float64 {
	if w.Score < 0 || w.Score > 100 {
		return 1.0
	}
	return w.Score / 100
}
