package metrics

import "github.com/cuemby/ballast/pkg/types"

// ObserveFleet updates the fleet gauges from the latest reconciled
// snapshot. Called by the reconciler at the end of each tick rather
// than on its own ticker, since the reconciler already owns the tick
// cadence for this process.
func ObserveFleet(snapshot types.FleetSnapshot, desired int) {
	counts := map[types.Category]int{}
	for _, w := range snapshot.Workers {
		counts[w.Category]++
		WorkerScore.WithLabelValues(w.DNSName).Set(w.Score)
	}
	for _, cat := range []types.Category{types.CategoryInit, types.CategoryLU, types.CategoryMU, types.CategoryHU, types.CategorySundown} {
		WorkersTotal.WithLabelValues(string(cat)).Set(float64(counts[cat]))
	}
	DesiredReplicas.Set(float64(desired))
}
