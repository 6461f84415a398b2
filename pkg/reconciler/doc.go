/*
Package reconciler drives the observed worker fleet toward the
desired state every tick: reap orphaned containers and stale KV
records, score active workers, remove quiescent SUNDOWN workers,
evaluate the scaling controller (pkg/scaler), and create new workers
to close any gap against the desired-replica register. Tick returns
the resulting sorted fleet snapshot, which the agent's state publisher
(pkg/statesync) pushes to subscribers.
*/
package reconciler
