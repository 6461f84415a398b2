/*
Package metrics defines the Prometheus metrics exposed by both
binaries and a Timer helper for recording operation durations. Fleet
gauges (worker counts by category, desired replicas, per-worker score)
are updated by ObserveFleet at the end of each reconciler tick;
everything else is updated inline by the component that owns it
(reconciler, proxy, state-sync; the proxy also updates the cache
metrics).
*/
package metrics
