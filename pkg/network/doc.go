/*
Package network allocates host ports in [30000,40000) for newly
created workers. Used by the reconciler (pkg/reconciler) at worker
creation time; Reserve rebuilds allocator state from persisted
container records so a restarted agent does not double-assign a port
still held by a running worker.
*/
package network
