/*
Package runtime abstracts the container runtime behind list/create/
start/stop/remove/stats/inspect, with two implementations:
ContainerdRuntime (production, backed by containerd) and Fake (tests).

All containers live in a single configured namespace. Create and image
pull retry transient failures up to 3 times with exponential backoff
starting at 5s; every other failure is classified into a Kind
(Unavailable, NotFound, Transient, Fatal) so the reconciler can decide
whether to retry now, drop the worker, or wait for the next tick.
*/
package runtime
