/*
Package health provides TCP and HTTP probes. The TCPChecker is the
agent's availability probe, used by the reconciler: a 5s-timeout
dial to a worker's ingress address whose round-trip time feeds the
availability score. HTTPChecker is not used by either binary; their
own /health and /ready endpoints are served by pkg/metrics.
*/
package health
