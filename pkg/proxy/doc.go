/*
Package proxy is the balancer's request path: Server binds the public
listener and hands every accepted request to Engine, which runs
admission control, the static-asset cache short-circuit, worker
selection via pkg/dispatcher, and a retrying upstream dispatch with
exponential backoff.
*/
package proxy
