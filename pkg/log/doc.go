/*
Package log provides structured logging shared by the balancer and the
agent, wrapping zerolog with a process-global Logger, leveled helpers,
and component/worker/app scoped child loggers.

Init must be called once at process start from the parsed
configuration (pkg/config); every other package logs through the
global Logger or a child obtained from WithComponent/WithWorker/WithApp.
*/
package log
