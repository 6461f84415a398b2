// Package runtime abstracts the container runtime behind the narrow
// interface the reconciler needs: list/create/start/stop/remove/
// stats/inspect. Two implementations exist: ContainerdRuntime for
// production, and Fake for tests (per Design Notes' "pluggable
// runtime" guidance).
package runtime

import (
	"context"
	"fmt"
	"time"

	specs "github.com/opencontainers/runtime-spec/specs-go"
)

// Kind classifies a runtime failure so callers can decide whether to
// retry, drop the worker, or treat it as fatal.
type Kind int

const (
	// Unavailable means the runtime itself could not be reached.
	Unavailable Kind = iota
	// NotFound means the referenced container does not exist.
	NotFound
	// Transient means the operation may succeed if retried.
	Transient
	// Fatal means retrying will not help.
	Fatal
)

func (k Kind) String() string {
	switch k {
	case Unavailable:
		return "unavailable"
	case NotFound:
		return "not_found"
	case Transient:
		return "transient"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Error wraps a runtime failure with its Kind and the operation that
// produced it.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	return fmt.Sprintf("runtime: %s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// IsKind reports whether err is a *Error of the given kind.
func IsKind(err error, k Kind) bool {
	re, ok := err.(*Error)
	return ok && re.Kind == k
}

// CreateSpec describes a worker container to create.
type CreateSpec struct {
	Name       string
	Image      string
	Labels     map[string]string
	TargetPort int // port the process inside the container listens on
	HostPort   int // routable port assigned to this worker, [30000,40000)
	Env        []string
	Mounts     []specs.Mount // optional bind mounts (e.g. resolv.conf)
}

// Sample is one point-in-time resource reading, gathered twice per
// scoring tick (≥100ms apart) so the collector can derive deltas.
type Sample struct {
	At          time.Time
	CPUTotal    uint64 // cumulative CPU usage, nanoseconds
	CPUSystem   uint64 // cumulative system CPU usage, nanoseconds
	OnlineCPUs  uint32
	MemoryUsage uint64
	MemoryLimit uint64
	RxBytes     uint64
	TxBytes     uint64
}

// Inspection carries the network facts the metrics collector and
// reconciler need about a running worker.
type Inspection struct {
	IP      string
	Port    int
	Running bool
}

// Runtime is the abstract container runtime contract.
type Runtime interface {
	List(ctx context.Context, label string) ([]string, error)
	Create(ctx context.Context, spec CreateSpec) (id string, err error)
	Start(ctx context.Context, id string) error
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string, force bool) error
	Stats(ctx context.Context, id string, gap time.Duration) (first, second Sample, err error)
	Inspect(ctx context.Context, id string) (Inspection, error)
}
