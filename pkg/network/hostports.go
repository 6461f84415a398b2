package network

import (
	"fmt"
	"math/rand/v2"
	"sync"
)

// Allocator hands out host ports in [Min, Max) for newly created
// workers, tracking which ports are currently claimed so concurrent
// reconciler ticks never double-assign one. Adapted from the port
// publisher this package previously implemented via iptables DNAT:
// the same per-worker claim-tracking shape is kept (a map from port to
// owner, guarded by a mutex), but since workers are reached directly
// at dns_name:port rather than through host-level NAT, there is
// nothing to publish — only a free port to pick.
type Allocator struct {
	mu    sync.Mutex
	inUse map[int]string // port -> worker name
	Min   int
	Max   int
}

// NewAllocator returns an Allocator drawing from [30000, 40000).
func NewAllocator() *Allocator {
	return &Allocator{
		inUse: make(map[int]string),
		Min:   30000,
		Max:   40000,
	}
}

// Reserve claims a specific port for worker, used to rebuild the
// allocator's state from persisted container records at startup so a
// restarted reconciler does not hand the same port out twice.
func (a *Allocator) Reserve(port int, worker string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.inUse[port] = worker
}

// Allocate picks a free port for worker. It retries a bounded number
// of random draws rather than scanning the whole range, since the
// range is large relative to MAX_CONTAINERS.
func (a *Allocator) Allocate(worker string) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	span := a.Max - a.Min
	for attempt := 0; attempt < 1000; attempt++ {
		port := a.Min + rand.IntN(span)
		if _, taken := a.inUse[port]; taken {
			continue
		}
		a.inUse[port] = worker
		return port, nil
	}
	return 0, fmt.Errorf("network: no free port in [%d,%d) for %s", a.Min, a.Max, worker)
}

// Release frees port, e.g. once its worker has been removed.
func (a *Allocator) Release(port int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.inUse, port)
}
