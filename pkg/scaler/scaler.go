/*
Package scaler implements the hysteresis-controlled scaling decision
(C5) as a pure function of the current fleet and the desired-replica
register: Evaluate never touches the runtime or the KV store itself,
it only returns the Actions the reconciler must carry out. Directly
grounded on original_source/deployment-agent/src/queue.rs's
check_and_scale_containers/can_scale/update_cooldown, restructured
from in-place mutation plus side effects into decide-then-execute so
the decision itself stays unit-testable without a runtime or Redis.
*/
package scaler

import (
	"sync"
	"time"

	"github.com/cuemby/ballast/pkg/types"
)

// Default tuning constants, overridable per Controller.
const (
	DefaultHighLoad      = 55.0
	DefaultCriticalLoad  = 20.0
	DefaultLowLoad       = 80.0
	DefaultMaxContainers = 15
	DefaultCooldown      = 5 * time.Second
	DefaultScaleCheck    = 10 * time.Second
	DefaultScaleStep     = 1
)

// ActionKind identifies what a scaling Action asks the reconciler to
// do.
type ActionKind int

const (
	// ActionScaleUp asks for Count new workers.
	ActionScaleUp ActionKind = iota
	// ActionMarkSundown asks for the named workers to be transitioned
	// to SUNDOWN.
	ActionMarkSundown
)

// Action is one instruction produced by Evaluate.
type Action struct {
	Kind    ActionKind
	Count   int      // valid for ActionScaleUp
	Workers []string // DNSName list, valid for ActionMarkSundown
}

// Controller holds the hysteresis state (last scale time, last
// evaluation time) across ticks. NewController fills in the default
// constants; in a zero value every threshold, interval and limit is 0.
// Default must be set to the fleet's baseline replica count before
// the first Evaluate call.
type Controller struct {
	HighLoad      float64
	CriticalLoad  float64
	LowLoad       float64
	MaxContainers int
	Cooldown      time.Duration
	ScaleCheck    time.Duration
	ScaleStep     int
	Default       int

	mu             sync.Mutex
	globalCooldown time.Time
	lastScaleCheck time.Time
}

// NewController returns a Controller configured with the distilled
// spec's default constants. defaultReplicas is the floor scale-down
// never crosses (the DEFAULT_CONTAINER baseline).
func NewController(defaultReplicas int) *Controller {
	return &Controller{
		HighLoad:      DefaultHighLoad,
		CriticalLoad:  DefaultCriticalLoad,
		LowLoad:       DefaultLowLoad,
		MaxContainers: DefaultMaxContainers,
		Cooldown:      DefaultCooldown,
		ScaleCheck:    DefaultScaleCheck,
		ScaleStep:     DefaultScaleStep,
		Default:       defaultReplicas,
	}
}

// Evaluate re-checks scaling if at least ScaleCheck has elapsed since
// the last evaluation, and returns the actions to take plus the
// updated desired-replica value. ok is false when the scale-check
// interval has not yet elapsed, in which case actions is nil and
// newDesired equals desired unchanged.
func (c *Controller) Evaluate(now time.Time, fleet types.FleetSnapshot, desired int) (actions []Action, newDesired int, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.lastScaleCheck.IsZero() && now.Sub(c.lastScaleCheck) < c.ScaleCheck {
		return nil, desired, false
	}
	c.lastScaleCheck = now

	active := activeWorkers(fleet)
	avgLoad := meanScore(active)
	critical := hasCritical(active, c.CriticalLoad)

	switch {
	case len(active) > 0 && len(active) < c.MaxContainers &&
		(c.globalCooldown.IsZero() || now.Sub(c.globalCooldown) >= c.Cooldown) &&
		(avgLoad < c.HighLoad || critical):

		n := c.ScaleStep
		if room := c.MaxContainers - len(active); n > room {
			n = room
		}
		if n <= 0 {
			return nil, desired, true
		}
		c.globalCooldown = now
		return []Action{{Kind: ActionScaleUp, Count: n}}, desired + n, true

	case avgLoad > c.LowLoad && len(active) > c.Default:
		toRemove := c.ScaleStep
		if room := len(active) - c.Default; toRemove > room {
			toRemove = room
		}
		if room := desired - c.Default; toRemove > room {
			toRemove = room
		}
		if toRemove <= 0 {
			return nil, desired, true
		}
		victims := highestScoring(active, toRemove)
		newDesired = desired - toRemove
		if newDesired < c.Default {
			newDesired = c.Default
		}
		return []Action{{Kind: ActionMarkSundown, Workers: victims}}, newDesired, true

	default:
		return nil, desired, true
	}
}

func activeWorkers(fleet types.FleetSnapshot) []types.Worker {
	active := make([]types.Worker, 0, len(fleet.Workers))
	for _, w := range fleet.Workers {
		if w.Active() {
			active = append(active, w)
		}
	}
	return active
}

func meanScore(workers []types.Worker) float64 {
	if len(workers) == 0 {
		return 0
	}
	var sum float64
	for _, w := range workers {
		sum += w.Score
	}
	return sum / float64(len(workers))
}

func hasCritical(workers []types.Worker, threshold float64) bool {
	for _, w := range workers {
		if w.Score < threshold {
			return true
		}
	}
	return false
}

// highestScoring returns the DNSNames of the n highest-scoring workers
// eligible for scale-down (active, i.e. neither INIT nor SUNDOWN).
func highestScoring(active []types.Worker, n int) []string {
	eligible := make([]types.Worker, 0, len(active))
	for _, w := range active {
		if w.Category == types.CategoryInit {
			continue
		}
		eligible = append(eligible, w)
	}

	// Insertion sort descending by score; fleets are small (≤ MAX_CONTAINERS).
	for i := 1; i < len(eligible); i++ {
		for j := i; j > 0 && eligible[j].Score > eligible[j-1].Score; j-- {
			eligible[j], eligible[j-1] = eligible[j-1], eligible[j]
		}
	}

	if n > len(eligible) {
		n = len(eligible)
	}
	names := make([]string, n)
	for i := 0; i < n; i++ {
		names[i] = eligible[i].DNSName
	}
	return names
}
