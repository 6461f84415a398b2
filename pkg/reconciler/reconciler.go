package reconciler

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/cuemby/ballast/pkg/kv"
	"github.com/cuemby/ballast/pkg/log"
	"github.com/cuemby/ballast/pkg/metrics"
	"github.com/cuemby/ballast/pkg/network"
	"github.com/cuemby/ballast/pkg/runtime"
	"github.com/cuemby/ballast/pkg/scaler"
	"github.com/cuemby/ballast/pkg/scoring"
	"github.com/cuemby/ballast/pkg/types"
)

// quiescentNetworkScore is the threshold a SUNDOWN worker's
// network_score must reach before it is actually removed.
const quiescentNetworkScore = 99.9

// statsGap is the minimum spacing between the two samples Stats takes.
const statsGap = 150 * time.Millisecond

// Config configures a Reconciler's fixed, per-app parameters.
type Config struct {
	AppID           string
	Image           string
	TargetPort      int
	DefaultReplicas int
	MaxContainers   int
	TickInterval    time.Duration // how often Tick runs; independent of the scaler's own SCALE_CHECK gate
	StopTimeout     time.Duration
}

// Reconciler drives the observed container fleet toward the desired
// state: orphan cleanup, worker creation, scoring, SUNDOWN marking and
// removal, every TickInterval. Adapted from the teacher's ticker/
// mutex/metrics-timer skeleton (reconcileNodes/reconcileContainers
// split), generalized to drive pkg/scaler as a pure decision function
// and then execute its actions against the runtime and KV store.
type Reconciler struct {
	cfg   Config
	rt    runtime.Runtime
	store kv.Store
	ports *network.Allocator
	scale *scaler.Controller
	probe ProbeFunc

	logger zerolog.Logger

	mu     sync.Mutex
	states map[string]*scoring.WorkerState // dns_name -> response-time tracking state
	latest types.FleetSnapshot

	stopCh chan struct{}
	doneCh chan struct{}
}

// ProbeFunc performs the TCP availability probe against a worker's
// ingress address, returning round-trip time and whether it
// succeeded. Injected so tests can avoid real sockets; production
// wiring uses health.TCPChecker.
type ProbeFunc func(ctx context.Context, address string) (time.Duration, bool)

// New constructs a Reconciler. ports should be pre-seeded via
// Reserve for any workers already present in store at startup.
func New(cfg Config, rt runtime.Runtime, store kv.Store, ports *network.Allocator, probe ProbeFunc) *Reconciler {
	if cfg.TickInterval == 0 {
		cfg.TickInterval = 2 * time.Second
	}
	if cfg.StopTimeout == 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	scale := scaler.NewController(cfg.DefaultReplicas)
	if cfg.MaxContainers > 0 {
		scale.MaxContainers = cfg.MaxContainers
	}
	return &Reconciler{
		cfg:    cfg,
		rt:     rt,
		store:  store,
		ports:  ports,
		scale:  scale,
		probe:  probe,
		logger: log.WithApp(cfg.AppID),
		states: make(map[string]*scoring.WorkerState),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start begins the tick loop in a goroutine.
func (r *Reconciler) Start() {
	go r.run()
}

// Stop requests the tick loop to exit and waits for it to do so.
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run() {
	defer close(r.doneCh)
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	r.logger.Info().Msg("reconciler started")

	for {
		select {
		case <-ticker.C:
			snapshot, err := r.Tick(context.Background())
			if err != nil {
				r.logger.Error().Err(err).Msg("reconciliation tick failed")
				continue
			}
			metrics.ObserveFleet(snapshot, r.currentDesired(context.Background()))
		case <-r.stopCh:
			r.logger.Info().Msg("reconciler stopped")
			return
		}
	}
}

func (r *Reconciler) currentDesired(ctx context.Context) int {
	n, err := kv.GetDesired(ctx, r.store, r.cfg.DefaultReplicas)
	if err != nil {
		return r.cfg.DefaultReplicas
	}
	return n
}

// Tick runs one reconciliation cycle: observe, clean orphans, score,
// collect quiescent SUNDOWN workers, evaluate scaling, create up to
// desired, and return the sorted resulting fleet.
func (r *Reconciler) Tick(ctx context.Context) (types.FleetSnapshot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	now := time.Now()

	observed, err := r.rt.List(ctx, r.cfg.AppID)
	if err != nil {
		return types.FleetSnapshot{}, err
	}

	kept, records := r.reapOrphans(ctx, observed)
	r.cleanStaleRecords(ctx, kept)

	desired, err := kv.GetDesired(ctx, r.store, r.cfg.DefaultReplicas)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to read desired-replica register, using default")
		desired = r.cfg.DefaultReplicas
	}

	workers := r.scoreAll(ctx, kept, records)
	workers = r.reapQuiescentSundown(ctx, workers)

	fleet := types.FleetSnapshot{Workers: workers, CreatedAt: now}
	actions, newDesired, ok := r.scale.Evaluate(now, fleet, desired)
	if ok {
		if newDesired != desired {
			if err := kv.SetDesired(ctx, r.store, newDesired); err != nil {
				r.logger.Warn().Err(err).Msg("failed to persist updated desired-replica register")
			}
			desired = newDesired
		}
		for _, action := range actions {
			if action.Kind != scaler.ActionMarkSundown {
				continue
			}
			metrics.ScaleActionsTotal.WithLabelValues("down").Inc()
			r.markSundown(ctx, workers, action.Workers)
		}
		for _, action := range actions {
			if action.Kind == scaler.ActionScaleUp {
				metrics.ScaleActionsTotal.WithLabelValues("up").Inc()
			}
		}
	}

	activeCount := 0
	for _, w := range workers {
		if w.Active() {
			activeCount++
		}
	}
	if activeCount < desired {
		created := r.createWorkers(ctx, desired-activeCount)
		workers = append(workers, created...)
	}

	result := types.FleetSnapshot{Workers: workers, CreatedAt: now}
	result.Workers = result.Sorted()
	r.latest = result
	return result, nil
}

// Latest returns the most recently computed fleet snapshot, or a zero
// snapshot before the first Tick has run. Safe to call concurrently
// with Tick; used as the state publisher's SnapshotFunc.
func (r *Reconciler) Latest() types.FleetSnapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.latest
}

// markSundown transitions the named workers to SUNDOWN both in the
// in-memory slice being built for this tick and, authoritatively, in
// their KV record.
func (r *Reconciler) markSundown(ctx context.Context, workers []types.Worker, names []string) {
	victims := make(map[string]bool, len(names))
	for _, n := range names {
		victims[n] = true
	}
	for i := range workers {
		if !victims[workers[i].DNSName] {
			continue
		}
		workers[i].Category = types.CategorySundown
		key := kv.ContainerKey(r.cfg.AppID, workers[i].DNSName)
		rec, ok, err := kv.GetContainerRecord(ctx, r.store, key)
		if err != nil || !ok {
			continue
		}
		rec.Category = types.CategorySundown
		if err := kv.PutContainerRecord(ctx, r.store, key, rec); err != nil {
			r.logger.Warn().Err(err).Str("worker", workers[i].DNSName).Msg("failed to persist SUNDOWN transition")
		}
	}
}

// reapOrphans stops and removes any observed container missing its KV
// record, returning the surviving names and their records.
func (r *Reconciler) reapOrphans(ctx context.Context, observed []string) ([]string, map[string]kv.ContainerRecord) {
	kept := make([]string, 0, len(observed))
	records := make(map[string]kv.ContainerRecord, len(observed))

	for _, name := range observed {
		key := kv.ContainerKey(r.cfg.AppID, name)
		rec, ok, err := kv.GetContainerRecord(ctx, r.store, key)
		if err != nil {
			r.logger.Warn().Err(err).Str("worker", name).Msg("failed to read worker record, skipping this tick")
			kept = append(kept, name)
			continue
		}
		if !ok {
			r.logger.Info().Str("worker", name).Msg("worker has no KV record, stopping and removing")
			if err := r.rt.Stop(ctx, name, r.cfg.StopTimeout); err != nil {
				r.logger.Warn().Err(err).Str("worker", name).Msg("failed to stop orphaned worker")
			}
			if err := r.rt.Remove(ctx, name, true); err != nil {
				r.logger.Warn().Err(err).Str("worker", name).Msg("failed to remove orphaned worker")
			}
			continue
		}
		kept = append(kept, name)
		records[name] = rec
	}
	return kept, records
}

// cleanStaleRecords deletes per-worker KV records whose key is not
// among the survivors (orphan cleanup in the other direction: records
// pointing at containers that no longer exist).
func (r *Reconciler) cleanStaleRecords(ctx context.Context, kept []string) {
	valid := make(map[string]bool, len(kept))
	for _, name := range kept {
		valid[kv.ContainerKey(r.cfg.AppID, name)] = true
	}

	keys, err := kv.ListContainerKeys(ctx, r.store)
	if err != nil {
		r.logger.Warn().Err(err).Msg("failed to list worker records for orphan cleanup")
		return
	}
	for _, key := range keys {
		if !valid[key] {
			if err := kv.DeleteContainerRecord(ctx, r.store, key); err != nil {
				r.logger.Warn().Err(err).Str("key", key).Msg("failed to delete orphaned worker record")
			}
		}
	}
}

// scoreAll rescoring every worker that survived into this tick with a
// persisted record, except SUNDOWN workers which stay put once marked.
// A worker read back with category INIT was created on an earlier
// tick and is scored here same as any other, the one required
// transition out of INIT; a worker just created this same tick never
// reaches scoreAll at all (createWorkers appends it to the fleet
// after scoreAll returns). A scoring failure for one worker is logged
// and the worker is kept at its last known score rather than blocking
// the rest of the tick.
func (r *Reconciler) scoreAll(ctx context.Context, names []string, records map[string]kv.ContainerRecord) []types.Worker {
	workers := make([]types.Worker, 0, len(names))

	for _, name := range names {
		rec := records[name]

		if rec.Category == types.CategorySundown {
			workers = append(workers, types.Worker{DNSName: name, Score: rec.Score, Category: rec.Category, Port: rec.Port})
			continue
		}

		score, category, err := r.scoreOne(ctx, name, rec)
		if err != nil {
			r.logger.Warn().Err(err).Str("worker", name).Msg("scoring failed, keeping previous score")
			workers = append(workers, types.Worker{DNSName: name, Score: rec.Score, Category: rec.Category, Port: rec.Port})
			continue
		}

		key := kv.ContainerKey(r.cfg.AppID, name)
		rec.Category, rec.Score = category, score
		if err := kv.PutContainerRecord(ctx, r.store, key, rec); err != nil {
			r.logger.Warn().Err(err).Str("worker", name).Msg("failed to persist updated score")
		}
		workers = append(workers, types.Worker{DNSName: name, Score: score, Category: category, Port: rec.Port})
	}
	return workers
}

func (r *Reconciler) scoreOne(ctx context.Context, name string, rec kv.ContainerRecord) (float64, types.Category, error) {
	state := r.stateFor(name)

	first, second, err := r.rt.Stats(ctx, name, statsGap)
	if err != nil {
		return 0, "", err
	}
	resource, err := scoring.ComputeResourceSample(state, first, second)
	if err != nil {
		return 0, "", err
	}

	insp, err := r.rt.Inspect(ctx, name)
	rtSeconds, ok := 0.0, false
	if err == nil && insp.IP != "" {
		rtt, probed := r.probe(ctx, insp.IP+":"+strconv.Itoa(insp.Port))
		if probed {
			rtSeconds, ok = rtt.Seconds(), true
			state.Observe(rtSeconds)
		}
	}
	if !ok {
		metrics.ProbeFailures.Inc()
	}

	score, category := scoring.Score(state, resource, rtSeconds, ok)
	return score, category, nil
}

// reapQuiescentSundown removes SUNDOWN workers whose network_score has
// reached the quiescence threshold (or whose status can no longer be
// read at all), purging their KV record, and returns the remaining
// workers unchanged.
func (r *Reconciler) reapQuiescentSundown(ctx context.Context, workers []types.Worker) []types.Worker {
	kept := make([]types.Worker, 0, len(workers))
	for _, w := range workers {
		if w.Category != types.CategorySundown {
			kept = append(kept, w)
			continue
		}

		remove := false
		first, second, err := r.rt.Stats(ctx, w.DNSName, statsGap)
		if err != nil {
			remove = true
		} else {
			state := r.stateFor(w.DNSName)
			resource, err := scoring.ComputeResourceSample(state, first, second)
			if err != nil || 100-resource.NetworkPercent >= quiescentNetworkScore {
				remove = true
			}
		}

		if !remove {
			kept = append(kept, w)
			continue
		}

		r.logger.Info().Str("worker", w.DNSName).Msg("removing quiescent SUNDOWN worker")
		if err := r.rt.Stop(ctx, w.DNSName, r.cfg.StopTimeout); err != nil {
			r.logger.Warn().Err(err).Str("worker", w.DNSName).Msg("failed to stop SUNDOWN worker")
		}
		if err := r.rt.Remove(ctx, w.DNSName, true); err != nil {
			r.logger.Warn().Err(err).Str("worker", w.DNSName).Msg("failed to remove SUNDOWN worker")
		}
		if err := kv.DeleteContainerRecord(ctx, r.store, kv.ContainerKey(r.cfg.AppID, w.DNSName)); err != nil {
			r.logger.Warn().Err(err).Str("worker", w.DNSName).Msg("failed to delete SUNDOWN worker record")
		}
		r.ports.Release(w.Port)
		delete(r.states, w.DNSName)
	}
	return kept
}

// createWorkers creates up to n new workers (fewer if port allocation
// fails partway through) with category INIT, score 100.
func (r *Reconciler) createWorkers(ctx context.Context, n int) []types.Worker {
	created := make([]types.Worker, 0, n)
	for i := 0; i < n; i++ {
		name := "worker-" + strings.ReplaceAll(uuid.New().String(), "-", "")[:8]

		port, err := r.ports.Allocate(name)
		if err != nil {
			r.logger.Error().Err(err).Msg("failed to allocate port for new worker")
			break
		}

		spec := runtime.CreateSpec{
			Name:       name,
			Image:      r.cfg.Image,
			Labels:     map[string]string{r.cfg.AppID: "true"},
			TargetPort: r.cfg.TargetPort,
			HostPort:   port,
		}
		if _, err := r.rt.Create(ctx, spec); err != nil {
			metrics.ContainersCreateFailed.Inc()
			r.logger.Error().Err(err).Str("worker", name).Msg("failed to create worker, will retry next tick")
			r.ports.Release(port)
			continue
		}
		if err := r.rt.Start(ctx, name); err != nil {
			metrics.ContainersCreateFailed.Inc()
			r.logger.Error().Err(err).Str("worker", name).Msg("failed to start worker, will retry next tick")
			continue
		}

		rec := kv.ContainerRecord{Category: types.CategoryInit, Score: 100, Port: port, Image: r.cfg.Image}
		if err := kv.PutContainerRecord(ctx, r.store, kv.ContainerKey(r.cfg.AppID, name), rec); err != nil {
			r.logger.Warn().Err(err).Str("worker", name).Msg("failed to persist new worker record")
		}

		metrics.ContainersCreated.Inc()
		created = append(created, types.Worker{DNSName: name, Score: 100, Category: types.CategoryInit, Port: port})
	}
	return created
}

func (r *Reconciler) stateFor(name string) *scoring.WorkerState {
	s, ok := r.states[name]
	if !ok {
		s = scoring.NewWorkerState()
		r.states[name] = s
	}
	return s
}
