package runtime

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type fakeContainer struct {
	spec    CreateSpec
	running bool
	samples []Sample
}

// Fake is an in-memory Runtime test double. Stats are drawn from a
// caller-seeded queue (SetSamples) so scoring tests can drive exact
// CPU/memory/network scenarios without a real container runtime.
type Fake struct {
	mu         sync.Mutex
	containers map[string]*fakeContainer
	nextStats  map[string][]Sample
	FailOps    map[string]error // op name -> error to return once
}

func NewFake() *Fake {
	return &Fake{
		containers: make(map[string]*fakeContainer),
		nextStats:  make(map[string][]Sample),
		FailOps:    make(map[string]error),
	}
}

// SetSamples queues the two stats samples Stats will return for id.
func (f *Fake) SetSamples(id string, first, second Sample) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextStats[id] = []Sample{first, second}
}

func (f *Fake) takeFailure(op string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err, ok := f.FailOps[op]; ok {
		delete(f.FailOps, op)
		return err
	}
	return nil
}

func (f *Fake) List(ctx context.Context, label string) ([]string, error) {
	if err := f.takeFailure("list"); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for id, c := range f.containers {
		if label == "" || c.spec.Labels[label] != "" {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (f *Fake) Create(ctx context.Context, spec CreateSpec) (string, error) {
	if err := f.takeFailure("create"); err != nil {
		return "", err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.containers[spec.Name]; exists {
		return "", &Error{Kind: Fatal, Op: "create", Err: fmt.Errorf("container %s already exists", spec.Name)}
	}
	f.containers[spec.Name] = &fakeContainer{spec: spec}
	return spec.Name, nil
}

func (f *Fake) Start(ctx context.Context, id string) error {
	if err := f.takeFailure("start"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return &Error{Kind: NotFound, Op: "start", Err: fmt.Errorf("no such container %s", id)}
	}
	c.running = true
	return nil
}

func (f *Fake) Stop(ctx context.Context, id string, timeout time.Duration) error {
	if err := f.takeFailure("stop"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.containers[id]; ok {
		c.running = false
	}
	return nil
}

func (f *Fake) Remove(ctx context.Context, id string, force bool) error {
	if err := f.takeFailure("remove"); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.containers, id)
	return nil
}

func (f *Fake) Stats(ctx context.Context, id string, gap time.Duration) (Sample, Sample, error) {
	if err := f.takeFailure("stats"); err != nil {
		return Sample{}, Sample{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	samples, ok := f.nextStats[id]
	if !ok || len(samples) != 2 {
		return Sample{}, Sample{}, &Error{Kind: Transient, Op: "stats", Err: fmt.Errorf("no samples queued for %s", id)}
	}
	return samples[0], samples[1], nil
}

func (f *Fake) Inspect(ctx context.Context, id string) (Inspection, error) {
	if err := f.takeFailure("inspect"); err != nil {
		return Inspection{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[id]
	if !ok {
		return Inspection{}, &Error{Kind: NotFound, Op: "inspect", Err: fmt.Errorf("no such container %s", id)}
	}
	return Inspection{IP: "127.0.0.1", Port: c.spec.HostPort, Running: c.running}, nil
}
