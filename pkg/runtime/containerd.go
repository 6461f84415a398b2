package runtime

import (
	"context"
	"fmt"
	"net"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	cgroupstats "github.com/containerd/cgroups/stats/v1"
	"github.com/containerd/typeurl/v2"
)

// ContainerdRuntime implements Runtime against a local containerd
// socket. Adapted from the lower-level container lifecycle client
// this codebase already carried, generalized behind the narrow
// Runtime interface and extended with Stats/Inspect.
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime connects to containerd at socketPath within
// namespace (both configured, not hardcoded, per the ambient config).
func NewContainerdRuntime(socketPath, namespace string) (*ContainerdRuntime, error) {
	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, &Error{Kind: Unavailable, Op: "connect", Err: err}
	}
	return &ContainerdRuntime{client: client, namespace: namespace}, nil
}

func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

func (r *ContainerdRuntime) ctx(ctx context.Context) context.Context {
	return namespaces.WithNamespace(ctx, r.namespace)
}

// pullImage retries transient failures (registry hiccups, rate
// limits) up to 3 times with exponential backoff starting at 5s, per
// the runtime adapter's retry policy.
func (r *ContainerdRuntime) pullImage(ctx context.Context, imageRef string) error {
	ctx = r.ctx(ctx)
	op := func() error {
		_, err := r.client.Pull(ctx, imageRef, containerd.WithPullUnpack)
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	bo.MaxElapsedTime = 0
	boCtx := backoff.WithMaxRetries(bo, 2) // 3 total attempts
	if err := backoff.Retry(op, backoff.WithContext(boCtx, ctx)); err != nil {
		return &Error{Kind: Transient, Op: "pull", Err: err}
	}
	return nil
}

func (r *ContainerdRuntime) List(ctx context.Context, label string) ([]string, error) {
	ctx = r.ctx(ctx)
	var filter string
	if label != "" {
		filter = fmt.Sprintf("labels.%q", label)
	}
	containers, err := r.client.Containers(ctx, filter)
	if err != nil {
		return nil, &Error{Kind: Unavailable, Op: "list", Err: err}
	}
	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}

func (r *ContainerdRuntime) Create(ctx context.Context, spec CreateSpec) (string, error) {
	if err := r.pullImage(ctx, spec.Image); err != nil {
		return "", err
	}
	ctx = r.ctx(ctx)

	image, err := r.client.GetImage(ctx, spec.Image)
	if err != nil {
		return "", &Error{Kind: Transient, Op: "get_image", Err: err}
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(spec.Env),
	}
	if len(spec.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(spec.Mounts))
	}

	var createErr error
	createOp := func() error {
		_, err := r.client.NewContainer(
			ctx,
			spec.Name,
			containerd.WithImage(image),
			containerd.WithNewSnapshot(spec.Name+"-snapshot", image),
			containerd.WithNewSpec(opts...),
			containerd.WithContainerLabels(spec.Labels),
		)
		createErr = err
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 5 * time.Second
	boCtx := backoff.WithMaxRetries(bo, 2)
	if err := backoff.Retry(createOp, backoff.WithContext(boCtx, ctx)); err != nil {
		return "", &Error{Kind: Transient, Op: "create", Err: createErr}
	}
	return spec.Name, nil
}

func (r *ContainerdRuntime) Start(ctx context.Context, id string) error {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return &Error{Kind: NotFound, Op: "start", Err: err}
	}
	task, err := container.NewTask(ctx, cio.NullIO)
	if err != nil {
		return &Error{Kind: Transient, Op: "start", Err: err}
	}
	if err := task.Start(ctx); err != nil {
		return &Error{Kind: Transient, Op: "start", Err: err}
	}
	return nil
}

func (r *ContainerdRuntime) Stop(ctx context.Context, id string, timeout time.Duration) error {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return &Error{Kind: NotFound, Op: "stop", Err: err}
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container is already stopped.
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		return &Error{Kind: Transient, Op: "stop", Err: err}
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return &Error{Kind: Transient, Op: "stop", Err: err}
	}

	select {
	case <-statusC:
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil {
			return &Error{Kind: Fatal, Op: "stop", Err: err}
		}
	}

	if _, err := task.Delete(ctx); err != nil {
		return &Error{Kind: Transient, Op: "stop", Err: err}
	}
	return nil
}

func (r *ContainerdRuntime) Remove(ctx context.Context, id string, force bool) error {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		// Already gone; removal is idempotent.
		return nil
	}
	if force {
		_ = r.Stop(ctx, id, 10*time.Second)
	}
	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return &Error{Kind: Transient, Op: "remove", Err: err}
	}
	return nil
}

// Stats takes two cgroup metric samples gap apart, per the metrics
// collector's requirement of ≥100ms between samples.
func (r *ContainerdRuntime) Stats(ctx context.Context, id string, gap time.Duration) (Sample, Sample, error) {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return Sample{}, Sample{}, &Error{Kind: NotFound, Op: "stats", Err: err}
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return Sample{}, Sample{}, &Error{Kind: Transient, Op: "stats", Err: err}
	}

	first, err := sampleTask(ctx, task)
	if err != nil {
		return Sample{}, Sample{}, err
	}
	time.Sleep(gap)
	second, err := sampleTask(ctx, task)
	if err != nil {
		return Sample{}, Sample{}, err
	}
	return first, second, nil
}

func sampleTask(ctx context.Context, task containerd.Task) (Sample, error) {
	metric, err := task.Metrics(ctx)
	if err != nil {
		return Sample{}, &Error{Kind: Transient, Op: "metrics", Err: err}
	}
	data, err := typeurl.UnmarshalAny(metric.Data)
	if err != nil {
		return Sample{}, &Error{Kind: Transient, Op: "metrics_decode", Err: err}
	}
	m, ok := data.(*cgroupstats.Metrics)
	if !ok {
		return Sample{}, &Error{Kind: Fatal, Op: "metrics_decode", Err: fmt.Errorf("unexpected metrics type %T", data)}
	}

	s := Sample{At: time.Now()}
	if m.CPU != nil && m.CPU.Usage != nil {
		s.CPUTotal = m.CPU.Usage.Total
		s.OnlineCPUs = uint32(len(m.CPU.Usage.PerCPU))
	}
	if m.Memory != nil && m.Memory.Usage != nil {
		s.MemoryUsage = m.Memory.Usage.Usage
		s.MemoryLimit = m.Memory.Usage.Limit
	}
	for _, n := range m.Network {
		s.RxBytes += n.RxBytes
		s.TxBytes += n.TxBytes
	}
	return s, nil
}

func (r *ContainerdRuntime) Inspect(ctx context.Context, id string) (Inspection, error) {
	ctx = r.ctx(ctx)
	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return Inspection{}, &Error{Kind: NotFound, Op: "inspect", Err: err}
	}
	task, err := container.Task(ctx, nil)
	if err != nil {
		return Inspection{Running: false}, nil
	}
	status, err := task.Status(ctx)
	if err != nil {
		return Inspection{}, &Error{Kind: Transient, Op: "inspect", Err: err}
	}
	running := status.Status == containerd.Running
	ip, ipErr := containerIP(ctx, task.Pid())
	if ipErr != nil {
		ip = ""
	}
	return Inspection{IP: ip, Running: running}, nil
}

// containerIP shells out to nsenter+ip to read the container's eth0
// address from its network namespace; containerd exposes no simpler
// API for this on the runc shim.
func containerIP(ctx context.Context, pid uint32) (string, error) {
	if pid == 0 {
		return "", fmt.Errorf("container has no pid")
	}
	cmd := exec.CommandContext(ctx, "nsenter", "-t", fmt.Sprintf("%d", pid), "-n", "ip", "-4", "addr", "show", "eth0")
	output, err := cmd.CombinedOutput()
	if err != nil {
		return "", fmt.Errorf("nsenter ip: %w (output: %s)", err, string(output))
	}
	for _, line := range strings.Split(string(output), "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "inet ") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) < 2 {
			continue
		}
		ip, _, err := net.ParseCIDR(fields[1])
		if err != nil {
			return "", fmt.Errorf("parse ip %s: %w", fields[1], err)
		}
		return ip.String(), nil
	}
	return "", fmt.Errorf("no inet address found on eth0")
}
