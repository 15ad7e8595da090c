package runtime

import (
	"context"
	"fmt"
	"io"
	"sort"
	"syscall"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/contrib/nvidia"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	"github.com/containerd/errdefs"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	"github.com/minicloud/minicloud/pkg/log"
)

const (
	// DefaultNamespace is the containerd namespace for MiniCloud
	DefaultNamespace = "minicloud"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"

	// cfsPeriod is the CPU CFS scheduling period in microseconds
	cfsPeriod = 100000
)

// Mount is a host directory mounted into the container
type Mount struct {
	Source   string
	Target   string
	ReadOnly bool
}

// Spec describes one container to run. The worker builds it from a job
// payload; the deterministic ID doubles as the redelivery guard.
type Spec struct {
	ID         string
	Image      string
	Args       []string // command ++ args; empty keeps the image entrypoint
	WorkingDir string
	Env        map[string]string
	Mounts     []Mount
	NanoCPUs   int64 // cpu_cores × 10^9
	GPU        bool  // request exactly one GPU device
	HostNet    bool  // share the host network namespace (static pages)
}

// Runtime is the container lifecycle surface the worker and the task
// operations depend on. ContainerdRuntime is the production
// implementation; tests substitute a fake.
type Runtime interface {
	// Create materializes the container and its snapshot. A second
	// create under the same id fails with an error satisfying
	// IsAlreadyExists; the caller adopts the existing container.
	Create(ctx context.Context, spec *Spec) error

	// Start runs the container, wiring stdout and stderr to output.
	Start(ctx context.Context, id string, output io.Writer) error

	// Wait blocks until the container's process exits and returns its
	// exit code.
	Wait(ctx context.Context, id string) (uint32, error)

	// Kill delivers SIGKILL to the container's process. Missing
	// containers and already-exited processes are not errors.
	Kill(ctx context.Context, id string) error

	// Remove force-removes the container: kill, delete the process,
	// delete the container with its snapshot. Tolerates absence at
	// every step.
	Remove(ctx context.Context, id string) error

	// IsRunning reports whether the container has a live process
	IsRunning(ctx context.Context, id string) (bool, error)

	Close() error
}

// IsAlreadyExists reports whether err is a name conflict from Create
func IsAlreadyExists(err error) bool {
	return errdefs.IsAlreadyExists(err)
}

// ContainerdRuntime implements Runtime using containerd
type ContainerdRuntime struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdRuntime creates a new containerd runtime client
func NewContainerdRuntime(socketPath, namespace string) (*ContainerdRuntime, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}
	if namespace == "" {
		namespace = DefaultNamespace
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdRuntime{
		client:    client,
		namespace: namespace,
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdRuntime) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Create builds the container from its spec. The image is pulled if it
// is not already present.
func (r *ContainerdRuntime) Create(ctx context.Context, spec *Spec) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, spec.Image)
	if errdefs.IsNotFound(err) {
		image, err = r.client.Pull(ctx, spec.Image, containerd.WithPullUnpack)
	}
	if err != nil {
		return fmt.Errorf("failed to get image %s: %w", spec.Image, err)
	}

	opts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(flattenEnv(spec.Env)),
	}
	if len(spec.Args) > 0 {
		opts = append(opts, oci.WithProcessArgs(spec.Args...))
	}
	if spec.WorkingDir != "" {
		opts = append(opts, oci.WithProcessCwd(spec.WorkingDir))
	}
	if len(spec.Mounts) > 0 {
		opts = append(opts, oci.WithMounts(ociMounts(spec.Mounts)))
	}
	if spec.NanoCPUs > 0 {
		// Same translation Docker applies: quota over a fixed period.
		quota := spec.NanoCPUs * cfsPeriod / 1e9
		opts = append(opts, oci.WithCPUCFS(quota, cfsPeriod))
	}
	if spec.GPU {
		opts = append(opts, nvidia.WithGPUs(
			nvidia.WithDevices(0),
			nvidia.WithCapabilities(nvidia.Compute, nvidia.Utility),
		))
	}
	if spec.HostNet {
		opts = append(opts,
			oci.WithHostNamespace(specs.NetworkNamespace),
			oci.WithHostHostsFile,
			oci.WithHostResolvconf,
		)
	}

	_, err = r.client.NewContainer(
		ctx,
		spec.ID,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(spec.ID+"-snapshot", image),
		containerd.WithNewSpec(opts...),
	)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", spec.ID, err)
	}
	return nil
}

// Start creates the container's process with its stdio attached to
// output and starts it
func (r *ContainerdRuntime) Start(ctx context.Context, id string, output io.Writer) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load container %s: %w", id, err)
	}

	task, err := container.NewTask(ctx, cio.NewCreator(cio.WithStreams(nil, output, output)))
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		return fmt.Errorf("failed to start task: %w", err)
	}
	return nil
}

// Wait blocks until the container's process exits and returns its exit
// code. Works for processes started by this client and for adopted
// containers left over from a redelivered payload.
func (r *ContainerdRuntime) Wait(ctx context.Context, id string) (uint32, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		return 0, fmt.Errorf("failed to load container %s: %w", id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to get task for %s: %w", id, err)
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to wait for %s: %w", id, err)
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return 0, fmt.Errorf("failed to read exit status of %s: %w", id, err)
		}
		return code, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Kill delivers SIGKILL to the container's process. Used by the stop
// operation; the worker then observes the non-zero exit code.
func (r *ContainerdRuntime) Kill(ctx context.Context, id string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means nothing to kill
		return nil
	}

	if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to kill %s: %w", id, err)
	}
	return nil
}

// Remove force-removes the container: kill the process if one is
// running, delete it, then delete the container with its snapshot.
// Absence at any step is fine; the cleanup guarantee only needs the
// container gone afterwards.
func (r *ContainerdRuntime) Remove(ctx context.Context, id string) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to load container %s: %w", id, err)
	}

	if task, err := container.Task(ctx, nil); err == nil {
		if _, err := task.Delete(ctx, containerd.WithProcessKill); err != nil && !errdefs.IsNotFound(err) {
			logger := log.WithContainer(id)
			logger.Warn().Err(err).Msg("failed to delete container process")
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete container %s: %w", id, err)
	}
	return nil
}

// IsRunning reports whether the container has a live process
func (r *ContainerdRuntime) IsRunning(ctx context.Context, id string) (bool, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, id)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to load container %s: %w", id, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		return false, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to get status of %s: %w", id, err)
	}
	return status.Status == containerd.Running, nil
}

// ListContainers returns the ids of all containers in the namespace
func (r *ContainerdRuntime) ListContainers(ctx context.Context) ([]string, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	ids := make([]string, 0, len(containers))
	for _, c := range containers {
		ids = append(ids, c.ID())
	}
	return ids, nil
}

// flattenEnv renders an env map as KEY=VALUE pairs in stable order
func flattenEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+env[k])
	}
	return pairs
}

func ociMounts(mounts []Mount) []specs.Mount {
	out := make([]specs.Mount, 0, len(mounts))
	for _, m := range mounts {
		options := []string{"rbind", "rw"}
		if m.ReadOnly {
			options = []string{"rbind", "ro"}
		}
		out = append(out, specs.Mount{
			Source:      m.Source,
			Destination: m.Target,
			Type:        "bind",
			Options:     options,
		})
	}
	return out
}
