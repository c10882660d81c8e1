package runtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	cerrdefs "github.com/containerd/errdefs"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	"github.com/ashita-ai/botfleet/internal/model"
)

// DockerConfig configures the Docker-backed Client.
type DockerConfig struct {
	// Host overrides DOCKER_HOST. Empty uses the environment / default socket.
	Host string

	// StopTimeout is how long the engine waits after SIGTERM before killing
	// the container. Keep it below the caller's per-call timeout.
	StopTimeout time.Duration
}

// Docker implements Client against a local Docker Engine.
type Docker struct {
	cli         *client.Client
	stopTimeout int
}

var _ Client = (*Docker)(nil)

// NewDocker connects to the Docker Engine. Connection is lazy: an unreachable
// daemon surfaces on the first call, not here.
func NewDocker(cfg DockerConfig) (*Docker, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if cfg.Host != "" {
		opts = append(opts, client.WithHost(cfg.Host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("runtime: docker client: %w", err)
	}
	timeout := int(cfg.StopTimeout.Seconds())
	if timeout <= 0 {
		timeout = 5
	}
	return &Docker{cli: cli, stopTimeout: timeout}, nil
}

// Close releases the underlying HTTP transport.
func (d *Docker) Close() error {
	return d.cli.Close()
}

func (d *Docker) Ping(ctx context.Context) error {
	_, err := d.cli.Ping(ctx)
	return classify("ping", err)
}

func (d *Docker) ListContainers(ctx context.Context, f ListFilter) ([]ContainerSummary, error) {
	args := filters.NewArgs()
	if f.NamePrefix != "" {
		args.Add("name", "^/"+f.NamePrefix)
	}
	for k, v := range f.Labels {
		args.Add("label", k+"="+v)
	}
	list, err := d.cli.ContainerList(ctx, container.ListOptions{All: true, Filters: args})
	if err != nil {
		return nil, classify("list", err)
	}

	out := make([]ContainerSummary, 0, len(list))
	for _, c := range list {
		name := primaryName(c.Names)
		// The engine's name filter is a regexp match; enforce the prefix exactly.
		if f.NamePrefix != "" && !strings.HasPrefix(name, f.NamePrefix) {
			continue
		}
		out = append(out, ContainerSummary{
			ID:      c.ID,
			Name:    name,
			Image:   c.Image,
			State:   string(c.State),
			Status:  c.Status,
			Labels:  c.Labels,
			Created: time.Unix(c.Created, 0).UTC(),
		})
	}
	return out, nil
}

func (d *Docker) CreateContainer(ctx context.Context, spec ContainerSpec) (string, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Cmd:        spec.Cmd,
		Env:        spec.Env,
		WorkingDir: spec.WorkingDir,
		Labels:     spec.Labels,
	}
	hostCfg := &container.HostConfig{Binds: spec.Binds}

	if spec.Port > 0 {
		port, err := nat.NewPort("tcp", strconv.Itoa(spec.Port))
		if err != nil {
			return "", fmt.Errorf("runtime: create %s: %w", spec.Name, err)
		}
		cfg.ExposedPorts = nat.PortSet{port: struct{}{}}
		hostCfg.PortBindings = nat.PortMap{
			port: []nat.PortBinding{{HostPort: strconv.Itoa(spec.Port)}},
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		return "", classify("create "+spec.Name, err)
	}
	return resp.ID, nil
}

func (d *Docker) Start(ctx context.Context, id string) error {
	return classify("start", d.cli.ContainerStart(ctx, id, container.StartOptions{}))
}

func (d *Docker) Stop(ctx context.Context, id string) error {
	timeout := d.stopTimeout
	return classify("stop", d.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeout}))
}

func (d *Docker) Restart(ctx context.Context, id string) error {
	timeout := d.stopTimeout
	return classify("restart", d.cli.ContainerRestart(ctx, id, container.StopOptions{Timeout: &timeout}))
}

func (d *Docker) Remove(ctx context.Context, id string) error {
	return classify("remove", d.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}))
}

func (d *Docker) Stats(ctx context.Context, id string) (model.ResourceStats, error) {
	resp, err := d.cli.ContainerStats(ctx, id, false)
	if err != nil {
		return model.ResourceStats{}, classify("stats", err)
	}
	defer func() { _ = resp.Body.Close() }()

	var raw container.StatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return model.ResourceStats{}, fmt.Errorf("runtime: stats: decode: %w", err)
	}
	return toResourceStats(raw), nil
}

func (d *Docker) Logs(ctx context.Context, id string, tail int) (io.ReadCloser, error) {
	opts := container.LogsOptions{
		ShowStdout: true,
		ShowStderr: true,
		Timestamps: true,
	}
	if tail > 0 {
		opts.Tail = strconv.Itoa(tail)
	}
	rc, err := d.cli.ContainerLogs(ctx, id, opts)
	if err != nil {
		return nil, classify("logs", err)
	}

	// Containers are created without a TTY, so the stream is multiplexed.
	pr, pw := io.Pipe()
	go func() {
		_, err := stdcopy.StdCopy(pw, pw, rc)
		_ = rc.Close()
		_ = pw.CloseWithError(err)
	}()
	return pr, nil
}

// toResourceStats reduces an engine stats sample to the fields the dashboard
// shows. CPU percent uses the same delta formula as `docker stats`.
func toResourceStats(s container.StatsResponse) model.ResourceStats {
	out := model.ResourceStats{
		MemoryBytes: s.MemoryStats.Usage,
		MemoryLimit: s.MemoryStats.Limit,
		ReadAt:      s.Read,
	}
	// Page cache is reclaimable and excluded, matching the CLI.
	if inactive, ok := s.MemoryStats.Stats["inactive_file"]; ok && inactive < out.MemoryBytes {
		out.MemoryBytes -= inactive
	} else if cache, ok := s.MemoryStats.Stats["cache"]; ok && cache < out.MemoryBytes {
		out.MemoryBytes -= cache
	}

	cpuDelta := float64(s.CPUStats.CPUUsage.TotalUsage) - float64(s.PreCPUStats.CPUUsage.TotalUsage)
	sysDelta := float64(s.CPUStats.SystemUsage) - float64(s.PreCPUStats.SystemUsage)
	cpus := float64(s.CPUStats.OnlineCPUs)
	if cpus == 0 {
		cpus = float64(len(s.CPUStats.CPUUsage.PercpuUsage))
	}
	if cpuDelta > 0 && sysDelta > 0 {
		out.CPUPercent = cpuDelta / sysDelta * cpus * 100
	}

	for _, n := range s.Networks {
		out.NetworkRxByte += n.RxBytes
		out.NetworkTxByte += n.TxBytes
	}
	return out
}

func primaryName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}

// classify maps engine errors onto the package sentinels while keeping the
// original error in the chain. Context errors pass through untouched so
// callers can tell a deadline from an engine failure.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return fmt.Errorf("runtime: %s: %w", op, err)
	case cerrdefs.IsNotFound(err):
		return fmt.Errorf("%w: %s: %w", ErrNotFound, op, err)
	case cerrdefs.IsPermissionDenied(err), cerrdefs.IsUnauthorized(err):
		return fmt.Errorf("%w: %s: %w", ErrPermissionDenied, op, err)
	case client.IsErrConnectionFailed(err), cerrdefs.IsUnavailable(err):
		return fmt.Errorf("%w: %s: %w", ErrUnreachable, op, err)
	default:
		return fmt.Errorf("runtime: %s: %w", op, err)
	}
}
